package config

import "time"

// StrategyConfig describes a strategy registered at bootstrap.
type StrategyConfig struct {
	Name          string        `toml:"Name" yaml:"name"`
	Address       string        `toml:"Address" yaml:"address"`
	AllocationBps uint64        `toml:"AllocationBps" yaml:"allocationBps"`
	Lockup        time.Duration `toml:"Lockup" yaml:"lockup"`
	// YieldBps seeds the mock strategy's appreciation in basis points (1000 = +10%).
	YieldBps uint64 `toml:"YieldBps" yaml:"yieldBps"`
}

// FaucetConfig gates the development mint endpoint.
type FaucetConfig struct {
	Enabled bool `toml:"Enabled" yaml:"enabled"`
	// MaxAmount caps a single faucet mint, in base units.
	MaxAmount string `toml:"MaxAmount" yaml:"maxAmount"`
}

// LogConfig controls structured logging and optional file rotation.
type LogConfig struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
	Compress   bool   `toml:"Compress" yaml:"compress"`
}

// AuthConfig configures bearer token verification on the HTTP API.
type AuthConfig struct {
	Enabled    bool          `toml:"Enabled" yaml:"enabled"`
	HMACSecret string        `toml:"HMACSecret" yaml:"hmacSecret"`
	Issuer     string        `toml:"Issuer" yaml:"issuer"`
	Audience   string        `toml:"Audience" yaml:"audience"`
	ClockSkew  time.Duration `toml:"ClockSkew" yaml:"clockSkew"`
}

// RateLimitConfig bounds requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute" yaml:"requestsPerMinute"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	// SampleRatio is the fraction of root spans exported; zero keeps all.
	SampleRatio float64 `toml:"SampleRatio" yaml:"sampleRatio"`
}

// Config is the vault daemon configuration.
type Config struct {
	ListenAddress   string           `toml:"ListenAddress" yaml:"listenAddress"`
	DataDir         string           `toml:"DataDir" yaml:"dataDir"`
	Env             string           `toml:"Env" yaml:"env"`
	VaultAddress    string           `toml:"VaultAddress" yaml:"vaultAddress"`
	AssetSymbol     string           `toml:"AssetSymbol" yaml:"assetSymbol"`
	AssetDecimals   uint8            `toml:"AssetDecimals" yaml:"assetDecimals"`
	Admin           string           `toml:"Admin" yaml:"admin"`
	Managers        []string         `toml:"Managers" yaml:"managers"`
	DepositCap      string           `toml:"DepositCap" yaml:"depositCap"`
	Strategies      []StrategyConfig `toml:"Strategies" yaml:"strategies"`
	Faucet          FaucetConfig     `toml:"Faucet" yaml:"faucet"`
	Log             LogConfig        `toml:"Log" yaml:"log"`
	Auth            AuthConfig       `toml:"Auth" yaml:"auth"`
	RateLimit       RateLimitConfig  `toml:"RateLimit" yaml:"rateLimit"`
	Telemetry       TelemetryConfig  `toml:"Telemetry" yaml:"telemetry"`
	JournalDSN      string           `toml:"JournalDSN" yaml:"journalDSN"`
	ShutdownTimeout time.Duration    `toml:"ShutdownTimeout" yaml:"shutdownTimeout"`
}
