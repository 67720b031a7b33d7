package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for config files that are neither TOML
// nor YAML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

const (
	defaultListenAddress   = ":8545"
	defaultDataDir         = "./vault-data"
	defaultAssetSymbol     = "USDC"
	defaultAssetDecimals   = 18
	defaultShutdownTimeout = 10 * time.Second
	defaultClockSkew       = 2 * time.Minute
)

// Load reads the configuration at path. TOML is used for .toml files (and
// paths without an extension); YAML for .yaml and .yml. A missing TOML file
// is created with the development defaults.
func Load(path string) (*Config, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	switch format {
	case "toml":
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return createDefault(path)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	case "yaml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml", "":
		return "toml", nil
	case ".yaml", ".yml":
		return "yaml", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Default returns the local development configuration: a 60/40 split between
// a liquid strategy and one with a seven day lockup.
func Default() *Config {
	cfg := &Config{
		ListenAddress: defaultListenAddress,
		DataDir:       defaultDataDir,
		Env:           "dev",
		VaultAddress:  "0x00000000000000000000000000000000000000fa",
		AssetSymbol:   defaultAssetSymbol,
		AssetDecimals: defaultAssetDecimals,
		Admin:         "0x00000000000000000000000000000000000000ad",
		Managers:      []string{},
		Strategies: []StrategyConfig{
			{Name: "liquid", Address: "0x00000000000000000000000000000000000000a1", AllocationBps: 6000},
			{Name: "locked", Address: "0x00000000000000000000000000000000000000a2", AllocationBps: 4000, Lockup: 7 * 24 * time.Hour},
		},
		Faucet:    FaucetConfig{Enabled: true},
		Log:       LogConfig{Level: "info"},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
	}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.AssetSymbol) == "" {
		cfg.AssetSymbol = defaultAssetSymbol
	}
	if cfg.AssetDecimals == 0 {
		cfg.AssetDecimals = defaultAssetDecimals
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = defaultClockSkew
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if strings.TrimSpace(cfg.JournalDSN) == "" {
		cfg.JournalDSN = filepath.Join(cfg.DataDir, "journal.db")
	}
	if cfg.Managers == nil {
		cfg.Managers = []string{}
	}
}

// createDefault writes the development defaults to path.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := Persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Persist encodes cfg as TOML at path.
func Persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
