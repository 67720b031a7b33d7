package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

const (
	maxBasisPoints           = 10_000
	maxStrategyAllocationBps = 8_000
	maxAssetDecimals         = 36
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks addresses, weights and limits.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return invalid("config is nil")
	}
	if err := checkAddress("VaultAddress", cfg.VaultAddress, false); err != nil {
		return err
	}
	if err := checkAddress("Admin", cfg.Admin, false); err != nil {
		return err
	}
	for i, manager := range cfg.Managers {
		if err := checkAddress(fmt.Sprintf("Managers[%d]", i), manager, false); err != nil {
			return err
		}
	}
	if cfg.AssetDecimals > maxAssetDecimals {
		return invalid("AssetDecimals %d exceeds %d", cfg.AssetDecimals, maxAssetDecimals)
	}
	if _, err := cfg.DepositCapAmount(); err != nil {
		return err
	}
	if _, err := cfg.FaucetLimit(); err != nil {
		return err
	}

	seen := make(map[common.Address]struct{}, len(cfg.Strategies))
	var total uint64
	for i, s := range cfg.Strategies {
		field := fmt.Sprintf("Strategies[%d]", i)
		if err := checkAddress(field+".Address", s.Address, false); err != nil {
			return err
		}
		addr := common.HexToAddress(s.Address)
		if addr == common.HexToAddress(cfg.VaultAddress) {
			return invalid("%s.Address collides with VaultAddress", field)
		}
		if _, dup := seen[addr]; dup {
			return invalid("%s.Address %s listed twice", field, s.Address)
		}
		seen[addr] = struct{}{}
		if s.AllocationBps > maxStrategyAllocationBps {
			return invalid("%s.AllocationBps %d exceeds %d", field, s.AllocationBps, maxStrategyAllocationBps)
		}
		if s.Lockup < 0 {
			return invalid("%s.Lockup must not be negative", field)
		}
		total += s.AllocationBps
	}
	if total > maxBasisPoints {
		return invalid("strategy allocations sum to %d bps, above %d", total, maxBasisPoints)
	}

	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return invalid("Auth.HMACSecret required when Auth.Enabled")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return invalid("RateLimit values must not be negative")
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return invalid("Log rotation values must not be negative")
	}
	return nil
}

func checkAddress(field, value string, allowZero bool) error {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return invalid("%s %q is not a hex address", field, value)
	}
	if !allowZero && common.HexToAddress(trimmed) == (common.Address{}) {
		return invalid("%s must not be the zero address", field)
	}
	return nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, invalid("%s %q is not a non-negative integer", field, raw)
	}
	return amount, nil
}

// DepositCapAmount parses DepositCap. Nil means uncapped.
func (cfg *Config) DepositCapAmount() (*big.Int, error) {
	return parseAmount("DepositCap", cfg.DepositCap)
}

// FaucetLimit parses Faucet.MaxAmount. Nil means unlimited.
func (cfg *Config) FaucetLimit() (*big.Int, error) {
	return parseAmount("Faucet.MaxAmount", cfg.Faucet.MaxAmount)
}

// VaultAddr returns the parsed vault account.
func (cfg *Config) VaultAddr() common.Address { return common.HexToAddress(cfg.VaultAddress) }

// AdminAddr returns the parsed admin account.
func (cfg *Config) AdminAddr() common.Address { return common.HexToAddress(cfg.Admin) }

// ManagerAddrs returns the parsed manager accounts.
func (cfg *Config) ManagerAddrs() []common.Address {
	out := make([]common.Address, 0, len(cfg.Managers))
	for _, m := range cfg.Managers {
		out = append(out, common.HexToAddress(m))
	}
	return out
}
