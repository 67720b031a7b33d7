package server

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"multivault/config"
	"multivault/core/events"
	"multivault/native/bank"
	"multivault/native/strategy"
	"multivault/native/vault"
	"multivault/observability/metrics"
	vaultstate "multivault/state/vault"
	"multivault/storage"
)

const (
	snapshotAsset      = "asset"
	snapshotRoles      = "roles"
	snapshotStrategies = "strategies"
)

// Options wires a Service to its collaborators.
type Options struct {
	Config  *config.Config
	DB      storage.Database
	Emitter events.Emitter
	Metrics *metrics.VaultMetrics
	Logger  *slog.Logger
	// Clock overrides time.Now for the engine and every mock strategy.
	Clock func() time.Time
}

// strategyRecord persists a mock strategy together with the parameters
// needed to rebuild it.
type strategyRecord struct {
	Address       common.Address
	LockupSeconds uint64
	State         strategy.MockState
}

// New builds the vault host. When the database already holds a registry the
// token, roles and strategies are restored from their snapshots; otherwise
// the strategies named in the configuration are registered from scratch.
func New(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("server: config required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.DB == nil {
		return nil, errors.New("server: database required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	depositCap, err := cfg.DepositCapAmount()
	if err != nil {
		return nil, err
	}
	faucetLimit, err := cfg.FaucetLimit()
	if err != nil {
		return nil, err
	}

	store := vaultstate.NewStore(opts.DB)
	token := bank.NewToken(cfg.AssetSymbol, cfg.AssetDecimals)
	roles := vault.NewRoles(cfg.AdminAddr())
	engine := vault.NewEngine(cfg.VaultAddr(), token, roles)
	engine.SetState(store)
	engine.SetLogger(logger)
	engine.SetClock(now)
	engine.SetDepositCap(depositCap)

	s := &Service{
		engine:        engine,
		token:         token,
		store:         store,
		metrics:       opts.Metrics,
		logger:        logger.With("component", "vault-server"),
		mocks:         make(map[common.Address]*strategy.Mock),
		lockups:       make(map[common.Address]time.Duration),
		faucetEnabled: cfg.Faucet.Enabled,
		faucetLimit:   faucetLimit,
		now:           now,
	}

	count, err := store.GetStrategyCount()
	if err != nil {
		return nil, fmt.Errorf("server: read registry: %w", err)
	}
	if count > 0 {
		if err := s.restore(); err != nil {
			return nil, err
		}
	} else if err := s.bootstrap(cfg); err != nil {
		return nil, err
	}

	// Events are only wired once the registry exists so bootstrap does not
	// replay into the journal on every start.
	engine.SetEmitter(opts.Emitter)
	engine.SetCommitHook(s.afterCommit)
	s.observe()
	return s, nil
}

func (s *Service) bootstrap(cfg *config.Config) error {
	admin := cfg.AdminAddr()
	if err := s.engine.GrantRole(admin, vault.RoleManager, admin); err != nil {
		return fmt.Errorf("server: seed manager role: %w", err)
	}
	for _, m := range cfg.ManagerAddrs() {
		if err := s.engine.GrantRole(admin, vault.RoleManager, m); err != nil {
			return fmt.Errorf("server: grant manager %s: %w", m.Hex(), err)
		}
	}
	for _, sc := range cfg.Strategies {
		mock := s.newMock(common.HexToAddress(sc.Address), sc.Lockup)
		if sc.YieldBps > 0 {
			if err := mock.SetYieldMultiplier(strategy.MultiplierFromBps(sc.YieldBps)); err != nil {
				return fmt.Errorf("server: strategy %s yield: %w", sc.Name, err)
			}
		}
		id, err := s.engine.AddStrategy(admin, mock, sc.AllocationBps)
		if err != nil {
			return fmt.Errorf("server: register strategy %s: %w", sc.Name, err)
		}
		s.logger.Info("strategy registered",
			slog.String("name", sc.Name),
			slog.Uint64("id", id),
			slog.String("address", mock.Address().Hex()),
			slog.Uint64("allocation_bps", sc.AllocationBps),
			slog.Duration("lockup", sc.Lockup))
	}
	return s.persist()
}

func (s *Service) restore() error {
	var tokenState bank.TokenState
	if _, err := s.store.LoadSnapshot(snapshotAsset, &tokenState); err != nil {
		return fmt.Errorf("server: restore asset: %w", err)
	}
	s.token.ImportState(tokenState)

	var rolesState vault.RolesState
	ok, err := s.store.LoadSnapshot(snapshotRoles, &rolesState)
	if err != nil {
		return fmt.Errorf("server: restore roles: %w", err)
	}
	if ok {
		s.engine.Roles().ImportState(rolesState)
	}

	var records []strategyRecord
	if _, err := s.store.LoadSnapshot(snapshotStrategies, &records); err != nil {
		return fmt.Errorf("server: restore strategies: %w", err)
	}
	for _, rec := range records {
		mock := s.newMock(rec.Address, time.Duration(rec.LockupSeconds)*time.Second)
		if err := mock.ImportState(rec.State); err != nil {
			return fmt.Errorf("server: restore strategy %s: %w", rec.Address.Hex(), err)
		}
		if err := s.engine.BindStrategy(mock); err != nil {
			return fmt.Errorf("server: bind strategy %s: %w", rec.Address.Hex(), err)
		}
	}
	s.logger.Info("vault state restored", slog.Int("strategies", len(records)))
	return nil
}

func (s *Service) newMock(addr common.Address, lockup time.Duration) *strategy.Mock {
	mock := strategy.NewMock(addr, s.engine.Address(), s.token, lockup)
	mock.SetClock(s.now)
	s.mocks[addr] = mock
	s.lockups[addr] = lockup
	s.order = append(s.order, addr)
	return mock
}

// persist writes the collaborator snapshots next to the engine state.
func (s *Service) persist() error {
	if err := s.store.SaveSnapshot(snapshotAsset, s.token.ExportState()); err != nil {
		return fmt.Errorf("server: persist asset: %w", err)
	}
	if err := s.store.SaveSnapshot(snapshotRoles, s.engine.Roles().ExportState()); err != nil {
		return fmt.Errorf("server: persist roles: %w", err)
	}
	records := make([]strategyRecord, 0, len(s.order))
	for _, addr := range s.order {
		records = append(records, strategyRecord{
			Address:       addr,
			LockupSeconds: uint64(s.lockups[addr] / time.Second),
			State:         s.mocks[addr].ExportState(),
		})
	}
	if err := s.store.SaveSnapshot(snapshotStrategies, records); err != nil {
		return fmt.Errorf("server: persist strategies: %w", err)
	}
	return nil
}

func (s *Service) afterCommit(op string) {
	if err := s.persist(); err != nil {
		s.logger.Error("persist snapshots failed", slog.String("op", op), slog.Any("error", err))
	}
}

// observe refreshes the balance gauges.
func (s *Service) observe() {
	if s.metrics == nil {
		return
	}
	snap, err := s.engine.Snapshot()
	if err != nil {
		return
	}
	infos, err := s.engine.Strategies()
	if err != nil {
		return
	}
	balances := make([]metrics.StrategyBalance, 0, len(infos))
	for _, info := range infos {
		balances = append(balances, metrics.StrategyBalance{ID: info.ID, Assets: info.TotalAssets})
	}
	s.metrics.ObserveBalances(snap.TotalAssets, snap.IdleBalance, snap.TotalSupply, balances)
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
