package vault

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	nativevault "multivault/native/vault"
	"multivault/storage"
)

var (
	totalSharesKey     = []byte("vault/shares/total")
	shareBalancePrefix = []byte("vault/shares/balance/")
	allowancePrefix    = []byte("vault/shares/allowance/")
	strategyCountKey   = []byte("vault/strategy/count")
	strategyPrefix     = []byte("vault/strategy/entry/")
	requestCountPrefix = []byte("vault/withdrawal/count/")
	requestPrefix      = []byte("vault/withdrawal/entry/")
	pausedKey          = []byte("vault/paused")
	snapshotPrefix     = []byte("vault/snapshot/")
)

// Store persists the vault ledger in a key-value database. Keys are the
// Keccak-256 hash of a namespace prefix and the record's identifying fields;
// values are RLP encoded.
type Store struct {
	db storage.Database
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func storageKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func uint64Bytes(v uint64) []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], v)
	return out[:]
}

// load decodes the value at key into out. It reports false when the key is
// absent.
func (s *Store) load(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("vault store: decode: %w", err)
	}
	return true, nil
}

func (s *Store) store(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("vault store: encode: %w", err)
	}
	return s.db.Put(key, encoded)
}

func (s *Store) loadBigInt(key []byte) (*big.Int, error) {
	out := new(big.Int)
	if _, err := s.load(key, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) writeBigInt(key []byte, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("vault store: negative amount")
	}
	if v.Sign() == 0 {
		return s.db.Delete(key)
	}
	return s.store(key, v)
}

func (s *Store) loadUint64(key []byte) (uint64, error) {
	var out uint64
	if _, err := s.load(key, &out); err != nil {
		return 0, err
	}
	return out, nil
}

func (s *Store) GetTotalShares() (*big.Int, error) {
	return s.loadBigInt(totalSharesKey)
}

func (s *Store) PutTotalShares(total *big.Int) error {
	return s.writeBigInt(totalSharesKey, total)
}

func (s *Store) GetShareBalance(owner common.Address) (*big.Int, error) {
	return s.loadBigInt(storageKey(shareBalancePrefix, owner.Bytes()))
}

func (s *Store) PutShareBalance(owner common.Address, balance *big.Int) error {
	return s.writeBigInt(storageKey(shareBalancePrefix, owner.Bytes()), balance)
}

func (s *Store) GetShareAllowance(owner, spender common.Address) (*big.Int, error) {
	return s.loadBigInt(storageKey(allowancePrefix, owner.Bytes(), spender.Bytes()))
}

func (s *Store) PutShareAllowance(owner, spender common.Address, amount *big.Int) error {
	return s.writeBigInt(storageKey(allowancePrefix, owner.Bytes(), spender.Bytes()), amount)
}

func (s *Store) GetStrategyCount() (uint64, error) {
	return s.loadUint64(strategyCountKey)
}

func (s *Store) PutStrategyCount(count uint64) error {
	return s.store(strategyCountKey, count)
}

type storedStrategy struct {
	ID            uint64
	Address       [20]byte
	AllocationBps uint64
	Active        bool
	HasLockup     bool
}

func (s *Store) GetStrategy(id uint64) (*nativevault.StrategyDescriptor, error) {
	record := new(storedStrategy)
	ok, err := s.load(storageKey(strategyPrefix, uint64Bytes(id)), record)
	if err != nil || !ok {
		return nil, err
	}
	return &nativevault.StrategyDescriptor{
		ID:            record.ID,
		Address:       common.Address(record.Address),
		AllocationBps: record.AllocationBps,
		Active:        record.Active,
		HasLockup:     record.HasLockup,
	}, nil
}

func (s *Store) PutStrategy(desc *nativevault.StrategyDescriptor) error {
	if desc == nil {
		return fmt.Errorf("vault store: nil strategy")
	}
	return s.store(storageKey(strategyPrefix, uint64Bytes(desc.ID)), &storedStrategy{
		ID:            desc.ID,
		Address:       desc.Address,
		AllocationBps: desc.AllocationBps,
		Active:        desc.Active,
		HasLockup:     desc.HasLockup,
	})
}

func (s *Store) DeleteStrategy(id uint64) error {
	return s.db.Delete(storageKey(strategyPrefix, uint64Bytes(id)))
}

func (s *Store) GetWithdrawalCount(owner common.Address) (uint64, error) {
	return s.loadUint64(storageKey(requestCountPrefix, owner.Bytes()))
}

func (s *Store) PutWithdrawalCount(owner common.Address, count uint64) error {
	return s.store(storageKey(requestCountPrefix, owner.Bytes()), count)
}

type storedRequest struct {
	RequestID         uint64
	StrategyID        uint64
	StrategyRequestID uint64
	Amount            *big.Int
	Receiver          [20]byte
	Claimed           bool
	CreatedAt         uint64
}

func (s *Store) GetWithdrawalRequest(owner common.Address, id uint64) (*nativevault.WithdrawalRequest, error) {
	record := new(storedRequest)
	ok, err := s.load(storageKey(requestPrefix, owner.Bytes(), uint64Bytes(id)), record)
	if err != nil || !ok {
		return nil, err
	}
	amount := big.NewInt(0)
	if record.Amount != nil {
		amount.Set(record.Amount)
	}
	return &nativevault.WithdrawalRequest{
		RequestID:         record.RequestID,
		StrategyID:        record.StrategyID,
		StrategyRequestID: record.StrategyRequestID,
		Amount:            amount,
		Receiver:          common.Address(record.Receiver),
		Claimed:           record.Claimed,
		CreatedAt:         record.CreatedAt,
	}, nil
}

func (s *Store) PutWithdrawalRequest(owner common.Address, req *nativevault.WithdrawalRequest) error {
	if req == nil {
		return fmt.Errorf("vault store: nil withdrawal request")
	}
	amount := big.NewInt(0)
	if req.Amount != nil {
		amount.Set(req.Amount)
	}
	return s.store(storageKey(requestPrefix, owner.Bytes(), uint64Bytes(req.RequestID)), &storedRequest{
		RequestID:         req.RequestID,
		StrategyID:        req.StrategyID,
		StrategyRequestID: req.StrategyRequestID,
		Amount:            amount,
		Receiver:          req.Receiver,
		Claimed:           req.Claimed,
		CreatedAt:         req.CreatedAt,
	})
}

func (s *Store) DeleteWithdrawalRequest(owner common.Address, id uint64) error {
	return s.db.Delete(storageKey(requestPrefix, owner.Bytes(), uint64Bytes(id)))
}

func (s *Store) GetPaused() (bool, error) {
	var paused bool
	if _, err := s.load(pausedKey, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

func (s *Store) PutPaused(paused bool) error {
	return s.store(pausedKey, paused)
}

// SaveSnapshot stores an RLP-encodable value under name. Used for the state of
// collaborators that live beside the vault, such as the asset ledger.
func (s *Store) SaveSnapshot(name string, value interface{}) error {
	if name == "" {
		return fmt.Errorf("vault store: snapshot name required")
	}
	return s.store(storageKey(snapshotPrefix, []byte(name)), value)
}

// LoadSnapshot decodes the value saved under name into out and reports
// whether one existed.
func (s *Store) LoadSnapshot(name string, out interface{}) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("vault store: snapshot name required")
	}
	return s.load(storageKey(snapshotPrefix, []byte(name)), out)
}
