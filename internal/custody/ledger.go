// Package custody applies the manager's custody strategy to a token
// ledger: Locking escrows and releases, Burning burns and mints. The
// ledger itself is a collaborator interface; this package ships a
// pebble-backed implementation for standalone deployments.
package custody

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ntt/internal/storage"
	"ntt/internal/types"
)

var (
	// ErrInsufficientFunds means a debit exceeds the account balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrBalanceOverflow means a credit would wrap an account balance.
	ErrBalanceOverflow = errors.New("balance overflow")
	// ErrSupplyOverflow means a mint would wrap the total supply.
	ErrSupplyOverflow = errors.New("supply overflow")
)

// Ledger is the token ledger the custody strategy drives. Every
// method is all-or-nothing: a failed call leaves balances untouched.
type Ledger interface {
	// Balance returns the balance of an account (zero if absent).
	Balance(addr types.UniversalAddress) (uint64, error)
	// Transfer moves amount between two accounts atomically.
	Transfer(from, to types.UniversalAddress, amount uint64) error
	// Mint creates amount new tokens in an account.
	Mint(to types.UniversalAddress, amount uint64) error
	// Burn destroys amount tokens held by an account.
	Burn(from types.UniversalAddress, amount uint64) error
	// TotalSupply returns the ledger-wide token supply.
	TotalSupply() (uint64, error)
}

// Storage keys for the account ledger.
var (
	accountKeyPrefix = []byte("a:")
	supplyKey        = []byte("a!supply")
)

// AccountLedger is a pebble-backed Ledger keyed by universal address.
type AccountLedger struct {
	st *storage.Store // st is the shared state store
}

// NewAccountLedger creates an account ledger over the given store.
func NewAccountLedger(st *storage.Store) *AccountLedger {
	return &AccountLedger{st: st}
}

// accountKey builds the storage key for one account.
func accountKey(addr types.UniversalAddress) []byte {
	key := make([]byte, 0, len(accountKeyPrefix)+32)
	key = append(key, accountKeyPrefix...)
	key = append(key, addr[:]...)

	return key
}

// readUint64 decodes a stored counter, treating absence as zero.
func (l *AccountLedger) readUint64(key []byte) (uint64, error) {
	data, err := l.st.Get(key)
	if err != nil {
		return 0, err
	}
	if data == nil {
		return 0, nil
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid counter size: %d bytes", len(data))
	}

	return binary.BigEndian.Uint64(data), nil
}

// encodeUint64 builds the storage pair for a counter.
func encodeUint64(key []byte, value uint64) storage.KeyValue {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, value)

	return storage.KeyValue{Key: key, Value: buf}
}

// Balance returns the balance of an account (zero if absent).
func (l *AccountLedger) Balance(addr types.UniversalAddress) (uint64, error) {
	balance, err := l.readUint64(accountKey(addr))
	if err != nil {
		return 0, fmt.Errorf("read balance:\n%w", err)
	}

	return balance, nil
}

// TotalSupply returns the ledger-wide token supply.
func (l *AccountLedger) TotalSupply() (uint64, error) {
	supply, err := l.readUint64(supplyKey)
	if err != nil {
		return 0, fmt.Errorf("read supply:\n%w", err)
	}

	return supply, nil
}

// Transfer moves amount between two accounts atomically.
func (l *AccountLedger) Transfer(from, to types.UniversalAddress, amount uint64) error {
	fromBalance, err := l.Balance(from)
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("transfer %d from %s (balance %d):\n%w", amount, from.Short(), fromBalance, ErrInsufficientFunds)
	}

	if from == to {
		return nil
	}

	toBalance, err := l.Balance(to)
	if err != nil {
		return err
	}
	if toBalance+amount < toBalance {
		return fmt.Errorf("credit %d to %s (balance %d):\n%w", amount, to.Short(), toBalance, ErrBalanceOverflow)
	}

	return l.st.SetBatch([]storage.KeyValue{
		encodeUint64(accountKey(from), fromBalance-amount),
		encodeUint64(accountKey(to), toBalance+amount),
	})
}

// Mint creates amount new tokens in an account.
func (l *AccountLedger) Mint(to types.UniversalAddress, amount uint64) error {
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if supply+amount < supply {
		return fmt.Errorf("mint %d (supply %d):\n%w", amount, supply, ErrSupplyOverflow)
	}

	balance, err := l.Balance(to)
	if err != nil {
		return err
	}
	if balance+amount < balance {
		return fmt.Errorf("mint %d to %s (balance %d):\n%w", amount, to.Short(), balance, ErrBalanceOverflow)
	}

	return l.st.SetBatch([]storage.KeyValue{
		encodeUint64(supplyKey, supply+amount),
		encodeUint64(accountKey(to), balance+amount),
	})
}

// Burn destroys amount tokens held by an account.
func (l *AccountLedger) Burn(from types.UniversalAddress, amount uint64) error {
	balance, err := l.Balance(from)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("burn %d from %s (balance %d):\n%w", amount, from.Short(), balance, ErrInsufficientFunds)
	}

	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if supply < amount {
		return fmt.Errorf("burn %d (supply %d): supply accounting broken", amount, supply)
	}

	return l.st.SetBatch([]storage.KeyValue{
		encodeUint64(supplyKey, supply-amount),
		encodeUint64(accountKey(from), balance-amount),
	})
}
