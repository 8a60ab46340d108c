// Package state implements the journaled account and storage overlay the
// EVM executes against: speculative mutations with nested checkpoints, warm
// and cold access tracking, and finalization into a flat state diff.
package state

import (
	"math/big"
	"sync"

	"github.com/nebulavm/nebula/core/types"
	"github.com/nebulavm/nebula/crypto"
)

// Database is the read-only backend the overlay lazily populates itself
// from. All writes stay in the overlay until the caller applies the
// finalized diff.
type Database interface {
	// Basic returns the account record, or nil if the account does not
	// exist.
	Basic(addr types.Address) (*types.AccountInfo, error)
	// CodeByHash resolves contract code by its hash.
	CodeByHash(hash types.Hash) ([]byte, error)
	// Storage returns the value of a storage slot, zero if unset.
	Storage(addr types.Address, key types.Hash) (types.Hash, error)
	// BlockHash returns the hash of a recent block, zero when the number
	// is current or more than 256 blocks old.
	BlockHash(number uint64) (types.Hash, error)
}

// MemDB is an in-memory Database for tests and light embedding.
type MemDB struct {
	mu       sync.RWMutex
	accounts map[types.Address]*types.AccountInfo
	storage  map[types.Address]map[types.Hash]types.Hash
	codes    map[types.Hash][]byte
	hashes   map[uint64]types.Hash
	number   uint64
}

// NewMemDB returns an empty in-memory database.
func NewMemDB() *MemDB {
	return &MemDB{
		accounts: make(map[types.Address]*types.AccountInfo),
		storage:  make(map[types.Address]map[types.Hash]types.Hash),
		codes:    make(map[types.Hash][]byte),
		hashes:   make(map[uint64]types.Hash),
	}
}

// CreateAccount inserts an account with the given balance and nonce.
func (db *MemDB) CreateAccount(addr types.Address, balance *big.Int, nonce uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.accounts[addr] = &types.AccountInfo{
		Nonce:    nonce,
		Balance:  new(big.Int).Set(balance),
		CodeHash: types.EmptyCodeHash,
	}
}

// SetCode stores code under the account and registers it by hash.
func (db *MemDB) SetCode(addr types.Address, code []byte) {
	db.mu.Lock()
	defer db.mu.Unlock()
	acct, ok := db.accounts[addr]
	if !ok {
		acct = types.NewAccountInfo()
		db.accounts[addr] = acct
	}
	hash := crypto.Keccak256Hash(code)
	acct.CodeHash = hash
	acct.Code = code
	db.codes[hash] = code
}

// SetStorage writes a storage slot directly into the backend.
func (db *MemDB) SetStorage(addr types.Address, key, value types.Hash) {
	db.mu.Lock()
	defer db.mu.Unlock()
	slots, ok := db.storage[addr]
	if !ok {
		slots = make(map[types.Hash]types.Hash)
		db.storage[addr] = slots
	}
	slots[key] = value
}

// SetBlockHash registers a historical block hash.
func (db *MemDB) SetBlockHash(number uint64, hash types.Hash) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.hashes[number] = hash
	if number >= db.number {
		db.number = number + 1
	}
}

// Basic implements Database.
func (db *MemDB) Basic(addr types.Address) (*types.AccountInfo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	acct, ok := db.accounts[addr]
	if !ok {
		return nil, nil
	}
	return acct.Copy(), nil
}

// CodeByHash implements Database.
func (db *MemDB) CodeByHash(hash types.Hash) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.codes[hash], nil
}

// Storage implements Database.
func (db *MemDB) Storage(addr types.Address, key types.Hash) (types.Hash, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.storage[addr][key], nil
}

// BlockHash implements Database.
func (db *MemDB) BlockHash(number uint64) (types.Hash, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if number >= db.number || db.number-number > 256 {
		return types.Hash{}, nil
	}
	return db.hashes[number], nil
}

// ApplyDiff writes a finalized state diff back into the backend, deleting
// accounts marked for removal.
func (db *MemDB) ApplyDiff(diff StateDiff) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for addr, acct := range diff {
		if acct.Deleted {
			delete(db.accounts, addr)
			delete(db.storage, addr)
			continue
		}
		info := &types.AccountInfo{
			Nonce:    acct.Nonce,
			Balance:  new(big.Int).Set(acct.Balance),
			CodeHash: acct.CodeHash,
			Code:     acct.Code,
		}
		db.accounts[addr] = info
		if acct.Code != nil {
			db.codes[acct.CodeHash] = acct.Code
		}
		if len(acct.Storage) > 0 {
			slots, ok := db.storage[addr]
			if !ok {
				slots = make(map[types.Hash]types.Hash)
				db.storage[addr] = slots
			}
			for key, val := range acct.Storage {
				if val == (types.Hash{}) {
					delete(slots, key)
				} else {
					slots[key] = val
				}
			}
		}
	}
}

var _ Database = (*MemDB)(nil)
