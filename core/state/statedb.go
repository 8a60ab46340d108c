package state

import (
	"fmt"
	"math/big"

	"github.com/nebulavm/nebula/core/types"
	"github.com/nebulavm/nebula/core/vm"
	"github.com/nebulavm/nebula/crypto"
)

// StateDB is the journaled overlay over a Database. It owns all
// speculative state of one transaction: account records, storage writes,
// transient storage, warm/cold tracking, the refund counter and the log
// list. Every mutation is journaled and revertible to any snapshot; only
// Finalize makes the result visible to the caller, as a flat diff.
type StateDB struct {
	db Database

	stateObjects map[types.Address]*stateObject

	journal    *journal
	accessList *accessList

	transientStorage map[types.Address]map[types.Hash]types.Hash

	refund uint64

	logs    []*types.Log
	logSize uint
	txHash  types.Hash
	txIndex int

	// dbErr latches the first database failure; execution cannot trust
	// any state after one, so the driver aborts the transaction.
	dbErr error
}

// New creates an empty overlay over the given database.
func New(db Database) *StateDB {
	return &StateDB{
		db:               db,
		stateObjects:     make(map[types.Address]*stateObject),
		journal:          newJournal(),
		accessList:       newAccessList(),
		transientStorage: make(map[types.Address]map[types.Hash]types.Hash),
	}
}

// setError records the first database error.
func (s *StateDB) setError(err error) {
	if s.dbErr == nil {
		s.dbErr = err
	}
}

// Error returns the first database error seen, if any.
func (s *StateDB) Error() error {
	return s.dbErr
}

// SetTxContext sets the hash and index used to attribute logs.
func (s *StateDB) SetTxContext(txHash types.Hash, txIndex int) {
	s.txHash = txHash
	s.txIndex = txIndex
}

// getStateObject returns the overlay record for addr, loading it from the
// database on first touch. The returned object may represent a
// non-existing account (status LoadedAsNotExisting).
func (s *StateDB) getStateObject(addr types.Address) *stateObject {
	if obj, ok := s.stateObjects[addr]; ok {
		return obj
	}
	info, err := s.db.Basic(addr)
	if err != nil {
		s.setError(fmt.Errorf("load account %s: %w", addr, err))
		info = nil
	}
	var obj *stateObject
	if info == nil {
		obj = newStateObject(addr, nil, StatusLoadedAsNotExisting)
	} else {
		obj = newStateObject(addr, info, StatusLoaded)
	}
	s.stateObjects[addr] = obj
	return obj
}

// LoadAccount warms addr and reports whether it was cold and whether the
// account exists.
func (s *StateDB) LoadAccount(addr types.Address) (cold bool, exists bool) {
	obj := s.getStateObject(addr)
	cold = !s.accessList.ContainsAddress(addr)
	if cold {
		s.AddAddressToAccessList(addr)
	}
	return cold, obj.exists()
}

// --- account operations ---

// CreateAccount replaces any record at addr with a freshly created one,
// carrying over the balance. The new account's storage is known empty.
func (s *StateDB) CreateAccount(addr types.Address) {
	prev := s.getStateObject(addr)
	s.journal.append(createObjectChange{addr: addr, prev: prev})

	obj := newStateObject(addr, nil, StatusCreated|StatusTouched)
	if prev != nil && prev.info.Balance != nil {
		obj.info.Balance = new(big.Int).Set(prev.info.Balance)
	}
	s.stateObjects[addr] = obj
}

// GetBalance returns a copy of the account balance.
func (s *StateDB) GetBalance(addr types.Address) *big.Int {
	return new(big.Int).Set(s.getStateObject(addr).info.Balance)
}

// AddBalance credits addr, marking it touched even for zero amounts.
func (s *StateDB) AddBalance(addr types.Address, amount *big.Int) {
	obj := s.getStateObject(addr)
	s.journal.append(balanceChange{addr: addr, prev: obj.info.Balance, prevStatus: obj.status})
	obj.info.Balance = new(big.Int).Add(obj.info.Balance, amount)
	obj.markTouched()
}

// SubBalance debits addr, marking it touched.
func (s *StateDB) SubBalance(addr types.Address, amount *big.Int) {
	obj := s.getStateObject(addr)
	s.journal.append(balanceChange{addr: addr, prev: obj.info.Balance, prevStatus: obj.status})
	obj.info.Balance = new(big.Int).Sub(obj.info.Balance, amount)
	obj.markTouched()
}

// Transfer atomically moves value between accounts, failing without any
// mutation when the source balance is insufficient.
func (s *StateDB) Transfer(from, to types.Address, value *big.Int) error {
	if s.getStateObject(from).info.Balance.Cmp(value) < 0 {
		return vm.ErrInsufficientBalance
	}
	s.SubBalance(from, value)
	s.AddBalance(to, value)
	return nil
}

// GetNonce returns the account nonce.
func (s *StateDB) GetNonce(addr types.Address) uint64 {
	return s.getStateObject(addr).info.Nonce
}

// SetNonce writes the account nonce.
func (s *StateDB) SetNonce(addr types.Address, nonce uint64) {
	obj := s.getStateObject(addr)
	s.journal.append(nonceChange{addr: addr, prev: obj.info.Nonce, prevStatus: obj.status})
	obj.info.Nonce = nonce
	obj.markTouched()
}

// IncNonce increments the nonce, returning the old value; incrementing
// past the uint64 range fails.
func (s *StateDB) IncNonce(addr types.Address) (uint64, error) {
	old := s.GetNonce(addr)
	if old+1 < old {
		return old, vm.ErrNonceUintOverflow
	}
	s.SetNonce(addr, old+1)
	return old, nil
}

// GetCode returns the account code, lazily resolving it by hash.
func (s *StateDB) GetCode(addr types.Address) []byte {
	obj := s.getStateObject(addr)
	if obj.info.Code != nil {
		return obj.info.Code
	}
	if obj.info.CodeHash == types.EmptyCodeHash || obj.info.CodeHash == (types.Hash{}) {
		return nil
	}
	code, err := s.db.CodeByHash(obj.info.CodeHash)
	if err != nil {
		s.setError(fmt.Errorf("load code %s: %w", obj.info.CodeHash, err))
		return nil
	}
	obj.info.Code = code
	return code
}

// SetCode assigns deployed code to the account.
func (s *StateDB) SetCode(addr types.Address, code []byte) {
	obj := s.getStateObject(addr)
	s.journal.append(codeChange{
		addr:       addr,
		prevCode:   obj.info.Code,
		prevHash:   obj.info.CodeHash,
		prevDirty:  obj.dirtyCode,
		prevStatus: obj.status,
	})
	obj.info.Code = code
	obj.info.CodeHash = crypto.Keccak256Hash(code)
	obj.dirtyCode = true
	obj.markTouched()
}

// GetCodeHash returns the account's code hash, or zero for accounts that
// do not exist.
func (s *StateDB) GetCodeHash(addr types.Address) types.Hash {
	obj := s.getStateObject(addr)
	if !obj.exists() {
		return types.Hash{}
	}
	return obj.info.CodeHash
}

// GetCodeSize returns the size of the account code.
func (s *StateDB) GetCodeSize(addr types.Address) int {
	return len(s.GetCode(addr))
}

// --- storage ---

// loadOrigin resolves the transaction-start value of a slot, recording it
// on first observation. Created accounts never consult the database.
func (s *StateDB) loadOrigin(obj *stateObject, key types.Hash) types.Hash {
	if val, ok := obj.originStorage[key]; ok {
		return val
	}
	var val types.Hash
	if !obj.isCreated() && obj.exists() {
		dbVal, err := s.db.Storage(obj.address, key)
		if err != nil {
			s.setError(fmt.Errorf("load storage %s %s: %w", obj.address, key, err))
		} else {
			val = dbVal
		}
	}
	obj.originStorage[key] = val
	return val
}

// GetState returns the current (speculative) value of a slot.
func (s *StateDB) GetState(addr types.Address, key types.Hash) types.Hash {
	obj := s.getStateObject(addr)
	if val, ok := obj.dirtyStorage[key]; ok {
		return val
	}
	return s.loadOrigin(obj, key)
}

// GetCommittedState returns the value of a slot at transaction start.
// Reverts never clear the recorded original, so refund math stays right.
func (s *StateDB) GetCommittedState(addr types.Address, key types.Hash) types.Hash {
	return s.loadOrigin(s.getStateObject(addr), key)
}

// SetState writes a slot, journaling the previous speculative value.
func (s *StateDB) SetState(addr types.Address, key, value types.Hash) {
	obj := s.getStateObject(addr)
	// Pin the original before the first write so it is never lost.
	s.loadOrigin(obj, key)
	prev, prevExists := obj.dirtyStorage[key]
	s.journal.append(storageChange{
		addr:       addr,
		key:        key,
		prev:       prev,
		prevExists: prevExists,
		prevStatus: obj.status,
	})
	obj.dirtyStorage[key] = value
	obj.markTouched()
}

// SlotInfo returns (original, current) for a slot; used by callers that
// need the full EIP-2200 triple around a write.
func (s *StateDB) SlotInfo(addr types.Address, key types.Hash) (original, current types.Hash) {
	return s.GetCommittedState(addr, key), s.GetState(addr, key)
}

// --- transient storage (EIP-1153) ---

// GetTransientState returns the transient value of a slot.
func (s *StateDB) GetTransientState(addr types.Address, key types.Hash) types.Hash {
	return s.transientStorage[addr][key]
}

// SetTransientState writes a transient slot. The write is journaled:
// checkpoint reverts undo it, per the final EIP-1153 semantics.
func (s *StateDB) SetTransientState(addr types.Address, key, value types.Hash) {
	prev := s.GetTransientState(addr, key)
	if prev == value {
		return
	}
	s.journal.append(transientStorageChange{addr: addr, key: key, prev: prev})
	s.setTransientState(addr, key, value)
}

func (s *StateDB) setTransientState(addr types.Address, key, value types.Hash) {
	slots, ok := s.transientStorage[addr]
	if !ok {
		if value == (types.Hash{}) {
			return
		}
		slots = make(map[types.Hash]types.Hash)
		s.transientStorage[addr] = slots
	}
	if value == (types.Hash{}) {
		delete(slots, key)
		if len(slots) == 0 {
			delete(s.transientStorage, addr)
		}
		return
	}
	slots[key] = value
}

// ClearTransientStorage drops all transient slots at transaction end.
func (s *StateDB) ClearTransientStorage() {
	s.transientStorage = make(map[types.Address]map[types.Hash]types.Hash)
}

// --- self destruct ---

// SelfDestruct schedules the account for deletion at transaction end and
// zeroes its balance. Idempotent.
func (s *StateDB) SelfDestruct(addr types.Address) {
	obj := s.getStateObject(addr)
	if !obj.exists() && obj.info.Balance.Sign() == 0 {
		return
	}
	s.journal.append(selfDestructChange{
		addr:        addr,
		prevBalance: obj.info.Balance,
		prevStatus:  obj.status,
	})
	obj.info.Balance = new(big.Int)
	obj.status |= StatusSelfDestructed
	obj.markTouched()
}

// Selfdestruct6780 applies the Cancun rule: deletion is only scheduled
// when the account was created in this very transaction.
func (s *StateDB) Selfdestruct6780(addr types.Address) {
	if s.getStateObject(addr).isCreated() {
		s.SelfDestruct(addr)
	}
}

// HasSelfDestructed reports whether addr is scheduled for deletion.
func (s *StateDB) HasSelfDestructed(addr types.Address) bool {
	return s.getStateObject(addr).isSelfDestructed()
}

// --- existence ---

// Exist reports whether the account exists in the current view, including
// accounts created this transaction.
func (s *StateDB) Exist(addr types.Address) bool {
	return s.getStateObject(addr).exists()
}

// Empty implements the EIP-161 predicate: no balance, no nonce, no code.
func (s *StateDB) Empty(addr types.Address) bool {
	obj := s.getStateObject(addr)
	return !obj.exists() || obj.empty()
}

// --- snapshots ---

// Snapshot creates a checkpoint and returns its id.
func (s *StateDB) Snapshot() int {
	return s.journal.snapshot()
}

// RevertToSnapshot undoes every change made since the checkpoint.
func (s *StateDB) RevertToSnapshot(id int) {
	s.journal.revertToSnapshot(id, s)
}

// --- logs ---

// AddLog appends a log, stamped with the transaction context.
func (s *StateDB) AddLog(log *types.Log) {
	s.journal.append(addLogChange{})
	log.TxHash = s.txHash
	log.TxIndex = uint(s.txIndex)
	log.Index = s.logSize
	s.logs = append(s.logs, log)
	s.logSize++
}

// Logs returns the logs emitted so far, in emission order.
func (s *StateDB) Logs() []*types.Log {
	return s.logs
}

// --- refund counter ---

// AddRefund accrues a gas refund.
func (s *StateDB) AddRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	s.refund += gas
}

// SubRefund removes accrued refund. Going below zero is a gas accounting
// bug, not a reachable chain state, so it panics.
func (s *StateDB) SubRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	if gas > s.refund {
		panic(fmt.Sprintf("refund counter below zero (gas: %d > refund: %d)", gas, s.refund))
	}
	s.refund -= gas
}

// GetRefund returns the accrued refund.
func (s *StateDB) GetRefund() uint64 {
	return s.refund
}

// --- access list (EIP-2929) ---

// AddAddressToAccessList warms an address; journaled.
func (s *StateDB) AddAddressToAccessList(addr types.Address) {
	if !s.accessList.AddAddress(addr) {
		s.journal.append(accessListAddAccountChange{addr: addr})
	}
}

// AddSlotToAccessList warms an (address, slot) pair; journaled.
func (s *StateDB) AddSlotToAccessList(addr types.Address, slot types.Hash) {
	addrPresent, slotPresent := s.accessList.AddSlot(addr, slot)
	if !addrPresent {
		s.journal.append(accessListAddAccountChange{addr: addr})
	}
	if !slotPresent {
		s.journal.append(accessListAddSlotChange{addr: addr, slot: slot})
	}
}

// AddressInAccessList reports address warmth.
func (s *StateDB) AddressInAccessList(addr types.Address) bool {
	return s.accessList.ContainsAddress(addr)
}

// SlotInAccessList reports address and slot warmth.
func (s *StateDB) SlotInAccessList(addr types.Address, slot types.Hash) (addressOk, slotOk bool) {
	return s.accessList.Contains(addr, slot)
}

var _ vm.StateDB = (*StateDB)(nil)
