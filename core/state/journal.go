package state

import (
	"math/big"

	"github.com/nebulavm/nebula/core/types"
)

// journalEntry is one reversible state change. Revert restores exactly the
// prior value; entries are undone newest-first.
type journalEntry interface {
	revert(s *StateDB)
}

// journal is the change log with nested checkpoints. A checkpoint is an
// index into the entry list; reverting walks entries back to the index,
// committing simply abandons the checkpoint marker.
type journal struct {
	entries   []journalEntry
	snapshots map[int]int // snapshot id -> entry index
	nextID    int
}

func newJournal() *journal {
	return &journal{snapshots: make(map[int]int)}
}

func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() int {
	id := j.nextID
	j.nextID++
	j.snapshots[id] = len(j.entries)
	return id
}

func (j *journal) revertToSnapshot(id int, s *StateDB) {
	idx, ok := j.snapshots[id]
	if !ok {
		return
	}
	for i := len(j.entries) - 1; i >= idx; i-- {
		j.entries[i].revert(s)
	}
	j.entries = j.entries[:idx]

	// Snapshots taken after the reverted one are no longer meaningful.
	for sid := range j.snapshots {
		if sid >= id {
			delete(j.snapshots, sid)
		}
	}
}

func (j *journal) reset() {
	j.entries = j.entries[:0]
	j.snapshots = make(map[int]int)
	j.nextID = 0
}

// --- concrete entries ---

// createObjectChange reverts a CreateAccount by restoring the displaced
// object (or the not-existing marker).
type createObjectChange struct {
	addr types.Address
	prev *stateObject
}

func (ch createObjectChange) revert(s *StateDB) {
	if ch.prev == nil {
		delete(s.stateObjects, ch.addr)
	} else {
		s.stateObjects[ch.addr] = ch.prev
	}
}

type balanceChange struct {
	addr       types.Address
	prev       *big.Int
	prevStatus AccountStatus
}

func (ch balanceChange) revert(s *StateDB) {
	if obj := s.stateObjects[ch.addr]; obj != nil {
		obj.info.Balance = ch.prev
		obj.status = ch.prevStatus
	}
}

type nonceChange struct {
	addr       types.Address
	prev       uint64
	prevStatus AccountStatus
}

func (ch nonceChange) revert(s *StateDB) {
	if obj := s.stateObjects[ch.addr]; obj != nil {
		obj.info.Nonce = ch.prev
		obj.status = ch.prevStatus
	}
}

type codeChange struct {
	addr       types.Address
	prevCode   []byte
	prevHash   types.Hash
	prevDirty  bool
	prevStatus AccountStatus
}

func (ch codeChange) revert(s *StateDB) {
	if obj := s.stateObjects[ch.addr]; obj != nil {
		obj.info.Code = ch.prevCode
		obj.info.CodeHash = ch.prevHash
		obj.dirtyCode = ch.prevDirty
		obj.status = ch.prevStatus
	}
}

// storageChange restores dirtyStorage only; originStorage deliberately
// keeps its first-observed values across reverts.
type storageChange struct {
	addr       types.Address
	key        types.Hash
	prev       types.Hash
	prevExists bool
	prevStatus AccountStatus
}

func (ch storageChange) revert(s *StateDB) {
	if obj := s.stateObjects[ch.addr]; obj != nil {
		if ch.prevExists {
			obj.dirtyStorage[ch.key] = ch.prev
		} else {
			delete(obj.dirtyStorage, ch.key)
		}
		obj.status = ch.prevStatus
	}
}

type selfDestructChange struct {
	addr        types.Address
	prevBalance *big.Int
	prevStatus  AccountStatus
}

func (ch selfDestructChange) revert(s *StateDB) {
	if obj := s.stateObjects[ch.addr]; obj != nil {
		obj.info.Balance = ch.prevBalance
		obj.status = ch.prevStatus
	}
}

type touchChange struct {
	addr       types.Address
	prevStatus AccountStatus
}

func (ch touchChange) revert(s *StateDB) {
	if obj := s.stateObjects[ch.addr]; obj != nil {
		obj.status = ch.prevStatus
	}
}

type transientStorageChange struct {
	addr types.Address
	key  types.Hash
	prev types.Hash
}

func (ch transientStorageChange) revert(s *StateDB) {
	s.setTransientState(ch.addr, ch.key, ch.prev)
}

type refundChange struct {
	prev uint64
}

func (ch refundChange) revert(s *StateDB) {
	s.refund = ch.prev
}

type addLogChange struct{}

func (ch addLogChange) revert(s *StateDB) {
	s.logs = s.logs[:len(s.logs)-1]
	s.logSize--
}

type accessListAddAccountChange struct {
	addr types.Address
}

func (ch accessListAddAccountChange) revert(s *StateDB) {
	s.accessList.DeleteAddress(ch.addr)
}

type accessListAddSlotChange struct {
	addr types.Address
	slot types.Hash
}

func (ch accessListAddSlotChange) revert(s *StateDB) {
	s.accessList.DeleteSlot(ch.addr, ch.slot)
}
