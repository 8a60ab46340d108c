package state

import (
	"math/big"

	"github.com/nebulavm/nebula/core/types"
)

// AccountDiff is the final state of one touched account, ready to be
// applied to the backend. Storage holds only slots whose value changed
// against transaction start. Deleted marks self-destructed accounts and,
// post-Spurious-Dragon, touched-empty ones.
type AccountDiff struct {
	Balance  *big.Int
	Nonce    uint64
	CodeHash types.Hash
	Code     []byte // set only when deployed in this transaction
	Storage  map[types.Hash]types.Hash
	Deleted  bool
}

// StateDiff is the flat result of a transaction: every touched account
// keyed by address.
type StateDiff map[types.Address]*AccountDiff

// Finalize flushes the overlay into a state diff. Only touched accounts
// are emitted. With deleteEmptyObjects (EIP-161, Spurious Dragon), touched
// accounts that ended up empty are emitted as deletions; accounts that
// were touched but never came to exist are skipped entirely.
func (s *StateDB) Finalize(deleteEmptyObjects bool) StateDiff {
	diff := make(StateDiff)
	for addr, obj := range s.stateObjects {
		if !obj.isTouched() {
			continue
		}
		if obj.isSelfDestructed() || (deleteEmptyObjects && obj.empty()) {
			if obj.isLoadedAsNotExisting() || obj.isCreated() {
				// Nothing existed before, nothing to delete.
				continue
			}
			diff[addr] = &AccountDiff{Deleted: true}
			continue
		}
		acct := &AccountDiff{
			Balance:  new(big.Int).Set(obj.info.Balance),
			Nonce:    obj.info.Nonce,
			CodeHash: obj.info.CodeHash,
		}
		if obj.dirtyCode {
			acct.Code = obj.info.Code
		}
		for key, val := range obj.dirtyStorage {
			if obj.originStorage[key] == val {
				continue
			}
			if acct.Storage == nil {
				acct.Storage = make(map[types.Hash]types.Hash)
			}
			acct.Storage[key] = val
		}
		diff[addr] = acct
	}
	return diff
}
