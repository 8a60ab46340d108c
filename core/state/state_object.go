package state

import (
	"math/big"

	"github.com/nebulavm/nebula/core/types"
)

// AccountStatus is a bitmask tracking how an account entered and moved
// through the overlay during the transaction.
type AccountStatus uint8

const (
	// StatusLoaded is the default: fetched from the database, untouched.
	StatusLoaded AccountStatus = 0
	// StatusCreated marks accounts created in this transaction; their
	// storage is known empty and is never fetched from the database.
	StatusCreated AccountStatus = 1 << 0
	// StatusSelfDestructed marks accounts scheduled for deletion at
	// transaction end.
	StatusSelfDestructed AccountStatus = 1 << 1
	// StatusTouched marks accounts with any mutation; only touched
	// accounts are emitted by Finalize.
	StatusTouched AccountStatus = 1 << 2
	// StatusLoadedAsNotExisting marks accounts the database had no record
	// of, needed pre-Spurious-Dragon to tell empty from non-existent.
	StatusLoadedAsNotExisting AccountStatus = 1 << 3
)

// stateObject is the overlay record of one account.
type stateObject struct {
	address types.Address
	info    types.AccountInfo
	status  AccountStatus

	// originStorage holds slot values as of transaction start. Entries are
	// written on first observation, never overwritten, and survive
	// checkpoint reverts (EIP-2200 original values).
	originStorage map[types.Hash]types.Hash
	// dirtyStorage holds speculative writes; reverts undo entries here.
	dirtyStorage map[types.Hash]types.Hash

	dirtyCode bool
}

func newStateObject(addr types.Address, info *types.AccountInfo, status AccountStatus) *stateObject {
	obj := &stateObject{
		address:       addr,
		status:        status,
		originStorage: make(map[types.Hash]types.Hash),
		dirtyStorage:  make(map[types.Hash]types.Hash),
	}
	if info != nil {
		obj.info = *info
	}
	if obj.info.Balance == nil {
		obj.info.Balance = new(big.Int)
	}
	if obj.info.CodeHash == (types.Hash{}) {
		obj.info.CodeHash = types.EmptyCodeHash
	}
	return obj
}

// markTouched flags the account for emission by Finalize. The
// LoadedAsNotExisting flag is deliberately kept: a touched record of a
// never-existing account must not turn into a database deletion.
func (o *stateObject) markTouched() {
	o.status |= StatusTouched
}

func (o *stateObject) isTouched() bool {
	return o.status&StatusTouched != 0
}

func (o *stateObject) isCreated() bool {
	return o.status&StatusCreated != 0
}

func (o *stateObject) isSelfDestructed() bool {
	return o.status&StatusSelfDestructed != 0
}

func (o *stateObject) isLoadedAsNotExisting() bool {
	return o.status&StatusLoadedAsNotExisting != 0
}

// exists reports whether the account exists in the overlay's view of the
// world state.
func (o *stateObject) exists() bool {
	return !o.isLoadedAsNotExisting()
}

// empty implements the EIP-161 emptiness predicate.
func (o *stateObject) empty() bool {
	return o.info.IsEmpty()
}
