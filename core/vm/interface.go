package vm

import (
	"math/big"

	"github.com/nebulavm/nebula/core/types"
)

// StateDB is the host view the interpreter executes against: the journaled
// account/storage overlay. Every mutation is reversible up to the last
// snapshot. The canonical implementation lives in core/state.
type StateDB interface {
	CreateAccount(addr types.Address)

	GetBalance(addr types.Address) *big.Int
	AddBalance(addr types.Address, amount *big.Int)
	SubBalance(addr types.Address, amount *big.Int)

	GetNonce(addr types.Address) uint64
	SetNonce(addr types.Address, nonce uint64)

	GetCode(addr types.Address) []byte
	SetCode(addr types.Address, code []byte)
	GetCodeHash(addr types.Address) types.Hash
	GetCodeSize(addr types.Address) int

	// GetState returns the current value of a slot; GetCommittedState the
	// value at the start of the transaction (the EIP-2200 original).
	GetState(addr types.Address, key types.Hash) types.Hash
	SetState(addr types.Address, key types.Hash, value types.Hash)
	GetCommittedState(addr types.Address, key types.Hash) types.Hash

	// Transient storage (EIP-1153). Journaled: snapshot revert undoes
	// writes; the map is cleared between transactions.
	GetTransientState(addr types.Address, key types.Hash) types.Hash
	SetTransientState(addr types.Address, key types.Hash, value types.Hash)

	SelfDestruct(addr types.Address)
	// Selfdestruct6780 only schedules deletion when the account was created
	// in the current transaction (EIP-6780, Cancun).
	Selfdestruct6780(addr types.Address)
	HasSelfDestructed(addr types.Address) bool

	Exist(addr types.Address) bool
	Empty(addr types.Address) bool

	Snapshot() int
	RevertToSnapshot(id int)

	AddLog(log *types.Log)

	AddRefund(gas uint64)
	SubRefund(gas uint64)
	GetRefund() uint64

	AddAddressToAccessList(addr types.Address)
	AddSlotToAccessList(addr types.Address, slot types.Hash)
	AddressInAccessList(addr types.Address) bool
	SlotInAccessList(addr types.Address, slot types.Hash) (addressOk bool, slotOk bool)
}
