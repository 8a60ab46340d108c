package crypto

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/nebulavm/nebula/core/types"
)

// CreateAddress computes the address of a contract created by the given
// account with the given nonce, per the Yellow Paper:
// keccak256(rlp([sender, nonce]))[12:].
func CreateAddress(caller types.Address, nonce uint64) types.Address {
	data, _ := rlp.EncodeToBytes(struct {
		Addr  types.Address
		Nonce uint64
	}{caller, nonce})
	return types.BytesToAddress(Keccak256(data)[12:])
}

// CreateAddress2 computes the address of a contract created with CREATE2,
// per EIP-1014: keccak256(0xff ++ caller ++ salt ++ keccak256(initCode))[12:].
func CreateAddress2(caller types.Address, salt types.Hash, initCodeHash []byte) types.Address {
	return types.BytesToAddress(Keccak256([]byte{0xff}, caller.Bytes(), salt.Bytes(), initCodeHash)[12:])
}
