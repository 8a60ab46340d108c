// Package types defines the primitive data types shared by the execution
// engine: addresses, hashes, account records, logs, and access lists.
package types

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	HashLength    = 32
	AddressLength = 20
)

// Hash represents the 32-byte Keccak256 hash of data.
type Hash [HashLength]byte

// Address represents the 20-byte address of an account.
type Address [AddressLength]byte

// BytesToHash converts bytes to Hash, left-padding if shorter than 32 bytes.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash converts a hex string to Hash.
func HexToHash(s string) Hash {
	return BytesToHash(fromHex(s))
}

// Bytes returns the byte representation of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the hex string representation of the hash.
func (h Hash) Hex() string { return fmt.Sprintf("0x%x", h[:]) }

// SetBytes sets the hash from a byte slice, left-padding if necessary.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// IsZero returns whether the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Big returns the hash interpreted as a big-endian integer.
func (h Hash) Big() *big.Int { return new(big.Int).SetBytes(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// BytesToAddress converts bytes to Address, left-padding if shorter than 20 bytes.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress converts a hex string to Address.
func HexToAddress(s string) Address {
	return BytesToAddress(fromHex(s))
}

// Bytes returns the byte representation of the address.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the hex string representation of the address.
func (a Address) Hex() string { return fmt.Sprintf("0x%x", a[:]) }

// Hash returns the address left-padded to 32 bytes.
func (a Address) Hash() Hash { return BytesToHash(a[:]) }

// SetBytes sets the address from a byte slice.
func (a *Address) SetBytes(b []byte) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// IsZero returns whether the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// EmptyCodeHash is the keccak256 hash of empty bytecode.
var EmptyCodeHash = HexToHash("c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")

// AccountInfo is the flat account record exchanged with the database: the
// balance, nonce, and code identity of an account. Code may be nil, in which
// case it is fetched by hash on demand.
type AccountInfo struct {
	Nonce    uint64
	Balance  *big.Int
	CodeHash Hash
	Code     []byte
}

// NewAccountInfo returns an empty account record.
func NewAccountInfo() *AccountInfo {
	return &AccountInfo{
		Balance:  new(big.Int),
		CodeHash: EmptyCodeHash,
	}
}

// IsEmpty reports whether the account is empty under EIP-161: zero balance,
// zero nonce, and no code. A zero code hash counts as no code; it only occurs
// on records synthesized before code assignment.
func (a *AccountInfo) IsEmpty() bool {
	if a == nil {
		return true
	}
	codeEmpty := a.CodeHash == EmptyCodeHash || a.CodeHash == (Hash{})
	return codeEmpty && a.Nonce == 0 && (a.Balance == nil || a.Balance.Sign() == 0)
}

// Copy returns a deep copy of the account record.
func (a *AccountInfo) Copy() *AccountInfo {
	if a == nil {
		return nil
	}
	cp := &AccountInfo{
		Nonce:    a.Nonce,
		Balance:  new(big.Int),
		CodeHash: a.CodeHash,
	}
	if a.Balance != nil {
		cp.Balance.Set(a.Balance)
	}
	if a.Code != nil {
		cp.Code = make([]byte, len(a.Code))
		copy(cp.Code, a.Code)
	}
	return cp
}

// fromHex decodes a hex string, stripping an optional "0x" prefix.
func fromHex(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}
