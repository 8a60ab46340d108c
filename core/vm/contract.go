package vm

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/nebulavm/nebula/core/types"
)

// Contract is the per-frame invocation context: the code being executed,
// its storage address, the caller, the attached value, the input data and
// the frame's gas meter.
type Contract struct {
	CallerAddress types.Address
	Address       types.Address

	Code     []byte
	CodeHash types.Hash
	Input    []byte

	Gas   GasMeter
	value *big.Int

	// analysis is the jumpdest bitmap for Code, shared through the EVM's
	// per-code-hash cache.
	analysis bitvec
}

// NewContract creates a contract frame for the given parties.
func NewContract(caller, addr types.Address, value *big.Int, gas uint64) *Contract {
	if value == nil {
		value = new(big.Int)
	}
	return &Contract{
		CallerAddress: caller,
		Address:       addr,
		value:         value,
		Gas:           NewGasMeter(gas),
	}
}

// SetCallCode assigns the code to execute and its hash.
func (c *Contract) SetCallCode(hash types.Hash, code []byte) {
	c.Code = code
	c.CodeHash = hash
}

// Value returns the wei attached to the frame.
func (c *Contract) Value() *big.Int {
	return c.value
}

// GetOp returns the opcode at position n, or STOP past the end of code.
func (c *Contract) GetOp(n uint64) OpCode {
	if n < uint64(len(c.Code)) {
		return OpCode(c.Code[n])
	}
	return STOP
}

// UseGas charges gas against the frame; false means out of gas and the
// meter is left untouched.
func (c *Contract) UseGas(gas uint64) bool {
	return c.Gas.Consume(gas)
}

// RefundGas returns unspent gas from a finished child frame.
func (c *Contract) RefundGas(gas uint64) {
	c.Gas.Reimburse(gas)
}

// validJumpdest reports whether dest is a JUMPDEST opcode outside push
// immediates.
func (c *Contract) validJumpdest(dest *uint256.Int) bool {
	udest, overflow := dest.Uint64WithOverflow()
	if overflow || udest >= uint64(len(c.Code)) {
		return false
	}
	if OpCode(c.Code[udest]) != JUMPDEST {
		return false
	}
	if c.analysis == nil {
		c.analysis = codeBitmap(c.Code)
	}
	return c.analysis.codeSegment(udest)
}
