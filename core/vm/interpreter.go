package vm

import (
	"math/big"

	"github.com/nebulavm/nebula/core/types"
)

// GetHashFunc returns the hash of the block with the given number.
type GetHashFunc func(uint64) types.Hash

// BlockContext provides the EVM with block-level information.
type BlockContext struct {
	GetHash     GetHashFunc
	Coinbase    types.Address
	BlockNumber *big.Int
	Time        uint64
	Difficulty  *big.Int
	GasLimit    uint64
	BaseFee     *big.Int
	BlobBaseFee *big.Int
	PrevRandao  types.Hash
}

// TxContext provides the EVM with transaction-level information.
type TxContext struct {
	Origin     types.Address
	GasPrice   *big.Int
	BlobHashes []types.Hash
}

// Config holds optional EVM settings.
type Config struct {
	ChainID *big.Int
	Tracer  EVMLogger
}

// run executes the contract's bytecode until a halting instruction, a
// revert, or a fatal error. Gas is charged per step: constant gas first,
// then dynamic gas (which includes memory expansion), then the memory is
// actually grown, then the handler runs. A frame entered with readOnly
// stays read-only for its whole lifetime, including its children.
func (evm *EVM) run(contract *Contract, input []byte, readOnly bool) (ret []byte, err error) {
	if readOnly && !evm.readOnly {
		evm.readOnly = true
		defer func() { evm.readOnly = false }()
	}

	// Return data from a previous call is lost as soon as a new frame runs.
	evm.returnData = nil

	if len(contract.Code) == 0 {
		return nil, nil
	}
	contract.Input = input

	var (
		pc    uint64
		stack = NewStack()
		mem   = NewMemory()
		debug = evm.Config.Tracer != nil
	)

	for {
		op := contract.GetOp(pc)
		operation := evm.table[op]

		cost := operation.constantGas
		gasBefore := contract.Gas.Remaining()

		// Static stack bounds.
		if sLen := stack.Len(); sLen < operation.minStack {
			return nil, ErrStackUnderflow{stackLen: sLen, required: operation.minStack}
		} else if sLen > operation.maxStack {
			return nil, ErrStackOverflow{stackLen: sLen, limit: operation.maxStack}
		}

		// Static frames refuse all state-mutating operations. Value-bearing
		// CALL is handled by the opcode itself.
		if evm.readOnly && operation.writes {
			return nil, ErrWriteProtection
		}

		if !contract.UseGas(operation.constantGas) {
			return nil, ErrOutOfGas
		}

		// Quote the memory this op touches, word-aligned, and charge the
		// dynamic gas before any growth happens.
		var memorySize uint64
		if operation.memorySize != nil {
			memSize, overflow := operation.memorySize(stack)
			if overflow {
				return nil, ErrGasUintOverflow
			}
			if memorySize, overflow = safeMul(toWordSize(memSize), 32); overflow {
				return nil, ErrGasUintOverflow
			}
		}
		if operation.dynamicGas != nil {
			dynamicCost, err := operation.dynamicGas(evm, contract, stack, mem, memorySize)
			if err != nil {
				return nil, err
			}
			cost += dynamicCost
			if !contract.UseGas(dynamicCost) {
				return nil, ErrOutOfGas
			}
		}
		if memorySize > 0 {
			mem.Resize(memorySize)
		}

		if debug {
			evm.Config.Tracer.CaptureState(pc, op, gasBefore, cost, stack, mem, evm.depth, nil)
		}

		res, err := operation.execute(&pc, evm, contract, mem, stack)
		if err != nil {
			if err != ErrExecutionReverted && debug {
				evm.Config.Tracer.CaptureFault(pc, op, gasBefore, cost, evm.depth, err)
			}
			return res, err
		}
		if operation.halts {
			return res, nil
		}
		if !operation.jumps {
			pc++
		}
	}
}
