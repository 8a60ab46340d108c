package vm

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/nebulavm/nebula/core/types"
)

// toBig converts an optional uint256 into the big.Int the frame manager
// expects; nil stays nil (no value transfer).
func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return nil
	}
	return v.ToBig()
}

func opCreate(pc *uint64, evm *EVM, contract *Contract, memory *Memory, stack *Stack) ([]byte, error) {
	var (
		value  = stack.Pop()
		offset = stack.Pop()
		size   = stack.Pop()
		input  = memory.GetCopy(offset.Uint64(), size.Uint64())
		gas    = contract.Gas.Remaining()
	)
	if evm.chainRules.IsEIP150 {
		gas -= gas / 64
	}
	// The child's budget is carved out of the frame up front and unspent
	// gas is handed back below.
	contract.UseGas(gas)

	bigVal := value.ToBig()
	res, addr, returnGas, suberr := evm.Create(contract.Address, input, gas, bigVal)

	// Homestead pushes 0 on every failure; Frontier kept the address
	// unless the creation ran out of gas.
	stackvalue := new(uint256.Int)
	if evm.chainRules.IsHomestead && suberr == ErrCodeStoreOutOfGas {
		stackvalue.Clear()
	} else if suberr != nil && suberr != ErrCodeStoreOutOfGas {
		stackvalue.Clear()
	} else {
		stackvalue.SetBytes(addr.Bytes())
	}
	stack.Push(stackvalue)
	contract.Gas.Reimburse(returnGas)

	if suberr == ErrExecutionReverted {
		evm.returnData = res
		return res, nil
	}
	evm.returnData = nil
	return nil, nil
}

func opCreate2(pc *uint64, evm *EVM, contract *Contract, memory *Memory, stack *Stack) ([]byte, error) {
	var (
		endowment = stack.Pop()
		offset    = stack.Pop()
		size      = stack.Pop()
		salt      = stack.Pop()
		input     = memory.GetCopy(offset.Uint64(), size.Uint64())
		gas       = contract.Gas.Remaining()
	)
	// EIP-150 applies unconditionally: CREATE2 postdates Tangerine.
	gas -= gas / 64
	contract.UseGas(gas)

	bigVal := endowment.ToBig()
	res, addr, returnGas, suberr := evm.Create2(contract.Address, input, gas, bigVal, &salt)

	stackvalue := new(uint256.Int)
	if suberr != nil {
		stackvalue.Clear()
	} else {
		stackvalue.SetBytes(addr.Bytes())
	}
	stack.Push(stackvalue)
	contract.Gas.Reimburse(returnGas)

	if suberr == ErrExecutionReverted {
		evm.returnData = res
		return res, nil
	}
	evm.returnData = nil
	return nil, nil
}

func opCall(pc *uint64, evm *EVM, contract *Contract, memory *Memory, stack *Stack) ([]byte, error) {
	// The total requested gas was resolved into evm.callGasTemp by the
	// dynamic gas function.
	stack.Pop()
	gas := evm.callGasTemp
	var (
		addr           = stack.Pop()
		value          = stack.Pop()
		inOffset       = stack.Pop()
		inSize         = stack.Pop()
		retOffset      = stack.Pop()
		retSize        = stack.Pop()
		toAddr         = types.BytesToAddress(addr.Bytes())
		args           = memory.GetCopy(inOffset.Uint64(), inSize.Uint64())
	)
	if evm.readOnly && !value.IsZero() {
		return nil, ErrWriteProtection
	}
	var bigVal *uint256.Int
	if !value.IsZero() {
		gas += CallStipend
		bigVal = &value
	}
	ret, returnGas, err := evm.Call(contract.Address, toAddr, args, gas, toBig(bigVal))
	if err == nil {
		stack.Push(uint256.NewInt(1))
	} else {
		stack.Push(new(uint256.Int))
	}
	if err == nil || err == ErrExecutionReverted {
		memory.Set(retOffset.Uint64(), min64(uint64(len(ret)), retSize.Uint64()), ret)
	}
	contract.Gas.Reimburse(returnGas)
	evm.returnData = ret
	return ret, nil
}

func opCallCode(pc *uint64, evm *EVM, contract *Contract, memory *Memory, stack *Stack) ([]byte, error) {
	stack.Pop()
	gas := evm.callGasTemp
	var (
		addr      = stack.Pop()
		value     = stack.Pop()
		inOffset  = stack.Pop()
		inSize    = stack.Pop()
		retOffset = stack.Pop()
		retSize   = stack.Pop()
		toAddr    = types.BytesToAddress(addr.Bytes())
		args      = memory.GetCopy(inOffset.Uint64(), inSize.Uint64())
	)
	var bigVal *uint256.Int
	if !value.IsZero() {
		gas += CallStipend
		bigVal = &value
	}
	ret, returnGas, err := evm.CallCode(contract.Address, toAddr, args, gas, toBig(bigVal))
	if err == nil {
		stack.Push(uint256.NewInt(1))
	} else {
		stack.Push(new(uint256.Int))
	}
	if err == nil || err == ErrExecutionReverted {
		memory.Set(retOffset.Uint64(), min64(uint64(len(ret)), retSize.Uint64()), ret)
	}
	contract.Gas.Reimburse(returnGas)
	evm.returnData = ret
	return ret, nil
}

func opDelegateCall(pc *uint64, evm *EVM, contract *Contract, memory *Memory, stack *Stack) ([]byte, error) {
	stack.Pop()
	gas := evm.callGasTemp
	var (
		addr      = stack.Pop()
		inOffset  = stack.Pop()
		inSize    = stack.Pop()
		retOffset = stack.Pop()
		retSize   = stack.Pop()
		toAddr    = types.BytesToAddress(addr.Bytes())
		args      = memory.GetCopy(inOffset.Uint64(), inSize.Uint64())
	)
	ret, returnGas, err := evm.DelegateCall(contract, toAddr, args, gas)
	if err == nil {
		stack.Push(uint256.NewInt(1))
	} else {
		stack.Push(new(uint256.Int))
	}
	if err == nil || err == ErrExecutionReverted {
		memory.Set(retOffset.Uint64(), min64(uint64(len(ret)), retSize.Uint64()), ret)
	}
	contract.Gas.Reimburse(returnGas)
	evm.returnData = ret
	return ret, nil
}

func opStaticCall(pc *uint64, evm *EVM, contract *Contract, memory *Memory, stack *Stack) ([]byte, error) {
	stack.Pop()
	gas := evm.callGasTemp
	var (
		addr      = stack.Pop()
		inOffset  = stack.Pop()
		inSize    = stack.Pop()
		retOffset = stack.Pop()
		retSize   = stack.Pop()
		toAddr    = types.BytesToAddress(addr.Bytes())
		args      = memory.GetCopy(inOffset.Uint64(), inSize.Uint64())
	)
	ret, returnGas, err := evm.StaticCall(contract.Address, toAddr, args, gas)
	if err == nil {
		stack.Push(uint256.NewInt(1))
	} else {
		stack.Push(new(uint256.Int))
	}
	if err == nil || err == ErrExecutionReverted {
		memory.Set(retOffset.Uint64(), min64(uint64(len(ret)), retSize.Uint64()), ret)
	}
	contract.Gas.Reimburse(returnGas)
	evm.returnData = ret
	return ret, nil
}

// opSelfdestruct schedules the contract for deletion at transaction end
// and moves its balance to the beneficiary. A self-beneficiary burns the
// balance.
func opSelfdestruct(pc *uint64, evm *EVM, contract *Contract, memory *Memory, stack *Stack) ([]byte, error) {
	beneficiary := stack.Pop()
	beneficiaryAddr := types.BytesToAddress(beneficiary.Bytes())
	balance := evm.StateDB.GetBalance(contract.Address)
	evm.StateDB.AddBalance(beneficiaryAddr, balance)
	evm.StateDB.SelfDestruct(contract.Address)
	if evm.Config.Tracer != nil {
		evm.Config.Tracer.CaptureSelfDestruct(contract.Address, beneficiaryAddr, balance)
	}
	return nil, nil
}

// opSelfdestruct6780 implements the Cancun semantics (EIP-6780): the
// balance always moves, but the account is only deleted when it was
// created in the same transaction.
func opSelfdestruct6780(pc *uint64, evm *EVM, contract *Contract, memory *Memory, stack *Stack) ([]byte, error) {
	beneficiary := stack.Pop()
	beneficiaryAddr := types.BytesToAddress(beneficiary.Bytes())
	balance := evm.StateDB.GetBalance(contract.Address)
	evm.StateDB.SubBalance(contract.Address, balance)
	evm.StateDB.AddBalance(beneficiaryAddr, balance)
	evm.StateDB.Selfdestruct6780(contract.Address)
	if evm.Config.Tracer != nil {
		evm.Config.Tracer.CaptureSelfDestruct(contract.Address, beneficiaryAddr, balance)
	}
	return nil, nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
