package vm

import (
	"github.com/holiman/uint256"

	"github.com/nebulavm/nebula/core/types"
)

// gasFunc computes the dynamic portion of an operation's cost. memorySize
// is the already word-aligned size memory must grow to for this op.
type gasFunc func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error)

// memorySizeFunc quotes the memory extent an operation touches. The
// overflow flag is set when the operands do not fit a uint64.
type memorySizeFunc func(stack *Stack) (size uint64, overflow bool)

// calcMemSize64 returns off+len, flagging uint64 overflow. A zero length
// never grows memory regardless of offset.
func calcMemSize64(off, length *uint256.Int) (uint64, bool) {
	if length.IsZero() {
		return 0, false
	}
	offset64, overflow := off.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	length64, overflow := length.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	val := offset64 + length64
	return val, val < offset64
}

// calcMemSize64WithUint is calcMemSize64 with a constant length.
func calcMemSize64WithUint(off *uint256.Int, length64 uint64) (uint64, bool) {
	if length64 == 0 {
		return 0, false
	}
	offset64, overflow := off.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	val := offset64 + length64
	return val, val < offset64
}

// toWordSize returns the ceiled word count for a byte size.
func toWordSize(size uint64) uint64 {
	if size > (^uint64(0))-31 {
		return (^uint64(0))/32 + 1
	}
	return (size + 31) / 32
}

// memoryGasCost returns the incremental cost of growing memory to newSize
// bytes: total(w) = 3w + w²/512, charged as a delta against the expansion
// already paid for.
func memoryGasCost(mem *Memory, newSize uint64) (uint64, error) {
	if newSize == 0 {
		return 0, nil
	}
	// Anything above this overflows the square below; such a request can
	// never be paid for anyway.
	if newSize > 0x1FFFFFFFE0 {
		return 0, ErrGasUintOverflow
	}
	words := toWordSize(newSize)
	newTotal := words*MemoryGas + words*words/QuadCoeffDiv
	if newTotal > mem.lastGasCost {
		cost := newTotal - mem.lastGasCost
		mem.lastGasCost = newTotal
		return cost, nil
	}
	return 0, nil
}

// pureMemoryGascost is the dynamic gas of ops whose only variable cost is
// memory expansion.
func pureMemoryGascost(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	return memoryGasCost(mem, memorySize)
}

var (
	gasReturn  = pureMemoryGascost
	gasRevert  = pureMemoryGascost
	gasMLoad   = pureMemoryGascost
	gasMStore8 = pureMemoryGascost
	gasMStore  = pureMemoryGascost
	gasCreate  = pureMemoryGascost
)

// memoryCopierGas builds the dynamic gas for *COPY ops: memory expansion
// plus 3 gas per copied word. stackpos locates the length operand.
func memoryCopierGas(stackpos int) gasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		gas, err := memoryGasCost(mem, memorySize)
		if err != nil {
			return 0, err
		}
		words, overflow := stack.Back(stackpos).Uint64WithOverflow()
		if overflow {
			return 0, ErrGasUintOverflow
		}
		if words, overflow = safeMul(toWordSize(words), CopyGas); overflow {
			return 0, ErrGasUintOverflow
		}
		if gas, overflow = safeAdd(gas, words); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

var (
	gasCallDataCopy   = memoryCopierGas(2)
	gasCodeCopy       = memoryCopierGas(2)
	gasMcopy          = memoryCopierGas(2)
	gasExtCodeCopy    = memoryCopierGas(3)
	gasReturnDataCopy = memoryCopierGas(2)
)

func safeAdd(x, y uint64) (uint64, bool) {
	sum := x + y
	return sum, sum < x
}

func safeMul(x, y uint64) (uint64, bool) {
	if x == 0 || y == 0 {
		return 0, false
	}
	p := x * y
	return p, p/y != x
}

func gasKeccak256(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(mem, memorySize)
	if err != nil {
		return 0, err
	}
	wordGas, overflow := stack.Back(1).Uint64WithOverflow()
	if overflow {
		return 0, ErrGasUintOverflow
	}
	if wordGas, overflow = safeMul(toWordSize(wordGas), Keccak256WordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	if gas, overflow = safeAdd(gas, wordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

// makeGasLog builds the dynamic gas for LOGn: 375 per topic, 8 per data
// byte, plus memory expansion. The 375 base is the constant gas.
func makeGasLog(n uint64) gasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		requestedSize, overflow := stack.Back(1).Uint64WithOverflow()
		if overflow {
			return 0, ErrGasUintOverflow
		}
		gas, err := memoryGasCost(mem, memorySize)
		if err != nil {
			return 0, err
		}
		if gas, overflow = safeAdd(gas, n*LogTopicGas); overflow {
			return 0, ErrGasUintOverflow
		}
		var memorySizeGas uint64
		if memorySizeGas, overflow = safeMul(requestedSize, LogDataGas); overflow {
			return 0, ErrGasUintOverflow
		}
		if gas, overflow = safeAdd(gas, memorySizeGas); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

// makeGasExp builds the dynamic gas for EXP: expByte per byte of the
// exponent. EIP-160 raised expByte from 10 to 50.
func makeGasExp(expByte uint64) gasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		expByteLen := uint64((stack.Back(1).BitLen() + 7) / 8)
		gas, overflow := safeMul(expByteLen, expByte)
		if overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

// gasCreateEip3860 adds the per-word init-code charge (EIP-3860) on top of
// memory expansion, and enforces the init-code size cap.
func gasCreateEip3860(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(mem, memorySize)
	if err != nil {
		return 0, err
	}
	size, overflow := stack.Back(2).Uint64WithOverflow()
	if overflow || size > uint64(MaxInitCodeSize) {
		return 0, ErrGasUintOverflow
	}
	moreGas := InitCodeWordGas * toWordSize(size)
	if gas, overflow = safeAdd(gas, moreGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

// gasCreate2 charges the keccak word cost of hashing the init code.
func gasCreate2(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(mem, memorySize)
	if err != nil {
		return 0, err
	}
	wordGas, overflow := stack.Back(2).Uint64WithOverflow()
	if overflow {
		return 0, ErrGasUintOverflow
	}
	if wordGas, overflow = safeMul(toWordSize(wordGas), Keccak256WordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	if gas, overflow = safeAdd(gas, wordGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

// gasCreate2Eip3860 combines the keccak word cost with the EIP-3860
// init-code charge.
func gasCreate2Eip3860(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	gas, err := memoryGasCost(mem, memorySize)
	if err != nil {
		return 0, err
	}
	size, overflow := stack.Back(2).Uint64WithOverflow()
	if overflow || size > uint64(MaxInitCodeSize) {
		return 0, ErrGasUintOverflow
	}
	moreGas := (InitCodeWordGas + Keccak256WordGas) * toWordSize(size)
	if gas, overflow = safeAdd(gas, moreGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

// --- legacy SSTORE (Frontier through Petersburg) ---

func gasSStore(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	var (
		y, x    = stack.Back(1), stack.Back(0)
		current = evm.StateDB.GetState(contract.Address, types.Hash(x.Bytes32()))
	)
	value := types.Hash(y.Bytes32())
	switch {
	case current == (types.Hash{}) && value != (types.Hash{}): // 0 => non 0
		return SstoreSetGas, nil
	case current != (types.Hash{}) && value == (types.Hash{}): // non 0 => 0
		evm.StateDB.AddRefund(SstoreRefundGas)
		return SstoreClearGas, nil
	default: // non 0 => non 0 (or 0 => 0)
		return SstoreResetGas, nil
	}
}

// --- EIP-2200 SSTORE (Istanbul) ---
//
// Net gas metering against the original (transaction-start) value:
//
//	noop:            800
//	clean create:    20000
//	clean update:    5000, refund 15000 when clearing
//	dirty:           800, with refund adjustments when the slot returns
//	                 to its original value
func gasSStoreEIP2200(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	// The sentry keeps SSTORE re-entrancy through low-gas calls unprofitable.
	if contract.Gas.Remaining() <= SstoreSentryGasEIP2200 {
		return 0, ErrOutOfGas
	}
	var (
		y, x    = stack.Back(1), stack.Back(0)
		key     = types.Hash(x.Bytes32())
		current = evm.StateDB.GetState(contract.Address, key)
		value   = types.Hash(y.Bytes32())
	)
	if current == value { // noop (1)
		return SloadGasEIP1884, nil
	}
	original := evm.StateDB.GetCommittedState(contract.Address, key)
	if original == current {
		if original == (types.Hash{}) { // create slot (2.1.1)
			return SstoreSetGas, nil
		}
		if value == (types.Hash{}) { // delete slot (2.1.2b)
			evm.StateDB.AddRefund(SstoreClearsScheduleRefundEIP2200)
		}
		return SstoreResetGas, nil // write existing slot (2.1.2)
	}
	if original != (types.Hash{}) {
		if current == (types.Hash{}) { // recreate slot (2.2.1.1)
			evm.StateDB.SubRefund(SstoreClearsScheduleRefundEIP2200)
		} else if value == (types.Hash{}) { // delete slot (2.2.1.2)
			evm.StateDB.AddRefund(SstoreClearsScheduleRefundEIP2200)
		}
	}
	if original == value {
		if original == (types.Hash{}) { // reset to original inexistent slot (2.2.2.1)
			evm.StateDB.AddRefund(SstoreSetGas - SloadGasEIP1884)
		} else { // reset to original existing slot (2.2.2.2)
			evm.StateDB.AddRefund(SstoreResetGas - SloadGasEIP1884)
		}
	}
	return SloadGasEIP1884, nil // dirty update (2.2)
}

// --- EIP-2929 state access (Berlin), EIP-3529 refunds (London) ---

// makeGasSStoreFunc builds the Berlin+ SSTORE gas function. clearingRefund
// is the EIP-2200 clearing schedule, reduced by EIP-3529.
func makeGasSStoreFunc(clearingRefund uint64) gasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		if contract.Gas.Remaining() <= SstoreSentryGasEIP2200 {
			return 0, ErrOutOfGas
		}
		var (
			y, x    = stack.Back(1), stack.Back(0)
			slot    = types.Hash(x.Bytes32())
			current = evm.StateDB.GetState(contract.Address, slot)
			cost    = uint64(0)
		)
		if _, slotPresent := evm.StateDB.SlotInAccessList(contract.Address, slot); !slotPresent {
			cost = ColdSloadCostEIP2929
			// The warming is journaled: a revert restores cold status.
			evm.StateDB.AddSlotToAccessList(contract.Address, slot)
		}
		value := types.Hash(y.Bytes32())
		if current == value { // noop (1)
			return cost + WarmStorageReadCostEIP2929, nil
		}
		original := evm.StateDB.GetCommittedState(contract.Address, slot)
		if original == current {
			if original == (types.Hash{}) { // create slot (2.1.1)
				return cost + SstoreSetGas, nil
			}
			if value == (types.Hash{}) { // delete slot (2.1.2b)
				evm.StateDB.AddRefund(clearingRefund)
			}
			// EIP-2929: SSTORE_RESET_GAS costs COLD_SLOAD_COST less.
			return cost + (SstoreResetGas - ColdSloadCostEIP2929), nil
		}
		if original != (types.Hash{}) {
			if current == (types.Hash{}) { // recreate slot (2.2.1.1)
				evm.StateDB.SubRefund(clearingRefund)
			} else if value == (types.Hash{}) { // delete slot (2.2.1.2)
				evm.StateDB.AddRefund(clearingRefund)
			}
		}
		if original == value {
			if original == (types.Hash{}) { // reset to original inexistent slot (2.2.2.1)
				evm.StateDB.AddRefund(SstoreSetGas - WarmStorageReadCostEIP2929)
			} else { // reset to original existing slot (2.2.2.2)
				evm.StateDB.AddRefund((SstoreResetGas - ColdSloadCostEIP2929) - WarmStorageReadCostEIP2929)
			}
		}
		return cost + WarmStorageReadCostEIP2929, nil // dirty update (2.2)
	}
}

var (
	gasSStoreEIP2929 = makeGasSStoreFunc(SstoreClearsScheduleRefundEIP2200)
	gasSStoreEIP3529 = makeGasSStoreFunc(SstoreClearsScheduleRefundEIP3529)
)

// gasSLoadEIP2929 charges 2100 on the first touch of a slot in the
// transaction and 100 afterwards. The warming is journaled.
func gasSLoadEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	loc := stack.Peek()
	slot := types.Hash(loc.Bytes32())
	if _, slotPresent := evm.StateDB.SlotInAccessList(contract.Address, slot); !slotPresent {
		evm.StateDB.AddSlotToAccessList(contract.Address, slot)
		return ColdSloadCostEIP2929, nil
	}
	return WarmStorageReadCostEIP2929, nil
}

// gasEip2929AccountCheck warms addr if cold and returns the cold
// surcharge; the warm cost is the operation's constant gas.
func gasEip2929AccountCheck(evm *EVM, addr types.Address) uint64 {
	if evm.StateDB.AddressInAccessList(addr) {
		return 0
	}
	evm.StateDB.AddAddressToAccessList(addr)
	return ColdAccountAccessCostEIP2929 - WarmStorageReadCostEIP2929
}

// makeGasAccountCheckFunc wraps gasEip2929AccountCheck for BALANCE,
// EXTCODESIZE and EXTCODEHASH.
func makeGasAccountCheckFunc() gasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		addr := types.BytesToAddress(stack.Peek().Bytes())
		return gasEip2929AccountCheck(evm, addr), nil
	}
}

var (
	gasBalanceEIP2929     = makeGasAccountCheckFunc()
	gasExtCodeSizeEIP2929 = makeGasAccountCheckFunc()
	gasExtCodeHashEIP2929 = makeGasAccountCheckFunc()
)

func gasExtCodeCopyEIP2929(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
	gas, err := gasExtCodeCopy(evm, contract, stack, mem, memorySize)
	if err != nil {
		return 0, err
	}
	addr := types.BytesToAddress(stack.Peek().Bytes())
	coldGas := gasEip2929AccountCheck(evm, addr)
	var overflow bool
	if gas, overflow = safeAdd(gas, coldGas); overflow {
		return 0, ErrGasUintOverflow
	}
	return gas, nil
}

// --- CALL family ---

// callGas applies the 63/64 rule (EIP-150): the child receives at most
// availableGas - availableGas/64 even when more is requested.
func callGas(isEip150 bool, availableGas, base uint64, callCost *uint256.Int) (uint64, error) {
	if isEip150 {
		availableGas = availableGas - base
		gas := availableGas - availableGas/64
		// If the requested amount fits a uint64 and is smaller, use it.
		if !callCost.IsUint64() || gas < callCost.Uint64() {
			return gas, nil
		}
	}
	if !callCost.IsUint64() {
		return 0, ErrGasUintOverflow
	}
	return callCost.Uint64(), nil
}

// gasCallVariant builds the pre-Berlin dynamic gas of the CALL family.
// transfersValue and newAccount surcharges only apply to CALL/CALLCODE.
func gasCallVariant(withValue, withNewAccount bool) gasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		memoryGas, err := memoryGasCost(mem, memorySize)
		if err != nil {
			return 0, err
		}
		var (
			gas      uint64
			overflow bool
		)
		if withValue {
			transfersValue := !stack.Back(2).IsZero()
			if transfersValue {
				gas += CallValueTransferGas
			}
			if withNewAccount && transfersValue {
				address := types.BytesToAddress(stack.Back(1).Bytes())
				if evm.chainRules.IsEIP158 {
					if evm.StateDB.Empty(address) {
						gas += CallNewAccountGas
					}
				} else if !evm.StateDB.Exist(address) {
					gas += CallNewAccountGas
				}
			}
		}
		if gas, overflow = safeAdd(gas, memoryGas); overflow {
			return 0, ErrGasUintOverflow
		}
		evm.callGasTemp, err = callGas(evm.chainRules.IsEIP150, contract.Gas.Remaining(), gas, stack.Back(0))
		if err != nil {
			return 0, err
		}
		if gas, overflow = safeAdd(gas, evm.callGasTemp); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

var (
	gasCall         = gasCallVariant(true, true)
	gasCallCode     = gasCallVariant(true, false)
	gasDelegateCall = gasCallVariant(false, false)
	gasStaticCall   = gasCallVariant(false, false)
)

// makeCallVariantGasEIP2929 layers the cold-account surcharge on top of a
// pre-Berlin call gas function. The warm cost (100) is the constant gas.
func makeCallVariantGasEIP2929(oldCalculator gasFunc) gasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		addr := types.BytesToAddress(stack.Back(1).Bytes())
		var coldCost uint64
		if !evm.StateDB.AddressInAccessList(addr) {
			evm.StateDB.AddAddressToAccessList(addr)
			coldCost = ColdAccountAccessCostEIP2929 - WarmStorageReadCostEIP2929
			// Charge the cold surcharge up front so the 63/64 computation
			// below sees the reduced budget.
			if !contract.UseGas(coldCost) {
				return 0, ErrOutOfGas
			}
		}
		gas, err := oldCalculator(evm, contract, stack, mem, memorySize)
		if err != nil {
			return gas, err
		}
		// Surface the surcharge in the reported cost for tracers; it was
		// already deducted, so hand it back first.
		contract.Gas.Reimburse(coldCost)
		var overflow bool
		if gas, overflow = safeAdd(gas, coldCost); overflow {
			return 0, ErrGasUintOverflow
		}
		return gas, nil
	}
}

var (
	gasCallEIP2929         = makeCallVariantGasEIP2929(gasCall)
	gasCallCodeEIP2929     = makeCallVariantGasEIP2929(gasCallCode)
	gasDelegateCallEIP2929 = makeCallVariantGasEIP2929(gasDelegateCall)
	gasStaticCallEIP2929   = makeCallVariantGasEIP2929(gasStaticCall)
)

// --- SELFDESTRUCT ---

// makeSelfdestructGasFunc builds SELFDESTRUCT gas: 5000 base (EIP-150),
// 25000 when the beneficiary must be created, 2600 cold surcharge
// (Berlin), and a 24000 refund before London (EIP-3529 removed it).
func makeSelfdestructGasFunc(refundsEnabled bool) gasFunc {
	return func(evm *EVM, contract *Contract, stack *Stack, mem *Memory, memorySize uint64) (uint64, error) {
		var (
			gas     uint64
			address = types.BytesToAddress(stack.Peek().Bytes())
		)
		if evm.chainRules.IsBerlin {
			if !evm.StateDB.AddressInAccessList(address) {
				evm.StateDB.AddAddressToAccessList(address)
				gas = ColdAccountAccessCostEIP2929
			}
		}
		if evm.chainRules.IsEIP150 {
			gas += SelfdestructGasEIP150
			var hasSurcharge bool
			if evm.chainRules.IsEIP158 {
				// EIP-161: surcharge only when value is moved to a dead account.
				hasSurcharge = evm.StateDB.Empty(address) && evm.StateDB.GetBalance(contract.Address).Sign() != 0
			} else {
				hasSurcharge = !evm.StateDB.Exist(address)
			}
			if hasSurcharge {
				gas += CreateBySelfdestructGas
			}
		}
		if refundsEnabled && !evm.StateDB.HasSelfDestructed(contract.Address) {
			evm.StateDB.AddRefund(SelfdestructRefundGas)
		}
		return gas, nil
	}
}

var (
	gasSelfdestruct        = makeSelfdestructGasFunc(true)
	gasSelfdestructEIP3529 = makeSelfdestructGasFunc(false)
)
