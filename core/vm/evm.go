package vm

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/nebulavm/nebula/core/types"
	"github.com/nebulavm/nebula/crypto"
)

// EVM is the execution environment of one transaction. It owns the frame
// management: nested calls and creates, value transfer, depth limiting,
// static-call propagation and checkpoint commit/revert against the
// journaled StateDB.
//
// The EVM is not safe for concurrent use; one instance drives exactly one
// transaction at a time.
type EVM struct {
	Context   BlockContext
	TxContext TxContext
	StateDB   StateDB
	Config    Config

	chainID    *big.Int
	chainRules Rules
	table      JumpTable

	depth    int
	readOnly bool

	// returnData is the buffer RETURNDATASIZE/RETURNDATACOPY read from,
	// holding the output of the most recent completed sub-call.
	returnData []byte

	// callGasTemp carries the 63/64-resolved gas from the CALL dynamic gas
	// function to the opcode handler.
	callGasTemp uint64

	precompiles map[types.Address]PrecompiledContract
	analyses    map[types.Hash]bitvec
}

// NewEVM creates an EVM for one transaction under the given rules.
func NewEVM(blockCtx BlockContext, txCtx TxContext, statedb StateDB, rules Rules, config Config) *EVM {
	chainID := config.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return &EVM{
		Context:     blockCtx,
		TxContext:   txCtx,
		StateDB:     statedb,
		Config:      config,
		chainID:     chainID,
		chainRules:  rules,
		table:       NewJumpTable(rules),
		precompiles: ActivePrecompiles(rules),
		analyses:    make(map[types.Hash]bitvec),
	}
}

// ChainRules returns the active fork rules.
func (evm *EVM) ChainRules() Rules {
	return evm.chainRules
}

// Depth returns the current call nesting depth.
func (evm *EVM) Depth() int {
	return evm.depth
}

// SetPrecompiles overrides the active precompile set.
func (evm *EVM) SetPrecompiles(p map[types.Address]PrecompiledContract) {
	evm.precompiles = p
}

// precompile looks up a precompiled contract under the active rules.
func (evm *EVM) precompile(addr types.Address) (PrecompiledContract, bool) {
	p, ok := evm.precompiles[addr]
	return p, ok
}

// codeAnalysis returns the jumpdest bitmap for the given code, cached by
// code hash. Init code has no stable hash and is analyzed per frame.
func (evm *EVM) codeAnalysis(hash types.Hash, code []byte) bitvec {
	if hash == (types.Hash{}) || hash == types.EmptyCodeHash {
		return nil
	}
	if a, ok := evm.analyses[hash]; ok {
		return a
	}
	a := codeBitmap(code)
	evm.analyses[hash] = a
	return a
}

// transfer moves value between accounts. Both sides are journaled and
// marked touched even for a zero amount, which matters for the EIP-161
// sweep.
func (evm *EVM) transfer(from, to types.Address, value *big.Int) {
	if value == nil {
		value = new(big.Int)
	}
	evm.StateDB.SubBalance(from, value)
	evm.StateDB.AddBalance(to, value)
}

// canTransfer reports whether from can afford the value.
func (evm *EVM) canTransfer(from types.Address, value *big.Int) bool {
	if value == nil || value.Sign() <= 0 {
		return true
	}
	return evm.StateDB.GetBalance(from).Cmp(value) >= 0
}

// captureBegin invokes the right tracer entry hook for a frame.
func (evm *EVM) captureBegin(typ OpCode, from, to types.Address, create bool, input []byte, gas uint64, value *big.Int) {
	if evm.Config.Tracer == nil {
		return
	}
	if evm.depth == 0 {
		evm.Config.Tracer.CaptureStart(from, to, create, input, gas, value)
	} else {
		evm.Config.Tracer.CaptureEnter(typ, from, to, input, gas, value)
	}
}

func (evm *EVM) captureEnd(startGas uint64, ret []byte, leftOverGas uint64, err error) {
	if evm.Config.Tracer == nil {
		return
	}
	if evm.depth == 0 {
		evm.Config.Tracer.CaptureEnd(ret, startGas-leftOverGas, err)
	} else {
		evm.Config.Tracer.CaptureExit(ret, startGas-leftOverGas, err)
	}
}

// Call executes a message call to addr with the given input and value.
// A depth or balance failure returns before any checkpoint is taken and
// hands back all of the gas. Past that point, on any error but a revert the
// checkpoint is undone and all passed gas is consumed; a revert also undoes
// the checkpoint but hands back the remaining gas along with the revert data.
func (evm *EVM) Call(caller, addr types.Address, input []byte, gas uint64, value *big.Int) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth >= CallStackLimit {
		return nil, gas, ErrDepth
	}
	if !evm.canTransfer(caller, value) {
		return nil, gas, ErrInsufficientBalance
	}
	evm.captureBegin(CALL, caller, addr, false, input, gas, value)

	snapshot := evm.StateDB.Snapshot()
	p, isPrecompile := evm.precompile(addr)

	if !evm.StateDB.Exist(addr) {
		if !isPrecompile && evm.chainRules.IsEIP158 && (value == nil || value.Sign() == 0) {
			// No account is materialized by a valueless touch after
			// EIP-161.
			evm.captureEnd(gas, nil, gas, nil)
			return nil, gas, nil
		}
		evm.StateDB.CreateAccount(addr)
	}
	evm.transfer(caller, addr, value)

	startGas := gas
	if isPrecompile {
		ret, gas, err = RunPrecompiledContract(p, input, gas)
	} else {
		code := evm.StateDB.GetCode(addr)
		if len(code) != 0 {
			contract := NewContract(caller, addr, value, gas)
			contract.SetCallCode(evm.StateDB.GetCodeHash(addr), code)
			contract.analysis = evm.codeAnalysis(contract.CodeHash, code)
			evm.depth++
			ret, err = evm.run(contract, input, false)
			evm.depth--
			gas = contract.Gas.Remaining()
		}
	}

	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			gas = 0
		}
	}
	evm.captureEnd(startGas, ret, gas, err)
	return ret, gas, err
}

// CallCode executes addr's code against the caller's own storage and
// balance. The value is charged against the caller but not moved.
func (evm *EVM) CallCode(caller, addr types.Address, input []byte, gas uint64, value *big.Int) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth >= CallStackLimit {
		return nil, gas, ErrDepth
	}
	if !evm.canTransfer(caller, value) {
		return nil, gas, ErrInsufficientBalance
	}
	evm.captureBegin(CALLCODE, caller, addr, false, input, gas, value)

	snapshot := evm.StateDB.Snapshot()
	startGas := gas

	if p, isPrecompile := evm.precompile(addr); isPrecompile {
		ret, gas, err = RunPrecompiledContract(p, input, gas)
	} else {
		code := evm.StateDB.GetCode(addr)
		if len(code) != 0 {
			contract := NewContract(caller, caller, value, gas)
			contract.SetCallCode(evm.StateDB.GetCodeHash(addr), code)
			contract.analysis = evm.codeAnalysis(contract.CodeHash, code)
			evm.depth++
			ret, err = evm.run(contract, input, false)
			evm.depth--
			gas = contract.Gas.Remaining()
		}
	}

	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			gas = 0
		}
	}
	evm.captureEnd(startGas, ret, gas, err)
	return ret, gas, err
}

// DelegateCall executes addr's code in the parent frame's full context:
// same storage address, same caller, same apparent value.
func (evm *EVM) DelegateCall(parent *Contract, addr types.Address, input []byte, gas uint64) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth >= CallStackLimit {
		return nil, gas, ErrDepth
	}
	evm.captureBegin(DELEGATECALL, parent.Address, addr, false, input, gas, nil)

	snapshot := evm.StateDB.Snapshot()
	startGas := gas

	if p, isPrecompile := evm.precompile(addr); isPrecompile {
		ret, gas, err = RunPrecompiledContract(p, input, gas)
	} else {
		code := evm.StateDB.GetCode(addr)
		if len(code) != 0 {
			contract := NewContract(parent.CallerAddress, parent.Address, parent.Value(), gas)
			contract.SetCallCode(evm.StateDB.GetCodeHash(addr), code)
			contract.analysis = evm.codeAnalysis(contract.CodeHash, code)
			evm.depth++
			ret, err = evm.run(contract, input, false)
			evm.depth--
			gas = contract.Gas.Remaining()
		}
	}

	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			gas = 0
		}
	}
	evm.captureEnd(startGas, ret, gas, err)
	return ret, gas, err
}

// StaticCall executes a read-only call: the child frame and everything
// below it may not mutate state.
func (evm *EVM) StaticCall(caller, addr types.Address, input []byte, gas uint64) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth >= CallStackLimit {
		return nil, gas, ErrDepth
	}
	evm.captureBegin(STATICCALL, caller, addr, false, input, gas, nil)

	// Even a static call counts as a touch of the target.
	snapshot := evm.StateDB.Snapshot()
	evm.StateDB.AddBalance(addr, new(big.Int))
	startGas := gas

	if p, isPrecompile := evm.precompile(addr); isPrecompile {
		ret, gas, err = RunPrecompiledContract(p, input, gas)
	} else {
		code := evm.StateDB.GetCode(addr)
		if len(code) != 0 {
			contract := NewContract(caller, addr, new(big.Int), gas)
			contract.SetCallCode(evm.StateDB.GetCodeHash(addr), code)
			contract.analysis = evm.codeAnalysis(contract.CodeHash, code)
			evm.depth++
			ret, err = evm.run(contract, input, true)
			evm.depth--
			gas = contract.Gas.Remaining()
		}
	}

	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			gas = 0
		}
	}
	evm.captureEnd(startGas, ret, gas, err)
	return ret, gas, err
}

// Create deploys a contract at keccak(rlp(caller, nonce))[12:].
func (evm *EVM) Create(caller types.Address, code []byte, gas uint64, value *big.Int) (ret []byte, contractAddr types.Address, leftOverGas uint64, err error) {
	contractAddr = crypto.CreateAddress(caller, evm.StateDB.GetNonce(caller))
	return evm.create(caller, code, gas, value, contractAddr, CREATE)
}

// Create2 deploys a contract at keccak(0xff ++ caller ++ salt ++
// keccak(initCode))[12:] (EIP-1014).
func (evm *EVM) Create2(caller types.Address, code []byte, gas uint64, endowment *big.Int, salt *uint256.Int) (ret []byte, contractAddr types.Address, leftOverGas uint64, err error) {
	initCodeHash := crypto.Keccak256(code)
	contractAddr = crypto.CreateAddress2(caller, types.Hash(salt.Bytes32()), initCodeHash)
	return evm.create(caller, code, gas, endowment, contractAddr, CREATE2)
}

// create is the shared implementation of CREATE and CREATE2.
func (evm *EVM) create(caller types.Address, code []byte, gas uint64, value *big.Int, address types.Address, typ OpCode) ([]byte, types.Address, uint64, error) {
	if evm.depth >= CallStackLimit {
		return nil, types.Address{}, gas, ErrDepth
	}
	if !evm.canTransfer(caller, value) {
		return nil, types.Address{}, gas, ErrInsufficientBalance
	}
	if len(code) > evm.chainRules.MaxInitCodeSize() {
		return nil, types.Address{}, gas, ErrMaxInitCodeSizeExceeded
	}

	nonce := evm.StateDB.GetNonce(caller)
	if nonce+1 < nonce {
		return nil, types.Address{}, gas, ErrNonceUintOverflow
	}
	evm.StateDB.SetNonce(caller, nonce+1)

	// The created address becomes warm before the checkpoint, so the
	// warming survives a failed creation (EIP-2929).
	if evm.chainRules.IsBerlin {
		evm.StateDB.AddAddressToAccessList(address)
	}

	// Collision: a nonzero nonce or deployed code at the target aborts
	// and consumes all gas.
	contractHash := evm.StateDB.GetCodeHash(address)
	if evm.StateDB.GetNonce(address) != 0 ||
		(contractHash != (types.Hash{}) && contractHash != types.EmptyCodeHash) {
		return nil, types.Address{}, 0, ErrContractAddressCollision
	}

	evm.captureBegin(typ, caller, address, true, code, gas, value)

	snapshot := evm.StateDB.Snapshot()
	evm.StateDB.CreateAccount(address)
	if evm.chainRules.IsEIP158 {
		evm.StateDB.SetNonce(address, 1)
	}
	evm.transfer(caller, address, value)

	contract := NewContract(caller, address, value, gas)
	contract.SetCallCode(types.Hash{}, code)

	startGas := gas
	evm.depth++
	ret, err := evm.run(contract, nil, false)
	evm.depth--

	if err == nil {
		err = evm.depositCode(contract, address, ret)
	}
	if err != nil && (evm.chainRules.IsHomestead || err != ErrCodeStoreOutOfGas) {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted {
			contract.Gas.ConsumeAll()
		}
	}
	evm.captureEnd(startGas, ret, contract.Gas.Remaining(), err)
	return ret, address, contract.Gas.Remaining(), err
}

// depositCode validates and stores the code returned by init code,
// charging 200 gas per byte.
func (evm *EVM) depositCode(contract *Contract, address types.Address, ret []byte) error {
	if evm.chainRules.IsEIP158 && len(ret) > MaxCodeSize {
		return ErrMaxCodeSizeExceeded
	}
	if evm.chainRules.IsLondon && len(ret) > 0 && ret[0] == 0xEF {
		return ErrInvalidCode
	}
	if !contract.UseGas(uint64(len(ret)) * CreateDataGas) {
		// Frontier kept the account with empty code when the deposit
		// could not be paid; Homestead made it a failure.
		if evm.chainRules.IsHomestead {
			return ErrCodeStoreOutOfGas
		}
		return nil
	}
	evm.StateDB.SetCode(address, ret)
	return nil
}
