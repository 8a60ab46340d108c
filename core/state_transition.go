package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/nebulavm/nebula/core/state"
	"github.com/nebulavm/nebula/core/types"
	"github.com/nebulavm/nebula/core/vm"
	"github.com/nebulavm/nebula/log"
)

// Transaction driver errors. These reject the transaction as a whole: no
// state is mutated and no diff is produced.
var (
	ErrNonceTooLow         = errors.New("nonce too low")
	ErrNonceTooHigh        = errors.New("nonce too high")
	ErrIntrinsicGasTooLow  = errors.New("intrinsic gas too low")
	ErrInsufficientFunds   = errors.New("insufficient funds for gas * price + value")
	ErrSenderNotEOA        = errors.New("sender not an eoa")
	ErrFeeCapBelowBaseFee  = errors.New("max fee per gas less than block base fee")
	ErrTipAboveFeeCap      = errors.New("max priority fee per gas higher than max fee per gas")
	ErrDatabase            = errors.New("database error")
)

// Message is a call or create request against the engine, already
// unpacked from its transaction envelope.
type Message struct {
	From       types.Address
	To         *types.Address // nil means contract creation
	Nonce      uint64
	Value      *big.Int
	GasLimit   uint64
	GasPrice   *big.Int
	GasFeeCap  *big.Int // EIP-1559; nil for legacy messages
	GasTipCap  *big.Int
	Data       []byte
	AccessList types.AccessList
	BlobHashes []types.Hash

	// SkipNonceCheck disables nonce validation, for simulation callers.
	SkipNonceCheck bool
}

// ExecutionResult is the outcome of one message execution.
type ExecutionResult struct {
	UsedGas         uint64
	RefundedGas     uint64
	Err             error // VM error, nil on success
	ReturnData      []byte
	ContractAddress types.Address
	Logs            []*types.Log
}

// Failed reports whether execution ended in revert or halt.
func (r *ExecutionResult) Failed() bool { return r.Err != nil }

// Reverted reports whether execution ended with REVERT, in which case
// ReturnData carries the revert reason.
func (r *ExecutionResult) Reverted() bool {
	return errors.Is(r.Err, vm.ErrExecutionReverted)
}

// ExitCode returns the stable integer code of the outcome.
func (r *ExecutionResult) ExitCode() int { return vm.ExitCode(r.Err) }

// TransactionResult pairs an execution result with the state diff to be
// applied by the caller.
type TransactionResult struct {
	*ExecutionResult
	StateDiff state.StateDiff
}

// IntrinsicGas computes the gas a message costs before a single opcode
// runs: the base charge, calldata bytes, declared access list entries and,
// post-Shanghai, the init-code words of a creation.
func IntrinsicGas(data []byte, accessList types.AccessList, isCreate bool, rules vm.Rules) (uint64, error) {
	var gas uint64
	if isCreate && rules.IsHomestead {
		gas = vm.TxGasContractCreation
	} else {
		gas = vm.TxGas
	}
	if len(data) > 0 {
		var nz uint64
		for _, b := range data {
			if b != 0 {
				nz++
			}
		}
		nonZeroGas := vm.TxDataNonZeroGasFrontier
		if rules.IsIstanbul {
			nonZeroGas = vm.TxDataNonZeroGas
		}
		if (^uint64(0)-gas)/nonZeroGas < nz {
			return 0, vm.ErrGasUintOverflow
		}
		gas += nz * nonZeroGas

		z := uint64(len(data)) - nz
		if (^uint64(0)-gas)/vm.TxDataZeroGas < z {
			return 0, vm.ErrGasUintOverflow
		}
		gas += z * vm.TxDataZeroGas

		if isCreate && rules.IsShanghai {
			lenWords := (uint64(len(data)) + 31) / 32
			if (^uint64(0)-gas)/vm.InitCodeWordGas < lenWords {
				return 0, vm.ErrGasUintOverflow
			}
			gas += lenWords * vm.InitCodeWordGas
		}
	}
	if accessList != nil {
		gas += uint64(accessList.Addresses()) * vm.TxAccessListAddressGas
		gas += uint64(accessList.StorageKeys()) * vm.TxAccessListStorageKeyGas
	}
	return gas, nil
}

// effectiveGasPrice resolves the price actually paid per gas unit:
// min(feeCap, baseFee+tip) for EIP-1559 messages, GasPrice otherwise.
func effectiveGasPrice(msg *Message, baseFee *big.Int) *big.Int {
	if msg.GasFeeCap == nil || baseFee == nil || baseFee.Sign() <= 0 {
		if msg.GasPrice != nil {
			return new(big.Int).Set(msg.GasPrice)
		}
		if msg.GasFeeCap != nil {
			return new(big.Int).Set(msg.GasFeeCap)
		}
		return new(big.Int)
	}
	tip := msg.GasTipCap
	if tip == nil {
		tip = new(big.Int)
	}
	effective := new(big.Int).Add(baseFee, tip)
	if effective.Cmp(msg.GasFeeCap) > 0 {
		effective.Set(msg.GasFeeCap)
	}
	return effective
}

// prewarm marks everything EIP-2929 considers warm at transaction start:
// sender, destination, active precompiles, the declared access list, and
// the coinbase from Shanghai on (EIP-3651).
func prewarm(statedb *state.StateDB, msg *Message, coinbase types.Address, rules vm.Rules) {
	if !rules.IsBerlin {
		return
	}
	statedb.AddAddressToAccessList(msg.From)
	if msg.To != nil {
		statedb.AddAddressToAccessList(*msg.To)
	}
	for addr := range vm.ActivePrecompiles(rules) {
		statedb.AddAddressToAccessList(addr)
	}
	for _, tuple := range msg.AccessList {
		statedb.AddAddressToAccessList(tuple.Address)
		for _, key := range tuple.StorageKeys {
			statedb.AddSlotToAccessList(tuple.Address, key)
		}
	}
	if rules.IsShanghai {
		statedb.AddAddressToAccessList(coinbase)
	}
}

// ApplyMessage runs one message against the given state under the EVM's
// rules, performing the full driver sequence: validation, gas purchase,
// access list warm-up, execution, refund, and fee payment. The state diff
// is NOT finalized here; see Transact.
//
// A non-nil error means the message was invalid and nothing was executed,
// except an ErrDatabase error, which reports a state database failure met
// during execution; VM-level failures land in ExecutionResult.Err instead.
func ApplyMessage(evm *vm.EVM, statedb *state.StateDB, msg *Message, gp *GasPool) (*ExecutionResult, error) {
	rules := evm.ChainRules()

	if err := gp.SubGas(msg.GasLimit); err != nil {
		return nil, err
	}

	// Nonce validation.
	if !msg.SkipNonceCheck {
		stateNonce := statedb.GetNonce(msg.From)
		if msg.Nonce < stateNonce {
			gp.AddGas(msg.GasLimit)
			return nil, fmt.Errorf("%w: address %v, tx: %d state: %d", ErrNonceTooLow, msg.From, msg.Nonce, stateNonce)
		}
		if msg.Nonce > stateNonce {
			gp.AddGas(msg.GasLimit)
			return nil, fmt.Errorf("%w: address %v, tx: %d state: %d", ErrNonceTooHigh, msg.From, msg.Nonce, stateNonce)
		}
	}

	// EIP-3607: only EOAs may originate transactions.
	if codeHash := statedb.GetCodeHash(msg.From); codeHash != (types.Hash{}) && codeHash != types.EmptyCodeHash {
		gp.AddGas(msg.GasLimit)
		return nil, fmt.Errorf("%w: address %v, codehash %v", ErrSenderNotEOA, msg.From, codeHash)
	}

	// EIP-1559 fee cap sanity against the block base fee.
	baseFee := evm.Context.BaseFee
	if msg.GasFeeCap != nil && baseFee != nil && baseFee.Sign() > 0 {
		if msg.GasTipCap != nil && msg.GasFeeCap.Cmp(msg.GasTipCap) < 0 {
			gp.AddGas(msg.GasLimit)
			return nil, fmt.Errorf("%w: tip %s, cap %s", ErrTipAboveFeeCap, msg.GasTipCap, msg.GasFeeCap)
		}
		if msg.GasFeeCap.Cmp(baseFee) < 0 {
			gp.AddGas(msg.GasLimit)
			return nil, fmt.Errorf("%w: cap %s, baseFee %s", ErrFeeCapBelowBaseFee, msg.GasFeeCap, baseFee)
		}
	}

	isCreate := msg.To == nil

	// Intrinsic gas must fit the limit before anything is charged.
	igas, err := IntrinsicGas(msg.Data, msg.AccessList, isCreate, rules)
	if err != nil {
		gp.AddGas(msg.GasLimit)
		return nil, err
	}
	if igas > msg.GasLimit {
		gp.AddGas(msg.GasLimit)
		return nil, fmt.Errorf("%w: have %d, want %d", ErrIntrinsicGasTooLow, msg.GasLimit, igas)
	}

	// Buy gas: the sender must cover value plus the worst-case fee.
	gasPrice := effectiveGasPrice(msg, baseFee)
	maxPrice := gasPrice
	if msg.GasFeeCap != nil {
		maxPrice = msg.GasFeeCap
	}
	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(msg.GasLimit))
	balanceRequired := new(big.Int).Mul(maxPrice, new(big.Int).SetUint64(msg.GasLimit))
	if msg.Value != nil {
		balanceRequired = balanceRequired.Add(balanceRequired, msg.Value)
	}
	if statedb.GetBalance(msg.From).Cmp(balanceRequired) < 0 {
		gp.AddGas(msg.GasLimit)
		return nil, fmt.Errorf("%w: address %v", ErrInsufficientFunds, msg.From)
	}
	statedb.SubBalance(msg.From, gasCost)

	prewarm(statedb, msg, evm.Context.Coinbase, rules)

	// The nonce burns for calls here; creates burn it inside the EVM.
	if !isCreate {
		if _, err := statedb.IncNonce(msg.From); err != nil {
			return nil, err
		}
	}

	log.Debug("applying message",
		"from", msg.From, "to", msg.To, "gas", msg.GasLimit, "value", msg.Value, "create", isCreate)

	var (
		gasLeft      = msg.GasLimit - igas
		returnData   []byte
		contractAddr types.Address
		vmerr        error
	)
	if isCreate {
		returnData, contractAddr, gasLeft, vmerr = evm.Create(msg.From, msg.Data, gasLeft, msg.Value)
	} else {
		returnData, gasLeft, vmerr = evm.Call(msg.From, *msg.To, msg.Data, gasLeft, msg.Value)
	}

	// Database failures poison the whole transaction.
	if dberr := statedb.Error(); dberr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, dberr)
	}

	gasUsed := msg.GasLimit - gasLeft

	// Refund, capped at a fork-dependent fraction of the gas used.
	refund := statedb.GetRefund()
	if maxRefund := gasUsed / rules.RefundQuotient(); refund > maxRefund {
		refund = maxRefund
	}
	gasUsed -= refund
	gasLeft = msg.GasLimit - gasUsed

	// Hand back the unspent gas and pay the producer tip.
	if gasLeft > 0 {
		statedb.AddBalance(msg.From, new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLeft)))
	}
	gp.AddGas(gasLeft)

	tip := new(big.Int).Set(gasPrice)
	if baseFee != nil && baseFee.Sign() > 0 {
		tip = tip.Sub(tip, baseFee)
	}
	if tip.Sign() > 0 {
		statedb.AddBalance(evm.Context.Coinbase, new(big.Int).Mul(tip, new(big.Int).SetUint64(gasUsed)))
	}

	// Transient storage does not outlive the transaction (EIP-1153).
	statedb.ClearTransientStorage()

	result := &ExecutionResult{
		UsedGas:         gasUsed,
		RefundedGas:     refund,
		Err:             vmerr,
		ReturnData:      returnData,
		ContractAddress: contractAddr,
	}
	if vmerr == nil {
		result.Logs = statedb.Logs()
	}
	return result, nil
}

// Transact executes one message over a fresh overlay of db and finalizes
// the result into a flat state diff. This is the top-level entry point of
// the engine.
func Transact(config *ChainConfig, blockCtx vm.BlockContext, db state.Database, msg *Message) (*TransactionResult, error) {
	rules := config.Rules()
	statedb := state.New(db)

	// BLOCKHASH reads through the database unless the caller supplied its
	// own lookup.
	if blockCtx.GetHash == nil {
		blockCtx.GetHash = func(number uint64) types.Hash {
			hash, err := db.BlockHash(number)
			if err != nil {
				return types.Hash{}
			}
			return hash
		}
	}

	txCtx := vm.TxContext{
		Origin:     msg.From,
		GasPrice:   effectiveGasPrice(msg, blockCtx.BaseFee),
		BlobHashes: msg.BlobHashes,
	}
	var chainID *big.Int
	if config != nil {
		chainID = config.ChainID
	}
	evm := vm.NewEVM(blockCtx, txCtx, statedb, rules, vm.Config{ChainID: chainID})

	gasLimit := blockCtx.GasLimit
	if gasLimit == 0 {
		gasLimit = msg.GasLimit
	}
	gp := new(GasPool).AddGas(gasLimit)

	res, err := ApplyMessage(evm, statedb, msg, gp)
	if err != nil {
		return nil, err
	}
	diff := statedb.Finalize(rules.IsEIP158)
	return &TransactionResult{ExecutionResult: res, StateDiff: diff}, nil
}
