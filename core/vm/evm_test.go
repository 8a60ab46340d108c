package vm_test

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/nebulavm/nebula/core/state"
	"github.com/nebulavm/nebula/core/types"
	"github.com/nebulavm/nebula/core/vm"
	"github.com/nebulavm/nebula/crypto"
)

var (
	caller   = types.HexToAddress("0x1000000000000000000000000000000000000001")
	receiver = types.HexToAddress("0x2000000000000000000000000000000000000002")
)

func newTestEVM(t *testing.T, spec vm.SpecID) (*vm.EVM, *state.StateDB, *state.MemDB) {
	t.Helper()
	db := state.NewMemDB()
	db.CreateAccount(caller, big.NewInt(1e18), 0)
	statedb := state.New(db)
	blockCtx := vm.BlockContext{
		BlockNumber: big.NewInt(100),
		Time:        1700000000,
		GasLimit:    30_000_000,
		Coinbase:    types.HexToAddress("0xc0ffee0000000000000000000000000000000000"),
		BaseFee:     big.NewInt(7),
	}
	txCtx := vm.TxContext{Origin: caller, GasPrice: big.NewInt(10)}
	evm := vm.NewEVM(blockCtx, txCtx, statedb, vm.NewRules(spec), vm.Config{ChainID: big.NewInt(1)})
	return evm, statedb, db
}

func TestCallValueTransfer(t *testing.T) {
	evm, statedb, _ := newTestEVM(t, vm.Cancun)

	ret, gasLeft, err := evm.Call(caller, receiver, nil, 50000, big.NewInt(1))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if ret != nil {
		t.Errorf("ret = %x, want empty", ret)
	}
	if gasLeft != 50000 {
		t.Errorf("gasLeft = %d, want 50000 (no code to run)", gasLeft)
	}
	if got := statedb.GetBalance(receiver); got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("receiver balance = %s, want 1", got)
	}
	want := new(big.Int).Sub(big.NewInt(1e18), big.NewInt(1))
	if got := statedb.GetBalance(caller); got.Cmp(want) != 0 {
		t.Errorf("caller balance = %s, want %s", got, want)
	}
}

func TestCallInsufficientBalance(t *testing.T) {
	evm, statedb, _ := newTestEVM(t, vm.Cancun)

	big2e18 := new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18))
	_, gasLeft, err := evm.Call(caller, receiver, nil, 50000, big2e18)
	if err != vm.ErrInsufficientBalance {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if gasLeft != 50000 {
		t.Errorf("gasLeft = %d, want all 50000 back", gasLeft)
	}
	if statedb.GetBalance(receiver).Sign() != 0 {
		t.Error("receiver credited on failed transfer")
	}
}

func TestColdWarmSloadGas(t *testing.T) {
	evm, _, db := newTestEVM(t, vm.Berlin)

	// PUSH1 0, SLOAD, POP, PUSH1 0, SLOAD, STOP: the first SLOAD is cold
	// (2100), the second warm (100).
	code := []byte{0x60, 0x00, 0x54, 0x50, 0x60, 0x00, 0x54, 0x00}
	db.CreateAccount(receiver, big.NewInt(0), 1)
	db.SetCode(receiver, code)

	_, gasLeft, err := evm.Call(caller, receiver, nil, 50000, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	const wantCost = 3 + 2100 + 2 + 3 + 100
	if got := 50000 - gasLeft; got != wantCost {
		t.Errorf("gas cost = %d, want %d", got, wantCost)
	}
}

// revertingContract stores 0xdead at slot 1, then reverts with 0xcafe.
var revertingContract = []byte{
	0x61, 0xde, 0xad, // PUSH2 0xdead
	0x60, 0x01, // PUSH1 1
	0x55,             // SSTORE
	0x61, 0xca, 0xfe, // PUSH2 0xcafe
	0x60, 0x00, // PUSH1 0
	0x52,       // MSTORE
	0x60, 0x02, // PUSH1 2
	0x60, 0x1e, // PUSH1 30
	0xfd, // REVERT
}

func TestRevertAtomicity(t *testing.T) {
	evm, statedb, db := newTestEVM(t, vm.Cancun)

	contractB := types.HexToAddress("0xb00000000000000000000000000000000000000b")
	db.CreateAccount(contractB, big.NewInt(0), 1)
	db.SetCode(contractB, revertingContract)

	// Contract A calls B, stores the success flag at slot 0, then returns
	// the full return data of the sub-call.
	var codeA []byte
	codeA = append(codeA, 0x60, 0x00) // retSize
	codeA = append(codeA, 0x60, 0x00) // retOffset
	codeA = append(codeA, 0x60, 0x00) // inSize
	codeA = append(codeA, 0x60, 0x00) // inOffset
	codeA = append(codeA, 0x60, 0x00) // value
	codeA = append(codeA, 0x73)       // PUSH20 B
	codeA = append(codeA, contractB.Bytes()...)
	codeA = append(codeA, 0x61, 0xff, 0xff) // PUSH2 gas
	codeA = append(codeA, 0xf1)             // CALL
	codeA = append(codeA, 0x60, 0x00, 0x55) // SSTORE slot0 = success flag
	codeA = append(codeA, 0x3d, 0x60, 0x00, 0x60, 0x00, 0x3e) // RETURNDATACOPY(0, 0, rds)
	codeA = append(codeA, 0x3d, 0x60, 0x00, 0xf3)             // RETURN(0, rds)

	contractA := types.HexToAddress("0xa00000000000000000000000000000000000000a")
	db.CreateAccount(contractA, big.NewInt(0), 1)
	db.SetCode(contractA, codeA)

	ret, _, err := evm.Call(caller, contractA, nil, 500000, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(ret, []byte{0xca, 0xfe}) {
		t.Errorf("return data = %x, want cafe", ret)
	}
	// The reverted SSTORE in B must not be visible.
	slot1 := types.BytesToHash([]byte{1})
	if got := statedb.GetState(contractB, slot1); got != (types.Hash{}) {
		t.Errorf("B slot 1 = %x, want zero after revert", got)
	}
	// A saw a 0 pushed for the failed call.
	if got := statedb.GetState(contractA, types.Hash{}); got != (types.Hash{}) {
		t.Errorf("A slot 0 = %x, want zero", got)
	}
}

func TestCreateDeploysCode(t *testing.T) {
	evm, statedb, _ := newTestEVM(t, vm.Cancun)

	runtime := []byte{0x60, 0x05, 0x60, 0x03, 0x01, 0x00}
	// PUSH6 <runtime>, PUSH1 0, MSTORE, PUSH1 6, PUSH1 26, RETURN
	initCode := append([]byte{0x65}, runtime...)
	initCode = append(initCode, 0x60, 0x00, 0x52, 0x60, 0x06, 0x60, 0x1a, 0xf3)

	ret, addr, gasLeft, err := evm.Create(caller, initCode, 200000, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !bytes.Equal(ret, runtime) {
		t.Errorf("init code returned %x, want %x", ret, runtime)
	}
	if got := statedb.GetCode(addr); !bytes.Equal(got, runtime) {
		t.Errorf("deployed code = %x, want %x", got, runtime)
	}
	if nonce := statedb.GetNonce(caller); nonce != 1 {
		t.Errorf("caller nonce = %d, want 1", nonce)
	}
	if nonce := statedb.GetNonce(addr); nonce != 1 {
		t.Errorf("contract nonce = %d, want 1 (EIP-161)", nonce)
	}
	if gasLeft == 0 {
		t.Error("expected leftover gas on successful create")
	}
	if want := crypto.CreateAddress(caller, 0); addr != want {
		t.Errorf("contract address = %s, want %s", addr, want)
	}
}

func TestCreate2AddressDeterminism(t *testing.T) {
	evm, _, db := newTestEVM(t, vm.Cancun)

	zero := types.Address{}
	db.CreateAccount(zero, big.NewInt(1), 0)

	// keccak(0xff ++ 0x00*20 ++ 0x00*32 ++ keccak(0x00))[12:]
	_, addr, _, err := evm.Create2(zero, []byte{0x00}, 100000, nil, uint256.NewInt(0))
	if err != nil {
		t.Fatalf("Create2: %v", err)
	}
	want := types.HexToAddress("0x4D1A2e2bB4F88F0250f26Ffff098B0b30B26BF38")
	if addr != want {
		t.Errorf("CREATE2 address = %s, want %s", addr, want)
	}
}

func TestStaticCallBlocksWrites(t *testing.T) {
	evm, _, db := newTestEVM(t, vm.Cancun)

	// PUSH1 1, PUSH1 0, SSTORE
	code := []byte{0x60, 0x01, 0x60, 0x00, 0x55}
	db.CreateAccount(receiver, big.NewInt(0), 1)
	db.SetCode(receiver, code)

	_, gasLeft, err := evm.StaticCall(caller, receiver, nil, 50000)
	if err != vm.ErrWriteProtection {
		t.Fatalf("err = %v, want ErrWriteProtection", err)
	}
	if gasLeft != 0 {
		t.Errorf("gasLeft = %d, want 0 (halt consumes the frame's gas)", gasLeft)
	}
}

func TestCreateCollision(t *testing.T) {
	evm, _, db := newTestEVM(t, vm.Cancun)

	target := crypto.CreateAddress(caller, 0)
	db.CreateAccount(target, big.NewInt(0), 1) // nonzero nonce at the spot

	_, _, gasLeft, err := evm.Create(caller, []byte{0x00}, 100000, nil)
	if err != vm.ErrContractAddressCollision {
		t.Fatalf("err = %v, want ErrContractAddressCollision", err)
	}
	if gasLeft != 0 {
		t.Errorf("gasLeft = %d, want 0 (collision consumes all gas)", gasLeft)
	}
}

func TestCreateRejectsEFCode(t *testing.T) {
	evm, _, _ := newTestEVM(t, vm.Cancun)

	// Deploy a single 0xEF byte: MSTORE8(0, 0xEF), RETURN(0, 1).
	initCode := []byte{0x60, 0xef, 0x60, 0x00, 0x53, 0x60, 0x01, 0x60, 0x00, 0xf3}
	_, _, _, err := evm.Create(caller, initCode, 100000, nil)
	if err != vm.ErrInvalidCode {
		t.Fatalf("err = %v, want ErrInvalidCode", err)
	}
}

func TestInvalidJumpHalts(t *testing.T) {
	evm, _, db := newTestEVM(t, vm.Cancun)

	// PUSH1 3, JUMP: position 3 is not a JUMPDEST.
	db.CreateAccount(receiver, big.NewInt(0), 1)
	db.SetCode(receiver, []byte{0x60, 0x03, 0x56, 0x00})

	_, gasLeft, err := evm.Call(caller, receiver, nil, 50000, nil)
	if err != vm.ErrInvalidJump {
		t.Fatalf("err = %v, want ErrInvalidJump", err)
	}
	if gasLeft != 0 {
		t.Errorf("gasLeft = %d, want 0", gasLeft)
	}
}

func TestInvalidOpcodeExitCode(t *testing.T) {
	evm, _, db := newTestEVM(t, vm.Cancun)

	db.CreateAccount(receiver, big.NewInt(0), 1)
	db.SetCode(receiver, []byte{0x0c}) // undefined opcode

	_, _, err := evm.Call(caller, receiver, nil, 50000, nil)
	if err == nil {
		t.Fatal("expected error for undefined opcode")
	}
	if code := vm.ExitCode(err); code != vm.ExitInvalidOpcode {
		t.Errorf("ExitCode = %d, want ExitInvalidOpcode", code)
	}
}

func TestOutOfGasOnMemoryExpansion(t *testing.T) {
	evm, _, db := newTestEVM(t, vm.Cancun)

	// MSTORE at an absurd offset: PUSH1 1, PUSH32 2^255, MSTORE.
	code := []byte{0x60, 0x01, 0x7f}
	offset := make([]byte, 32)
	offset[0] = 0x80
	code = append(code, offset...)
	code = append(code, 0x52)
	db.CreateAccount(receiver, big.NewInt(0), 1)
	db.SetCode(receiver, code)

	_, gasLeft, err := evm.Call(caller, receiver, nil, 100000, nil)
	if err == nil {
		t.Fatal("expected out-of-gas error")
	}
	if code := vm.ExitCode(err); code != vm.ExitOutOfGas {
		t.Errorf("ExitCode = %d, want ExitOutOfGas", code)
	}
	if gasLeft != 0 {
		t.Errorf("gasLeft = %d, want 0", gasLeft)
	}
}

func TestSelfdestructMovesBalance(t *testing.T) {
	evm, statedb, db := newTestEVM(t, vm.London)

	// PUSH20 beneficiary, SELFDESTRUCT.
	beneficiary := types.HexToAddress("0xbeef000000000000000000000000000000000000")
	code := append([]byte{0x73}, beneficiary.Bytes()...)
	code = append(code, 0xff)
	db.CreateAccount(receiver, big.NewInt(500), 1)
	db.SetCode(receiver, code)

	_, _, err := evm.Call(caller, receiver, nil, 100000, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := statedb.GetBalance(beneficiary); got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("beneficiary balance = %s, want 500", got)
	}
	if !statedb.HasSelfDestructed(receiver) {
		t.Error("contract not marked self-destructed")
	}
	if statedb.GetBalance(receiver).Sign() != 0 {
		t.Error("self-destructed contract kept its balance")
	}
}

func TestSelfdestruct6780OnlyCreatedInTx(t *testing.T) {
	evm, statedb, db := newTestEVM(t, vm.Cancun)

	beneficiary := types.HexToAddress("0xbeef000000000000000000000000000000000000")
	code := append([]byte{0x73}, beneficiary.Bytes()...)
	code = append(code, 0xff)
	db.CreateAccount(receiver, big.NewInt(500), 1)
	db.SetCode(receiver, code)

	_, _, err := evm.Call(caller, receiver, nil, 100000, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	// Pre-existing account: balance moves but no deletion under Cancun.
	if statedb.HasSelfDestructed(receiver) {
		t.Error("pre-existing account scheduled for deletion under EIP-6780")
	}
	if got := statedb.GetBalance(beneficiary); got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("beneficiary balance = %s, want 500", got)
	}
}
