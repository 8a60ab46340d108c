package core

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/nebulavm/nebula/core/state"
	"github.com/nebulavm/nebula/core/types"
	"github.com/nebulavm/nebula/core/vm"
)

var (
	sender   = types.HexToAddress("0xaaaa000000000000000000000000000000000001")
	dest     = types.HexToAddress("0xbbbb000000000000000000000000000000000002")
	coinbase = types.HexToAddress("0xcccc000000000000000000000000000000000003")
)

func testBlockContext() vm.BlockContext {
	return vm.BlockContext{
		BlockNumber: big.NewInt(100),
		Time:        1700000000,
		GasLimit:    30_000_000,
		Coinbase:    coinbase,
	}
}

func fundedDB(balance int64) *state.MemDB {
	db := state.NewMemDB()
	db.CreateAccount(sender, big.NewInt(balance), 0)
	return db
}

func TestTransactPureTransfer(t *testing.T) {
	db := fundedDB(1_000_000_000)

	msg := &Message{
		From:     sender,
		To:       &dest,
		Nonce:    0,
		Value:    big.NewInt(1),
		GasLimit: 100000,
		GasPrice: big.NewInt(1),
	}
	res, err := Transact(TestChainConfig, testBlockContext(), db, msg)
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if res.Failed() {
		t.Fatalf("execution failed: %v", res.Err)
	}
	if res.UsedGas != vm.TxGas {
		t.Errorf("UsedGas = %d, want %d", res.UsedGas, vm.TxGas)
	}
	if len(res.Logs) != 0 {
		t.Errorf("logs = %d, want 0", len(res.Logs))
	}

	// Sender pays intrinsic gas plus the transferred wei.
	wantSender := big.NewInt(1_000_000_000 - 21000 - 1)
	if got := res.StateDiff[sender].Balance; got.Cmp(wantSender) != 0 {
		t.Errorf("sender balance = %s, want %s", got, wantSender)
	}
	if got := res.StateDiff[sender].Nonce; got != 1 {
		t.Errorf("sender nonce = %d, want 1", got)
	}
	if got := res.StateDiff[dest].Balance; got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("dest balance = %s, want 1", got)
	}
	if got := res.StateDiff[coinbase].Balance; got.Cmp(big.NewInt(21000)) != 0 {
		t.Errorf("coinbase balance = %s, want 21000", got)
	}
}

func TestTransactGasConservation(t *testing.T) {
	db := fundedDB(1_000_000_000)

	msg := &Message{
		From:     sender,
		To:       &dest,
		Value:    big.NewInt(7),
		GasLimit: 60000,
		GasPrice: big.NewInt(3),
	}
	res, err := Transact(TestChainConfig, testBlockContext(), db, msg)
	if err != nil {
		t.Fatal(err)
	}
	// gas_limit = gas_used + gas refunded to the caller: the sender's total
	// spend must be exactly used*price + value.
	spent := new(big.Int).Sub(big.NewInt(1_000_000_000), res.StateDiff[sender].Balance)
	want := new(big.Int).SetUint64(res.UsedGas * 3)
	want.Add(want, big.NewInt(7))
	if spent.Cmp(want) != 0 {
		t.Errorf("sender spent %s, want %s", spent, want)
	}
}

func TestTransactIntrinsicGasTooLow(t *testing.T) {
	db := fundedDB(1_000_000_000)

	msg := &Message{
		From:     sender,
		To:       &dest,
		GasLimit: vm.TxGas - 1,
		GasPrice: big.NewInt(1),
	}
	_, err := Transact(TestChainConfig, testBlockContext(), db, msg)
	if !errors.Is(err, ErrIntrinsicGasTooLow) {
		t.Fatalf("err = %v, want ErrIntrinsicGasTooLow", err)
	}
}

func TestTransactNonceValidation(t *testing.T) {
	db := fundedDB(1_000_000_000)

	msg := &Message{
		From:     sender,
		To:       &dest,
		Nonce:    5,
		GasLimit: 30000,
		GasPrice: big.NewInt(1),
	}
	_, err := Transact(TestChainConfig, testBlockContext(), db, msg)
	if !errors.Is(err, ErrNonceTooHigh) {
		t.Fatalf("err = %v, want ErrNonceTooHigh", err)
	}
}

func TestTransactDeployAndCallAddContract(t *testing.T) {
	db := fundedDB(1_000_000_000)

	// Runtime: PUSH1 5, PUSH1 3, ADD, STOP. Init code returns it from
	// memory offset 26.
	runtime := []byte{0x60, 0x05, 0x60, 0x03, 0x01, 0x00}
	initCode := append([]byte{0x65}, runtime...)
	initCode = append(initCode, 0x60, 0x00, 0x52, 0x60, 0x06, 0x60, 0x1a, 0xf3)

	create := &Message{
		From:     sender,
		Nonce:    0,
		GasLimit: 200000,
		GasPrice: big.NewInt(1),
		Data:     initCode,
	}
	res, err := Transact(TestChainConfig, testBlockContext(), db, create)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Failed() {
		t.Fatalf("create failed: %v", res.Err)
	}
	contractAddr := res.ContractAddress
	acct := res.StateDiff[contractAddr]
	if acct == nil {
		t.Fatal("created contract missing from diff")
	}
	if !bytes.Equal(acct.Code, runtime) {
		t.Fatalf("deployed code = %x, want %x", acct.Code, runtime)
	}
	db.ApplyDiff(res.StateDiff)

	call := &Message{
		From:     sender,
		To:       &contractAddr,
		Nonce:    1,
		GasLimit: 100000,
		GasPrice: big.NewInt(1),
	}
	res, err = Transact(TestChainConfig, testBlockContext(), db, call)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.Failed() {
		t.Fatalf("call failed: %v", res.Err)
	}
	// 21000 intrinsic + PUSH1 + PUSH1 + ADD.
	if want := vm.TxGas + 9; res.UsedGas != want {
		t.Errorf("UsedGas = %d, want %d", res.UsedGas, want)
	}
	if len(res.ReturnData) != 0 {
		t.Errorf("return data = %x, want empty (STOP)", res.ReturnData)
	}
}

func TestTransactHaltConsumesAllGas(t *testing.T) {
	db := fundedDB(1_000_000_000)
	db.CreateAccount(dest, big.NewInt(0), 1)
	db.SetCode(dest, []byte{0xfe}) // INVALID

	msg := &Message{
		From:     sender,
		To:       &dest,
		GasLimit: 100000,
		GasPrice: big.NewInt(1),
	}
	res, err := Transact(TestChainConfig, testBlockContext(), db, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Failed() || res.Reverted() {
		t.Fatalf("want a halt, got err=%v", res.Err)
	}
	if res.UsedGas != 100000 {
		t.Errorf("UsedGas = %d, want the whole limit", res.UsedGas)
	}
	if res.StateDiff[sender].Nonce != 1 {
		t.Errorf("sender nonce = %d, want 1 even on halt", res.StateDiff[sender].Nonce)
	}
}

func TestTransactRevertReturnsData(t *testing.T) {
	db := fundedDB(1_000_000_000)

	// SSTORE slot1 = 0xdead, then REVERT with 0xcafe.
	code := []byte{
		0x61, 0xde, 0xad, 0x60, 0x01, 0x55,
		0x61, 0xca, 0xfe, 0x60, 0x00, 0x52,
		0x60, 0x02, 0x60, 0x1e, 0xfd,
	}
	db.CreateAccount(dest, big.NewInt(0), 1)
	db.SetCode(dest, code)

	msg := &Message{
		From:     sender,
		To:       &dest,
		GasLimit: 100000,
		GasPrice: big.NewInt(1),
	}
	res, err := Transact(TestChainConfig, testBlockContext(), db, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Reverted() {
		t.Fatalf("want revert, got err=%v", res.Err)
	}
	if !bytes.Equal(res.ReturnData, []byte{0xca, 0xfe}) {
		t.Errorf("revert data = %x, want cafe", res.ReturnData)
	}
	if res.UsedGas >= 100000 {
		t.Error("revert must hand unspent gas back")
	}
	// The store in the reverted frame is not part of the diff.
	if acct := res.StateDiff[dest]; acct != nil && len(acct.Storage) != 0 {
		t.Errorf("reverted storage in diff: %v", acct.Storage)
	}
}

func TestTransactRefundCapEIP3529(t *testing.T) {
	db := fundedDB(1_000_000_000)

	// PUSH1 0, PUSH1 1, SSTORE, STOP: clears a pre-existing slot.
	code := []byte{0x60, 0x00, 0x60, 0x01, 0x55, 0x00}
	db.CreateAccount(dest, big.NewInt(0), 1)
	db.SetCode(dest, code)
	db.SetStorage(dest, types.BytesToHash([]byte{1}), types.BytesToHash([]byte{0xff}))

	msg := &Message{
		From:     sender,
		To:       &dest,
		GasLimit: 100000,
		GasPrice: big.NewInt(1),
	}
	res, err := Transact(TestChainConfig, testBlockContext(), db, msg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed() {
		t.Fatalf("execution failed: %v", res.Err)
	}
	// Clearing refund under EIP-3529 is 4800, within the used/5 cap.
	if res.RefundedGas != vm.SstoreClearsScheduleRefundEIP3529 {
		t.Errorf("RefundedGas = %d, want %d", res.RefundedGas, vm.SstoreClearsScheduleRefundEIP3529)
	}
	// 21000 + PUSH1 + PUSH1 + (cold 2100 + reset 2900) + STOP - refund.
	want := uint64(21000+3+3+5000) - res.RefundedGas
	if res.UsedGas != want {
		t.Errorf("UsedGas = %d, want %d", res.UsedGas, want)
	}
	// The cleared slot lands in the diff as a zero write.
	slot := types.BytesToHash([]byte{1})
	if got, ok := res.StateDiff[dest].Storage[slot]; !ok || got != (types.Hash{}) {
		t.Errorf("cleared slot diff = %x (present %t), want zero write", got, ok)
	}
}

func TestIntrinsicGasAmounts(t *testing.T) {
	rules := vm.NewRules(vm.Cancun)

	gas, err := IntrinsicGas(nil, nil, false, rules)
	if err != nil || gas != 21000 {
		t.Errorf("plain call intrinsic = %d (%v), want 21000", gas, err)
	}
	gas, _ = IntrinsicGas(nil, nil, true, rules)
	if gas != 53000 {
		t.Errorf("create intrinsic = %d, want 53000", gas)
	}
	gas, _ = IntrinsicGas([]byte{0, 1, 2}, nil, false, rules)
	if want := uint64(21000 + 4 + 16 + 16); gas != want {
		t.Errorf("data intrinsic = %d, want %d", gas, want)
	}
	al := types.AccessList{{Address: dest, StorageKeys: []types.Hash{{}, {}}}}
	gas, _ = IntrinsicGas(nil, al, false, rules)
	if want := uint64(21000 + 2400 + 2*1900); gas != want {
		t.Errorf("access list intrinsic = %d, want %d", gas, want)
	}
}

func TestGasPool(t *testing.T) {
	gp := new(GasPool).AddGas(1000)
	if err := gp.SubGas(400); err != nil {
		t.Fatal(err)
	}
	if gp.Gas() != 600 {
		t.Errorf("pool = %d, want 600", gp.Gas())
	}
	if err := gp.SubGas(601); !errors.Is(err, ErrGasLimitReached) {
		t.Errorf("err = %v, want ErrGasLimitReached", err)
	}
}

func TestEffectiveGasPriceEIP1559(t *testing.T) {
	msg := &Message{
		GasFeeCap: big.NewInt(100),
		GasTipCap: big.NewInt(10),
	}
	// tip fits under the cap: base + tip
	if got := effectiveGasPrice(msg, big.NewInt(50)); got.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("effective price = %s, want 60", got)
	}
	// capped
	if got := effectiveGasPrice(msg, big.NewInt(95)); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("effective price = %s, want 100", got)
	}
	// legacy
	legacy := &Message{GasPrice: big.NewInt(42)}
	if got := effectiveGasPrice(legacy, nil); got.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("legacy price = %s, want 42", got)
	}
}
