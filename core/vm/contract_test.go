package vm

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/nebulavm/nebula/core/types"
)

func TestContractUseGas(t *testing.T) {
	c := NewContract(types.Address{}, types.Address{}, nil, 100)
	if !c.UseGas(60) {
		t.Fatal("UseGas(60) failed with 100 available")
	}
	if c.UseGas(50) {
		t.Fatal("UseGas(50) succeeded with 40 available")
	}
	if got := c.Gas.Remaining(); got != 40 {
		t.Errorf("remaining = %d, want 40", got)
	}
	c.RefundGas(10)
	if got := c.Gas.Remaining(); got != 50 {
		t.Errorf("remaining after refund = %d, want 50", got)
	}
}

func TestContractValidJumpdest(t *testing.T) {
	c := NewContract(types.Address{}, types.Address{}, new(big.Int), 0)
	// PUSH1 0x5b, JUMPDEST, STOP
	c.Code = []byte{byte(PUSH1), 0x5b, byte(JUMPDEST), byte(STOP)}

	if c.validJumpdest(uint256.NewInt(1)) {
		t.Error("push immediate accepted as jumpdest")
	}
	if !c.validJumpdest(uint256.NewInt(2)) {
		t.Error("real JUMPDEST rejected")
	}
	if c.validJumpdest(uint256.NewInt(3)) {
		t.Error("STOP accepted as jumpdest")
	}
	if c.validJumpdest(uint256.NewInt(100)) {
		t.Error("out-of-range destination accepted")
	}
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 64)
	if c.validJumpdest(huge) {
		t.Error("overflowing destination accepted")
	}
}

func TestContractGetOpPastEnd(t *testing.T) {
	c := NewContract(types.Address{}, types.Address{}, nil, 0)
	c.Code = []byte{byte(ADD)}
	if op := c.GetOp(5); op != STOP {
		t.Errorf("GetOp past end = %v, want STOP", op)
	}
}
