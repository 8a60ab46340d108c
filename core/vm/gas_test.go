package vm

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestGasMeter(t *testing.T) {
	m := NewGasMeter(1000)
	if m.Remaining() != 1000 || m.Spent() != 0 {
		t.Fatalf("fresh meter: remaining %d spent %d", m.Remaining(), m.Spent())
	}
	if !m.Consume(400) {
		t.Fatal("Consume(400) failed with 1000 remaining")
	}
	if m.Remaining() != 600 || m.Spent() != 400 {
		t.Errorf("after consume: remaining %d spent %d", m.Remaining(), m.Spent())
	}

	// A failed charge leaves the meter unchanged.
	if m.Consume(601) {
		t.Error("Consume(601) succeeded with 600 remaining")
	}
	if m.Remaining() != 600 {
		t.Errorf("failed charge mutated meter: remaining %d", m.Remaining())
	}

	m.Reimburse(100)
	if m.Remaining() != 700 {
		t.Errorf("after reimburse: remaining %d, want 700", m.Remaining())
	}

	m.ConsumeAll()
	if m.Remaining() != 0 {
		t.Errorf("after ConsumeAll: remaining %d, want 0", m.Remaining())
	}
}

func TestMemoryGasCost(t *testing.T) {
	// total(w) = 3w + w*w/512, charged incrementally.
	mem := NewMemory()

	cost, err := memoryGasCost(mem, 32) // 1 word
	if err != nil {
		t.Fatal(err)
	}
	if cost != 3 {
		t.Errorf("cost for 1 word = %d, want 3", cost)
	}
	mem.Resize(32)

	// Growing to 2 words charges only the delta: total(2)=6 minus 3.
	cost, err = memoryGasCost(mem, 64)
	if err != nil {
		t.Fatal(err)
	}
	if cost != 3 {
		t.Errorf("delta for 2nd word = %d, want 3", cost)
	}
	mem.Resize(64)

	// A large size brings in the quadratic term: 1024 words.
	mem2 := NewMemory()
	cost, err = memoryGasCost(mem2, 1024*32)
	if err != nil {
		t.Fatal(err)
	}
	want := uint64(1024*3 + 1024*1024/512)
	if cost != want {
		t.Errorf("cost for 1024 words = %d, want %d", cost, want)
	}

	// Shrinking quotes never charge.
	cost, err = memoryGasCost(mem, 32)
	if err != nil {
		t.Fatal(err)
	}
	if cost != 0 {
		t.Errorf("cost for already-paid size = %d, want 0", cost)
	}

	if _, err := memoryGasCost(NewMemory(), 0x20000000000); err != ErrGasUintOverflow {
		t.Errorf("huge size error = %v, want ErrGasUintOverflow", err)
	}
}

func TestCallGas63of64(t *testing.T) {
	// Post EIP-150 a child never receives more than 63/64 of what is left.
	requested := new(uint256.Int).SetAllOne()
	gas, err := callGas(true, 6400, 0, requested)
	if err != nil {
		t.Fatal(err)
	}
	if want := uint64(6400 - 6400/64); gas != want {
		t.Errorf("callGas = %d, want %d", gas, want)
	}

	// A smaller explicit request is honored.
	gas, err = callGas(true, 6400, 0, uint256.NewInt(100))
	if err != nil {
		t.Fatal(err)
	}
	if gas != 100 {
		t.Errorf("callGas = %d, want 100", gas)
	}

	// Pre EIP-150 the request is taken as-is and must fit uint64.
	if _, err := callGas(false, 6400, 0, requested); err != ErrGasUintOverflow {
		t.Errorf("pre-150 overflow error = %v, want ErrGasUintOverflow", err)
	}
}

func TestToWordSize(t *testing.T) {
	cases := map[uint64]uint64{0: 0, 1: 1, 31: 1, 32: 1, 33: 2, 64: 2, 65: 3}
	for size, want := range cases {
		if got := toWordSize(size); got != want {
			t.Errorf("toWordSize(%d) = %d, want %d", size, got, want)
		}
	}
}
