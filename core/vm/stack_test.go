package vm

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestStackPushPop(t *testing.T) {
	st := NewStack()
	st.Push(uint256.NewInt(42))
	st.Push(uint256.NewInt(99))

	if st.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", st.Len())
	}
	if v := st.Pop(); v.Uint64() != 99 {
		t.Errorf("Pop() = %d, want 99", v.Uint64())
	}
	if v := st.Pop(); v.Uint64() != 42 {
		t.Errorf("Pop() = %d, want 42", v.Uint64())
	}
	if st.Len() != 0 {
		t.Errorf("Len() = %d, want 0", st.Len())
	}
}

func TestStackPushCopies(t *testing.T) {
	st := NewStack()
	val := uint256.NewInt(7)
	st.Push(val)
	val.SetUint64(100)
	if got := st.Peek().Uint64(); got != 7 {
		t.Errorf("stack aliased pushed value: got %d, want 7", got)
	}
}

func TestStackBack(t *testing.T) {
	st := NewStack()
	st.Push(uint256.NewInt(1))
	st.Push(uint256.NewInt(2))
	st.Push(uint256.NewInt(3))

	for n, want := range map[int]uint64{0: 3, 1: 2, 2: 1} {
		if got := st.Back(n).Uint64(); got != want {
			t.Errorf("Back(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestStackDup(t *testing.T) {
	st := NewStack()
	st.Push(uint256.NewInt(10))
	st.Push(uint256.NewInt(20))

	st.Dup(2) // duplicate the 2nd from top (10)
	if st.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", st.Len())
	}
	if got := st.Peek().Uint64(); got != 10 {
		t.Errorf("top after DUP2 = %d, want 10", got)
	}
}

func TestStackSwap(t *testing.T) {
	st := NewStack()
	st.Push(uint256.NewInt(1))
	st.Push(uint256.NewInt(2))
	st.Push(uint256.NewInt(3))

	st.Swap(2)
	if got := st.Peek().Uint64(); got != 1 {
		t.Errorf("top after SWAP2 = %d, want 1", got)
	}
	if got := st.Back(2).Uint64(); got != 3 {
		t.Errorf("bottom after SWAP2 = %d, want 3", got)
	}
}
