package vm

import "github.com/holiman/uint256"

// Memory is the byte-addressable scratch space of a frame. It is
// zero-initialized, grows in 32-byte words, and never shrinks within a
// frame. lastGasCost caches the total expansion cost already charged so
// resizes are billed incrementally.
type Memory struct {
	store       []byte
	lastGasCost uint64
}

// NewMemory returns a new empty memory model.
func NewMemory() *Memory {
	return &Memory{}
}

// Set copies value into memory at the given offset. The caller must have
// resized memory beforehand.
func (m *Memory) Set(offset, size uint64, value []byte) {
	if size == 0 {
		return
	}
	if offset+size > uint64(len(m.store)) {
		panic("invalid memory: store empty")
	}
	copy(m.store[offset:offset+size], value)
}

// Set32 writes val as a big-endian 32-byte word at offset.
func (m *Memory) Set32(offset uint64, val *uint256.Int) {
	if offset+32 > uint64(len(m.store)) {
		panic("invalid memory: store empty")
	}
	val.PutUint256(m.store[offset:])
}

// Resize grows memory to size bytes. The size is expected to be
// word-aligned by the caller; growing is monotonic.
func (m *Memory) Resize(size uint64) {
	if uint64(len(m.store)) < size {
		m.store = append(m.store, make([]byte, size-uint64(len(m.store)))...)
	}
}

// GetCopy returns a copy of memory at [offset, offset+size).
func (m *Memory) GetCopy(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	cpy := make([]byte, size)
	copy(cpy, m.store[offset:offset+size])
	return cpy
}

// GetPtr returns a direct slice of memory at [offset, offset+size).
func (m *Memory) GetPtr(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return m.store[offset : offset+size]
}

// Copy moves length bytes from src to dst within memory, handling overlap.
func (m *Memory) Copy(dst, src, length uint64) {
	if length == 0 {
		return
	}
	copy(m.store[dst:], m.store[src:src+length])
}

// Len returns the current memory length in bytes.
func (m *Memory) Len() int {
	return len(m.store)
}

// Data returns the full backing slice.
func (m *Memory) Data() []byte {
	return m.store
}
