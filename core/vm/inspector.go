package vm

import (
	"math/big"

	"github.com/nebulavm/nebula/core/types"
)

// EVMLogger observes execution. All methods are optional hooks;
// implementations must not mutate the arguments.
type EVMLogger interface {
	// CaptureStart fires once at the top-level call or create.
	CaptureStart(from, to types.Address, create bool, input []byte, gas uint64, value *big.Int)
	// CaptureState fires before every opcode executes.
	CaptureState(pc uint64, op OpCode, gas, cost uint64, stack *Stack, mem *Memory, depth int, err error)
	// CaptureFault fires when an opcode terminates the frame with an error.
	CaptureFault(pc uint64, op OpCode, gas, cost uint64, depth int, err error)
	// CaptureEnter and CaptureExit bracket nested call and create frames.
	CaptureEnter(typ OpCode, from, to types.Address, input []byte, gas uint64, value *big.Int)
	CaptureExit(output []byte, gasUsed uint64, err error)
	// CaptureEnd fires once when the top-level frame finishes.
	CaptureEnd(output []byte, gasUsed uint64, err error)

	CaptureLog(log *types.Log)
	CaptureSelfDestruct(addr, beneficiary types.Address, balance *big.Int)
	// CaptureAccountLoad is not called by the engine: account loads are
	// not reported to the logger.
	CaptureAccountLoad(addr types.Address)
}

// NoopEVMLogger is an EVMLogger that ignores everything. Embed it to
// implement only the hooks of interest.
type NoopEVMLogger struct{}

func (NoopEVMLogger) CaptureStart(types.Address, types.Address, bool, []byte, uint64, *big.Int) {}
func (NoopEVMLogger) CaptureState(uint64, OpCode, uint64, uint64, *Stack, *Memory, int, error)  {}
func (NoopEVMLogger) CaptureFault(uint64, OpCode, uint64, uint64, int, error)                   {}
func (NoopEVMLogger) CaptureEnter(OpCode, types.Address, types.Address, []byte, uint64, *big.Int) {
}
func (NoopEVMLogger) CaptureExit([]byte, uint64, error)                      {}
func (NoopEVMLogger) CaptureEnd([]byte, uint64, error)                       {}
func (NoopEVMLogger) CaptureLog(*types.Log)                                  {}
func (NoopEVMLogger) CaptureSelfDestruct(types.Address, types.Address, *big.Int) {}
func (NoopEVMLogger) CaptureAccountLoad(types.Address)                       {}

var _ EVMLogger = NoopEVMLogger{}
