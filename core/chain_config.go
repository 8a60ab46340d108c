// Package core implements the transaction driver: intrinsic gas, access
// list warm-up, fee accounting and state-diff finalization around the EVM.
package core

import (
	"math/big"

	"github.com/nebulavm/nebula/core/vm"
)

// ChainConfig identifies the chain and the hardfork rule set transactions
// execute under. The engine is below the block abstraction, so forks are
// selected directly rather than by block number schedules.
type ChainConfig struct {
	ChainID *big.Int
	Spec    vm.SpecID
}

// Rules derives the flattened feature gates for the configured fork.
func (c *ChainConfig) Rules() vm.Rules {
	if c == nil {
		return vm.NewRules(vm.Cancun)
	}
	return vm.NewRules(c.Spec)
}

// TestChainConfig is a ready-made config for tests: chain id 1, latest
// supported fork.
var TestChainConfig = &ChainConfig{
	ChainID: big.NewInt(1),
	Spec:    vm.Cancun,
}
