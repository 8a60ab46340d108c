package core

import (
	"errors"
	"fmt"
)

// ErrGasLimitReached is returned when a transaction does not fit the
// remaining block gas budget.
var ErrGasLimitReached = errors.New("gas limit reached")

// GasPool tracks the gas still available to transactions within one
// block.
type GasPool uint64

// AddGas returns gas to the pool.
func (gp *GasPool) AddGas(amount uint64) *GasPool {
	if uint64(*gp) > (^uint64(0))-amount {
		panic("gas pool pushed above uint64")
	}
	*gp += GasPool(amount)
	return gp
}

// SubGas removes gas from the pool, failing when the pool cannot cover
// the amount.
func (gp *GasPool) SubGas(amount uint64) error {
	if uint64(*gp) < amount {
		return ErrGasLimitReached
	}
	*gp -= GasPool(amount)
	return nil
}

// Gas returns the remaining gas in the pool.
func (gp *GasPool) Gas() uint64 {
	return uint64(*gp)
}

// String implements fmt.Stringer.
func (gp *GasPool) String() string {
	return fmt.Sprintf("%d", uint64(*gp))
}
