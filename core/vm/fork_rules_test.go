package vm

import "testing"

func TestRulesMonotonic(t *testing.T) {
	r := NewRules(Cancun)
	if !(r.IsHomestead && r.IsEIP150 && r.IsEIP158 && r.IsByzantium && r.IsIstanbul &&
		r.IsBerlin && r.IsLondon && r.IsShanghai && r.IsCancun) {
		t.Error("Cancun rules must include every earlier fork")
	}
	fr := NewRules(Frontier)
	if fr.IsHomestead || fr.IsEIP150 || fr.IsBerlin {
		t.Error("Frontier rules must gate everything off")
	}
}

func TestRefundQuotient(t *testing.T) {
	if q := NewRules(Berlin).RefundQuotient(); q != 2 {
		t.Errorf("pre-London quotient = %d, want 2", q)
	}
	if q := NewRules(London).RefundQuotient(); q != 5 {
		t.Errorf("London quotient = %d, want 5", q)
	}
}

func TestMaxCodeSizes(t *testing.T) {
	r := NewRules(Cancun)
	if r.MaxCodeSize() != 24576 {
		t.Errorf("MaxCodeSize = %d, want 24576", r.MaxCodeSize())
	}
	if r.MaxInitCodeSize() != 49152 {
		t.Errorf("MaxInitCodeSize = %d, want 49152", r.MaxInitCodeSize())
	}
	if NewRules(Berlin).MaxInitCodeSize() == 49152 {
		t.Error("init-code cap must not apply before Shanghai")
	}
}

func TestJumpTablePerFork(t *testing.T) {
	// PUSH0 must be undefined before Shanghai: executing it errors.
	frontier := NewJumpTable(NewRules(Frontier))
	if _, err := frontier[PUSH0].execute(nil, nil, nil, nil, nil); err == nil {
		t.Error("PUSH0 defined in Frontier table")
	}
	shanghai := NewJumpTable(NewRules(Shanghai))
	if shanghai[PUSH0].execute == nil {
		t.Error("PUSH0 missing from Shanghai table")
	}
	cancun := NewJumpTable(NewRules(Cancun))
	if cancun[TLOAD].constantGas != TloadGasEIP1153 {
		t.Error("TLOAD missing from Cancun table")
	}
	london := NewJumpTable(NewRules(London))
	if london[BASEFEE].execute == nil {
		t.Error("BASEFEE missing from London table")
	}
	berlin := NewJumpTable(NewRules(Berlin))
	if berlin[SLOAD].constantGas != 0 || berlin[SLOAD].dynamicGas == nil {
		t.Error("Berlin SLOAD must be dynamically priced")
	}
	istanbul := NewJumpTable(NewRules(Istanbul))
	if istanbul[SLOAD].constantGas != SloadGasEIP1884 {
		t.Errorf("Istanbul SLOAD gas = %d, want %d", istanbul[SLOAD].constantGas, SloadGasEIP1884)
	}
}
