package vm

// Gas tiers per Yellow Paper Appendix G.
const (
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10
	GasExtStep     uint64 = 20
)

// Transaction-level costs.
const (
	TxGas                     uint64 = 21000 // base cost of any transaction
	TxGasContractCreation     uint64 = 53000 // base cost of a create transaction
	TxDataZeroGas             uint64 = 4     // per zero byte of calldata
	TxDataNonZeroGas          uint64 = 16    // per non-zero byte, EIP-2028
	TxDataNonZeroGasFrontier  uint64 = 68    // per non-zero byte pre-Istanbul
	TxAccessListAddressGas    uint64 = 2400  // EIP-2930 per declared address
	TxAccessListStorageKeyGas uint64 = 1900  // EIP-2930 per declared storage key
)

// Storage costs.
const (
	SloadGasFrontier uint64 = 50
	SloadGasEIP150   uint64 = 200
	SloadGasEIP1884  uint64 = 800
	SstoreSetGas     uint64 = 20000 // zero -> non-zero
	SstoreResetGas   uint64 = 5000  // non-zero -> non-zero (pre-2929)
	SstoreClearGas   uint64 = 5000  // non-zero -> zero
	SstoreRefundGas  uint64 = 15000 // refund for clearing, pre-3529

	SstoreSentryGasEIP2200 uint64 = 2300 // minimum gas required for an SSTORE

	ColdAccountAccessCostEIP2929 uint64 = 2600
	ColdSloadCostEIP2929         uint64 = 2100
	WarmStorageReadCostEIP2929   uint64 = 100

	SstoreClearsScheduleRefundEIP2200 uint64 = 15000
	// EIP-3529: SSTORE_RESET_GAS - COLD_SLOAD_COST + ACCESS_LIST_STORAGE_KEY_COST
	SstoreClearsScheduleRefundEIP3529 uint64 = SstoreResetGas - ColdSloadCostEIP2929 + TxAccessListStorageKeyGas
)

// Call and account access costs.
const (
	CallGasFrontier      uint64 = 40
	CallGasEIP150        uint64 = 700
	CallValueTransferGas uint64 = 9000
	CallNewAccountGas    uint64 = 25000
	CallStipend          uint64 = 2300

	BalanceGasFrontier uint64 = 20
	BalanceGasEIP150   uint64 = 400
	BalanceGasEIP1884  uint64 = 700

	ExtcodeSizeGasFrontier       uint64 = 20
	ExtcodeSizeGasEIP150         uint64 = 700
	ExtcodeCopyBaseFrontier      uint64 = 20
	ExtcodeCopyBaseEIP150        uint64 = 700
	ExtcodeHashGasConstantinople uint64 = 400
	ExtcodeHashGasEIP1884        uint64 = 700

	SelfdestructGasEIP150   uint64 = 5000
	CreateBySelfdestructGas uint64 = 25000
	SelfdestructRefundGas   uint64 = 24000 // removed by EIP-3529
)

// Create costs.
const (
	CreateGas       uint64 = 32000
	CreateDataGas   uint64 = 200   // per byte of deployed code
	InitCodeWordGas uint64 = 2     // EIP-3860, per 32-byte word of init code
	MaxCodeSize     int    = 24576 // EIP-170
	MaxInitCodeSize int    = 2 * MaxCodeSize // EIP-3860
)

// Hashing, memory, copy and log costs.
const (
	Keccak256Gas     uint64 = 30
	Keccak256WordGas uint64 = 6

	MemoryGas    uint64 = 3
	QuadCoeffDiv uint64 = 512
	CopyGas      uint64 = 3 // per word for *COPY ops

	LogGas      uint64 = 375
	LogTopicGas uint64 = 375
	LogDataGas  uint64 = 8

	ExpGas          uint64 = 10
	ExpByteFrontier uint64 = 10
	ExpByteEIP158   uint64 = 50

	JumpdestGas  uint64 = 1
	BlockhashGas uint64 = 20

	TstoreGasEIP1153 uint64 = 100
	TloadGasEIP1153  uint64 = 100
	BlobHashGas      uint64 = 3
)

// Refund caps: the applied refund never exceeds gasUsed/quotient.
const (
	RefundQuotient        uint64 = 2
	RefundQuotientEIP3529 uint64 = 5
)

// CallStackLimit is the maximum nesting depth of call and create frames.
const CallStackLimit = 1024

// GasMeter tracks the gas budget of a single frame. A failed charge leaves
// the meter unchanged; callers translate the false return into ErrOutOfGas
// before any side effect of the opcode lands.
type GasMeter struct {
	limit     uint64
	remaining uint64
}

// NewGasMeter returns a meter holding the given budget.
func NewGasMeter(limit uint64) GasMeter {
	return GasMeter{limit: limit, remaining: limit}
}

// Consume attempts to spend amount; it reports false (and spends nothing)
// if the remaining budget is insufficient.
func (m *GasMeter) Consume(amount uint64) bool {
	if m.remaining < amount {
		return false
	}
	m.remaining -= amount
	return true
}

// Reimburse returns unspent gas from a completed child frame.
func (m *GasMeter) Reimburse(amount uint64) {
	m.remaining += amount
}

// ConsumeAll empties the meter. Used when a frame halts fatally.
func (m *GasMeter) ConsumeAll() {
	m.remaining = 0
}

// Remaining returns the gas still available.
func (m *GasMeter) Remaining() uint64 { return m.remaining }

// Spent returns the gas consumed so far.
func (m *GasMeter) Spent() uint64 { return m.limit - m.remaining }

// Limit returns the initial budget.
func (m *GasMeter) Limit() uint64 { return m.limit }
