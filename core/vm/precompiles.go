package vm

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"

	gokzg4844 "github.com/crate-crypto/go-eth-kzg"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/blake2b"
	"github.com/ethereum/go-ethereum/crypto/bn256"
	"golang.org/x/crypto/ripemd160"

	"github.com/nebulavm/nebula/core/types"
	"github.com/nebulavm/nebula/crypto"
)

// PrecompiledContract is a contract implemented natively at a reserved
// address. Implementations are pure functions of their input.
type PrecompiledContract interface {
	RequiredGas(input []byte) uint64
	Run(input []byte) ([]byte, error)
}

// Precompile gas constants.
const (
	EcrecoverGas        uint64 = 3000
	Sha256BaseGas       uint64 = 60
	Sha256PerWordGas    uint64 = 12
	Ripemd160BaseGas    uint64 = 600
	Ripemd160PerWordGas uint64 = 120
	IdentityBaseGas     uint64 = 15
	IdentityPerWordGas  uint64 = 3

	Bn256AddGasByzantium             uint64 = 500
	Bn256AddGasIstanbul              uint64 = 150
	Bn256ScalarMulGasByzantium       uint64 = 40000
	Bn256ScalarMulGasIstanbul        uint64 = 6000
	Bn256PairingBaseGasByzantium     uint64 = 100000
	Bn256PairingBaseGasIstanbul      uint64 = 45000
	Bn256PairingPerPointGasByzantium uint64 = 80000
	Bn256PairingPerPointGasIstanbul  uint64 = 34000

	Blake2FPerRoundGas uint64 = 1

	KzgPointEvaluationGas uint64 = 50000
)

var (
	precompiledContractsHomestead = map[types.Address]PrecompiledContract{
		types.BytesToAddress([]byte{1}): &ecrecover{},
		types.BytesToAddress([]byte{2}): &sha256hash{},
		types.BytesToAddress([]byte{3}): &ripemd160hash{},
		types.BytesToAddress([]byte{4}): &dataCopy{},
	}
	precompiledContractsByzantium = map[types.Address]PrecompiledContract{
		types.BytesToAddress([]byte{1}): &ecrecover{},
		types.BytesToAddress([]byte{2}): &sha256hash{},
		types.BytesToAddress([]byte{3}): &ripemd160hash{},
		types.BytesToAddress([]byte{4}): &dataCopy{},
		types.BytesToAddress([]byte{5}): &bigModExp{},
		types.BytesToAddress([]byte{6}): &bn256Add{},
		types.BytesToAddress([]byte{7}): &bn256ScalarMul{},
		types.BytesToAddress([]byte{8}): &bn256Pairing{},
	}
	precompiledContractsIstanbul = map[types.Address]PrecompiledContract{
		types.BytesToAddress([]byte{1}): &ecrecover{},
		types.BytesToAddress([]byte{2}): &sha256hash{},
		types.BytesToAddress([]byte{3}): &ripemd160hash{},
		types.BytesToAddress([]byte{4}): &dataCopy{},
		types.BytesToAddress([]byte{5}): &bigModExp{},
		types.BytesToAddress([]byte{6}): &bn256Add{istanbul: true},
		types.BytesToAddress([]byte{7}): &bn256ScalarMul{istanbul: true},
		types.BytesToAddress([]byte{8}): &bn256Pairing{istanbul: true},
		types.BytesToAddress([]byte{9}): &blake2F{},
	}
	precompiledContractsBerlin = map[types.Address]PrecompiledContract{
		types.BytesToAddress([]byte{1}): &ecrecover{},
		types.BytesToAddress([]byte{2}): &sha256hash{},
		types.BytesToAddress([]byte{3}): &ripemd160hash{},
		types.BytesToAddress([]byte{4}): &dataCopy{},
		types.BytesToAddress([]byte{5}): &bigModExp{eip2565: true},
		types.BytesToAddress([]byte{6}): &bn256Add{istanbul: true},
		types.BytesToAddress([]byte{7}): &bn256ScalarMul{istanbul: true},
		types.BytesToAddress([]byte{8}): &bn256Pairing{istanbul: true},
		types.BytesToAddress([]byte{9}): &blake2F{},
	}
	precompiledContractsCancun = map[types.Address]PrecompiledContract{
		types.BytesToAddress([]byte{1}):    &ecrecover{},
		types.BytesToAddress([]byte{2}):    &sha256hash{},
		types.BytesToAddress([]byte{3}):    &ripemd160hash{},
		types.BytesToAddress([]byte{4}):    &dataCopy{},
		types.BytesToAddress([]byte{5}):    &bigModExp{eip2565: true},
		types.BytesToAddress([]byte{6}):    &bn256Add{istanbul: true},
		types.BytesToAddress([]byte{7}):    &bn256ScalarMul{istanbul: true},
		types.BytesToAddress([]byte{8}):    &bn256Pairing{istanbul: true},
		types.BytesToAddress([]byte{9}):    &blake2F{},
		types.BytesToAddress([]byte{0x0a}): &kzgPointEvaluation{},
	}
)

// ActivePrecompiles returns the precompile set for the given rules.
func ActivePrecompiles(rules Rules) map[types.Address]PrecompiledContract {
	switch {
	case rules.IsCancun:
		return precompiledContractsCancun
	case rules.IsBerlin:
		return precompiledContractsBerlin
	case rules.IsIstanbul:
		return precompiledContractsIstanbul
	case rules.IsByzantium:
		return precompiledContractsByzantium
	default:
		return precompiledContractsHomestead
	}
}

// RunPrecompiledContract runs p against input with the given gas budget.
// An insufficient budget consumes everything and fails with ErrOutOfGas;
// an execution failure likewise consumes the whole budget.
func RunPrecompiledContract(p PrecompiledContract, input []byte, suppliedGas uint64) (ret []byte, remainingGas uint64, err error) {
	gasCost := p.RequiredGas(input)
	if suppliedGas < gasCost {
		return nil, 0, ErrOutOfGas
	}
	suppliedGas -= gasCost
	output, err := p.Run(input)
	if err != nil {
		return nil, 0, err
	}
	return output, suppliedGas, nil
}

// --- ecrecover (0x01) ---

type ecrecover struct{}

func (c *ecrecover) RequiredGas(input []byte) uint64 {
	return EcrecoverGas
}

func (c *ecrecover) Run(input []byte) ([]byte, error) {
	const ecRecoverInputLength = 128
	input = rightPadBytes(input, ecRecoverInputLength)

	// Input: hash(32) ‖ v(32) ‖ r(32) ‖ s(32).
	r := new(big.Int).SetBytes(input[64:96])
	s := new(big.Int).SetBytes(input[96:128])
	v := input[63] - 27

	// Malformed signatures return empty output, not an error.
	if !allZero(input[32:63]) || (v != 0 && v != 1) {
		return nil, nil
	}
	if !gethcrypto.ValidateSignatureValues(v, r, s, false) {
		return nil, nil
	}
	sig := make([]byte, 65)
	copy(sig[32-len(r.Bytes()):32], r.Bytes())
	copy(sig[64-len(s.Bytes()):64], s.Bytes())
	sig[64] = v

	pubKey, err := gethcrypto.Ecrecover(input[:32], sig)
	if err != nil {
		return nil, nil
	}
	// Address is the last 20 bytes of the pubkey hash, left-padded to 32.
	return types.BytesToHash(crypto.Keccak256(pubKey[1:])[12:]).Bytes(), nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// --- sha256 (0x02) ---

type sha256hash struct{}

func (c *sha256hash) RequiredGas(input []byte) uint64 {
	return uint64(len(input)+31)/32*Sha256PerWordGas + Sha256BaseGas
}

func (c *sha256hash) Run(input []byte) ([]byte, error) {
	h := sha256.Sum256(input)
	return h[:], nil
}

// --- ripemd160 (0x03) ---

type ripemd160hash struct{}

func (c *ripemd160hash) RequiredGas(input []byte) uint64 {
	return uint64(len(input)+31)/32*Ripemd160PerWordGas + Ripemd160BaseGas
}

func (c *ripemd160hash) Run(input []byte) ([]byte, error) {
	ripemd := ripemd160.New()
	ripemd.Write(input)
	return types.BytesToHash(ripemd.Sum(nil)).Bytes(), nil
}

// --- identity (0x04) ---

type dataCopy struct{}

func (c *dataCopy) RequiredGas(input []byte) uint64 {
	return uint64(len(input)+31)/32*IdentityPerWordGas + IdentityBaseGas
}

func (c *dataCopy) Run(input []byte) ([]byte, error) {
	out := make([]byte, len(input))
	copy(out, input)
	return out, nil
}

// --- modexp (0x05, EIP-198; repriced by EIP-2565) ---

type bigModExp struct {
	eip2565 bool
}

var (
	big1      = big.NewInt(1)
	big3      = big.NewInt(3)
	big4      = big.NewInt(4)
	big7      = big.NewInt(7)
	big8      = big.NewInt(8)
	big16     = big.NewInt(16)
	big20     = big.NewInt(20)
	big32     = big.NewInt(32)
	big64     = big.NewInt(64)
	big96     = big.NewInt(96)
	big480    = big.NewInt(480)
	big1024   = big.NewInt(1024)
	big3072   = big.NewInt(3072)
	big199680 = big.NewInt(199680)
)

func (c *bigModExp) RequiredGas(input []byte) uint64 {
	var (
		baseLen = new(big.Int).SetBytes(getData(input, 0, 32))
		expLen  = new(big.Int).SetBytes(getData(input, 32, 32))
		modLen  = new(big.Int).SetBytes(getData(input, 64, 32))
	)
	if len(input) > 96 {
		input = input[96:]
	} else {
		input = input[:0]
	}
	// Extract the head of the exponent for the adjusted length.
	var expHead *big.Int
	if big.NewInt(int64(len(input))).Cmp(baseLen) <= 0 {
		expHead = new(big.Int)
	} else {
		offset := baseLen.Uint64()
		if expLen.Cmp(big32) > 0 {
			expHead = new(big.Int).SetBytes(getData(input, offset, 32))
		} else {
			expHead = new(big.Int).SetBytes(getData(input, offset, expLen.Uint64()))
		}
	}
	msb := 0
	if bitlen := expHead.BitLen(); bitlen > 0 {
		msb = bitlen - 1
	}
	adjExpLen := new(big.Int)
	if expLen.Cmp(big32) > 0 {
		adjExpLen.Sub(expLen, big32)
		adjExpLen.Mul(big8, adjExpLen)
	}
	adjExpLen.Add(adjExpLen, big.NewInt(int64(msb)))

	// The multiplication complexity over the larger of base and modulus.
	gas := new(big.Int).Set(maxBig(modLen, baseLen))
	if c.eip2565 {
		// ceil(x/8)^2
		gas.Add(gas, big7)
		gas.Div(gas, big8)
		gas.Mul(gas, gas)

		gas.Mul(gas, maxBig(adjExpLen, big1))
		gas.Div(gas, big3)
		if gas.BitLen() > 64 {
			return ^uint64(0)
		}
		if gas.Uint64() < 200 {
			return 200
		}
		return gas.Uint64()
	}
	switch {
	case gas.Cmp(big64) <= 0:
		gas.Mul(gas, gas)
	case gas.Cmp(big1024) <= 0:
		gas = new(big.Int).Add(
			new(big.Int).Div(new(big.Int).Mul(gas, gas), big4),
			new(big.Int).Sub(new(big.Int).Mul(big96, gas), big3072),
		)
	default:
		gas = new(big.Int).Add(
			new(big.Int).Div(new(big.Int).Mul(gas, gas), big16),
			new(big.Int).Sub(new(big.Int).Mul(big480, gas), big199680),
		)
	}
	gas.Mul(gas, maxBig(adjExpLen, big1))
	gas.Div(gas, big20)
	if gas.BitLen() > 64 {
		return ^uint64(0)
	}
	return gas.Uint64()
}

func maxBig(x, y *big.Int) *big.Int {
	if x.Cmp(y) > 0 {
		return x
	}
	return y
}

func (c *bigModExp) Run(input []byte) ([]byte, error) {
	var (
		baseLen = new(big.Int).SetBytes(getData(input, 0, 32)).Uint64()
		expLen  = new(big.Int).SetBytes(getData(input, 32, 32)).Uint64()
		modLen  = new(big.Int).SetBytes(getData(input, 64, 32)).Uint64()
	)
	if len(input) > 96 {
		input = input[96:]
	} else {
		input = input[:0]
	}
	if baseLen == 0 && modLen == 0 {
		return []byte{}, nil
	}
	var (
		base = new(big.Int).SetBytes(getData(input, 0, baseLen))
		exp  = new(big.Int).SetBytes(getData(input, baseLen, expLen))
		mod  = new(big.Int).SetBytes(getData(input, baseLen+expLen, modLen))
	)
	if mod.BitLen() == 0 {
		return leftPadBytes([]byte{}, int(modLen)), nil
	}
	return leftPadBytes(base.Exp(base, exp, mod).Bytes(), int(modLen)), nil
}

func leftPadBytes(b []byte, l int) []byte {
	if l <= len(b) {
		return b
	}
	padded := make([]byte, l)
	copy(padded[l-len(b):], b)
	return padded
}

// --- bn256 curve ops (0x06-0x08, EIP-196/197; repriced by EIP-1108) ---

func newCurvePoint(blob []byte) (*bn256.G1, error) {
	p := new(bn256.G1)
	if _, err := p.Unmarshal(blob); err != nil {
		return nil, err
	}
	return p, nil
}

func newTwistPoint(blob []byte) (*bn256.G2, error) {
	p := new(bn256.G2)
	if _, err := p.Unmarshal(blob); err != nil {
		return nil, err
	}
	return p, nil
}

type bn256Add struct {
	istanbul bool
}

func (c *bn256Add) RequiredGas(input []byte) uint64 {
	if c.istanbul {
		return Bn256AddGasIstanbul
	}
	return Bn256AddGasByzantium
}

func (c *bn256Add) Run(input []byte) ([]byte, error) {
	x, err := newCurvePoint(getData(input, 0, 64))
	if err != nil {
		return nil, err
	}
	y, err := newCurvePoint(getData(input, 64, 64))
	if err != nil {
		return nil, err
	}
	res := new(bn256.G1)
	res.Add(x, y)
	return res.Marshal(), nil
}

type bn256ScalarMul struct {
	istanbul bool
}

func (c *bn256ScalarMul) RequiredGas(input []byte) uint64 {
	if c.istanbul {
		return Bn256ScalarMulGasIstanbul
	}
	return Bn256ScalarMulGasByzantium
}

func (c *bn256ScalarMul) Run(input []byte) ([]byte, error) {
	p, err := newCurvePoint(getData(input, 0, 64))
	if err != nil {
		return nil, err
	}
	res := new(bn256.G1)
	res.ScalarMult(p, new(big.Int).SetBytes(getData(input, 64, 32)))
	return res.Marshal(), nil
}

var (
	trueResult  = leftPadBytes([]byte{1}, 32)
	falseResult = make([]byte, 32)

	errBadPairingInput = errors.New("bad elliptic curve pairing size")
)

type bn256Pairing struct {
	istanbul bool
}

func (c *bn256Pairing) RequiredGas(input []byte) uint64 {
	if c.istanbul {
		return Bn256PairingBaseGasIstanbul + uint64(len(input)/192)*Bn256PairingPerPointGasIstanbul
	}
	return Bn256PairingBaseGasByzantium + uint64(len(input)/192)*Bn256PairingPerPointGasByzantium
}

func (c *bn256Pairing) Run(input []byte) ([]byte, error) {
	if len(input)%192 > 0 {
		return nil, errBadPairingInput
	}
	var (
		cs []*bn256.G1
		ts []*bn256.G2
	)
	for i := 0; i < len(input); i += 192 {
		c, err := newCurvePoint(input[i : i+64])
		if err != nil {
			return nil, err
		}
		t, err := newTwistPoint(input[i+64 : i+192])
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
		ts = append(ts, t)
	}
	if bn256.PairingCheck(cs, ts) {
		return trueResult, nil
	}
	return falseResult, nil
}

// --- blake2F (0x09, EIP-152) ---

var (
	errBlake2FInvalidInputLength = errors.New("invalid input length")
	errBlake2FInvalidFinalFlag   = errors.New("invalid final flag")
)

const blake2FInputLength = 213

type blake2F struct{}

func (c *blake2F) RequiredGas(input []byte) uint64 {
	if len(input) != blake2FInputLength {
		return 0
	}
	return uint64(binary.BigEndian.Uint32(input[0:4])) * Blake2FPerRoundGas
}

func (c *blake2F) Run(input []byte) ([]byte, error) {
	if len(input) != blake2FInputLength {
		return nil, errBlake2FInvalidInputLength
	}
	if input[212] != 0 && input[212] != 1 {
		return nil, errBlake2FInvalidFinalFlag
	}
	var (
		rounds = binary.BigEndian.Uint32(input[0:4])
		final  = input[212] == 1
		h      [8]uint64
		m      [16]uint64
		t      [2]uint64
	)
	for i := 0; i < 8; i++ {
		offset := 4 + i*8
		h[i] = binary.LittleEndian.Uint64(input[offset : offset+8])
	}
	for i := 0; i < 16; i++ {
		offset := 68 + i*8
		m[i] = binary.LittleEndian.Uint64(input[offset : offset+8])
	}
	t[0] = binary.LittleEndian.Uint64(input[196:204])
	t[1] = binary.LittleEndian.Uint64(input[204:212])

	blake2b.F(&h, m, t, final, rounds)

	output := make([]byte, 64)
	for i := 0; i < 8; i++ {
		offset := i * 8
		binary.LittleEndian.PutUint64(output[offset:offset+8], h[i])
	}
	return output, nil
}

// --- KZG point evaluation (0x0a, EIP-4844) ---

var (
	errBlobVerifyInvalidInputLength = errors.New("invalid input length")
	errBlobVerifyMismatchedVersion  = errors.New("mismatched versioned hash")
	errBlobVerifyKZGProof           = errors.New("error verifying kzg proof")

	// blobVerifyResult is the constant success output:
	// FIELD_ELEMENTS_PER_BLOB ‖ BLS_MODULUS, each as a 32-byte word.
	blobVerifyResult = fromHexString("000000000000000000000000000000000000000000000000000000000000100073eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001")

	kzgContext *gokzg4844.Context
)

const blobCommitmentVersionKZG byte = 0x01

func fromHexString(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := 0; i < len(b); i++ {
		hi := hexNibble(s[2*i])
		lo := hexNibble(s[2*i+1])
		b[i] = hi<<4 | lo
	}
	return b
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

type kzgPointEvaluation struct{}

func (c *kzgPointEvaluation) RequiredGas(input []byte) uint64 {
	return KzgPointEvaluationGas
}

// Run verifies a KZG opening proof: input is versioned_hash(32) ‖ z(32) ‖
// y(32) ‖ commitment(48) ‖ proof(48).
func (c *kzgPointEvaluation) Run(input []byte) ([]byte, error) {
	if len(input) != 192 {
		return nil, errBlobVerifyInvalidInputLength
	}
	var versionedHash types.Hash
	copy(versionedHash[:], input[:32])

	var (
		point gokzg4844.Scalar
		claim gokzg4844.Scalar
	)
	copy(point[:], input[32:64])
	copy(claim[:], input[64:96])

	var commitment gokzg4844.KZGCommitment
	copy(commitment[:], input[96:144])
	if kzgToVersionedHash(commitment) != versionedHash {
		return nil, errBlobVerifyMismatchedVersion
	}

	var proof gokzg4844.KZGProof
	copy(proof[:], input[144:192])

	if kzgContext == nil {
		ctx, err := gokzg4844.NewContext4096Secure()
		if err != nil {
			return nil, errBlobVerifyKZGProof
		}
		kzgContext = ctx
	}
	if err := kzgContext.VerifyKZGProof(commitment, point, claim, proof); err != nil {
		return nil, errBlobVerifyKZGProof
	}
	return blobVerifyResult, nil
}

// kzgToVersionedHash computes sha256(commitment) with the first byte
// replaced by the KZG version.
func kzgToVersionedHash(commitment gokzg4844.KZGCommitment) types.Hash {
	h := sha256.Sum256(commitment[:])
	h[0] = blobCommitmentVersionKZG
	return types.Hash(h)
}
