package crypto

import (
	"testing"

	"github.com/nebulavm/nebula/core/types"
)

func TestKeccak256EmptyInput(t *testing.T) {
	got := Keccak256Hash()
	if got != types.EmptyCodeHash {
		t.Errorf("keccak256(\"\") = %s, want %s", got, types.EmptyCodeHash)
	}
}

func TestCreateAddress(t *testing.T) {
	caller := types.HexToAddress("0x970e8128ab834e8eac17ab8e3812f010678cf791")

	cases := []struct {
		nonce uint64
		want  types.Address
	}{
		{0, types.HexToAddress("0x333c3310824b7c685133f2bedb2ca4b8b4df633d")},
		{1, types.HexToAddress("0x8bda78331c916a08481428e4b07c96d3e916d165")},
		{2, types.HexToAddress("0xc9ddedf451bc62ce88bf9292afb13df35b670699")},
	}
	for _, tc := range cases {
		if got := CreateAddress(caller, tc.nonce); got != tc.want {
			t.Errorf("CreateAddress(nonce=%d) = %s, want %s", tc.nonce, got, tc.want)
		}
	}
}

func TestCreateAddress2(t *testing.T) {
	// Vectors from EIP-1014.
	cases := []struct {
		caller types.Address
		salt   types.Hash
		code   []byte
		want   types.Address
	}{
		{
			types.Address{},
			types.Hash{},
			[]byte{0x00},
			types.HexToAddress("0x4D1A2e2bB4F88F0250f26Ffff098B0b30B26BF38"),
		},
		{
			types.HexToAddress("0xdeadbeef00000000000000000000000000000000"),
			types.Hash{},
			[]byte{0x00},
			types.HexToAddress("0xB928f69Bb1D91Cd65274e3c79d8986362984fDA3"),
		},
	}
	for i, tc := range cases {
		got := CreateAddress2(tc.caller, tc.salt, Keccak256(tc.code))
		if got != tc.want {
			t.Errorf("case %d: CreateAddress2 = %s, want %s", i, got, tc.want)
		}
	}
}
