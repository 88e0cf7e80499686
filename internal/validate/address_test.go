package validate

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Fantasim/tappos/internal/config"
)

const (
	alicePubKey   = "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	aliceGeneric  = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	alicePolkadot = "15oF4uVJwmo4TdGW7VfQxNLavjCXviqxT9S1MgbjMNHr6Sp5"
	evmLower      = "0xf278cf59f82edcf871d630f28ecc8056f25c1cdb"
)

// flipFirstLetterCase breaks an EIP-55 checksum while keeping mixed case.
func flipFirstLetterCase(addr string) string {
	b := []byte(addr)
	for i := 2; i < len(b); i++ {
		switch {
		case b[i] >= 'a' && b[i] <= 'f':
			b[i] -= 'a' - 'A'
			return string(b)
		case b[i] >= 'A' && b[i] <= 'F':
			b[i] += 'a' - 'A'
			return string(b)
		}
	}
	return addr
}

func TestDecodeSS58_KnownVectors(t *testing.T) {
	tests := []struct {
		name   string
		addr   string
		prefix uint16
	}{
		{"generic substrate", aliceGeneric, 42},
		{"polkadot", alicePolkadot, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, id, err := DecodeSS58(tt.addr)
			if err != nil {
				t.Fatalf("DecodeSS58(%s) error = %v", tt.addr, err)
			}
			if prefix != tt.prefix {
				t.Errorf("prefix = %d, want %d", prefix, tt.prefix)
			}
			if hex.EncodeToString(id) != alicePubKey {
				t.Errorf("account id = %x, want %s", id, alicePubKey)
			}
		})
	}
}

func TestEncodeSS58_RoundTrip(t *testing.T) {
	pub, _ := hex.DecodeString(alicePubKey)

	for _, prefix := range []uint16{0, 2, 42, 63, 64, 1284, 16383} {
		addr, err := EncodeSS58(prefix, pub)
		if err != nil {
			t.Fatalf("EncodeSS58(%d) error = %v", prefix, err)
		}
		gotPrefix, id, err := DecodeSS58(addr)
		if err != nil {
			t.Fatalf("DecodeSS58(%s) error = %v", addr, err)
		}
		if gotPrefix != prefix {
			t.Errorf("prefix round trip: got %d, want %d", gotPrefix, prefix)
		}
		if hex.EncodeToString(id) != alicePubKey {
			t.Errorf("account id round trip mismatch for prefix %d", prefix)
		}
	}

	generic, _ := EncodeSS58(42, pub)
	if generic != aliceGeneric {
		t.Errorf("EncodeSS58(42) = %s, want %s", generic, aliceGeneric)
	}
}

func TestEncodeSS58_Errors(t *testing.T) {
	if _, err := EncodeSS58(0, []byte{1, 2, 3}); !errors.Is(err, config.ErrInvalidAddress) {
		t.Errorf("short id: expected ErrInvalidAddress, got %v", err)
	}
	pub, _ := hex.DecodeString(alicePubKey)
	if _, err := EncodeSS58(16384, pub); !errors.Is(err, config.ErrInvalidAddress) {
		t.Errorf("large prefix: expected ErrInvalidAddress, got %v", err)
	}
}

func TestAddress_Valid(t *testing.T) {
	tests := []struct {
		name    string
		address string
		kind    string
	}{
		{"ss58 generic", aliceGeneric, config.ChainKindSubstrate},
		{"ss58 polkadot", alicePolkadot, config.ChainKindSubstrate},
		{"evm lowercase", evmLower, config.ChainKindEVM},
		{"evm checksummed", common.HexToAddress(evmLower).Hex(), config.ChainKindEVM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Address(tt.address); err != nil {
				t.Errorf("Address(%s) error = %v", tt.address, err)
			}
			if !IsValidAddress(tt.address) {
				t.Errorf("IsValidAddress(%s) = false", tt.address)
			}
			if got := Kind(tt.address); got != tt.kind {
				t.Errorf("Kind(%s) = %q, want %q", tt.address, got, tt.kind)
			}
		})
	}
}

func TestAddress_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		address string
	}{
		{"empty", ""},
		{"garbage", "notanaddress"},
		{"ss58 bad checksum", "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQZ"},
		{"ss58 truncated", "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKut"},
		{"base58 invalid char", "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKut0l"},
		{"evm too short", "0xF278cF59F82eDcf871d630F28EcC8056f25C1c"},
		{"evm bad checksum", flipFirstLetterCase(common.HexToAddress(evmLower).Hex())},
		{"evm no prefix", "f278cf59f82edcf871d630f28ecc8056f25c1cdb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Address(tt.address)
			if !errors.Is(err, config.ErrInvalidAddress) {
				t.Errorf("Address(%q) = %v, want ErrInvalidAddress", tt.address, err)
			}
			if Kind(tt.address) != "" {
				t.Errorf("Kind(%q) should be empty", tt.address)
			}
		})
	}
}
