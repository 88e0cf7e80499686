package validate

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/Fantasim/tappos/internal/config"
)

const (
	accountIDLength   = 32
	ss58ChecksumBytes = 2
)

var ss58Prefix = []byte("SS58PRE")

// Kind returns the chain kind an address belongs to, or "" when it is not a
// well-formed address of any supported kind.
func Kind(addr string) string {
	if validateEVM(addr) == nil {
		return config.ChainKindEVM
	}
	if _, _, err := DecodeSS58(addr); err == nil {
		return config.ChainKindSubstrate
	}
	return ""
}

// Address validates that addr is a well-formed SS58 or EVM address.
// The returned error wraps config.ErrInvalidAddress.
func Address(addr string) error {
	slog.Debug("validating address", "address", addr)

	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		if err := validateEVM(addr); err != nil {
			return err
		}
		return nil
	}
	if _, _, err := DecodeSS58(addr); err != nil {
		return err
	}
	return nil
}

// IsValidAddress is the boolean form of Address.
func IsValidAddress(addr string) bool {
	return Address(addr) == nil
}

// validateEVM checks the 0x + 40 hex format and, for mixed-case input, the
// EIP-55 checksum.
func validateEVM(addr string) error {
	if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
		return fmt.Errorf("%w: %q must match 0x + 40 hex characters", config.ErrInvalidAddress, addr)
	}
	body := addr[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if common.HexToAddress(addr).Hex() != addr {
			return fmt.Errorf("%w: %q fails EIP-55 checksum", config.ErrInvalidAddress, addr)
		}
	}
	return nil
}

// DecodeSS58 decodes an SS58 address into its network prefix and 32-byte
// account ID, verifying the blake2b checksum.
func DecodeSS58(addr string) (uint16, []byte, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %q base58 decode failed: %v", config.ErrInvalidAddress, addr, err)
	}
	if len(raw) == 0 {
		return 0, nil, fmt.Errorf("%w: empty address", config.ErrInvalidAddress)
	}

	var prefix uint16
	prefixLen := 1
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
	case raw[0] < 128:
		if len(raw) < 2 {
			return 0, nil, fmt.Errorf("%w: %q truncated prefix", config.ErrInvalidAddress, addr)
		}
		lower := (raw[0]&0x3F)<<2 | raw[1]>>6
		upper := raw[1] & 0x3F
		prefix = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return 0, nil, fmt.Errorf("%w: %q has reserved prefix byte 0x%02X", config.ErrInvalidAddress, addr, raw[0])
	}

	if len(raw) != prefixLen+accountIDLength+ss58ChecksumBytes {
		return 0, nil, fmt.Errorf("%w: %q decoded to %d bytes", config.ErrInvalidAddress, addr, len(raw))
	}

	body := raw[:prefixLen+accountIDLength]
	want := ss58Checksum(body)
	if !bytes.Equal(raw[len(body):], want) {
		return 0, nil, fmt.Errorf("%w: %q checksum mismatch", config.ErrInvalidAddress, addr)
	}

	return prefix, body[prefixLen:], nil
}

// EncodeSS58 encodes a 32-byte account ID for the given network prefix.
func EncodeSS58(prefix uint16, accountID []byte) (string, error) {
	if len(accountID) != accountIDLength {
		return "", fmt.Errorf("%w: account id is %d bytes", config.ErrInvalidAddress, len(accountID))
	}
	if prefix > 16383 {
		return "", fmt.Errorf("%w: prefix %d out of range", config.ErrInvalidAddress, prefix)
	}

	var body []byte
	if prefix < 64 {
		body = append(body, byte(prefix))
	} else {
		first := byte((prefix&0x00FC)>>2) | 0x40
		second := byte(prefix>>8) | byte(prefix&0x0003)<<6
		body = append(body, first, second)
	}
	body = append(body, accountID...)
	body = append(body, ss58Checksum(body)...)
	return base58.Encode(body), nil
}

// AccountID returns the raw 32-byte public key behind an SS58 address.
func AccountID(addr string) ([]byte, error) {
	_, id, err := DecodeSS58(addr)
	return id, err
}

func ss58Checksum(body []byte) []byte {
	h, _ := blake2b.New512(nil)
	h.Write(ss58Prefix)
	h.Write(body)
	return h.Sum(nil)[:ss58ChecksumBytes]
}
