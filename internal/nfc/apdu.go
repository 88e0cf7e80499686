package nfc

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Fantasim/tappos/internal/config"
)

// WrapInTransportCommand prefixes message with the first four bytes of the
// template and a single length byte.
func WrapInTransportCommand(message, template []byte) ([]byte, error) {
	if len(template) < config.CommandHeaderLength {
		return nil, fmt.Errorf("%w: got %d bytes", config.ErrInvalidTemplate, len(template))
	}
	if len(message) > config.MaxShortPayload {
		return nil, fmt.Errorf("%w: message is %d bytes", config.ErrPayloadTooLarge, len(message))
	}

	cmd := make([]byte, 0, config.CommandHeaderLength+1+len(message))
	cmd = append(cmd, template[:config.CommandHeaderLength]...)
	cmd = append(cmd, byte(len(message)))
	cmd = append(cmd, message...)
	return cmd, nil
}

// BuildReadCommand returns the template header followed by Le=0x00, asking
// the device for as many bytes as it has.
func BuildReadCommand(template []byte) ([]byte, error) {
	if len(template) < config.CommandHeaderLength {
		return nil, fmt.Errorf("%w: got %d bytes", config.ErrInvalidTemplate, len(template))
	}
	cmd := make([]byte, 0, config.CommandHeaderLength+1)
	cmd = append(cmd, template[:config.CommandHeaderLength]...)
	return append(cmd, 0x00), nil
}

// BuildSelectCommand returns an ISO 7816-4 SELECT by AID.
func BuildSelectCommand(aid []byte) ([]byte, error) {
	if len(aid) == 0 || len(aid) > config.MaxShortPayload {
		return nil, fmt.Errorf("%w: aid is %d bytes", config.ErrPayloadTooLarge, len(aid))
	}
	cmd := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}
	cmd = append(cmd, aid...)
	return append(cmd, 0x00), nil
}

// StatusWord returns the trailing big-endian status word, or 0 when the
// response is too short to carry one.
func StatusWord(resp []byte) uint16 {
	if len(resp) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(resp[len(resp)-2:])
}

// IsSuccessStatus reports whether the response ends in 0x9000.
func IsSuccessStatus(resp []byte) bool {
	return len(resp) >= 2 && StatusWord(resp) == config.StatusWordSuccess
}

// ParseReadResponse checks the status word and returns the payload as a
// trimmed string. A non-success status is a reader failure, not a crash.
func ParseReadResponse(resp []byte) (string, error) {
	if !IsSuccessStatus(resp) {
		return "", fmt.Errorf("%w: read status 0x%04X", config.ErrReaderFailure, StatusWord(resp))
	}
	data := resp[:len(resp)-2]
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: response is not utf-8", config.ErrInvalidAddress)
	}
	return strings.TrimSpace(strings.TrimRight(string(data), "\x00")), nil
}
