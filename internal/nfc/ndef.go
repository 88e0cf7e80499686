// Package nfc frames payment requests into the proximity transport's binary
// commands and parses the customer device's responses.
package nfc

import (
	"fmt"

	"github.com/Fantasim/tappos/internal/config"
)

// EncodeMessage wraps uri in a single short NDEF URI record with no
// abbreviation. The result is always 5+len(uri) bytes.
func EncodeMessage(uri string) ([]byte, error) {
	payloadLen := len(uri) + 1
	if payloadLen > config.MaxShortPayload {
		return nil, fmt.Errorf("%w: uri payload is %d bytes", config.ErrPayloadTooLarge, payloadLen)
	}

	msg := make([]byte, 0, 5+len(uri))
	msg = append(msg,
		config.NDEFRecordHeader,
		0x01, // type length
		byte(payloadLen),
		config.NDEFTypeURI,
		config.NDEFURINoAbbrev,
	)
	msg = append(msg, uri...)
	return msg, nil
}

// DecodeMessage extracts the URI from a message produced by EncodeMessage.
func DecodeMessage(msg []byte) (string, error) {
	if len(msg) < 5 {
		return "", fmt.Errorf("%w: message too short (%d bytes)", config.ErrMalformedURI, len(msg))
	}
	if msg[0] != config.NDEFRecordHeader || msg[1] != 0x01 || msg[3] != config.NDEFTypeURI {
		return "", fmt.Errorf("%w: unexpected record header % X", config.ErrMalformedURI, msg[:4])
	}
	payloadLen := int(msg[2])
	if payloadLen != len(msg)-4 {
		return "", fmt.Errorf("%w: payload length %d does not match %d bytes", config.ErrMalformedURI, payloadLen, len(msg)-4)
	}
	if msg[4] != config.NDEFURINoAbbrev {
		return "", fmt.Errorf("%w: unsupported uri abbreviation 0x%02X", config.ErrMalformedURI, msg[4])
	}
	return string(msg[5:]), nil
}
