package nfc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Fantasim/tappos/internal/config"
)

// Vendor messages reported when the phone leaves the field mid-exchange.
var movedSignatures = []string{
	"tag moved",
	"card was removed",
	"card has been removed",
	"card was reset",
	"transaction interrupted",
}

// ClassifyTransmitError maps a reader error to DEVICE_MOVED when the device
// left the field, or READER_ERROR for any other I/O failure. Drivers report
// card removal by wrapping ErrDeviceMoved; vendor messages are matched as a
// fallback.
func ClassifyTransmitError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, config.ErrDeviceMoved) {
		return err
	}
	if errors.Is(err, config.ErrNoCard) {
		return fmt.Errorf("%w: %v", config.ErrDeviceMoved, err)
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range movedSignatures {
		if strings.Contains(msg, sig) {
			return fmt.Errorf("%w: %v", config.ErrDeviceMoved, err)
		}
	}
	if errors.Is(err, config.ErrReaderFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", config.ErrReaderFailure, err)
}
