package config

import (
	"errors"
	"time"
)

// Sentinel errors for the terminal error taxonomy. Every failure handed to a
// pending payment or scan wraps exactly one of these.
var (
	ErrAlreadyArmed   = errors.New("terminal already armed")
	ErrDeviceMoved    = errors.New("device moved during transmission")
	ErrInvalidAddress = errors.New("invalid wallet address")
	ErrNoViableToken  = errors.New("no viable token for payment")
	ErrFetchFailed    = errors.New("chain data fetch failed")
	ErrCancelled      = errors.New("operation cancelled")
	ErrTimeout        = errors.New("confirmation timeout")

	ErrReaderFailure = errors.New("reader failure")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNotRunning    = errors.New("terminal service not running")
)

// Internal errors.
var (
	ErrInvalidConfig       = errors.New("invalid config")
	ErrPayloadTooLarge     = errors.New("payload exceeds single-byte length field")
	ErrInvalidTemplate     = errors.New("command template shorter than 4 bytes")
	ErrAlreadyRunning      = errors.New("terminal service already running")
	ErrReaderInUse         = errors.New("reader already has a subscriber")
	ErrReaderDisconnected  = errors.New("reader disconnected")
	ErrNoCard              = errors.New("no card present")
	ErrAlreadyMonitoring   = errors.New("confirmation monitoring already active")
	ErrPriceFetchFailed    = errors.New("price fetch failed")
	ErrUnknownChain        = errors.New("unknown chain")
	ErrUnsupportedToken    = errors.New("token not supported on chain")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
	ErrAllProvidersFailed  = errors.New("all providers failed")
	ErrNoProviders         = errors.New("no providers configured")
	ErrStorageNotFound     = errors.New("storage entry not found")
	ErrMalformedURI        = errors.New("malformed payment URI")
	ErrRecipientNotDefined = errors.New("no recipient configured for chain")
	ErrNotResolved         = errors.New("cycle result not resolved yet")
)

// TransientError wraps an error that should be retried.
type TransientError struct {
	Err        error
	RetryAfter time.Duration // 0 = use default backoff
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient (retriable).
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// NewTransientErrorWithRetry wraps with explicit retry delay.
func NewTransientErrorWithRetry(err error, retryAfter time.Duration) error {
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// IsTransient returns true if the error is transient (retriable).
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// GetRetryAfter returns the retry delay if set, or 0.
func GetRetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// Error codes shared with the checkout frontend via API responses and events.
const (
	ErrorAlreadyArmed   = "ERROR_ALREADY_ARMED"
	ErrorDeviceMoved    = "ERROR_DEVICE_MOVED"
	ErrorInvalidAddress = "ERROR_INVALID_ADDRESS"
	ErrorNoViableToken  = "ERROR_NO_VIABLE_TOKEN"
	ErrorFetchFailed    = "ERROR_FETCH"
	ErrorCancelled      = "ERROR_CANCELLED"
	ErrorTimeout        = "ERROR_TIMEOUT"
	ErrorReaderFailure  = "ERROR_READER"
	ErrorInvalidAmount  = "ERROR_INVALID_AMOUNT"
	ErrorNotRunning     = "ERROR_NOT_RUNNING"

	ErrorInvalidRequest = "ERROR_INVALID_REQUEST"
	ErrorIPNotAllowed   = "ERROR_IP_NOT_ALLOWED"
	ErrorInternal       = "ERROR_INTERNAL"
)

// errorCodes is checked in order; the first sentinel matched wins.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAlreadyArmed, ErrorAlreadyArmed},
	{ErrDeviceMoved, ErrorDeviceMoved},
	{ErrInvalidAddress, ErrorInvalidAddress},
	{ErrNoViableToken, ErrorNoViableToken},
	{ErrFetchFailed, ErrorFetchFailed},
	{ErrCancelled, ErrorCancelled},
	{ErrTimeout, ErrorTimeout},
	{ErrReaderFailure, ErrorReaderFailure},
	{ErrInvalidAmount, ErrorInvalidAmount},
	{ErrNotRunning, ErrorNotRunning},
}

// ErrorCode maps err to its taxonomy code. Unknown errors map to ErrorInternal
// and nil maps to "".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return ErrorInternal
}
