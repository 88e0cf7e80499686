package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Fantasim/tappos/internal/config"
)

// successResponse wraps data in the standard {"data": ...} envelope.
type successResponse struct {
	Data interface{} `json:"data"`
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes a success response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(successResponse{Data: data}); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// Error writes an error response with the given status code, error code, and message.
func Error(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error: errorBody{
			Code:    code,
			Message: message,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// FromError writes err using its taxonomy code and the matching HTTP status.
func FromError(w http.ResponseWriter, err error) {
	code := config.ErrorCode(err)
	message := err.Error()
	if code == config.ErrorInternal {
		message = "internal error"
	}
	Error(w, StatusForCode(code), code, message)
}

// StatusForCode maps a taxonomy code to the HTTP status returned for it.
func StatusForCode(code string) int {
	switch code {
	case config.ErrorInvalidAmount, config.ErrorInvalidRequest:
		return http.StatusBadRequest
	case config.ErrorIPNotAllowed:
		return http.StatusForbidden
	case config.ErrorAlreadyArmed, config.ErrorCancelled:
		return http.StatusConflict
	case config.ErrorInvalidAddress, config.ErrorNoViableToken, config.ErrorDeviceMoved:
		return http.StatusUnprocessableEntity
	case config.ErrorFetchFailed, config.ErrorReaderFailure:
		return http.StatusBadGateway
	case config.ErrorTimeout:
		return http.StatusGatewayTimeout
	case config.ErrorNotRunning:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
