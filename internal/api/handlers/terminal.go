package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/tappos/internal/api/httputil"
	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/terminal"
)

// Terminal is the part of terminal.Service the HTTP API drives.
type Terminal interface {
	ArmForPayment(amountUSD decimal.Decimal) (*terminal.Future[terminal.PaymentResult], error)
	ArmForAddressScan() (*terminal.Future[terminal.ScanResult], error)
	Cancel() error
	CancelCycle(id string) error
	Status() (terminal.Snapshot, error)
}

var validate = validator.New()

// ArmPaymentRequest is the body of POST /api/terminal/payment.
type ArmPaymentRequest struct {
	AmountUSD string `json:"amount_usd" validate:"required,numeric"`
}

// ArmPaymentResponse is returned once the terminal is armed. The payment
// itself resolves later and is reported on the event stream.
type ArmPaymentResponse struct {
	CycleID   string `json:"cycle_id"`
	Status    string `json:"status"`
	AmountUSD string `json:"amount_usd"`
}

// ArmPaymentHandler handles POST /api/terminal/payment.
func ArmPaymentHandler(term Terminal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ArmPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Error(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid JSON body")
			return
		}
		if err := validate.Struct(req); err != nil {
			httputil.Error(w, http.StatusBadRequest, config.ErrorInvalidAmount, "amount_usd must be a decimal string")
			return
		}
		amount, err := decimal.NewFromString(req.AmountUSD)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, config.ErrorInvalidAmount, "amount_usd must be a decimal string")
			return
		}

		fut, err := term.ArmForPayment(amount)
		if err != nil {
			slog.Warn("arm for payment rejected", "amountUSD", req.AmountUSD, "error", err)
			httputil.FromError(w, err)
			return
		}

		slog.Info("terminal armed via API",
			"cycleID", fut.ID(),
			"amountUSD", amount.StringFixed(2),
			"remoteAddr", r.RemoteAddr,
		)

		httputil.JSON(w, http.StatusAccepted, ArmPaymentResponse{
			CycleID:   fut.ID(),
			Status:    string(terminal.PhaseArmed),
			AmountUSD: amount.StringFixed(2),
		})
	}
}

// ScanHandler handles POST /api/terminal/scan. It holds the request open
// until a customer taps; if the client goes away first the scan is cancelled.
func ScanHandler(term Terminal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fut, err := term.ArmForAddressScan()
		if err != nil {
			slog.Warn("arm for address scan rejected", "error", err)
			httputil.FromError(w, err)
			return
		}

		slog.Info("address scan armed via API", "cycleID", fut.ID(), "remoteAddr", r.RemoteAddr)

		res, err := fut.Wait(r.Context())
		if err != nil && r.Context().Err() != nil {
			if cerr := term.CancelCycle(fut.ID()); cerr != nil {
				slog.Warn("failed to cancel abandoned scan", "cycleID", fut.ID(), "error", cerr)
			}
			slog.Info("address scan abandoned by client", "cycleID", fut.ID())
			return
		}
		if err != nil {
			httputil.FromError(w, err)
			return
		}

		httputil.JSON(w, http.StatusOK, res)
	}
}

// CancelHandler handles POST /api/terminal/cancel.
func CancelHandler(term Terminal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := term.Cancel(); err != nil {
			httputil.FromError(w, err)
			return
		}
		slog.Info("terminal cancelled via API", "remoteAddr", r.RemoteAddr)
		httputil.JSON(w, http.StatusOK, map[string]string{"status": string(terminal.PhaseIdle)})
	}
}

// StatusHandler handles GET /api/terminal/status.
func StatusHandler(term Terminal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := term.Status()
		if err != nil {
			httputil.FromError(w, err)
			return
		}
		httputil.JSON(w, http.StatusOK, snap)
	}
}
