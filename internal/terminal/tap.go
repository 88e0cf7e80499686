package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/models"
	"github.com/Fantasim/tappos/internal/nfc"
	"github.com/Fantasim/tappos/internal/selector"
	"github.com/Fantasim/tappos/internal/validate"
)

// processTap runs outside the actor. Every outcome is posted back tagged with
// the cycle ID so results of a cancelled cycle are discarded.
func (s *Service) processTap(ctx context.Context, id string, mode Mode, amountUSD decimal.Decimal) {
	start := time.Now()

	address, err := s.readAddress(ctx)
	if err != nil {
		s.postFailure(ctx, id, err)
		return
	}

	slog.Info("customer address read",
		"cycleID", id,
		"address", address,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if mode == ModeAddressScan {
		s.post(func() { s.succeedScan(id, address) })
		return
	}

	s.post(func() {
		if s.current(id) {
			s.cur.payment.Address = address
			s.emitFor(id, config.EventAddressRead, "address read", map[string]any{"address": address})
		}
	})

	res, err := s.preparePayment(ctx, id, address, amountUSD)
	if err != nil {
		s.postFailure(ctx, id, err)
		return
	}

	session, err := s.paymentSession(id, res)
	if err != nil {
		s.postFailure(ctx, id, err)
		return
	}

	// The start block is recorded before the request reaches the customer, so
	// the payment always lands above the baseline.
	if err := s.monitor.Start(session); err != nil {
		s.postFailure(ctx, id, err)
		return
	}
	abort := func(err error) {
		s.monitor.StopSession(id)
		s.postFailure(ctx, id, err)
	}

	// Last point where a cancelled cycle can avoid reaching the customer.
	if ctx.Err() != nil {
		s.monitor.StopSession(id)
		return
	}

	msg, err := nfc.EncodeMessage(res.URI)
	if err != nil {
		abort(err)
		return
	}
	cmd, err := nfc.WrapInTransportCommand(msg, s.opts.PaymentTemplate)
	if err != nil {
		abort(err)
		return
	}

	resp, err := s.driver.Transmit(ctx, cmd, config.MaxReadResponseLen)
	if err != nil {
		abort(nfc.ClassifyTransmitError(err))
		return
	}
	if !nfc.IsSuccessStatus(resp) {
		abort(fmt.Errorf("%w: payment request rejected with status %04X", config.ErrReaderFailure, nfc.StatusWord(resp)))
		return
	}

	slog.Info("payment request transmitted",
		"cycleID", id,
		"chainID", res.ChainID,
		"symbol", res.Symbol,
		"amount", res.Amount.String(),
		"startBlock", session.StartBlock,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	s.post(func() { s.paymentSent(id, res) })
}

// readAddress selects the wallet application when configured, reads the
// address and validates it.
func (s *Service) readAddress(ctx context.Context) (string, error) {
	if len(s.opts.SelectAID) > 0 {
		cmd, err := nfc.BuildSelectCommand(s.opts.SelectAID)
		if err != nil {
			return "", err
		}
		resp, err := s.driver.Transmit(ctx, cmd, config.MaxReadResponseLen)
		if err != nil {
			return "", nfc.ClassifyTransmitError(err)
		}
		if !nfc.IsSuccessStatus(resp) {
			return "", fmt.Errorf("%w: select rejected with status %04X", config.ErrReaderFailure, nfc.StatusWord(resp))
		}
	}

	cmd, err := nfc.BuildReadCommand(s.opts.ReadTemplate)
	if err != nil {
		return "", err
	}
	resp, err := s.driver.Transmit(ctx, cmd, config.MaxReadResponseLen)
	if err != nil {
		return "", nfc.ClassifyTransmitError(err)
	}

	address, err := nfc.ParseReadResponse(resp)
	if err != nil {
		return "", err
	}
	if err := validate.Address(address); err != nil {
		return "", err
	}
	return address, nil
}

// preparePayment picks the token and builds the payment URI.
func (s *Service) preparePayment(ctx context.Context, id, address string, amountUSD decimal.Decimal) (PaymentResult, error) {
	tokens, err := s.portfolio.GetPricedBalances(ctx, address)
	if err != nil {
		return PaymentResult{}, err
	}

	sel, err := selector.Select(tokens, amountUSD)
	if err != nil {
		return PaymentResult{}, err
	}

	chain, err := s.chains.Chain(sel.Token.ChainID)
	if err != nil {
		return PaymentResult{}, err
	}

	uri, err := nfc.BuildPaymentURI(chain.Recipient, sel.Amount, sel.Token.Symbol, chain)
	if err != nil {
		return PaymentResult{}, err
	}

	res := PaymentResult{
		CycleID: id,
		Address: address,
		ChainID: chain.ID,
		Symbol:  sel.Token.Symbol,
		Amount:  sel.Amount,
		URI:     uri,
	}

	slog.Info("payment token selected",
		"cycleID", id,
		"chain", chain.Name,
		"symbol", sel.Token.Symbol,
		"tier", sel.Tier,
		"valueUSD", sel.Token.ValueUSD,
		"amount", sel.Amount.String(),
	)
	s.post(func() {
		if s.current(id) {
			s.emitFor(id, config.EventTokenSelected, "token selected", map[string]any{
				"chain_id": chain.ID,
				"chain":    chain.DisplayName,
				"symbol":   sel.Token.Symbol,
				"amount":   sel.Amount.String(),
				"tier":     sel.Tier,
			})
		}
	})
	return res, nil
}

// paymentSession builds the confirmation session for a selected payment.
// Callbacks post back to the actor tagged with the cycle ID.
func (s *Service) paymentSession(id string, res PaymentResult) (*models.PaymentSession, error) {
	chain, err := s.chains.Chain(res.ChainID)
	if err != nil {
		return nil, err
	}
	token, ok := chain.TokenBySymbol(res.Symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", config.ErrUnsupportedToken, res.Symbol, chain.Name)
	}

	return &models.PaymentSession{
		ID:             id,
		Recipient:      chain.Recipient,
		ExpectedAmount: res.Amount,
		Token:          token,
		ChainID:        chain.ID,
		OnSuccess: func(txRef string) {
			s.post(func() { s.succeedPayment(id, res, txRef) })
		},
		OnError: func(err error) {
			s.post(func() { s.fail(id, err) })
		},
		OnTickError: func(err error) {
			s.post(func() {
				if s.current(id) {
					s.emitFor(id, config.EventMonitorTickError, err.Error(), nil)
				}
			})
		},
	}, nil
}

// paymentSent moves the cycle to monitoring once the request reached the
// customer. Monitoring was started before transmission.
func (s *Service) paymentSent(id string, res PaymentResult) {
	if !s.current(id) {
		s.monitor.StopSession(id)
		slog.Warn("payment transmitted for a cycle that already ended",
			"cycleID", id,
			"chainID", res.ChainID,
			"amount", res.Amount.String(),
		)
		return
	}

	s.cur.transmitted = true
	s.cur.tapCancel = nil
	s.cur.payment = res
	s.cur.phase = PhaseMonitoring

	s.emitFor(id, config.EventPaymentSent, "waiting for confirmation", map[string]any{
		"chain_id": res.ChainID,
		"symbol":   res.Symbol,
		"amount":   res.Amount.String(),
		"uri":      res.URI,
	})
}

// postFailure reports err for cycle id. Errors caused by the cycle's own
// cancellation are dropped since the cycle has already been resolved.
func (s *Service) postFailure(ctx context.Context, id string, err error) {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}
	slog.Warn("tap processing failed", "cycleID", id, "error", err)
	s.post(func() { s.fail(id, err) })
}
