// Package terminal runs the tap-driven payment state machine. All session
// state is owned by a single actor goroutine; public methods and background
// work talk to it through a command channel.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/events"
	"github.com/Fantasim/tappos/internal/metrics"
	"github.com/Fantasim/tappos/internal/models"
	"github.com/Fantasim/tappos/internal/reader"
)

// Portfolio returns the priced balances of a customer address.
type Portfolio interface {
	GetPricedBalances(ctx context.Context, address string) ([]models.PricedToken, error)
}

// ChainLookup resolves static chain definitions.
type ChainLookup interface {
	Chain(id uint32) (models.Chain, error)
}

// Monitor confirms a payment on chain. Start records the session's start
// block before returning and StopSession only stops the session with that ID.
type Monitor interface {
	Start(session *models.PaymentSession) error
	StopSession(id string) bool
	Active() bool
}

// Options holds the reader command templates.
type Options struct {
	ReadTemplate    []byte
	PaymentTemplate []byte
	SelectAID       []byte
}

// Mode is what the terminal is armed for.
type Mode string

const (
	ModeIdle        Mode = "idle"
	ModePayment     Mode = "payment"
	ModeAddressScan Mode = "address_scan"
)

// Phase is where an armed cycle currently is.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseArmed      Phase = "armed"
	PhaseProcessing Phase = "processing"
	PhaseMonitoring Phase = "monitoring"
)

// OutcomeSuccess is the result code of a cycle that completed normally.
const OutcomeSuccess = "SUCCESS"

// PaymentResult is the successful outcome of a payment cycle.
type PaymentResult struct {
	CycleID string   `json:"cycle_id"`
	TxRef   string   `json:"tx_ref"`
	Address string   `json:"address"`
	ChainID uint32   `json:"chain_id"`
	Symbol  string   `json:"symbol"`
	Amount  *big.Int `json:"amount"`
	URI     string   `json:"uri"`
}

// ScanResult is the successful outcome of an address scan.
type ScanResult struct {
	CycleID string `json:"cycle_id"`
	Address string `json:"address"`
}

// Outcome records how the last cycle ended.
type Outcome struct {
	CycleID string    `json:"cycle_id"`
	Mode    Mode      `json:"mode"`
	Code    string    `json:"code"`
	Message string    `json:"message,omitempty"`
	TxRef   string    `json:"tx_ref,omitempty"`
	Address string    `json:"address,omitempty"`
	At      time.Time `json:"at"`
}

// Snapshot is a point-in-time view of the terminal.
type Snapshot struct {
	Mode            Mode       `json:"mode"`
	Phase           Phase      `json:"phase"`
	CycleID         string     `json:"cycle_id,omitempty"`
	AmountUSD       string     `json:"amount_usd,omitempty"`
	ArmedAt         *time.Time `json:"armed_at,omitempty"`
	ReaderConnected bool       `json:"reader_connected"`
	Monitoring      bool       `json:"monitoring"`
	Last            *Outcome   `json:"last,omitempty"`
}

// cycle is the actor-owned state of one armed operation.
type cycle struct {
	id      string
	mode    Mode
	phase   Phase
	amount  decimal.Decimal
	armedAt time.Time

	payFuture  *Future[PaymentResult]
	scanFuture *Future[ScanResult]

	tapCancel   context.CancelFunc
	transmitted bool
	payment     PaymentResult
}

// Service is the device session state machine.
type Service struct {
	driver    reader.Driver
	portfolio Portfolio
	chains    ChainLookup
	monitor   Monitor
	events    events.Broadcaster
	metrics   metrics.Recorder
	opts      Options

	cmds    chan func()
	started atomic.Bool
	running atomic.Bool
	stopped chan struct{}
	taps    sync.WaitGroup

	// Owned by the actor goroutine.
	runCtx context.Context
	cur    *cycle
	last   *Outcome
}

// NewService wires the state machine. rec may be nil.
func NewService(
	driver reader.Driver,
	portfolio Portfolio,
	chains ChainLookup,
	monitor Monitor,
	broadcaster events.Broadcaster,
	rec metrics.Recorder,
	opts Options,
) *Service {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Service{
		driver:    driver,
		portfolio: portfolio,
		chains:    chains,
		monitor:   monitor,
		events:    events.Safe(broadcaster, rec),
		metrics:   rec,
		opts:      opts,
		cmds:      make(chan func(), config.TerminalCommandBuffer),
		stopped:   make(chan struct{}),
	}
}

// Run subscribes to the reader and processes commands and hardware events
// until ctx is cancelled. It may be called once per Service.
func (s *Service) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return config.ErrAlreadyRunning
	}

	readerEvents, err := s.driver.Subscribe()
	if err != nil {
		close(s.stopped)
		return fmt.Errorf("subscribe to reader: %w", err)
	}

	s.runCtx = ctx
	s.running.Store(true)
	slog.Info("terminal service running")

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil

		case fn := <-s.cmds:
			fn()

		case ev, ok := <-readerEvents:
			if !ok {
				readerEvents = nil
				s.handleReaderEvent(reader.Event{Type: reader.Disconnected, Err: config.ErrReaderDisconnected})
				continue
			}
			s.handleReaderEvent(ev)
		}
	}
}

func (s *Service) shutdown() {
	s.running.Store(false)
	if s.cur != nil {
		s.fail(s.cur.id, fmt.Errorf("%w: terminal shutting down", config.ErrCancelled))
	}
	close(s.stopped)

	done := make(chan struct{})
	go func() {
		s.taps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(config.ShutdownTimeout):
		slog.Warn("tap processing did not stop in time", "timeout", config.ShutdownTimeout)
	}
	slog.Info("terminal service stopped")
}

// do runs fn on the actor goroutine and waits for it to finish.
func (s *Service) do(fn func()) error {
	if !s.running.Load() {
		return config.ErrNotRunning
	}
	done := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(done) }:
	case <-s.stopped:
		return config.ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		select {
		case <-done:
			return nil
		default:
			return config.ErrNotRunning
		}
	}
}

// post queues fn for the actor without waiting. Dropped after shutdown.
func (s *Service) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.stopped:
	}
}

// ArmForPayment arms the terminal to charge amountUSD on the next tap.
func (s *Service) ArmForPayment(amountUSD decimal.Decimal) (*Future[PaymentResult], error) {
	if amountUSD.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidAmount, amountUSD.String())
	}

	var (
		fut    *Future[PaymentResult]
		armErr error
	)
	err := s.do(func() {
		if armErr = s.checkIdle(); armErr != nil {
			return
		}
		id := uuid.New().String()
		fut = newFuture[PaymentResult](id)
		s.cur = &cycle{
			id:        id,
			mode:      ModePayment,
			phase:     PhaseArmed,
			amount:    amountUSD,
			armedAt:   time.Now(),
			payFuture: fut,
		}
		slog.Info("armed for payment", "cycleID", id, "amountUSD", amountUSD.StringFixed(2))
		s.emitFor(id, config.EventArmed, "tap to pay", map[string]any{
			"mode":       ModePayment,
			"amount_usd": amountUSD.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}
	return fut, armErr
}

// ArmForAddressScan arms the terminal to read the next tapped address.
func (s *Service) ArmForAddressScan() (*Future[ScanResult], error) {
	var (
		fut    *Future[ScanResult]
		armErr error
	)
	err := s.do(func() {
		if armErr = s.checkIdle(); armErr != nil {
			return
		}
		id := uuid.New().String()
		fut = newFuture[ScanResult](id)
		s.cur = &cycle{
			id:         id,
			mode:       ModeAddressScan,
			phase:      PhaseArmed,
			armedAt:    time.Now(),
			scanFuture: fut,
		}
		slog.Info("armed for address scan", "cycleID", id)
		s.emitFor(id, config.EventArmed, "tap to share address", map[string]any{"mode": ModeAddressScan})
	})
	if err != nil {
		return nil, err
	}
	return fut, armErr
}

func (s *Service) checkIdle() error {
	if s.cur == nil {
		return nil
	}
	return fmt.Errorf("%w: %s cycle %s is %s", config.ErrAlreadyArmed, s.cur.mode, s.cur.id, s.cur.phase)
}

// Cancel ends the current cycle with CANCELLED. It is a no-op when idle.
func (s *Service) Cancel() error {
	return s.do(func() {
		if s.cur == nil {
			return
		}
		s.fail(s.cur.id, config.ErrCancelled)
	})
}

// CancelCycle cancels the current cycle only if its ID is id, so a caller
// abandoning its own request cannot end a cycle armed by someone else.
func (s *Service) CancelCycle(id string) error {
	return s.do(func() {
		if !s.current(id) {
			return
		}
		s.fail(id, config.ErrCancelled)
	})
}

// Status returns a snapshot of the terminal.
func (s *Service) Status() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() {
		snap = Snapshot{
			Mode:            ModeIdle,
			Phase:           PhaseIdle,
			ReaderConnected: s.driver.Connected(),
			Monitoring:      s.monitor.Active(),
			Last:            s.last,
		}
		if s.cur != nil {
			armedAt := s.cur.armedAt
			snap.Mode = s.cur.mode
			snap.Phase = s.cur.phase
			snap.CycleID = s.cur.id
			snap.ArmedAt = &armedAt
			if s.cur.mode == ModePayment {
				snap.AmountUSD = s.cur.amount.StringFixed(2)
			}
		}
	})
	return snap, err
}

// current reports whether id is the live cycle.
func (s *Service) current(id string) bool {
	return s.cur != nil && s.cur.id == id
}

func (s *Service) handleReaderEvent(ev reader.Event) {
	switch ev.Type {
	case reader.CardDetected:
		s.onTap()

	case reader.Error:
		slog.Warn("reader error", "reader", ev.Reader, "error", ev.Err)
		s.emit(config.EventReaderError, errMessage(ev.Err), map[string]any{"code": config.ErrorReaderFailure})

	case reader.Disconnected:
		slog.Warn("reader disconnected", "reader", ev.Reader, "error", ev.Err)
		s.emit(config.EventReaderDisconnected, errMessage(ev.Err), nil)
		if s.cur != nil && !s.cur.transmitted {
			s.fail(s.cur.id, fmt.Errorf("%w: %v", config.ErrReaderFailure, config.ErrReaderDisconnected))
		}
	}
}

func (s *Service) onTap() {
	if s.cur == nil {
		s.metrics.IncCounter(metrics.TapRejected, map[string]string{metrics.LabelOutcome: "not_armed"})
		slog.Info("tap ignored, terminal not armed")
		s.emit(config.EventNotArmed, "terminal is not armed", nil)
		return
	}
	if s.cur.phase != PhaseArmed {
		s.metrics.IncCounter(metrics.TapRejected, map[string]string{metrics.LabelOutcome: "busy"})
		slog.Info("tap ignored, cycle in progress", "cycleID", s.cur.id, "phase", s.cur.phase)
		s.emitFor(s.cur.id, config.EventBusy, "payment in progress", map[string]any{"phase": s.cur.phase})
		return
	}

	s.metrics.IncCounter(metrics.TapReceived, map[string]string{metrics.LabelOutcome: string(s.cur.mode)})

	ctx, cancel := context.WithCancel(s.runCtx)
	s.cur.phase = PhaseProcessing
	s.cur.tapCancel = cancel

	c := *s.cur
	slog.Info("tap detected", "cycleID", c.id, "mode", c.mode)
	s.emitFor(c.id, config.EventTapDetected, "reading device", nil)

	s.taps.Add(1)
	go func() {
		defer s.taps.Done()
		defer cancel()
		s.processTap(ctx, c.id, c.mode, c.amount)
	}()
}

// succeedScan resolves the live scan cycle with address.
func (s *Service) succeedScan(id, address string) {
	if !s.current(id) || s.cur.mode != ModeAddressScan {
		return
	}
	s.cur.scanFuture.resolve(ScanResult{CycleID: id, Address: address}, nil)
	s.finish(Outcome{CycleID: id, Mode: ModeAddressScan, Code: OutcomeSuccess, Address: address})
	s.emitFor(id, config.EventScanComplete, "address read", map[string]any{"address": address})
}

// succeedPayment resolves the live payment cycle once the poller confirmed it.
func (s *Service) succeedPayment(id string, res PaymentResult, txRef string) {
	if !s.current(id) || s.cur.mode != ModePayment {
		return
	}
	res.TxRef = txRef
	s.cur.payFuture.resolve(res, nil)
	s.finish(Outcome{CycleID: id, Mode: ModePayment, Code: OutcomeSuccess, TxRef: txRef, Address: res.Address})
	s.emitFor(id, config.EventPaymentConfirmed, "payment confirmed", map[string]any{
		"tx_ref":   txRef,
		"chain_id": res.ChainID,
		"symbol":   res.Symbol,
		"amount":   res.Amount.String(),
	})
}

// fail resolves the live cycle with err.
func (s *Service) fail(id string, err error) {
	if !s.current(id) {
		return
	}
	c := s.cur
	code := config.ErrorCode(err)

	switch c.mode {
	case ModePayment:
		c.payFuture.resolve(PaymentResult{}, err)
	case ModeAddressScan:
		c.scanFuture.resolve(ScanResult{}, err)
	}
	s.finish(Outcome{CycleID: id, Mode: c.mode, Code: code, Message: err.Error(), Address: c.payment.Address})

	// A cancelled cycle reports a single cancelled event, never a failure.
	evType := config.EventPaymentFailed
	switch {
	case errors.Is(err, config.ErrCancelled):
		evType = config.EventCancelled
	case c.mode == ModeAddressScan:
		evType = config.EventScanFailed
	}
	s.emitFor(id, evType, err.Error(), map[string]any{"code": code})
}

// finish records the outcome and returns the terminal to idle, releasing any
// in-flight tap work and monitoring.
func (s *Service) finish(out Outcome) {
	c := s.cur
	if c.tapCancel != nil {
		c.tapCancel()
	}
	if c.mode == ModePayment {
		s.monitor.StopSession(c.id)
	}

	out.At = time.Now()
	s.last = &out
	s.cur = nil

	s.metrics.IncCounter(metrics.CycleResolved, map[string]string{metrics.LabelOutcome: out.Code})
	s.metrics.ObserveLatency(metrics.CycleResolved, out.At.Sub(c.armedAt), map[string]string{metrics.LabelOutcome: out.Code})
	slog.Info("cycle resolved",
		"cycleID", out.CycleID,
		"mode", out.Mode,
		"code", out.Code,
		"message", out.Message,
		"elapsed", out.At.Sub(c.armedAt).Round(time.Millisecond),
	)
}

func (s *Service) emit(evType, message string, data map[string]any) {
	s.emitFor("", evType, message, data)
}

func (s *Service) emitFor(cycleID, evType, message string, data map[string]any) {
	ev := models.StatusEvent{
		Type:      evType,
		Message:   message,
		CycleID:   cycleID,
		Data:      data,
		Timestamp: time.Now(),
	}
	if code, ok := data["code"].(string); ok {
		ev.Code = code
	}
	s.events.Broadcast(ev)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
