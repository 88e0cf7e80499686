package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"

	"github.com/Fantasim/tappos/internal/config"
)

// PCSC drives a contactless reader through the PC/SC daemon. Status polling
// and card I/O use separate PC/SC contexts so Transmit never shares a context
// with the blocking status-change call.
type PCSC struct {
	filter string

	mu         sync.Mutex
	subscribed bool
	reader     string
	card       *scard.Card
	cancel     context.CancelFunc
	done       chan struct{}
	events     chan Event
	closeOnce  sync.Once
}

// NewPCSC creates a driver for the first reader whose name contains filter
// (case-insensitive). An empty filter selects the first reader found.
func NewPCSC(filter string) *PCSC {
	return &PCSC{filter: filter}
}

// Subscribe starts the monitoring goroutine and hands out its event stream.
func (d *PCSC) Subscribe() (<-chan Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.subscribed {
		return nil, config.ErrReaderInUse
	}
	d.subscribed = true

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.events = make(chan Event, config.ReaderEventBuffer)

	go d.run(ctx)

	slog.Info("reader monitoring started", "filter", d.filter)
	return d.events, nil
}

// Connected reports whether a reader is currently attached.
func (d *PCSC) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reader != ""
}

// Transmit sends cmd to the card in the field. A card removed or reset
// mid-exchange is reported as ErrDeviceMoved; other PC/SC errors are returned
// unchanged.
func (d *PCSC) Transmit(ctx context.Context, cmd []byte, maxResponseLen int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.card == nil {
		return nil, config.ErrNoCard
	}

	start := time.Now()
	resp, err := d.card.Transmit(cmd)
	if err != nil {
		slog.Warn("reader transmit failed",
			"reader", d.reader,
			"cmdLen", len(cmd),
			"error", err,
		)
		return nil, classifyCardError(err)
	}
	if maxResponseLen > 0 && len(resp) > maxResponseLen {
		return nil, fmt.Errorf("%w: response of %d bytes exceeds %d", config.ErrReaderFailure, len(resp), maxResponseLen)
	}

	slog.Debug("reader transmit",
		"reader", d.reader,
		"cmdLen", len(cmd),
		"respLen", len(resp),
		"elapsed", time.Since(start),
	)
	return resp, nil
}

// Close stops monitoring and waits for the goroutine to release PC/SC.
func (d *PCSC) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		cancel, done := d.cancel, d.done
		d.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()

		select {
		case <-done:
		case <-time.After(config.ShutdownTimeout):
			slog.Warn("reader monitor did not stop in time", "timeout", config.ShutdownTimeout)
		}
		slog.Info("reader closed")
	})
	return nil
}

func (d *PCSC) run(ctx context.Context) {
	defer close(d.done)
	defer close(d.events)

	for {
		err := d.monitor(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, config.ErrReaderDisconnected) {
			slog.Warn("reader disconnected", "error", err)
			d.emit(ctx, Event{Type: Disconnected, Err: err})
		} else if err != nil {
			slog.Error("reader monitor failed", "error", err)
			d.emit(ctx, Event{Type: Error, Err: fmt.Errorf("%w: %v", config.ErrReaderFailure, err)})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(config.ReaderRetryBackoff):
		}
	}
}

// monitor attaches to one reader and reports tap events until the reader
// goes away or ctx is cancelled.
func (d *PCSC) monitor(ctx context.Context) error {
	statusCtx, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("%w: establish context: %v", config.ErrReaderDisconnected, err)
	}
	defer statusCtx.Release()

	cardCtx, err := scard.EstablishContext()
	if err != nil {
		return fmt.Errorf("%w: establish card context: %v", config.ErrReaderDisconnected, err)
	}
	defer cardCtx.Release()

	readers, err := statusCtx.ListReaders()
	if err != nil {
		return fmt.Errorf("%w: list readers: %v", config.ErrReaderDisconnected, err)
	}
	name, ok := selectReader(readers, d.filter)
	if !ok {
		return fmt.Errorf("%w: no reader matching %q among %d", config.ErrReaderDisconnected, d.filter, len(readers))
	}

	d.mu.Lock()
	d.reader = name
	d.mu.Unlock()
	defer d.detach()

	slog.Info("reader attached", "reader", name, "available", len(readers))

	states := []scard.ReaderState{{Reader: name, CurrentState: scard.StateUnaware}}
	present := false

	for ctx.Err() == nil {
		err := statusCtx.GetStatusChange(states, config.ReaderPollTimeout)
		if errors.Is(err, scard.ErrTimeout) {
			continue
		}
		if err != nil {
			if isReaderGone(err) {
				return fmt.Errorf("%w: %v", config.ErrReaderDisconnected, err)
			}
			return err
		}

		state := states[0].EventState
		states[0].CurrentState = state

		if state&scard.StateUnavailable != 0 {
			return fmt.Errorf("%w: reader %s unavailable", config.ErrReaderDisconnected, name)
		}

		nowPresent := state&scard.StatePresent != 0 && state&scard.StateMute == 0
		switch {
		case nowPresent && !present:
			card, err := cardCtx.Connect(name, scard.ShareShared, scard.ProtocolAny)
			if err != nil {
				slog.Warn("card connect failed", "reader", name, "error", err)
				d.emit(ctx, Event{Type: Error, Reader: name, Err: fmt.Errorf("%w: connect: %v", config.ErrReaderFailure, err)})
				continue
			}
			d.mu.Lock()
			d.card = card
			d.mu.Unlock()

			slog.Info("card detected", "reader", name)
			d.emit(ctx, Event{Type: CardDetected, Reader: name})

		case !nowPresent && present:
			d.dropCard()
			slog.Debug("card removed", "reader", name)
		}
		present = nowPresent
	}
	return nil
}

func (d *PCSC) emit(ctx context.Context, ev Event) {
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

func (d *PCSC) dropCard() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.card != nil {
		d.card.Disconnect(scard.LeaveCard)
		d.card = nil
	}
}

func (d *PCSC) detach() {
	d.dropCard()
	d.mu.Lock()
	d.reader = ""
	d.mu.Unlock()
}

func selectReader(readers []string, filter string) (string, bool) {
	if len(readers) == 0 {
		return "", false
	}
	if filter == "" {
		return readers[0], true
	}
	want := strings.ToLower(filter)
	for _, r := range readers {
		if strings.Contains(strings.ToLower(r), want) {
			return r, true
		}
	}
	return "", false
}

// classifyCardError wraps the PC/SC codes for a card leaving the field in
// ErrDeviceMoved.
func classifyCardError(err error) error {
	if errors.Is(err, scard.ErrRemovedCard) || errors.Is(err, scard.ErrResetCard) {
		return fmt.Errorf("%w: %v", config.ErrDeviceMoved, err)
	}
	return err
}

func isReaderGone(err error) bool {
	return errors.Is(err, scard.ErrReaderUnavailable) ||
		errors.Is(err, scard.ErrNoReadersAvailable) ||
		errors.Is(err, scard.ErrUnknownReader) ||
		errors.Is(err, scard.ErrNoService) ||
		errors.Is(err, scard.ErrServiceStopped)
}
