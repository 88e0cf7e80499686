// Package confirm watches a recipient balance until an expected payment lands.
//
// Detection is balance-threshold based: a block is treated as the settlement
// block once the recipient balance at that height exceeds the baseline by at
// least the expected amount. Unrelated deposits to the same recipient can
// therefore satisfy a session; the reference reported is synthesized from the
// block, not from a matched extrinsic.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/metrics"
	"github.com/Fantasim/tappos/internal/models"
)

// ChainReader is the block and balance source the poller inspects.
type ChainReader interface {
	Chain(id uint32) (models.Chain, error)
	CurrentBlock(ctx context.Context, chainID uint32) (uint64, error)
	Block(ctx context.Context, chainID uint32, height uint64) (models.BlockData, error)
	BalanceAt(ctx context.Context, chainID uint32, address string, token models.Token, height uint64) (*big.Int, error)
}

// Poller monitors at most one payment session at a time.
type Poller struct {
	chains  ChainReader
	metrics metrics.Recorder

	interval time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	active *monitor
	wg     sync.WaitGroup
}

// monitor is the poller-owned state of one session. The baseline is written
// by Start before the session goroutine exists; after that, fields below
// cancel are touched only by the session goroutine.
type monitor struct {
	session models.PaymentSession
	chain   models.Chain
	cancel  context.CancelFunc

	lastChecked uint64
	ticks       int
}

// NewPoller creates an idle Poller. rec may be nil.
func NewPoller(chains ChainReader, rec metrics.Recorder) *Poller {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Poller{
		chains:   chains,
		metrics:  rec,
		interval: config.PollInterval,
		timeout:  config.ConfirmTimeout,
	}
}

// Start records the session's start block and baseline balance, then
// monitors it in the background. The start block is read before Start
// returns so a payment broadcast afterwards always lands above the baseline.
// A failed read returns an error wrapping ErrFetchFailed and leaves the
// poller idle. On success the session's ID, start time, start block and
// baseline are written back to session. ErrAlreadyMonitoring is returned
// without touching the running session if one is active.
func (p *Poller) Start(session *models.PaymentSession) error {
	if session.ExpectedAmount == nil || session.ExpectedAmount.Sign() <= 0 {
		return fmt.Errorf("%w: expected amount must be positive", config.ErrInvalidAmount)
	}
	chain, err := p.chains.Chain(session.ChainID)
	if err != nil {
		return err
	}

	m := &monitor{session: *session, chain: chain}
	if m.session.ID == "" {
		m.session.ID = uuid.New().String()
	}
	m.session.ExpectedAmount = new(big.Int).Set(session.ExpectedAmount)
	m.session.StartTime = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	m.cancel = cancel

	// Reserve the slot first so a concurrent Start or Stop sees this session
	// while the baseline is read.
	p.mu.Lock()
	if p.active != nil {
		id := p.active.session.ID
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: session %s", config.ErrAlreadyMonitoring, id)
	}
	p.active = m
	p.mu.Unlock()

	if err := p.establishBaseline(ctx, m); err != nil {
		stopped := !p.release(m)
		cancel()
		if stopped {
			return fmt.Errorf("%w: monitoring stopped while recording start block", config.ErrCancelled)
		}
		slog.Warn("confirmation start failed",
			"sessionID", m.session.ID,
			"chain", chain.Name,
			"error", err,
		)
		return fmt.Errorf("%w: %w", config.ErrFetchFailed, err)
	}

	session.ID = m.session.ID
	session.StartTime = m.session.StartTime
	session.StartBlock = m.session.StartBlock
	session.StartBalance = new(big.Int).Set(m.session.StartBalance)

	p.mu.Lock()
	if p.active != m {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: monitoring stopped while recording start block", config.ErrCancelled)
	}
	p.wg.Add(1)
	go p.run(ctx, m)
	p.mu.Unlock()

	slog.Info("confirmation monitoring started",
		"sessionID", m.session.ID,
		"chain", chain.Name,
		"recipient", m.session.Recipient,
		"token", m.session.Token.Symbol,
		"expectedAmount", m.session.ExpectedAmount.String(),
		"startBlock", m.session.StartBlock,
		"interval", p.interval,
		"timeout", p.timeout,
	)
	return nil
}

// Stop cancels the active session without invoking its callbacks. It is safe
// to call when idle.
func (p *Poller) Stop() {
	p.mu.Lock()
	m := p.active
	p.active = nil
	p.mu.Unlock()

	if m == nil {
		return
	}
	m.cancel()
	slog.Info("confirmation monitoring stopped", "sessionID", m.session.ID)
}

// StopSession stops the active session only if its ID is id. It reports
// whether a session was stopped.
func (p *Poller) StopSession(id string) bool {
	p.mu.Lock()
	m := p.active
	if m == nil || m.session.ID != id {
		p.mu.Unlock()
		return false
	}
	p.active = nil
	p.mu.Unlock()

	m.cancel()
	slog.Info("confirmation monitoring stopped", "sessionID", id)
	return true
}

// Active reports whether a session is being monitored.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// Shutdown stops the active session and waits for its goroutine to exit.
func (p *Poller) Shutdown() {
	p.Stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("poller stopped cleanly")
	case <-time.After(config.ShutdownTimeout):
		slog.Warn("poller shutdown timed out", "timeout", config.ShutdownTimeout)
	}
}

// release clears m as the active session. It returns false when Stop or a
// newer session already replaced it, in which case no callback may fire.
func (p *Poller) release(m *monitor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != m {
		return false
	}
	p.active = nil
	return true
}

func (p *Poller) run(ctx context.Context, m *monitor) {
	defer p.wg.Done()
	defer m.cancel()

	s := &m.session

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return
			}
			if !p.release(m) {
				return
			}
			p.metrics.IncCounter(metrics.ConfirmTick, p.labels(m, "timeout"))
			slog.Warn("confirmation timed out",
				"sessionID", s.ID,
				"chain", m.chain.Name,
				"lastChecked", m.lastChecked,
				"ticks", m.ticks,
				"elapsed", time.Since(s.StartTime).Round(time.Second),
			)
			if s.OnError != nil {
				s.OnError(fmt.Errorf("%w: no confirmation after %s", config.ErrTimeout, p.timeout))
			}
			return

		case <-ticker.C:
			m.ticks++
			ref, confirmed, err := p.tick(ctx, m)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				p.reportTickError(m, err)
				continue
			}
			if !confirmed {
				continue
			}
			if !p.release(m) {
				return
			}
			p.metrics.IncCounter(metrics.ConfirmTick, p.labels(m, "confirmed"))
			slog.Info("payment confirmed",
				"sessionID", s.ID,
				"chain", m.chain.Name,
				"txRef", ref,
				"ticks", m.ticks,
				"elapsed", time.Since(s.StartTime).Round(time.Millisecond),
			)
			if s.OnSuccess != nil {
				s.OnSuccess(ref)
			}
			return
		}
	}
}

// establishBaseline records the start block and the recipient balance at it.
func (p *Poller) establishBaseline(ctx context.Context, m *monitor) error {
	s := &m.session

	head, err := callWithTimeout(ctx, func(ctx context.Context) (uint64, error) {
		return p.chains.CurrentBlock(ctx, s.ChainID)
	})
	if err != nil {
		return fmt.Errorf("fetch start block: %w", err)
	}

	balance, err := callWithTimeout(ctx, func(ctx context.Context) (*big.Int, error) {
		return p.chains.BalanceAt(ctx, s.ChainID, s.Recipient, s.Token, head)
	})
	if err != nil {
		return fmt.Errorf("fetch baseline balance at %d: %w", head, err)
	}

	s.StartBlock = head
	s.StartBalance = balance
	m.lastChecked = head

	slog.Debug("confirmation baseline recorded",
		"sessionID", s.ID,
		"startBlock", head,
		"startBalance", balance.String(),
	)
	return nil
}

// tick inspects every block after the last checked one, in order, and stops
// at the first block where the expected amount has arrived.
func (p *Poller) tick(ctx context.Context, m *monitor) (string, bool, error) {
	s := &m.session

	head, err := callWithTimeout(ctx, func(ctx context.Context) (uint64, error) {
		return p.chains.CurrentBlock(ctx, s.ChainID)
	})
	if err != nil {
		return "", false, fmt.Errorf("fetch head: %w", err)
	}

	slog.Debug("confirmation tick",
		"sessionID", s.ID,
		"head", head,
		"lastChecked", m.lastChecked,
	)

	for h := m.lastChecked + 1; h <= head; h++ {
		balance, err := callWithTimeout(ctx, func(ctx context.Context) (*big.Int, error) {
			return p.chains.BalanceAt(ctx, s.ChainID, s.Recipient, s.Token, h)
		})
		if err != nil {
			return "", false, fmt.Errorf("fetch balance at %d: %w", h, err)
		}

		received := new(big.Int).Sub(balance, s.StartBalance)
		if received.Cmp(s.ExpectedAmount) < 0 {
			m.lastChecked = h
			continue
		}

		block, err := callWithTimeout(ctx, func(ctx context.Context) (models.BlockData, error) {
			return p.chains.Block(ctx, s.ChainID, h)
		})
		if err != nil {
			return "", false, fmt.Errorf("fetch block %d: %w", h, err)
		}
		m.lastChecked = h

		slog.Debug("expected amount observed",
			"sessionID", s.ID,
			"height", h,
			"received", received.String(),
			"expected", s.ExpectedAmount.String(),
		)
		return fmt.Sprintf(config.TxRefPlaceholder, m.chain.Name, h, block.Hash), true, nil
	}

	p.metrics.IncCounter(metrics.ConfirmTick, p.labels(m, "pending"))
	return "", false, nil
}

// reportTickError logs a non-fatal tick failure. Polling continues until
// confirmation, timeout or Stop.
func (p *Poller) reportTickError(m *monitor, err error) {
	p.metrics.IncCounter(metrics.ConfirmTickError, p.labels(m, "error"))
	slog.Warn("confirmation tick failed, will retry",
		"sessionID", m.session.ID,
		"chain", m.chain.Name,
		"lastChecked", m.lastChecked,
		"error", err,
	)
	if m.session.OnTickError != nil {
		m.session.OnTickError(err)
	}
}

func (p *Poller) labels(m *monitor, outcome string) map[string]string {
	return map[string]string{
		metrics.LabelChain:   m.chain.Name,
		metrics.LabelOutcome: outcome,
	}
}

func callWithTimeout[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, config.RPCCallTimeout)
	defer cancel()
	return fn(ctx)
}
