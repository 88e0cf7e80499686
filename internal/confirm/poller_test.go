package confirm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/models"
)

// fakeChain advances its head by step blocks (default 1) on every
// CurrentBlock call and reports the recipient balance as baseline until
// payAt, then baseline+paid.
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	step     uint64
	baseline int64
	paid     int64
	payAt    uint64 // 0 = never
	headErrs int    // CurrentBlock fails this many more times
	headOK   int    // successful CurrentBlock calls before headErrs apply
	heights  []uint64
}

func (f *fakeChain) Chain(id uint32) (models.Chain, error) {
	if id != config.ChainPolkadot {
		return models.Chain{}, fmt.Errorf("%w: %d", config.ErrUnknownChain, id)
	}
	return models.Chain{ID: id, Name: "polkadot", Kind: config.ChainKindSubstrate}, nil
}

func (f *fakeChain) CurrentBlock(ctx context.Context, chainID uint32) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headOK > 0 {
		f.headOK--
	} else if f.headErrs > 0 {
		f.headErrs--
		return 0, errors.New("rpc unavailable")
	}
	h := f.head
	if f.step == 0 {
		f.head++
	} else {
		f.head += f.step
	}
	return h, nil
}

func (f *fakeChain) Block(ctx context.Context, chainID uint32, height uint64) (models.BlockData, error) {
	return models.BlockData{ChainID: chainID, Height: height, Hash: fmt.Sprintf("0xblock%d", height)}, nil
}

func (f *fakeChain) BalanceAt(ctx context.Context, chainID uint32, address string, token models.Token, height uint64) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heights = append(f.heights, height)
	if f.payAt != 0 && height >= f.payAt {
		return big.NewInt(f.baseline + f.paid), nil
	}
	return big.NewInt(f.baseline), nil
}

func (f *fakeChain) checkedHeights() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, len(f.heights))
	copy(out, f.heights)
	return out
}

func newTestPoller(chain ChainReader, interval, timeout time.Duration) *Poller {
	p := NewPoller(chain, nil)
	p.interval = interval
	p.timeout = timeout
	return p
}

type recorder struct {
	mu        sync.Mutex
	successes []string
	errs      []error
	tickErrs  []error
	successCh chan string
	errCh     chan error
}

func newRecorder() *recorder {
	return &recorder{successCh: make(chan string, 4), errCh: make(chan error, 4)}
}

func (r *recorder) session(expected int64) *models.PaymentSession {
	return &models.PaymentSession{
		Recipient:      "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
		ExpectedAmount: big.NewInt(expected),
		Token:          models.Token{Symbol: "DOT", Decimals: 10, Native: true},
		ChainID:        config.ChainPolkadot,
		OnSuccess: func(ref string) {
			r.mu.Lock()
			r.successes = append(r.successes, ref)
			r.mu.Unlock()
			r.successCh <- ref
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
			r.errCh <- err
		},
		OnTickError: func(err error) {
			r.mu.Lock()
			r.tickErrs = append(r.tickErrs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes), len(r.errs), len(r.tickErrs)
}

func TestPoller_ConfirmsAtExpectedBlock(t *testing.T) {
	chain := &fakeChain{head: 1000, baseline: 500, paid: 100, payAt: 1005}
	p := newTestPoller(chain, time.Millisecond, 5*time.Second)
	rec := newRecorder()

	if err := p.Start(rec.session(100)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case ref := <-rec.successCh:
		if ref != "polkadot:1005:0xblock1005" {
			t.Errorf("txRef = %q, want polkadot:1005:0xblock1005", ref)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("payment not confirmed")
	}

	// Let any stray tick run before inspecting.
	time.Sleep(20 * time.Millisecond)

	if p.Active() {
		t.Error("poller still active after confirmation")
	}
	for _, h := range chain.checkedHeights() {
		if h > 1005 {
			t.Errorf("balance checked at %d after confirmation at 1005", h)
		}
	}
	if s, e, _ := rec.counts(); s != 1 || e != 0 {
		t.Errorf("callbacks: success=%d error=%d, want 1/0", s, e)
	}
}

func TestPoller_ChecksEveryBlockInOrder(t *testing.T) {
	// Head jumps ahead without ticks in between: all intermediate heights must
	// still be inspected.
	chain := &fakeChain{head: 10, step: 3, baseline: 0, paid: 7, payAt: 13}
	p := newTestPoller(chain, time.Millisecond, 5*time.Second)
	rec := newRecorder()

	if err := p.Start(rec.session(7)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-rec.successCh:
	case <-time.After(3 * time.Second):
		t.Fatal("payment not confirmed")
	}

	heights := chain.checkedHeights()
	want := []uint64{10, 11, 12, 13}
	if len(heights) != len(want) {
		t.Fatalf("checked heights %v, want %v", heights, want)
	}
	for i := range want {
		if heights[i] != want[i] {
			t.Errorf("heights[%d] = %d, want %d", i, heights[i], want[i])
		}
	}
}

func TestPoller_PartialPaymentNotConfirmed(t *testing.T) {
	chain := &fakeChain{head: 1, baseline: 0, paid: 99, payAt: 2}
	p := newTestPoller(chain, time.Millisecond, 100*time.Millisecond)
	rec := newRecorder()

	if err := p.Start(rec.session(100)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case err := <-rec.errCh:
		if !errors.Is(err, config.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	case <-rec.successCh:
		t.Fatal("short payment confirmed")
	case <-time.After(3 * time.Second):
		t.Fatal("timeout never reported")
	}
}

func TestPoller_DoubleStart(t *testing.T) {
	chain := &fakeChain{head: 1000, baseline: 0, paid: 5, payAt: 1003}
	p := newTestPoller(chain, 5*time.Millisecond, 5*time.Second)
	first := newRecorder()
	second := newRecorder()

	if err := p.Start(first.session(5)); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := p.Start(second.session(5)); !errors.Is(err, config.ErrAlreadyMonitoring) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyMonitoring", err)
	}

	select {
	case <-first.successCh:
	case <-time.After(3 * time.Second):
		t.Fatal("first session disturbed by rejected Start")
	}
	if s, e, _ := second.counts(); s != 0 || e != 0 {
		t.Errorf("rejected session received callbacks: success=%d error=%d", s, e)
	}
}

func TestPoller_Timeout(t *testing.T) {
	chain := &fakeChain{head: 1, baseline: 0}
	p := newTestPoller(chain, time.Millisecond, 50*time.Millisecond)
	rec := newRecorder()

	if err := p.Start(rec.session(1)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case err := <-rec.errCh:
		if !errors.Is(err, config.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout never reported")
	}

	time.Sleep(20 * time.Millisecond)
	if p.Active() {
		t.Error("poller still active after timeout")
	}
	if s, e, _ := rec.counts(); s != 0 || e != 1 {
		t.Errorf("callbacks: success=%d error=%d, want 0/1", s, e)
	}
}

func TestPoller_StopSuppressesCallbacks(t *testing.T) {
	chain := &fakeChain{head: 1, baseline: 0}
	p := newTestPoller(chain, time.Millisecond, 50*time.Millisecond)
	rec := newRecorder()

	if err := p.Start(rec.session(1)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	p.Stop()
	if p.Active() {
		t.Error("Active() true after Stop")
	}

	// Past the timeout: a stopped session must stay silent.
	time.Sleep(100 * time.Millisecond)
	if s, e, _ := rec.counts(); s != 0 || e != 0 {
		t.Errorf("stopped session received callbacks: success=%d error=%d", s, e)
	}

	// Idle Stop is a no-op and a new session can start.
	p.Stop()
	if err := p.Start(rec.session(1)); err != nil {
		t.Errorf("Start() after Stop error = %v", err)
	}
	p.Shutdown()
}

func TestPoller_TickErrorsKeepPolling(t *testing.T) {
	// Start reads the head once; the next three ticks fail.
	chain := &fakeChain{head: 100, baseline: 0, paid: 10, payAt: 102, headOK: 1, headErrs: 3}
	p := newTestPoller(chain, time.Millisecond, 5*time.Second)
	rec := newRecorder()

	if err := p.Start(rec.session(10)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case ref := <-rec.successCh:
		if ref != "polkadot:102:0xblock102" {
			t.Errorf("txRef = %q", ref)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("payment not confirmed after transient errors")
	}

	if _, _, tickErrs := rec.counts(); tickErrs != 3 {
		t.Errorf("tick errors reported = %d, want 3", tickErrs)
	}
}

func TestPoller_StartValidation(t *testing.T) {
	p := newTestPoller(&fakeChain{}, time.Millisecond, time.Second)
	rec := newRecorder()

	zero := rec.session(0)
	if err := p.Start(zero); !errors.Is(err, config.ErrInvalidAmount) {
		t.Errorf("zero amount: expected ErrInvalidAmount, got %v", err)
	}

	unknown := rec.session(1)
	unknown.ChainID = 9999
	if err := p.Start(unknown); !errors.Is(err, config.ErrUnknownChain) {
		t.Errorf("unknown chain: expected ErrUnknownChain, got %v", err)
	}

	if p.Active() {
		t.Error("rejected sessions left the poller active")
	}
}

func TestPoller_StartFailsWhenStartBlockUnavailable(t *testing.T) {
	// The first head read fails. Start must report it rather than let a later
	// tick record the baseline at a newer head, which would absorb a payment
	// made in between and time the customer out.
	chain := &fakeChain{head: 1000, baseline: 500, paid: 100, payAt: 1001, headErrs: 1}
	p := newTestPoller(chain, time.Millisecond, 300*time.Millisecond)
	rec := newRecorder()

	err := p.Start(rec.session(100))
	if !errors.Is(err, config.ErrFetchFailed) {
		t.Fatalf("Start() error = %v, want ErrFetchFailed", err)
	}
	if config.ErrorCode(err) != config.ErrorFetchFailed {
		t.Errorf("ErrorCode = %s, want %s", config.ErrorCode(err), config.ErrorFetchFailed)
	}
	if p.Active() {
		t.Error("failed Start left the poller active")
	}
	if s, e, te := rec.counts(); s != 0 || e != 0 || te != 0 {
		t.Errorf("failed Start fired callbacks: success=%d error=%d tick=%d", s, e, te)
	}

	// A retry records the baseline at block 1000 and confirms the payment
	// that lands right after it.
	session := rec.session(100)
	if err := p.Start(session); err != nil {
		t.Fatalf("retry Start() error = %v", err)
	}
	if session.StartBlock != 1000 {
		t.Errorf("StartBlock = %d, want 1000", session.StartBlock)
	}
	if session.StartBalance == nil || session.StartBalance.Int64() != 500 {
		t.Errorf("StartBalance = %v, want 500", session.StartBalance)
	}

	select {
	case ref := <-rec.successCh:
		if ref != "polkadot:1001:0xblock1001" {
			t.Errorf("txRef = %q, want polkadot:1001:0xblock1001", ref)
		}
	case err := <-rec.errCh:
		t.Fatalf("payment after Start reported %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("payment not confirmed")
	}
}

func TestPoller_BaselineRecordedBeforeStartReturns(t *testing.T) {
	// Payment lands in the block right after Start with a slow first tick:
	// it must be measured against the start block, never folded into it.
	chain := &fakeChain{head: 1000, baseline: 500, paid: 100, payAt: 1001}
	p := newTestPoller(chain, 50*time.Millisecond, 300*time.Millisecond)
	rec := newRecorder()

	session := rec.session(100)
	if err := p.Start(session); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if heights := chain.checkedHeights(); len(heights) != 1 || heights[0] != 1000 {
		t.Fatalf("balance reads before first tick = %v, want [1000]", heights)
	}
	if session.ID == "" {
		t.Error("Start did not assign a session ID")
	}

	select {
	case <-rec.successCh:
	case err := <-rec.errCh:
		t.Fatalf("expected confirmation, got %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("payment not confirmed")
	}
}

func TestPoller_StopSessionMatchesID(t *testing.T) {
	chain := &fakeChain{head: 1, baseline: 0}
	p := newTestPoller(chain, time.Millisecond, 5*time.Second)
	rec := newRecorder()

	session := rec.session(1)
	session.ID = "cycle-1"
	if err := p.Start(session); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if p.StopSession("cycle-2") {
		t.Error("StopSession stopped a session with a different ID")
	}
	if !p.Active() {
		t.Fatal("unrelated StopSession stopped the active session")
	}
	if !p.StopSession("cycle-1") {
		t.Error("StopSession(cycle-1) = false, want true")
	}
	if p.Active() {
		t.Error("Active() true after StopSession")
	}
	if p.StopSession("cycle-1") {
		t.Error("second StopSession reported a stop")
	}
	p.Shutdown()

	if s, e, _ := rec.counts(); s != 0 || e != 0 {
		t.Errorf("stopped session received callbacks: success=%d error=%d", s, e)
	}
}
