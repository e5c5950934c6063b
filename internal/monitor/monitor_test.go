package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

const (
	tick    = 10 * time.Millisecond
	waitFor = 2 * time.Second
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeFeed struct {
	mu     sync.Mutex
	price  float64
	errs   int
	rounds []int64
	round  atomic.Int64
	calls  atomic.Int64
}

func (f *fakeFeed) set(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func (f *fakeFeed) CurrentPrice(ctx context.Context) (domain.OraclePrice, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs > 0 {
		f.errs--
		return domain.OraclePrice{}, errors.New("feed unavailable")
	}
	round := f.round.Add(1)
	if len(f.rounds) > 0 {
		round = f.rounds[0]
		f.rounds = f.rounds[1:]
	}
	return domain.OraclePrice{
		Asset:      "ADA",
		Price:      f.price,
		Timestamp:  time.Now(),
		Confidence: 0.99,
		Source:     "test",
		RoundID:    round,
	}, nil
}

type fakeLedger struct {
	mu  sync.Mutex
	pos domain.Position
	err error
}

func (l *fakeLedger) GetPosition(_ context.Context, id uuid.UUID) (domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return domain.Position{}, l.err
	}
	p := l.pos
	p.ID = id
	return p, nil
}

func (l *fakeLedger) GetProtocolParameters(context.Context) (domain.ProtocolParameters, error) {
	return domain.ProtocolParameters{LiquidationThreshold: 90, LoanToValue: 80, MinimumCollateralRatio: 120}, nil
}

type fakeLiquidator struct {
	mu       sync.Mutex
	payloads []domain.LiquidationPayload
	ctxs     []context.Context
	release  chan struct{}
	started  chan struct{}
	result   domain.LiquidationResult
	err      error

	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func (l *fakeLiquidator) Execute(ctx context.Context, p domain.LiquidationPayload, source string) (domain.LiquidationResult, error) {
	l.mu.Lock()
	l.payloads = append(l.payloads, p)
	l.ctxs = append(l.ctxs, ctx)
	release, started := l.release, l.started
	l.started = nil
	l.mu.Unlock()

	n := l.inflight.Add(1)
	defer l.inflight.Add(-1)
	for {
		peak := l.maxInflight.Load()
		if n <= peak || l.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return l.result, l.err
}

func (l *fakeLiquidator) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.payloads)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.MonitorEvent
}

func (r *recorder) Emit(_ context.Context, ev domain.MonitorEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) has(typ domain.MonitorEventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func (r *recorder) last(typ domain.MonitorEventType) (domain.MonitorEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return domain.MonitorEvent{}, false
}

type fixture struct {
	feed   *fakeFeed
	ledger *fakeLedger
	liq    *fakeLiquidator
	sink   *recorder
	mon    *Monitor
}

// collateral 100, debt 100, threshold 90: ratio is 0.9 * price.
func newFixture(price float64) *fixture {
	f := &fixture{
		feed: &fakeFeed{price: price},
		ledger: &fakeLedger{pos: domain.Position{
			Collateral: 100,
			Debt:       100,
			Status:     domain.PositionActive,
		}},
		liq:  &fakeLiquidator{result: domain.LiquidationResult{Outcome: domain.LiquidationSucceeded, TxHash: "0xabc"}},
		sink: &recorder{},
	}
	f.mon = New(uuid.New(), f.feed, nil, f.ledger, f.liq, f.sink, Config{Interval: tick, FetchTimeout: time.Second}, discard())
	return f
}

func TestHealthyPositionKeepsWatching(t *testing.T) {
	f := newFixture(2)
	assert.Equal(t, domain.MonitorIdle, f.mon.State())

	f.mon.Start(context.Background())
	require.Eventually(t, func() bool { return f.feed.calls.Load() >= 3 }, waitFor, tick)

	assert.Equal(t, domain.MonitorWatching, f.mon.State())
	assert.Zero(t, f.liq.count())
	assert.True(t, f.sink.has(domain.EventHealthy))

	f.mon.Stop()
	assert.Equal(t, domain.MonitorStopped, f.mon.State())
	select {
	case <-f.mon.Done():
	case <-time.After(waitFor):
		t.Fatal("loop did not exit after Stop")
	}
}

func TestLiquidatableSubmitsExactlyOnce(t *testing.T) {
	f := newFixture(1)
	f.mon.Start(context.Background())

	require.Eventually(t, func() bool { return f.mon.State() == domain.MonitorStopped }, waitFor, tick)
	time.Sleep(5 * tick)

	require.Equal(t, 1, f.liq.count())
	assert.Equal(t, int64(1), f.mon.Submissions())
	p := f.liq.payloads[0]
	assert.Equal(t, f.mon.ID().String(), p.PositionID)
	assert.Equal(t, int64(100), p.Debt)
	assert.Equal(t, int64(100), p.CollateralAmount)

	ev, ok := f.sink.last(domain.EventLiquidation)
	require.True(t, ok)
	assert.Equal(t, string(domain.LiquidationSucceeded), ev.Outcome)
	assert.InDelta(t, 0.9, ev.HealthRatio, 1e-9)
}

func TestRatioOfExactlyOneLiquidates(t *testing.T) {
	f := newFixture(1)
	f.ledger.pos.Collateral = 1000
	f.ledger.pos.Debt = 900
	f.mon.Start(context.Background())

	require.Eventually(t, func() bool { return f.mon.State() == domain.MonitorStopped }, waitFor, tick)
	assert.Equal(t, 1, f.liq.count())
}

func TestFailedLiquidationStillStops(t *testing.T) {
	f := newFixture(0.5)
	f.liq.result = domain.LiquidationResult{Outcome: domain.LiquidationFailed, Reason: "FailEntirely"}
	f.mon.Start(context.Background())

	require.Eventually(t, func() bool { return f.mon.State() == domain.MonitorStopped }, waitFor, tick)
	time.Sleep(5 * tick)
	assert.Equal(t, 1, f.liq.count())

	ev, ok := f.sink.last(domain.EventLiquidation)
	require.True(t, ok)
	assert.Equal(t, string(domain.LiquidationFailed), ev.Outcome)
	assert.Equal(t, "FailEntirely", ev.Detail)
}

func TestSubmissionErrorStillStops(t *testing.T) {
	f := newFixture(0.5)
	f.liq.err = errors.New("connection reset")
	f.mon.Start(context.Background())

	require.Eventually(t, func() bool { return f.mon.State() == domain.MonitorStopped }, waitFor, tick)
	ev, ok := f.sink.last(domain.EventLiquidation)
	require.True(t, ok)
	assert.Equal(t, "error", ev.Outcome)
	assert.Equal(t, 1, f.liq.count())
}

func TestTransientErrorsSkipTick(t *testing.T) {
	f := newFixture(0.5)
	f.feed.errs = 2
	f.mon.Start(context.Background())

	require.Eventually(t, func() bool { return f.mon.State() == domain.MonitorStopped }, waitFor, tick)
	assert.Equal(t, 1, f.liq.count())
	assert.GreaterOrEqual(t, f.feed.calls.Load(), int64(3))
	assert.True(t, f.sink.has(domain.EventTickError))
}

func TestLedgerErrorSkipsTick(t *testing.T) {
	f := newFixture(0.5)
	f.ledger.err = errors.New("indexer down")
	f.mon.Start(context.Background())
	defer f.mon.Stop()

	require.Eventually(t, func() bool { return f.feed.calls.Load() >= 3 }, waitFor, tick)
	assert.Equal(t, domain.MonitorWatching, f.mon.State())
	assert.Zero(t, f.liq.count())

	f.ledger.mu.Lock()
	f.ledger.err = nil
	f.ledger.mu.Unlock()
	require.Eventually(t, func() bool { return f.mon.State() == domain.MonitorStopped }, waitFor, tick)
	assert.Equal(t, 1, f.liq.count())
}

func TestOutOfOrderRoundIsSkipped(t *testing.T) {
	f := newFixture(2)
	f.feed.rounds = []int64{5, 3, 5}
	f.feed.round.Store(10)
	f.mon.Start(context.Background())
	defer f.mon.Stop()

	require.Eventually(t, func() bool { return f.feed.calls.Load() >= 3 }, waitFor, tick)
	ev, ok := f.sink.last(domain.EventTickError)
	require.True(t, ok)
	assert.Contains(t, ev.Detail, "round 3 after 5")
}

func TestAtRiskIsReportedNotLiquidated(t *testing.T) {
	f := newFixture(1.3)
	f.mon.Start(context.Background())
	defer f.mon.Stop()

	require.Eventually(t, func() bool { return f.sink.has(domain.EventAtRisk) }, waitFor, tick)
	assert.Equal(t, domain.MonitorWatching, f.mon.State())
	assert.Zero(t, f.liq.count())
}

func TestInactivePositionIsNeverLiquidated(t *testing.T) {
	f := newFixture(0.1)
	f.ledger.pos.Status = domain.PositionClosed
	f.mon.Start(context.Background())
	defer f.mon.Stop()

	require.Eventually(t, func() bool { return f.feed.calls.Load() >= 3 }, waitFor, tick)
	assert.Zero(t, f.liq.count())
}

func TestPriceDropTriggersLiquidation(t *testing.T) {
	f := newFixture(2)
	f.mon.Start(context.Background())
	require.Eventually(t, func() bool { return f.feed.calls.Load() >= 2 }, waitFor, tick)
	assert.Zero(t, f.liq.count())

	f.feed.set(1)
	require.Eventually(t, func() bool { return f.mon.State() == domain.MonitorStopped }, waitFor, tick)
	assert.Equal(t, 1, f.liq.count())
}

func TestStopDoesNotAbortInFlightSubmission(t *testing.T) {
	f := newFixture(0.5)
	f.liq.release = make(chan struct{})
	f.liq.started = make(chan struct{})
	f.mon.Start(context.Background())

	select {
	case <-f.liq.started:
	case <-time.After(waitFor):
		t.Fatal("submission never started")
	}
	assert.Equal(t, domain.MonitorLiquidating, f.mon.State())

	// Start while liquidating is a no-op.
	f.mon.Start(context.Background())
	assert.Equal(t, domain.MonitorLiquidating, f.mon.State())

	f.mon.Stop()
	assert.Equal(t, domain.MonitorStopped, f.mon.State())

	f.liq.mu.Lock()
	submitCtx := f.liq.ctxs[0]
	f.liq.mu.Unlock()
	assert.NoError(t, submitCtx.Err())

	close(f.liq.release)
	select {
	case <-f.mon.Done():
	case <-time.After(waitFor):
		t.Fatal("loop did not exit")
	}
	assert.Equal(t, 1, f.liq.count())
	assert.Equal(t, domain.MonitorStopped, f.mon.State())
	assert.False(t, f.sink.has(domain.EventLiquidation))
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(2)
	f.mon.Stop()
	assert.Equal(t, domain.MonitorStopped, f.mon.State())
	f.mon.Stop()
	assert.Equal(t, domain.MonitorStopped, f.mon.State())
	assert.Nil(t, f.mon.Done())
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(2)
	f.mon.Start(context.Background())
	first := f.mon.Done()
	f.mon.Start(context.Background())
	assert.Equal(t, first, f.mon.Done())
	f.mon.Stop()
}

func TestRestartAfterStop(t *testing.T) {
	f := newFixture(2)
	f.mon.Start(context.Background())
	f.mon.Stop()
	<-f.mon.Done()

	f.mon.Start(context.Background())
	assert.Equal(t, domain.MonitorWatching, f.mon.State())
	f.mon.Stop()
}

func TestParentContextCancelEndsLoop(t *testing.T) {
	f := newFixture(2)
	ctx, cancel := context.WithCancel(context.Background())
	f.mon.Start(ctx)
	cancel()

	select {
	case <-f.mon.Done():
	case <-time.After(waitFor):
		t.Fatal("loop did not exit on cancel")
	}
	assert.Equal(t, domain.MonitorStopped, f.mon.State())

	f.mon.Start(context.Background())
	defer f.mon.Stop()
	assert.Equal(t, domain.MonitorWatching, f.mon.State())
	calls := f.feed.calls.Load()
	require.Eventually(t, func() bool { return f.feed.calls.Load() > calls }, waitFor, tick)
}

func TestRestartWaitsForInFlightSubmission(t *testing.T) {
	f := newFixture(0.5)
	f.liq.release = make(chan struct{})
	f.liq.started = make(chan struct{})
	started := f.liq.started
	f.mon.Start(context.Background())

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("submission never started")
	}
	f.mon.Stop()
	f.mon.Start(context.Background())
	restarted := f.mon.Done()

	time.Sleep(10 * tick)
	assert.Equal(t, 1, f.liq.count(), "restarted loop must not tick during the old submission")
	assert.Equal(t, domain.MonitorWatching, f.mon.State())

	close(f.liq.release)
	require.Eventually(t, func() bool { return f.mon.State() == domain.MonitorStopped }, waitFor, tick)
	select {
	case <-restarted:
	case <-time.After(waitFor):
		t.Fatal("restarted loop did not exit")
	}

	assert.Equal(t, 2, f.liq.count())
	assert.Equal(t, int64(1), f.liq.maxInflight.Load())
	assert.Equal(t, int64(2), f.mon.Submissions())

	// Only the restarted loop reports its outcome.
	f.sink.mu.Lock()
	outcomes := 0
	for _, ev := range f.sink.events {
		if ev.Type == domain.EventLiquidation {
			outcomes++
		}
	}
	f.sink.mu.Unlock()
	assert.Equal(t, 1, outcomes)
}

func TestStopAllWaitsForSupersededLoop(t *testing.T) {
	f := newFixture(0.5)
	f.liq.release = make(chan struct{})
	f.liq.started = make(chan struct{})
	started := f.liq.started
	f.mon.Start(context.Background())
	<-started

	f.mon.Stop()
	f.mon.Start(context.Background())
	f.mon.Stop()

	select {
	case <-f.mon.Done():
		t.Fatal("Done closed while the first submission is still running")
	case <-time.After(5 * tick):
	}
	close(f.liq.release)
	select {
	case <-f.mon.Done():
	case <-time.After(waitFor):
		t.Fatal("loops did not exit")
	}
	assert.Equal(t, 1, f.liq.count())
}

func TestOversizedPositionIsNotSubmitted(t *testing.T) {
	f := newFixture(0.5)
	f.ledger.pos.Collateral = math.MaxUint64
	f.ledger.pos.Debt = math.MaxUint64
	f.mon.Start(context.Background())

	require.Eventually(t, func() bool { return f.mon.State() == domain.MonitorStopped }, waitFor, tick)
	assert.Zero(t, f.liq.count())
	assert.Zero(t, f.mon.Submissions())
	ev, ok := f.sink.last(domain.EventLiquidation)
	require.True(t, ok)
	assert.Equal(t, "error", ev.Outcome)
	assert.Contains(t, ev.Detail, "invalid liquidation payload")
}
