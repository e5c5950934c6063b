// Package monitor watches one debt position at a time and submits a single
// liquidation when it becomes liquidatable.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/health"
	"github.com/statera-protocol/statera-protocol-midnight/internal/metrics"
	"github.com/statera-protocol/statera-protocol-midnight/internal/oracle"
)

// Ledger is the read side the monitor needs.
type Ledger interface {
	GetPosition(ctx context.Context, id uuid.UUID) (domain.Position, error)
	GetProtocolParameters(ctx context.Context) (domain.ProtocolParameters, error)
}

// Liquidator submits a liquidation payload. *executor.Executor implements it.
type Liquidator interface {
	Execute(ctx context.Context, payload domain.LiquidationPayload, source string) (domain.LiquidationResult, error)
}

// EventSink receives monitor events. Emit must not block for long.
type EventSink interface {
	Emit(ctx context.Context, ev domain.MonitorEvent)
}

// Config tunes a Monitor. Zero values take defaults.
type Config struct {
	Interval      time.Duration // default 30s
	FetchTimeout  time.Duration // default 5s
	SubmitTimeout time.Duration // default 2m
	AtRiskRatio   float64       // default 1.2
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 2 * time.Minute
	}
	if c.AtRiskRatio <= 0 {
		c.AtRiskRatio = 1.2
	}
}

// Monitor is the per-position state machine
//
//	Idle -> Watching -> Liquidating -> Stopped
//
// with Stop moving any state to Stopped. One goroutine runs the ticks, so a
// tick never starts while the previous one (submission included) is running.
// That holds across restarts: a loop started after Stop waits for the
// previous loop to exit before its first tick.
type Monitor struct {
	id     uuid.UUID
	feed   oracle.Feed
	guard  *oracle.RoundGuard
	ledger Ledger
	liq    Liquidator
	sink   EventSink
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	state  domain.MonitorState
	gen    uint64 // bumped by every Start; a loop acts only while its gen is current
	cancel context.CancelFunc
	done   chan struct{}

	submissions atomic.Int64
}

// New creates an Idle monitor for position id. guard belongs to this monitor
// and must not be shared; nil uses the default policy. sink may be nil.
func New(id uuid.UUID, feed oracle.Feed, guard *oracle.RoundGuard, ledger Ledger, liq Liquidator, sink EventSink, cfg Config, logger *slog.Logger) *Monitor {
	cfg.applyDefaults()
	if guard == nil {
		guard = oracle.NewRoundGuard(oracle.DefaultPolicy())
	}
	return &Monitor{
		id:     id,
		feed:   oracle.WithTimeout(feed, cfg.FetchTimeout),
		guard:  guard,
		ledger: ledger,
		liq:    liq,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "monitor"), slog.String("position_id", id.String())),
		state:  domain.MonitorIdle,
	}
}

// ID returns the monitored position id.
func (m *Monitor) ID() uuid.UUID { return m.id }

// State returns the current state.
func (m *Monitor) State() domain.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Submissions returns how many liquidation requests this monitor has sent.
func (m *Monitor) Submissions() int64 { return m.submissions.Load() }

// Start begins watching. It is a no-op while Watching or Liquidating. From
// Idle or Stopped it evaluates immediately and then every Interval; if a
// previous loop is still finishing a submission, the first evaluation waits
// for it.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == domain.MonitorWatching || m.state == domain.MonitorLiquidating {
		m.logger.Debug("start ignored", slog.String("state", string(m.state)))
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	prev := m.done
	m.gen++
	m.cancel = cancel
	m.done = make(chan struct{})
	m.setStateLocked(ctx, domain.MonitorWatching)

	go m.loop(loopCtx, m.gen, prev, m.done)
}

// Stop moves the monitor to Stopped and cancels the pending tick. A
// submission already in flight runs to completion. Stop on a Stopped
// monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == domain.MonitorStopped {
		return
	}
	m.setStateLocked(context.Background(), domain.MonitorStopped)
	if m.cancel != nil {
		m.cancel()
	}
}

// Done is closed when the current watch loop, and every loop before it, has
// exited. It returns nil if the monitor was never started.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Monitor) loop(ctx context.Context, gen uint64, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}
	defer m.finish(gen)

	if m.tick(ctx, gen) {
		return
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.tick(ctx, gen) {
				return
			}
		}
	}
}

// finish moves a loop that ended on its own, e.g. by parent cancellation,
// to Stopped so a later Start runs again.
func (m *Monitor) finish(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.state == domain.MonitorStopped {
		return
	}
	m.setStateLocked(context.Background(), domain.MonitorStopped)
}

// current reports whether gen is the latest loop.
func (m *Monitor) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

// tick runs one evaluation. It returns true when the loop should end.
func (m *Monitor) tick(ctx context.Context, gen uint64) bool {
	if ctx.Err() != nil || !m.current(gen) {
		return true
	}

	sample, err := m.feed.CurrentPrice(ctx)
	if err == nil {
		err = m.guard.Accept(sample)
	}
	if err != nil {
		metrics.OracleRejections.WithLabelValues(oracle.RejectReason(err)).Inc()
		return m.skip(ctx, "price", err)
	}

	pos, err := m.ledger.GetPosition(ctx, m.id)
	if err != nil {
		return m.skip(ctx, "position", err)
	}
	params, err := m.ledger.GetProtocolParameters(ctx)
	if err != nil {
		return m.skip(ctx, "parameters", err)
	}

	a := health.Assess(pos, sample.Price, params.LiquidationThreshold)
	ratio := a.RatioFloat()

	switch a.Status {
	case health.Inactive:
		metrics.MonitorTicks.WithLabelValues("inactive").Inc()
		m.logger.DebugContext(ctx, "position inactive", slog.String("status", pos.Status.String()))
		return false

	case health.Healthy:
		if health.AtRisk(a, m.cfg.AtRiskRatio) {
			metrics.MonitorTicks.WithLabelValues("at_risk").Inc()
			m.logger.WarnContext(ctx, "position at risk",
				slog.Float64("health_ratio", ratio),
				slog.Float64("price", sample.Price),
			)
			m.emit(ctx, domain.EventAtRisk, ratio, sample, "", "")
			return false
		}
		metrics.MonitorTicks.WithLabelValues("healthy").Inc()
		m.logger.DebugContext(ctx, "position healthy", slog.Float64("health_ratio", ratio))
		m.emit(ctx, domain.EventHealthy, ratio, sample, "", "")
		return false
	}

	metrics.MonitorTicks.WithLabelValues("liquidatable").Inc()
	return m.liquidate(ctx, gen, pos, sample, ratio)
}

// liquidate submits once and always ends in Stopped. A loop superseded by a
// later Start leaves the state alone.
func (m *Monitor) liquidate(ctx context.Context, gen uint64, pos domain.Position, sample domain.OraclePrice, ratio float64) bool {
	m.mu.Lock()
	if m.gen != gen || m.state != domain.MonitorWatching {
		m.mu.Unlock()
		return true
	}
	payload, err := domain.SnapshotPayload(pos)
	if err != nil {
		m.setStateLocked(ctx, domain.MonitorStopped)
		m.mu.Unlock()
		m.logger.ErrorContext(ctx, "position liquidatable but amounts do not fit a liquidation request, not submitting",
			slog.Uint64("debt", pos.Debt),
			slog.Uint64("collateral", pos.Collateral),
			slog.String("error", err.Error()),
		)
		m.emit(context.WithoutCancel(ctx), domain.EventLiquidation, ratio, sample, "error", err.Error())
		return true
	}
	m.setStateLocked(ctx, domain.MonitorLiquidating)
	m.mu.Unlock()

	m.logger.WarnContext(ctx, "position liquidatable, submitting",
		slog.Float64("health_ratio", ratio),
		slog.Float64("price", sample.Price),
		slog.Int64("debt", payload.Debt),
		slog.Int64("collateral_amount", payload.CollateralAmount),
	)

	// Stop cancels ctx; the submission must survive that.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SubmitTimeout)
	defer cancel()

	m.submissions.Add(1)
	res, err := m.liq.Execute(submitCtx, payload, "monitor")

	m.mu.Lock()
	stoppedMeanwhile := m.gen != gen || m.state == domain.MonitorStopped
	if !stoppedMeanwhile {
		m.setStateLocked(ctx, domain.MonitorStopped)
	}
	m.mu.Unlock()

	outcome, detail := string(res.Outcome), res.Reason
	if err != nil {
		outcome, detail = "error", err.Error()
	}
	if stoppedMeanwhile {
		m.logger.Info("liquidation finished after stop", slog.String("outcome", outcome))
		return true
	}
	m.logger.InfoContext(ctx, "liquidation submitted, monitor stopped",
		slog.String("outcome", outcome),
		slog.String("detail", detail),
		slog.String("tx_hash", res.TxHash),
	)
	m.emit(context.WithoutCancel(ctx), domain.EventLiquidation, ratio, sample, outcome, detail)
	return true
}

func (m *Monitor) skip(ctx context.Context, what string, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	metrics.MonitorTicks.WithLabelValues("skipped").Inc()
	m.logger.WarnContext(ctx, "tick skipped",
		slog.String("stage", what),
		slog.String("error", err.Error()),
	)
	m.emit(ctx, domain.EventTickError, 0, domain.OraclePrice{}, "", fmt.Sprintf("%s: %v", what, err))
	return false
}

func (m *Monitor) emit(ctx context.Context, typ domain.MonitorEventType, ratio float64, sample domain.OraclePrice, outcome, detail string) {
	if m.sink == nil {
		return
	}
	m.sink.Emit(ctx, domain.MonitorEvent{
		Type:        typ,
		PositionID:  m.id.String(),
		State:       m.State(),
		HealthRatio: ratio,
		Price:       sample.Price,
		RoundID:     sample.RoundID,
		Outcome:     outcome,
		Detail:      detail,
		At:          time.Now().UTC(),
	})
}

// setStateLocked must be called with m.mu held.
func (m *Monitor) setStateLocked(ctx context.Context, next domain.MonitorState) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next
	if prev == domain.MonitorWatching {
		metrics.ActiveMonitors.Dec()
	}
	if next == domain.MonitorWatching {
		metrics.ActiveMonitors.Inc()
	}
	m.logger.Info("monitor state changed",
		slog.String("from", string(prev)),
		slog.String("to", string(next)),
	)
	if m.sink != nil {
		m.sink.Emit(context.WithoutCancel(ctx), domain.MonitorEvent{
			Type:       domain.EventStateChange,
			PositionID: m.id.String(),
			State:      next,
			Detail:     string(prev),
			At:         time.Now().UTC(),
		})
	}
}
