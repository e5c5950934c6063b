// Package service coordinates the price source, the caches and the event
// fan-out around the monitors.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/metrics"
	"github.com/statera-protocol/statera-protocol-midnight/internal/oracle"
)

// maxPending bounds samples held for the next archive upload.
const maxPending = 10_000

// PriceSink receives every recorded sample.
type PriceSink interface {
	PublishPrice(ctx context.Context, sample domain.OraclePrice)
}

// OracleConfig configures an OracleService.
type OracleConfig struct {
	Condition       domain.MarketCondition
	TickInterval    time.Duration
	ArchiveInterval time.Duration
}

// OracleOption wires optional collaborators.
type OracleOption func(*OracleService)

// WithPriceCache stores each sample in cache.
func WithPriceCache(cache domain.PriceCache) OracleOption {
	return func(s *OracleService) { s.cache = cache }
}

// WithBus publishes each sample on domain.ChannelOraclePrice.
func WithBus(bus domain.EventBus) OracleOption {
	return func(s *OracleService) { s.bus = bus }
}

// WithPriceSink forwards each sample to sink.
func WithPriceSink(sink PriceSink) OracleOption {
	return func(s *OracleService) { s.sinks = append(s.sinks, sink) }
}

// WithPolicy sets the validity policy applied to every sample. The default
// is oracle.DefaultPolicy.
func WithPolicy(p oracle.Policy) OracleOption {
	return func(s *OracleService) { s.policy = p }
}

// WithArchiver uploads buffered samples every ArchiveInterval.
func WithArchiver(a domain.Archiver) OracleOption {
	return func(s *OracleService) { s.archiver = a }
}

// OracleService drives the price source. With a simulator it advances the
// price on every tick; with an external feed it polls.
type OracleService struct {
	feed     oracle.Feed
	sim      *oracle.Simulator
	cache    domain.PriceCache
	bus      domain.EventBus
	sinks    []PriceSink
	archiver domain.Archiver
	policy   oracle.Policy
	guard    *oracle.RoundGuard
	cfg      OracleConfig
	logger   *slog.Logger

	// stepMu orders produce, accept and record so concurrent Advance and Tick
	// calls reach the guard in round order.
	stepMu sync.Mutex

	mu        sync.Mutex
	condition domain.MarketCondition
	pending   []domain.OraclePrice
}

// NewOracleService creates a service over feed. sim is nil for external
// feeds, in which case the simulator-only operations return
// domain.ErrUnsupported.
func NewOracleService(feed oracle.Feed, sim *oracle.Simulator, cfg OracleConfig, logger *slog.Logger, opts ...OracleOption) *OracleService {
	if cfg.Condition == "" {
		cfg.Condition = domain.ConditionNormal
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.ArchiveInterval <= 0 {
		cfg.ArchiveInterval = time.Hour
	}
	s := &OracleService{
		feed:      feed,
		sim:       sim,
		cfg:       cfg,
		condition: cfg.Condition,
		policy:    oracle.DefaultPolicy(),
		logger:    logger.With(slog.String("component", "oracle")),
	}
	for _, o := range opts {
		o(s)
	}
	s.guard = oracle.NewRoundGuard(s.policy)
	return s
}

// Latest returns the current price without advancing the simulator. Samples
// the policy rejects are returned as errors, never as prices.
func (s *OracleService) Latest(ctx context.Context) (domain.OraclePrice, error) {
	sample, err := s.feed.CurrentPrice(ctx)
	if err != nil {
		return domain.OraclePrice{}, fmt.Errorf("oracle_service: latest: %w", err)
	}
	if err := s.policy.Validate(sample); err != nil {
		metrics.OracleRejections.WithLabelValues(oracle.RejectReason(err)).Inc()
		return domain.OraclePrice{}, fmt.Errorf("oracle_service: latest: %w", err)
	}
	return sample, nil
}

// Sources returns the redundant-feed samples.
func (s *OracleService) Sources() ([]domain.OraclePrice, error) {
	if s.sim == nil {
		return nil, domain.ErrUnsupported
	}
	samples := s.sim.MultiSourceSamples()
	return samples[:], nil
}

// History returns the points generated within window.
func (s *OracleService) History(window time.Duration) ([]oracle.HistoryPoint, error) {
	if s.sim == nil {
		return nil, domain.ErrUnsupported
	}
	return s.sim.History(window), nil
}

// Trend returns the advisory trend of recent prices.
func (s *OracleService) Trend() domain.Trend {
	if s.sim == nil {
		return domain.TrendSideways
	}
	return s.sim.Trend()
}

// Condition returns the condition used by scheduled ticks.
func (s *OracleService) Condition() domain.MarketCondition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.condition
}

// SetCondition changes the condition used by scheduled ticks.
func (s *OracleService) SetCondition(c domain.MarketCondition) error {
	if !c.Valid() {
		return fmt.Errorf("oracle_service: unknown condition %q", c)
	}
	s.mu.Lock()
	s.condition = c
	s.mu.Unlock()
	return nil
}

// Advance applies one simulator step under c and records the sample.
func (s *OracleService) Advance(ctx context.Context, c domain.MarketCondition) (domain.OraclePrice, error) {
	if s.sim == nil {
		return domain.OraclePrice{}, domain.ErrUnsupported
	}
	if !c.Valid() {
		return domain.OraclePrice{}, fmt.Errorf("oracle_service: unknown condition %q", c)
	}
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	sample := s.sim.Advance(c)
	if err := s.accept(sample); err != nil {
		return domain.OraclePrice{}, err
	}
	s.record(ctx, sample)
	return sample, nil
}

// RunScenario advances through phases, pausing step between samples. A zero
// step runs them back to back.
func (s *OracleService) RunScenario(ctx context.Context, phases []oracle.Phase, step time.Duration) (int, error) {
	n := 0
	for _, p := range phases {
		for range p.Steps {
			if _, err := s.Advance(ctx, p.Condition); err != nil {
				return n, err
			}
			n++
			if step <= 0 {
				if err := ctx.Err(); err != nil {
					return n, err
				}
				continue
			}
			select {
			case <-ctx.Done():
				return n, ctx.Err()
			case <-time.After(step):
			}
		}
	}
	return n, nil
}

// Tick produces one sample: a simulator step under the current condition, or
// a poll of the external feed.
func (s *OracleService) Tick(ctx context.Context) (domain.OraclePrice, error) {
	if s.sim != nil {
		return s.Advance(ctx, s.Condition())
	}
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	sample, err := s.feed.CurrentPrice(ctx)
	if err != nil {
		return domain.OraclePrice{}, fmt.Errorf("oracle_service: poll: %w", err)
	}
	if err := s.accept(sample); err != nil {
		return domain.OraclePrice{}, err
	}
	s.record(ctx, sample)
	return sample, nil
}

// accept runs sample through the service's guard. Rejected samples are not
// recorded anywhere.
func (s *OracleService) accept(sample domain.OraclePrice) error {
	if err := s.guard.Accept(sample); err != nil {
		metrics.OracleRejections.WithLabelValues(oracle.RejectReason(err)).Inc()
		return fmt.Errorf("oracle_service: rejected sample: %w", err)
	}
	return nil
}

// Run ticks every TickInterval and archives every ArchiveInterval until ctx
// is cancelled. Pending samples get a final upload on the way out.
func (s *OracleService) Run(ctx context.Context) error {
	tick := time.NewTicker(s.cfg.TickInterval)
	defer tick.Stop()
	archive := time.NewTicker(s.cfg.ArchiveInterval)
	defer archive.Stop()

	s.logger.InfoContext(ctx, "oracle service started",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.String("condition", string(s.Condition())),
	)

	for {
		select {
		case <-ctx.Done():
			if s.archiver != nil {
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				s.archive(flushCtx)
				cancel()
			}
			return ctx.Err()
		case <-tick.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.WarnContext(ctx, "oracle tick failed", slog.String("error", err.Error()))
			}
		case <-archive.C:
			s.archive(ctx)
		}
	}
}

// Archive uploads buffered samples now and returns the object key.
func (s *OracleService) Archive(ctx context.Context) (string, error) {
	if s.archiver == nil {
		return "", nil
	}
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	key, err := s.archiver.ArchiveOracleHistory(ctx, batch)
	if err != nil {
		s.mu.Lock()
		s.pending = append(batch, s.pending...)
		if over := len(s.pending) - maxPending; over > 0 {
			s.pending = s.pending[over:]
		}
		s.mu.Unlock()
		return "", err
	}
	return key, nil
}

func (s *OracleService) archive(ctx context.Context) {
	key, err := s.Archive(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "oracle archive failed", slog.String("error", err.Error()))
		return
	}
	if key != "" {
		s.logger.InfoContext(ctx, "oracle history archived", slog.String("key", key))
	}
}

func (s *OracleService) record(ctx context.Context, sample domain.OraclePrice) {
	metrics.OraclePrice.WithLabelValues(sample.Asset).Set(sample.Price)

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, sample); err != nil {
			s.logger.WarnContext(ctx, "price cache update failed", slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		payload, _ := json.Marshal(sample)
		if err := s.bus.Publish(ctx, domain.ChannelOraclePrice, payload); err != nil {
			s.logger.WarnContext(ctx, "publish price failed", slog.String("error", err.Error()))
		}
	}
	for _, sink := range s.sinks {
		sink.PublishPrice(ctx, sample)
	}
	if s.archiver != nil {
		s.mu.Lock()
		s.pending = append(s.pending, sample)
		if over := len(s.pending) - maxPending; over > 0 {
			s.pending = s.pending[over:]
		}
		s.mu.Unlock()
	}

	s.logger.DebugContext(ctx, "price recorded",
		slog.String("asset", sample.Asset),
		slog.Float64("price", sample.Price),
		slog.Int64("round", sample.RoundID),
	)
}
