package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/oracle"
)

// Status is a point-in-time view of one monitor.
type Status struct {
	PositionID  string              `json:"position_id"`
	State       domain.MonitorState `json:"state"`
	Submissions int64               `json:"submissions"`
}

// Supervisor owns the set of running monitors, one per position.
type Supervisor struct {
	feed   oracle.Feed
	policy oracle.Policy
	ledger Ledger
	liq    Liquidator
	sink   EventSink
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	monitors map[uuid.UUID]*Monitor
}

// NewSupervisor creates a Supervisor whose monitors share feed. Each monitor
// orders samples with its own RoundGuard under policy.
func NewSupervisor(feed oracle.Feed, policy oracle.Policy, ledger Ledger, liq Liquidator, sink EventSink, cfg Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		feed:     feed,
		policy:   policy,
		ledger:   ledger,
		liq:      liq,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		monitors: make(map[uuid.UUID]*Monitor),
	}
}

// Watch starts monitoring id. Watching an already watched position is a
// no-op; a stopped monitor is restarted.
func (s *Supervisor) Watch(ctx context.Context, id uuid.UUID) (Status, error) {
	if id == uuid.Nil {
		return Status{}, fmt.Errorf("monitor: nil position id: %w", domain.ErrInvalidPayload)
	}

	s.mu.Lock()
	m, ok := s.monitors[id]
	if !ok {
		m = New(id, s.feed, oracle.NewRoundGuard(s.policy), s.ledger, s.liq, s.sink, s.cfg, s.logger)
		s.monitors[id] = m
	}
	s.mu.Unlock()

	m.Start(ctx)
	return statusOf(m), nil
}

// Unwatch stops and forgets the monitor for id.
func (s *Supervisor) Unwatch(id uuid.UUID) error {
	s.mu.Lock()
	m, ok := s.monitors[id]
	delete(s.monitors, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("monitor %s: %w", id, domain.ErrNotFound)
	}
	m.Stop()
	return nil
}

// Get returns the status of the monitor for id.
func (s *Supervisor) Get(id uuid.UUID) (Status, error) {
	s.mu.Lock()
	m, ok := s.monitors[id]
	s.mu.Unlock()
	if !ok {
		return Status{}, fmt.Errorf("monitor %s: %w", id, domain.ErrNotFound)
	}
	return statusOf(m), nil
}

// List returns every known monitor ordered by position id.
func (s *Supervisor) List() []Status {
	s.mu.Lock()
	out := make([]Status, 0, len(s.monitors))
	for _, m := range s.monitors {
		out = append(out, statusOf(m))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out
}

// Active counts monitors that are Watching or Liquidating.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.monitors {
		if st := m.State(); st == domain.MonitorWatching || st == domain.MonitorLiquidating {
			n++
		}
	}
	return n
}

// StopAll stops every monitor and waits for their loops to exit or ctx to
// end, whichever comes first.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	ms := make([]*Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		ms = append(ms, m)
	}
	s.mu.Unlock()

	for _, m := range ms {
		m.Stop()
	}
	for _, m := range ms {
		done := m.Done()
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("monitors still running at shutdown", slog.String("error", ctx.Err().Error()))
			return
		}
	}
}

func statusOf(m *Monitor) Status {
	return Status{
		PositionID:  m.ID().String(),
		State:       m.State(),
		Submissions: m.Submissions(),
	}
}
