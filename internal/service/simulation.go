package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/statera-protocol/statera-protocol-midnight/internal/contract"
	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/monitor"
	"github.com/statera-protocol/statera-protocol-midnight/internal/oracle"
	"github.com/statera-protocol/statera-protocol-midnight/internal/privatestate"
)

// Watcher starts monitoring a position.
type Watcher interface {
	Watch(ctx context.Context, id uuid.UUID) (monitor.Status, error)
}

// SeedPosition describes a fixture position opened on the simulated ledger.
type SeedPosition struct {
	Handle     string
	Collateral uint64
	Debt       uint64
}

// DefaultSeeds opens positions at health ratios 1.5, 1.25, 1.1 and 1.02 at
// price under threshold, so a falling market liquidates them in turn.
func DefaultSeeds(price float64, threshold uint64) []SeedPosition {
	const collateral = 10_000
	ratios := []struct {
		handle string
		ratio  float64
	}{
		{"sim-safe", 1.5},
		{"sim-comfortable", 1.25},
		{"sim-tight", 1.1},
		{"sim-edge", 1.02},
	}
	out := make([]SeedPosition, 0, len(ratios))
	for _, r := range ratios {
		debt := math.Floor(collateral * price * float64(threshold) / (100 * r.ratio))
		out = append(out, SeedPosition{Handle: r.handle, Collateral: collateral, Debt: uint64(max(debt, 1))})
	}
	return out
}

// ScenarioReport summarises one scenario run.
type ScenarioReport struct {
	Scenario     string                 `json:"scenario"`
	Steps        int                    `json:"steps"`
	StartPrice   float64                `json:"start_price"`
	EndPrice     float64                `json:"end_price"`
	Liquidations int64                  `json:"liquidations"`
	Duration     time.Duration          `json:"duration"`
	Trend        domain.Trend           `json:"trend"`
	Condition    domain.MarketCondition `json:"condition"`
}

// Simulation runs the full loop against the in-memory ledger: positions are
// opened, recorded in private state and watched while the oracle walks a
// scenario.
type Simulation struct {
	ledger    *contract.SimLedger
	private   domain.PrivateStateStore
	secretKey string
	watcher   Watcher
	oracle    *OracleService
	logger    *slog.Logger
}

// NewSimulation creates a Simulation.
func NewSimulation(ledger *contract.SimLedger, private domain.PrivateStateStore, secretKey string, watcher Watcher, oracleSvc *OracleService, logger *slog.Logger) *Simulation {
	return &Simulation{
		ledger:    ledger,
		private:   private,
		secretKey: secretKey,
		watcher:   watcher,
		oracle:    oracleSvc,
		logger:    logger.With(slog.String("component", "simulation")),
	}
}

// Open creates seeds on the ledger, records them and starts their monitors.
func (s *Simulation) Open(ctx context.Context, seeds []SeedPosition) ([]domain.Position, error) {
	out := make([]domain.Position, 0, len(seeds))
	for _, seed := range seeds {
		pos := s.ledger.Open(seed.Handle, seed.Collateral, seed.Debt)
		if _, err := privatestate.Record(ctx, s.private, s.secretKey, pos); err != nil {
			return out, fmt.Errorf("simulation: record %s: %w", seed.Handle, err)
		}
		if _, err := s.watcher.Watch(ctx, pos.ID); err != nil {
			return out, fmt.Errorf("simulation: watch %s: %w", seed.Handle, err)
		}
		s.logger.InfoContext(ctx, "position opened",
			slog.String("handle", seed.Handle),
			slog.String("position_id", pos.ID.String()),
			slog.Uint64("collateral", pos.Collateral),
			slog.Uint64("debt", pos.Debt),
		)
		out = append(out, pos)
	}
	return out, nil
}

// Run walks the named scenario, pausing step between samples.
func (s *Simulation) Run(ctx context.Context, scenario string, step time.Duration) (ScenarioReport, error) {
	phases, ok := oracle.ScenarioPhases(scenario)
	if !ok {
		return ScenarioReport{}, fmt.Errorf("simulation: unknown scenario %q", scenario)
	}

	start, err := s.oracle.Latest(ctx)
	if err != nil {
		return ScenarioReport{}, err
	}
	before := s.ledger.LiquidationCount()
	began := time.Now()

	n, err := s.oracle.RunScenario(ctx, phases, step)
	report := ScenarioReport{
		Scenario:     scenario,
		Steps:        n,
		StartPrice:   start.Price,
		Liquidations: s.ledger.LiquidationCount() - before,
		Duration:     time.Since(began),
		Trend:        s.oracle.Trend(),
		Condition:    phases[len(phases)-1].Condition,
	}
	if end, lerr := s.oracle.Latest(ctx); lerr == nil {
		report.EndPrice = end.Price
	}

	s.logger.InfoContext(ctx, "scenario finished",
		slog.String("scenario", scenario),
		slog.Int("steps", n),
		slog.Float64("start_price", report.StartPrice),
		slog.Float64("end_price", report.EndPrice),
		slog.Int64("liquidations", report.Liquidations),
	)
	return report, err
}
