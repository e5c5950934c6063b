package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSimulator(seed uint64) *Simulator {
	return NewSimulator(Config{Seed: seed, Now: func() time.Time { return fixedNow }})
}

func TestNewSimulatorDefaults(t *testing.T) {
	s := newTestSimulator(1)
	cur := s.CurrentSample()

	assert.Equal(t, "ADA", cur.Asset)
	assert.Equal(t, 0.45, cur.Price)
	assert.Equal(t, int64(1_000_000), cur.BlockNumber)
	assert.Equal(t, int64(1), cur.RoundID)
	assert.Equal(t, 0.99, cur.Confidence)
	assert.Equal(t, "MockOracle", cur.Source)
	assert.Equal(t, 101, s.history.Len())
}

func TestCurrentSampleDoesNotAdvance(t *testing.T) {
	s := newTestSimulator(2)
	a := s.CurrentSample()
	b := s.CurrentSample()
	assert.Equal(t, a, b)
}

func TestAdvanceIncrementsRoundAndBlock(t *testing.T) {
	s := newTestSimulator(3)
	prev := s.CurrentSample()
	conditions := []domain.MarketCondition{
		domain.ConditionNormal, domain.ConditionVolatile, domain.ConditionCrash,
		domain.ConditionPump, domain.ConditionLiquidationCascade,
	}
	for i := 0; i < 500; i++ {
		next := s.Advance(conditions[i%len(conditions)])
		require.Equal(t, prev.RoundID+1, next.RoundID)
		require.Equal(t, prev.BlockNumber+1, next.BlockNumber)
		require.Greater(t, next.Price, 0.0)
		prev = next
	}
}

func TestAdvanceFloorsPrice(t *testing.T) {
	s := NewSimulator(Config{Seed: 4, InitialPrice: 0.0011, Now: func() time.Time { return fixedNow }})
	for i := 0; i < 200; i++ {
		p := s.Advance(domain.ConditionLiquidationCascade)
		require.GreaterOrEqual(t, p.Price, priceFloor)
	}
}

func TestAdvanceIsReproducibleForSeed(t *testing.T) {
	a := newTestSimulator(42)
	b := newTestSimulator(42)
	for i := 0; i < 50; i++ {
		require.Equal(t, a.Advance(domain.ConditionVolatile), b.Advance(domain.ConditionVolatile))
	}
}

func TestCrashTrendsDownAcrossTrials(t *testing.T) {
	const trials = 200
	const steps = 20
	declines := 0
	for seed := uint64(1); seed <= trials; seed++ {
		s := newTestSimulator(seed)
		start := s.CurrentSample().Price
		for i := 0; i < steps; i++ {
			s.Advance(domain.ConditionCrash)
		}
		if s.CurrentSample().Price < start {
			declines++
		}
	}
	// Drift is -2% per step against a uniform shock of at most ±5%.
	assert.Greater(t, declines, trials*9/10)
}

func TestHistoryBoundedAndEvictsOldest(t *testing.T) {
	s := newTestSimulator(5)
	var last domain.OraclePrice
	for i := 0; i < 1200; i++ {
		last = s.Advance(domain.ConditionNormal)
	}
	all := s.history.All()
	require.Len(t, all, DefaultHistoryLimit)
	assert.Equal(t, last.Price, all[len(all)-1].Price)
}

func TestMultiSourceSamples(t *testing.T) {
	s := newTestSimulator(6)
	s.Advance(domain.ConditionNormal)
	cur := s.CurrentSample()

	got := s.MultiSourceSamples()
	assert.Equal(t, "Chainlink", got[0].Source)
	assert.Equal(t, cur.Price, got[0].Price)
	assert.Equal(t, cur.RoundID, got[0].RoundID)

	assert.Equal(t, "Band Protocol", got[1].Source)
	assert.InEpsilon(t, cur.Price, got[1].Price, 0.001)
	assert.Equal(t, cur.RoundID-1, got[1].RoundID)
	assert.Equal(t, 0.98, got[1].Confidence)

	assert.Equal(t, "API3", got[2].Source)
	assert.InEpsilon(t, cur.Price, got[2].Price, 0.00075)
	assert.Equal(t, cur.BlockNumber-2, got[2].BlockNumber)
	assert.Equal(t, 0.97, got[2].Confidence)
}

func TestSimulateFailureModesAreRejected(t *testing.T) {
	s := newTestSimulator(7)
	f := s.SimulateFailureModes()

	assert.Equal(t, "StaleOracle", f.Stale.Source)
	assert.Equal(t, "FaultyOracle", f.Invalid.Source)
	assert.Equal(t, -1.0, f.Invalid.Price)
	assert.Equal(t, "UnreliableOracle", f.LowConfidence.Source)

	policy := Policy{MaxAge: 5 * time.Minute, MinConfidence: 0.9, Now: func() time.Time { return fixedNow }}
	assert.ErrorIs(t, policy.Validate(f.Stale), domain.ErrStaleSample)
	assert.ErrorIs(t, policy.Validate(f.Invalid), domain.ErrInvalidSample)
	assert.ErrorIs(t, policy.Validate(f.LowConfidence), domain.ErrLowConfidence)
	assert.NoError(t, policy.Validate(s.CurrentSample()))

	assert.Equal(t, s.SimulateFailureModes(), f, "failure modes are deterministic for a fixed state")
}

func TestTrendClassification(t *testing.T) {
	h := NewHistory(100)
	for i := 0; i < 10; i++ {
		h.Append(HistoryPoint{Price: 1.0})
	}
	for i := 0; i < 10; i++ {
		h.Append(HistoryPoint{Price: 1.05})
	}
	assert.Equal(t, domain.TrendBullish, h.Trend())

	for i := 0; i < 10; i++ {
		h.Append(HistoryPoint{Price: 1.0})
	}
	assert.Equal(t, domain.TrendBearish, h.Trend())

	for i := 0; i < 10; i++ {
		h.Append(HistoryPoint{Price: 1.01})
	}
	assert.Equal(t, domain.TrendSideways, h.Trend())
}

func TestHistoryWindow(t *testing.T) {
	s := newTestSimulator(8)
	assert.Len(t, s.History(30*time.Minute+time.Second), 31)
	assert.Len(t, s.History(24*time.Hour), 101)
}

func TestReset(t *testing.T) {
	s := newTestSimulator(9)
	for i := 0; i < 10; i++ {
		s.Advance(domain.ConditionPump)
	}
	s.Reset(1.5)
	cur := s.CurrentSample()
	assert.Equal(t, 1.5, cur.Price)
	assert.Equal(t, int64(1), cur.RoundID)
	assert.Equal(t, 101, s.history.Len())
}

func TestGenerateLiquidationScenario(t *testing.T) {
	s := newTestSimulator(10)
	sc := s.GenerateLiquidationScenario()
	require.Len(t, sc.PriceDrops, 10)
	assert.InDelta(t, 0.45*0.98, sc.PriceDrops[0].Price, 1e-12)
	assert.InDelta(t, 0.45*0.80, sc.PriceDrops[9].Price, 1e-12)
	assert.Equal(t, CriticalLevels, sc.CriticalLevels)
	assert.Equal(t, int64(1), s.CurrentSample().RoundID, "scenario generation must not advance")
}

func TestRunScenarios(t *testing.T) {
	s := newTestSimulator(11)
	crash := s.RunCrash()
	assert.Len(t, crash, 70)
	cascade := s.RunCascade()
	assert.Len(t, cascade, 70)
	assert.Equal(t, int64(141), s.CurrentSample().RoundID)
}

func TestThresholdTestData(t *testing.T) {
	s := newTestSimulator(12)
	data := s.ThresholdTestData([]float64{0.8})
	prices := data[0.8]
	require.Len(t, prices, 11)
	assert.InDelta(t, 0.45*0.75, prices[0].Price, 1e-12)
	assert.InDelta(t, 0.45*0.85, prices[10].Price, 1e-12)
}

func TestSimulatorFeedHonoursContext(t *testing.T) {
	s := newTestSimulator(13)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CurrentPrice(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
