package oracle

import (
	"math"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// CriticalLevels are common liquidation price levels relative to a start price.
var CriticalLevels = []float64{0.85, 0.80, 0.75, 0.70, 0.65}

// LiquidationScenario is a scripted 20% decline in ten steps.
type LiquidationScenario struct {
	PriceDrops     []domain.OraclePrice `json:"price_drops"`
	CriticalLevels []float64            `json:"critical_levels"`
}

// GenerateLiquidationScenario projects a gradual 20% drop from the current
// price over ten one-minute steps. It does not change simulator state.
func (s *Simulator) GenerateLiquidationScenario() LiquidationScenario {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.price
	now := s.cfg.Now()
	drops := make([]domain.OraclePrice, 0, 10)
	for i := 1; i <= 10; i++ {
		drop := float64(i) / 10 * 0.20
		drops = append(drops, domain.OraclePrice{
			Asset:       s.cfg.Asset,
			Price:       start * (1 - drop),
			Timestamp:   now.Add(time.Duration(i) * time.Minute),
			Confidence:  baseConfidence,
			Source:      sourceName,
			BlockNumber: s.block + int64(i),
			RoundID:     s.round + int64(i),
		})
	}
	levels := make([]float64, len(CriticalLevels))
	copy(levels, CriticalLevels)
	return LiquidationScenario{PriceDrops: drops, CriticalLevels: levels}
}

// ThresholdTestData returns eleven prices around each multiplier in
// thresholds, from multiplier-0.05 to multiplier+0.05 of the current price.
func (s *Simulator) ThresholdTestData(thresholds []float64) map[float64][]domain.OraclePrice {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.price
	now := s.cfg.Now()
	out := make(map[float64][]domain.OraclePrice, len(thresholds))
	for _, th := range thresholds {
		prices := make([]domain.OraclePrice, 0, 11)
		for i := -5; i <= 5; i++ {
			prices = append(prices, domain.OraclePrice{
				Asset:       s.cfg.Asset,
				Price:       math.Max(base*(th+float64(i)*0.01), priceFloor),
				Timestamp:   now.Add(time.Duration(i) * time.Minute),
				Confidence:  baseConfidence,
				Source:      "ThresholdTestOracle",
				BlockNumber: s.block + int64(i),
				RoundID:     s.round + int64(i),
			})
		}
		out[th] = prices
	}
	return out
}

// Phase is a run of steps under one condition.
type Phase struct {
	Condition domain.MarketCondition
	Steps     int
}

// CrashPhases: calm, crash, volatile recovery.
var CrashPhases = []Phase{
	{domain.ConditionNormal, 20},
	{domain.ConditionCrash, 30},
	{domain.ConditionVolatile, 20},
}

// CascadePhases: volatile decline then a liquidation cascade.
var CascadePhases = []Phase{
	{domain.ConditionVolatile, 50},
	{domain.ConditionLiquidationCascade, 20},
}

// Run advances the simulator through phases and returns every sample.
func (s *Simulator) Run(phases []Phase) []domain.OraclePrice {
	total := 0
	for _, p := range phases {
		total += p.Steps
	}
	out := make([]domain.OraclePrice, 0, total)
	for _, p := range phases {
		for i := 0; i < p.Steps; i++ {
			out = append(out, s.Advance(p.Condition))
		}
	}
	return out
}

// RunCrash runs the crash scenario.
func (s *Simulator) RunCrash() []domain.OraclePrice { return s.Run(CrashPhases) }

// RunCascade runs the liquidation cascade scenario.
func (s *Simulator) RunCascade() []domain.OraclePrice { return s.Run(CascadePhases) }

// ScenarioPhases resolves a scenario name used by config and the API.
func ScenarioPhases(name string) ([]Phase, bool) {
	switch name {
	case "crash":
		return CrashPhases, true
	case "cascade", "liquidation_cascade":
		return CascadePhases, true
	}
	c := domain.MarketCondition(name)
	if c.Valid() {
		return []Phase{{c, 1}}, true
	}
	return nil, false
}
