// Package oracle simulates the collateral price feed and guards consumers
// against invalid or out-of-order samples.
package oracle

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

const (
	DefaultAsset          = "ADA"
	DefaultInitialPrice   = 0.45
	DefaultBaseVolatility = 0.02
	DefaultHistoryLimit   = 1000

	startBlock     = 1_000_000
	startRound     = 1
	seedPoints     = 101
	priceFloor     = 0.001
	trendWindow    = 10
	trendThreshold = 0.02
	sourceName     = "MockOracle"
	baseConfidence = 0.99
)

// Config configures a Simulator. Zero values fall back to defaults.
type Config struct {
	Asset          string
	InitialPrice   float64
	BaseVolatility float64
	HistoryLimit   int
	// Seed makes the trajectory reproducible. Zero picks a random seed.
	Seed uint64
	// Now is the clock used for timestamps; defaults to time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Asset == "" {
		c.Asset = DefaultAsset
	}
	if c.InitialPrice <= 0 {
		c.InitialPrice = DefaultInitialPrice
	}
	if c.BaseVolatility <= 0 {
		c.BaseVolatility = DefaultBaseVolatility
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.Seed == 0 {
		c.Seed = rand.Uint64()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Simulator generates a price series for one asset under a chosen market
// condition. It is safe for concurrent use.
type Simulator struct {
	mu      sync.Mutex
	cfg     Config
	rng     *rand.Rand
	price   float64
	block   int64
	round   int64
	history *History
}

// NewSimulator creates a Simulator and seeds its history with 101 points at
// one minute spacing around the initial price.
func NewSimulator(cfg Config) *Simulator {
	cfg.applyDefaults()
	s := &Simulator{
		cfg:     cfg,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		history: NewHistory(cfg.HistoryLimit),
	}
	s.resetLocked(cfg.InitialPrice)
	return s
}

// Asset returns the simulated asset symbol.
func (s *Simulator) Asset() string { return s.cfg.Asset }

// CurrentSample returns a sample at the current price without advancing.
func (s *Simulator) CurrentSample() domain.OraclePrice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampleLocked()
}

// Advance applies one price step under condition and returns the new sample.
// Block number and round id increase by exactly one per call.
func (s *Simulator) Advance(condition domain.MarketCondition) domain.OraclePrice {
	s.mu.Lock()
	defer s.mu.Unlock()

	drift, vol := s.params(condition)
	u := s.rng.Float64() - 0.5
	next := s.price * (1 + drift + vol*u)
	s.price = math.Max(next, priceFloor)
	s.block++
	s.round++

	sample := s.sampleLocked()
	s.history.Append(HistoryPoint{
		Price:      s.price,
		Timestamp:  sample.Timestamp,
		Volatility: s.cfg.BaseVolatility,
	})

	return sample
}

// MultiSourceSamples returns three correlated samples modelling redundant
// feeds. The secondary feeds lag by one and two rounds.
func (s *Simulator) MultiSourceSamples() [3]domain.OraclePrice {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Now()
	base := s.sampleLocked()
	base.Timestamp = now
	base.Source = "Chainlink"

	band := base
	band.Price = s.price * (1 + (s.rng.Float64()-0.5)*0.002)
	band.Timestamp = now.Add(-time.Second)
	band.Confidence = 0.98
	band.Source = "Band Protocol"
	band.BlockNumber = s.block - 1
	band.RoundID = s.round - 1

	api3 := base
	api3.Price = s.price * (1 + (s.rng.Float64()-0.5)*0.0015)
	api3.Timestamp = now.Add(-2 * time.Second)
	api3.Confidence = 0.97
	api3.Source = "API3"
	api3.BlockNumber = s.block - 2
	api3.RoundID = s.round - 2

	return [3]domain.OraclePrice{base, band, api3}
}

// FailureSamples holds one sample per failure category.
type FailureSamples struct {
	Stale         domain.OraclePrice `json:"stale"`
	Invalid       domain.OraclePrice `json:"invalid"`
	LowConfidence domain.OraclePrice `json:"low_confidence"`
}

// SimulateFailureModes returns one stale, one invalid and one low-confidence
// sample derived from the current state. It does not change state.
func (s *Simulator) SimulateFailureModes() FailureSamples {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.sampleLocked()

	stale := cur
	stale.Timestamp = cur.Timestamp.Add(-time.Hour)
	stale.BlockNumber = s.block - 300
	stale.RoundID = s.round - 300
	stale.Source = "StaleOracle"

	invalid := cur
	invalid.Price = -1
	invalid.Source = "FaultyOracle"

	low := cur
	low.Confidence = 0.1
	low.Source = "UnreliableOracle"

	return FailureSamples{Stale: stale, Invalid: invalid, LowConfidence: low}
}

// Trend classifies the recent direction of the generated series.
func (s *Simulator) Trend() domain.Trend {
	return s.history.Trend()
}

// History returns generated points within the last window.
func (s *Simulator) History(window time.Duration) []HistoryPoint {
	return s.history.Since(s.cfg.Now().Add(-window))
}

// Reset restores the initial state with a new starting price.
func (s *Simulator) Reset(initialPrice float64) {
	if initialPrice <= 0 {
		initialPrice = s.cfg.InitialPrice
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(initialPrice)
}

func (s *Simulator) resetLocked(initialPrice float64) {
	s.price = initialPrice
	s.block = startBlock
	s.round = startRound
	s.history.Reset()

	now := s.cfg.Now()
	for i := seedPoints - 1; i >= 0; i-- {
		s.history.Append(HistoryPoint{
			Price:      initialPrice * (1 + (s.rng.Float64()-0.5)*0.02),
			Timestamp:  now.Add(-time.Duration(i) * time.Minute),
			Volatility: s.cfg.BaseVolatility,
			Trend:      domain.TrendSideways,
		})
	}
}

func (s *Simulator) sampleLocked() domain.OraclePrice {
	return domain.OraclePrice{
		Asset:       s.cfg.Asset,
		Price:       s.price,
		Timestamp:   s.cfg.Now(),
		Confidence:  baseConfidence,
		Source:      sourceName,
		BlockNumber: s.block,
		RoundID:     s.round,
	}
}

// params returns drift and volatility for condition. Unknown conditions
// behave like normal.
func (s *Simulator) params(condition domain.MarketCondition) (drift, vol float64) {
	base := s.cfg.BaseVolatility
	switch condition {
	case domain.ConditionVolatile:
		return (s.rng.Float64() - 0.5) * 0.002, base * 3
	case domain.ConditionCrash:
		return -0.02, base * 5
	case domain.ConditionPump:
		return 0.015, base * 2
	case domain.ConditionLiquidationCascade:
		return -0.05, base * 8
	default:
		return (s.rng.Float64() - 0.5) * 0.001, base
	}
}
