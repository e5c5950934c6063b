package domain

import "time"

// OraclePrice is one price sample for an asset. RoundID orders samples causally.
type OraclePrice struct {
	Asset       string    `json:"asset"`
	Price       float64   `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence"`
	Source      string    `json:"source"`
	BlockNumber int64     `json:"block_number"`
	RoundID     int64     `json:"round_id"`
}

// MarketCondition selects drift and volatility for the next price step.
type MarketCondition string

const (
	ConditionNormal             MarketCondition = "normal"
	ConditionVolatile           MarketCondition = "volatile"
	ConditionCrash              MarketCondition = "crash"
	ConditionPump               MarketCondition = "pump"
	ConditionLiquidationCascade MarketCondition = "liquidation_cascade"
)

// Valid reports whether c is a known condition.
func (c MarketCondition) Valid() bool {
	switch c {
	case ConditionNormal, ConditionVolatile, ConditionCrash, ConditionPump, ConditionLiquidationCascade:
		return true
	}
	return false
}

// Trend is advisory market direction metadata.
type Trend string

const (
	TrendBullish  Trend = "bullish"
	TrendBearish  Trend = "bearish"
	TrendSideways Trend = "sideways"
)
