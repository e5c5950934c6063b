// Package health computes the liquidation status of a debt position.
//
// Everything here is pure: no I/O, no clocks, no shared state. Identical
// inputs always produce identical outputs.
package health

import (
	"github.com/shopspring/decimal"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// Status is the liquidation verdict for a position.
type Status int

const (
	Inactive Status = iota
	Healthy
	Liquidatable
)

func (s Status) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Healthy:
		return "healthy"
	case Liquidatable:
		return "liquidatable"
	default:
		return "unknown"
	}
}

var hundred = decimal.NewFromInt(100)

// Assessment carries the verdict and the health ratio it was derived from.
// Ratio is zero for inactive positions and for positions without debt.
type Assessment struct {
	Status Status
	Ratio  decimal.Decimal
}

// RatioFloat returns the ratio as a float for logging and metrics.
func (a Assessment) RatioFloat() float64 {
	f, _ := a.Ratio.Float64()
	return f
}

// Evaluate returns the liquidation status of pos at price under the given
// liquidation threshold (an integer percentage).
func Evaluate(pos domain.Position, price float64, threshold uint64) Status {
	return Assess(pos, price, threshold).Status
}

// Assess is Evaluate plus the health ratio
//
//	collateral * price * threshold / (debt * 100)
//
// A ratio at or below one is liquidatable.
func Assess(pos domain.Position, price float64, threshold uint64) Assessment {
	if pos.Status != domain.PositionActive {
		return Assessment{Status: Inactive}
	}
	if pos.Debt == 0 {
		return Assessment{Status: Healthy}
	}

	scaled := scaledCollateral(pos.Collateral, price, threshold)
	debt := decimal.NewFromUint64(pos.Debt).Mul(hundred)

	a := Assessment{Status: Healthy, Ratio: scaled.Div(debt)}
	if scaled.LessThanOrEqual(debt) {
		a.Status = Liquidatable
	}
	return a
}

// Ratio returns the health ratio, or zero when it is undefined.
func Ratio(pos domain.Position, price float64, threshold uint64) decimal.Decimal {
	return Assess(pos, price, threshold).Ratio
}

// AtRisk reports whether a healthy assessment sits below the advisory band.
func AtRisk(a Assessment, band float64) bool {
	if a.Status != Healthy || a.Ratio.IsZero() {
		return false
	}
	return a.Ratio.LessThan(decimal.NewFromFloat(band))
}

// LiquidationPrice is the highest price at which pos becomes liquidatable.
// It returns zero for positions that cannot be liquidated.
func LiquidationPrice(pos domain.Position, threshold uint64) decimal.Decimal {
	if pos.Status != domain.PositionActive || pos.Debt == 0 || pos.Collateral == 0 || threshold == 0 {
		return decimal.Zero
	}
	num := decimal.NewFromUint64(pos.Debt).Mul(hundred)
	den := decimal.NewFromUint64(pos.Collateral).Mul(decimal.NewFromUint64(threshold))
	return num.Div(den)
}

func scaledCollateral(collateral uint64, price float64, threshold uint64) decimal.Decimal {
	return decimal.NewFromUint64(collateral).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromUint64(threshold))
}
