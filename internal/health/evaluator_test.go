package health

import (
	"math/big"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

func active(collateral, debt uint64) domain.Position {
	return domain.Position{
		ID:         uuid.New(),
		Collateral: collateral,
		Debt:       debt,
		Status:     domain.PositionActive,
	}
}

func TestEvaluateScenarios(t *testing.T) {
	tests := []struct {
		name      string
		pos       domain.Position
		price     float64
		threshold uint64
		want      Status
		ratio     string
	}{
		{"at threshold margin", active(100, 100), 1.0, 120, Healthy, "1.2"},
		{"price drop", active(100, 100), 0.8, 120, Liquidatable, "0.96"},
		{"exactly one", active(100, 120), 1.0, 120, Liquidatable, "1"},
		{"no debt", active(100, 0), 0.0001, 120, Healthy, "0"},
		{"closed", domain.Position{Collateral: 100, Debt: 100, Status: domain.PositionClosed}, 0.01, 120, Inactive, "0"},
		{"inactive", domain.Position{Status: domain.PositionInactive}, 1, 120, Inactive, "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := Assess(tc.pos, tc.price, tc.threshold)
			assert.Equal(t, tc.want, a.Status)
			assert.Equal(t, tc.want, Evaluate(tc.pos, tc.price, tc.threshold))
			assert.True(t, a.Ratio.Equal(mustDecimal(t, tc.ratio)), "ratio %s, want %s", a.Ratio, tc.ratio)
		})
	}
}

func TestEvaluateInactiveIgnoresInputs(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		status := domain.PositionInactive
		if i%2 == 0 {
			status = domain.PositionClosed
		}
		pos := domain.Position{Collateral: r.Uint64N(1e9), Debt: r.Uint64N(1e9), Status: status}
		require.Equal(t, Inactive, Evaluate(pos, r.Float64()*10, r.Uint64N(300)))
	}
}

func TestEvaluateZeroDebtIsHealthy(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 500; i++ {
		pos := active(r.Uint64N(1e9)+1, 0)
		price := r.Float64()*100 + 1e-6
		require.Equal(t, Healthy, Evaluate(pos, price, r.Uint64N(300)))
	}
}

// Prices are multiples of 1/64 so the float is exact and the comparison can
// be checked in integers.
func TestEvaluateMatchesIntegerComparison(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	for i := 0; i < 2000; i++ {
		collateral := r.Uint64N(1_000_000) + 1
		debt := r.Uint64N(1_000_000) + 1
		threshold := r.Uint64N(200) + 50
		n := r.Uint64N(64*4) + 1
		price := float64(n) / 64

		lhs := new(big.Int).SetUint64(collateral)
		lhs.Mul(lhs, new(big.Int).SetUint64(n))
		lhs.Mul(lhs, new(big.Int).SetUint64(threshold))
		rhs := new(big.Int).SetUint64(debt)
		rhs.Mul(rhs, big.NewInt(100*64))

		want := Healthy
		if lhs.Cmp(rhs) <= 0 {
			want = Liquidatable
		}
		require.Equal(t, want, Evaluate(active(collateral, debt), price, threshold),
			"collateral=%d debt=%d price=%v threshold=%d", collateral, debt, price, threshold)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	pos := active(12345, 6789)
	first := Assess(pos, 0.4471, 120)
	for i := 0; i < 10; i++ {
		again := Assess(pos, 0.4471, 120)
		assert.Equal(t, first.Status, again.Status)
		assert.True(t, first.Ratio.Equal(again.Ratio))
	}
}

func TestAtRisk(t *testing.T) {
	assert.True(t, AtRisk(Assess(active(100, 100), 0.9, 120), 1.2))
	assert.False(t, AtRisk(Assess(active(100, 100), 1.0, 120), 1.2), "1.2 is not below the band")
	assert.False(t, AtRisk(Assess(active(100, 100), 0.8, 120), 1.2), "liquidatable is not at risk")
	assert.False(t, AtRisk(Assess(active(100, 0), 1, 120), 1.2))
}

func TestLiquidationPrice(t *testing.T) {
	pos := active(100, 100)
	lp := LiquidationPrice(pos, 120)
	f, _ := lp.Float64()
	assert.InDelta(t, 0.8333333, f, 1e-6)
	assert.Equal(t, Liquidatable, Evaluate(pos, 0.83, 120))
	assert.Equal(t, Healthy, Evaluate(pos, 0.84, 120))

	assert.True(t, LiquidationPrice(active(100, 0), 120).IsZero())
}
