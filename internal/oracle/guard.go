package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// Policy decides whether a sample may be used.
type Policy struct {
	MaxAge        time.Duration
	MinConfidence float64
	Now           func() time.Time
}

// DefaultPolicy rejects samples older than five minutes or below 0.9 confidence.
func DefaultPolicy() Policy {
	return Policy{MaxAge: 5 * time.Minute, MinConfidence: 0.9, Now: time.Now}
}

// Validate returns nil when sample is usable.
func (p Policy) Validate(sample domain.OraclePrice) error {
	if !(sample.Price > 0) {
		return fmt.Errorf("oracle: %s price %v from %s: %w", sample.Asset, sample.Price, sample.Source, domain.ErrInvalidSample)
	}
	if sample.Confidence < p.MinConfidence {
		return fmt.Errorf("oracle: %s confidence %.2f from %s: %w", sample.Asset, sample.Confidence, sample.Source, domain.ErrLowConfidence)
	}
	if p.MaxAge > 0 {
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		if age := now().Sub(sample.Timestamp); age > p.MaxAge {
			return fmt.Errorf("oracle: %s sample from %s is %s old: %w", sample.Asset, sample.Source, age.Round(time.Second), domain.ErrStaleSample)
		}
	}
	return nil
}

// RoundGuard tracks the highest round seen per asset and discards samples
// that would move a consumer backwards. Repeats of the current round are
// accepted so a consumer polling faster than the feed advances keeps working.
type RoundGuard struct {
	mu     sync.Mutex
	policy Policy
	last   map[string]int64
}

// NewRoundGuard creates a RoundGuard applying policy before ordering checks.
func NewRoundGuard(policy Policy) *RoundGuard {
	return &RoundGuard{policy: policy, last: make(map[string]int64)}
}

// Accept validates sample and records its round. Rejected samples leave the
// guard unchanged.
func (g *RoundGuard) Accept(sample domain.OraclePrice) error {
	if err := g.policy.Validate(sample); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.last[sample.Asset]; ok && sample.RoundID < last {
		return fmt.Errorf("oracle: %s round %d after %d: %w", sample.Asset, sample.RoundID, last, domain.ErrOutOfOrder)
	}
	g.last[sample.Asset] = sample.RoundID
	return nil
}

// LastRound returns the highest accepted round for asset.
func (g *RoundGuard) LastRound(asset string) (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.last[asset]
	return r, ok
}

// Reset forgets all rounds, used after the feed itself is reset.
func (g *RoundGuard) Reset() {
	g.mu.Lock()
	g.last = make(map[string]int64)
	g.mu.Unlock()
}

// RejectReason labels why a sample was not used, for metrics.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrStaleSample):
		return "stale"
	case errors.Is(err, domain.ErrInvalidSample):
		return "invalid"
	case errors.Is(err, domain.ErrLowConfidence):
		return "low_confidence"
	case errors.Is(err, domain.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
