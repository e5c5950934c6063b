package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// Feed supplies the current price of the collateral asset.
type Feed interface {
	CurrentPrice(ctx context.Context) (domain.OraclePrice, error)
}

// CurrentPrice implements Feed.
func (s *Simulator) CurrentPrice(ctx context.Context) (domain.OraclePrice, error) {
	if err := ctx.Err(); err != nil {
		return domain.OraclePrice{}, err
	}
	return s.CurrentSample(), nil
}

var _ Feed = (*Simulator)(nil)

// TimeoutFeed bounds every call to the wrapped feed.
type TimeoutFeed struct {
	feed    Feed
	timeout time.Duration
}

// WithTimeout wraps feed so CurrentPrice returns within timeout.
func WithTimeout(feed Feed, timeout time.Duration) *TimeoutFeed {
	return &TimeoutFeed{feed: feed, timeout: timeout}
}

// CurrentPrice calls the wrapped feed and gives up after the timeout even if
// the feed ignores context cancellation.
func (f *TimeoutFeed) CurrentPrice(ctx context.Context) (domain.OraclePrice, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	type result struct {
		sample domain.OraclePrice
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := f.feed.CurrentPrice(ctx)
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		return r.sample, r.err
	case <-ctx.Done():
		return domain.OraclePrice{}, fmt.Errorf("oracle: price fetch: %w", ctx.Err())
	}
}
