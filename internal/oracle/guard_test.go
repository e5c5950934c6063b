package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

func sample(round int64) domain.OraclePrice {
	return domain.OraclePrice{Asset: "ADA", Price: 0.45, Timestamp: fixedNow, Confidence: 0.99, RoundID: round}
}

func TestRoundGuardDiscardsOutOfOrder(t *testing.T) {
	g := NewRoundGuard(Policy{MinConfidence: 0.9})

	require.NoError(t, g.Accept(sample(5)))
	require.NoError(t, g.Accept(sample(5)), "repeat of the current round is allowed")
	require.NoError(t, g.Accept(sample(7)))

	err := g.Accept(sample(6))
	assert.ErrorIs(t, err, domain.ErrOutOfOrder)

	last, ok := g.LastRound("ADA")
	assert.True(t, ok)
	assert.Equal(t, int64(7), last, "rejected sample must not regress state")
}

func TestRoundGuardTracksAssetsIndependently(t *testing.T) {
	g := NewRoundGuard(Policy{})
	require.NoError(t, g.Accept(sample(10)))
	other := sample(1)
	other.Asset = "DUST"
	assert.NoError(t, g.Accept(other))
}

func TestRoundGuardRejectsInvalidWithoutRecording(t *testing.T) {
	g := NewRoundGuard(Policy{MinConfidence: 0.9})
	bad := sample(100)
	bad.Price = -1
	assert.ErrorIs(t, g.Accept(bad), domain.ErrInvalidSample)
	_, ok := g.LastRound("ADA")
	assert.False(t, ok)
}

type slowFeed struct{ delay time.Duration }

func (f slowFeed) CurrentPrice(ctx context.Context) (domain.OraclePrice, error) {
	time.Sleep(f.delay)
	return sample(1), nil
}

func TestTimeoutFeed(t *testing.T) {
	f := WithTimeout(slowFeed{delay: 200 * time.Millisecond}, 20*time.Millisecond)
	start := time.Now()
	_, err := f.CurrentPrice(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	fast := WithTimeout(slowFeed{}, time.Second)
	got, err := fast.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.RoundID)
}

func TestHTTPFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cardano", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"cardano":{"usd":0.52}}`))
	}))
	defer srv.Close()

	f := NewHTTPFeed(srv.URL, "cardano", "ADA")
	first, err := f.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.52, first.Price)
	assert.Equal(t, "ADA", first.Asset)

	second, err := f.CurrentPrice(context.Background())
	require.NoError(t, err)
	assert.Greater(t, second.RoundID, first.RoundID)
}

func TestRejectReason(t *testing.T) {
	cases := map[string]error{
		"stale":          domain.ErrStaleSample,
		"invalid":        fmt.Errorf("oracle: ADA price -1: %w", domain.ErrInvalidSample),
		"low_confidence": domain.ErrLowConfidence,
		"out_of_order":   domain.ErrOutOfOrder,
		"timeout":        context.DeadlineExceeded,
		"error":          errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, RejectReason(err), "%v", err)
	}
}
