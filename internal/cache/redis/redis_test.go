package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), KeyPrefix: "statera:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestPriceCache(t *testing.T) {
	c, mr := newTestClient(t)
	pc := NewPriceCache(c)
	ctx := context.Background()

	_, err := pc.GetPrice(ctx, "ADA")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	want := domain.OraclePrice{Asset: "ADA", Price: 0.4512, Timestamp: ts, Confidence: 0.99, Source: "Chainlink", BlockNumber: 1000001, RoundID: 2}
	require.NoError(t, pc.SetPrice(ctx, want))

	got, err := pc.GetPrice(ctx, "ADA")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, mr.Exists("statera:price:ADA"))
}

func TestPositionCache(t *testing.T) {
	c, mr := newTestClient(t)
	pc := NewPositionCache(c)
	ctx := context.Background()
	id := uuid.New()

	_, err := pc.GetPosition(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pos := domain.Position{ID: id, Owner: "alice", Collateral: 1000, Debt: 400, BorrowLimit: 360, Status: domain.PositionActive, UpdatedAt: time.Unix(100, 0).UTC()}
	require.NoError(t, pc.SetPosition(ctx, pos, time.Minute))

	got, err := pc.GetPosition(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pos, got)

	mr.FastForward(2 * time.Minute)
	_, err = pc.GetPosition(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, pc.SetPosition(ctx, pos, time.Minute))
	require.NoError(t, pc.Invalidate(ctx, id))
	_, err = pc.GetPosition(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParametersCache(t *testing.T) {
	c, _ := newTestClient(t)
	pc := NewPositionCache(c)
	ctx := context.Background()

	_, err := pc.GetParameters(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	want := domain.ProtocolParameters{LiquidationThreshold: 90, LoanToValue: 80, MinimumCollateralRatio: 120}
	require.NoError(t, pc.SetParameters(ctx, want, time.Minute))
	got, err := pc.GetParameters(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLockManager(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "liquidate:p1", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "liquidate:p1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	other, err := lm.Acquire(ctx, "liquidate:p2", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "liquidate:p1", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockExpires(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	stale, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := lm.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// Releasing the expired holder must not drop the new holder's lock.
	stale()
	_, err = lm.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	fresh()
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := range 3 {
		ok, err := rl.Allow(ctx, "client-a", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "client-a", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "client-b", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewEventBus(c)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, StreamLiquidations, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, StreamLiquidations, []byte("one")))
	require.NoError(t, bus.StreamAppend(ctx, StreamLiquidations, []byte("two")))

	msgs, err = bus.StreamRead(ctx, StreamLiquidations, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", string(msgs[0].Payload))
	assert.Equal(t, "two", string(msgs[1].Payload))

	rest, err := bus.StreamRead(ctx, StreamLiquidations, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "two", string(rest[0].Payload))
}

func TestEventBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewEventBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, ChannelMonitorEvents)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, ChannelMonitorEvents, []byte(`{"type":"at_risk"}`)))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"type":"at_risk"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestPrivateStateStore(t *testing.T) {
	c, _ := newTestClient(t)
	s := NewPrivateStateStore(c)
	ctx := context.Background()

	got, err := s.Get(ctx, domain.PrivateStateKey)
	require.NoError(t, err)
	assert.Nil(t, got)

	set := domain.PositionSet{
		SecretKey:    "00ff",
		MintMetadata: domain.MintMetadata{Collateral: 5, Debt: 2},
		Positions:    map[string]domain.MintMetadata{"a": {Collateral: 5, Debt: 2}},
		UpdatedAt:    time.Unix(10, 0).UTC(),
	}
	require.NoError(t, s.Set(ctx, domain.PrivateStateKey, set))
	got, err = s.Get(ctx, domain.PrivateStateKey)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, set, *got)
}
