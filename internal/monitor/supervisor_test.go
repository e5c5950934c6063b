package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/oracle"
)

func newSupervisor(price float64) (*Supervisor, *fakeLiquidator) {
	liq := &fakeLiquidator{result: domain.LiquidationResult{Outcome: domain.LiquidationSucceeded}}
	ledger := &fakeLedger{pos: domain.Position{Collateral: 100, Debt: 100, Status: domain.PositionActive}}
	s := NewSupervisor(&fakeFeed{price: price}, oracle.DefaultPolicy(), ledger, liq, &recorder{}, Config{Interval: tick}, discard())
	return s, liq
}

func TestSupervisorWatchAndUnwatch(t *testing.T) {
	s, _ := newSupervisor(2)
	a, b := uuid.New(), uuid.New()

	st, err := s.Watch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, domain.MonitorWatching, st.State)

	_, err = s.Watch(context.Background(), b)
	require.NoError(t, err)
	_, err = s.Watch(context.Background(), a)
	require.NoError(t, err)

	assert.Len(t, s.List(), 2)
	assert.Equal(t, 2, s.Active())

	require.NoError(t, s.Unwatch(a))
	assert.ErrorIs(t, s.Unwatch(a), domain.ErrNotFound)
	_, err = s.Get(a)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := s.Get(b)
	require.NoError(t, err)
	assert.Equal(t, b.String(), got.PositionID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.StopAll(ctx)
	assert.Zero(t, s.Active())
}

func TestSupervisorRejectsNilID(t *testing.T) {
	s, _ := newSupervisor(2)
	_, err := s.Watch(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestSupervisorLiquidatesEachPositionOnce(t *testing.T) {
	s, liq := newSupervisor(0.5)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		_, err := s.Watch(context.Background(), id)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return s.Active() == 0 }, waitFor, tick)
	assert.Equal(t, 3, liq.count())
	for _, st := range s.List() {
		assert.Equal(t, domain.MonitorStopped, st.State)
		assert.Equal(t, int64(1), st.Submissions)
	}
}

func TestSupervisorGivesEachMonitorItsOwnGuard(t *testing.T) {
	s, _ := newSupervisor(2)
	a, b := uuid.New(), uuid.New()
	_, err := s.Watch(context.Background(), a)
	require.NoError(t, err)
	_, err = s.Watch(context.Background(), b)
	require.NoError(t, err)
	defer s.StopAll(context.Background())

	s.mu.Lock()
	ga, gb := s.monitors[a].guard, s.monitors[b].guard
	s.mu.Unlock()
	assert.NotSame(t, ga, gb)

	// A high round seen by one monitor does not hold back the other.
	require.NoError(t, ga.Accept(domain.OraclePrice{Asset: "DUST", Price: 1, Confidence: 0.99, Timestamp: time.Now(), RoundID: 1_000_000}))
	assert.NoError(t, gb.Accept(domain.OraclePrice{Asset: "DUST", Price: 1, Confidence: 0.99, Timestamp: time.Now(), RoundID: 1}))
}
