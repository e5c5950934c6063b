package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statera-protocol/statera-protocol-midnight/internal/contract"
	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type flakyReader struct {
	contract.LedgerReader
	mu    sync.Mutex
	err   error
	reads int
}

func (f *flakyReader) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *flakyReader) ReadPosition(ctx context.Context, id contract.PositionID) (domain.Position, error) {
	f.mu.Lock()
	f.reads++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return domain.Position{}, err
	}
	return f.LedgerReader.ReadPosition(ctx, id)
}

func (f *flakyReader) ReadProtocolParameters(ctx context.Context) (domain.ProtocolParameters, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return domain.ProtocolParameters{}, err
	}
	return f.LedgerReader.ReadProtocolParameters(ctx)
}

type provider struct {
	reader contract.LedgerReader
	err    error
}

func (p provider) Ledger() (contract.LedgerReader, error) { return p.reader, p.err }

type memCache struct {
	mu        sync.Mutex
	positions map[uuid.UUID]domain.Position
	params    *domain.ProtocolParameters
}

func newMemCache() *memCache { return &memCache{positions: make(map[uuid.UUID]domain.Position)} }

func (c *memCache) GetPosition(_ context.Context, id uuid.UUID) (domain.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *memCache) SetPosition(_ context.Context, pos domain.Position, _ time.Duration) error {
	c.mu.Lock()
	c.positions[pos.ID] = pos
	c.mu.Unlock()
	return nil
}

func (c *memCache) GetParameters(context.Context) (domain.ProtocolParameters, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.params == nil {
		return domain.ProtocolParameters{}, domain.ErrNotFound
	}
	return *c.params, nil
}

func (c *memCache) SetParameters(_ context.Context, p domain.ProtocolParameters, _ time.Duration) error {
	c.mu.Lock()
	c.params = &p
	c.mu.Unlock()
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	delete(c.positions, id)
	c.mu.Unlock()
	return nil
}

type memSnapshots struct {
	mu   sync.Mutex
	rows map[uuid.UUID]domain.Position
}

func (s *memSnapshots) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	s.rows[pos.ID] = pos
	s.mu.Unlock()
	return nil
}

func (s *memSnapshots) GetByID(_ context.Context, id uuid.UUID) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.rows[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memSnapshots) ListActive(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func setup(t *testing.T, opts ...Option) (*Reader, *flakyReader, domain.Position) {
	t.Helper()
	sim := contract.NewSimLedger(contract.DefaultParameters, func() float64 { return 1 })
	pos := sim.Open("alice", 1000, 500)
	fr := &flakyReader{LedgerReader: sim}
	return NewReader(provider{reader: fr}, discard(), opts...), fr, pos
}

func TestGetPositionReadsLedger(t *testing.T) {
	snaps := &memSnapshots{rows: make(map[uuid.UUID]domain.Position)}
	r, _, want := setup(t, WithSnapshots(snaps))

	got, err := r.GetPosition(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), got.Collateral)
	assert.Equal(t, uint64(500), got.Debt)

	stored, err := snaps.GetByID(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Debt, stored.Debt)

	params, err := r.GetProtocolParameters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contract.DefaultParameters, params)
}

func TestGetPositionUsesCache(t *testing.T) {
	cache := newMemCache()
	r, fr, pos := setup(t, WithCache(cache, time.Minute))

	for range 3 {
		_, err := r.GetPosition(context.Background(), pos.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fr.reads)

	r.Invalidate(context.Background(), pos.ID)
	_, err := r.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fr.reads)
}

func TestFallsBackToLastGood(t *testing.T) {
	r, fr, pos := setup(t)
	_, err := r.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	_, err = r.GetProtocolParameters(context.Background())
	require.NoError(t, err)

	fr.fail(errors.New("indexer timeout"))

	got, err := r.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got.Debt)

	params, err := r.GetProtocolParameters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(90), params.LiquidationThreshold)
}

func TestNoFallbackWhenDisabledOrUnseen(t *testing.T) {
	r, fr, pos := setup(t, WithMaxStaleness(0))
	_, err := r.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)

	fr.fail(errors.New("indexer timeout"))
	_, err = r.GetPosition(context.Background(), pos.ID)
	assert.Error(t, err)

	_, err = r.GetPosition(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestNotFoundIsNotMasked(t *testing.T) {
	r, _, _ := setup(t)
	_, err := r.GetPosition(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotReadyPropagates(t *testing.T) {
	r := NewReader(provider{err: domain.ErrNotReady}, discard())
	_, err := r.GetPosition(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotReady)
	_, err = r.GetProtocolParameters(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotReady)
}
