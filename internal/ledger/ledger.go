// Package ledger serves position and protocol parameter reads for the
// monitor and the API. Reads go cache first, then the contract's public
// ledger, and fall back to the last good value when the ledger is down.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/statera-protocol/statera-protocol-midnight/internal/contract"
	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// ReaderProvider yields the ledger reader once the contract is joined.
// *contract.Service implements it.
type ReaderProvider interface {
	Ledger() (contract.LedgerReader, error)
}

// Option configures a Reader.
type Option func(*Reader)

// WithCache puts cache in front of the ledger with the given TTL.
func WithCache(cache domain.PositionCache, ttl time.Duration) Option {
	return func(r *Reader) {
		r.cache = cache
		r.ttl = ttl
	}
}

// WithSnapshots records every fresh position read.
func WithSnapshots(store domain.PositionSnapshotStore) Option {
	return func(r *Reader) { r.snapshots = store }
}

// WithMaxStaleness bounds how old a fallback value may be. Zero disables
// the fallback.
func WithMaxStaleness(d time.Duration) Option {
	return func(r *Reader) { r.maxStale = d }
}

type lastGood[T any] struct {
	value T
	at    time.Time
}

// Reader implements monitor.Ledger.
type Reader struct {
	provider  ReaderProvider
	cache     domain.PositionCache
	snapshots domain.PositionSnapshotStore
	ttl       time.Duration
	maxStale  time.Duration
	logger    *slog.Logger

	mu        sync.RWMutex
	positions map[uuid.UUID]lastGood[domain.Position]
	params    *lastGood[domain.ProtocolParameters]
}

// NewReader creates a Reader over provider.
func NewReader(provider ReaderProvider, logger *slog.Logger, opts ...Option) *Reader {
	r := &Reader{
		provider:  provider,
		ttl:       10 * time.Second,
		maxStale:  5 * time.Minute,
		logger:    logger.With(slog.String("component", "ledger")),
		positions: make(map[uuid.UUID]lastGood[domain.Position]),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetPosition returns the position with id.
func (r *Reader) GetPosition(ctx context.Context, id uuid.UUID) (domain.Position, error) {
	if r.cache != nil {
		if pos, err := r.cache.GetPosition(ctx, id); err == nil {
			return pos, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Debug("position cache read failed", slog.String("error", err.Error()))
		}
	}

	pos, err := r.readPosition(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrNotReady) || errors.Is(err, domain.ErrClosed) {
			return domain.Position{}, err
		}
		if lg, ok := r.lastPosition(id); ok {
			r.logger.Warn("ledger read failed, serving last good position",
				slog.String("position_id", id.String()),
				slog.Duration("age", time.Since(lg.at)),
				slog.String("error", err.Error()),
			)
			return lg.value, nil
		}
		return domain.Position{}, err
	}

	r.mu.Lock()
	r.positions[id] = lastGood[domain.Position]{value: pos, at: time.Now()}
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.SetPosition(ctx, pos, r.ttl); err != nil {
			r.logger.Debug("position cache write failed", slog.String("error", err.Error()))
		}
	}
	if r.snapshots != nil {
		if err := r.snapshots.Upsert(ctx, pos); err != nil {
			r.logger.Warn("position snapshot failed", slog.String("error", err.Error()))
		}
	}
	return pos, nil
}

// GetProtocolParameters returns the protocol parameters.
func (r *Reader) GetProtocolParameters(ctx context.Context) (domain.ProtocolParameters, error) {
	if r.cache != nil {
		if p, err := r.cache.GetParameters(ctx); err == nil {
			return p, nil
		}
	}

	lr, err := r.provider.Ledger()
	if err != nil {
		return domain.ProtocolParameters{}, err
	}
	params, err := lr.ReadProtocolParameters(ctx)
	if err != nil {
		r.mu.RLock()
		lg := r.params
		r.mu.RUnlock()
		if lg != nil && r.fresh(lg.at) {
			r.logger.Warn("ledger read failed, serving last good parameters", slog.String("error", err.Error()))
			return lg.value, nil
		}
		return domain.ProtocolParameters{}, fmt.Errorf("ledger: protocol parameters: %w", err)
	}

	r.mu.Lock()
	r.params = &lastGood[domain.ProtocolParameters]{value: params, at: time.Now()}
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.SetParameters(ctx, params, r.ttl); err != nil {
			r.logger.Debug("parameter cache write failed", slog.String("error", err.Error()))
		}
	}
	return params, nil
}

// Invalidate drops any cached view of id, used after a write to the position.
func (r *Reader) Invalidate(ctx context.Context, id uuid.UUID) {
	r.mu.Lock()
	delete(r.positions, id)
	r.mu.Unlock()
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, id); err != nil {
			r.logger.Debug("position cache invalidate failed", slog.String("error", err.Error()))
		}
	}
}

func (r *Reader) readPosition(ctx context.Context, id uuid.UUID) (domain.Position, error) {
	lr, err := r.provider.Ledger()
	if err != nil {
		return domain.Position{}, err
	}
	pos, err := lr.ReadPosition(ctx, contract.EncodeID(id))
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger: position %s: %w", id, err)
	}
	return pos, nil
}

func (r *Reader) lastPosition(id uuid.UUID) (lastGood[domain.Position], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lg, ok := r.positions[id]
	if !ok || !r.fresh(lg.at) {
		return lastGood[domain.Position]{}, false
	}
	return lg, true
}

func (r *Reader) fresh(at time.Time) bool {
	return r.maxStale > 0 && time.Since(at) <= r.maxStale
}
