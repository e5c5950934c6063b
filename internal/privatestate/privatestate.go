// Package privatestate keeps the wallet's private view of its own positions
// under a single fixed key.
package privatestate

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// Memory is an in-process domain.PrivateStateStore.
type Memory struct {
	mu   sync.RWMutex
	sets map[string]domain.PositionSet
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{sets: make(map[string]domain.PositionSet)}
}

// Get returns a copy of the set stored under key, or nil.
func (m *Memory) Get(_ context.Context, key string) (*domain.PositionSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.sets[key]
	if !ok {
		return nil, nil
	}
	set.Positions = maps.Clone(set.Positions)
	return &set, nil
}

// Set replaces the set stored under key.
func (m *Memory) Set(_ context.Context, key string, set domain.PositionSet) error {
	set.Positions = maps.Clone(set.Positions)
	m.mu.Lock()
	m.sets[key] = set
	m.mu.Unlock()
	return nil
}

var _ domain.PrivateStateStore = (*Memory)(nil)

// Record stores pos under the fixed key, creating the set with secretKey if
// it does not exist. The most recent position also becomes MintMetadata.
func Record(ctx context.Context, store domain.PrivateStateStore, secretKey string, pos domain.Position) (domain.PositionSet, error) {
	cur, err := store.Get(ctx, domain.PrivateStateKey)
	if err != nil {
		return domain.PositionSet{}, err
	}
	set := domain.PositionSet{SecretKey: secretKey}
	if cur != nil {
		set = *cur
	}
	if set.Positions == nil {
		set.Positions = make(map[string]domain.MintMetadata)
	}
	meta := domain.MintMetadata{Collateral: pos.Collateral, Debt: pos.Debt}
	set.Positions[pos.ID.String()] = meta
	set.MintMetadata = meta
	set.UpdatedAt = time.Now().UTC()

	if err := store.Set(ctx, domain.PrivateStateKey, set); err != nil {
		return domain.PositionSet{}, err
	}
	return set, nil
}

// Positions returns the ids recorded in the private state.
func Positions(ctx context.Context, store domain.PrivateStateStore) ([]uuid.UUID, error) {
	set, err := store.Get(ctx, domain.PrivateStateKey)
	if err != nil || set == nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(set.Positions))
	for k := range set.Positions {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
