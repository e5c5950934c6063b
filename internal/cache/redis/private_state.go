package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// PrivateStateStore implements domain.PrivateStateStore. Values never
// expire; the wallet owns their lifetime.
type PrivateStateStore struct {
	c   *Client
	rdb *redis.Client
}

// NewPrivateStateStore creates a PrivateStateStore backed by c.
func NewPrivateStateStore(c *Client) *PrivateStateStore {
	return &PrivateStateStore{c: c, rdb: c.Underlying()}
}

// Get returns the set under key, or nil when absent.
func (s *PrivateStateStore) Get(ctx context.Context, key string) (*domain.PositionSet, error) {
	raw, err := s.rdb.Get(ctx, s.c.key("private", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: private state %s: %w", key, err)
	}
	var set domain.PositionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("redis: decode private state %s: %w", key, err)
	}
	return &set, nil
}

// Set stores set under key.
func (s *PrivateStateStore) Set(ctx context.Context, key string, set domain.PositionSet) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("redis: encode private state %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, s.c.key("private", key), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: set private state %s: %w", key, err)
	}
	return nil
}

var _ domain.PrivateStateStore = (*PrivateStateStore)(nil)
