package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// PositionCache implements domain.PositionCache with JSON values and TTLs.
type PositionCache struct {
	c   *Client
	rdb *redis.Client
}

// NewPositionCache creates a PositionCache backed by c.
func NewPositionCache(c *Client) *PositionCache {
	return &PositionCache{c: c, rdb: c.Underlying()}
}

type cachedPosition struct {
	ID           uuid.UUID `json:"id"`
	Owner        string    `json:"owner,omitempty"`
	CoinType     string    `json:"coin_type,omitempty"`
	MetadataHash string    `json:"metadata_hash,omitempty"`
	Collateral   uint64    `json:"collateral"`
	Debt         uint64    `json:"debt"`
	BorrowLimit  uint64    `json:"borrow_limit"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type cachedParams struct {
	LiquidationThreshold   uint64 `json:"liquidation_threshold"`
	LoanToValue            uint64 `json:"lvt"`
	MinimumCollateralRatio uint64 `json:"mcr"`
}

// GetPosition returns the cached position or domain.ErrNotFound.
func (pc *PositionCache) GetPosition(ctx context.Context, id uuid.UUID) (domain.Position, error) {
	var cp cachedPosition
	if err := pc.get(ctx, pc.c.key("position", id.String()), &cp); err != nil {
		return domain.Position{}, err
	}
	status, ok := domain.ParsePositionStatus(cp.Status)
	if !ok {
		return domain.Position{}, fmt.Errorf("redis: position %s: bad status %q", id, cp.Status)
	}
	return domain.Position{
		ID:           cp.ID,
		Owner:        cp.Owner,
		CoinType:     cp.CoinType,
		MetadataHash: cp.MetadataHash,
		Collateral:   cp.Collateral,
		Debt:         cp.Debt,
		BorrowLimit:  cp.BorrowLimit,
		Status:       status,
		UpdatedAt:    cp.UpdatedAt,
	}, nil
}

// SetPosition caches pos for ttl.
func (pc *PositionCache) SetPosition(ctx context.Context, pos domain.Position, ttl time.Duration) error {
	return pc.set(ctx, pc.c.key("position", pos.ID.String()), cachedPosition{
		ID:           pos.ID,
		Owner:        pos.Owner,
		CoinType:     pos.CoinType,
		MetadataHash: pos.MetadataHash,
		Collateral:   pos.Collateral,
		Debt:         pos.Debt,
		BorrowLimit:  pos.BorrowLimit,
		Status:       pos.Status.String(),
		UpdatedAt:    pos.UpdatedAt,
	}, ttl)
}

// GetParameters returns the cached protocol parameters or domain.ErrNotFound.
func (pc *PositionCache) GetParameters(ctx context.Context) (domain.ProtocolParameters, error) {
	var cp cachedParams
	if err := pc.get(ctx, pc.c.key("protocol", "parameters"), &cp); err != nil {
		return domain.ProtocolParameters{}, err
	}
	return domain.ProtocolParameters(cp), nil
}

// SetParameters caches params for ttl.
func (pc *PositionCache) SetParameters(ctx context.Context, params domain.ProtocolParameters, ttl time.Duration) error {
	return pc.set(ctx, pc.c.key("protocol", "parameters"), cachedParams(params), ttl)
}

// Invalidate drops the cached position.
func (pc *PositionCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := pc.rdb.Del(ctx, pc.c.key("position", id.String())).Err(); err != nil {
		return fmt.Errorf("redis: invalidate position %s: %w", id, err)
	}
	return nil
}

func (pc *PositionCache) get(ctx context.Context, key string, v any) error {
	raw, err := pc.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return nil
}

func (pc *PositionCache) set(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", key, err)
	}
	if err := pc.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

var _ domain.PositionCache = (*PositionCache)(nil)
