package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PriceCache provides fast access to the latest accepted oracle samples.
type PriceCache interface {
	SetPrice(ctx context.Context, sample OraclePrice) error
	GetPrice(ctx context.Context, asset string) (OraclePrice, error)
}

// PositionCache is the read-through layer in front of the ledger.
type PositionCache interface {
	GetPosition(ctx context.Context, id uuid.UUID) (Position, error)
	SetPosition(ctx context.Context, pos Position, ttl time.Duration) error
	GetParameters(ctx context.Context) (ProtocolParameters, error)
	SetParameters(ctx context.Context, params ProtocolParameters, ttl time.Duration) error
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub and durable streams.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelOraclePrice   = "oracle:price"
	ChannelMonitorEvents = "monitor:events"
	ChannelLiquidations  = "monitor:liquidations"
	StreamLiquidations   = "stream:liquidations"
)
