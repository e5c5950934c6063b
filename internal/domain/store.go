package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionSnapshotStore persists the last observed view of monitored positions.
type PositionSnapshotStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id uuid.UUID) (Position, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Position, error)
}

// LiquidationStore persists every liquidation attempt.
type LiquidationStore interface {
	Record(ctx context.Context, a LiquidationAttempt) error
	ListRecent(ctx context.Context, opts ListOpts) ([]LiquidationAttempt, error)
	ListByPosition(ctx context.Context, positionID string) ([]LiquidationAttempt, error)
}

// TxBroadcastStore persists broadcast transaction records.
type TxBroadcastStore interface {
	Insert(ctx context.Context, tx TxBroadcast) error
	ListByUser(ctx context.Context, user string, opts ListOpts) ([]TxBroadcast, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// PrivateStateStore is the get/set boundary to the wallet's private state.
// Get returns nil, nil when nothing is stored under key.
type PrivateStateStore interface {
	Get(ctx context.Context, key string) (*PositionSet, error)
	Set(ctx context.Context, key string, set PositionSet) error
}
