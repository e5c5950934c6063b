package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// TxBroadcastStore implements domain.TxBroadcastStore.
type TxBroadcastStore struct {
	pool *pgxpool.Pool
}

// NewTxBroadcastStore creates a TxBroadcastStore.
func NewTxBroadcastStore(pool *pgxpool.Pool) *TxBroadcastStore {
	return &TxBroadcastStore{pool: pool}
}

// Insert records a broadcast. A zero CreatedAt takes the database clock.
func (s *TxBroadcastStore) Insert(ctx context.Context, tx domain.TxBroadcast) error {
	const query = `
		INSERT INTO tx_broadcasts ("user", onchain_event, amount, coin_type, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`

	var createdAt any
	if !tx.CreatedAt.IsZero() {
		createdAt = tx.CreatedAt
	}
	if _, err := s.pool.Exec(ctx, query,
		tx.User, string(tx.OnchainEvent), tx.Amount, tx.CoinType, tx.TxHash, createdAt,
	); err != nil {
		return fmt.Errorf("postgres: insert tx broadcast %s: %w", tx.OnchainEvent, err)
	}
	return nil
}

// ListByUser returns broadcasts for user, newest first.
func (s *TxBroadcastStore) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.TxBroadcast, error) {
	query, args := listQuery(
		`SELECT id, "user", onchain_event, amount, coin_type, tx_hash, created_at FROM tx_broadcasts WHERE "user" = $1`,
		"created_at", []any{user}, opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tx broadcasts for %s: %w", user, err)
	}
	defer rows.Close()

	var out []domain.TxBroadcast
	for rows.Next() {
		var tx domain.TxBroadcast
		var event string
		if err := rows.Scan(&tx.ID, &tx.User, &event, &tx.Amount, &tx.CoinType, &tx.TxHash, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan tx broadcast: %w", err)
		}
		tx.OnchainEvent = domain.OnchainEvent(event)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: tx broadcast rows: %w", err)
	}
	return out, nil
}

var _ domain.TxBroadcastStore = (*TxBroadcastStore)(nil)
