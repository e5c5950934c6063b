package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// LiquidationStore implements domain.LiquidationStore.
type LiquidationStore struct {
	pool *pgxpool.Pool
}

// NewLiquidationStore creates a LiquidationStore.
func NewLiquidationStore(pool *pgxpool.Pool) *LiquidationStore {
	return &LiquidationStore{pool: pool}
}

const liquidationCols = `id, position_id, debt, collateral_amount, outcome, reason,
	tx_hash, block_height, source, created_at`

// Record inserts one attempt. Re-recording the same id is a no-op.
func (s *LiquidationStore) Record(ctx context.Context, a domain.LiquidationAttempt) error {
	const query = `
		INSERT INTO liquidation_attempts (` + liquidationCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.PositionID, a.Debt, a.CollateralAmount,
		string(a.Outcome), a.Reason, a.TxHash, a.BlockHeight,
		a.Source, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record liquidation %s: %w", a.ID, err)
	}
	return nil
}

// ListRecent returns attempts newest first.
func (s *LiquidationStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.LiquidationAttempt, error) {
	query, args := listQuery(`SELECT `+liquidationCols+` FROM liquidation_attempts WHERE TRUE`, "created_at", nil, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations: %w", err)
	}
	return scanAttempts(rows)
}

// ListByPosition returns every attempt against positionID, newest first.
func (s *LiquidationStore) ListByPosition(ctx context.Context, positionID string) ([]domain.LiquidationAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+liquidationCols+` FROM liquidation_attempts WHERE position_id = $1 ORDER BY created_at DESC`,
		positionID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations for %s: %w", positionID, err)
	}
	return scanAttempts(rows)
}

func scanAttempts(rows pgx.Rows) ([]domain.LiquidationAttempt, error) {
	defer rows.Close()

	var out []domain.LiquidationAttempt
	for rows.Next() {
		var a domain.LiquidationAttempt
		var outcome string
		if err := rows.Scan(
			&a.ID, &a.PositionID, &a.Debt, &a.CollateralAmount,
			&outcome, &a.Reason, &a.TxHash, &a.BlockHeight,
			&a.Source, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan liquidation: %w", err)
		}
		a.Outcome = domain.LiquidationOutcome(outcome)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: liquidation rows: %w", err)
	}
	return out, nil
}

var _ domain.LiquidationStore = (*LiquidationStore)(nil)
