package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// PositionSnapshotStore implements domain.PositionSnapshotStore. Ledger
// amounts are uint64 and live in NUMERIC columns, passed as text.
type PositionSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewPositionSnapshotStore creates a PositionSnapshotStore.
func NewPositionSnapshotStore(pool *pgxpool.Pool) *PositionSnapshotStore {
	return &PositionSnapshotStore{pool: pool}
}

const snapshotCols = `id, owner, coin_type, metadata_hash,
	collateral::text, debt::text, borrow_limit::text, status, updated_at`

// Upsert stores the latest observed view of pos.
func (s *PositionSnapshotStore) Upsert(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO position_snapshots (
			id, owner, coin_type, metadata_hash,
			collateral, debt, borrow_limit, status, updated_at, observed_at
		) VALUES (
			$1, $2, $3, $4,
			$5::text::numeric, $6::text::numeric, $7::text::numeric, $8, $9, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			owner         = EXCLUDED.owner,
			coin_type     = EXCLUDED.coin_type,
			metadata_hash = EXCLUDED.metadata_hash,
			collateral    = EXCLUDED.collateral,
			debt          = EXCLUDED.debt,
			borrow_limit  = EXCLUDED.borrow_limit,
			status        = EXCLUDED.status,
			updated_at    = EXCLUDED.updated_at,
			observed_at   = NOW()`

	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.Owner, pos.CoinType, pos.MetadataHash,
		numeric(pos.Collateral), numeric(pos.Debt), numeric(pos.BorrowLimit),
		pos.Status.String(), pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position snapshot %s: %w", pos.ID, err)
	}
	return nil
}

// GetByID returns the snapshot for id or domain.ErrNotFound.
func (s *PositionSnapshotStore) GetByID(ctx context.Context, id uuid.UUID) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+snapshotCols+` FROM position_snapshots WHERE id = $1`, id)
	pos, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position snapshot %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position snapshot %s: %w", id, err)
	}
	return pos, nil
}

// ListActive returns active snapshots, most recently updated first.
func (s *PositionSnapshotStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := listQuery(
		`SELECT `+snapshotCols+` FROM position_snapshots WHERE status = $1`,
		"updated_at", []any{domain.PositionActive.String()}, opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		pos, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position snapshot: %w", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: position snapshot rows: %w", err)
	}
	return out, nil
}

func scanSnapshot(row pgx.Row) (domain.Position, error) {
	var pos domain.Position
	var collateral, debt, limit, status string
	if err := row.Scan(
		&pos.ID, &pos.Owner, &pos.CoinType, &pos.MetadataHash,
		&collateral, &debt, &limit, &status, &pos.UpdatedAt,
	); err != nil {
		return domain.Position{}, err
	}

	var err error
	if pos.Collateral, err = parseAmount(collateral); err != nil {
		return domain.Position{}, err
	}
	if pos.Debt, err = parseAmount(debt); err != nil {
		return domain.Position{}, err
	}
	if pos.BorrowLimit, err = parseAmount(limit); err != nil {
		return domain.Position{}, err
	}
	st, ok := domain.ParsePositionStatus(status)
	if !ok {
		return domain.Position{}, fmt.Errorf("unknown position status %q", status)
	}
	pos.Status = st
	return pos, nil
}

func numeric(v uint64) string {
	return decimal.NewFromUint64(v).String()
}

func parseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	if d.IsNegative() || !d.IsInteger() {
		return 0, fmt.Errorf("amount %q is not a ledger amount", s)
	}
	b := d.BigInt()
	if !b.IsUint64() {
		return 0, fmt.Errorf("amount %q overflows uint64", s)
	}
	return b.Uint64(), nil
}

var _ domain.PositionSnapshotStore = (*PositionSnapshotStore)(nil)
