package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// StatusSucceedEntirely is the only contract call status treated as success.
const StatusSucceedEntirely = "SucceedEntirely"

// LiquidationPayload is the snapshot submitted for liquidation. Amounts are
// signed so malformed input stays representable until validation rejects it.
type LiquidationPayload struct {
	PositionID       string `json:"id"`
	Debt             int64  `json:"debt"`
	CollateralAmount int64  `json:"collateral_amount"`
}

// SnapshotPayload freezes a position into a payload. Amounts above
// math.MaxInt64 cannot be carried and fail with ErrInvalidPayload.
func SnapshotPayload(p Position) (LiquidationPayload, error) {
	if p.Debt > math.MaxInt64 || p.Collateral > math.MaxInt64 {
		return LiquidationPayload{}, fmt.Errorf("position %s: debt %d or collateral %d exceeds %d: %w",
			p.ID, p.Debt, p.Collateral, int64(math.MaxInt64), ErrInvalidPayload)
	}
	return LiquidationPayload{
		PositionID:       p.ID.String(),
		Debt:             int64(p.Debt),
		CollateralAmount: int64(p.Collateral),
	}, nil
}

// LiquidationOutcome is the executor's verdict.
type LiquidationOutcome string

const (
	LiquidationSucceeded LiquidationOutcome = "succeeded"
	LiquidationFailed    LiquidationOutcome = "failed"
)

// LiquidationResult reports a single liquidation call.
type LiquidationResult struct {
	Outcome     LiquidationOutcome `json:"outcome"`
	Reason      string             `json:"reason,omitempty"`
	TxHash      string             `json:"tx_hash,omitempty"`
	BlockHash   string             `json:"block_hash,omitempty"`
	BlockHeight int64              `json:"block_height,omitempty"`
}

// Succeeded is a convenience for Outcome == LiquidationSucceeded.
func (r LiquidationResult) Succeeded() bool {
	return r.Outcome == LiquidationSucceeded
}

// LiquidationAttempt is the persisted record of one executor call.
type LiquidationAttempt struct {
	ID               uuid.UUID
	PositionID       string
	Debt             int64
	CollateralAmount int64
	Outcome          LiquidationOutcome
	Reason           string
	TxHash           string
	BlockHeight      int64
	Source           string // "api" or "monitor"
	CreatedAt        time.Time
}
