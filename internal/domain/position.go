package domain

import (
	"time"

	"github.com/google/uuid"
)

// PositionStatus mirrors the on-chain debt position status.
type PositionStatus int

const (
	PositionInactive PositionStatus = iota
	PositionActive
	PositionClosed
)

func (s PositionStatus) String() string {
	switch s {
	case PositionInactive:
		return "inactive"
	case PositionActive:
		return "active"
	case PositionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ParsePositionStatus accepts the string form produced by String.
func ParsePositionStatus(s string) (PositionStatus, bool) {
	switch s {
	case "inactive":
		return PositionInactive, true
	case "active":
		return PositionActive, true
	case "closed":
		return PositionClosed, true
	}
	return PositionInactive, false
}

// Position is one depositor's collateral lock and the sUSD minted against it.
// Collateral and Debt are atomic units.
type Position struct {
	ID           uuid.UUID
	Owner        string
	CoinType     string
	MetadataHash string
	Collateral   uint64
	Debt         uint64
	BorrowLimit  uint64
	Status       PositionStatus
	UpdatedAt    time.Time
}

// Eligible reports whether the position can be considered for liquidation at all.
func (p Position) Eligible() bool {
	return p.Status == PositionActive && p.Collateral > 0
}

// ProtocolParameters are read from the ledger and held fixed for one evaluation.
// All values are integer percentages (120 means 120%).
type ProtocolParameters struct {
	LiquidationThreshold   uint64
	LoanToValue            uint64
	MinimumCollateralRatio uint64
}

// BorrowLimit returns the maximum debt mintable against collateral at price.
func BorrowLimit(collateral uint64, price float64, ltv uint64) uint64 {
	if collateral == 0 || price <= 0 {
		return 0
	}
	return uint64(float64(collateral) * price * float64(ltv) / 100)
}

// MintMetadata is the private per-user view of the caller's own position.
type MintMetadata struct {
	Collateral uint64 `json:"collateral"`
	Debt       uint64 `json:"debt"`
}

// PositionSet is the private state persisted under PrivateStateKey.
type PositionSet struct {
	SecretKey    string                  `json:"secret_key"`
	MintMetadata MintMetadata            `json:"mint_metadata"`
	Positions    map[string]MintMetadata `json:"positions,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// PrivateStateKey is the fixed key under which the private state lives.
const PrivateStateKey = "stateraPrivateState"
