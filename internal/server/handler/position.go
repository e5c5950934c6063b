package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/statera-protocol/statera-protocol-midnight/internal/contract"
	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/health"
)

// LedgerView reads positions and protocol parameters.
type LedgerView interface {
	GetPosition(ctx context.Context, id uuid.UUID) (domain.Position, error)
	GetProtocolParameters(ctx context.Context) (domain.ProtocolParameters, error)
}

// PriceReader returns the current oracle price.
type PriceReader interface {
	Latest(ctx context.Context) (domain.OraclePrice, error)
}

// PositionHandler serves ledger reads with a health assessment.
type PositionHandler struct {
	ledger LedgerView
	prices PriceReader
	atRisk float64
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler. atRisk is the advisory
// health ratio band.
func NewPositionHandler(ledger LedgerView, prices PriceReader, atRisk float64, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{ledger: ledger, prices: prices, atRisk: atRisk, logger: logger.With(slog.String("handler", "position"))}
}

type healthView struct {
	Status           string  `json:"status"`
	Ratio            string  `json:"health_ratio"`
	AtRisk           bool    `json:"at_risk"`
	LiquidationPrice string  `json:"liquidation_price"`
	Price            float64 `json:"price"`
	RoundID          int64   `json:"round_id"`
}

type positionView struct {
	ID           string      `json:"id"`
	LedgerID     string      `json:"ledger_id"`
	Owner        string      `json:"owner,omitempty"`
	CoinType     string      `json:"coin_type,omitempty"`
	MetadataHash string      `json:"metadata_hash,omitempty"`
	Collateral   uint64      `json:"collateral"`
	Debt         uint64      `json:"debt"`
	BorrowLimit  uint64      `json:"borrow_limit"`
	Status       string      `json:"status"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Health       *healthView `json:"health,omitempty"`
}

// GetPosition returns the position and, when a price is available, its
// health at that price.
// GET /api/v1/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := contract.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	pos, err := h.ledger.GetPosition(ctx, id.UUID())
	if err != nil {
		writeDomainError(w, h.logger, r, fmt.Errorf("get position: %w", err))
		return
	}
	view := positionView{
		ID:           pos.ID.String(),
		LedgerID:     contract.EncodeID(pos.ID).Hex(),
		Owner:        pos.Owner,
		CoinType:     pos.CoinType,
		MetadataHash: pos.MetadataHash,
		Collateral:   pos.Collateral,
		Debt:         pos.Debt,
		BorrowLimit:  pos.BorrowLimit,
		Status:       pos.Status.String(),
		UpdatedAt:    pos.UpdatedAt,
	}

	params, perr := h.ledger.GetProtocolParameters(ctx)
	sample, serr := h.prices.Latest(ctx)
	if perr == nil && serr == nil {
		a := health.Assess(pos, sample.Price, params.LiquidationThreshold)
		view.Health = &healthView{
			Status:           a.Status.String(),
			Ratio:            a.Ratio.StringFixed(4),
			AtRisk:           health.AtRisk(a, h.atRisk),
			LiquidationPrice: health.LiquidationPrice(pos, params.LiquidationThreshold).StringFixed(6),
			Price:            sample.Price,
			RoundID:          sample.RoundID,
		}
	} else {
		h.logger.WarnContext(ctx, "health unavailable",
			slog.String("position_id", pos.ID.String()),
			slog.Any("params_error", perr),
			slog.Any("price_error", serr),
		)
	}
	writeJSON(w, http.StatusOK, view)
}

// GetProtocol returns the protocol parameters.
// GET /api/v1/protocol
func (h *PositionHandler) GetProtocol(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.GetProtocolParameters(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, r, fmt.Errorf("get protocol parameters: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{
		"liquidation_threshold":    p.LiquidationThreshold,
		"loan_to_value":            p.LoanToValue,
		"minimum_collateral_ratio": p.MinimumCollateralRatio,
	})
}
