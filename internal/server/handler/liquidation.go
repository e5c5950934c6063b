package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/executor"
)

// Liquidator submits a liquidation payload. *executor.Executor implements it.
type Liquidator interface {
	Execute(ctx context.Context, payload domain.LiquidationPayload, source string) (domain.LiquidationResult, error)
}

// LiquidationHandler serves the liquidation endpoints.
type LiquidationHandler struct {
	liq      Liquidator
	attempts domain.LiquidationStore
	logger   *slog.Logger
}

// NewLiquidationHandler creates a LiquidationHandler. attempts may be nil,
// in which case the history endpoint answers 503.
func NewLiquidationHandler(liq Liquidator, attempts domain.LiquidationStore, logger *slog.Logger) *LiquidationHandler {
	return &LiquidationHandler{liq: liq, attempts: attempts, logger: logger.With(slog.String("handler", "liquidation"))}
}

type messageResponse struct {
	Message string                     `json:"message"`
	Data    *domain.LiquidationPayload `json:"data,omitempty"`
}

// Liquidate submits the payload once and reports the ledger verdict.
//
//	200 {"message":"Liquidation succeeded","data":payload}
//	400 {"message":"Liquidation failed"} or a validation message
//	503 {"error":...} while the contract service is not ready
//	500 {"error":...} otherwise
//
// POST /api/v1/liquidate
func (h *LiquidationHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	var payload domain.LiquidationPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}

	res, err := h.liq.Execute(r.Context(), payload, executor.SourceAPI)
	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "liquidation error",
			slog.String("position_id", payload.PositionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !res.Succeeded() {
		writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Liquidation failed"})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Liquidation succeeded", Data: &payload})
}

type attemptView struct {
	ID               string `json:"id"`
	PositionID       string `json:"position_id"`
	Debt             int64  `json:"debt"`
	CollateralAmount int64  `json:"collateral_amount"`
	Outcome          string `json:"outcome"`
	Reason           string `json:"reason,omitempty"`
	TxHash           string `json:"tx_hash,omitempty"`
	BlockHeight      int64  `json:"block_height,omitempty"`
	Source           string `json:"source"`
	CreatedAt        string `json:"created_at"`
}

// List returns recent attempts, optionally for one position.
// GET /api/v1/liquidations?position_id=&limit=&offset=
func (h *LiquidationHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		writeError(w, http.StatusServiceUnavailable, "liquidation history is not configured")
		return
	}

	var (
		rows []domain.LiquidationAttempt
		err  error
	)
	if pid := r.URL.Query().Get("position_id"); pid != "" {
		rows, err = h.attempts.ListByPosition(r.Context(), pid)
	} else {
		rows, err = h.attempts.ListRecent(r.Context(), parseListOpts(r))
	}
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}

	out := make([]attemptView, 0, len(rows))
	for _, a := range rows {
		out = append(out, attemptView{
			ID:               a.ID.String(),
			PositionID:       a.PositionID,
			Debt:             a.Debt,
			CollateralAmount: a.CollateralAmount,
			Outcome:          string(a.Outcome),
			Reason:           a.Reason,
			TxHash:           a.TxHash,
			BlockHeight:      a.BlockHeight,
			Source:           a.Source,
			CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"liquidations": out, "count": len(out)})
}
