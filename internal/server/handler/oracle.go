package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
	"github.com/statera-protocol/statera-protocol-midnight/internal/oracle"
)

// OracleControl is the price source as seen by the API.
// *service.OracleService implements it.
type OracleControl interface {
	PriceReader
	Sources() ([]domain.OraclePrice, error)
	History(window time.Duration) ([]oracle.HistoryPoint, error)
	Trend() domain.Trend
	Advance(ctx context.Context, c domain.MarketCondition) (domain.OraclePrice, error)
}

// OracleHandler serves the oracle endpoints.
type OracleHandler struct {
	oracle OracleControl
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(o OracleControl, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{oracle: o, logger: logger.With(slog.String("handler", "oracle"))}
}

// GetPrice returns the current sample and the trend.
// GET /api/v1/oracle/price
func (h *OracleHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	p, err := h.oracle.Latest(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sample": p, "trend": h.oracle.Trend()})
}

// GetSources returns the redundant-feed samples.
// GET /api/v1/oracle/sources
func (h *OracleHandler) GetSources(w http.ResponseWriter, r *http.Request) {
	samples, err := h.oracle.Sources()
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": samples})
}

// GetHistory returns points from the last hours (default 24).
// GET /api/v1/oracle/history?hours=
func (h *OracleHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	hours := 24.0
	if v := r.URL.Query().Get("hours"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive number")
			return
		}
		hours = f
	}
	points, err := h.oracle.History(time.Duration(hours * float64(time.Hour)))
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points, "count": len(points)})
}

type advanceRequest struct {
	Condition domain.MarketCondition `json:"condition"`
}

// Advance moves the simulated price one step.
// POST /api/v1/oracle/advance {"condition":"crash"}
func (h *OracleHandler) Advance(w http.ResponseWriter, r *http.Request) {
	req := advanceRequest{Condition: domain.ConditionNormal}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if !req.Condition.Valid() {
		writeError(w, http.StatusBadRequest, "unknown condition "+strconv.Quote(string(req.Condition)))
		return
	}
	p, err := h.oracle.Advance(r.Context(), req.Condition)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sample": p})
}
