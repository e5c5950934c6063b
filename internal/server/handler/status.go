package handler

import (
	"net/http"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// ActiveCounter reports how many monitors are watching.
type ActiveCounter interface {
	Active() int
}

// StatusHandler serves the process summary.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	contract  ContractState
	monitors  ActiveCounter
	prices    PriceReader
}

// NewStatusHandler creates a StatusHandler. monitors and prices may be nil.
func NewStatusHandler(mode string, c ContractState, monitors ActiveCounter, prices PriceReader) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: time.Now(),
		contract:  c,
		monitors:  monitors,
		prices:    prices,
	}
}

// GetStatus responds with domain.BotStatus.
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := domain.BotStatus{
		Mode:          h.mode,
		ContractState: "unknown",
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.contract != nil {
		st.ContractState = h.contract.State().String()
		st.ContractAddr = h.contract.Address()
	}
	if h.monitors != nil {
		st.ActiveMonitors = h.monitors.Active()
	}
	if h.prices != nil {
		if p, err := h.prices.Latest(r.Context()); err == nil {
			st.OracleAsset = p.Asset
			st.OraclePrice = p.Price
			st.OracleRound = p.RoundID
		}
	}
	writeJSON(w, http.StatusOK, st)
}
