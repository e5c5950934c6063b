package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/statera-protocol/statera-protocol-midnight/internal/contract"
	"github.com/statera-protocol/statera-protocol-midnight/internal/monitor"
)

// MonitorControl manages position monitors. *monitor.Supervisor implements
// it.
type MonitorControl interface {
	Watch(ctx context.Context, id uuid.UUID) (monitor.Status, error)
	Unwatch(id uuid.UUID) error
	List() []monitor.Status
	Active() int
}

// MonitorHandler serves the monitor endpoints.
type MonitorHandler struct {
	monitors MonitorControl
	// base outlives the request so monitors keep running after it returns.
	base   context.Context
	logger *slog.Logger
}

// NewMonitorHandler creates a MonitorHandler whose monitors run under base.
func NewMonitorHandler(base context.Context, monitors MonitorControl, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{monitors: monitors, base: base, logger: logger.With(slog.String("handler", "monitor"))}
}

type watchRequest struct {
	ID string `json:"id"`
}

// Watch starts monitoring a position.
// POST /api/v1/monitors {"id": "..."}
func (h *MonitorHandler) Watch(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := contract.ParseID(req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.monitors.Watch(h.base, id.UUID())
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}

// Unwatch stops monitoring a position.
// DELETE /api/v1/monitors/{id}
func (h *MonitorHandler) Unwatch(w http.ResponseWriter, r *http.Request) {
	id, err := contract.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.monitors.Unwatch(id.UUID()); err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List returns every monitor.
// GET /api/v1/monitors
func (h *MonitorHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.monitors.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"monitors": list,
		"active":   h.monitors.Active(),
	})
}
