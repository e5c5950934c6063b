package handler

import (
	"context"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/contract"
)

// ContractState reports the contract service lifecycle.
type ContractState interface {
	State() contract.State
	Address() string
}

// Checker probes one backing service.
type Checker func(ctx context.Context) error

const checkTimeout = 2 * time.Second

type namedCheck struct {
	name string
	fn   Checker
}

// HealthHandler serves liveness and the API banner.
type HealthHandler struct {
	contract ContractState
	checks   []namedCheck
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(c ContractState) *HealthHandler {
	return &HealthHandler{contract: c}
}

// AddCheck registers a dependency probe reported by HealthCheck. Call it
// before serving.
func (h *HealthHandler) AddCheck(name string, fn Checker) {
	h.checks = append(h.checks, namedCheck{name: name, fn: fn})
	sort.Slice(h.checks, func(i, j int) bool { return h.checks[i].name < h.checks[j].name })
}

// Welcome answers GET /api/v1.
func (h *HealthHandler) Welcome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "Welcome to statera v1 API")
}

// HealthCheck reports "ok" when the contract service is ready and every
// registered dependency answers, and "degraded" otherwise. The process is
// alive either way.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, state := "ok", "unknown"
	if h.contract != nil {
		s := h.contract.State()
		state = s.String()
		if s != contract.StateReady {
			status = "degraded"
		}
	}
	body := map[string]any{
		"status":    status,
		"contract":  state,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if len(h.checks) > 0 {
		deps := make(map[string]string, len(h.checks))
		for _, c := range h.checks {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.fn(ctx)
			cancel()
			if err != nil {
				deps[c.name] = err.Error()
				body["status"] = "degraded"
				continue
			}
			deps[c.name] = "ok"
		}
		body["dependencies"] = deps
	}
	writeJSON(w, http.StatusOK, body)
}
