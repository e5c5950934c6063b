package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

const archivePrefix = "archive/"

// ArchiveHandler lists and triggers cold-storage archives.
type ArchiveHandler struct {
	reader   domain.BlobReader
	archiver domain.Archiver
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. Either dependency may be nil,
// in which case its endpoint answers 503.
func NewArchiveHandler(reader domain.BlobReader, archiver domain.Archiver, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, archiver: archiver, logger: logger}
}

// List returns the archived objects under ?prefix (default archive/).
// GET /api/v1/archives
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "object storage is not configured")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = archivePrefix
	}
	if !strings.HasPrefix(prefix, archivePrefix) {
		writeError(w, http.StatusBadRequest, "prefix must start with "+archivePrefix)
		return
	}

	objects, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	out := make([]map[string]any, 0, len(objects))
	for _, o := range objects {
		out = append(out, map[string]any{
			"path":          o.Path,
			"size":          o.Size,
			"last_modified": o.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": out})
}

type archiveLiquidationsRequest struct {
	SinceHours int `json:"since_hours"`
}

// ArchiveLiquidations uploads liquidation attempts newer than since_hours
// (default 24).
// POST /api/v1/archives/liquidations
func (h *ArchiveHandler) ArchiveLiquidations(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "archiving is not configured")
		return
	}
	var req archiveLiquidationsRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.SinceHours <= 0 {
		req.SinceHours = 24
	}
	since := time.Now().Add(-time.Duration(req.SinceHours) * time.Hour)

	n, err := h.archiver.ArchiveLiquidations(r.Context(), since)
	if err != nil {
		writeDomainError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archived": n,
		"since":    since.UTC().Format(time.RFC3339),
	})
}
