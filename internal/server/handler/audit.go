package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/marketmirror/internal/domain"
)

// AuditHandler serves the submission audit log.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. audit may be nil.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// ListEntries returns audit entries newest first.
// GET /api/audit?limit=50&offset=0&since=2026-01-01T00:00:00Z
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log is not enabled")
		return
	}
	opts := parseListOpts(r)
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeFailure(w, r, h.logger, "failed to list audit entries", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}
