package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

// AuditHandler exposes the moderation and archive audit trail to admins.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

type auditJSON struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// List returns audit entries, newest first.
// GET /api/admin/audit?limit=&offset=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeFailure(w, r, h.logger, err)
		return
	}
	out := make([]auditJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditJSON(e))
	}
	writeData(w, http.StatusOK, map[string]any{"entries": out})
}
