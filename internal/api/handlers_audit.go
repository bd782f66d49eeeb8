package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/assetgate/internal/storage"
	"github.com/org/assetgate/pkg/models"
)

// AuditEventsHandler handles GET /v1/audit/events
func (s *Server) AuditEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.EventFilter{
		AssetID:   q.Get("asset"),
		OpType:    q.Get("op_type"),
		Type:      q.Get("type"),
		Principal: models.AccountID(q.Get("principal")),
		Limit:     100,
	}

	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			filter.Offset = n
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err == nil {
			filter.Since = &t
		}
	}

	events, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []*models.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": events})
}
