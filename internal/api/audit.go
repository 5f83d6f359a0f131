package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/pcd-core/internal/audit"
	"github.com/nerrad567/pcd-core/internal/driver"
)

// handleListAudit returns journalled lifecycle events, newest first.
//
// Query parameters:
//   - type: attached, detached, attach_failed or resized
//   - number: device number
//   - name: device node name
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device journal not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Type: driver.EventType(q.Get("type")),
		Name: q.Get("name"),
	}

	if v := q.Get("number"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "number must be an integer")
			return
		}
		filter.Number = &n
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list device journal", "error", err)
		writeInternalError(w, "failed to list device journal")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
