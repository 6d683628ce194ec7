package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	telemetry "aquasense-cloud/internal/telemetry/domain"
)

// QueryHandler serves range queries over persisted telemetry.
type QueryHandler struct {
	query telemetry.RecordQuery
}

// NewQueryHandler constructs a query handler.
func NewQueryHandler(query telemetry.RecordQuery) (*QueryHandler, error) {
	if query == nil {
		return nil, errors.New("query handler: nil query")
	}
	return &QueryHandler{query: query}, nil
}

// ServeHTTP handles GET /api/v1/telemetry?uid=&start=&end=&limit=.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	params := r.URL.Query()
	uid := params.Get("uid")

	var start, end time.Time
	var err error
	if raw := params.Get("start"); raw != "" {
		if start, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "invalid start", http.StatusBadRequest)
			return
		}
	}
	if raw := params.Get("end"); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "invalid end", http.StatusBadRequest)
			return
		}
	}

	limit := 0
	if raw := params.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	records, err := h.query.QueryRange(r.Context(), uid, start, end, limit)
	if err != nil {
		http.Error(w, "query error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}
