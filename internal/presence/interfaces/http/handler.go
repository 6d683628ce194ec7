package http

import (
	"encoding/json"
	"errors"
	"net/http"

	presence "aquasense-cloud/internal/presence/domain"
)

// ListHandler serves the device presence table for dashboards.
type ListHandler struct {
	devices presence.Repository
}

// NewListHandler constructs a list handler.
func NewListHandler(devices presence.Repository) (*ListHandler, error) {
	if devices == nil {
		return nil, errors.New("presence handler: nil repository")
	}
	return &ListHandler{devices: devices}, nil
}

// ServeHTTP handles GET /api/v1/devices.
func (h *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	devices, err := h.devices.List(r.Context())
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(devices)
}
