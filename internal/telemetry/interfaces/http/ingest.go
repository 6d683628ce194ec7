package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"aquasense-cloud/internal/observability/metrics"
	"aquasense-cloud/internal/telemetry/application"
	telemetry "aquasense-cloud/internal/telemetry/domain"
)

// IngestHandler accepts one reading per request, normalizes it and enqueues
// it for the next flush. The handler never waits on the store.
type IngestHandler struct {
	normalizer *application.Normalizer
	buffer     *application.Buffer
	logger     *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(normalizer *application.Normalizer, buffer *application.Buffer, logger *log.Logger) (*IngestHandler, error) {
	if normalizer == nil || buffer == nil {
		return nil, errors.New("ingest handler: nil dependency")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{normalizer: normalizer, buffer: buffer, logger: logger}, nil
}

// ServeHTTP ingests one telemetry reading.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.IngestResultSuccess
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.IngestResultError
		metrics.IncIngestError("method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Printf("telemetry ingest: decode error: %v", err)
		result = metrics.IngestResultError
		metrics.IncIngestError("invalid_json")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	record, err := h.normalizer.Normalize(payload)
	if err != nil {
		if !errors.Is(err, telemetry.ErrInvalidPayload) {
			h.logger.Printf("telemetry ingest: normalize error: %v", err)
		}
		result = metrics.IngestResultError
		metrics.IncIngestError("invalid_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	h.buffer.Enqueue(record)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"queued": true, "uid": record.DeviceUID})
}
