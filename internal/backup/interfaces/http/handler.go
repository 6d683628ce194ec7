package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"aquasense-cloud/internal/audit"
	"aquasense-cloud/internal/auth"
	backupapp "aquasense-cloud/internal/backup/application"
	backup "aquasense-cloud/internal/backup/domain"
)

const basePath = "/api/v1/backups"

// Handler provides the backup control surface: start, status feed and
// download.
type Handler struct {
	manager        *backupapp.Manager
	statusInterval time.Duration
	audit          audit.Logger
	logger         *log.Logger
}

// NewHandler constructs a handler.
func NewHandler(manager *backupapp.Manager, statusInterval time.Duration, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if manager == nil {
		return nil, errors.New("backup handler: nil manager")
	}
	if statusInterval <= 0 {
		statusInterval = time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{manager: manager, statusInterval: statusInterval, audit: auditLogger, logger: logger}, nil
}

// ServeHTTP routes backup endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == basePath && r.Method == http.MethodPost:
		h.handleStart(w, r)
	case strings.HasPrefix(r.URL.Path, basePath+"/"):
		h.handleJob(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceUID string `json:"device_uid"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	jobID, err := h.manager.Start(req.DeviceUID)
	if err != nil {
		h.logger.Printf("backup start error: %v", err)
		http.Error(w, "backup start error", http.StatusInternalServerError)
		return
	}

	if h.audit != nil {
		meta, _ := json.Marshal(map[string]any{"device_uid": req.DeviceUID})
		_ = h.audit.Log(r.Context(), audit.Entry{
			Actor:        auth.SubjectFromContext(r.Context()),
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       "backup.start",
			ResourceType: "backup_job",
			ResourceID:   jobID,
			Metadata:     meta,
			IP:           audit.ClientIP(r),
			UserAgent:    r.UserAgent(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"job_id": jobID})
}

func (h *Handler) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, basePath+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	jobID, action := parts[0], parts[1]

	switch {
	case action == "status" && r.Method == http.MethodGet:
		h.handleStatus(w, r, jobID)
	case action == "download" && r.Method == http.MethodGet:
		h.handleDownload(w, r, jobID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleStatus streams the job status roughly once per second until the job
// reaches a terminal state, then closes. A dropped connection stops this
// feed only; the pipeline keeps running.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, err := h.manager.Status(jobID); err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if !h.emitStatus(w, flusher, jobID) {
		return
	}

	ticker := time.NewTicker(h.statusInterval)
	defer ticker.Stop()
	notify := r.Context().Done()

	for {
		select {
		case <-notify:
			return
		case <-ticker.C:
			if !h.emitStatus(w, flusher, jobID) {
				return
			}
		}
	}
}

// emitStatus writes one status frame; it returns false once the feed should
// close (terminal job, reaped job or write failure).
func (h *Handler) emitStatus(w http.ResponseWriter, flusher http.Flusher, jobID string) bool {
	job, err := h.manager.Status(jobID)
	if err != nil {
		return false
	}
	frame := map[string]any{
		"status":   job.Status,
		"progress": job.Progress,
	}
	if job.Error != "" {
		frame["error"] = job.Error
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return false
	}
	if _, err := w.Write(payload); err != nil {
		return false
	}
	if _, err := w.Write([]byte("\n\n")); err != nil {
		return false
	}
	flusher.Flush()
	return !job.Status.Terminal()
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, jobID string) {
	archivePath, err := h.manager.Download(jobID)
	switch {
	case errors.Is(err, backup.ErrJobNotFound):
		http.Error(w, "job not found", http.StatusNotFound)
		return
	case errors.Is(err, backup.ErrJobNotReady):
		http.Error(w, "job not ready", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "download error", http.StatusInternalServerError)
		return
	}

	if h.audit != nil {
		_ = h.audit.Log(r.Context(), audit.Entry{
			Actor:        auth.SubjectFromContext(r.Context()),
			Role:         string(auth.RoleFromContext(r.Context())),
			Action:       "backup.download",
			ResourceType: "backup_job",
			ResourceID:   jobID,
			IP:           audit.ClientIP(r),
			UserAgent:    r.UserAgent(),
		})
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename="+jobID+".zip")
	http.ServeFile(w, r, archivePath)
}
