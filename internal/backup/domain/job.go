package backup

import (
	"errors"
	"time"
)

// Status is the lifecycle phase of a backup job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExporting Status = "exporting"
	StatusZipping   Status = "zipping"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

var (
	// ErrJobNotFound signals an unknown or already reaped job id.
	ErrJobNotFound = errors.New("backup: job not found")
	// ErrJobNotReady signals a download before the job reached done.
	ErrJobNotReady = errors.New("backup: job not ready")
)

// Job is one export-and-compress task. The record is the only externally
// visible handle on the pipeline; there is no cancellation.
type Job struct {
	ID          string     `json:"job_id"`
	DeviceUID   string     `json:"device_uid,omitempty"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	WorkDir     string     `json:"-"`
	ArchivePath string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
