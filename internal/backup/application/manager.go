package application

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"

	backup "aquasense-cloud/internal/backup/domain"
	"aquasense-cloud/internal/observability/metrics"
	telemetry "aquasense-cloud/internal/telemetry/domain"
)

const (
	recordsFileName = "records.json"
	archiveFileName = "records.zip"

	// Export accounts for the first 90 progress points; zipping the rest.
	exportProgressShare = 90
)

// RecordSource supplies the records a backup job exports. An empty uid
// matches all devices.
type RecordSource interface {
	CountByUID(ctx context.Context, uid string) (int64, error)
	StreamByUID(ctx context.Context, uid string, fn func(telemetry.Record) error) error
}

// Manager owns the backup job registry and runs one detached pipeline per
// job. Pipelines ignore cancellation: a job runs to completion or error
// whether or not anyone is watching its status feed.
type Manager struct {
	store  *Store
	source RecordSource
	cfg    Config
	logger *log.Logger
}

// NewManager constructs a manager and ensures the storage root exists.
func NewManager(store *Store, source RecordSource, cfg Config, logger *log.Logger) (*Manager, error) {
	if store == nil || source == nil {
		return nil, errors.New("backup manager: nil dependency")
	}
	if cfg.StorageRoot == "" {
		return nil, errors.New("backup manager: storage root required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(cfg.StorageRoot, 0o755); err != nil {
		return nil, err
	}
	return &Manager{store: store, source: source, cfg: cfg, logger: logger}, nil
}

// Start registers a pending job and launches its pipeline in the
// background. It returns the job id immediately.
func (m *Manager) Start(deviceUID string) (string, error) {
	if m == nil {
		return "", errors.New("backup manager: nil")
	}

	jobID := uuid.NewString()
	workDir := filepath.Join(m.cfg.StorageRoot, jobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", err
	}

	m.store.Create(&backup.Job{
		ID:        jobID,
		DeviceUID: deviceUID,
		Status:    backup.StatusPending,
		WorkDir:   workDir,
		CreatedAt: time.Now().UTC(),
	})
	m.logger.Printf("backup job start: id=%s uid=%q", jobID, deviceUID)

	go m.run(jobID, deviceUID, workDir)
	return jobID, nil
}

// Status returns the current job state.
func (m *Manager) Status(jobID string) (backup.Job, error) {
	return m.store.Get(jobID)
}

// Download returns the archive path once the job is done.
func (m *Manager) Download(jobID string) (string, error) {
	job, err := m.store.Get(jobID)
	if err != nil {
		return "", err
	}
	if job.Status != backup.StatusDone {
		return "", backup.ErrJobNotReady
	}
	return job.ArchivePath, nil
}

// RunReaper garbage-collects terminal jobs past the retention window,
// removing their work directories, until ctx is done.
func (m *Manager) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			m.ReapTick(tick.UTC())
		}
	}
}

// ReapTick performs one reap pass.
func (m *Manager) ReapTick(now time.Time) {
	removed := m.store.Reap(now, m.cfg.Retention)
	for _, job := range removed {
		if job.WorkDir != "" {
			if err := os.RemoveAll(job.WorkDir); err != nil {
				m.logger.Printf("backup reap: remove %s error: %v", job.WorkDir, err)
			}
		}
		m.logger.Printf("backup job reaped: id=%s status=%s", job.ID, job.Status)
	}
	metrics.AddBackupJobsReaped(len(removed))
}

// run is the detached pipeline. It uses a background context on purpose:
// there is no user-facing cancellation.
func (m *Manager) run(jobID, deviceUID, workDir string) {
	ctx := context.Background()
	started := time.Now()

	archivePath, err := m.pipeline(ctx, jobID, deviceUID, workDir)
	if err != nil {
		// Partial files stay on disk until the reaper runs so operators can
		// inspect the failure.
		m.store.Fail(jobID, err.Error(), time.Now())
		metrics.IncBackupJob(string(backup.StatusError))
		m.logger.Printf("backup job failed: id=%s err=%v", jobID, err)
		return
	}

	m.store.Complete(jobID, archivePath, time.Now())
	metrics.IncBackupJob(string(backup.StatusDone))
	metrics.ObserveBackupDuration(time.Since(started))
	m.logger.Printf("backup job done: id=%s archive=%s", jobID, archivePath)
}

func (m *Manager) pipeline(ctx context.Context, jobID, deviceUID, workDir string) (string, error) {
	m.store.SetPhase(jobID, backup.StatusExporting)

	total, err := m.source.CountByUID(ctx, deviceUID)
	if err != nil {
		return "", err
	}

	recordsPath := filepath.Join(workDir, recordsFileName)
	if err := m.exportRecords(ctx, jobID, deviceUID, recordsPath, total); err != nil {
		return "", err
	}

	m.store.SetPhase(jobID, backup.StatusZipping)
	m.store.SetProgress(jobID, exportProgressShare)

	archivePath := filepath.Join(workDir, archiveFileName)
	if err := writeArchive(recordsPath, archivePath); err != nil {
		return "", err
	}
	return archivePath, nil
}

// exportRecords streams matching records into one incrementally written
// JSON array, keeping memory flat regardless of record count.
func (m *Manager) exportRecords(ctx context.Context, jobID, deviceUID, path string, total int64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := writer.WriteByte('['); err != nil {
		return err
	}

	var written int64
	err = m.source.StreamByUID(ctx, deviceUID, func(record telemetry.Record) error {
		if written > 0 {
			if err := writer.WriteByte(','); err != nil {
				return err
			}
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if _, err := writer.Write(data); err != nil {
			return err
		}
		written++
		if total > 0 {
			m.store.SetProgress(jobID, int(written*exportProgressShare/total))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := writer.WriteByte(']'); err != nil {
		return err
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	return file.Sync()
}

// writeArchive compresses the serialized file at maximum compression and
// fsyncs the archive before the job may report done.
func writeArchive(recordsPath, archivePath string) error {
	source, err := os.Open(recordsPath)
	if err != nil {
		return err
	}
	defer source.Close()

	file, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer file.Close()

	zipWriter := zip.NewWriter(file)
	zipWriter.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	entry, err := zipWriter.Create(recordsFileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(entry, source); err != nil {
		return err
	}
	if err := zipWriter.Close(); err != nil {
		return err
	}
	return file.Sync()
}
