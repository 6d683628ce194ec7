package application

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"testing"
	"time"

	backup "aquasense-cloud/internal/backup/domain"
	telemetry "aquasense-cloud/internal/telemetry/domain"
)

type stubRecordSource struct {
	records   []telemetry.Record
	countErr  error
	streamErr error
}

func (s *stubRecordSource) CountByUID(context.Context, string) (int64, error) {
	return int64(len(s.records)), s.countErr
}

func (s *stubRecordSource) StreamByUID(_ context.Context, _ string, fn func(telemetry.Record) error) error {
	if s.streamErr != nil {
		return s.streamErr
	}
	for _, record := range s.records {
		if err := fn(record); err != nil {
			return err
		}
	}
	return nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testManager(t *testing.T, source RecordSource) (*Manager, *Store) {
	t.Helper()
	store := NewStore()
	manager, err := NewManager(store, source, Config{
		StorageRoot:    t.TempDir(),
		Retention:      time.Hour,
		ReapInterval:   15 * time.Minute,
		StatusInterval: time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, store
}

func waitTerminal(t *testing.T, manager *Manager, jobID string) backup.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := manager.Status(jobID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return backup.Job{}
}

func TestManager_EmptyStoreProducesValidArchive(t *testing.T) {
	manager, _ := testManager(t, &stubRecordSource{})

	jobID, err := manager.Start("")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := waitTerminal(t, manager, jobID)

	if job.Status != backup.StatusDone {
		t.Fatalf("expected done, got %s (%s)", job.Status, job.Error)
	}
	if job.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", job.Progress)
	}

	path, err := manager.Download(jobID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	records := readArchivedRecords(t, path)
	if len(records) != 0 {
		t.Fatalf("expected empty array, got %d records", len(records))
	}
}

func TestManager_ArchiveRoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &stubRecordSource{records: []telemetry.Record{
		{DeviceUID: "buoy-1", CapturedAt: base, Payload: map[string]any{"depth": 2.5}},
		{DeviceUID: "buoy-1", CapturedAt: base.Add(time.Minute), Payload: map[string]any{"depth": 2.6}},
		{DeviceUID: "buoy-1", CapturedAt: base.Add(2 * time.Minute), Payload: map[string]any{"depth": 2.4}},
	}}
	manager, _ := testManager(t, source)

	jobID, err := manager.Start("buoy-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := waitTerminal(t, manager, jobID)
	if job.Status != backup.StatusDone {
		t.Fatalf("expected done, got %s (%s)", job.Status, job.Error)
	}

	path, err := manager.Download(jobID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	records := readArchivedRecords(t, path)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].DeviceUID != "buoy-1" || !records[1].CapturedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("record content lost: %+v", records)
	}
}

func TestManager_DownloadBeforeDone(t *testing.T) {
	store := NewStore()
	manager, err := NewManager(store, &stubRecordSource{}, Config{
		StorageRoot:    t.TempDir(),
		Retention:      time.Hour,
		ReapInterval:   15 * time.Minute,
		StatusInterval: time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	store.Create(&backup.Job{ID: "job-1", Status: backup.StatusExporting})
	if _, err := manager.Download("job-1"); !errors.Is(err, backup.ErrJobNotReady) {
		t.Fatalf("expected ErrJobNotReady, got %v", err)
	}
	if _, err := manager.Download("missing"); !errors.Is(err, backup.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestManager_SourceFailureEndsInError(t *testing.T) {
	source := &stubRecordSource{streamErr: errors.New("connection reset")}
	manager, _ := testManager(t, source)

	jobID, err := manager.Start("buoy-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := waitTerminal(t, manager, jobID)

	if job.Status != backup.StatusError {
		t.Fatalf("expected error state, got %s", job.Status)
	}
	if job.Error == "" {
		t.Fatal("expected a failure message")
	}
	if _, err := manager.Download(jobID); !errors.Is(err, backup.ErrJobNotReady) {
		t.Fatalf("failed job must not be downloadable, got %v", err)
	}
}

func TestManager_ReapRemovesWorkDir(t *testing.T) {
	manager, store := testManager(t, &stubRecordSource{})

	jobID, err := manager.Start("")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := waitTerminal(t, manager, jobID)
	if job.Status != backup.StatusDone {
		t.Fatalf("expected done, got %s", job.Status)
	}

	manager.ReapTick(time.Now().UTC().Add(2 * time.Hour))
	if _, err := store.Get(jobID); !errors.Is(err, backup.ErrJobNotFound) {
		t.Fatalf("expected reaped job gone, got %v", err)
	}
	if _, err := os.Stat(job.WorkDir); !os.IsNotExist(err) {
		t.Fatalf("expected work dir removed, got %v", err)
	}
}

func TestManager_ReapKeepsRunningJobs(t *testing.T) {
	manager, store := testManager(t, &stubRecordSource{})
	store.Create(&backup.Job{ID: "job-1", Status: backup.StatusExporting, CreatedAt: time.Now().Add(-24 * time.Hour)})

	manager.ReapTick(time.Now().UTC())
	if _, err := store.Get("job-1"); err != nil {
		t.Fatal("running job must survive the reaper")
	}
}

func readArchivedRecords(t *testing.T, archivePath string) []telemetry.Record {
	t.Helper()
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer reader.Close()

	if len(reader.File) != 1 || reader.File[0].Name != "records.json" {
		t.Fatalf("unexpected archive layout: %v", reader.File)
	}
	entry, err := reader.File[0].Open()
	if err != nil {
		t.Fatalf("open entry: %v", err)
	}
	defer entry.Close()

	data, err := io.ReadAll(entry)
	if err != nil {
		t.Fatalf("read entry: %v", err)
	}
	var records []telemetry.Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("decode records: %v (%s)", err, data)
	}
	return records
}
