package application

import (
	"sync"
	"time"

	backup "aquasense-cloud/internal/backup/domain"
)

// Store is the in-memory registry of backup jobs. It is shared by request
// handlers, pipeline goroutines and the reaper; one coarse lock is enough at
// this contention level.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*backup.Job
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*backup.Job)}
}

// Create registers a job.
func (s *Store) Create(job *backup.Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
}

// Get returns a copy of the job so status polling never races a pipeline
// update.
func (s *Store) Get(id string) (backup.Job, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.RUnlock()
		return backup.Job{}, backup.ErrJobNotFound
	}
	snapshot := *job
	s.mu.RUnlock()
	return snapshot, nil
}

// SetPhase advances the job to a non-terminal phase.
func (s *Store) SetPhase(id string, status backup.Status) {
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok && !job.Status.Terminal() {
		job.Status = status
	}
	s.mu.Unlock()
}

// SetProgress raises the job progress. Progress never decreases.
func (s *Store) SetProgress(id string, progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok && !job.Status.Terminal() && progress > job.Progress {
		job.Progress = progress
	}
	s.mu.Unlock()
}

// Complete marks the job done with its archive location.
func (s *Store) Complete(id, archivePath string, now time.Time) {
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok && !job.Status.Terminal() {
		job.Status = backup.StatusDone
		job.Progress = 100
		job.ArchivePath = archivePath
		finished := now.UTC()
		job.FinishedAt = &finished
	}
	s.mu.Unlock()
}

// Fail marks the job failed. Terminal states are never exited.
func (s *Store) Fail(id, message string, now time.Time) {
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok && !job.Status.Terminal() {
		job.Status = backup.StatusError
		job.Error = message
		finished := now.UTC()
		job.FinishedAt = &finished
	}
	s.mu.Unlock()
}

// Reap removes terminal jobs finished before the retention window and
// returns copies so the caller can delete their work directories.
// Non-terminal jobs are never reaped regardless of age.
func (s *Store) Reap(now time.Time, retention time.Duration) []backup.Job {
	cutoff := now.Add(-retention)
	removed := make([]backup.Job, 0)
	s.mu.Lock()
	for id, job := range s.jobs {
		if !job.Status.Terminal() || job.FinishedAt == nil {
			continue
		}
		if job.FinishedAt.After(cutoff) {
			continue
		}
		removed = append(removed, *job)
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	return removed
}
