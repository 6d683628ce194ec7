package application

import (
	"context"
	"errors"
	"log"
	"time"

	"aquasense-cloud/internal/observability/metrics"
	presence "aquasense-cloud/internal/presence/domain"
)

const (
	defaultReconcileInterval = 10 * time.Minute
	defaultOfflineInterval   = time.Minute
	defaultOfflineAfter      = 10 * time.Minute
)

// UIDSource enumerates every device UID ever persisted.
type UIDSource interface {
	DistinctUIDs(ctx context.Context) ([]string, error)
}

// Broadcaster pushes presence-change events to live subscribers.
type Broadcaster interface {
	Publish(event string, payload any)
}

// Tracker runs the two presence sweeps: reconciliation recovers devices with
// a lost or never-created presence record, and the offline sweep downgrades
// devices silent past the threshold. Both are idempotent and safe alongside
// the flusher.
type Tracker struct {
	devices presence.Repository
	source  UIDSource
	broker  Broadcaster
	logger  *log.Logger

	reconcileInterval time.Duration
	offlineInterval   time.Duration
	offlineAfter      time.Duration
}

// TrackerOption configures the tracker.
type TrackerOption func(*Tracker)

// WithReconcileInterval overrides the reconciliation sweep period.
func WithReconcileInterval(interval time.Duration) TrackerOption {
	return func(t *Tracker) {
		if interval > 0 {
			t.reconcileInterval = interval
		}
	}
}

// WithOfflineInterval overrides the offline sweep period.
func WithOfflineInterval(interval time.Duration) TrackerOption {
	return func(t *Tracker) {
		if interval > 0 {
			t.offlineInterval = interval
		}
	}
}

// WithOfflineAfter overrides the silence threshold.
func WithOfflineAfter(threshold time.Duration) TrackerOption {
	return func(t *Tracker) {
		if threshold > 0 {
			t.offlineAfter = threshold
		}
	}
}

// NewTracker constructs a tracker.
func NewTracker(devices presence.Repository, source UIDSource, broker Broadcaster, logger *log.Logger, opts ...TrackerOption) (*Tracker, error) {
	if devices == nil || source == nil {
		return nil, errors.New("presence tracker: nil dependency")
	}
	if logger == nil {
		logger = log.Default()
	}
	t := &Tracker{
		devices:           devices,
		source:            source,
		broker:            broker,
		logger:            logger,
		reconcileInterval: defaultReconcileInterval,
		offlineInterval:   defaultOfflineInterval,
		offlineAfter:      defaultOfflineAfter,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run drives both sweeps until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	reconcile := time.NewTicker(t.reconcileInterval)
	defer reconcile.Stop()
	offline := time.NewTicker(t.offlineInterval)
	defer offline.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			if err := t.ReconcileTick(ctx); err != nil {
				t.logger.Printf("presence reconcile error: %v", err)
			}
		case tick := <-offline.C:
			if err := t.OfflineTick(ctx, tick.UTC()); err != nil {
				t.logger.Printf("presence offline sweep error: %v", err)
			}
		}
	}
}

// ReconcileTick ensures a presence record exists for every UID ever seen in
// the store, without touching existing records.
func (t *Tracker) ReconcileTick(ctx context.Context) error {
	uids, err := t.source.DistinctUIDs(ctx)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}
	return t.devices.EnsureKnown(ctx, uids)
}

// OfflineTick marks devices silent past the threshold as offline and
// broadcasts the changed UIDs.
func (t *Tracker) OfflineTick(ctx context.Context, now time.Time) error {
	changed, err := t.devices.MarkOffline(ctx, now.Add(-t.offlineAfter))
	if err != nil {
		return err
	}
	if len(changed) == 0 {
		return nil
	}
	metrics.AddPresenceTransitions(string(presence.StatusOffline), len(changed))
	if t.broker != nil {
		t.broker.Publish("presence", changed)
	}
	t.logger.Printf("presence: %d devices marked offline", len(changed))
	return nil
}
