package application

import (
	"context"
	"errors"
	"log"
	"time"

	"aquasense-cloud/internal/observability/metrics"
	presence "aquasense-cloud/internal/presence/domain"
	telemetry "aquasense-cloud/internal/telemetry/domain"
)

const defaultFlushInterval = 10 * time.Second

// Broadcaster pushes events to live subscribers.
type Broadcaster interface {
	Publish(event string, payload any)
}

// Flusher drains the buffer on a fixed period, persists the batch, updates
// device presence and broadcasts the persisted records to live subscribers.
// A failed persist requeues the whole batch and skips the rest of the cycle.
type Flusher struct {
	buffer   *Buffer
	records  telemetry.RecordRepository
	devices  presence.Repository
	broker   Broadcaster
	interval time.Duration
	logger   *log.Logger
}

// FlusherOption configures the flusher.
type FlusherOption func(*Flusher)

// WithFlushInterval overrides the default flush period.
func WithFlushInterval(interval time.Duration) FlusherOption {
	return func(f *Flusher) {
		if interval > 0 {
			f.interval = interval
		}
	}
}

// NewFlusher constructs a flusher.
func NewFlusher(buffer *Buffer, records telemetry.RecordRepository, devices presence.Repository, broker Broadcaster, logger *log.Logger, opts ...FlusherOption) (*Flusher, error) {
	if buffer == nil || records == nil || devices == nil {
		return nil, errors.New("flusher: nil dependency")
	}
	if logger == nil {
		logger = log.Default()
	}
	f := &Flusher{
		buffer:   buffer,
		records:  records,
		devices:  devices,
		broker:   broker,
		interval: defaultFlushInterval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Run executes flush cycles until ctx is done. Cycles run sequentially on
// one goroutine; ticks that fire while a flush is still in flight coalesce,
// so a slow store never stacks cycles.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Tick(ctx); err != nil {
				f.logger.Printf("flush error: %v", err)
			}
		}
	}
}

// Tick performs one flush cycle.
func (f *Flusher) Tick(ctx context.Context) error {
	batch := f.buffer.DrainAndSwap()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	persisted, err := f.records.InsertRecords(ctx, batch)
	if err != nil {
		f.buffer.Requeue(batch)
		metrics.ObserveFlush(metrics.FlushResultError, time.Since(start), len(batch))
		metrics.AddRequeuedRecords(len(batch))
		return err
	}
	if len(persisted) < len(batch) {
		f.logger.Printf("flush: partial insert %d/%d records", len(persisted), len(batch))
	}

	if f.broker != nil {
		f.broker.Publish("telemetry", persisted)
	}

	uids, winners := telemetry.LatestByUID(persisted)
	updates := make([]presence.SnapshotUpdate, 0, len(uids))
	for _, uid := range uids {
		winner := winners[uid]
		updates = append(updates, presence.SnapshotUpdate{
			UID:      uid,
			LastSeen: winner.CapturedAt,
			Snapshot: telemetry.BuildSnapshot(winner.Payload),
		})
	}
	if err := f.devices.UpsertOnline(ctx, updates); err != nil {
		// Presence failure never blocks the next ingestion cycle.
		f.logger.Printf("flush: presence upsert error: %v", err)
	} else {
		metrics.AddPresenceTransitions(string(presence.StatusOnline), len(uids))
		if f.broker != nil {
			f.broker.Publish("presence", uids)
		}
	}

	metrics.ObserveFlush(metrics.FlushResultSuccess, time.Since(start), len(batch))
	return nil
}
