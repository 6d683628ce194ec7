package application

import (
	"sync"

	telemetry "aquasense-cloud/internal/telemetry/domain"
)

// Buffer is the in-memory queue of normalized records awaiting persistence.
// Enqueue never blocks the ingestion path on store latency; the flusher
// empties it with DrainAndSwap.
type Buffer struct {
	mu      sync.Mutex
	records []telemetry.Record
}

// NewBuffer constructs an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Enqueue appends one record in O(1).
func (b *Buffer) Enqueue(record telemetry.Record) {
	b.mu.Lock()
	b.records = append(b.records, record)
	b.mu.Unlock()
}

// DrainAndSwap atomically replaces the queue with a fresh one and returns
// the previous contents. No concurrent enqueue is lost or duplicated across
// the swap boundary.
func (b *Buffer) DrainAndSwap() []telemetry.Record {
	b.mu.Lock()
	drained := b.records
	b.records = nil
	b.mu.Unlock()
	return drained
}

// Requeue prepends a failed batch so the next drain sees it before anything
// enqueued since the failure.
func (b *Buffer) Requeue(batch []telemetry.Record) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	merged := make([]telemetry.Record, 0, len(batch)+len(b.records))
	merged = append(merged, batch...)
	merged = append(merged, b.records...)
	b.records = merged
	b.mu.Unlock()
}

// Len reports the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
