package telemetry

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPayload rejects an inbound reading at the boundary.
var ErrInvalidPayload = errors.New("telemetry: invalid payload")

// Record is one normalized sensor reading. Records are immutable once
// constructed and are owned by the ingestion buffer until flushed.
type Record struct {
	DeviceUID  string         `json:"uid"`
	CapturedAt time.Time      `json:"capturedAt"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Payload    map[string]any `json:"payload"`
}

// flatMirrors maps structured sensor sub-fields to their legacy flat
// equivalents kept for older dashboard clients.
var flatMirrors = []struct {
	group string
	field string
	flat  string
}{
	{"position", "depth", "depth"},
	{"environment", "temperature", "temperature"},
	{"environment", "humidity", "humidity"},
	{"precipitation", "rainfall", "rainfall"},
}

// BuildSnapshot derives the presence snapshot for a payload: structured
// sensor groups are copied through and mirrored onto the legacy flat fields.
// A flat field already present is kept only when the structured sub-field is
// absent.
func BuildSnapshot(payload map[string]any) map[string]any {
	snapshot := make(map[string]any, len(payload)+4)
	for key, value := range payload {
		snapshot[key] = value
	}
	for _, mirror := range flatMirrors {
		group, ok := snapshot[mirror.group].(map[string]any)
		if !ok {
			continue
		}
		value, ok := group[mirror.field]
		if !ok {
			continue
		}
		snapshot[mirror.flat] = value
	}
	return snapshot
}

// LatestByUID selects, per device UID in the batch, the record with the
// greatest capturedAt. Ties are broken by the later position in batch order.
// The returned slice lists UIDs in first-seen order.
func LatestByUID(batch []Record) ([]string, map[string]Record) {
	uids := make([]string, 0)
	winners := make(map[string]Record, len(batch))
	for _, record := range batch {
		current, seen := winners[record.DeviceUID]
		if !seen {
			uids = append(uids, record.DeviceUID)
			winners[record.DeviceUID] = record
			continue
		}
		if !record.CapturedAt.Before(current.CapturedAt) {
			winners[record.DeviceUID] = record
		}
	}
	return uids, winners
}

// RecordRepository persists telemetry records. InsertRecords is best-effort:
// it returns the records that were actually written, in batch order, and
// fails only when nothing from a non-empty batch could be persisted.
type RecordRepository interface {
	InsertRecords(ctx context.Context, records []Record) ([]Record, error)
}

// RecordQuery loads persisted telemetry records. An empty uid matches all
// devices.
type RecordQuery interface {
	QueryRange(ctx context.Context, uid string, start, end time.Time, limit int) ([]Record, error)
	CountByUID(ctx context.Context, uid string) (int64, error)
	StreamByUID(ctx context.Context, uid string, fn func(Record) error) error
	DistinctUIDs(ctx context.Context) ([]string, error)
}
