package presence

import (
	"context"
	"time"
)

// Status classifies a device by ingestion recency.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

// Device is the presence record for one field device. Name, Location and
// the coordinates are operator-maintained and never written by this service.
type Device struct {
	UID       string         `json:"uid"`
	Status    Status         `json:"status"`
	LastSeen  *time.Time     `json:"lastSeen"`
	Snapshot  map[string]any `json:"latestSnapshot"`
	Name      string         `json:"name"`
	Location  string         `json:"location"`
	Latitude  *float64       `json:"latitude"`
	Longitude *float64       `json:"longitude"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// SnapshotUpdate carries the winning record of one flush batch for one UID.
type SnapshotUpdate struct {
	UID      string
	LastSeen time.Time
	Snapshot map[string]any
}

// Repository stores presence records, one per UID.
type Repository interface {
	// UpsertOnline marks each UID online with its latest snapshot. Operator
	// metadata on existing rows is left untouched.
	UpsertOnline(ctx context.Context, updates []SnapshotUpdate) error
	// EnsureKnown inserts missing presence rows with status unknown and
	// never modifies existing ones.
	EnsureKnown(ctx context.Context, uids []string) error
	// MarkOffline flips online rows whose lastSeen is before cutoff to
	// offline and returns the affected UIDs.
	MarkOffline(ctx context.Context, cutoff time.Time) ([]string, error)
	List(ctx context.Context) ([]Device, error)
}
