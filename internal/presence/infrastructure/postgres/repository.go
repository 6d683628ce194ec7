package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	presence "aquasense-cloud/internal/presence/domain"
)

const defaultDeviceTable = "devices"

// DeviceRepository is a Postgres implementation of the presence store.
type DeviceRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*DeviceRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewDeviceRepository constructs a repository with the default table name.
func NewDeviceRepository(db *sql.DB, opts ...RepositoryOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDeviceTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// UpsertOnline marks each UID online with its winning snapshot. The ON
// CONFLICT clause deliberately leaves operator metadata columns alone.
func (r *DeviceRepository) UpsertOnline(ctx context.Context, updates []presence.SnapshotUpdate) error {
	if r == nil || r.db == nil {
		return errors.New("presence repo: nil db")
	}
	if len(updates) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	uid,
	status,
	last_seen,
	snapshot,
	name,
	location,
	updated_at
) VALUES (
	$1, $2, $3, $4, '', '', NOW()
)
ON CONFLICT (uid)
DO UPDATE SET
	status = EXCLUDED.status,
	last_seen = EXCLUDED.last_seen,
	snapshot = EXCLUDED.snapshot,
	updated_at = NOW()`, r.table)

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, update := range updates {
		if update.UID == "" || update.LastSeen.IsZero() {
			return errors.New("presence repo: invalid update")
		}
		snapshot, err := json.Marshal(update.Snapshot)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, update.UID, presence.StatusOnline, update.LastSeen, snapshot); err != nil {
			return err
		}
	}
	return nil
}

// EnsureKnown inserts missing presence rows with status unknown.
func (r *DeviceRepository) EnsureKnown(ctx context.Context, uids []string) error {
	if r == nil || r.db == nil {
		return errors.New("presence repo: nil db")
	}
	if len(uids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (uid, status, last_seen, snapshot, name, location, updated_at)
VALUES ($1, $2, NULL, '{}', '', '', NOW())
ON CONFLICT (uid) DO NOTHING`, r.table)

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, uid := range uids {
		if uid == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, uid, presence.StatusUnknown); err != nil {
			return err
		}
	}
	return nil
}

// MarkOffline flips stale online rows to offline in one batched update.
// The WHERE clause makes the sweep idempotent and keeps it from downgrading
// rows refreshed after the sweep began.
func (r *DeviceRepository) MarkOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("presence repo: nil db")
	}

	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, updated_at = NOW()
WHERE status = $2
	AND last_seen IS NOT NULL
	AND last_seen < $3
RETURNING uid`, r.table)

	rows, err := r.db.QueryContext(ctx, query, presence.StatusOffline, presence.StatusOnline, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	uids := make([]string, 0)
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// List returns every presence record.
func (r *DeviceRepository) List(ctx context.Context) ([]presence.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("presence repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT uid, status, last_seen, snapshot, name, location, latitude, longitude, updated_at
FROM %s
ORDER BY uid ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := make([]presence.Device, 0)
	for rows.Next() {
		var device presence.Device
		var lastSeen sql.NullTime
		var snapshot []byte
		var latitude, longitude sql.NullFloat64
		if err := rows.Scan(&device.UID, &device.Status, &lastSeen, &snapshot, &device.Name, &device.Location, &latitude, &longitude, &device.UpdatedAt); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			seen := lastSeen.Time.UTC()
			device.LastSeen = &seen
		}
		if latitude.Valid {
			device.Latitude = &latitude.Float64
		}
		if longitude.Valid {
			device.Longitude = &longitude.Float64
		}
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &device.Snapshot); err != nil {
				return nil, err
			}
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}
