package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	telemetry "aquasense-cloud/internal/telemetry/domain"
)

const defaultRecordTable = "telemetry_records"

// RecordRepository is a Postgres implementation for telemetry records.
type RecordRepository struct {
	db    *sql.DB
	table string
}

// NewRecordRepository constructs a repository with the default table name.
func NewRecordRepository(db *sql.DB, opts ...RepositoryOption) *RecordRepository {
	repo := &RecordRepository{db: db, table: defaultRecordTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*RecordRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *RecordRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// InsertRecords upserts a batch of records. Individual insert failures are
// tolerated; the call returns the records that were written and fails only
// when nothing from a non-empty batch could be, so the caller can requeue
// the whole batch. Each record runs as its own statement because a failed
// exec would poison a shared transaction.
func (r *RecordRepository) InsertRecords(ctx context.Context, records []telemetry.Record) ([]telemetry.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry repo: nil db")
	}
	if len(records) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_uid,
	captured_at,
	received_at,
	payload
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (device_uid, captured_at)
DO UPDATE SET
	received_at = EXCLUDED.received_at,
	payload = EXCLUDED.payload`, r.table)

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	persisted := make([]telemetry.Record, 0, len(records))
	var lastErr error
	for _, record := range records {
		if record.DeviceUID == "" || record.CapturedAt.IsZero() || record.ReceivedAt.IsZero() {
			lastErr = errors.New("telemetry repo: invalid record")
			continue
		}
		payload, err := json.Marshal(record.Payload)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := stmt.ExecContext(ctx, record.DeviceUID, record.CapturedAt, record.ReceivedAt, payload); err != nil {
			lastErr = err
			continue
		}
		persisted = append(persisted, record)
	}
	if len(persisted) == 0 {
		if lastErr == nil {
			lastErr = errors.New("telemetry repo: no records inserted")
		}
		return nil, lastErr
	}
	return persisted, nil
}
