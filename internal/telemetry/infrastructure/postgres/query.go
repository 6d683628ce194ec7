package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	telemetry "aquasense-cloud/internal/telemetry/domain"
)

const (
	defaultQueryLimit = 1000
	maxQueryLimit     = 10000
)

// RecordQuery is a Postgres query implementation for telemetry records.
type RecordQuery struct {
	db    *sql.DB
	table string
}

// QueryOption configures the query.
type QueryOption func(*RecordQuery)

// WithQueryTable overrides the default table name.
func WithQueryTable(table string) QueryOption {
	return func(q *RecordQuery) {
		if table != "" {
			q.table = table
		}
	}
}

// NewRecordQuery constructs a query with the default table name.
func NewRecordQuery(db *sql.DB, opts ...QueryOption) *RecordQuery {
	query := &RecordQuery{db: db, table: defaultRecordTable}
	for _, opt := range opts {
		opt(query)
	}
	return query
}

// QueryRange returns records in [start, end) ordered by capture time. Zero
// bounds are open; an empty uid matches all devices. limit caps the result
// size and defaults when out of range.
func (q *RecordQuery) QueryRange(ctx context.Context, uid string, start, end time.Time, limit int) ([]telemetry.Record, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	if limit <= 0 || limit > maxQueryLimit {
		limit = defaultQueryLimit
	}

	query := fmt.Sprintf("SELECT device_uid, captured_at, received_at, payload FROM %s WHERE 1=1", q.table)
	args := make([]any, 0, 4)
	if uid != "" {
		args = append(args, uid)
		query += fmt.Sprintf(" AND device_uid = $%d", len(args))
	}
	if !start.IsZero() {
		args = append(args, start)
		query += fmt.Sprintf(" AND captured_at >= $%d", len(args))
	}
	if !end.IsZero() {
		args = append(args, end)
		query += fmt.Sprintf(" AND captured_at < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY captured_at ASC LIMIT $%d", len(args))

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]telemetry.Record, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CountByUID counts persisted records; an empty uid counts everything.
func (q *RecordQuery) CountByUID(ctx context.Context, uid string) (int64, error) {
	if q == nil || q.db == nil {
		return 0, errors.New("telemetry query: nil db")
	}
	var count int64
	if uid == "" {
		err := q.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", q.table)).Scan(&count)
		return count, err
	}
	err := q.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE device_uid = $1", q.table), uid).Scan(&count)
	return count, err
}

// StreamByUID walks matching records ordered by capture time ascending,
// invoking fn per record without materializing the full result set.
func (q *RecordQuery) StreamByUID(ctx context.Context, uid string, fn func(telemetry.Record) error) error {
	if q == nil || q.db == nil {
		return errors.New("telemetry query: nil db")
	}
	if fn == nil {
		return errors.New("telemetry query: nil callback")
	}

	query := fmt.Sprintf("SELECT device_uid, captured_at, received_at, payload FROM %s", q.table)
	args := []any{}
	if uid != "" {
		query += " WHERE device_uid = $1"
		args = append(args, uid)
	}
	query += " ORDER BY captured_at ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DistinctUIDs enumerates every device UID ever persisted.
func (q *RecordQuery) DistinctUIDs(ctx context.Context) ([]string, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("telemetry query: nil db")
	}
	rows, err := q.db.QueryContext(ctx, fmt.Sprintf("SELECT DISTINCT device_uid FROM %s", q.table))
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

func scanRecord(rows *sql.Rows) (telemetry.Record, error) {
	var record telemetry.Record
	var payload []byte
	if err := rows.Scan(&record.DeviceUID, &record.CapturedAt, &record.ReceivedAt, &payload); err != nil {
		return telemetry.Record{}, err
	}
	record.CapturedAt = record.CapturedAt.UTC()
	record.ReceivedAt = record.ReceivedAt.UTC()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &record.Payload); err != nil {
			return telemetry.Record{}, err
		}
	}
	return record, nil
}
