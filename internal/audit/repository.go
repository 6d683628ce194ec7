package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository persists audit entries in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository. Returns nil when db is nil so
// callers can treat auditing as optional.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log inserts one audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" && len(entry.Metadata) > 0 {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}

	const query = `
        INSERT INTO audit_logs (
            id, actor, role, action, resource_type, resource_id,
            metadata, payload_digest, ip, user_agent, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	metadata := entry.Metadata
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Actor,
		entry.Role,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		metadata,
		entry.PayloadDigest,
		entry.IP,
		entry.UserAgent,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}
