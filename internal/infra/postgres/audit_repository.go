package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/driveport/api/pkg/domain/audit"
	"github.com/driveport/api/pkg/domain/shared"
)

// AuditRepository implements audit.Sink and read access over PostgreSQL.
// Records are append-only; this repository never updates rows.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var _ audit.Sink = (*AuditRepository)(nil)

// Write appends an audit record.
func (r *AuditRepository) Write(ctx context.Context, rec *audit.Record) error {
	query := `
		INSERT INTO audit_records
			(id, principal_id, action, resource_ref, outcome, reason,
			 ip, user_agent, route, method, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	meta := rec.Metadata()

	_, err := r.db.ExecContext(ctx, query,
		rec.ID().String(),
		nullID(rec.PrincipalID()),
		string(rec.Action()),
		rec.ResourceRef(),
		string(rec.Outcome()),
		nullString(rec.Reason()),
		nullString(meta.IP),
		nullString(meta.UserAgent),
		nullString(meta.Route),
		nullString(meta.Method),
		nullString(meta.RequestID),
		rec.Timestamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Filter narrows a List query. Zero values mean "any".
type AuditFilter struct {
	PrincipalID *shared.ID
	Action      audit.Action
	Outcome     audit.Outcome
	Since       time.Time
	Limit       int
}

// List returns audit records matching the filter, newest first.
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]*audit.Record, error) {
	query := `
		SELECT id, principal_id, action, resource_ref, outcome, reason,
		       ip, user_agent, route, method, request_id, created_at
		FROM audit_records
		WHERE 1=1
	`
	var args []any
	idx := 1

	if filter.PrincipalID != nil {
		query += fmt.Sprintf(" AND principal_id = $%d", idx)
		args = append(args, filter.PrincipalID.String())
		idx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", idx)
		args = append(args, string(filter.Action))
		idx++
	}
	if filter.Outcome != "" {
		query += fmt.Sprintf(" AND outcome = $%d", idx)
		args = append(args, string(filter.Outcome))
		idx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, filter.Since)
		idx++
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*audit.Record
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanAuditRecord(rows *sql.Rows) (*audit.Record, error) {
	var (
		id          string
		principalID sql.NullString
		action      string
		resourceRef string
		outcome     string
		reason      sql.NullString
		ip          sql.NullString
		userAgent   sql.NullString
		route       sql.NullString
		method      sql.NullString
		requestID   sql.NullString
		createdAt   time.Time
	)

	err := rows.Scan(&id, &principalID, &action, &resourceRef, &outcome, &reason,
		&ip, &userAgent, &route, &method, &requestID, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	recID, err := shared.IDFromString(id)
	if err != nil {
		return nil, fmt.Errorf("invalid audit record id %q: %w", id, err)
	}

	return audit.Reconstitute(
		recID,
		parseNullID(principalID),
		audit.Action(action),
		resourceRef,
		audit.Outcome(outcome),
		nullStringValue(reason),
		audit.Metadata{
			IP:        nullStringValue(ip),
			UserAgent: nullStringValue(userAgent),
			Route:     nullStringValue(route),
			Method:    nullStringValue(method),
			RequestID: nullStringValue(requestID),
		},
		createdAt,
	), nil
}

// DeleteOlderThan removes records past the retention horizon. Called by a
// scheduled cleanup job, never by the request path.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit records: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
