package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driveport/api/internal/infra/jobs"
	"github.com/driveport/api/pkg/domain/shared"
)

// VerificationRepository stores identity verification outcomes from the
// background providers.
type VerificationRepository struct {
	db *DB
}

// NewVerificationRepository creates a new VerificationRepository.
func NewVerificationRepository(db *DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

var _ jobs.VerificationResultStore = (*VerificationRepository)(nil)

// SaveResult records a provider outcome for a driver.
func (r *VerificationRepository) SaveResult(ctx context.Context, result *jobs.VerificationResult) error {
	query := `
		INSERT INTO verification_results
			(id, driver_id, provider, status, reference, detail, verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		uuid.NewString(),
		result.DriverID,
		result.Provider,
		result.Status,
		nullString(result.Reference),
		nullString(result.Detail),
		result.VerifiedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save verification result: %w", err)
	}
	return nil
}

// LatestByDriver returns the newest verification result for a driver, or
// shared.ErrNotFound when none exists.
func (r *VerificationRepository) LatestByDriver(ctx context.Context, driverID string) (*jobs.VerificationResult, error) {
	query := `
		SELECT driver_id, provider, status, reference, detail, verified_at
		FROM verification_results
		WHERE driver_id = $1
		ORDER BY verified_at DESC
		LIMIT 1
	`

	var (
		result    jobs.VerificationResult
		reference sql.NullString
		detail    sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, driverID).Scan(
		&result.DriverID,
		&result.Provider,
		&result.Status,
		&reference,
		&detail,
		&result.VerifiedAt,
	)
	if err == sql.ErrNoRows {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load verification result: %w", err)
	}

	result.Reference = nullStringValue(reference)
	result.Detail = nullStringValue(detail)
	return &result, nil
}
