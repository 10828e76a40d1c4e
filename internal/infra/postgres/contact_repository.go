package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/driveport/api/internal/infra/notification"
	"github.com/driveport/api/pkg/domain/shared"
)

// ContactRepository stores the delivery addresses principals registered for
// codes and notices.
type ContactRepository struct {
	db *DB
}

// NewContactRepository creates a new ContactRepository.
func NewContactRepository(db *DB) *ContactRepository {
	return &ContactRepository{db: db}
}

var _ notification.ContactDirectory = (*ContactRepository)(nil)

// ContactFor returns the principal's primary contact, or shared.ErrNotFound
// when none is registered.
func (r *ContactRepository) ContactFor(ctx context.Context, principalID string) (notification.Contact, error) {
	query := `
		SELECT channel, address
		FROM principal_contacts
		WHERE principal_id = $1
		ORDER BY is_primary DESC, updated_at DESC
		LIMIT 1
	`

	var contact notification.Contact
	err := r.db.QueryRowContext(ctx, query, principalID).Scan(&contact.Channel, &contact.Address)
	if err == sql.ErrNoRows {
		return notification.Contact{}, shared.ErrNotFound
	}
	if err != nil {
		return notification.Contact{}, fmt.Errorf("failed to load contact: %w", err)
	}
	return contact, nil
}

// Upsert registers or replaces a principal's contact on one channel.
func (r *ContactRepository) Upsert(ctx context.Context, principalID string, contact notification.Contact, primary bool) error {
	query := `
		INSERT INTO principal_contacts (principal_id, channel, address, is_primary, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id, channel)
		DO UPDATE SET address = EXCLUDED.address, is_primary = EXCLUDED.is_primary, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		principalID,
		contact.Channel,
		contact.Address,
		primary,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}
