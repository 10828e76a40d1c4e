package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/driveport/api/pkg/domain/principal"
	"github.com/driveport/api/pkg/domain/shared"
	"github.com/driveport/api/pkg/password"
)

// CredentialRepository verifies login credentials against the
// principal_credentials table. It satisfies the auth handler's
// CredentialVerifier interface.
type CredentialRepository struct {
	db         *DB
	principals *PrincipalRepository
	hasher     *password.Hasher
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *DB, principals *PrincipalRepository, hasher *password.Hasher) *CredentialRepository {
	return &CredentialRepository{
		db:         db,
		principals: principals,
		hasher:     hasher,
	}
}

// Verify checks the identifier/secret pair and returns the matching
// principal. Unknown identifiers and wrong secrets are indistinguishable to
// the caller.
func (r *CredentialRepository) Verify(ctx context.Context, identifier, secret string) (*principal.Principal, error) {
	var (
		principalID string
		secretHash  string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT principal_id, secret_hash FROM principal_credentials WHERE identifier = $1`,
		identifier,
	).Scan(&principalID, &secretHash)
	if err == sql.ErrNoRows {
		// Burn a hash comparison so response timing does not reveal
		// whether the identifier exists.
		_ = r.hasher.Verify(secret, dummyHash)
		return nil, principal.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	if err := r.hasher.Verify(secret, secretHash); err != nil {
		return nil, principal.ErrInvalidCredentials
	}

	id, err := shared.IDFromString(principalID)
	if err != nil {
		return nil, fmt.Errorf("invalid principal id %q: %w", principalID, err)
	}

	p, err := r.principals.GetByID(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, principal.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SetSecret stores or replaces a principal's login credentials.
func (r *CredentialRepository) SetSecret(ctx context.Context, principalID shared.ID, identifier, secret string) error {
	hash, err := r.hasher.Hash(secret)
	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO principal_credentials (principal_id, identifier, secret_hash, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (principal_id)
		DO UPDATE SET identifier = $2, secret_hash = $3, updated_at = $4
	`, principalID.String(), identifier, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

// dummyHash is a valid bcrypt hash of an unguessable value, used to equalize
// timing on unknown identifiers.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"
