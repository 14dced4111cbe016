// ==============================================================================
// PROFILE REPOSITORY IMPLEMENTATION
// ==============================================================================
// Stores registration profiles and their document handles in PostgreSQL
// ==============================================================================

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"skyportal/internal/domain"
	"skyportal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ProfileRepository implements profile persistence
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new ProfileRepository
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Save upserts the profile by identity id and replaces its document rows in
// one transaction. A profile committed by an earlier attempt whose
// acknowledgement was lost is updated in place, keeping its id.
func (r *ProfileRepository) Save(ctx context.Context, p *domain.Profile, handles []domain.DocumentHandle) (uuid.UUID, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: begin: %v", errors.ErrPersistence, err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO profiles (
			id, identity_id, user_type, email, phone, display_name,
			details, verification, created_at, updated_at
		) VALUES (
			:id, :identity_id, :user_type, :email, :phone, :display_name,
			:details, :verification, :created_at, :updated_at
		)
		ON CONFLICT (identity_id) DO UPDATE SET
			user_type = EXCLUDED.user_type,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			display_name = EXCLUDED.display_name,
			details = EXCLUDED.details,
			verification = EXCLUDED.verification,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: prepare: %v", errors.ErrPersistence, err)
	}
	defer stmt.Close()

	var id uuid.UUID
	if err := stmt.GetContext(ctx, &id, p); err != nil {
		return uuid.Nil, fmt.Errorf("%w: upsert profile: %v", errors.ErrPersistence, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM profile_documents WHERE profile_id = $1`, id); err != nil {
		return uuid.Nil, fmt.Errorf("%w: clear documents: %v", errors.ErrPersistence, err)
	}

	for _, h := range handles {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO profile_documents (
				profile_id, document_key, location, sha256, size_bytes, content_type, uploaded_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, h.Key, h.Location, h.SHA256, h.Size, h.ContentType, h.UploadedAt)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: insert document %s: %v", errors.ErrPersistence, h.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("%w: commit: %v", errors.ErrPersistence, err)
	}
	return id, nil
}

// GetByIdentity loads a profile and its document handles
func (r *ProfileRepository) GetByIdentity(ctx context.Context, identityID string) (*domain.Profile, []domain.DocumentHandle, error) {
	var p domain.Profile
	err := r.db.GetContext(ctx, &p, `
		SELECT id, identity_id, user_type, email, phone, display_name,
		       details, verification, created_at, updated_at
		FROM profiles WHERE identity_id = $1`, identityID)
	if err == sql.ErrNoRows {
		return nil, nil, errors.ErrProfileNotFound
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get profile")
	}

	var handles []domain.DocumentHandle
	err = r.db.SelectContext(ctx, &handles, `
		SELECT document_key, location, sha256, size_bytes, content_type, uploaded_at
		FROM profile_documents WHERE profile_id = $1 ORDER BY document_key`, p.ID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to list profile documents")
	}

	return &p, handles, nil
}
