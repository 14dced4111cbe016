package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"skyportal/internal/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		t.Skip("Skipping integration test: database not available")
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertIdentity(t *testing.T, db *sqlx.DB) string {
	t.Helper()
	id := uuid.New()
	email := id.String() + "@profile.test"
	_, err := db.Exec(`
		INSERT INTO identities (id, email, email_normalized, password_hash, first_name, last_name, user_type, created_at)
		VALUES ($1, $2, $2, 'x', 'Test', 'Pilot', 'private', now())`, id, email)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM profiles WHERE identity_id = $1`, id.String())
		_, _ = db.Exec(`DELETE FROM identities WHERE id = $1`, id)
	})
	return id.String()
}

func TestProfileRepository_SaveIsUpsertByIdentity(t *testing.T) {
	db := setupDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()
	identityID := insertIdentity(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	p := &domain.Profile{
		ID:          uuid.New(),
		IdentityID:  identityID,
		UserType:    domain.UserTypePrivate,
		Email:       "pilot@profile.test",
		Phone:       "+14155550100",
		DisplayName: "Test Pilot",
		Details: domain.JSONB[domain.PersonalDetails]{V: domain.PersonalDetails{
			Email: "pilot@profile.test", Private: &domain.PrivateDetails{FirstName: "Test"},
		}},
		Verification: domain.JSONB[domain.Verification]{V: domain.Verification{DocumentNumber: "X1"}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	handles := []domain.DocumentHandle{
		{Key: "medical", Location: "gs://b/m", SHA256: "abc", Size: 3, ContentType: "application/pdf", UploadedAt: now},
	}

	firstID, err := repo.Save(ctx, p, handles)
	require.NoError(t, err)

	// A retry after a lost acknowledgement reuses the row.
	p.ID = uuid.New()
	p.Phone = "+14155550199"
	secondID, err := repo.Save(ctx, p, append(handles, domain.DocumentHandle{
		Key: "passport", Location: "gs://b/p", SHA256: "def", Size: 3, ContentType: "image/png", UploadedAt: now,
	}))
	require.NoError(t, err)
	assert.Equal(t, firstID, secondID)

	got, gotHandles, err := repo.GetByIdentity(ctx, identityID)
	require.NoError(t, err)
	assert.Equal(t, "+14155550199", got.Phone)
	assert.Equal(t, "Test", got.Details.V.Private.FirstName)
	require.Len(t, gotHandles, 2)
	assert.Equal(t, "medical", gotHandles[0].Key)
}

func TestProfileRepository_SaveForProviderHeldIdentity(t *testing.T) {
	db := setupDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	// Hosted providers hand out opaque ids with no identities row.
	identityID := "usr_" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM profiles WHERE identity_id = $1`, identityID)
	})

	now := time.Now().UTC().Truncate(time.Second)
	p := &domain.Profile{
		ID:           uuid.New(),
		IdentityID:   identityID,
		UserType:     domain.UserTypeCommercial,
		Email:        "ops@charter.test",
		Phone:        "+14155550142",
		DisplayName:  "Blue Sky Charters",
		Details:      domain.JSONB[domain.PersonalDetails]{V: domain.PersonalDetails{Email: "ops@charter.test"}},
		Verification: domain.JSONB[domain.Verification]{V: domain.Verification{DocumentNumber: "C9"}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	id, err := repo.Save(ctx, p, nil)
	require.NoError(t, err)

	got, handles, err := repo.GetByIdentity(ctx, identityID)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, identityID, got.IdentityID)
	assert.Empty(t, handles)
}
