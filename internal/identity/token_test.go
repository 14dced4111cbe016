package identity

import (
	"testing"
	"time"

	"skyportal/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", "skyportal", 15*time.Minute)

	token, expiresAt, err := issuer.Issue("idp-123", "amelia@example.com", domain.UserTypePrivate)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, 5*time.Second)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "idp-123", claims.Subject)
	assert.Equal(t, "amelia@example.com", claims.Email)
	assert.Equal(t, domain.UserTypePrivate, claims.UserType)
}

func TestTokenIssuer_RejectsForeignAndExpiredTokens(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", "skyportal", time.Minute)
	other := NewTokenIssuer("other-secret", "skyportal", time.Minute)

	token, _, err := other.Issue("idp-1", "a@example.com", domain.UserTypeCommercial)
	require.NoError(t, err)
	_, err = issuer.Parse(token)
	assert.Error(t, err)

	past := time.Now().Add(-time.Hour)
	issuer.now = func() time.Time { return past }
	stale, _, err := issuer.Issue("idp-1", "a@example.com", domain.UserTypeCommercial)
	require.NoError(t, err)

	issuer.now = time.Now
	_, err = issuer.Parse(stale)
	assert.Error(t, err)
}
