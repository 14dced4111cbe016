package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skyportal/internal/domain"
	apperrors "skyportal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAccount() Account {
	return Account{
		Email:     "amelia@example.com",
		Password:  "correct-horse-battery",
		FirstName: "Amelia",
		LastName:  "Earhart",
		UserType:  domain.UserTypePrivate,
	}
}

func TestRESTClient_CreateAccount(t *testing.T) {
	var got Account
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/accounts", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"idp-123"}`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL+"/", "secret-key", time.Second)
	id, err := client.CreateAccount(context.Background(), testAccount())

	require.NoError(t, err)
	assert.Equal(t, "idp-123", id)
	assert.Equal(t, "amelia@example.com", got.Email)
	assert.Equal(t, "correct-horse-battery", got.Password)
}

func TestRESTClient_ClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind Kind
		sentinel error
	}{
		{"conflict is duplicate", http.StatusConflict, KindDuplicate, apperrors.ErrDuplicateIdentity},
		{"bad request is validation", http.StatusBadRequest, KindValidation, apperrors.ErrValidation},
		{"unprocessable is validation", http.StatusUnprocessableEntity, KindValidation, apperrors.ErrValidation},
		{"unauthorized is not retried", http.StatusUnauthorized, KindValidation, apperrors.ErrValidation},
		{"rate limited is transient", http.StatusTooManyRequests, KindTransient, apperrors.ErrTransientNetwork},
		{"server error is transient", http.StatusBadGateway, KindTransient, apperrors.ErrTransientNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"provider says no"}`))
			}))
			defer srv.Close()

			_, err := NewRESTClient(srv.URL, "", time.Second).CreateAccount(context.Background(), testAccount())

			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Contains(t, err.Error(), "provider says no")
		})
	}
}

func TestRESTClient_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewRESTClient(url, "", time.Second).CreateAccount(context.Background(), testAccount())

	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestRESTClient_AcknowledgedWithoutIDIsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing id", body: `{}`},
		{name: "malformed body", body: `{"id":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewRESTClient(srv.URL, "", time.Second).CreateAccount(context.Background(), testAccount())

			require.Error(t, err)
			assert.Equal(t, KindUnconfirmed, KindOf(err))
			assert.False(t, IsRetryable(err))
		})
	}
}

func TestRESTClient_MalformedAvailabilityIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewRESTClient(srv.URL, "", time.Second).CheckAvailability(context.Background(), "free@example.com")
	assert.True(t, IsRetryable(err))
}

func TestRESTClient_CheckAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/availability", r.URL.Path)
		available := r.URL.Query().Get("email") != "taken@example.com"
		_ = json.NewEncoder(w).Encode(map[string]bool{"available": available})
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, "", time.Second)

	ok, err := client.CheckAvailability(context.Background(), "free@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.CheckAvailability(context.Background(), "taken@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKindOf_NonProviderError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(apperrors.ErrPersistence))
	assert.False(t, IsRetryable(apperrors.ErrPersistence))
	assert.True(t, IsRetryable(apperrors.Wrap(transient("x", nil), "wrapped")))
}
