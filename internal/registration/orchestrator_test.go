package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"skyportal/internal/domain"
	"skyportal/internal/draft"
	"skyportal/internal/fileupload"
	"skyportal/internal/identity"
	"skyportal/internal/profile"
	apperrors "skyportal/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==============================================================================
// MOCKS
// ==============================================================================

type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) CreateAccount(ctx context.Context, acct identity.Account) (string, error) {
	args := m.Called(ctx, acct)
	return args.String(0), args.Error(1)
}

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) UploadAll(ctx context.Context, identityID string, docs []domain.Document) (*fileupload.UploadResult, error) {
	args := m.Called(ctx, identityID, docs)
	var res *fileupload.UploadResult
	switch v := args.Get(0).(type) {
	case func(context.Context, string, []domain.Document) *fileupload.UploadResult:
		res = v(ctx, identityID, docs)
	case *fileupload.UploadResult:
		res = v
	}
	return res, args.Error(1)
}

type MockPersister struct {
	mock.Mock
}

func (m *MockPersister) Persist(ctx context.Context, rec profile.Record) (string, error) {
	args := m.Called(ctx, rec)
	return args.String(0), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Welcome(ctx context.Context, email string, details domain.PersonalDetails, outcome *Outcome) error {
	args := m.Called(ctx, email, details, outcome)
	return args.Error(0)
}

// ==============================================================================
// FIXTURES
// ==============================================================================

type harness struct {
	identity  *MockIdentity
	uploader  *MockUploader
	persister *MockPersister
	notifier  *MockNotifier
	journal   *MemoryJournal
	registry  *prometheus.Registry
	metrics   *Metrics
	orch      *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		identity:  &MockIdentity{},
		uploader:  &MockUploader{},
		persister: &MockPersister{},
		notifier:  &MockNotifier{},
		journal:   NewMemoryJournal(),
		registry:  prometheus.NewRegistry(),
	}
	h.metrics = NewMetrics(h.registry)
	h.notifier.On("Welcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	h.orch = New(Dependencies{
		Identity:  h.identity,
		Uploader:  h.uploader,
		Persister: h.persister,
		Journal:   h.journal,
		Notifier:  h.notifier,
		Metrics:   h.metrics,
	}, Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	return h
}

func privateDetails() domain.PersonalDetails {
	return domain.PersonalDetails{
		Email:    "amelia@example.com",
		Password: "correct-horse-battery",
		Phone:    "+14155550100",
		Private: &domain.PrivateDetails{
			FirstName:   "Amelia",
			LastName:    "Earhart",
			DateOfBirth: time.Date(1997, 7, 24, 0, 0, 0, 0, time.UTC),
			Nationality: "US",
			Address: domain.Address{
				Line1: "1 Runway Rd", City: "Atchison", PostalCode: "66002", Country: "US",
			},
			PriorFlightHours: decimal.RequireFromString("4.5"),
			EmergencyContact: domain.EmergencyContact{
				Name: "Amy Otis", Relationship: "mother", Phone: "+14155550101",
			},
		},
	}
}

func commercialDetails() domain.PersonalDetails {
	return domain.PersonalDetails{
		Email:    "ops@skyhaul.example",
		Password: "another-long-secret",
		Phone:    "+442071234567",
		Commercial: &domain.CommercialDetails{
			OrganizationName:   "SkyHaul Ltd",
			RegistrationNumber: "0123456",
			TaxID:              "GB123456789",
			Address: domain.Address{
				Line1: "Hangar 4", City: "London", PostalCode: "TW6 1AA", Country: "GB",
			},
			PrimaryContact: domain.PrimaryContact{
				FirstName: "Jean", LastName: "Batten", Role: "Head of Training", Phone: "+442071234568",
			},
		},
	}
}

func verification() domain.Verification {
	return domain.Verification{
		DocumentType:     domain.IDDocumentPassport,
		DocumentNumber:   "X1234567",
		IssuingCountry:   "US",
		ExpiresOn:        time.Now().AddDate(3, 0, 0),
		PreferredChannel: domain.ChannelEmail,
		Consent:          domain.Consent{Terms: true, Privacy: true},
	}
}

func documents(keys ...string) []domain.Document {
	out := make([]domain.Document, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.Document{
			Key: k, DisplayName: k + ".pdf", MimeType: "application/pdf", Bytes: []byte("%PDF " + k),
		})
	}
	return out
}

func newDraft(t *testing.T, userType domain.UserType, keys ...string) *draft.Draft {
	t.Helper()
	d := draft.New(nil)
	require.NoError(t, d.SetUserType(userType))
	if userType == domain.UserTypeCommercial {
		require.NoError(t, d.SetPersonalDetails(commercialDetails()))
	} else {
		require.NoError(t, d.SetPersonalDetails(privateDetails()))
	}
	require.NoError(t, d.SetVerification(verification()))
	require.NoError(t, d.SetDocuments(documents(keys...)))
	return d
}

// uploadSucceeds stores every document the uploader is given.
func (h *harness) uploadSucceeds() {
	h.uploader.On("UploadAll", mock.Anything, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, id string, docs []domain.Document) *fileupload.UploadResult {
			res := &fileupload.UploadResult{Succeeded: map[string]domain.DocumentHandle{}, Failed: map[string]string{}}
			for _, doc := range docs {
				res.Succeeded[doc.Key] = domain.DocumentHandle{Key: doc.Key, Location: "gs://docs/" + doc.Key}
			}
			return res
		}, nil)
}

// ==============================================================================
// END-TO-END SCENARIOS
// ==============================================================================

func TestSubmit_PrivateUserAllServicesSucceed(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical", "passport")

	h.identity.On("CreateAccount", mock.Anything, mock.MatchedBy(func(a identity.Account) bool {
		return a.Email == "amelia@example.com" && a.FirstName == "Amelia" && a.Password == "correct-horse-battery"
	})).Return("idp-1", nil).Once()
	h.uploadSucceeds()
	h.persister.On("Persist", mock.Anything, mock.MatchedBy(func(r profile.Record) bool {
		return r.IdentityID == "idp-1" && len(r.DocumentHandles) == 2
	})).Return("profile-1", nil).Once()

	out, err := h.orch.Submit(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, StatusComplete, out.Status)
	assert.Equal(t, StageComplete, out.Stage)
	assert.Equal(t, "idp-1", out.IdentityID)
	assert.Equal(t, "profile-1", out.ProfileID)
	assert.True(t, out.ProfilePersisted)
	assert.Len(t, out.DocumentHandles, 2)
	assert.Empty(t, out.FailedDocuments)
	assert.Nil(t, out.Failure)
	assert.Equal(t, 1, out.IdentityAttempts)
	assert.True(t, d.Discarded())
	h.notifier.AssertCalled(t, "Welcome", mock.Anything, "amelia@example.com", mock.Anything, mock.Anything)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Submissions.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.IdentityAttempts.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.DocumentUploads.WithLabelValues("succeeded")))
}

func TestSubmit_CommercialDuplicateIdentityStopsSaga(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypeCommercial, "aoc")

	dup := &identity.Error{Kind: identity.KindDuplicate, Message: "email already registered"}
	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Return("", dup).Once()

	out, err := h.orch.Submit(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, StatusIdentityFailed, out.Status)
	assert.Equal(t, StageFailed, out.Stage)
	require.NotNil(t, out.Failure)
	assert.Equal(t, FailureDuplicate, out.Failure.Kind)
	assert.Equal(t, "email already registered", out.Failure.Message)
	assert.Empty(t, out.IdentityID)

	h.identity.AssertNumberOfCalls(t, "CreateAccount", 1)
	h.uploader.AssertNotCalled(t, "UploadAll", mock.Anything, mock.Anything, mock.Anything)
	h.persister.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	assert.False(t, d.Discarded())
}

func TestSubmit_GatewayUnavailableStillCompletes(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical", "passport", "logbook")

	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Return("idp-1", nil).Once()
	unavailable := &fileupload.UploadResult{
		Succeeded: map[string]domain.DocumentHandle{},
		Failed: map[string]string{
			"medical": "document gateway unavailable", "passport": "document gateway unavailable", "logbook": "document gateway unavailable",
		},
	}
	h.uploader.On("UploadAll", mock.Anything, "idp-1", mock.Anything).
		Return(unavailable, fmt.Errorf("%w: dial tcp", apperrors.ErrGatewayUnavailable)).Once()
	h.persister.On("Persist", mock.Anything, mock.MatchedBy(func(r profile.Record) bool {
		return len(r.DocumentHandles) == 0
	})).Return("profile-1", nil).Once()

	out, err := h.orch.Submit(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, StatusComplete, out.Status)
	assert.Empty(t, out.DocumentHandles)
	assert.Len(t, out.FailedDocuments, 3)
	assert.Contains(t, out.FailedDocuments, "logbook")
}

func TestSubmit_ResubmitAfterPersistenceFailureReusesIdentity(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical", "passport")

	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Return("idp-1", nil).Once()
	h.uploadSucceeds()
	h.persister.On("Persist", mock.Anything, mock.Anything).Return("", apperrors.ErrPersistence).Once()
	h.persister.On("Persist", mock.Anything, mock.MatchedBy(func(r profile.Record) bool {
		return r.IdentityID == "idp-1" && len(r.DocumentHandles) == 2
	})).Return("profile-1", nil).Once()

	first, err := h.orch.Submit(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, StatusPersistenceFailed, first.Status)
	assert.Equal(t, "idp-1", first.IdentityID)
	assert.False(t, first.ProfilePersisted)
	assert.Equal(t, FailurePersistence, first.Failure.Kind)
	assert.False(t, d.Discarded())

	second, err := h.orch.Submit(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, second.Status)
	assert.Equal(t, "idp-1", second.IdentityID)
	assert.Equal(t, 0, second.IdentityAttempts)
	assert.Len(t, second.DocumentHandles, 2)

	h.identity.AssertNumberOfCalls(t, "CreateAccount", 1)
	// Documents stored by the first run are not uploaded again.
	h.uploader.AssertNumberOfCalls(t, "UploadAll", 1)
	h.persister.AssertNumberOfCalls(t, "Persist", 2)
}

// ==============================================================================
// PROPERTIES
// ==============================================================================

func TestSubmit_PartialUploadFailureCompletesWithSuccessfulHandles(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical", "passport", "logbook")

	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Return("idp-1", nil).Once()
	h.uploader.On("UploadAll", mock.Anything, "idp-1", mock.Anything).Return(&fileupload.UploadResult{
		Succeeded: map[string]domain.DocumentHandle{
			"medical":  {Key: "medical", Location: "gs://docs/medical"},
			"passport": {Key: "passport", Location: "gs://docs/passport"},
		},
		Failed: map[string]string{"logbook": "file storage failed: 503"},
	}, nil).Once()
	h.persister.On("Persist", mock.Anything, mock.Anything).Return("profile-1", nil).Once()

	out, err := h.orch.Submit(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, StatusComplete, out.Status)
	assert.ElementsMatch(t, []string{"medical", "passport"}, handleKeys(out.DocumentHandles))
	assert.Equal(t, map[string]string{"logbook": "file storage failed: 503"}, out.FailedDocuments)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DocumentUploads.WithLabelValues("failed")))
}

func TestSubmit_ConcurrentSubmitIsRejected(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical")

	entered := make(chan struct{})
	unblock := make(chan struct{})
	h.identity.On("CreateAccount", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-unblock
		}).
		Return("idp-1", nil).Once()
	h.uploadSucceeds()
	h.persister.On("Persist", mock.Anything, mock.Anything).Return("profile-1", nil).Once()

	var (
		wg    sync.WaitGroup
		first *Outcome
		ferr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, ferr = h.orch.Submit(context.Background(), d)
	}()

	<-entered
	second, err := h.orch.Submit(context.Background(), d)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyInFlight)
	assert.Nil(t, second)
	// The draft is also frozen for edits while the saga runs.
	assert.ErrorIs(t, d.SetVerification(verification()), apperrors.ErrAlreadyInFlight)

	close(unblock)
	wg.Wait()

	require.NoError(t, ferr)
	assert.Equal(t, StatusComplete, first.Status)
	h.identity.AssertNumberOfCalls(t, "CreateAccount", 1)
}

func TestSubmit_GuardRejectsDraftHeldElsewhere(t *testing.T) {
	guard := NewMemoryGuard()
	h := newHarness(t)
	h.orch.guard = guard
	d := newDraft(t, domain.UserTypePrivate)

	release, err := guard.Acquire(context.Background(), d.ID().String())
	require.NoError(t, err)

	_, err = h.orch.Submit(context.Background(), d)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyInFlight)
	h.identity.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything)

	release()
	release()
	_, err = guard.Acquire(context.Background(), d.ID().String())
	assert.NoError(t, err)
}

func TestSubmit_TransientIdentityFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate)

	transient := &identity.Error{Kind: identity.KindTransient, Message: "provider unreachable"}
	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Return("", transient).Twice()
	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Return("idp-1", nil).Once()
	h.persister.On("Persist", mock.Anything, mock.Anything).Return("profile-1", nil).Once()

	out, err := h.orch.Submit(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, StatusComplete, out.Status)
	assert.Equal(t, 3, out.IdentityAttempts)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.IdentityAttempts.WithLabelValues("transient")))
	// No documents: nothing to upload.
	h.uploader.AssertNotCalled(t, "UploadAll", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmit_TransientRetriesExhausted(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical")

	transient := &identity.Error{Kind: identity.KindTransient, Message: "provider status 503"}
	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Return("", transient)

	out, err := h.orch.Submit(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, StatusIdentityFailed, out.Status)
	assert.Equal(t, FailureTransient, out.Failure.Kind)
	assert.Equal(t, 3, out.IdentityAttempts)
	h.identity.AssertNumberOfCalls(t, "CreateAccount", 3)
	h.uploader.AssertNotCalled(t, "UploadAll", mock.Anything, mock.Anything, mock.Anything)
	h.persister.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
}

func TestSubmit_ValidationFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate)

	h.identity.On("CreateAccount", mock.Anything, mock.Anything).
		Return("", &identity.Error{Kind: identity.KindValidation, Message: "password too weak"}).Once()

	out, err := h.orch.Submit(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, StatusIdentityFailed, out.Status)
	assert.Equal(t, FailureValidation, out.Failure.Kind)
	h.identity.AssertNumberOfCalls(t, "CreateAccount", 1)
}

func TestSubmit_UnconfirmedIdentityIsNotRetried(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical")

	h.identity.On("CreateAccount", mock.Anything, mock.Anything).
		Return("", &identity.Error{Kind: identity.KindUnconfirmed, Message: "acknowledged without an id"}).Once()

	out, err := h.orch.Submit(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, StatusIdentityFailed, out.Status)
	assert.Equal(t, FailureUnconfirmed, out.Failure.Kind)
	assert.Equal(t, 1, out.IdentityAttempts)
	h.identity.AssertNumberOfCalls(t, "CreateAccount", 1)
	h.uploader.AssertNotCalled(t, "UploadAll", mock.Anything, mock.Anything, mock.Anything)
	h.persister.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
}

func TestSubmit_IncompleteDraftIsOrderingError(t *testing.T) {
	h := newHarness(t)
	d := draft.New(nil)
	require.NoError(t, d.SetUserType(domain.UserTypePrivate))
	require.NoError(t, d.SetPersonalDetails(privateDetails()))

	out, err := h.orch.Submit(context.Background(), d)

	assert.Nil(t, out)
	assert.ErrorIs(t, err, apperrors.ErrOrdering)
	assert.ErrorIs(t, err, apperrors.ErrDraftIncomplete)
	h.identity.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything)

	// The lock is released so the user can finish the draft.
	require.NoError(t, d.SetVerification(verification()))
}

func TestSubmit_CancelledBeforeIdentityHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.orch.Submit(ctx, d)

	assert.Nil(t, out)
	assert.ErrorIs(t, err, context.Canceled)
	h.identity.AssertNotCalled(t, "CreateAccount", mock.Anything, mock.Anything)
	assert.Empty(t, d.IdentityID())

	loaded, err := h.journal.Load(context.Background(), d.ID().String())
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSubmit_CallerLostAfterIdentityStopsAndResumes(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical")

	ctx, cancel := context.WithCancel(context.Background())
	h.identity.On("CreateAccount", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			// The provider call itself is not cancelled with the caller.
			assert.NoError(t, args.Get(0).(context.Context).Err())
			cancel()
		}).
		Return("idp-1", nil).Once()

	out, err := h.orch.Submit(ctx, d)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, out)
	assert.Equal(t, StatusPending, out.Status)
	assert.Equal(t, StageIdentityCreated, out.Stage)
	assert.Equal(t, "idp-1", out.IdentityID)
	assert.Equal(t, "idp-1", d.IdentityID())
	h.uploader.AssertNotCalled(t, "UploadAll", mock.Anything, mock.Anything, mock.Anything)

	journaled, err := h.journal.Load(context.Background(), d.ID().String())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, journaled.Status)

	h.uploadSucceeds()
	h.persister.On("Persist", mock.Anything, mock.Anything).Return("profile-1", nil).Once()

	resumed, err := h.orch.Submit(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, resumed.Status)
	h.identity.AssertNumberOfCalls(t, "CreateAccount", 1)
}

func TestSubmit_CompletedDraftReplaysRecordedOutcome(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical")

	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Return("idp-1", nil).Once()
	h.uploadSucceeds()
	h.persister.On("Persist", mock.Anything, mock.Anything).Return("profile-1", nil).Once()

	first, err := h.orch.Submit(context.Background(), d)
	require.NoError(t, err)

	again, err := h.orch.Submit(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	recorded, err := h.orch.Outcome(context.Background(), d.ID().String())
	require.NoError(t, err)
	assert.Equal(t, first, recorded)

	none, err := h.orch.Outcome(context.Background(), "never-submitted")
	require.NoError(t, err)
	assert.Nil(t, none)

	h.identity.AssertNumberOfCalls(t, "CreateAccount", 1)
	h.uploader.AssertNumberOfCalls(t, "UploadAll", 1)
	h.persister.AssertNumberOfCalls(t, "Persist", 1)
}

func TestSubmit_StepsRunInFixedOrder(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical")

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(step string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			order = append(order, step)
			mu.Unlock()
		}
	}
	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Run(record("identity")).Return("idp-1", nil).Once()
	h.uploader.On("UploadAll", mock.Anything, mock.Anything, mock.Anything).Run(record("documents")).
		Return(&fileupload.UploadResult{Succeeded: map[string]domain.DocumentHandle{}, Failed: map[string]string{}}, nil).Once()
	h.persister.On("Persist", mock.Anything, mock.Anything).Run(record("profile")).Return("profile-1", nil).Once()

	_, err := h.orch.Submit(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, []string{"identity", "documents", "profile"}, order)
}

func TestSubmit_WelcomeFailureDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(t)
	notifier := &MockNotifier{}
	notifier.On("Welcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp: connection refused")).Once()
	h.orch.notifier = notifier
	d := newDraft(t, domain.UserTypePrivate)

	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Return("idp-1", nil).Once()
	h.persister.On("Persist", mock.Anything, mock.Anything).Return("profile-1", nil).Once()

	out, err := h.orch.Submit(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, StatusComplete, out.Status)
	notifier.AssertExpectations(t)
}

func TestSubmit_ReturnedOutcomeIsACopy(t *testing.T) {
	h := newHarness(t)
	d := newDraft(t, domain.UserTypePrivate, "medical")

	h.identity.On("CreateAccount", mock.Anything, mock.Anything).Return("idp-1", nil).Once()
	h.uploader.On("UploadAll", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: down", apperrors.ErrGatewayUnavailable)).Once()
	h.persister.On("Persist", mock.Anything, mock.Anything).Return("", apperrors.ErrPersistence).Once()

	out, err := h.orch.Submit(context.Background(), d)
	require.NoError(t, err)
	assert.Contains(t, out.FailedDocuments, "medical")

	out.FailedDocuments["medical"] = "tampered"
	out.IdentityID = "other"

	journaled, err := h.journal.Load(context.Background(), d.ID().String())
	require.NoError(t, err)
	assert.Equal(t, "idp-1", journaled.IdentityID)
	assert.NotEqual(t, "tampered", journaled.FailedDocuments["medical"])
}

func handleKeys(m map[string]domain.DocumentHandle) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
