// Package registration runs the registration completion saga: create the
// identity, upload documents, then persist the profile.
//
// Identity creation is the expensive, non-idempotent step. It runs at most
// once per draft; later submissions of the same draft reuse the identity
// recorded on the draft and in the journal. Document failures never abort
// the saga and nothing is compensated when persistence fails.
package registration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"skyportal/internal/domain"
	"skyportal/internal/draft"
	"skyportal/internal/fileupload"
	"skyportal/internal/identity"
	"skyportal/internal/profile"
	apperrors "skyportal/pkg/errors"
	"skyportal/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// ==============================================================================
// PORTS
// ==============================================================================

type IdentityProvisioner interface {
	CreateAccount(ctx context.Context, acct identity.Account) (string, error)
}

type DocumentUploader interface {
	UploadAll(ctx context.Context, identityID string, docs []domain.Document) (*fileupload.UploadResult, error)
}

type ProfilePersister interface {
	Persist(ctx context.Context, rec profile.Record) (string, error)
}

// Dependencies wires the orchestrator. Identity, Uploader and Persister are
// required; the rest fall back to in-memory or no-op implementations.
type Dependencies struct {
	Identity  IdentityProvisioner
	Uploader  DocumentUploader
	Persister ProfilePersister
	Journal   Journal
	Guard     Guard
	Notifier  Notifier
	Metrics   *Metrics
	Logger    logger.Logger
}

type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Orchestrator struct {
	identity  IdentityProvisioner
	uploader  DocumentUploader
	persister ProfilePersister
	journal   Journal
	guard     Guard
	notifier  Notifier
	metrics   *Metrics
	logger    logger.Logger
	config    Config
	now       func() time.Time
}

func New(deps Dependencies, cfg Config) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Second
	}

	o := &Orchestrator{
		identity:  deps.Identity,
		uploader:  deps.Uploader,
		persister: deps.Persister,
		journal:   deps.Journal,
		guard:     deps.Guard,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		config:    cfg,
		now:       time.Now,
	}
	if o.journal == nil {
		o.journal = NewMemoryJournal()
	}
	if o.guard == nil {
		o.guard = NewMemoryGuard()
	}
	if o.notifier == nil {
		o.notifier = nopNotifier{}
	}
	if o.logger == nil {
		o.logger = logger.NewNop()
	}
	return o
}

// ==============================================================================
// SUBMIT
// ==============================================================================

// Submit runs the saga for d. Terminal failures (identity_failed,
// persistence_failed) are reported in the outcome with a nil error. A
// non-nil error means misuse (ErrAlreadyInFlight, ErrOrdering for an
// incomplete draft), cancellation before identity creation (nil outcome),
// or loss of the caller after identity creation (pending outcome plus the
// context error; submitting again resumes).
func (o *Orchestrator) Submit(ctx context.Context, d *draft.Draft) (*Outcome, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: no draft", apperrors.ErrDraftIncomplete)
	}
	draftID := d.ID().String()

	if err := d.Lock(); err != nil {
		// A completed draft is discarded; replay its recorded outcome.
		if errors.Is(err, apperrors.ErrDraftDiscarded) {
			if prior, lerr := o.journal.Load(ctx, draftID); lerr == nil && prior != nil && prior.Status == StatusComplete {
				return prior.Clone(), nil
			}
		}
		return nil, err
	}
	defer d.Unlock()

	release, err := o.guard.Acquire(ctx, draftID)
	if err != nil {
		return nil, err
	}
	defer release()

	snap := d.Snapshot()
	if !snap.IsComplete() {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrDraftIncomplete, &draft.OrderingError{
			Attempted: draft.StepDocuments,
			Completed: snap.CompletedStep,
			Reason:    "draft is incomplete and cannot be submitted",
		})
	}

	log := o.logger.With(map[string]interface{}{"draft_id": draftID})

	prior, err := o.journal.Load(ctx, draftID)
	if err != nil {
		// The draft's own binding still prevents a second identity.
		log.Warn("Failed to load submission journal", map[string]interface{}{"error": err})
		prior = nil
	}
	if prior != nil && prior.Status == StatusComplete {
		log.Info("Submission already complete, returning recorded outcome", nil)
		return prior.Clone(), nil
	}

	// Caller cancellation is honoured only until identity creation starts.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &saga{
		o:       o,
		caller:  ctx,
		work:    context.WithoutCancel(ctx),
		draft:   d,
		snap:    snap,
		prior:   prior,
		log:     log,
		started: o.now(),
		out:     newOutcome(draftID, o.now().UTC()),
	}
	return s.run()
}

// Outcome returns the last journaled outcome for a draft, or nil when the
// draft was never submitted.
func (o *Orchestrator) Outcome(ctx context.Context, draftID string) (*Outcome, error) {
	out, err := o.journal.Load(ctx, draftID)
	if err != nil {
		return nil, err
	}
	return out.Clone(), nil
}

// saga holds the state of one Submit call.
type saga struct {
	o      *Orchestrator
	caller context.Context
	// work carries values from the caller but ignores its cancellation, so
	// an external call that has started is never torn down halfway.
	work    context.Context
	draft   *draft.Draft
	snap    draft.Snapshot
	prior   *Outcome
	log     logger.Logger
	started time.Time
	out     *Outcome
}

func (s *saga) run() (*Outcome, error) {
	if err := s.provisionIdentity(); err != nil {
		return s.finish(err)
	}
	if s.out.Status == StatusIdentityFailed {
		return s.finish(nil)
	}

	if err := s.checkpoint(); err != nil {
		return s.finish(err)
	}

	s.uploadDocuments()

	if err := s.checkpoint(); err != nil {
		return s.finish(err)
	}

	s.persistProfile()
	return s.finish(nil)
}

// provisionIdentity reuses a known identity or creates one. A returned error
// means the caller went away during retries.
func (s *saga) provisionIdentity() error {
	identityID := s.snap.IdentityID
	if identityID == "" && s.prior != nil {
		identityID = s.prior.IdentityID
	}
	if identityID != "" {
		s.log.Info("Reusing identity from previous submission", map[string]interface{}{
			"identity_id": identityID,
		})
		s.draft.BindIdentity(identityID)
		s.identityCreated(identityID)
		return nil
	}

	acct := accountFrom(s.snap)
	id, err := s.createWithRetry(acct)
	if err != nil {
		kind, msg := classifyIdentityFailure(err)
		s.out.fail(StatusIdentityFailed, kind, msg)
		s.log.Warn("Identity creation failed", map[string]interface{}{
			"kind":     kind,
			"attempts": s.out.IdentityAttempts,
			"error":    err,
		})
		if kind == FailureCancelled {
			return err
		}
		return nil
	}

	s.draft.BindIdentity(id)
	s.identityCreated(id)
	s.log.Info("Identity created", map[string]interface{}{
		"identity_id": id,
		"attempts":    s.out.IdentityAttempts,
	})
	return nil
}

func (s *saga) identityCreated(id string) {
	s.out.IdentityID = id
	s.out.Stage = StageIdentityCreated
	s.save()
}

// createWithRetry calls the provider, retrying transient failures with
// exponential backoff. Retries stop when the caller goes away; a call already
// in progress is allowed to finish.
func (s *saga) createWithRetry(acct identity.Account) (string, error) {
	cfg := s.o.config

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1)), s.caller)

	op := func() (string, error) {
		s.out.IdentityAttempts++
		id, err := s.o.identity.CreateAccount(s.work, acct)
		if err != nil {
			kind := identity.KindOf(err)
			if kind == "" {
				kind = FailureUnknown
			}
			s.o.metrics.IncrementIdentityAttempt(string(kind))
			if !identity.IsRetryable(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		s.o.metrics.IncrementIdentityAttempt("success")
		return id, nil
	}

	notify := func(err error, wait time.Duration) {
		s.log.Warn("Transient identity failure, retrying", map[string]interface{}{
			"attempt": s.out.IdentityAttempts,
			"wait_ms": wait.Milliseconds(),
			"error":   err,
		})
	}

	return backoff.RetryNotifyWithData(op, policy, notify)
}

// checkpoint stops the saga when the caller has gone away.
func (s *saga) checkpoint() error {
	if err := s.caller.Err(); err != nil {
		s.log.Warn("Caller went away, stopping before next step", map[string]interface{}{
			"stage": s.out.Stage,
			"error": err,
		})
		return err
	}
	return nil
}

func (s *saga) uploadDocuments() {
	pending := make([]domain.Document, 0, len(s.snap.Documents))
	for _, doc := range s.snap.Documents {
		if h, ok := s.reusableHandle(doc); ok {
			s.out.DocumentHandles[doc.Key] = h
			continue
		}
		pending = append(pending, doc)
	}

	if len(pending) > 0 {
		res, err := s.o.uploader.UploadAll(s.work, s.out.IdentityID, pending)
		if res != nil {
			for k, h := range res.Succeeded {
				s.out.DocumentHandles[k] = h
			}
			for k, reason := range res.Failed {
				s.out.FailedDocuments[k] = reason
			}
		}
		if err != nil {
			// Unreachable store: every pending key failed, the saga carries on.
			for _, doc := range pending {
				if _, ok := s.out.DocumentHandles[doc.Key]; ok {
					continue
				}
				if _, ok := s.out.FailedDocuments[doc.Key]; !ok {
					s.out.FailedDocuments[doc.Key] = err.Error()
				}
			}
			s.log.Warn("Document upload unavailable, continuing without documents", map[string]interface{}{
				"error": err,
			})
		}
		failed := countFailed(s.out.FailedDocuments, pending)
		s.o.metrics.AddDocumentUploads(len(pending)-failed, failed)
	}

	s.out.Stage = StageDocumentsAttempted
	if len(s.out.FailedDocuments) > 0 {
		s.log.Warn("Some documents were not stored", map[string]interface{}{
			"failed": keysOf(s.out.FailedDocuments),
		})
	}
	s.save()
}

// reusableHandle returns the handle from a previous attempt when the same
// bytes were already stored under the same key.
func (s *saga) reusableHandle(doc domain.Document) (domain.DocumentHandle, bool) {
	if s.prior == nil {
		return domain.DocumentHandle{}, false
	}
	h, ok := s.prior.DocumentHandles[doc.Key]
	if !ok {
		return domain.DocumentHandle{}, false
	}
	sum := sha256.Sum256(doc.Bytes)
	if h.SHA256 != "" && h.SHA256 != hex.EncodeToString(sum[:]) {
		return domain.DocumentHandle{}, false
	}
	return h, true
}

func (s *saga) persistProfile() {
	rec := profile.Record{
		IdentityID:      s.out.IdentityID,
		UserType:        s.snap.UserType,
		PersonalDetails: *s.snap.PersonalDetails,
		Verification:    *s.snap.Verification,
		DocumentHandles: domain.CopyHandles(s.out.DocumentHandles),
	}

	profileID, err := s.o.persister.Persist(s.work, rec)
	if err != nil {
		s.out.fail(StatusPersistenceFailed, FailurePersistence, err.Error())
		s.log.Error("Profile persistence failed; identity kept for resubmission", map[string]interface{}{
			"identity_id": s.out.IdentityID,
			"error":       err,
		})
		s.save()
		return
	}

	s.out.ProfileID = profileID
	s.out.ProfilePersisted = true
	s.out.Status = StatusComplete
	s.out.Stage = StageComplete
	s.out.Failure = nil
	s.save()

	s.draft.Complete()

	if err := s.o.notifier.Welcome(s.work, s.snap.PersonalDetails.Email, *s.snap.PersonalDetails, s.out); err != nil {
		s.log.Warn("Welcome email failed", map[string]interface{}{"error": err})
	}
}

func (s *saga) finish(err error) (*Outcome, error) {
	s.out.FinishedAt = s.o.now().UTC()
	s.save()

	s.o.metrics.IncrementSubmission(s.out.Status)
	s.o.metrics.ObserveSubmitLatency(time.Since(s.started))

	s.log.Info("Submission finished", map[string]interface{}{
		"status":            s.out.Status,
		"stage":             s.out.Stage,
		"identity_id":       s.out.IdentityID,
		"documents_stored":  len(s.out.DocumentHandles),
		"documents_failed":  len(s.out.FailedDocuments),
		"identity_attempts": s.out.IdentityAttempts,
	})

	return s.out.Clone(), err
}

// save journals the current outcome. A journal failure is logged; the draft
// binding still guards the identity within this process.
func (s *saga) save() {
	if err := s.o.journal.Save(s.work, s.out); err != nil {
		s.log.Warn("Failed to journal submission outcome", map[string]interface{}{
			"stage": s.out.Stage,
			"error": err,
		})
	}
}

// ==============================================================================
// HELPERS
// ==============================================================================

func accountFrom(snap draft.Snapshot) identity.Account {
	first, last := snap.PersonalDetails.AccountHolder()
	return identity.Account{
		Email:     snap.PersonalDetails.Email,
		Password:  snap.PersonalDetails.Password,
		FirstName: first,
		LastName:  last,
		UserType:  snap.UserType,
	}
}

func classifyIdentityFailure(err error) (kind, message string) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if identity.KindOf(err) == "" {
			return FailureCancelled, err.Error()
		}
	}

	var ie *identity.Error
	if errors.As(err, &ie) {
		return string(ie.Kind), ie.Message
	}
	return FailureUnknown, err.Error()
}

func countFailed(failed map[string]string, docs []domain.Document) int {
	n := 0
	for _, d := range docs {
		if _, ok := failed[d.Key]; ok {
			n++
		}
	}
	return n
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
