// Package draft holds the in-progress, multi-step registration payload.
//
// A Draft is append-only across steps: a step can only be completed once
// every earlier step is set, and a rejected call leaves the draft untouched.
// Drafts live in process memory only and are never persisted before submission.
package draft

import (
	"fmt"
	"sync"
	"time"

	"skyportal/internal/domain"
	apperrors "skyportal/pkg/errors"
	"skyportal/pkg/validator"

	"github.com/google/uuid"
)

// Step counts completed wizard steps.
type Step int

const (
	StepNone Step = iota
	StepUserType
	StepPersonalDetails
	StepVerification
	StepDocuments
)

var stepNames = map[Step]string{
	StepNone:            "none",
	StepUserType:        "user_type",
	StepPersonalDetails: "personal_details",
	StepVerification:    "verification",
	StepDocuments:       "documents",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// OrderingError reports a step attempted before its prerequisites, or a
// write to a step that can no longer change.
type OrderingError struct {
	Attempted Step
	Completed Step
	Reason    string
}

func (e *OrderingError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", apperrors.ErrOrdering, e.Reason)
	}
	return fmt.Sprintf("%s: cannot set %s before %s (completed: %s)",
		apperrors.ErrOrdering, e.Attempted, e.Attempted-1, e.Completed)
}

func (e *OrderingError) Is(target error) bool {
	return target == apperrors.ErrOrdering
}

// Snapshot is an immutable deep copy of a draft taken at submission time.
type Snapshot struct {
	ID              uuid.UUID
	UserType        domain.UserType
	PersonalDetails *domain.PersonalDetails
	Verification    *domain.Verification
	Documents       []domain.Document
	CompletedStep   Step
	IdentityID      string
}

// IsComplete reports whether the snapshot can be submitted.
func (s Snapshot) IsComplete() bool {
	return s.UserType != "" && s.PersonalDetails != nil && s.Verification != nil
}

// Draft accumulates step outputs for one registration.
type Draft struct {
	mu sync.Mutex

	id              uuid.UUID
	userType        domain.UserType
	personalDetails *domain.PersonalDetails
	verification    *domain.Verification
	documents       []domain.Document
	completedStep   Step

	identityID string
	inFlight   bool
	discarded  bool

	createdAt time.Time
	updatedAt time.Time

	validator *validator.Validator
}

// New creates an empty draft. A nil validator uses the default rules.
func New(v *validator.Validator) *Draft {
	if v == nil {
		v = validator.New()
	}
	now := time.Now().UTC()
	return &Draft{
		id:        uuid.New(),
		createdAt: now,
		updatedAt: now,
		validator: v,
	}
}

func (d *Draft) ID() uuid.UUID {
	return d.id
}

// guard checks the preconditions shared by every mutation. Caller holds mu.
func (d *Draft) guard(step Step) error {
	if d.discarded {
		return apperrors.ErrDraftDiscarded
	}
	if d.inFlight {
		return apperrors.ErrAlreadyInFlight
	}
	if d.completedStep < step-1 {
		return &OrderingError{Attempted: step, Completed: d.completedStep}
	}
	return nil
}

func (d *Draft) advance(step Step) {
	if step > d.completedStep {
		d.completedStep = step
	}
	d.updatedAt = time.Now().UTC()
}

// SetUserType completes step 1. The user type can be chosen only once.
func (d *Draft) SetUserType(t domain.UserType) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard(StepUserType); err != nil {
		return err
	}
	if d.userType != "" {
		return &OrderingError{
			Attempted: StepUserType,
			Completed: d.completedStep,
			Reason:    "user type is already set and cannot change",
		}
	}
	if !t.Valid() {
		return fmt.Errorf("%w: unknown user type %q", apperrors.ErrValidation, t)
	}

	d.userType = t
	d.advance(StepUserType)
	return nil
}

// SetPersonalDetails completes step 2. The variant must match the user type.
func (d *Draft) SetPersonalDetails(p domain.PersonalDetails) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard(StepPersonalDetails); err != nil {
		return err
	}
	if d.identityID != "" {
		return apperrors.ErrIdentityBound
	}

	switch d.userType {
	case domain.UserTypePrivate:
		if p.Private == nil || p.Commercial != nil {
			return fmt.Errorf("%w: private registration requires private details only", apperrors.ErrValidation)
		}
	case domain.UserTypeCommercial:
		if p.Commercial == nil || p.Private != nil {
			return fmt.Errorf("%w: commercial registration requires commercial details only", apperrors.ErrValidation)
		}
	}
	if err := d.validator.Validate(p); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	details := p.Clone()
	d.personalDetails = &details
	d.advance(StepPersonalDetails)
	return nil
}

// SetVerification completes step 3.
func (d *Draft) SetVerification(v domain.Verification) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard(StepVerification); err != nil {
		return err
	}
	if err := d.validator.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	d.verification = &v
	d.advance(StepVerification)
	return nil
}

// SetDocuments completes step 4. An empty list is a valid completion.
func (d *Draft) SetDocuments(docs []domain.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.guard(StepDocuments); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(docs))
	copied := make([]domain.Document, 0, len(docs))
	for i, doc := range docs {
		if err := d.validator.Validate(doc); err != nil {
			return fmt.Errorf("%w: document %d: %v", apperrors.ErrValidation, i, err)
		}
		if _, dup := seen[doc.Key]; dup {
			return fmt.Errorf("%w: duplicate document key %q", apperrors.ErrValidation, doc.Key)
		}
		seen[doc.Key] = struct{}{}
		copied = append(copied, doc.Clone())
	}

	d.documents = copied
	d.advance(StepDocuments)
	return nil
}

// IsComplete is true once user type, personal details and verification are set.
func (d *Draft) IsComplete() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userType != "" && d.personalDetails != nil && d.verification != nil
}

func (d *Draft) CompletedStep() Step {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completedStep
}

// IdentityID returns the identity bound by a previous submission, if any.
func (d *Draft) IdentityID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identityID
}

// Snapshot returns a deep copy that later edits cannot reach.
func (d *Draft) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Snapshot{
		ID:            d.id,
		UserType:      d.userType,
		CompletedStep: d.completedStep,
		IdentityID:    d.identityID,
	}
	if d.personalDetails != nil {
		p := d.personalDetails.Clone()
		s.PersonalDetails = &p
	}
	if d.verification != nil {
		v := *d.verification
		s.Verification = &v
	}
	if d.documents != nil {
		s.Documents = make([]domain.Document, len(d.documents))
		for i, doc := range d.documents {
			s.Documents[i] = doc.Clone()
		}
	}
	return s
}

// ==============================================================================
// SUBMISSION LIFECYCLE
// ==============================================================================

// Lock marks the draft as held by a submission. While locked every setter
// and Discard fail with ErrAlreadyInFlight.
func (d *Draft) Lock() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.discarded {
		return apperrors.ErrDraftDiscarded
	}
	if d.inFlight {
		return apperrors.ErrAlreadyInFlight
	}
	d.inFlight = true
	return nil
}

func (d *Draft) Unlock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inFlight = false
}

// BindIdentity records the identity created for this draft so a later
// submission reuses it. The first binding wins.
func (d *Draft) BindIdentity(identityID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.identityID == "" {
		d.identityID = identityID
		d.updatedAt = time.Now().UTC()
	}
}

// Complete discards a draft after a successful submission. It is the only
// way to discard a draft that holds an identity.
func (d *Draft) Complete() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clear()
}

// Discard abandons the draft. Refused while a submission is in flight or
// once an identity exists, since that identity would be left with no way
// to finish registration.
func (d *Draft) Discard() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inFlight {
		return apperrors.ErrAlreadyInFlight
	}
	if d.identityID != "" {
		return apperrors.ErrIdentityBound
	}
	d.clear()
	return nil
}

func (d *Draft) Discarded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.discarded
}

func (d *Draft) clear() {
	d.discarded = true
	d.personalDetails = nil
	d.verification = nil
	d.documents = nil
	d.updatedAt = time.Now().UTC()
}

// idleSince reports the last mutation time.
func (d *Draft) idleSince() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updatedAt
}
