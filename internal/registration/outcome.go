package registration

import (
	"time"

	"skyportal/internal/domain"
)

// Status is the caller-visible result of a submission.
type Status string

const (
	StatusPending           Status = "pending"
	StatusIdentityFailed    Status = "identity_failed"
	StatusPersistenceFailed Status = "persistence_failed"
	StatusComplete          Status = "complete"
)

// Terminal reports whether no further work is expected for this outcome
// without a new submission.
func (s Status) Terminal() bool {
	return s == StatusIdentityFailed || s == StatusPersistenceFailed || s == StatusComplete
}

// Stage is the last saga state reached.
type Stage string

const (
	StageDraftValidated     Stage = "draft_validated"
	StageIdentityCreated    Stage = "identity_created"
	StageDocumentsAttempted Stage = "documents_attempted"
	StageComplete           Stage = "complete"
	StageFailed             Stage = "failed"
)

// Failure kinds reported in Outcome.Failure.
const (
	FailureDuplicate   = "duplicate"
	FailureValidation  = "validation"
	FailureTransient   = "transient"
	FailureUnconfirmed = "unconfirmed"
	FailureCancelled   = "cancelled"
	FailurePersistence = "persistence"
	FailureUnknown     = "unknown"
)

type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Outcome is the result of one Submit call. Callers receive a copy and may
// not share it with the orchestrator.
type Outcome struct {
	DraftID          string                           `json:"draft_id"`
	IdentityID       string                           `json:"identity_id,omitempty"`
	ProfileID        string                           `json:"profile_id,omitempty"`
	DocumentHandles  map[string]domain.DocumentHandle `json:"document_handles"`
	FailedDocuments  map[string]string                `json:"failed_documents,omitempty"`
	ProfilePersisted bool                             `json:"profile_persisted"`
	Status           Status                           `json:"status"`
	Stage            Stage                            `json:"stage"`
	Failure          *Failure                         `json:"failure,omitempty"`
	IdentityAttempts int                              `json:"identity_attempts"`
	StartedAt        time.Time                        `json:"started_at"`
	FinishedAt       time.Time                        `json:"finished_at"`
}

func newOutcome(draftID string, now time.Time) *Outcome {
	return &Outcome{
		DraftID:         draftID,
		DocumentHandles: make(map[string]domain.DocumentHandle),
		FailedDocuments: make(map[string]string),
		Status:          StatusPending,
		Stage:           StageDraftValidated,
		StartedAt:       now,
	}
}

func (o *Outcome) fail(status Status, kind, message string) {
	o.Status = status
	o.Stage = StageFailed
	o.Failure = &Failure{Kind: kind, Message: message}
}

// Clone returns a deep copy.
func (o *Outcome) Clone() *Outcome {
	if o == nil {
		return nil
	}
	out := *o
	out.DocumentHandles = domain.CopyHandles(o.DocumentHandles)
	out.FailedDocuments = make(map[string]string, len(o.FailedDocuments))
	for k, v := range o.FailedDocuments {
		out.FailedDocuments[k] = v
	}
	if o.Failure != nil {
		f := *o.Failure
		out.Failure = &f
	}
	return &out
}
