// Package handler provides HTTP handlers for the registration portal.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"skyportal/internal/domain"
	"skyportal/internal/draft"
	"skyportal/internal/registration"
	apperrors "skyportal/pkg/errors"
	"skyportal/pkg/logger"
	"skyportal/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ==============================================================================
// COLLABORATORS
// ==============================================================================

// Submitter runs and reports registration submissions.
type Submitter interface {
	Submit(ctx context.Context, d *draft.Draft) (*registration.Outcome, error)
	Outcome(ctx context.Context, draftID string) (*registration.Outcome, error)
}

// AvailabilityChecker answers whether an email can still register.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, email string) (bool, error)
}

// SessionIssuer signs the session token handed out on completion.
type SessionIssuer interface {
	Issue(identityID, email string, userType domain.UserType) (string, time.Time, error)
}

type RegistrationConfig struct {
	// MaxUploadBytes caps the whole multipart body of the documents step.
	MaxUploadBytes int64
	// CompleteRedirect is where the UI goes once registration is complete.
	CompleteRedirect string
	// RetryAfter is advertised on 503 responses.
	RetryAfter time.Duration
}

// RegistrationHandler exposes the registration wizard and its submission.
type RegistrationHandler struct {
	drafts       *draft.Registry
	submitter    Submitter
	availability AvailabilityChecker
	sessions     SessionIssuer
	validator    *validator.Validator
	logger       logger.Logger
	config       RegistrationConfig
}

func NewRegistrationHandler(
	drafts *draft.Registry,
	submitter Submitter,
	availability AvailabilityChecker,
	sessions SessionIssuer,
	val *validator.Validator,
	log logger.Logger,
	cfg RegistrationConfig,
) *RegistrationHandler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.CompleteRedirect == "" {
		cfg.CompleteRedirect = "/dashboard"
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 30 * time.Second
	}
	return &RegistrationHandler{
		drafts:       drafts,
		submitter:    submitter,
		availability: availability,
		sessions:     sessions,
		validator:    val,
		logger:       log,
		config:       cfg,
	}
}

// RegisterRoutes mounts the registration API on r.
func (h *RegistrationHandler) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/registrations", h.Create).Methods(http.MethodPost)
	api.HandleFunc("/registrations/{id}", h.Get).Methods(http.MethodGet)
	api.HandleFunc("/registrations/{id}", h.Abandon).Methods(http.MethodDelete)
	api.HandleFunc("/registrations/{id}/user-type", h.SetUserType).Methods(http.MethodPut)
	api.HandleFunc("/registrations/{id}/personal-details", h.SetPersonalDetails).Methods(http.MethodPut)
	api.HandleFunc("/registrations/{id}/verification", h.SetVerification).Methods(http.MethodPut)
	api.HandleFunc("/registrations/{id}/documents", h.SetDocuments).Methods(http.MethodPut)
	api.HandleFunc("/registrations/{id}/submit", h.Submit).Methods(http.MethodPost)
}

// AvailabilityRoute returns the availability check so callers can wrap it
// with a rate limiter before mounting.
func (h *RegistrationHandler) AvailabilityRoute() http.Handler {
	return http.HandlerFunc(h.CheckAvailability)
}

// ==============================================================================
// REQUEST / RESPONSE TYPES
// ==============================================================================

type userTypeRequest struct {
	UserType domain.UserType `json:"user_type"`
}

// personalDetailsRequest carries the password, which PersonalDetails never
// serialises.
type personalDetailsRequest struct {
	Email      string                    `json:"email"`
	Password   string                    `json:"password"`
	Phone      string                    `json:"phone"`
	Private    *domain.PrivateDetails    `json:"private,omitempty"`
	Commercial *domain.CommercialDetails `json:"commercial,omitempty"`
}

type draftResponse struct {
	DraftID       string                `json:"draft_id"`
	CompletedStep string                `json:"completed_step"`
	UserType      domain.UserType       `json:"user_type,omitempty"`
	Documents     []string              `json:"documents"`
	Submittable   bool                  `json:"submittable"`
	IdentityBound bool                  `json:"identity_bound"`
	LastOutcome   *registration.Outcome `json:"last_outcome,omitempty"`
}

type submitResponse struct {
	Outcome    *registration.Outcome `json:"outcome"`
	RedirectTo string                `json:"redirect_to,omitempty"`
	Token      string                `json:"token,omitempty"`
	ExpiresAt  *time.Time            `json:"expires_at,omitempty"`
	Message    string                `json:"message,omitempty"`
}

// ==============================================================================
// DRAFT LIFECYCLE
// ==============================================================================

// Create starts a new draft.
func (h *RegistrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	d := h.drafts.Create()
	h.respondJSON(w, http.StatusCreated, map[string]string{"draft_id": d.ID().String()})
}

// Get reports draft progress and the last submission outcome.
func (h *RegistrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.draftID(w, r)
	if !ok {
		return
	}

	last, err := h.submitter.Outcome(r.Context(), id.String())
	if err != nil {
		h.logger.Warn("Failed to load last outcome", map[string]interface{}{"draft_id": id.String(), "error": err.Error()})
	}

	d, err := h.drafts.Get(id)
	if err != nil {
		// A completed draft is gone from the registry but its outcome remains.
		if last != nil && last.Status == registration.StatusComplete {
			h.respondJSON(w, http.StatusOK, draftResponse{
				DraftID:       id.String(),
				CompletedStep: draft.StepDocuments.String(),
				Documents:     []string{},
				IdentityBound: true,
				LastOutcome:   last,
			})
			return
		}
		h.respondDraftError(w, err)
		return
	}

	snap := d.Snapshot()
	keys := make([]string, 0, len(snap.Documents))
	for _, doc := range snap.Documents {
		keys = append(keys, doc.Key)
	}

	h.respondJSON(w, http.StatusOK, draftResponse{
		DraftID:       id.String(),
		CompletedStep: snap.CompletedStep.String(),
		UserType:      snap.UserType,
		Documents:     keys,
		Submittable:   snap.IsComplete(),
		IdentityBound: snap.IdentityID != "",
		LastOutcome:   last,
	})
}

// Abandon discards a draft. Refused once an identity exists for it.
func (h *RegistrationHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	id, ok := h.draftID(w, r)
	if !ok {
		return
	}
	if err := h.drafts.Abandon(id); err != nil {
		h.respondDraftError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ==============================================================================
// WIZARD STEPS
// ==============================================================================

func (h *RegistrationHandler) SetUserType(w http.ResponseWriter, r *http.Request) {
	d, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req userTypeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := d.SetUserType(req.UserType); err != nil {
		h.respondDraftError(w, err)
		return
	}
	h.respondStep(w, d)
}

func (h *RegistrationHandler) SetPersonalDetails(w http.ResponseWriter, r *http.Request) {
	d, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req personalDetailsRequest
	if !h.decode(w, r, &req) {
		return
	}
	details := domain.PersonalDetails{
		Email:      strings.TrimSpace(req.Email),
		Password:   req.Password,
		Phone:      strings.TrimSpace(req.Phone),
		Private:    req.Private,
		Commercial: req.Commercial,
	}
	if fields := h.validator.ValidateStructured(details); fields != nil {
		h.respondInvalid(w, fields)
		return
	}
	if err := d.SetPersonalDetails(details); err != nil {
		h.respondDraftError(w, err)
		return
	}
	h.respondStep(w, d)
}

func (h *RegistrationHandler) SetVerification(w http.ResponseWriter, r *http.Request) {
	d, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req domain.Verification
	if !h.decode(w, r, &req) {
		return
	}
	if fields := h.validator.ValidateStructured(req); fields != nil {
		h.respondInvalid(w, fields)
		return
	}
	if err := d.SetVerification(req); err != nil {
		h.respondDraftError(w, err)
		return
	}
	h.respondStep(w, d)
}

// SetDocuments reads every file part of a multipart body. The form field
// name is the document key; an empty form completes the step with no files.
func (h *RegistrationHandler) SetDocuments(w http.ResponseWriter, r *http.Request) {
	d, ok := h.lookup(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		switch {
		case errors.Is(err, http.ErrNotMultipart):
			h.respondError(w, http.StatusBadRequest, "request is not multipart form")
		case errors.Is(err, http.ErrMissingBoundary):
			h.respondError(w, http.StatusBadRequest, "multipart boundary is missing")
		default:
			h.respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		}
		return
	}

	docs, err := readDocuments(mr)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %.1fMB", float64(h.config.MaxUploadBytes)/(1<<20)))
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := d.SetDocuments(docs); err != nil {
		h.respondDraftError(w, err)
		return
	}
	h.respondStep(w, d)
}

// readDocuments collects file parts in the order the client sent them. The
// form field name is the document key; non-file fields are ignored.
func readDocuments(mr *multipart.Reader) ([]domain.Document, error) {
	var docs []domain.Document
	seen := make(map[string]struct{})

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse multipart form: %w", err)
		}

		key := part.FormName()
		if part.FileName() == "" || key == "" {
			part.Close()
			continue
		}
		if _, dup := seen[key]; dup {
			part.Close()
			return nil, fmt.Errorf("document %q must have exactly one file", key)
		}
		seen[key] = struct{}{}

		var buf bytes.Buffer
		_, err = io.Copy(&buf, part)
		part.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to read document %q", key)
		}

		mimeType := part.Header.Get("Content-Type")
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = http.DetectContentType(buf.Bytes())
		}
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = strings.TrimSpace(mimeType[:i])
		}

		docs = append(docs, domain.Document{
			Key:         key,
			DisplayName: filepath.Base(part.FileName()),
			MimeType:    mimeType,
			Bytes:       buf.Bytes(),
		})
	}
}

// ==============================================================================
// SUBMISSION
// ==============================================================================

// Submit runs the registration saga for the draft.
func (h *RegistrationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.draftID(w, r)
	if !ok {
		return
	}

	d, err := h.drafts.Get(id)
	if err != nil {
		// Resubmitting a completed draft replays its outcome.
		if errors.Is(err, apperrors.ErrDraftNotFound) {
			if prior, lerr := h.submitter.Outcome(r.Context(), id.String()); lerr == nil &&
				prior != nil && prior.Status == registration.StatusComplete {
				h.respondJSON(w, http.StatusOK, submitResponse{Outcome: prior, RedirectTo: h.config.CompleteRedirect})
				return
			}
		}
		h.respondDraftError(w, err)
		return
	}

	// Taken before Submit, which clears the draft on completion.
	snap := d.Snapshot()

	outcome, err := h.submitter.Submit(r.Context(), d)
	if err != nil {
		h.respondSubmitError(w, id, outcome, err)
		return
	}

	log := h.logger.With(map[string]interface{}{"draft_id": id.String(), "status": string(outcome.Status)})

	switch outcome.Status {
	case registration.StatusComplete:
		h.drafts.Forget(id)
		resp := submitResponse{Outcome: outcome, RedirectTo: h.config.CompleteRedirect}
		if h.sessions != nil && snap.PersonalDetails != nil {
			token, expiresAt, err := h.sessions.Issue(outcome.IdentityID, snap.PersonalDetails.Email, snap.UserType)
			if err != nil {
				// The account exists; the UI falls back to the sign-in page.
				log.Error("Failed to issue session token", map[string]interface{}{"error": err.Error()})
			} else {
				resp.Token = token
				resp.ExpiresAt = &expiresAt
			}
		}
		log.Info("Registration complete", map[string]interface{}{
			"identity_id":      outcome.IdentityID,
			"failed_documents": len(outcome.FailedDocuments),
		})
		h.respondJSON(w, http.StatusCreated, resp)

	case registration.StatusIdentityFailed:
		status, message := identityFailureStatus(outcome.Failure)
		if status == http.StatusServiceUnavailable {
			h.setRetryAfter(w)
		}
		h.respondJSON(w, status, submitResponse{Outcome: outcome, Message: message})

	case registration.StatusPersistenceFailed:
		log.Warn("Registration profile not saved", nil)
		h.setRetryAfter(w)
		h.respondJSON(w, http.StatusServiceUnavailable, submitResponse{
			Outcome: outcome,
			Message: "Your account was created but your profile could not be saved. Please submit again.",
		})

	default:
		h.respondJSON(w, http.StatusAccepted, submitResponse{
			Outcome: outcome,
			Message: "Registration is still in progress. Please submit again to finish.",
		})
	}
}

func (h *RegistrationHandler) respondSubmitError(w http.ResponseWriter, id uuid.UUID, outcome *registration.Outcome, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller left after the identity was created; a resubmission resumes.
		if outcome != nil {
			h.respondJSON(w, http.StatusAccepted, submitResponse{
				Outcome: outcome,
				Message: "Registration is still in progress. Please submit again to finish.",
			})
			return
		}
		h.setRetryAfter(w)
		h.respondError(w, http.StatusServiceUnavailable, "Request cancelled before registration started")
	case errors.Is(err, apperrors.ErrDraftIncomplete):
		h.respondError(w, http.StatusConflict, "Registration is incomplete")
	default:
		h.respondDraftError(w, err)
	}
	h.logger.Debug("Submission rejected", map[string]interface{}{"draft_id": id.String(), "error": err.Error()})
}

func identityFailureStatus(f *registration.Failure) (int, string) {
	if f == nil {
		return http.StatusServiceUnavailable, "Account could not be created. Please try again."
	}
	switch f.Kind {
	case registration.FailureDuplicate:
		return http.StatusConflict, "An account with this email already exists."
	case registration.FailureValidation:
		return http.StatusUnprocessableEntity, "The account details were rejected. Please review them."
	case registration.FailureUnconfirmed:
		// Resubmitting could register the email twice at the provider.
		return http.StatusBadGateway, "Your account may already have been created. Please contact support before trying again."
	default:
		return http.StatusServiceUnavailable, "Account could not be created. Please try again."
	}
}

// ==============================================================================
// AVAILABILITY
// ==============================================================================

// CheckAvailability reports whether an email is still free.
func (h *RegistrationHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if err := h.validator.Var(email, "required,email,max=254"); err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "A valid email is required")
		return
	}

	available, err := h.availability.CheckAvailability(r.Context(), email)
	if err != nil {
		h.logger.Warn("Availability check failed", map[string]interface{}{"error": err.Error()})
		h.setRetryAfter(w)
		h.respondError(w, http.StatusServiceUnavailable, "Availability check is temporarily unavailable")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"email": email, "available": available})
}

// ==============================================================================
// HELPERS
// ==============================================================================

func (h *RegistrationHandler) draftID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid registration ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *RegistrationHandler) lookup(w http.ResponseWriter, r *http.Request) (*draft.Draft, bool) {
	id, ok := h.draftID(w, r)
	if !ok {
		return nil, false
	}
	d, err := h.drafts.Get(id)
	if err != nil {
		h.respondDraftError(w, err)
		return nil, false
	}
	return d, true
}

func (h *RegistrationHandler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dest); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "Request body is required")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *RegistrationHandler) respondStep(w http.ResponseWriter, d *draft.Draft) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"draft_id":       d.ID().String(),
		"completed_step": d.CompletedStep().String(),
		"submittable":    d.IsComplete(),
	})
}

func (h *RegistrationHandler) respondDraftError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrDraftNotFound), errors.Is(err, apperrors.ErrDraftDiscarded):
		h.respondError(w, http.StatusNotFound, "Registration not found")
	case errors.Is(err, apperrors.ErrOrdering):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrAlreadyInFlight):
		h.respondError(w, http.StatusConflict, "Registration is already being submitted")
	case errors.Is(err, apperrors.ErrIdentityBound):
		h.respondError(w, http.StatusConflict, "An account already exists for this registration; submit it again to finish")
	case errors.Is(err, apperrors.ErrValidation):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("Registration request failed", map[string]interface{}{"error": err.Error()})
		h.respondError(w, http.StatusInternalServerError, "Registration request failed")
	}
}

// respondInvalid reports field-level failures so the wizard can mark inputs.
func (h *RegistrationHandler) respondInvalid(w http.ResponseWriter, fields map[string]string) {
	h.respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
		"error":  "Validation failed",
		"fields": fields,
	})
}

func (h *RegistrationHandler) setRetryAfter(w http.ResponseWriter) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(h.config.RetryAfter.Seconds())))
}

func (h *RegistrationHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *RegistrationHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
