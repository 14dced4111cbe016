// Package profile writes the application profile of a provisioned identity.
package profile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"skyportal/internal/domain"
	apperrors "skyportal/pkg/errors"
	"skyportal/pkg/logger"
	"skyportal/pkg/validator"

	"github.com/google/uuid"
)

// Record is everything a completed registration stores about a user.
type Record struct {
	IdentityID      string                           `validate:"required"`
	UserType        domain.UserType                  `validate:"required,oneof=private commercial"`
	PersonalDetails domain.PersonalDetails           `validate:"-"`
	Verification    domain.Verification              `validate:"-"`
	DocumentHandles map[string]domain.DocumentHandle `validate:"-"`
}

// Persister is the orchestrator-facing contract.
type Persister interface {
	Persist(ctx context.Context, rec Record) (string, error)
}

// Repository stores a profile and its document handles atomically.
// Save upserts by identity id and returns the stored profile id.
type Repository interface {
	Save(ctx context.Context, p *domain.Profile, handles []domain.DocumentHandle) (uuid.UUID, error)
	GetByIdentity(ctx context.Context, identityID string) (*domain.Profile, []domain.DocumentHandle, error)
}

type Service struct {
	repo      Repository
	validator *validator.Validator
	logger    logger.Logger
	now       func() time.Time
}

func NewService(repo Repository, v *validator.Validator, log logger.Logger) *Service {
	if v == nil {
		v = validator.New()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{repo: repo, validator: v, logger: log, now: time.Now}
}

// Persist writes the profile in one transaction. There is no internal
// retry; every failure is reported as ErrPersistence.
func (s *Service) Persist(ctx context.Context, rec Record) (string, error) {
	if err := s.validator.Validate(rec); err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	now := s.now().UTC()
	details := rec.PersonalDetails.Clone()
	details.Password = ""

	p := &domain.Profile{
		ID:           uuid.New(),
		IdentityID:   rec.IdentityID,
		UserType:     rec.UserType,
		Email:        strings.TrimSpace(details.Email),
		Phone:        details.Phone,
		DisplayName:  domain.DisplayNameFor(details),
		Details:      domain.JSONB[domain.PersonalDetails]{V: details},
		Verification: domain.JSONB[domain.Verification]{V: rec.Verification},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	id, err := s.repo.Save(ctx, p, sortedHandles(rec.DocumentHandles))
	if err != nil {
		s.logger.Error("Profile persistence failed", map[string]interface{}{
			"identity_id": rec.IdentityID,
			"error":       err,
		})
		if apperrors.Is(err, apperrors.ErrPersistence) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}

	s.logger.Info("Profile persisted", map[string]interface{}{
		"identity_id": rec.IdentityID,
		"profile_id":  id.String(),
		"documents":   len(rec.DocumentHandles),
	})
	return id.String(), nil
}

// Get loads a stored profile with its handles keyed by document key.
func (s *Service) Get(ctx context.Context, identityID string) (*domain.Profile, map[string]domain.DocumentHandle, error) {
	p, handles, err := s.repo.GetByIdentity(ctx, identityID)
	if err != nil {
		return nil, nil, err
	}
	out := make(map[string]domain.DocumentHandle, len(handles))
	for _, h := range handles {
		out[h.Key] = h
	}
	return p, out, nil
}

func sortedHandles(in map[string]domain.DocumentHandle) []domain.DocumentHandle {
	out := make([]domain.DocumentHandle, 0, len(in))
	for _, h := range in {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
