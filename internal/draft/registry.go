package draft

import (
	"sync"
	"time"

	apperrors "skyportal/pkg/errors"
	"skyportal/pkg/validator"

	"github.com/google/uuid"
)

// Registry keeps the drafts of live sessions in memory, keyed by draft ID.
// Idle drafts are expired lazily on access; a draft holding an identity or
// an in-flight submission is never expired.
type Registry struct {
	mu        sync.Mutex
	drafts    map[uuid.UUID]*Draft
	ttl       time.Duration
	validator *validator.Validator
	now       func() time.Time
}

func NewRegistry(ttl time.Duration, v *validator.Validator) *Registry {
	return &Registry{
		drafts:    make(map[uuid.UUID]*Draft),
		ttl:       ttl,
		validator: v,
		now:       time.Now,
	}
}

// Create starts a new, empty draft.
func (r *Registry) Create() *Draft {
	d := New(r.validator)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	r.drafts[d.ID()] = d
	return d
}

// Get returns a live draft.
func (r *Registry) Get(id uuid.UUID) (*Draft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()

	d, ok := r.drafts[id]
	if !ok {
		return nil, apperrors.ErrDraftNotFound
	}
	if d.Discarded() {
		delete(r.drafts, id)
		return nil, apperrors.ErrDraftNotFound
	}
	return d, nil
}

// Abandon discards a draft on explicit user request.
func (r *Registry) Abandon(id uuid.UUID) error {
	d, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := d.Discard(); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.drafts, id)
	r.mu.Unlock()
	return nil
}

// Forget drops a draft that finished its submission.
func (r *Registry) Forget(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.drafts, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drafts)
}

// Sweep expires idle drafts now and reports how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked()
}

func (r *Registry) sweepLocked() int {
	if r.ttl <= 0 {
		return 0
	}
	expired := 0
	cutoff := r.now().Add(-r.ttl)
	for id, d := range r.drafts {
		if d.IdentityID() != "" {
			continue
		}
		if d.idleSince().Before(cutoff) && d.Discard() == nil {
			delete(r.drafts, id)
			expired++
		}
	}
	return expired
}
