package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/core/port"
	"github.com/arklim/storefront-signup/internal/repository"
)

// PendingRegistrationRepository keeps pending sign-ups in a map. Intended for development
// and tests; records are lost on restart.
type PendingRegistrationRepository struct {
	mu      sync.RWMutex
	entries map[string]domain.PendingRegistration
}

// NewPendingRegistrationRepository constructs an empty in-memory repository.
func NewPendingRegistrationRepository() *PendingRegistrationRepository {
	return &PendingRegistrationRepository{entries: make(map[string]domain.PendingRegistration)}
}

func (r *PendingRegistrationRepository) Upsert(_ context.Context, pending domain.PendingRegistration) error {
	key := domain.NormalizeEmail(pending.Email)
	if key == "" {
		return errors.New("email is required")
	}
	pending.Email = key

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = pending
	return nil
}

func (r *PendingRegistrationRepository) Get(_ context.Context, email string) (*domain.PendingRegistration, error) {
	key := domain.NormalizeEmail(email)

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()

	if !ok {
		return nil, repository.ErrNotFound
	}
	return &entry, nil
}

func (r *PendingRegistrationRepository) RotateOTP(_ context.Context, email string, rotation port.OTPRotation) error {
	key := domain.NormalizeEmail(email)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return repository.ErrNotFound
	}
	entry.OTP = rotation.OTP
	entry.OTPExpiresAt = rotation.OTPExpiresAt
	entry.ResendAvailableAt = rotation.ResendAvailableAt
	entry.UpdatedAt = rotation.UpdatedAt
	r.entries[key] = entry
	return nil
}

func (r *PendingRegistrationRepository) ReserveAttempt(_ context.Context, email string, max int) (int, error) {
	key := domain.NormalizeEmail(email)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if entry.Attempts >= max {
		return entry.Attempts, repository.ErrLimitReached
	}
	entry.Attempts++
	r.entries[key] = entry
	return entry.Attempts, nil
}

func (r *PendingRegistrationRepository) Delete(_ context.Context, email string) error {
	key := domain.NormalizeEmail(email)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}

var _ port.PendingRegistrationRepository = (*PendingRegistrationRepository)(nil)
