package port

import (
	"context"

	"github.com/arklim/storefront-signup/internal/core/domain"
)

// PendingRegistrationRepository persists in-flight sign-ups keyed by normalized email.
type PendingRegistrationRepository interface {
	// Upsert replaces the whole record for the email in a single step.
	Upsert(ctx context.Context, pending domain.PendingRegistration) error
	// Get returns repository.ErrNotFound when no record exists.
	Get(ctx context.Context, email string) (*domain.PendingRegistration, error)
	// RotateOTP replaces the code and timers, leaving attempts untouched.
	RotateOTP(ctx context.Context, email string, rotation OTPRotation) error
	// ReserveAttempt atomically adds one to the attempt counter while it is below
	// max and returns the new value. It returns repository.ErrLimitReached when the
	// counter is already at max and repository.ErrNotFound when no record exists.
	ReserveAttempt(ctx context.Context, email string, max int) (int, error)
	// Delete removes the record; a missing record is not an error.
	Delete(ctx context.Context, email string) error
}
