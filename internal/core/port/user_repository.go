package port

import (
	"context"

	"github.com/arklim/storefront-signup/internal/core/domain"
)

// UserRepository exposes the permanent user operations the registration flow relies on.
type UserRepository interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// Insert returns repository.ErrConflict when the email is already taken.
	Insert(ctx context.Context, user domain.NewUser) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}
