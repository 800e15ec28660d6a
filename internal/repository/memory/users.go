package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/core/port"
	"github.com/arklim/storefront-signup/internal/repository"
)

// UserRepository keeps accounts in a map keyed by normalized email. It backs
// local runs without PostgreSQL.
type UserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
}

// NewUserRepository constructs an empty in-memory user store.
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]domain.User)}
}

func (r *UserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[domain.NormalizeEmail(email)]
	return ok, nil
}

func (r *UserRepository) Insert(_ context.Context, user domain.NewUser) (*domain.User, error) {
	key := domain.NormalizeEmail(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[key]; ok {
		return nil, repository.ErrConflict
	}

	created := domain.User{
		ID:           uuid.NewString(),
		Name:         user.Name,
		Email:        key,
		PasswordHash: user.PasswordHash,
		PasswordAlgo: user.PasswordAlgo,
		Status:       domain.UserStatusActive,
		RegisteredAt: user.RegisteredAt,
	}
	r.users[key] = created
	return &created, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[domain.NormalizeEmail(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
