package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/repository"
)

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()

	created, err := repo.Insert(ctx, domain.NewUser{
		Name:         "Ana",
		Email:        "Ana@Example.com",
		PasswordHash: "hash",
		PasswordAlgo: "argon2id",
		RegisteredAt: time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if created.ID == "" || created.Email != "ana@example.com" || created.Status != domain.UserStatusActive {
		t.Fatalf("unexpected user %+v", created)
	}

	exists, err := repo.ExistsByEmail(ctx, "ANA@example.com")
	if err != nil || !exists {
		t.Fatalf("ExistsByEmail: %v, %v", exists, err)
	}

	if _, err := repo.Insert(ctx, domain.NewUser{Email: "ana@example.com"}); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := repo.GetByEmail(ctx, "ana@example.com")
	if err != nil || got.ID != created.ID {
		t.Fatalf("GetByEmail: %+v, %v", got, err)
	}
	if _, err := repo.GetByEmail(ctx, "bob@example.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
