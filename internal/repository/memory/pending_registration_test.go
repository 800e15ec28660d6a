package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/core/port"
	"github.com/arklim/storefront-signup/internal/repository"
)

func TestPendingRegistrationRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewPendingRegistrationRepository()
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)

	err := repo.Upsert(ctx, domain.PendingRegistration{
		Email:        " Ana@Example.com",
		Name:         "Ana",
		OTP:          "123456",
		OTPExpiresAt: now.Add(10 * time.Minute),
		Attempts:     3,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.Get(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Email != "ana@example.com" || got.OTP != "123456" {
		t.Fatalf("unexpected record %+v", got)
	}

	attempts, err := repo.ReserveAttempt(ctx, "ana@example.com", 5)
	if err != nil || attempts != 4 {
		t.Fatalf("ReserveAttempt: %d, %v", attempts, err)
	}

	err = repo.RotateOTP(ctx, "ana@example.com", port.OTPRotation{
		OTP:               "654321",
		OTPExpiresAt:      now.Add(20 * time.Minute),
		ResendAvailableAt: now.Add(11 * time.Minute),
		UpdatedAt:         now.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("RotateOTP: %v", err)
	}
	got, _ = repo.Get(ctx, "ana@example.com")
	if got.OTP != "654321" || got.Attempts != 4 || got.Name != "Ana" {
		t.Fatalf("rotation should only touch otp fields, got %+v", got)
	}

	// Upsert replaces the whole record, attempts included.
	if err := repo.Upsert(ctx, domain.PendingRegistration{Email: "ana@example.com", Name: "Ana Maria", OTP: "111111"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, _ = repo.Get(ctx, "ana@example.com")
	if got.Attempts != 0 || got.Name != "Ana Maria" {
		t.Fatalf("expected full replacement, got %+v", got)
	}

	if err := repo.Delete(ctx, "ana@example.com"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "ana@example.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPendingRegistrationRepositoryMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewPendingRegistrationRepository()

	if err := repo.RotateOTP(ctx, "nobody@example.com", port.OTPRotation{}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("RotateOTP: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.ReserveAttempt(ctx, "nobody@example.com", 5); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("ReserveAttempt: expected ErrNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("Delete of a missing record should succeed, got %v", err)
	}
	if err := repo.Upsert(ctx, domain.PendingRegistration{Email: "  "}); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func TestPendingRegistrationRepositoryReserveAttemptCeiling(t *testing.T) {
	ctx := context.Background()
	repo := NewPendingRegistrationRepository()
	if err := repo.Upsert(ctx, domain.PendingRegistration{Email: "ana@example.com", OTP: "123456"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	const callers = 20
	var (
		wg      sync.WaitGroup
		granted atomic.Int32
		limited atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ReserveAttempt(ctx, "ana@example.com", 5)
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, repository.ErrLimitReached):
				limited.Add(1)
			default:
				t.Errorf("ReserveAttempt: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 5 || limited.Load() != callers-5 {
		t.Fatalf("expected 5 granted and %d limited, got %d and %d", callers-5, granted.Load(), limited.Load())
	}
	got, _ := repo.Get(ctx, "ana@example.com")
	if got.Attempts != 5 {
		t.Fatalf("expected attempts to stop at 5, got %d", got.Attempts)
	}
}
