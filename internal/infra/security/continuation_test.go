package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestContinuationSignAndParse(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	signer, err := NewContinuationSigner(testSecret, "")
	if err != nil {
		t.Fatalf("NewContinuationSigner: %v", err)
	}
	signer.WithClock(func() time.Time { return now })

	token, err := signer.Sign(" A@X.com", now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	email, err := signer.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if email != "a@x.com" {
		t.Fatalf("expected normalized email, got %q", email)
	}
}

func TestContinuationExpires(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	signer, _ := NewContinuationSigner(testSecret, "")
	signer.WithClock(func() time.Time { return now })

	token, _ := signer.Sign("a@x.com", now.Add(10*time.Minute))

	signer.WithClock(func() time.Time { return now.Add(11 * time.Minute) })
	if _, err := signer.Parse(token); !errors.Is(err, ErrInvalidContinuation) {
		t.Fatalf("expected ErrInvalidContinuation, got %v", err)
	}
}

func TestContinuationRejectsForeignSecret(t *testing.T) {
	now := time.Now()
	a, _ := NewContinuationSigner(testSecret, "")
	b, _ := NewContinuationSigner(strings.Repeat("z", 32), "")

	token, _ := a.Sign("a@x.com", now.Add(time.Minute))
	if _, err := b.Parse(token); !errors.Is(err, ErrInvalidContinuation) {
		t.Fatalf("expected ErrInvalidContinuation, got %v", err)
	}
	if _, err := a.Parse("not-a-token"); !errors.Is(err, ErrInvalidContinuation) {
		t.Fatalf("expected ErrInvalidContinuation for garbage, got %v", err)
	}
}

func TestNewContinuationSignerRequiresLongSecret(t *testing.T) {
	if _, err := NewContinuationSigner("short", ""); err == nil {
		t.Fatal("expected error for short secret")
	}
}
