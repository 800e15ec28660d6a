package usecase

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/arklim/storefront-signup/internal/core/domain"
)

var (
	// ErrRateLimited indicates the admission check denied the request.
	ErrRateLimited = errors.New("too many attempts")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("invalid input")
	// ErrAccountExists indicates a permanent account already uses the email.
	ErrAccountExists = errors.New("account already exists")
	// ErrPendingNotFound indicates no pending registration exists for the email.
	ErrPendingNotFound = errors.New("no pending registration")
	// ErrOTPExpired indicates the code is past its expiry.
	ErrOTPExpired = errors.New("verification code expired")
	// ErrOTPMismatch indicates the submitted code does not match.
	ErrOTPMismatch = errors.New("invalid verification code")
	// ErrOTPLocked indicates too many wrong codes were submitted for the pending registration.
	ErrOTPLocked = errors.New("too many invalid codes")
	// ErrResendCooldown indicates a new code was requested too soon.
	ErrResendCooldown = errors.New("resend not yet available")
	// ErrCaptchaRejected indicates the anti-automation token was missing or invalid.
	ErrCaptchaRejected = errors.New("captcha verification failed")
	// ErrCounterUnavailable indicates the shared counter failed and the degradation policy refused a fallback.
	ErrCounterUnavailable = errors.New("rate limiter unavailable")
)

// ThrottledError carries the decision that denied the request.
type ThrottledError struct {
	Decision domain.RateLimitDecision
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s: %s, retry in %ds", ErrRateLimited, e.Decision.Namespace, e.RetryAfterSeconds())
}

func (e *ThrottledError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds is the time until the current window resets.
func (e *ThrottledError) RetryAfterSeconds() int {
	return e.Decision.ResetSeconds
}

// ValidationError lists per-field problems.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = message
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// CooldownError reports how long the caller must wait before resending.
type CooldownError struct {
	Wait time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: retry in %ds", ErrResendCooldown, e.WaitSeconds())
}

func (e *CooldownError) Unwrap() error { return ErrResendCooldown }

// WaitSeconds rounds the remaining wait up to whole seconds.
func (e *CooldownError) WaitSeconds() int {
	return ceilSeconds(e.Wait)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// outcomeOf labels err for metrics and span attributes.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "throttled"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAccountExists):
		return "conflict"
	case errors.Is(err, ErrPendingNotFound):
		return "not_found"
	case errors.Is(err, ErrOTPExpired):
		return "expired"
	case errors.Is(err, ErrOTPMismatch):
		return "mismatch"
	case errors.Is(err, ErrOTPLocked):
		return "locked"
	case errors.Is(err, ErrResendCooldown):
		return "cooldown"
	case errors.Is(err, ErrCaptchaRejected):
		return "captcha"
	case errors.Is(err, ErrCounterUnavailable):
		return "counter_unavailable"
	default:
		return "error"
	}
}
