package domain

import (
	"strings"
	"time"
)

// PendingRegistration is an unconfirmed sign-up awaiting OTP verification.
type PendingRegistration struct {
	Email             string
	Name              string
	PasswordHash      string
	OTP               string
	OTPExpiresAt      time.Time
	ResendAvailableAt time.Time
	Attempts          int
	IPAddress         string
	UserAgent         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Expired reports whether the OTP is past its expiry at the given instant.
// The expiry instant itself is still valid.
func (p PendingRegistration) Expired(now time.Time) bool {
	return now.After(p.OTPExpiresAt)
}

// ResendWait returns how long the caller must wait before another code may be sent.
func (p PendingRegistration) ResendWait(now time.Time) time.Duration {
	if now.Before(p.ResendAvailableAt) {
		return p.ResendAvailableAt.Sub(now)
	}
	return 0
}

// NormalizeEmail lower-cases and trims an address before it is used as a key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
