package port

import "time"

// PasswordHasher hashes secrets with a fixed, process-wide cost.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Algorithm() string
}

// OTPGenerator produces numeric one-time codes.
type OTPGenerator interface {
	Generate() (string, error)
}

// ContinuationSigner binds a pending sign-up to an opaque token handed back to the client.
type ContinuationSigner interface {
	Sign(email string, expiresAt time.Time) (string, error)
	// Parse returns the email the token was issued for.
	Parse(token string) (string, error)
}
