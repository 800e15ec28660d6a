package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

const continuationAudience = "signup:continuation"

// ErrInvalidContinuation is returned for tokens that fail signature, audience or expiry checks.
var ErrInvalidContinuation = errors.New("continuation: invalid token")

// ContinuationClaims binds a token to the email of a pending sign-up.
type ContinuationClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ContinuationSigner issues and parses HS256 continuation tokens.
type ContinuationSigner struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewContinuationSigner requires a secret of at least 32 bytes.
func NewContinuationSigner(secret, issuer string) (*ContinuationSigner, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("continuation: secret must be at least 32 bytes")
	}
	if issuer == "" {
		issuer = "storefront-signup"
	}
	return &ContinuationSigner{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source used for issued-at and validation.
func (s *ContinuationSigner) WithClock(now func() time.Time) *ContinuationSigner {
	if now != nil {
		s.now = now
	}
	return s
}

// Sign issues a token for email that stops being accepted at expiresAt.
func (s *ContinuationSigner) Sign(email string, expiresAt time.Time) (string, error) {
	now := s.now()
	claims := ContinuationClaims{
		Email: strings.ToLower(strings.TrimSpace(email)),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{continuationAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("continuation: sign: %w", err)
	}
	return signed, nil
}

// Parse validates token and returns the email it was issued for.
func (s *ContinuationSigner) Parse(token string) (string, error) {
	var claims ContinuationClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(continuationAudience),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidContinuation, err)
	}
	if !parsed.Valid || claims.Email == "" {
		return "", ErrInvalidContinuation
	}
	return claims.Email, nil
}
