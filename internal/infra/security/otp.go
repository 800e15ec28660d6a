package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	otpMin = 100000
	otpMax = 999999
)

var otpSpan = big.NewInt(otpMax - otpMin + 1)

// OTPGenerator draws six-digit codes uniformly from [100000, 999999].
// Codes with a leading zero are never produced.
type OTPGenerator struct{}

// NewOTPGenerator returns the crypto/rand backed generator.
func NewOTPGenerator() OTPGenerator {
	return OTPGenerator{}
}

// Generate returns a fresh code.
func (OTPGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, otpSpan)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

// IsOTPFormat reports whether value is exactly six ASCII digits.
func IsOTPFormat(value string) bool {
	if len(value) != 6 {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < '0' || value[i] > '9' {
			return false
		}
	}
	return true
}
