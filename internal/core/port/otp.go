package port

import "time"

// OTPRotation carries the fields replaced when a code is re-issued.
type OTPRotation struct {
	OTP               string
	OTPExpiresAt      time.Time
	ResendAvailableAt time.Time
	UpdatedAt         time.Time
}
