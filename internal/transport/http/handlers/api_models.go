package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Success    bool              `json:"success"`
	Error      string            `json:"error"`
	Fields     map[string]string `json:"fields,omitempty"`
	RetryAfter *int              `json:"retry_after,omitempty"`
	TraceID    string            `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RegisterRequest starts a registration.
type RegisterRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

// Continuation tells the client where to submit the code and how to refer to
// the pending registration without resending the email.
type Continuation struct {
	Path              string    `json:"path"`
	Email             string    `json:"email"`
	Token             string    `json:"token,omitempty"`
	ExpiresAt         time.Time `json:"expires_at"`
	ResendAvailableAt time.Time `json:"resend_available_at"`
}

// RegisterResponse is returned once the code has been sent.
type RegisterResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Next    Continuation `json:"next"`
}

// ResendRequest identifies the pending registration by email or continuation token.
type ResendRequest struct {
	Email        string `json:"email"`
	Continuation string `json:"continuation"`
}

// ResendResponse carries the timers of the new code.
type ResendResponse struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message"`
	ExpiresAt         time.Time `json:"expires_at"`
	ResendAvailableAt time.Time `json:"resend_available_at"`
}

// VerifyRequest submits the code.
type VerifyRequest struct {
	Email        string `json:"email"`
	Continuation string `json:"continuation"`
	OTP          string `json:"otp"`
}

// VerifyResponse describes the promoted account.
type VerifyResponse struct {
	Success         bool         `json:"success"`
	Message         string       `json:"message"`
	AlreadyVerified bool         `json:"already_verified,omitempty"`
	User            *UserSummary `json:"user,omitempty"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Email        string            `json:"email"`
	Status       domain.UserStatus `json:"status"`
	RegisteredAt time.Time         `json:"registered_at"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness check results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func newUserSummary(user *domain.User) *UserSummary {
	if user == nil {
		return nil
	}
	return &UserSummary{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		Status:       user.Status,
		RegisteredAt: user.RegisteredAt.UTC(),
	}
}
