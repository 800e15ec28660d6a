package port

import (
	"context"
	"time"
)

// OTPMessage is the content of a verification code email.
type OTPMessage struct {
	Email     string
	Name      string
	Code      string
	ExpiresAt time.Time
	Resend    bool
}

// WelcomeMessage is sent to a freshly promoted account.
type WelcomeMessage struct {
	Email string
	Name  string
}

// OperatorMessage notifies staff that a new account was created.
type OperatorMessage struct {
	To           string
	UserEmail    string
	UserName     string
	RegisteredAt time.Time
}

// Notifier delivers outbound email.
type Notifier interface {
	SendOTP(ctx context.Context, msg OTPMessage) error
	SendWelcome(ctx context.Context, msg WelcomeMessage) error
	SendOperatorNotice(ctx context.Context, msg OperatorMessage) error
}
