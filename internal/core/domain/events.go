package domain

import "time"

// UserRegisteredEvent represents the payload for signup.user.registered messages.
type UserRegisteredEvent struct {
	EventID            string
	UserID             string
	Name               string
	Email              string
	RegisteredAt       time.Time
	RegistrationMethod string
	Metadata           map[string]any
}
