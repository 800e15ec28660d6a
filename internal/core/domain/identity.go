package domain

import "time"

// UserStatus enumerates possible account states.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User mirrors the persisted representation in the users table.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	PasswordAlgo string
	Status       UserStatus
	RegisteredAt time.Time
}

// NewUser describes the row inserted when a pending registration is promoted.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
	PasswordAlgo string
	RegisteredAt time.Time
}
