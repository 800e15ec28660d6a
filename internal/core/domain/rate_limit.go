package domain

import "time"

// RateLimitRule configures one fixed-window namespace.
type RateLimitRule struct {
	Namespace string
	Limit     int
	Window    time.Duration
}

// RateLimitDecision is the outcome of an admission check.
type RateLimitDecision struct {
	Namespace    string
	Allowed      bool
	Limit        int
	Remaining    int
	ResetSeconds int
	// Degraded is set when the decision came from the local fallback counter.
	Degraded bool
}
