package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/core/port"
)

const (
	defaultCounterTimeout = 500 * time.Millisecond

	// UnknownCallerKey is the bucket shared by every caller whose IP cannot be resolved.
	UnknownCallerKey = "unknown"
)

// Metrics receives counters from the rate limiter and the registration flow.
type Metrics interface {
	ObserveDecision(namespace string, allowed, degraded bool)
	ObserveFallback(namespace, reason, action string)
	ObserveOutcome(operation, outcome string)
	ObserveBackgroundFailure(task string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveDecision(string, bool, bool) {}
func (nopMetrics) ObserveFallback(string, string, string) {}
func (nopMetrics) ObserveOutcome(string, string) {}
func (nopMetrics) ObserveBackgroundFailure(string) {}

// RateLimiter is a fixed-window admission check over a CounterStore.
//
// Each (namespace, caller) pair gets a window that opens with its first request
// and lasts Rule.Window. A burst at a window seam can admit up to twice the limit
// within one window length; this is accepted in exchange for one round trip per check.
// Denied requests still consume a slot.
type RateLimiter struct {
	shared  port.CounterStore
	local   port.CounterStore
	policy  domain.DegradationPolicy
	timeout time.Duration
	metrics Metrics
	logger  *zap.Logger
}

// RateLimiterOption customises a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithCounterTimeout bounds every shared counter call.
func WithCounterTimeout(d time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRateLimiterMetrics attaches a metrics sink.
func WithRateLimiterMetrics(m Metrics) RateLimiterOption {
	return func(r *RateLimiter) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithRateLimiterLogger attaches a logger.
func WithRateLimiterLogger(l *zap.Logger) RateLimiterOption {
	return func(r *RateLimiter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRateLimiter builds a limiter. shared may be nil, in which case local is the
// only store and no fallback accounting happens. local must not be nil.
func NewRateLimiter(shared, local port.CounterStore, policy domain.DegradationPolicy, opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		shared:  shared,
		local:   local,
		policy:  policy,
		timeout: defaultCounterTimeout,
		metrics: nopMetrics{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check counts one request for callerKey under rule and returns the decision.
// An error is returned only when the shared store failed and the policy forbids fallback.
func (r *RateLimiter) Check(ctx context.Context, rule domain.RateLimitRule, callerKey string) (domain.RateLimitDecision, error) {
	callerKey = strings.TrimSpace(callerKey)
	if callerKey == "" {
		callerKey = UnknownCallerKey
	}
	key := rule.Namespace + ":" + callerKey

	decision := domain.RateLimitDecision{
		Namespace:    rule.Namespace,
		Limit:        rule.Limit,
		ResetSeconds: ceilSeconds(rule.Window),
	}

	store := r.local
	if r.shared != nil {
		store = r.shared
	}

	count, err := r.increment(ctx, store, key, rule.Window)
	if err != nil && store == r.shared {
		reason := domain.DegradationReasonCounterUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			reason = domain.DegradationReasonCounterTimeout
		}

		if !r.policy.AllowsFallback(reason) {
			r.metrics.ObserveFallback(rule.Namespace, string(reason), "deny")
			r.logger.Warn("shared counter failed, denying by policy",
				zap.String("namespace", rule.Namespace),
				zap.String("reason", string(reason)),
				zap.Error(err),
			)
			decision.Remaining = 0
			r.metrics.ObserveDecision(rule.Namespace, false, true)
			return decision, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
		}

		r.metrics.ObserveFallback(rule.Namespace, string(reason), "local")
		r.logger.Warn("shared counter failed, using local counter",
			zap.String("namespace", rule.Namespace),
			zap.String("reason", string(reason)),
			zap.Error(err),
		)

		store = r.local
		decision.Degraded = true
		count, err = r.increment(ctx, store, key, rule.Window)
	}
	if err != nil {
		return decision, fmt.Errorf("increment counter: %w", err)
	}

	if ttl, ok := r.remaining(ctx, store, key); ok {
		decision.ResetSeconds = ceilSeconds(ttl)
	}

	decision.Allowed = count <= int64(rule.Limit)
	if remaining := int64(rule.Limit) - count; remaining > 0 {
		decision.Remaining = int(remaining)
	}

	r.metrics.ObserveDecision(rule.Namespace, decision.Allowed, decision.Degraded)
	return decision, nil
}

func (r *RateLimiter) increment(ctx context.Context, store port.CounterStore, key string, window time.Duration) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return store.Increment(callCtx, key, window)
}

// remaining reports the window's TTL; ok is false when the store cannot tell,
// in which case the caller keeps the full window as the reset hint.
func (r *RateLimiter) remaining(ctx context.Context, store port.CounterStore, key string) (time.Duration, bool) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ttl, ok, err := store.RemainingTTL(callCtx, key)
	if err != nil {
		r.logger.Debug("counter ttl unavailable", zap.String("key", key), zap.Error(err))
		return 0, false
	}
	if !ok || ttl <= 0 {
		return 0, false
	}
	return ttl, true
}
