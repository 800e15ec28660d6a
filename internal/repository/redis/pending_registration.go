package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/core/port"
	"github.com/arklim/storefront-signup/internal/repository"
)

const (
	defaultPendingPrefix    = "pending"
	defaultPendingRetention = 24 * time.Hour

	fieldName              = "name"
	fieldPasswordHash      = "password_hash"
	fieldOTP               = "otp"
	fieldOTPExpiresAt      = "otp_expires_at"
	fieldResendAvailableAt = "resend_available_at"
	fieldAttempts          = "attempts"
	fieldIPAddress         = "ip_address"
	fieldUserAgent         = "user_agent"
	fieldCreatedAt         = "created_at"
	fieldUpdatedAt         = "updated_at"
)

// rotateOTPLua rewrites the code and timers of an existing record only.
// KEYS[1] = record key
// ARGV[1..4] = otp, otp_expires_at, resend_available_at, updated_at
// ARGV[5] = absolute expiry in unix milliseconds
var rotateOTPLua = red.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'otp', ARGV[1], 'otp_expires_at', ARGV[2], 'resend_available_at', ARGV[3], 'updated_at', ARGV[4])
redis.call('PEXPIREAT', KEYS[1], ARGV[5])
return 1
`)

// reserveAttemptLua bumps the attempt counter while it is below ARGV[1], without
// resurrecting a deleted record. Returns -1 when missing, -2 when at the ceiling.
var reserveAttemptLua = red.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts') or '0') or 0
if attempts >= tonumber(ARGV[1]) then
  return -2
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`)

// PendingRegistrationRepository stores in-flight sign-ups as Redis hashes.
// Records outlive their OTP by the retention period so expired codes can be reported as such.
type PendingRegistrationRepository struct {
	client    red.UniversalClient
	prefix    string
	retention time.Duration
}

// NewPendingRegistrationRepository constructs a repository with the provided client, key prefix and retention.
func NewPendingRegistrationRepository(client red.UniversalClient, keyPrefix string, retention time.Duration) *PendingRegistrationRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultPendingPrefix
	}
	if retention <= 0 {
		retention = defaultPendingRetention
	}

	return &PendingRegistrationRepository{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

// Upsert replaces the record for the email inside a MULTI block.
func (r *PendingRegistrationRepository) Upsert(ctx context.Context, pending domain.PendingRegistration) error {
	key := r.key(pending.Email)
	if key == "" {
		return errors.New("email is required")
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		fieldName:              pending.Name,
		fieldPasswordHash:      pending.PasswordHash,
		fieldOTP:               pending.OTP,
		fieldOTPExpiresAt:      formatMillis(pending.OTPExpiresAt),
		fieldResendAvailableAt: formatMillis(pending.ResendAvailableAt),
		fieldAttempts:          strconv.Itoa(pending.Attempts),
		fieldIPAddress:         pending.IPAddress,
		fieldUserAgent:         pending.UserAgent,
		fieldCreatedAt:         formatMillis(pending.CreatedAt),
		fieldUpdatedAt:         formatMillis(pending.UpdatedAt),
	})
	pipe.PExpireAt(ctx, key, pending.OTPExpiresAt.Add(r.retention))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis upsert pending registration: %w", err)
	}

	return nil
}

// Get retrieves the pending registration for the email.
func (r *PendingRegistrationRepository) Get(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	key := r.key(email)
	if key == "" {
		return nil, errors.New("email is required")
	}

	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall pending registration: %w", err)
	}
	if len(values) == 0 || strings.TrimSpace(values[fieldOTP]) == "" {
		return nil, repository.ErrNotFound
	}

	pending := &domain.PendingRegistration{
		Email:        domain.NormalizeEmail(email),
		Name:         values[fieldName],
		PasswordHash: values[fieldPasswordHash],
		OTP:          values[fieldOTP],
		IPAddress:    values[fieldIPAddress],
		UserAgent:    values[fieldUserAgent],
	}

	timestamps := []struct {
		field string
		dst   *time.Time
	}{
		{fieldOTPExpiresAt, &pending.OTPExpiresAt},
		{fieldResendAvailableAt, &pending.ResendAvailableAt},
		{fieldCreatedAt, &pending.CreatedAt},
		{fieldUpdatedAt, &pending.UpdatedAt},
	}
	for _, ts := range timestamps {
		parsed, err := parseMillis(values[ts.field])
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", ts.field, err)
		}
		*ts.dst = parsed
	}

	if raw := values[fieldAttempts]; raw != "" {
		if v, convErr := strconv.Atoi(raw); convErr == nil {
			pending.Attempts = v
		}
	}

	return pending, nil
}

// RotateOTP replaces the code and timers of an existing record.
func (r *PendingRegistrationRepository) RotateOTP(ctx context.Context, email string, rotation port.OTPRotation) error {
	key := r.key(email)
	if key == "" {
		return errors.New("email is required")
	}

	expireAt := rotation.OTPExpiresAt.Add(r.retention).UnixMilli()
	updated, err := rotateOTPLua.Run(ctx, r.client, []string{key},
		rotation.OTP,
		formatMillis(rotation.OTPExpiresAt),
		formatMillis(rotation.ResendAvailableAt),
		formatMillis(rotation.UpdatedAt),
		expireAt,
	).Int64()
	if err != nil {
		return fmt.Errorf("redis rotate otp: %w", err)
	}
	if updated == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// ReserveAttempt increments the attempt counter while it is below max and returns the new value.
func (r *PendingRegistrationRepository) ReserveAttempt(ctx context.Context, email string, max int) (int, error) {
	key := r.key(email)
	if key == "" {
		return 0, errors.New("email is required")
	}

	count, err := reserveAttemptLua.Run(ctx, r.client, []string{key}, max).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis reserve attempt: %w", err)
	}
	switch count {
	case -1:
		return 0, repository.ErrNotFound
	case -2:
		return max, repository.ErrLimitReached
	}

	return int(count), nil
}

// Delete removes the pending registration. Deleting a missing record succeeds.
func (r *PendingRegistrationRepository) Delete(ctx context.Context, email string) error {
	key := r.key(email)
	if key == "" {
		return errors.New("email is required")
	}

	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete pending registration: %w", err)
	}

	return nil
}

func (r *PendingRegistrationRepository) key(email string) string {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, email)
}

func formatMillis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseMillis(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if v == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(v).UTC(), nil
}

var _ port.PendingRegistrationRepository = (*PendingRegistrationRepository)(nil)
