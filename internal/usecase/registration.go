package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/core/port"
	"github.com/arklim/storefront-signup/internal/infra/logger"
	"github.com/arklim/storefront-signup/internal/infra/security"
	"github.com/arklim/storefront-signup/internal/repository"
)

const (
	tracerName = "github.com/arklim/storefront-signup/internal/usecase"

	registrationMethodEmailOTP = "email_otp"
	maxNameLength              = 100

	defaultOTPTTL            = 10 * time.Minute
	defaultResendCooldown    = 60 * time.Second
	defaultMaxAttempts       = 5
	defaultCallTimeout       = 3 * time.Second
	defaultBackgroundTimeout = 10 * time.Second
)

// Action names an admission-checked registration operation.
type Action string

const (
	ActionBegin  Action = "begin"
	ActionResend Action = "resend"
	ActionVerify Action = "verify"
)

// RegistrationRules holds the admission rule for each action.
type RegistrationRules struct {
	Begin  domain.RateLimitRule
	Resend domain.RateLimitRule
	Verify domain.RateLimitRule
}

// DefaultRegistrationRules returns register 5/5m, resend-otp 5/10m and verify-otp 10/10m.
func DefaultRegistrationRules() RegistrationRules {
	return RegistrationRules{
		Begin:  domain.RateLimitRule{Namespace: "register", Limit: 5, Window: 5 * time.Minute},
		Resend: domain.RateLimitRule{Namespace: "resend-otp", Limit: 5, Window: 10 * time.Minute},
		Verify: domain.RateLimitRule{Namespace: "verify-otp", Limit: 10, Window: 10 * time.Minute},
	}
}

// RegistrationConfig tunes the flow. Zero values fall back to defaults.
type RegistrationConfig struct {
	Rules             RegistrationRules
	OTPTTL            time.Duration
	ResendCooldown    time.Duration
	MaxAttempts       int
	CallTimeout       time.Duration
	BackgroundTimeout time.Duration
	OperatorEmail     string
}

func (c RegistrationConfig) withDefaults() RegistrationConfig {
	defaults := DefaultRegistrationRules()
	if c.Rules.Begin.Namespace == "" {
		c.Rules.Begin = defaults.Begin
	}
	if c.Rules.Resend.Namespace == "" {
		c.Rules.Resend = defaults.Resend
	}
	if c.Rules.Verify.Namespace == "" {
		c.Rules.Verify = defaults.Verify
	}
	if c.OTPTTL <= 0 {
		c.OTPTTL = defaultOTPTTL
	}
	if c.ResendCooldown <= 0 {
		c.ResendCooldown = defaultResendCooldown
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.BackgroundTimeout <= 0 {
		c.BackgroundTimeout = defaultBackgroundTimeout
	}
	return c
}

// PasswordPolicy validates a candidate password; userInputs feed the strength estimator.
type PasswordPolicy interface {
	Validate(password string, userInputs ...string) error
}

// RegistrationDeps are the collaborators of RegistrationService. Continuation,
// Captcha, Events and Metrics are optional.
type RegistrationDeps struct {
	Limiter      *RateLimiter
	Pending      port.PendingRegistrationRepository
	Users        port.UserRepository
	Hasher       port.PasswordHasher
	OTP          port.OTPGenerator
	Passwords    PasswordPolicy
	Notifier     port.Notifier
	Continuation port.ContinuationSigner
	Captcha      port.CaptchaVerifier
	Events       port.EventPublisher
	Metrics      Metrics
	Logger       *zap.Logger
}

// RegistrationService runs the OTP-gated sign-up state machine.
type RegistrationService struct {
	deps     RegistrationDeps
	cfg      RegistrationConfig
	validate *validator.Validate
	tracer   trace.Tracer
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewRegistrationService wires the flow. Limiter, Pending, Users, Hasher, OTP,
// Passwords and Notifier are required.
func NewRegistrationService(deps RegistrationDeps, cfg RegistrationConfig) (*RegistrationService, error) {
	switch {
	case deps.Limiter == nil:
		return nil, errors.New("registration: rate limiter is required")
	case deps.Pending == nil:
		return nil, errors.New("registration: pending registration repository is required")
	case deps.Users == nil:
		return nil, errors.New("registration: user repository is required")
	case deps.Hasher == nil:
		return nil, errors.New("registration: password hasher is required")
	case deps.OTP == nil:
		return nil, errors.New("registration: otp generator is required")
	case deps.Passwords == nil:
		return nil, errors.New("registration: password policy is required")
	case deps.Notifier == nil:
		return nil, errors.New("registration: notifier is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &RegistrationService{
		deps:     deps,
		cfg:      cfg.withDefaults(),
		validate: validator.New(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}, nil
}

// WithClock overrides the time source, used in tests.
func (s *RegistrationService) WithClock(now func() time.Time) *RegistrationService {
	if now != nil {
		s.now = now
	}
	return s
}

// Wait blocks until every background side effect has finished.
func (s *RegistrationService) Wait() {
	s.wg.Wait()
}

// BeginInput is the payload of a sign-up request.
type BeginInput struct {
	Email        string
	Name         string
	Password     string
	CaptchaToken string
	ClientIP     string
	UserAgent    string
}

// BeginResult describes the pending registration that was created.
type BeginResult struct {
	RateLimit         domain.RateLimitDecision
	Email             string
	Continuation      string
	OTPExpiresAt      time.Time
	ResendAvailableAt time.Time
}

// ResendInput identifies the pending registration by Email or Continuation.
type ResendInput struct {
	Email        string
	Continuation string
	ClientIP     string
}

// ResendResult carries the timers of the re-issued code.
type ResendResult struct {
	RateLimit         domain.RateLimitDecision
	Email             string
	OTPExpiresAt      time.Time
	ResendAvailableAt time.Time
}

// VerifyInput carries the submitted code.
type VerifyInput struct {
	Email        string
	Continuation string
	OTP          string
	ClientIP     string
}

// VerifyResult is the promoted account. AlreadyVerified is set when the account
// existed before this call.
type VerifyResult struct {
	RateLimit       domain.RateLimitDecision
	User            *domain.User
	AlreadyVerified bool
}

// Admit runs the admission check for action without doing anything else. The
// HTTP layer uses it for requests it rejects before reaching the flow, so that
// malformed requests still consume quota.
func (s *RegistrationService) Admit(ctx context.Context, action Action, clientIP string) (domain.RateLimitDecision, error) {
	return s.admit(ctx, s.rule(action), clientIP)
}

func (s *RegistrationService) rule(action Action) domain.RateLimitRule {
	switch action {
	case ActionResend:
		return s.cfg.Rules.Resend
	case ActionVerify:
		return s.cfg.Rules.Verify
	default:
		return s.cfg.Rules.Begin
	}
}

func (s *RegistrationService) admit(ctx context.Context, rule domain.RateLimitRule, clientIP string) (domain.RateLimitDecision, error) {
	decision, err := s.deps.Limiter.Check(ctx, rule, clientIP)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, &ThrottledError{Decision: decision}
	}
	return decision, nil
}

// Begin creates or overwrites the pending registration for the email and mails a fresh code.
func (s *RegistrationService) Begin(ctx context.Context, in BeginInput) (result BeginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "registration.begin")
	defer func() { s.finish(span, string(ActionBegin), err) }()

	result.RateLimit, err = s.admit(ctx, s.cfg.Rules.Begin, in.ClientIP)
	if err != nil {
		return result, err
	}

	email := domain.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	log := s.log(ctx).With(zap.String("email", logger.MaskEmail(email)))

	verr := &ValidationError{}
	s.checkEmail(verr, email)
	switch {
	case name == "":
		verr.add("name", "name is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		verr.add("name", fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	if perr := s.deps.Passwords.Validate(in.Password, email, name); perr != nil {
		var pv *security.PasswordValidationError
		if errors.As(perr, &pv) {
			verr.add("password", pv.Message)
		} else {
			verr.add("password", perr.Error())
		}
	}
	if err = verr.orNil(); err != nil {
		return result, err
	}

	if s.deps.Captcha != nil && s.deps.Captcha.Enabled() {
		callCtx, cancel := s.call(ctx)
		ok, cerr := s.deps.Captcha.Verify(callCtx, in.CaptchaToken, in.ClientIP)
		cancel()
		if cerr != nil {
			log.Error("captcha verification failed", zap.Error(cerr))
			return result, fmt.Errorf("verify captcha: %w", cerr)
		}
		if !ok {
			return result, ErrCaptchaRejected
		}
	}

	exists, err := s.userExists(ctx, email)
	if err != nil {
		log.Error("check existing account", zap.Error(err))
		return result, err
	}
	if exists {
		return result, ErrAccountExists
	}

	hash, err := s.deps.Hasher.Hash(in.Password)
	if err != nil {
		return result, fmt.Errorf("hash password: %w", err)
	}

	code, err := s.deps.OTP.Generate()
	if err != nil {
		return result, err
	}

	now := s.now().UTC()
	pending := domain.PendingRegistration{
		Email:             email,
		Name:              name,
		PasswordHash:      hash,
		OTP:               code,
		OTPExpiresAt:      now.Add(s.cfg.OTPTTL),
		ResendAvailableAt: now.Add(s.cfg.ResendCooldown),
		Attempts:          0,
		IPAddress:         in.ClientIP,
		UserAgent:         in.UserAgent,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	callCtx, cancel := s.call(ctx)
	err = s.deps.Pending.Upsert(callCtx, pending)
	cancel()
	if err != nil {
		log.Error("store pending registration", zap.Error(err))
		return result, fmt.Errorf("store pending registration: %w", err)
	}

	if err = s.sendOTP(ctx, pending, false); err != nil {
		log.Error("send registration otp", zap.Error(err))
		return result, err
	}

	result.Email = email
	result.OTPExpiresAt = pending.OTPExpiresAt
	result.ResendAvailableAt = pending.ResendAvailableAt

	if s.deps.Continuation != nil {
		token, serr := s.deps.Continuation.Sign(email, pending.OTPExpiresAt)
		if serr != nil {
			log.Warn("sign continuation token", zap.Error(serr))
		} else {
			result.Continuation = token
		}
	}

	log.Info("registration started", zap.Time("otp_expires_at", pending.OTPExpiresAt))
	return result, nil
}

// Resend issues a new code for an existing pending registration once the cooldown has passed.
// The failed-attempt counter is left untouched.
func (s *RegistrationService) Resend(ctx context.Context, in ResendInput) (result ResendResult, err error) {
	ctx, span := s.tracer.Start(ctx, "registration.resend")
	defer func() { s.finish(span, string(ActionResend), err) }()

	result.RateLimit, err = s.admit(ctx, s.cfg.Rules.Resend, in.ClientIP)
	if err != nil {
		return result, err
	}

	email, err := s.resolveEmail(in.Email, in.Continuation)
	if err != nil {
		return result, err
	}
	log := s.log(ctx).With(zap.String("email", logger.MaskEmail(email)))

	pending, err := s.getPending(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrPendingNotFound) {
			log.Error("load pending registration", zap.Error(err))
		}
		return result, err
	}

	now := s.now().UTC()
	if wait := pending.ResendWait(now); wait > 0 {
		return result, &CooldownError{Wait: wait}
	}

	code, err := s.deps.OTP.Generate()
	if err != nil {
		return result, err
	}

	rotation := port.OTPRotation{
		OTP:               code,
		OTPExpiresAt:      now.Add(s.cfg.OTPTTL),
		ResendAvailableAt: now.Add(s.cfg.ResendCooldown),
		UpdatedAt:         now,
	}

	callCtx, cancel := s.call(ctx)
	err = s.deps.Pending.RotateOTP(callCtx, email, rotation)
	cancel()
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return result, ErrPendingNotFound
		}
		log.Error("rotate otp", zap.Error(err))
		return result, fmt.Errorf("rotate otp: %w", err)
	}

	pending.OTP = rotation.OTP
	pending.OTPExpiresAt = rotation.OTPExpiresAt
	pending.ResendAvailableAt = rotation.ResendAvailableAt
	if err = s.sendOTP(ctx, *pending, true); err != nil {
		log.Error("resend registration otp", zap.Error(err))
		return result, err
	}

	result.Email = email
	result.OTPExpiresAt = rotation.OTPExpiresAt
	result.ResendAvailableAt = rotation.ResendAvailableAt

	log.Info("registration otp resent", zap.Time("otp_expires_at", rotation.OTPExpiresAt))
	return result, nil
}

// Verify checks the submitted code and promotes the pending registration to a
// permanent account. Repeating a successful verification returns the existing
// account with AlreadyVerified set.
func (s *RegistrationService) Verify(ctx context.Context, in VerifyInput) (result VerifyResult, err error) {
	ctx, span := s.tracer.Start(ctx, "registration.verify")
	defer func() { s.finish(span, string(ActionVerify), err) }()

	result.RateLimit, err = s.admit(ctx, s.cfg.Rules.Verify, in.ClientIP)
	if err != nil {
		return result, err
	}

	email, emailErr := s.resolveEmail(in.Email, in.Continuation)
	code := strings.TrimSpace(in.OTP)

	verr := &ValidationError{}
	var ve *ValidationError
	if errors.As(emailErr, &ve) {
		for field, msg := range ve.Fields {
			verr.add(field, msg)
		}
	} else if emailErr != nil {
		return result, emailErr
	}
	if !security.IsOTPFormat(code) {
		verr.add("otp", "otp must be exactly 6 digits")
	}
	if err = verr.orNil(); err != nil {
		return result, err
	}

	log := s.log(ctx).With(zap.String("email", logger.MaskEmail(email)))

	pending, err := s.getPending(ctx, email)
	if errors.Is(err, ErrPendingNotFound) {
		return s.verifiedAlready(ctx, email, log, result)
	}
	if err != nil {
		log.Error("load pending registration", zap.Error(err))
		return result, err
	}

	now := s.now().UTC()
	if pending.Expired(now) {
		return result, ErrOTPExpired
	}

	// The attempt is reserved before the comparison so parallel guesses cannot
	// outrun the lockout; a correct code spends its reservation on promotion.
	callCtx, cancel := s.call(ctx)
	attempts, err := s.deps.Pending.ReserveAttempt(callCtx, email, s.cfg.MaxAttempts)
	cancel()
	switch {
	case errors.Is(err, repository.ErrLimitReached):
		// Concurrent correct verifies also spend attempts; one of them may have promoted.
		if user, uerr := s.existingUser(ctx, email); uerr == nil && user != nil {
			result.User = user
			result.AlreadyVerified = true
			return result, nil
		}
		return result, ErrOTPLocked
	case errors.Is(err, repository.ErrNotFound):
		return s.verifiedAlready(ctx, email, log, result)
	case err != nil:
		log.Error("reserve otp attempt", zap.Error(err))
		return result, fmt.Errorf("reserve otp attempt: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(pending.OTP)) != 1 {
		log.Info("otp mismatch", zap.Int("attempts", attempts))
		return result, ErrOTPMismatch
	}

	// Re-check the permanent store: a concurrent verify may already have promoted this email.
	exists, err := s.userExists(ctx, email)
	if err != nil {
		log.Error("re-check existing account", zap.Error(err))
		return result, err
	}
	if exists {
		s.deletePending(ctx, email, log)
		user, uerr := s.existingUser(ctx, email)
		if uerr != nil {
			log.Warn("load existing account", zap.Error(uerr))
		}
		result.User = user
		result.AlreadyVerified = true
		return result, nil
	}

	callCtx, cancel = s.call(ctx)
	user, err := s.deps.Users.Insert(callCtx, domain.NewUser{
		Name:         pending.Name,
		Email:        email,
		PasswordHash: pending.PasswordHash,
		PasswordAlgo: s.deps.Hasher.Algorithm(),
		RegisteredAt: now,
	})
	cancel()
	if errors.Is(err, repository.ErrConflict) {
		s.deletePending(ctx, email, log)
		existing, uerr := s.existingUser(ctx, email)
		if uerr != nil {
			log.Warn("load existing account", zap.Error(uerr))
		}
		result.User = existing
		result.AlreadyVerified = true
		return result, nil
	}
	if err != nil {
		log.Error("insert user", zap.Error(err))
		return result, fmt.Errorf("insert user: %w", err)
	}

	s.deletePending(ctx, email, log)
	s.afterPromotion(ctx, *user)

	log.Info("registration verified", zap.String("user_id", user.ID))
	result.User = user
	return result, nil
}

// verifiedAlready handles a verify whose pending record is gone. The record is
// deleted on promotion, so a retry after success lands here.
func (s *RegistrationService) verifiedAlready(ctx context.Context, email string, log *zap.Logger, result VerifyResult) (VerifyResult, error) {
	user, err := s.existingUser(ctx, email)
	if err != nil {
		log.Error("look up account after missing pending registration", zap.Error(err))
		return result, err
	}
	if user == nil {
		return result, ErrPendingNotFound
	}
	result.User = user
	result.AlreadyVerified = true
	return result, nil
}

func (s *RegistrationService) resolveEmail(email, continuation string) (string, error) {
	if token := strings.TrimSpace(continuation); token != "" && s.deps.Continuation != nil {
		parsed, err := s.deps.Continuation.Parse(token)
		if err != nil {
			return "", NewValidationError("continuation", "continuation token is invalid or expired")
		}
		return domain.NormalizeEmail(parsed), nil
	}

	normalized := domain.NormalizeEmail(email)
	verr := &ValidationError{}
	s.checkEmail(verr, normalized)
	if err := verr.orNil(); err != nil {
		return "", err
	}
	return normalized, nil
}

func (s *RegistrationService) checkEmail(verr *ValidationError, email string) {
	if email == "" {
		verr.add("email", "email is required")
		return
	}
	if err := s.validate.Var(email, "email,max=254"); err != nil {
		verr.add("email", "email is not a valid address")
	}
}

func (s *RegistrationService) getPending(ctx context.Context, email string) (*domain.PendingRegistration, error) {
	callCtx, cancel := s.call(ctx)
	defer cancel()

	pending, err := s.deps.Pending.Get(callCtx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pending registration: %w", err)
	}
	return pending, nil
}

func (s *RegistrationService) userExists(ctx context.Context, email string) (bool, error) {
	callCtx, cancel := s.call(ctx)
	defer cancel()

	exists, err := s.deps.Users.ExistsByEmail(callCtx, email)
	if err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return exists, nil
}

// existingUser returns nil without error when no account exists.
func (s *RegistrationService) existingUser(ctx context.Context, email string) (*domain.User, error) {
	callCtx, cancel := s.call(ctx)
	defer cancel()

	user, err := s.deps.Users.GetByEmail(callCtx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return user, nil
}

// deletePending tolerates failure: a dangling record is resolved by the
// existence check on the next verify.
func (s *RegistrationService) deletePending(ctx context.Context, email string, log *zap.Logger) {
	callCtx, cancel := s.call(ctx)
	defer cancel()

	if err := s.deps.Pending.Delete(callCtx, email); err != nil {
		log.Warn("delete pending registration", zap.Error(err))
	}
}

func (s *RegistrationService) sendOTP(ctx context.Context, pending domain.PendingRegistration, resend bool) error {
	callCtx, cancel := s.call(ctx)
	defer cancel()

	err := s.deps.Notifier.SendOTP(callCtx, port.OTPMessage{
		Email:     pending.Email,
		Name:      pending.Name,
		Code:      pending.OTP,
		ExpiresAt: pending.OTPExpiresAt,
		Resend:    resend,
	})
	if err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}

// afterPromotion dispatches the welcome email, the operator notice and the
// user.registered event. None of them can change the verify result.
func (s *RegistrationService) afterPromotion(ctx context.Context, user domain.User) {
	s.background(ctx, "welcome_email", func(ctx context.Context) error {
		return s.deps.Notifier.SendWelcome(ctx, port.WelcomeMessage{Email: user.Email, Name: user.Name})
	})

	if s.cfg.OperatorEmail != "" {
		s.background(ctx, "operator_notice", func(ctx context.Context) error {
			return s.deps.Notifier.SendOperatorNotice(ctx, port.OperatorMessage{
				To:           s.cfg.OperatorEmail,
				UserEmail:    user.Email,
				UserName:     user.Name,
				RegisteredAt: user.RegisteredAt,
			})
		})
	}

	if s.deps.Events != nil {
		s.background(ctx, "user_registered_event", func(ctx context.Context) error {
			return s.deps.Events.PublishUserRegistered(ctx, domain.UserRegisteredEvent{
				EventID:            uuid.NewString(),
				UserID:             user.ID,
				Name:               user.Name,
				Email:              user.Email,
				RegisteredAt:       user.RegisteredAt,
				RegistrationMethod: registrationMethodEmailOTP,
			})
		})
	}
}

func (s *RegistrationService) background(ctx context.Context, task string, fn func(context.Context) error) {
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BackgroundTimeout)
	log := s.log(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.deps.Metrics.ObserveBackgroundFailure(task)
				log.Error("background task panicked", zap.String("task", task), zap.Any("panic", r))
			}
		}()

		if err := fn(bgCtx); err != nil {
			s.deps.Metrics.ObserveBackgroundFailure(task)
			log.Warn("background task failed", zap.String("task", task), zap.Error(err))
		}
	}()
}

func (s *RegistrationService) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

func (s *RegistrationService) log(ctx context.Context) *zap.Logger {
	if id := logger.RequestIDFromContext(ctx); id != "" {
		return s.deps.Logger.With(zap.String("request_id", id))
	}
	return s.deps.Logger
}

func (s *RegistrationService) finish(span trace.Span, operation string, err error) {
	outcome := outcomeOf(err)
	s.deps.Metrics.ObserveOutcome(operation, outcome)

	span.SetAttributes(attribute.String("signup.outcome", outcome))
	if outcome == "error" || outcome == "counter_unavailable" {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}
