package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/repository/memory"
)

const (
	testEmail    = "ana@example.com"
	testName     = "Ana"
	testPassword = "correct horse battery"
	testIP       = "203.0.113.4"
)

type registrationHarness struct {
	svc      *RegistrationService
	clock    *fakeClock
	pending  *memory.PendingRegistrationRepository
	users    *fakeUserRepository
	notifier *fakeNotifier
	events   *fakeEvents
	metrics  *recordingMetrics
}

type harnessOption func(*RegistrationDeps, *RegistrationConfig)

func newHarness(t *testing.T, opts ...harnessOption) *registrationHarness {
	t.Helper()

	h := &registrationHarness{
		clock:    newFakeClock(),
		pending:  memory.NewPendingRegistrationRepository(),
		users:    newFakeUserRepository(),
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
		metrics:  newRecordingMetrics(),
	}

	counters := memory.NewCounterStore().WithClock(h.clock.Now)
	deps := RegistrationDeps{
		Limiter:      NewRateLimiter(nil, counters, domain.NewDegradationPolicy("")),
		Pending:      h.pending,
		Users:        h.users,
		Hasher:       fakeHasher{},
		OTP:          &sequenceOTP{},
		Passwords:    minLengthPolicy(8),
		Notifier:     h.notifier,
		Continuation: fakeContinuation{},
		Events:       h.events,
		Metrics:      h.metrics,
		Logger:       zaptest.NewLogger(t),
	}
	cfg := RegistrationConfig{OperatorEmail: "ops@example.com"}
	for _, opt := range opts {
		opt(&deps, &cfg)
	}

	svc, err := NewRegistrationService(deps, cfg)
	if err != nil {
		t.Fatalf("NewRegistrationService: %v", err)
	}
	h.svc = svc.WithClock(h.clock.Now)
	return h
}

func (h *registrationHarness) begin(t *testing.T) BeginResult {
	t.Helper()
	res, err := h.svc.Begin(context.Background(), BeginInput{Email: testEmail, Name: testName, Password: testPassword, ClientIP: testIP})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return res
}

func (h *registrationHarness) verify(code string) (VerifyResult, error) {
	return h.svc.Verify(context.Background(), VerifyInput{Email: testEmail, OTP: code, ClientIP: testIP})
}

func TestNewRegistrationServiceRequiresDeps(t *testing.T) {
	if _, err := NewRegistrationService(RegistrationDeps{}, RegistrationConfig{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestRegistrationRoundTrip(t *testing.T) {
	h := newHarness(t)

	begun := h.begin(t)
	if begun.Email != testEmail {
		t.Fatalf("unexpected email %q", begun.Email)
	}
	if begun.Continuation != "cont:"+testEmail {
		t.Fatalf("unexpected continuation %q", begun.Continuation)
	}
	if want := h.clock.Now().Add(10 * time.Minute); !begun.OTPExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, begun.OTPExpiresAt)
	}
	if want := h.clock.Now().Add(60 * time.Second); !begun.ResendAvailableAt.Equal(want) {
		t.Fatalf("expected resend at %v, got %v", want, begun.ResendAvailableAt)
	}
	if begun.RateLimit.Remaining != 4 {
		t.Fatalf("expected remaining 4, got %d", begun.RateLimit.Remaining)
	}

	code := h.notifier.lastCode(testEmail)
	if code == "" {
		t.Fatal("expected an otp email")
	}

	verified, err := h.verify(code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	h.svc.Wait()

	if verified.AlreadyVerified {
		t.Fatal("first verification must not be flagged as repeated")
	}
	if verified.User == nil || verified.User.Email != testEmail || verified.User.Name != testName {
		t.Fatalf("unexpected user %+v", verified.User)
	}
	if verified.User.PasswordHash != "hashed:"+testPassword || verified.User.PasswordAlgo != "fake" {
		t.Fatalf("password hash not carried over: %+v", verified.User)
	}
	if _, err := h.pending.Get(context.Background(), testEmail); err == nil {
		t.Fatal("pending registration should be deleted after promotion")
	}

	_, welcomes, notices := h.notifier.counts()
	if welcomes != 1 || notices != 1 {
		t.Fatalf("expected one welcome and one operator notice, got %d/%d", welcomes, notices)
	}
	if len(h.events.events) != 1 || h.events.events[0].UserID != verified.User.ID {
		t.Fatalf("expected one user.registered event, got %+v", h.events.events)
	}
	if h.events.events[0].RegistrationMethod != "email_otp" {
		t.Fatalf("unexpected method %q", h.events.events[0].RegistrationMethod)
	}

	_, err = h.svc.Begin(context.Background(), BeginInput{Email: testEmail, Name: testName, Password: testPassword, ClientIP: "198.51.100.7"})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists after promotion, got %v", err)
	}
	if h.metrics.outcomes["begin/conflict"] != 1 || h.metrics.outcomes["verify/ok"] != 1 {
		t.Fatalf("unexpected outcomes %v", h.metrics.outcomes)
	}
}

func TestRegistrationNormalizesEmail(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Begin(context.Background(), BeginInput{Email: "  Ana@Example.COM ", Name: testName, Password: testPassword, ClientIP: testIP})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if res.Email != testEmail {
		t.Fatalf("expected normalized email, got %q", res.Email)
	}
	if _, err := h.pending.Get(context.Background(), testEmail); err != nil {
		t.Fatalf("pending registration not stored under normalized key: %v", err)
	}
}

func TestRegistrationVerifyIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.begin(t)
	code := h.notifier.lastCode(testEmail)

	first, err := h.verify(code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	second, err := h.verify(code)
	if err != nil {
		t.Fatalf("repeat Verify: %v", err)
	}
	h.svc.Wait()

	if !second.AlreadyVerified {
		t.Fatal("repeat verification should be flagged")
	}
	if second.User == nil || second.User.ID != first.User.ID {
		t.Fatalf("expected the same account, got %+v", second.User)
	}
	if h.users.count() != 1 || h.users.insertCalls != 1 {
		t.Fatalf("expected exactly one account, count=%d inserts=%d", h.users.count(), h.users.insertCalls)
	}
	if _, welcomes, _ := h.notifier.counts(); welcomes != 1 {
		t.Fatalf("side effects must run once, got %d welcomes", welcomes)
	}
}

func TestRegistrationVerifyConflictOnInsert(t *testing.T) {
	h := newHarness(t)
	h.begin(t)
	h.users.conflictOnInsert = true

	res, err := h.verify(h.notifier.lastCode(testEmail))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.AlreadyVerified || res.User == nil || res.User.ID != "winner" {
		t.Fatalf("expected the concurrent winner's account, got %+v", res)
	}
	if _, err := h.pending.Get(context.Background(), testEmail); err == nil {
		t.Fatal("pending registration should be cleaned up")
	}
}

func TestRegistrationConcurrentVerifyCreatesOneAccount(t *testing.T) {
	h := newHarness(t, func(_ *RegistrationDeps, cfg *RegistrationConfig) {
		cfg.Rules.Verify = domain.RateLimitRule{Namespace: "verify-otp", Limit: 100, Window: time.Minute}
		// Every verify reserves an attempt, correct ones included.
		cfg.MaxAttempts = 16
	})
	h.begin(t)
	code := h.notifier.lastCode(testEmail)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.verify(code); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	h.svc.Wait()

	for err := range errs {
		t.Errorf("Verify: %v", err)
	}
	if h.users.count() != 1 {
		t.Fatalf("expected one account, got %d", h.users.count())
	}
}

func TestRegistrationBeginOverwritesPending(t *testing.T) {
	h := newHarness(t)
	h.begin(t)
	firstCode := h.notifier.lastCode(testEmail)

	h.clock.Advance(5 * time.Second)
	_, err := h.svc.Begin(context.Background(), BeginInput{Email: testEmail, Name: "Ana Maria", Password: "another secret", ClientIP: testIP})
	if err != nil {
		t.Fatalf("second Begin: %v", err)
	}
	secondCode := h.notifier.lastCode(testEmail)
	if secondCode == firstCode {
		t.Fatal("expected a new code")
	}

	if _, err := h.verify(firstCode); !errors.Is(err, ErrOTPMismatch) {
		t.Fatalf("first code should no longer match, got %v", err)
	}

	res, err := h.verify(secondCode)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	h.svc.Wait()
	if res.User.Name != "Ana Maria" || res.User.PasswordHash != "hashed:another secret" {
		t.Fatalf("latest begin should win, got %+v", res.User)
	}
}

func TestRegistrationBeginThrottled(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 5; i++ {
		h.begin(t)
	}

	res, err := h.svc.Begin(context.Background(), BeginInput{Email: testEmail, Name: testName, Password: testPassword, ClientIP: testIP})
	var throttled *ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("ThrottledError must unwrap to ErrRateLimited")
	}
	if throttled.RetryAfterSeconds() != 300 || res.RateLimit.Remaining != 0 || res.RateLimit.Allowed {
		t.Fatalf("unexpected decision %+v", res.RateLimit)
	}
	if otps, _, _ := h.notifier.counts(); otps != 5 {
		t.Fatalf("throttled request must not send mail, got %d", otps)
	}
}

func TestRegistrationValidationConsumesQuota(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Begin(context.Background(), BeginInput{Email: "not-an-email", Name: "", Password: "short", ClientIP: testIP})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"email", "name", "password"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("expected %s to be reported, got %v", field, verr.Fields)
		}
	}
	if res.RateLimit.Remaining != 4 {
		t.Fatalf("invalid input should still count, remaining=%d", res.RateLimit.Remaining)
	}
}

func TestRegistrationAdmitConsumesQuota(t *testing.T) {
	h := newHarness(t)

	decision, err := h.svc.Admit(context.Background(), ActionVerify, testIP)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if decision.Namespace != "verify-otp" || decision.Remaining != 9 {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestRegistrationNameTooLong(t *testing.T) {
	h := newHarness(t)
	long := make([]rune, 101)
	for i := range long {
		long[i] = 'é'
	}

	_, err := h.svc.Begin(context.Background(), BeginInput{Email: testEmail, Name: string(long), Password: testPassword, ClientIP: testIP})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["name"] == "" {
		t.Fatalf("expected name validation error, got %v", err)
	}
}

func TestRegistrationExpiryBoundary(t *testing.T) {
	h := newHarness(t)
	h.begin(t)
	code := h.notifier.lastCode(testEmail)

	h.clock.Advance(10*time.Minute + time.Second)
	if _, err := h.verify(code); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired one second after expiry, got %v", err)
	}

	h2 := newHarness(t)
	h2.begin(t)
	code = h2.notifier.lastCode(testEmail)

	h2.clock.Advance(10*time.Minute - time.Second)
	if _, err := h2.verify(code); err != nil {
		t.Fatalf("expected success one second before expiry, got %v", err)
	}
	h2.svc.Wait()
}

func TestRegistrationResendCooldown(t *testing.T) {
	h := newHarness(t)
	h.begin(t)
	firstCode := h.notifier.lastCode(testEmail)

	h.clock.Advance(10 * time.Second)
	_, err := h.svc.Resend(context.Background(), ResendInput{Email: testEmail, ClientIP: testIP})
	var cooldown *CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownError, got %v", err)
	}
	if cooldown.WaitSeconds() < 50 {
		t.Fatalf("expected at least 50s wait, got %d", cooldown.WaitSeconds())
	}

	h.clock.Advance(50 * time.Second)
	res, err := h.svc.Resend(context.Background(), ResendInput{Email: testEmail, ClientIP: testIP})
	if err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if want := h.clock.Now().Add(10 * time.Minute); !res.OTPExpiresAt.Equal(want) {
		t.Fatalf("expected refreshed expiry %v, got %v", want, res.OTPExpiresAt)
	}
	if want := h.clock.Now().Add(time.Minute); !res.ResendAvailableAt.Equal(want) {
		t.Fatalf("expected new cooldown %v, got %v", want, res.ResendAvailableAt)
	}

	if _, err := h.verify(firstCode); !errors.Is(err, ErrOTPMismatch) {
		t.Fatalf("superseded code should mismatch, got %v", err)
	}
	if _, err := h.verify(h.notifier.lastCode(testEmail)); err != nil {
		t.Fatalf("Verify with resent code: %v", err)
	}
	h.svc.Wait()
}

func TestRegistrationResendKeepsAttempts(t *testing.T) {
	h := newHarness(t)
	h.begin(t)

	for i := 0; i < 2; i++ {
		if _, err := h.verify("000000"); !errors.Is(err, ErrOTPMismatch) {
			t.Fatalf("expected mismatch, got %v", err)
		}
	}

	h.clock.Advance(time.Minute)
	if _, err := h.svc.Resend(context.Background(), ResendInput{Email: testEmail, ClientIP: testIP}); err != nil {
		t.Fatalf("Resend: %v", err)
	}

	pending, err := h.pending.Get(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pending.Attempts != 2 {
		t.Fatalf("resend must not reset attempts, got %d", pending.Attempts)
	}
}

func TestRegistrationResendWithoutPending(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Resend(context.Background(), ResendInput{Email: testEmail, ClientIP: testIP})
	if !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("expected ErrPendingNotFound, got %v", err)
	}
}

func TestRegistrationVerifyWithoutPending(t *testing.T) {
	h := newHarness(t)

	_, err := h.verify("123456")
	if !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("expected ErrPendingNotFound, got %v", err)
	}
}

func TestRegistrationVerifyRejectsMalformedCode(t *testing.T) {
	h := newHarness(t)
	h.begin(t)

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		_, err := h.verify(code)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Fields["otp"] == "" {
			t.Fatalf("code %q: expected otp validation error, got %v", code, err)
		}
	}

	pending, _ := h.pending.Get(context.Background(), testEmail)
	if pending.Attempts != 0 {
		t.Fatalf("malformed codes must not count as attempts, got %d", pending.Attempts)
	}
}

func TestRegistrationLockout(t *testing.T) {
	h := newHarness(t)
	h.begin(t)
	code := h.notifier.lastCode(testEmail)

	for i := 0; i < 5; i++ {
		if _, err := h.verify("000000"); !errors.Is(err, ErrOTPMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i+1, err)
		}
	}

	if _, err := h.verify(code); !errors.Is(err, ErrOTPLocked) {
		t.Fatalf("expected ErrOTPLocked after five failures, got %v", err)
	}

	// A fresh begin replaces the record and clears the lock.
	h.begin(t)
	if _, err := h.verify(h.notifier.lastCode(testEmail)); err != nil {
		t.Fatalf("Verify after restart: %v", err)
	}
	h.svc.Wait()
}

func TestRegistrationParallelGuessesCannotPassLockout(t *testing.T) {
	h := newHarness(t, func(_ *RegistrationDeps, cfg *RegistrationConfig) {
		cfg.Rules.Verify = domain.RateLimitRule{Namespace: "verify-otp", Limit: 100, Window: time.Minute}
	})
	h.begin(t)
	code := h.notifier.lastCode(testEmail)

	const guesses = 30
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		mismatches int
		locked     int
	)
	for i := 0; i < guesses; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.verify("000000")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrOTPMismatch):
				mismatches++
			case errors.Is(err, ErrOTPLocked):
				locked++
			default:
				t.Errorf("unexpected verify result: %v", err)
			}
		}()
	}
	wg.Wait()

	if mismatches != 5 || locked != guesses-5 {
		t.Fatalf("expected 5 compared guesses and %d locked, got %d and %d", guesses-5, mismatches, locked)
	}
	pending, err := h.pending.Get(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if pending.Attempts != 5 {
		t.Fatalf("expected attempts to stop at 5, got %d", pending.Attempts)
	}
	if _, err := h.verify(code); !errors.Is(err, ErrOTPLocked) {
		t.Fatalf("expected the correct code to be locked out, got %v", err)
	}
	if h.users.count() != 0 {
		t.Fatalf("expected no account, got %d", h.users.count())
	}
}

func TestRegistrationContinuationToken(t *testing.T) {
	h := newHarness(t)
	begun := h.begin(t)

	h.clock.Advance(time.Minute)
	if _, err := h.svc.Resend(context.Background(), ResendInput{Continuation: begun.Continuation, ClientIP: testIP}); err != nil {
		t.Fatalf("Resend via continuation: %v", err)
	}

	res, err := h.svc.Verify(context.Background(), VerifyInput{
		Continuation: begun.Continuation,
		OTP:          h.notifier.lastCode(testEmail),
		ClientIP:     testIP,
	})
	if err != nil {
		t.Fatalf("Verify via continuation: %v", err)
	}
	h.svc.Wait()
	if res.User.Email != testEmail {
		t.Fatalf("unexpected user %+v", res.User)
	}

	_, err = h.svc.Verify(context.Background(), VerifyInput{Continuation: "garbage", OTP: "123456", ClientIP: testIP})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Fields["continuation"] == "" {
		t.Fatalf("expected continuation validation error, got %v", err)
	}
}

func TestRegistrationCaptcha(t *testing.T) {
	h := newHarness(t, func(deps *RegistrationDeps, _ *RegistrationConfig) {
		deps.Captcha = fakeCaptcha{ok: false}
	})

	_, err := h.svc.Begin(context.Background(), BeginInput{Email: testEmail, Name: testName, Password: testPassword, ClientIP: testIP})
	if !errors.Is(err, ErrCaptchaRejected) {
		t.Fatalf("expected ErrCaptchaRejected, got %v", err)
	}
	if _, err := h.pending.Get(context.Background(), testEmail); err == nil {
		t.Fatal("rejected captcha must not create a pending registration")
	}

	h = newHarness(t, func(deps *RegistrationDeps, _ *RegistrationConfig) {
		deps.Captcha = fakeCaptcha{err: errors.New("captcha backend down")}
	})
	_, err = h.svc.Begin(context.Background(), BeginInput{Email: testEmail, Name: testName, Password: testPassword, ClientIP: testIP})
	if err == nil || errors.Is(err, ErrCaptchaRejected) {
		t.Fatalf("expected an internal error, got %v", err)
	}
}

func TestRegistrationOTPDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	h.notifier.otpErr = errors.New("smtp: connection refused")

	_, err := h.svc.Begin(context.Background(), BeginInput{Email: testEmail, Name: testName, Password: testPassword, ClientIP: testIP})
	if err == nil {
		t.Fatal("expected delivery failure to surface")
	}
	if outcomeOf(err) != "error" {
		t.Fatalf("expected an internal outcome, got %q", outcomeOf(err))
	}
}

func TestRegistrationBackgroundFailureDoesNotAffectVerify(t *testing.T) {
	h := newHarness(t)
	h.notifier.welcomeErr = errors.New("smtp: mailbox unavailable")
	h.begin(t)

	res, err := h.verify(h.notifier.lastCode(testEmail))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	h.svc.Wait()

	if res.User == nil {
		t.Fatal("expected the new account")
	}
	h.metrics.mu.Lock()
	defer h.metrics.mu.Unlock()
	if h.metrics.failures["welcome_email"] != 1 {
		t.Fatalf("expected a recorded background failure, got %v", h.metrics.failures)
	}
}

func TestRegistrationStrictPolicySurfacesCounterFailure(t *testing.T) {
	h := newHarness(t, func(deps *RegistrationDeps, _ *RegistrationConfig) {
		deps.Limiter = NewRateLimiter(&failingCounterStore{err: errors.New("connection refused")}, memory.NewCounterStore(),
			domain.NewDegradationPolicy(domain.DegradationPolicyModeStrict))
	})

	_, err := h.svc.Begin(context.Background(), BeginInput{Email: testEmail, Name: testName, Password: testPassword, ClientIP: testIP})
	if !errors.Is(err, ErrCounterUnavailable) {
		t.Fatalf("expected ErrCounterUnavailable, got %v", err)
	}
	if otps, _, _ := h.notifier.counts(); otps != 0 {
		t.Fatal("no mail should be sent when admission fails")
	}
}
