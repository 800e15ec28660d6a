package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arklim/storefront-signup/internal/core/domain"
	"github.com/arklim/storefront-signup/internal/core/port"
	"github.com/arklim/storefront-signup/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingCounterStore struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (f *failingCounterStore) Increment(ctx context.Context, _ string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return 0, f.err
}

func (f *failingCounterStore) RemainingTTL(context.Context, string) (time.Duration, bool, error) {
	return 0, false, f.err
}

type blockingCounterStore struct{}

func (blockingCounterStore) Increment(ctx context.Context, _ string, _ time.Duration) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (blockingCounterStore) RemainingTTL(ctx context.Context, _ string) (time.Duration, bool, error) {
	<-ctx.Done()
	return 0, false, ctx.Err()
}

type noTTLCounterStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (s *noTTLCounterStore) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = make(map[string]int64)
	}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *noTTLCounterStore) RemainingTTL(context.Context, string) (time.Duration, bool, error) {
	return 0, false, nil
}

type fakeUserRepository struct {
	mu          sync.Mutex
	users       map[string]domain.User
	insertCalls int
	existsErr   error
	insertErr   error

	// conflictOnInsert simulates a concurrent verify that won the race.
	conflictOnInsert bool
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{users: make(map[string]domain.User)}
}

func (r *fakeUserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	if r.existsErr != nil {
		return false, r.existsErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[email]
	return ok, nil
}

func (r *fakeUserRepository) Insert(_ context.Context, user domain.NewUser) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertCalls++

	if r.insertErr != nil {
		return nil, r.insertErr
	}
	if r.conflictOnInsert {
		r.users[user.Email] = domain.User{ID: "winner", Email: user.Email, Name: user.Name, Status: domain.UserStatusActive}
		return nil, fmt.Errorf("insert user: %w", repository.ErrConflict)
	}
	if _, ok := r.users[user.Email]; ok {
		return nil, fmt.Errorf("insert user: %w", repository.ErrConflict)
	}

	created := domain.User{
		ID:           fmt.Sprintf("user-%d", len(r.users)+1),
		Name:         user.Name,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		PasswordAlgo: user.PasswordAlgo,
		Status:       domain.UserStatusActive,
		RegisteredAt: user.RegisteredAt,
	}
	r.users[user.Email] = created
	return &created, nil
}

func (r *fakeUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r *fakeUserRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

type fakeNotifier struct {
	mu         sync.Mutex
	otps       []port.OTPMessage
	welcomes   []port.WelcomeMessage
	notices    []port.OperatorMessage
	otpErr     error
	welcomeErr error
}

func (n *fakeNotifier) SendOTP(_ context.Context, msg port.OTPMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.otpErr != nil {
		return n.otpErr
	}
	n.otps = append(n.otps, msg)
	return nil
}

func (n *fakeNotifier) SendWelcome(_ context.Context, msg port.WelcomeMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.welcomes = append(n.welcomes, msg)
	return n.welcomeErr
}

func (n *fakeNotifier) SendOperatorNotice(_ context.Context, msg port.OperatorMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, msg)
	return nil
}

// lastCode returns the most recent OTP sent to email.
func (n *fakeNotifier) lastCode(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.otps) - 1; i >= 0; i-- {
		if n.otps[i].Email == email {
			return n.otps[i].Code
		}
	}
	return ""
}

func (n *fakeNotifier) counts() (otps, welcomes, notices int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.otps), len(n.welcomes), len(n.notices)
}

type fakeHasher struct{}

func (fakeHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (fakeHasher) Algorithm() string { return "fake" }

// sequenceOTP hands out 100001, 100002, ...
type sequenceOTP struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceOTP) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%06d", 100000+g.next), nil
}

type minLengthPolicy int

func (m minLengthPolicy) Validate(password string, _ ...string) error {
	if len(password) < int(m) {
		return fmt.Errorf("password must be at least %d characters long", int(m))
	}
	return nil
}

type fakeCaptcha struct {
	ok  bool
	err error
}

func (fakeCaptcha) Enabled() bool { return true }

func (c fakeCaptcha) Verify(context.Context, string, string) (bool, error) {
	return c.ok, c.err
}

type fakeContinuation struct{}

func (fakeContinuation) Sign(email string, _ time.Time) (string, error) { return "cont:" + email, nil }

func (fakeContinuation) Parse(token string) (string, error) {
	if len(token) > 5 && token[:5] == "cont:" {
		return token[5:], nil
	}
	return "", errors.New("bad token")
}

type fakeEvents struct {
	mu     sync.Mutex
	events []domain.UserRegisteredEvent
}

func (e *fakeEvents) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

type recordingMetrics struct {
	mu        sync.Mutex
	outcomes  map[string]int
	fallbacks map[string]int
	failures  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		outcomes:  make(map[string]int),
		fallbacks: make(map[string]int),
		failures:  make(map[string]int),
	}
}

func (m *recordingMetrics) ObserveDecision(string, bool, bool) {}

func (m *recordingMetrics) ObserveFallback(namespace, reason, action string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks[namespace+"/"+reason+"/"+action]++
}

func (m *recordingMetrics) ObserveOutcome(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[operation+"/"+outcome]++
}

func (m *recordingMetrics) ObserveBackgroundFailure(task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[task]++
}
