package reset

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sonowtf/sono/libs/logging"
	"github.com/sonowtf/sono/services/identity/internal/notify"
	"github.com/sonowtf/sono/services/identity/internal/security"
	"github.com/sonowtf/sono/services/identity/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type memStore struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*storage.User
	tokens map[string]*storage.ResetToken
}

func newMemStore() *memStore {
	return &memStore{users: map[uuid.UUID]*storage.User{}, tokens: map[string]*storage.ResetToken{}}
}

func (m *memStore) addUser(email string) *storage.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &storage.User{ID: uuid.New(), Email: email, DisplayName: "Listener", PasswordHash: "old", IsActive: true}
	m.users[u.ID] = u
	return u
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, id uuid.UUID) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) ReplaceResetToken(_ context.Context, t storage.ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, old := range m.tokens {
		if old.UserID == t.UserID && old.UsedAt == nil && old.InvalidatedAt == nil {
			at := t.CreatedAt
			old.InvalidatedAt = &at
		}
	}
	m.tokens[t.TokenHash] = &t
	return nil
}

func (m *memStore) GetResetTokenByHash(_ context.Context, hash string) (*storage.ResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ConsumeResetToken(_ context.Context, hash, passwordHash string, now time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok || !t.Usable(now) {
		return uuid.Nil, storage.ErrConflict
	}
	t.UsedAt = &now
	m.users[t.UserID].PasswordHash = passwordHash
	for _, other := range m.tokens {
		if other.UserID == t.UserID && other.UsedAt == nil && other.InvalidatedAt == nil {
			other.InvalidatedAt = &now
		}
	}
	return t.UserID, nil
}

func (m *memStore) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

type fakeSessions struct {
	mu      sync.Mutex
	revoked []uuid.UUID
}

func (f *fakeSessions) RevokeAll(_ context.Context, userID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, userID)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	resets  []notify.PasswordReset
	changed []notify.PasswordChanged
}

func (f *fakeNotifier) PasswordReset(_ context.Context, msg notify.PasswordReset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, msg)
	return nil
}

func (f *fakeNotifier) PasswordChanged(_ context.Context, msg notify.PasswordChanged) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, msg)
	return nil
}

func (f *fakeNotifier) lastToken(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.resets) == 0 {
		t.Fatalf("no reset notification sent")
	}
	link := f.resets[len(f.resets)-1].Link
	idx := strings.Index(link, "token=")
	if idx < 0 {
		t.Fatalf("link without token: %s", link)
	}
	return link[idx+len("token="):]
}

type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "hashed:" + p, nil }

type fixture struct {
	mgr      *Manager
	store    *memStore
	clock    *fakeClock
	sessions *fakeSessions
	notifier *fakeNotifier
}

func setup(t *testing.T, minDelay time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		sessions: &fakeSessions{},
		notifier: &fakeNotifier{},
	}
	f.mgr = NewManager(f.store, f.sessions, f.notifier, plainHasher{}, Config{
		TokenTTL:     time.Hour,
		FrontendURL:  "http://localhost:3000",
		MinimumDelay: minDelay,
	}, logging.Discard(), nil)
	f.mgr.Clock = f.clock
	return f
}

const newPassword = "N3w!Passw0rd"

func TestRequestSendsLinkForKnownEmail(t *testing.T) {
	f := setup(t, 0)
	user := f.store.addUser("listener@example.com")

	f.mgr.Request(context.Background(), "  Listener@Example.com ", "203.0.113.7")

	if len(f.notifier.resets) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.resets))
	}
	msg := f.notifier.resets[0]
	if msg.UserID != user.ID {
		t.Fatalf("notification for wrong user")
	}
	if !strings.HasPrefix(msg.Link, "http://localhost:3000/reset-password?token=") {
		t.Fatalf("unexpected link %s", msg.Link)
	}
	if !msg.ExpiresAt.Equal(f.clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", msg.ExpiresAt)
	}

	stored, err := f.store.GetResetTokenByHash(context.Background(), security.HashToken(f.notifier.lastToken(t)))
	if err != nil {
		t.Fatalf("token not stored by hash: %v", err)
	}
	if stored.IPAddress != "203.0.113.7" {
		t.Fatalf("expected requester ip recorded")
	}
}

func TestRequestUnknownEmailIsSilent(t *testing.T) {
	f := setup(t, 0)

	f.mgr.Request(context.Background(), "nobody@example.com", "203.0.113.7")

	if len(f.notifier.resets) != 0 || f.store.tokenCount() != 0 {
		t.Fatalf("unknown email must not create tokens or notifications")
	}
}

func TestRequestPaddedOnBothPaths(t *testing.T) {
	const delay = 40 * time.Millisecond
	f := setup(t, delay)
	f.store.addUser("listener@example.com")

	for _, email := range []string{"listener@example.com", "nobody@example.com"} {
		started := time.Now()
		f.mgr.Request(context.Background(), email, "203.0.113.7")
		if elapsed := time.Since(started); elapsed < delay {
			t.Fatalf("request for %s returned after %v, want at least %v", email, elapsed, delay)
		}
	}
}

func TestNewRequestInvalidatesPreviousToken(t *testing.T) {
	f := setup(t, 0)
	f.store.addUser("listener@example.com")
	ctx := context.Background()

	f.mgr.Request(ctx, "listener@example.com", "")
	first := f.notifier.lastToken(t)
	f.mgr.Request(ctx, "listener@example.com", "")
	second := f.notifier.lastToken(t)

	if err := f.mgr.Verify(ctx, first); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected superseded token invalid, got %v", err)
	}
	if err := f.mgr.Verify(ctx, second); err != nil {
		t.Fatalf("expected latest token valid, got %v", err)
	}
}

func TestVerifyExpiresAfterOneHour(t *testing.T) {
	f := setup(t, 0)
	f.store.addUser("listener@example.com")
	ctx := context.Background()

	f.mgr.Request(ctx, "listener@example.com", "")
	token := f.notifier.lastToken(t)

	f.clock.Advance(59 * time.Minute)
	if err := f.mgr.Verify(ctx, token); err != nil {
		t.Fatalf("expected token valid at T+59m, got %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	if err := f.mgr.Verify(ctx, token); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected token expired at T+61m, got %v", err)
	}
	if err := f.mgr.Consume(ctx, token, newPassword, ""); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected consume to fail after expiry, got %v", err)
	}
}

func TestVerifyUnknownToken(t *testing.T) {
	f := setup(t, 0)
	if err := f.mgr.Verify(context.Background(), "not-a-token"); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired, got %v", err)
	}
	if err := f.mgr.Verify(context.Background(), ""); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected ErrInvalidOrExpired for empty token, got %v", err)
	}
}

func TestConsumeChangesPasswordAndRevokesSessions(t *testing.T) {
	f := setup(t, 0)
	user := f.store.addUser("listener@example.com")
	ctx := context.Background()

	f.mgr.Request(ctx, "listener@example.com", "")
	token := f.notifier.lastToken(t)

	if err := f.mgr.Consume(ctx, token, newPassword, "198.51.100.1"); err != nil {
		t.Fatalf("consume: %v", err)
	}

	got, _ := f.store.GetUserByID(ctx, user.ID)
	if got.PasswordHash != "hashed:"+newPassword {
		t.Fatalf("password not updated: %s", got.PasswordHash)
	}
	if len(f.sessions.revoked) != 1 || f.sessions.revoked[0] != user.ID {
		t.Fatalf("expected sessions revoked for user, got %v", f.sessions.revoked)
	}
	if len(f.notifier.changed) != 1 {
		t.Fatalf("expected password changed notification")
	}

	if err := f.mgr.Consume(ctx, token, newPassword, ""); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed on second consume, got %v", err)
	}
	if err := f.mgr.Verify(ctx, token); !errors.Is(err, ErrInvalidOrExpired) {
		t.Fatalf("expected used token to fail verify, got %v", err)
	}
}

func TestConsumeRejectsWeakPassword(t *testing.T) {
	f := setup(t, 0)
	f.store.addUser("listener@example.com")
	ctx := context.Background()

	f.mgr.Request(ctx, "listener@example.com", "")
	token := f.notifier.lastToken(t)

	err := f.mgr.Consume(ctx, token, "short", "")
	var verr *security.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := f.mgr.Verify(ctx, token); err != nil {
		t.Fatalf("weak password must not burn the token: %v", err)
	}
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	f := setup(t, 0)
	f.store.addUser("listener@example.com")
	ctx := context.Background()

	f.mgr.Request(ctx, "listener@example.com", "")
	token := f.notifier.lastToken(t)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		used      int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.mgr.Consume(ctx, token, newPassword, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyUsed):
				used++
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", successes)
	}
	if used != workers-1 {
		t.Fatalf("expected %d ErrAlreadyUsed, got %d", workers-1, used)
	}
	if len(f.sessions.revoked) != 1 {
		t.Fatalf("expected a single session revocation, got %d", len(f.sessions.revoked))
	}
}
