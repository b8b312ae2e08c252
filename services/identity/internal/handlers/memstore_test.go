package handlers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sonowtf/sono/services/identity/internal/storage"
)

// memStore backs every service in the handler tests with the same
// conditional-update semantics as the Postgres store.
type memStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*storage.User
	refresh   map[uuid.UUID]*storage.RefreshToken
	resets    map[string]*storage.ResetToken
	deletions []*storage.DeletionRequest
	audits    []storage.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[uuid.UUID]*storage.User{},
		refresh: map[uuid.UUID]*storage.RefreshToken{},
		resets:  map[string]*storage.ResetToken{},
	}
}

func (m *memStore) CreateUser(_ context.Context, u *storage.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return storage.ErrDuplicateUsername
		}
		if existing.Email == u.Email {
			return storage.ErrDuplicateEmail
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
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

func (m *memStore) GetUserByLogin(_ context.Context, login string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == strings.ToLower(login) || u.Username == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) SetUserActive(_ context.Context, id uuid.UUID, active bool, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.IsActive = active
	return nil
}

func (m *memStore) InsertAudit(_ context.Context, e storage.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

func (m *memStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.audits))
	for _, a := range m.audits {
		out = append(out, a.Action)
	}
	return out
}

func (m *memStore) makeAdmin(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].IsSuperuser = true
}

func (m *memStore) CreateRefreshToken(_ context.Context, t storage.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[t.ID] = &t
	return nil
}

func (m *memStore) GetRefreshToken(_ context.Context, id uuid.UUID) (*storage.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) RotateRefreshToken(_ context.Context, oldID uuid.UUID, next storage.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.refresh[oldID]
	if !ok || old.RevokedAt != nil {
		return storage.ErrConflict
	}
	at := next.CreatedAt
	old.RevokedAt = &at
	old.ReplacedBy = &next.ID
	m.refresh[next.ID] = &next
	return nil
}

func (m *memStore) RevokeFamily(_ context.Context, familyID uuid.UUID, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.refresh {
		if t.FamilyID == familyID && t.RevokedAt == nil {
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memStore) RevokeAllForUser(_ context.Context, userID uuid.UUID, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	u.TokenVersion++
	for _, t := range m.refresh {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return u.TokenVersion, nil
}

func (m *memStore) DeleteExpiredRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.refresh {
		if t.ExpiresAt.Before(before) {
			delete(m.refresh, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) ReplaceResetToken(_ context.Context, t storage.ResetToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, old := range m.resets {
		if old.UserID == t.UserID && old.UsedAt == nil && old.InvalidatedAt == nil {
			at := t.CreatedAt
			old.InvalidatedAt = &at
		}
	}
	m.resets[t.TokenHash] = &t
	return nil
}

func (m *memStore) GetResetTokenByHash(_ context.Context, hash string) (*storage.ResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.resets[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ConsumeResetToken(_ context.Context, hash, passwordHash string, now time.Time) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.resets[hash]
	if !ok || !t.Usable(now) {
		return uuid.Nil, storage.ErrConflict
	}
	u, ok := m.users[t.UserID]
	if !ok {
		return uuid.Nil, storage.ErrNotFound
	}
	t.UsedAt = &now
	u.PasswordHash = passwordHash
	for _, other := range m.resets {
		if other.UserID == t.UserID && other.UsedAt == nil && other.InvalidatedAt == nil {
			other.InvalidatedAt = &now
		}
	}
	return t.UserID, nil
}

func (m *memStore) DeleteExpiredResetTokens(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, t := range m.resets {
		if t.ExpiresAt.Before(before) {
			delete(m.resets, hash)
			n++
		}
	}
	return n, nil
}

func openDeletion(d *storage.DeletionRequest) bool {
	return d.Status == storage.DeletionPending || d.Status == storage.DeletionProcessing
}

func (m *memStore) CreateDeletionRequest(_ context.Context, d storage.DeletionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.deletions {
		if existing.UserID == d.UserID && openDeletion(existing) {
			return storage.ErrDeletionPending
		}
	}
	u, ok := m.users[d.UserID]
	if !ok {
		return storage.ErrNotFound
	}
	d.Status = storage.DeletionPending
	m.deletions = append(m.deletions, &d)
	at := d.ScheduledPurgeAt
	u.PendingDeletionAt = &at
	return nil
}

func (m *memStore) LatestDeletion(_ context.Context, userID uuid.UUID) (*storage.DeletionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.deletions) - 1; i >= 0; i-- {
		if m.deletions[i].UserID == userID {
			cp := *m.deletions[i]
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) CancelDeletion(_ context.Context, userID uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deletions {
		if d.UserID == userID && d.Status == storage.DeletionPending {
			d.Status = storage.DeletionCancelled
			d.CancelledAt = &now
			if u, ok := m.users[userID]; ok {
				u.PendingDeletionAt = nil
			}
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) ListDueDeletions(_ context.Context, now time.Time, limit int) ([]storage.DeletionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.DeletionRequest
	for _, d := range m.deletions {
		if openDeletion(d) && !d.ScheduledPurgeAt.After(now) && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStore) ClaimDeletion(_ context.Context, id uuid.UUID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deletions {
		if d.ID == id && d.Status == storage.DeletionPending && !d.ScheduledPurgeAt.After(now) {
			d.Status = storage.DeletionProcessing
			return nil
		}
	}
	return storage.ErrConflict
}

func (m *memStore) PurgeUser(_ context.Context, userID uuid.UUID, typ storage.DeletionType, now time.Time) (*storage.PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	result := &storage.PurgeResult{UserID: userID, Type: typ, ProfilePictureKey: u.ProfilePictureKey}
	for _, d := range m.deletions {
		if d.UserID == userID && openDeletion(d) {
			d.Status = storage.DeletionCompleted
			d.CompletedAt = &now
		}
	}
	if typ == storage.DeletionHard {
		delete(m.users, userID)
		for id, t := range m.refresh {
			if t.UserID == userID {
				delete(m.refresh, id)
			}
		}
		return result, nil
	}
	hex := strings.ReplaceAll(userID.String(), "-", "")
	u.Username = "deleted_user_" + hex
	u.Email = "deleted_" + hex + "@deleted.account"
	u.PasswordHash = "!"
	u.DisplayName = "Deleted User"
	u.ProfilePictureKey = nil
	u.IsActive = false
	u.PendingDeletionAt = nil
	return result, nil
}
