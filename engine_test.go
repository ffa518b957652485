package credvault

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store used by engine tests. It mirrors the
// bundled SQLite store's observable behavior, including the conflict and
// not-found error mapping.
type memStore struct {
	mu sync.Mutex

	nextUserID    int64
	nextRefreshID int64
	nextVaultID   int64
	nextEventID   int64

	users   map[int64]*User
	refresh map[int64]*RefreshTokenRecord
	vault   map[int64]*VaultToken
	events  []SecurityEvent

	failEvents bool
	failUsers  bool
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[int64]*User{},
		refresh: map[int64]*RefreshTokenRecord{},
		vault:   map[int64]*VaultToken{},
	}
}

func cloneUser(u *User) *User {
	out := *u
	if u.LockedUntil != nil {
		out.LockedUntil = timePtr(*u.LockedUntil)
	}
	if u.LastLogin != nil {
		out.LastLogin = timePtr(*u.LastLogin)
	}
	return &out
}

func (m *memStore) CreateUser(_ context.Context, user User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUsers {
		return nil, ErrStoreUnavailable
	}
	for _, existing := range m.users {
		if existing.Username == user.Username {
			return nil, ErrUsernameTaken
		}
		if existing.Email == user.Email {
			return nil, ErrEmailTaken
		}
	}
	m.nextUserID++
	user.ID = m.nextUserID
	m.users[user.ID] = cloneUser(&user)
	return cloneUser(&user), nil
}

func (m *memStore) UserByID(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	return cloneUser(user), nil
}

func (m *memStore) UserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Username == username {
			return cloneUser(user), nil
		}
	}
	return nil, fmt.Errorf("%w: unknown username", ErrNotFound)
}

func (m *memStore) UpdateUser(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUsers {
		return ErrStoreUnavailable
	}
	if _, ok := m.users[user.ID]; !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, user.ID)
	}
	m.users[user.ID] = cloneUser(user)
	return nil
}

func (m *memStore) DeleteUser(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return fmt.Errorf("%w: user %d", ErrNotFound, id)
	}
	delete(m.users, id)
	// Credential material goes with the account; historical events stay.
	for recordID, record := range m.refresh {
		if record.UserID == id {
			delete(m.refresh, recordID)
		}
	}
	for tokenID, token := range m.vault {
		if token.UserID == id {
			delete(m.vault, tokenID)
		}
	}
	return nil
}

func (m *memStore) ListUsers(_ context.Context, offset, limit int) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for id := int64(1); id <= m.nextUserID; id++ {
		if user, ok := m.users[id]; ok {
			out = append(out, *cloneUser(user))
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CountLockedUsers(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, user := range m.users {
		if user.Locked(now) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) InsertRefreshToken(_ context.Context, record RefreshTokenRecord) (*RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.refresh {
		if existing.TokenHash == record.TokenHash {
			return nil, fmt.Errorf("%w: token hash already present", ErrConflict)
		}
	}
	m.nextRefreshID++
	record.ID = m.nextRefreshID
	stored := record
	m.refresh[record.ID] = &stored
	return &record, nil
}

func (m *memStore) RefreshTokenByHash(_ context.Context, tokenHash string) (*RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.refresh {
		if record.TokenHash == tokenHash {
			out := *record
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown refresh token", ErrNotFound)
}

func (m *memStore) RevokeRefreshToken(_ context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range m.refresh {
		if record.TokenHash == tokenHash && !record.IsRevoked {
			record.IsRevoked = true
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) TouchRefreshToken(_ context.Context, id int64, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.refresh[id]
	if !ok {
		return fmt.Errorf("%w: refresh token %d", ErrNotFound, id)
	}
	record.LastUsedAt = timePtr(usedAt)
	return nil
}

func (m *memStore) DeleteExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, record := range m.refresh {
		if !now.Before(record.ExpiresAt) {
			delete(m.refresh, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) ListActiveRefreshTokens(_ context.Context, now time.Time) ([]RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RefreshTokenRecord
	for id := int64(1); id <= m.nextRefreshID; id++ {
		if record, ok := m.refresh[id]; ok && record.Usable(now) {
			out = append(out, *record)
		}
	}
	return out, nil
}

func cloneVaultToken(t *VaultToken) *VaultToken {
	out := *t
	if t.ExpiresAt != nil {
		out.ExpiresAt = timePtr(*t.ExpiresAt)
	}
	if t.LastUsedAt != nil {
		out.LastUsedAt = timePtr(*t.LastUsedAt)
	}
	return &out
}

func (m *memStore) InsertVaultToken(_ context.Context, token VaultToken) (*VaultToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token.IsActive {
		for _, existing := range m.vault {
			if existing.UserID == token.UserID && existing.ServiceName == token.ServiceName && existing.IsActive {
				return nil, fmt.Errorf("%w: active token already present for service", ErrConflict)
			}
		}
	}
	m.nextVaultID++
	token.ID = m.nextVaultID
	m.vault[token.ID] = cloneVaultToken(&token)
	return cloneVaultToken(&token), nil
}

func (m *memStore) UpdateVaultToken(_ context.Context, token *VaultToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vault[token.ID]; !ok {
		return fmt.Errorf("%w: vault token %d", ErrNotFound, token.ID)
	}
	m.vault[token.ID] = cloneVaultToken(token)
	return nil
}

func (m *memStore) ActiveVaultToken(_ context.Context, userID int64, service, scopeContains string) (*VaultToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.vault {
		if token.UserID != userID || token.ServiceName != service || !token.IsActive {
			continue
		}
		if scopeContains != "" && !strings.Contains(token.Scope, scopeContains) {
			continue
		}
		return cloneVaultToken(token), nil
	}
	return nil, fmt.Errorf("%w: no active token for service", ErrNotFound)
}

func (m *memStore) DeactivateVaultToken(_ context.Context, userID int64, service string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deactivated := false
	for _, token := range m.vault {
		if token.UserID == userID && token.ServiceName == service && token.IsActive {
			token.IsActive = false
			token.UpdatedAt = at
			deactivated = true
		}
	}
	return deactivated, nil
}

func (m *memStore) ListVaultTokens(_ context.Context, userID int64, activeOnly bool) ([]VaultToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VaultToken
	for id := int64(1); id <= m.nextVaultID; id++ {
		token, ok := m.vault[id]
		if !ok || token.UserID != userID {
			continue
		}
		if activeOnly && !token.IsActive {
			continue
		}
		out = append(out, *cloneVaultToken(token))
	}
	return out, nil
}

func (m *memStore) DeactivateExpiredVaultTokens(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deactivated int64
	for _, token := range m.vault {
		if token.IsActive && token.Expired(now) {
			token.IsActive = false
			token.UpdatedAt = now
			deactivated++
		}
	}
	return deactivated, nil
}

func (m *memStore) InsertSecurityEvent(_ context.Context, event SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failEvents {
		return ErrStoreUnavailable
	}
	m.nextEventID++
	event.ID = m.nextEventID
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) QuerySecurityEvents(_ context.Context, filter EventFilter) ([]SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []SecurityEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		event := m.events[i]
		if event.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.EventType != "" && event.EventType != filter.EventType {
			continue
		}
		if filter.Severity != "" && event.Severity != filter.Severity {
			continue
		}
		if filter.UserID != nil && (event.UserID == nil || *event.UserID != *filter.UserID) {
			continue
		}
		matched = append(matched, event)
	}
	if filter.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (m *memStore) CountSecurityEvents(_ context.Context, since time.Time, eventType string, severities []Severity) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, event := range m.events {
		if event.CreatedAt.Before(since) {
			continue
		}
		if eventType != "" && event.EventType != eventType {
			continue
		}
		if len(severities) > 0 {
			found := false
			for _, sev := range severities {
				if event.Severity == sev {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		count++
	}
	return count, nil
}

func (m *memStore) SecurityEventStats(_ context.Context, since time.Time) (*EventStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &EventStats{
		ByType:     map[string]int64{},
		BySeverity: map[Severity]int64{},
	}
	for _, event := range m.events {
		if event.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.ByType[event.EventType]++
		stats.BySeverity[event.Severity]++
	}
	return stats, nil
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, event := range m.events {
		out = append(out, event.EventType)
	}
	return out
}

var _ Store = (*memStore)(nil)

// testClock is a settable time source shared by engine tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func engineTestConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.Secret = "0123456789abcdef0123456789abcdef"
	// Cheap hashing keeps the suite fast; floors still hold.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Vault.EncryptionKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *memStore, *testClock) {
	t.Helper()

	store := newMemStore()
	clock := newTestClock()

	engine, err := New().
		WithConfig(cfg).
		WithStore(store).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, store, clock
}

func registerTestUser(t *testing.T, engine *Engine, username string) *User {
	t.Helper()

	user, err := engine.Register(context.Background(), RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "Sup3r-Secret!",
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", username, err)
	}
	return user
}
