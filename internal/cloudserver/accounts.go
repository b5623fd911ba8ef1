package cloudserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrUserNotFound    = errors.New("cloudserver: user not found")
	ErrEmailTaken      = errors.New("cloudserver: email already registered")
	ErrInvalidToken    = errors.New("cloudserver: invalid or expired confirmation token")
	ErrObjectNotFound  = errors.New("cloudserver: object not found")
	ErrSnapshotMissing = errors.New("cloudserver: no snapshot")
)

// User is a registered account.
type User struct {
	ID           string     `db:"id"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	ConfirmToken *string    `db:"confirm_token"`
	ConfirmedAt  *time.Time `db:"confirmed_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

func (u User) Confirmed() bool { return u.ConfirmedAt != nil }

// Accounts stores users and their snapshot records.
type Accounts interface {
	CreateUser(ctx context.Context, u User) error
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	SetConfirmToken(ctx context.Context, userID, token string) error
	Confirm(ctx context.Context, token string, at time.Time) (User, error)

	Snapshot(ctx context.Context, userID string) (json.RawMessage, error)
	PutSnapshot(ctx context.Context, userID string, data json.RawMessage, at time.Time) error
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemAccounts keeps accounts in memory. It backs development servers
// started without a database.
type MemAccounts struct {
	mu        sync.RWMutex
	users     map[string]User
	snapshots map[string]json.RawMessage
}

func NewMemAccounts() *MemAccounts {
	return &MemAccounts{users: map[string]User{}, snapshots: map[string]json.RawMessage{}}
}

var _ Accounts = (*MemAccounts)(nil)

func (m *MemAccounts) CreateUser(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = normalizeEmail(u.Email)
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrEmailTaken
		}
	}
	m.users[u.ID] = u
	return nil
}

func (m *MemAccounts) UserByEmail(_ context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = normalizeEmail(email)
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *MemAccounts) UserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *MemAccounts) SetConfirmToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.ConfirmToken = &token
	m.users[userID] = u
	return nil
}

func (m *MemAccounts) Confirm(_ context.Context, token string, at time.Time) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.ConfirmToken != nil && *u.ConfirmToken == token {
			u.ConfirmToken = nil
			u.ConfirmedAt = &at
			m.users[id] = u
			return u, nil
		}
	}
	return User{}, ErrInvalidToken
}

func (m *MemAccounts) Snapshot(_ context.Context, userID string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.snapshots[userID]
	if !ok {
		return nil, ErrSnapshotMissing
	}
	return data, nil
}

func (m *MemAccounts) PutSnapshot(_ context.Context, userID string, data json.RawMessage, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[userID] = append(json.RawMessage(nil), data...)
	return nil
}
