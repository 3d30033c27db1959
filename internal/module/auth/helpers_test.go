package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[uuid.UUID]*User)}
}

func (r *memoryUsers) Create(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return ErrUserAlreadyExists
		}
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *memoryUsers) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (r *memoryUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memoryUsers) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *memoryUsers) UpdateEmail(_ context.Context, id uuid.UUID, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email && u.ID != id {
			return ErrUserAlreadyExists
		}
	}
	u, ok := r.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Email = email
	return nil
}

type fakeAccounts struct {
	mu     sync.Mutex
	opened []uuid.UUID
	err    error
}

func (a *fakeAccounts) OpenAccount(_ context.Context, userID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opened = append(a.opened, userID)
	return a.err
}

type capturingNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (n *capturingNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tokens == nil {
		n.tokens = make(map[string]string)
	}
	n.tokens[email] = token
	return nil
}

func (n *capturingNotifier) token(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tokens[email]
}

type authFixture struct {
	service  *Service
	users    *memoryUsers
	resets   *MemoryResetStore
	accounts *fakeAccounts
	notifier *capturingNotifier
	jwt      *JWTManager
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		users:    newMemoryUsers(),
		resets:   NewMemoryResetStore(),
		accounts: &fakeAccounts{},
		notifier: &capturingNotifier{},
		jwt:      NewJWTManager(testJWTConfig()),
	}
	f.service = NewService(f.users, f.resets, f.jwt, f.accounts,
		&ServiceConfig{ResetTokenExpiry: time.Minute}, zap.NewNop(), WithNotifier(f.notifier))
	f.service.hashCost = bcrypt.MinCost
	return f
}
