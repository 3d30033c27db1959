package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const resetKeyPrefix = "auth:reset:"

// ResetStore holds single-use password reset tokens.
type ResetStore interface {
	// Save binds token to userID until ttl elapses.
	Save(ctx context.Context, token string, userID uuid.UUID, ttl time.Duration) error
	// Consume returns the bound user and invalidates token.
	Consume(ctx context.Context, token string) (uuid.UUID, error)
}

// hashToken keeps raw tokens out of the store.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RedisResetStore keeps reset tokens in Redis so every instance can redeem them.
type RedisResetStore struct {
	client redis.Cmdable
}

// NewRedisResetStore creates a Redis-backed reset store.
func NewRedisResetStore(client redis.Cmdable) *RedisResetStore {
	return &RedisResetStore{client: client}
}

// Save stores the hashed token with an expiry.
func (s *RedisResetStore) Save(ctx context.Context, token string, userID uuid.UUID, ttl time.Duration) error {
	if err := s.client.Set(ctx, resetKeyPrefix+hashToken(token), userID.String(), ttl).Err(); err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	return nil
}

// Consume reads and deletes the token in one round trip.
func (s *RedisResetStore) Consume(ctx context.Context, token string) (uuid.UUID, error) {
	val, err := s.client.GetDel(ctx, resetKeyPrefix+hashToken(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrInvalidResetToken
		}
		return uuid.Nil, fmt.Errorf("consume reset token: %w", err)
	}
	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, ErrInvalidResetToken
	}
	return userID, nil
}

// MemoryResetStore is an in-memory ResetStore for single-instance deployments.
type MemoryResetStore struct {
	mu      sync.Mutex
	entries map[string]resetEntry
	now     func() time.Time
}

type resetEntry struct {
	userID    uuid.UUID
	expiresAt time.Time
}

// NewMemoryResetStore creates a new in-memory reset store.
func NewMemoryResetStore() *MemoryResetStore {
	return &MemoryResetStore{
		entries: make(map[string]resetEntry),
		now:     time.Now,
	}
}

// Save stores the hashed token with an expiry.
func (s *MemoryResetStore) Save(_ context.Context, token string, userID uuid.UUID, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	s.entries[hashToken(token)] = resetEntry{userID: userID, expiresAt: now.Add(ttl)}
	return nil
}

// Consume returns the bound user and removes the token.
func (s *MemoryResetStore) Consume(_ context.Context, token string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hashToken(token)
	entry, ok := s.entries[key]
	if !ok {
		return uuid.Nil, ErrInvalidResetToken
	}
	delete(s.entries, key)

	if s.now().After(entry.expiresAt) {
		return uuid.Nil, ErrInvalidResetToken
	}
	return entry.userID, nil
}
