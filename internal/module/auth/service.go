package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// AccountOpener provisions the credit account of a new user.
type AccountOpener interface {
	OpenAccount(ctx context.Context, userID uuid.UUID) error
}

// ResetNotifier delivers password reset tokens to their owner.
type ResetNotifier interface {
	SendPasswordReset(ctx context.Context, email, token string) error
}

// LogNotifier records reset requests in the log when no mailer is
// configured. The token itself is only logged, at debug level, when
// withToken is set.
type LogNotifier struct {
	logger    *zap.Logger
	withToken bool
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger, withToken bool) *LogNotifier {
	return &LogNotifier{logger: logger, withToken: withToken}
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	n.logger.Info("password reset requested", zap.String("email", email))
	if n.withToken {
		n.logger.Debug("password reset token", zap.String("email", email), zap.String("token", token))
	}
	return nil
}

// ServiceConfig holds auth service settings.
type ServiceConfig struct {
	ResetTokenExpiry time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets how reset tokens are delivered.
func WithNotifier(n ResetNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// Service implements sign-up, sign-in, credential updates and password reset.
type Service struct {
	users      UserRepository
	resets     ResetStore
	jwt        *JWTManager
	accounts   AccountOpener
	notifier   ResetNotifier
	resetTTL   time.Duration
	logger     *zap.Logger
	hashCost   int
	tokenBytes int
}

// NewService creates a new auth service.
func NewService(
	users UserRepository,
	resets ResetStore,
	jwt *JWTManager,
	accounts AccountOpener,
	cfg *ServiceConfig,
	logger *zap.Logger,
	opts ...Option,
) *Service {
	ttl := time.Hour
	if cfg != nil && cfg.ResetTokenExpiry > 0 {
		ttl = cfg.ResetTokenExpiry
	}
	s := &Service{
		users:      users,
		resets:     resets,
		jwt:        jwt,
		accounts:   accounts,
		notifier:   NewLogNotifier(logger, false),
		resetTTL:   ttl,
		logger:     logger,
		hashCost:   bcrypt.DefaultCost,
		tokenBytes: 32,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp creates a user, opens its credit account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	if s.accounts != nil {
		if err := s.accounts.OpenAccount(ctx, user.ID); err != nil {
			// The account is created lazily on the next grant.
			s.logger.Warn("failed to open credit account",
				zap.String("user_id", user.ID.String()),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("user signed up", zap.String("user_id", user.ID.String()))
	return s.issue(user)
}

// SignIn verifies credentials and returns a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user)
}

// CurrentUser returns the user behind an authenticated request.
func (s *Service) CurrentUser(ctx context.Context, userID uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, userID)
}

// UpdatePassword replaces the password after verifying the current one.
func (s *Service) UpdatePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	if len(next) < minPasswordLength {
		return ErrWeakPassword
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	return s.users.UpdatePassword(ctx, userID, hash)
}

// UpdateEmail changes the sign-in email.
func (s *Service) UpdateEmail(ctx context.Context, userID uuid.UUID, email string) (*User, error) {
	email = normalizeEmail(email)
	if err := s.users.UpdateEmail(ctx, userID, email); err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

// RequestPasswordReset issues a reset token for email. Unknown addresses
// succeed silently so callers cannot enumerate accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	token, err := generateSecureToken(s.tokenBytes)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.resets.Save(ctx, token, user.ID, s.resetTTL); err != nil {
		return err
	}
	if err := s.notifier.SendPasswordReset(ctx, user.Email, token); err != nil {
		return fmt.Errorf("send reset token: %w", err)
	}
	return nil
}

// ConfirmPasswordReset redeems token and sets a new password.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, password string) error {
	if len(password) < minPasswordLength {
		return ErrWeakPassword
	}

	userID, err := s.resets.Consume(ctx, token)
	if err != nil {
		return err
	}

	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	return nil
}

func (s *Service) issue(user *User) (*Session, error) {
	token, expiresAt, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
