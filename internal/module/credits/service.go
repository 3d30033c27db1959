package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/homeglow/server/internal/shared/events"
	"go.uber.org/zap"
)

// Publisher receives balance change events.
type Publisher interface {
	Publish(event events.Event)
}

// AnomalyObserver is notified when anomalies change state.
type AnomalyObserver interface {
	RecordAnomaly(status string)
}

// GrantRequest describes a credit top-up.
type GrantRequest struct {
	UserID    uuid.UUID
	Amount    int
	Source    string
	SourceRef string
	Pro       bool
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSignupGrant sets the balance new accounts open with.
func WithSignupGrant(credits int) Option {
	return func(l *Ledger) { l.signupGrant = credits }
}

// WithAnomalyObserver reports anomaly state changes to o.
func WithAnomalyObserver(o AnomalyObserver) Option {
	return func(l *Ledger) { l.observer = o }
}

// Ledger is the only writer of credit balances.
type Ledger struct {
	repo        Repository
	publisher   Publisher
	observer    AnomalyObserver
	logger      *zap.Logger
	signupGrant int
}

// NewLedger creates a new ledger.
func NewLedger(repo Repository, publisher Publisher, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetBalance returns the user's remaining credits. A missing account is a
// read failure, never a zero balance.
func (l *Ledger) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	account, err := l.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.CreditsRemaining, nil
}

// GetAccount returns the user's account.
func (l *Ledger) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	account, err := l.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerReadFailed, err)
	}
	return account, nil
}

// Decrement atomically spends amount credits and returns the new balance.
func (l *Ledger) Decrement(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	remaining, err := l.repo.Decrement(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: %w", ErrLedgerWriteFailed, err)
	}

	l.publish(events.NewCreditsUpdatedEvent(userID, -amount, remaining, "enhancement"))
	return remaining, nil
}

// OpenAccount creates the user's account if it does not exist yet.
func (l *Ledger) OpenAccount(ctx context.Context, userID uuid.UUID) error {
	err := l.repo.CreateAccount(ctx, &Account{
		UserID:           userID,
		CreditsRemaining: l.signupGrant,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerWriteFailed, err)
	}
	return nil
}

// Grant tops up a balance. Replaying the same SourceRef is a no-op that
// returns the current balance with applied set to false.
func (l *Ledger) Grant(ctx context.Context, req GrantRequest) (balance int, applied bool, err error) {
	if req.Amount <= 0 {
		return 0, false, ErrInvalidAmount
	}
	if req.SourceRef == "" {
		return 0, false, errors.New("grant requires a source reference")
	}

	grant := &Grant{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Amount:    req.Amount,
		Source:    req.Source,
		SourceRef: req.SourceRef,
	}
	balance, applied, err = l.repo.ApplyGrant(ctx, grant, req.Pro)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", ErrLedgerWriteFailed, err)
	}

	if applied {
		l.logger.Info("credits granted",
			zap.String("user_id", req.UserID.String()),
			zap.Int("amount", req.Amount),
			zap.String("source", req.Source),
			zap.Int("balance", balance),
		)
		l.publish(events.NewCreditsUpdatedEvent(req.UserID, req.Amount, balance, req.Source))
	}
	return balance, applied, nil
}

// RecordAnomaly stores a spend that could not be charged so it can be
// reconciled later.
func (l *Ledger) RecordAnomaly(ctx context.Context, userID uuid.UUID, amount int, sessionID string, cause error) error {
	anomaly := &Anomaly{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		SessionID: sessionID,
		Status:    AnomalyStatusPending,
	}
	if cause != nil {
		anomaly.Reason = cause.Error()
	}

	if err := l.repo.CreateAnomaly(ctx, anomaly); err != nil {
		return fmt.Errorf("%w: %w", ErrLedgerWriteFailed, err)
	}
	l.observe(AnomalyStatusPending)
	return nil
}

func (l *Ledger) publish(event events.Event) {
	if l.publisher != nil {
		l.publisher.Publish(event)
	}
}

func (l *Ledger) observe(status AnomalyStatus) {
	if l.observer != nil {
		l.observer.RecordAnomaly(string(status))
	}
}
