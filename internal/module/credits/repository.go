package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines the interface for credit data access.
type Repository interface {
	// Account operations
	GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) error
	Decrement(ctx context.Context, userID uuid.UUID, amount int) (int, error)
	ApplyGrant(ctx context.Context, grant *Grant, setPro bool) (balance int, applied bool, err error)

	// Anomaly operations
	CreateAnomaly(ctx context.Context, anomaly *Anomaly) error
	ListPendingAnomalies(ctx context.Context, limit int) ([]*Anomaly, error)
	UpdateAnomaly(ctx context.Context, anomaly *Anomaly) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new credits repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// --- Account Operations ---

func (r *repository) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	var account Account
	err := r.db.WithContext(ctx).First(&account, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

func (r *repository) CreateAccount(ctx context.Context, account *Account) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(account).Error
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// Decrement subtracts amount only when the balance covers it, in one statement.
func (r *repository) Decrement(ctx context.Context, userID uuid.UUID, amount int) (int, error) {
	var account Account
	res := r.db.WithContext(ctx).
		Model(&account).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "credits_remaining"}}}).
		Where("user_id = ? AND credits_remaining >= ?", userID, amount).
		Update("credits_remaining", gorm.Expr("credits_remaining - ?", amount))
	if res.Error != nil {
		return 0, fmt.Errorf("decrement credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrInsufficientCredits
	}
	return account.CreditsRemaining, nil
}

func (r *repository) ApplyGrant(ctx context.Context, grant *Grant, setPro bool) (int, bool, error) {
	var (
		balance int
		applied bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_ref"}},
			DoNothing: true,
		}).Create(grant)
		if res.Error != nil {
			return fmt.Errorf("insert grant: %w", res.Error)
		}

		if res.RowsAffected == 0 {
			var existing Account
			if err := tx.First(&existing, "user_id = ?", grant.UserID).Error; err != nil {
				return fmt.Errorf("read balance: %w", err)
			}
			balance = existing.CreditsRemaining
			return nil
		}

		updates := map[string]any{
			"credits_remaining": gorm.Expr("user_credits.credits_remaining + ?", grant.Amount),
			"updated_at":        time.Now(),
		}
		if setPro {
			updates["is_pro"] = true
		}
		account := Account{UserID: grant.UserID, CreditsRemaining: grant.Amount, IsPro: setPro}
		err := tx.Clauses(
			clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}},
				DoUpdates: clause.Assignments(updates),
			},
			clause.Returning{Columns: []clause.Column{{Name: "credits_remaining"}}},
		).Create(&account).Error
		if err != nil {
			return fmt.Errorf("credit account: %w", err)
		}
		balance = account.CreditsRemaining
		applied = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return balance, applied, nil
}

// --- Anomaly Operations ---

func (r *repository) CreateAnomaly(ctx context.Context, anomaly *Anomaly) error {
	if err := r.db.WithContext(ctx).Create(anomaly).Error; err != nil {
		return fmt.Errorf("create anomaly: %w", err)
	}
	return nil
}

func (r *repository) ListPendingAnomalies(ctx context.Context, limit int) ([]*Anomaly, error) {
	var anomalies []*Anomaly
	err := r.db.WithContext(ctx).
		Where("status = ?", AnomalyStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&anomalies).Error
	if err != nil {
		return nil, fmt.Errorf("list pending anomalies: %w", err)
	}
	return anomalies, nil
}

func (r *repository) UpdateAnomaly(ctx context.Context, anomaly *Anomaly) error {
	if err := r.db.WithContext(ctx).Save(anomaly).Error; err != nil {
		return fmt.Errorf("update anomaly: %w", err)
	}
	return nil
}
