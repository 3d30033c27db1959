// Package credits owns per-user credit balances and their reconciliation.
package credits

import (
	"time"

	"github.com/google/uuid"
)

// Account is a user's credit balance.
type Account struct {
	UserID           uuid.UUID `json:"user_id" gorm:"type:uuid;primaryKey"`
	CreditsRemaining int       `json:"credits_remaining" gorm:"not null;default:0;check:credits_remaining >= 0"`
	IsPro            bool      `json:"is_pro" gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Account) TableName() string {
	return "user_credits"
}

// AnomalyStatus is the reconciliation state of a ledger anomaly.
type AnomalyStatus string

const (
	AnomalyStatusPending       AnomalyStatus = "pending"
	AnomalyStatusResolved      AnomalyStatus = "resolved"
	AnomalyStatusUncollectible AnomalyStatus = "uncollectible"
)

// Anomaly records a spend that was delivered but could not be charged.
type Anomaly struct {
	ID         uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID     `json:"user_id" gorm:"type:uuid;not null;index"`
	Amount     int           `json:"amount" gorm:"not null"`
	SessionID  string        `json:"session_id" gorm:"not null"`
	Reason     string        `json:"reason"`
	Status     AnomalyStatus `json:"status" gorm:"not null;default:pending;index"`
	Attempts   int           `json:"attempts" gorm:"not null;default:0"`
	LastError  string        `json:"last_error,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// TableName returns the database table name.
func (Anomaly) TableName() string {
	return "credit_anomalies"
}

// IsTerminal reports whether the anomaly needs no further attempts.
func (a *Anomaly) IsTerminal() bool {
	return a.Status == AnomalyStatusResolved || a.Status == AnomalyStatusUncollectible
}

// Grant is a credit top-up applied at most once per source reference.
type Grant struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	Amount    int       `json:"amount" gorm:"not null"`
	Source    string    `json:"source" gorm:"not null"`
	SourceRef string    `json:"source_ref" gorm:"not null;uniqueIndex"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (Grant) TableName() string {
	return "credit_grants"
}

// Models lists the tables owned by this package, for migrations.
func Models() []any {
	return []any{&Account{}, &Anomaly{}, &Grant{}}
}
