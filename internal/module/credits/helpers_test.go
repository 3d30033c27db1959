package credits

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/homeglow/server/internal/shared/events"
)

// memoryRepository is an in-memory Repository with the same conditional
// decrement semantics as the SQL one.
type memoryRepository struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]*Account
	grants    map[string]*Grant
	anomalies map[uuid.UUID]*Anomaly

	getErr       error
	decrementErr error
	anomalyErr   error
	decrements   int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		accounts:  make(map[uuid.UUID]*Account),
		grants:    make(map[string]*Grant),
		anomalies: make(map[uuid.UUID]*Anomaly),
	}
}

func (r *memoryRepository) seed(userID uuid.UUID, credits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[userID] = &Account{UserID: userID, CreditsRemaining: credits}
}

func (r *memoryRepository) balance(userID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[userID].CreditsRemaining
}

func (r *memoryRepository) GetAccount(_ context.Context, userID uuid.UUID) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	account, ok := r.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *memoryRepository) CreateAccount(_ context.Context, account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.UserID]; !ok {
		copied := *account
		r.accounts[account.UserID] = &copied
	}
	return nil
}

func (r *memoryRepository) Decrement(_ context.Context, userID uuid.UUID, amount int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decrements++
	if r.decrementErr != nil {
		return 0, r.decrementErr
	}
	account, ok := r.accounts[userID]
	if !ok || account.CreditsRemaining < amount {
		return 0, ErrInsufficientCredits
	}
	account.CreditsRemaining -= amount
	return account.CreditsRemaining, nil
}

func (r *memoryRepository) ApplyGrant(_ context.Context, grant *Grant, setPro bool) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[grant.UserID]
	if !ok {
		account = &Account{UserID: grant.UserID}
		r.accounts[grant.UserID] = account
	}
	if _, dup := r.grants[grant.SourceRef]; dup {
		return account.CreditsRemaining, false, nil
	}
	r.grants[grant.SourceRef] = grant
	account.CreditsRemaining += grant.Amount
	if setPro {
		account.IsPro = true
	}
	return account.CreditsRemaining, true, nil
}

func (r *memoryRepository) CreateAnomaly(_ context.Context, anomaly *Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.anomalyErr != nil {
		return r.anomalyErr
	}
	copied := *anomaly
	r.anomalies[anomaly.ID] = &copied
	return nil
}

func (r *memoryRepository) ListPendingAnomalies(_ context.Context, limit int) ([]*Anomaly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Anomaly
	for _, a := range r.anomalies {
		if a.Status == AnomalyStatusPending && len(out) < limit {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memoryRepository) UpdateAnomaly(_ context.Context, anomaly *Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *anomaly
	r.anomalies[anomaly.ID] = &copied
	return nil
}

func (r *memoryRepository) anomalyList() []*Anomaly {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Anomaly
	for _, a := range r.anomalies {
		out = append(out, a)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

type recordingObserver struct {
	statuses []string
}

func (o *recordingObserver) RecordAnomaly(status string) {
	o.statuses = append(o.statuses, status)
}
