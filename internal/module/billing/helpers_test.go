package billing

import (
	"context"
	"errors"
	"sync"

	"github.com/homeglow/server/internal/module/credits"
)

type memoryRepository struct {
	mu    sync.Mutex
	plans map[string]*Plan
	err   error
}

func newMemoryRepository() *memoryRepository {
	repo := &memoryRepository{plans: make(map[string]*Plan)}
	for _, p := range Catalog() {
		repo.plans[p.ID] = p
	}
	return repo
}

func (r *memoryRepository) ListActivePlans(context.Context) ([]*Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []*Plan
	for _, p := range Catalog() {
		if stored, ok := r.plans[p.ID]; ok && stored.Active {
			out = append(out, stored)
		}
	}
	return out, nil
}

func (r *memoryRepository) GetPlan(_ context.Context, id string) (*Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return p, nil
}

func (r *memoryRepository) UpsertPlans(_ context.Context, plans []*Plan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	return nil
}

type fakeGranter struct {
	mu       sync.Mutex
	requests []credits.GrantRequest
	seen     map[string]bool
	balance  int
	err      error
}

func (g *fakeGranter) Grant(_ context.Context, req credits.GrantRequest) (int, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return 0, false, g.err
	}
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[req.SourceRef] {
		return g.balance, false, nil
	}
	g.seen[req.SourceRef] = true
	g.requests = append(g.requests, req)
	g.balance += req.Amount
	return g.balance, true, nil
}

type failingCheckout struct{}

func (failingCheckout) Name() string { return "failing" }

func (failingCheckout) CreateSession(context.Context, *CheckoutRequest) (*CheckoutSession, error) {
	return nil, errors.New("provider down")
}
