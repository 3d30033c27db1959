package enhance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/homeglow/server/internal/module/credits"
	"github.com/homeglow/server/internal/module/enhance/provider"
	"github.com/homeglow/server/internal/module/history"
	"github.com/homeglow/server/internal/shared/events"
	"go.uber.org/zap"
)

type fakeProvider struct {
	typ provider.Type
	run func(ctx context.Context, job *provider.Job) (*provider.Result, error)

	mu    sync.Mutex
	calls int
	jobs  []*provider.Job
}

func (p *fakeProvider) Type() provider.Type {
	return p.typ
}

func (p *fakeProvider) Run(ctx context.Context, job *provider.Job) (*provider.Result, error) {
	p.mu.Lock()
	p.calls++
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
	return p.run(ctx, job)
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// ownedResult mimics the asynchronous protocol, which persists the result itself.
func ownedResult(_ context.Context, job *provider.Job) (*provider.Result, error) {
	job.Attempts = 1
	return &provider.Result{URL: "https://cdn.test/vance_enhanced_" + job.Filename, Owned: true}, nil
}

func fatalResult(context.Context, *provider.Job) (*provider.Result, error) {
	return nil, &provider.Error{
		Kind:     provider.KindJobFatal,
		Provider: provider.TypeVance,
		Op:       "progress",
		Excerpt:  `{"status":"fatal","api_token":"[redacted]"}`,
	}
}

type decrementCall struct {
	UserID uuid.UUID
	Amount int
}

type anomalyCall struct {
	UserID    uuid.UUID
	Amount    int
	SessionID string
	Cause     error
}

type fakeLedger struct {
	mu         sync.Mutex
	balances   map[uuid.UUID]int
	getErr     error
	decErr     error
	anomalyErr error

	getCalls   int
	decrements []decrementCall
	anomalies  []anomalyCall
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[uuid.UUID]int)}
}

func (l *fakeLedger) GetBalance(_ context.Context, userID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.getCalls++
	if l.getErr != nil {
		return 0, l.getErr
	}
	balance, ok := l.balances[userID]
	if !ok {
		return 0, fmt.Errorf("%w: %w", credits.ErrLedgerReadFailed, credits.ErrAccountNotFound)
	}
	return balance, nil
}

func (l *fakeLedger) Decrement(_ context.Context, userID uuid.UUID, amount int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decrements = append(l.decrements, decrementCall{UserID: userID, Amount: amount})
	if l.decErr != nil {
		return 0, l.decErr
	}
	if l.balances[userID] < amount {
		return 0, credits.ErrInsufficientCredits
	}
	l.balances[userID] -= amount
	return l.balances[userID], nil
}

func (l *fakeLedger) RecordAnomaly(_ context.Context, userID uuid.UUID, amount int, sessionID string, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.anomalies = append(l.anomalies, anomalyCall{UserID: userID, Amount: amount, SessionID: sessionID, Cause: cause})
	return l.anomalyErr
}

func (l *fakeLedger) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getCalls + len(l.decrements) + len(l.anomalies)
}

func (l *fakeLedger) deducted(userID uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, d := range l.decrements {
		if d.UserID == userID {
			total += d.Amount
		}
	}
	return total
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []history.Entry
	err     error
}

func (h *fakeHistory) Append(_ context.Context, entry history.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.entries = append(h.entries, entry)
	return nil
}

type fakeStore struct {
	mu         sync.Mutex
	persisted  []string
	fetched    []string
	persistErr error
	fetchErr   error
}

func (s *fakeStore) Persist(_ context.Context, _ []byte, _, prefix, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return "", s.persistErr
	}
	s.persisted = append(s.persisted, prefix+"_"+name)
	return "https://cdn.test/" + prefix + "_" + name, nil
}

func (s *fakeStore) PersistFromURL(_ context.Context, remoteURL, prefix, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return "", s.fetchErr
	}
	s.fetched = append(s.fetched, remoteURL)
	return "https://cdn.test/" + prefix + "_copy", nil
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

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type fixture struct {
	provider  *fakeProvider
	ledger    *fakeLedger
	history   *fakeHistory
	store     *fakeStore
	publisher *recordingPublisher
	service   *Service
}

func newFixture(t *testing.T, typ provider.Type, run func(context.Context, *provider.Job) (*provider.Result, error), opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		provider:  &fakeProvider{typ: typ, run: run},
		ledger:    newFakeLedger(),
		history:   &fakeHistory{},
		store:     &fakeStore{},
		publisher: &recordingPublisher{},
	}
	cfg := Config{
		Guests:               map[provider.Type]bool{provider.TypePedra: false, provider.TypeVance: true},
		PersistRemoteResults: true,
		BatchConcurrency:     3,
		MaxBatchSize:         20,
	}
	opts = append([]Option{WithPublisher(f.publisher)}, opts...)
	f.service = NewService(f.provider, f.ledger, f.history, f.store, cfg, zap.NewNop(), opts...)
	return f
}

func jpeg(name string) Image {
	return Image{Data: []byte("\xff\xd8\xff fake jpeg " + name), ContentType: "image/jpeg", Filename: name}
}

var errBoom = errors.New("boom")
