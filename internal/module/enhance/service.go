package enhance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/homeglow/server/internal/module/credits"
	"github.com/homeglow/server/internal/module/enhance/provider"
	"github.com/homeglow/server/internal/module/history"
	"github.com/homeglow/server/internal/shared/events"
	"go.uber.org/zap"
)

// Ledger is the credit ledger as seen by the orchestrator.
type Ledger interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
	Decrement(ctx context.Context, userID uuid.UUID, amount int) (int, error)
	RecordAnomaly(ctx context.Context, userID uuid.UUID, amount int, sessionID string, cause error) error
}

// HistoryWriter appends edit history records.
type HistoryWriter interface {
	Append(ctx context.Context, entry history.Entry) error
}

// ResultStore persists images to our own object storage.
type ResultStore interface {
	Persist(ctx context.Context, data []byte, contentType, prefix, name string) (string, error)
	PersistFromURL(ctx context.Context, remoteURL, prefix, name string) (string, error)
}

// Publisher receives enhancement events.
type Publisher interface {
	Publish(event events.Event)
}

// ProviderObserver records provider latency.
type ProviderObserver interface {
	RecordProviderCall(provider, mode string, duration time.Duration)
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher publishes completion and failure events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithProviderObserver reports provider latency to o.
func WithProviderObserver(o ProviderObserver) Option {
	return func(s *Service) { s.observer = o }
}

// WithModeProvider routes requests for mode to p instead of the default
// provider. Guest policy follows the provider a request is routed to.
func WithModeProvider(mode provider.Mode, p provider.Provider) Option {
	return func(s *Service) { s.routes[mode] = p }
}

// Service orchestrates enhancement requests, routing each mode to a provider.
type Service struct {
	provider  provider.Provider
	routes    map[provider.Mode]provider.Provider
	ledger    Ledger
	history   HistoryWriter
	store     ResultStore
	publisher Publisher
	observer  ProviderObserver
	cfg       Config
	logger    *zap.Logger

	newSessionID func() string
}

// NewService creates a new enhancement service.
func NewService(p provider.Provider, ledger Ledger, historyWriter HistoryWriter, store ResultStore, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 11 * time.Minute
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 20
	}
	s := &Service{
		provider:     p,
		routes:       make(map[provider.Mode]provider.Provider),
		ledger:       ledger,
		history:      historyWriter,
		store:        store,
		cfg:          cfg,
		logger:       logger,
		newSessionID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProviderFor returns the provider that serves mode.
func (s *Service) ProviderFor(mode provider.Mode) provider.Provider {
	if p, ok := s.routes[mode]; ok {
		return p
	}
	return s.provider
}

// AllowsGuests reports whether unauthenticated callers may enhance in mode.
func (s *Service) AllowsGuests(mode provider.Mode) bool {
	return s.cfg.Guests[s.ProviderFor(mode).Type()]
}

// tracker follows one request through the state machine.
type tracker struct {
	stage Stage
	log   *zap.Logger
}

func (t *tracker) advance(next Stage) {
	t.log.Debug("enhancement stage", zap.String("from", string(t.stage)), zap.String("to", string(next)))
	t.stage = next
}

// Enhance runs one request to completion. Provider work is detached from
// ctx so a disconnecting caller does not abort a paid-for job.
func (s *Service) Enhance(ctx context.Context, principal Principal, req *Request) (*Response, error) {
	sessionID := s.newSessionID()
	p := s.ProviderFor(req.Mode)
	log := s.logger.With(
		zap.String("provider", string(p.Type())),
		zap.String("session_id", sessionID),
		zap.String("mode", string(req.Mode)),
		zap.Bool("guest", principal.IsGuest()),
	)
	if !principal.IsGuest() {
		log = log.With(zap.String("user_id", principal.UserID.String()))
	}

	t := &tracker{stage: StageReceived, log: log}
	resp, err := s.run(ctx, p, principal, req, sessionID, t)
	if err != nil {
		failedAt := t.stage
		t.advance(StageErrored)
		fields := []zap.Field{zap.String("stage", string(failedAt)), zap.Error(err)}
		if errors.Is(err, ErrEnhancementFailed) || errors.Is(err, credits.ErrLedgerReadFailed) {
			log.Error("enhancement failed", fields...)
		} else {
			log.Info("enhancement rejected", fields...)
		}
		s.publish(events.NewEnhancementFailedEvent(principal.UserID, string(p.Type()), string(req.Mode), failureReason(err)))
		return nil, err
	}

	t.advance(StageDone)
	log.Info("enhancement completed", zap.String("enhanced_url", resp.EnhancedURL))
	s.publish(events.NewEnhancementCompletedEvent(principal.UserID, sessionID, string(p.Type()), string(req.Mode), resp.EnhancedURL))
	return resp, nil
}

func (s *Service) run(ctx context.Context, p provider.Provider, principal Principal, req *Request, sessionID string, t *tracker) (*Response, error) {
	job := &provider.Job{
		Image:       req.Image.Data,
		ContentType: req.Image.ContentType,
		Filename:    req.Image.Filename,
		Mode:        req.Mode,
		Prompt:      strings.TrimSpace(req.Prompt),
	}
	if err := job.Validate(); err != nil {
		return nil, &InvalidRequestError{Err: err}
	}

	if principal.IsGuest() && !s.cfg.Guests[p.Type()] {
		return nil, ErrAuthenticationRequired
	}
	t.advance(StageAuthChecked)

	cost := req.Mode.Cost()
	balance := 0
	if !principal.IsGuest() {
		var err error
		balance, err = s.ledger.GetBalance(ctx, principal.UserID)
		if err != nil {
			return nil, err
		}
		if balance < cost {
			return nil, fmt.Errorf("%w: balance %d, cost %d", credits.ErrInsufficientCredits, balance, cost)
		}
	}
	t.advance(StageCreditChecked)

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.JobTimeout)
	defer cancel()

	started := time.Now()
	result, err := p.Run(jobCtx, job)
	if s.observer != nil {
		s.observer.RecordProviderCall(string(p.Type()), string(req.Mode), time.Since(started))
	}
	if err != nil {
		// e.g. a mode the provider has no processing configuration for
		if errors.Is(err, provider.ErrValidation) {
			return nil, &InvalidRequestError{Err: err}
		}
		return nil, &FailedError{Stage: StageSubmitted, Summary: summarize(err), Err: err}
	}
	t.log.Debug("provider job finished",
		zap.Int("attempts", job.Attempts),
		zap.String("external_id", job.ExternalID),
		zap.Bool("owned", result.Owned),
	)
	t.advance(StageSubmitted)

	enhancedURL := result.URL
	if !result.Owned && s.cfg.PersistRemoteResults {
		enhancedURL, err = s.store.PersistFromURL(jobCtx, result.URL, "enhanced", "")
		if err != nil {
			return nil, &FailedError{Stage: StagePersisted, Summary: "storage write failed", Err: err}
		}
	}
	t.advance(StagePersisted)

	if principal.IsGuest() {
		return &Response{Success: true, SessionID: sessionID, EnhancedURL: enhancedURL}, nil
	}

	// The result is delivered from here on; bookkeeping failures are
	// logged and never fail the request.
	bkCtx, bkCancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer bkCancel()

	remaining := s.charge(bkCtx, principal.UserID, cost, balance, sessionID, t.log)
	t.advance(StageLedgered)

	s.recordHistory(bkCtx, principal.UserID, req, result, enhancedURL, sessionID, t.log)
	t.advance(StageHistoryLogged)

	return &Response{
		Success:          true,
		SessionID:        sessionID,
		EnhancedURL:      enhancedURL,
		CreditsRemaining: &remaining,
	}, nil
}

// charge decrements the balance. A failed decrement is recorded as an
// anomaly for the reconciler and the pre-flight balance is reported.
func (s *Service) charge(ctx context.Context, userID uuid.UUID, cost, preflight int, sessionID string, log *zap.Logger) int {
	remaining, err := s.ledger.Decrement(ctx, userID, cost)
	if err == nil {
		return remaining
	}

	log.Error("credit deduction failed after delivery",
		zap.Int("amount", cost),
		zap.Int("preflight_balance", preflight),
		zap.Error(err),
	)
	if aerr := s.ledger.RecordAnomaly(ctx, userID, cost, sessionID, err); aerr != nil {
		log.Error("ledger anomaly not recorded", zap.Int("amount", cost), zap.Error(aerr))
	}
	return preflight
}

func (s *Service) recordHistory(ctx context.Context, userID uuid.UUID, req *Request, result *provider.Result, enhancedURL, sessionID string, log *zap.Logger) {
	originalURL := result.SourceURL
	if originalURL == "" {
		var err error
		originalURL, err = s.store.Persist(ctx, req.Image.Data, req.Image.ContentType, "original", req.Image.Filename)
		if err != nil {
			log.Warn("original image not stored for history", zap.Error(err))
		}
	}

	err := s.history.Append(ctx, history.Entry{
		UserID:      userID,
		OriginalURL: originalURL,
		EnhancedURL: enhancedURL,
		Mode:        string(req.Mode),
		SessionID:   sessionID,
	})
	if err != nil {
		log.Error("history record not written", zap.Error(err))
	}
}

func (s *Service) publish(event events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}

func summarize(err error) string {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe.Summary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.ErrTimeout.Error()
	}
	return "provider error"
}
