package credits

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/homeglow/server/internal/shared/events"
	"go.uber.org/zap"
)

// ReconcilerConfig configures the anomaly reconciler.
type ReconcilerConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// Reconciler retries pending anomalies until they are charged or given up on.
type Reconciler struct {
	ledger *Ledger
	cfg    ReconcilerConfig
	logger *zap.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
	started atomic.Bool
}

// NewReconciler creates a new reconciler.
func NewReconciler(ledger *Ledger, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	return &Reconciler{
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the reconcile loop in the background until Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	if r.started.CompareAndSwap(false, true) {
		go r.run(ctx)
	}
}

// Stop stops the loop and waits for the current pass to finish.
func (r *Reconciler) Stop() {
	r.once.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.doneCh
	}
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("credit reconciler started", zap.Duration("interval", r.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconcile pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce processes one batch of pending anomalies and returns how many
// reached a terminal state.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.ledger.repo.ListPendingAnomalies(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, anomaly := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if r.reconcile(ctx, anomaly) {
			settled++
		}
	}
	return settled, nil
}

func (r *Reconciler) reconcile(ctx context.Context, anomaly *Anomaly) bool {
	log := r.logger.With(
		zap.String("anomaly_id", anomaly.ID.String()),
		zap.String("user_id", anomaly.UserID.String()),
		zap.String("session_id", anomaly.SessionID),
	)

	anomaly.Attempts++
	remaining, err := r.ledger.repo.Decrement(ctx, anomaly.UserID, anomaly.Amount)
	switch {
	case err == nil:
		now := time.Now()
		anomaly.Status = AnomalyStatusResolved
		anomaly.ResolvedAt = &now
		anomaly.LastError = ""
	case anomaly.Attempts >= r.cfg.MaxAttempts:
		anomaly.Status = AnomalyStatusUncollectible
		anomaly.LastError = err.Error()
	default:
		anomaly.LastError = err.Error()
	}

	if uerr := r.ledger.repo.UpdateAnomaly(ctx, anomaly); uerr != nil {
		log.Error("failed to save anomaly", zap.Error(uerr))
		return false
	}

	if !anomaly.IsTerminal() {
		log.Warn("anomaly still pending", zap.Int("attempts", anomaly.Attempts), zap.Error(err))
		return false
	}

	r.ledger.observe(anomaly.Status)
	if anomaly.Status == AnomalyStatusResolved {
		log.Info("anomaly resolved", zap.Int("amount", anomaly.Amount))
		r.ledger.publish(events.NewCreditsUpdatedEvent(anomaly.UserID, -anomaly.Amount, remaining, "reconciliation"))
	} else {
		log.Warn("anomaly uncollectible", zap.Int("attempts", anomaly.Attempts), zap.Error(err))
	}
	return true
}
