package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures a provider circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout  time.Duration
	Interval time.Duration
	// OnStateChange, when set, observes transitions.
	OnStateChange func(p Type, from, to gobreaker.State)
}

// Breaker wraps a Provider with a circuit breaker. While open it fails fast
// with KindUnavailable and never calls the provider.
type Breaker struct {
	next Provider
	cb   *gobreaker.CircuitBreaker[*Result]
}

// NewBreaker creates a circuit breaker around next.
func NewBreaker(next Provider, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Interval == 0 {
		cfg.Interval = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        string(next.Type()),
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: countsAsHealthy,
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			cfg.OnStateChange(next.Type(), from, to)
		}
	}

	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[*Result](settings),
	}
}

// Type returns the wrapped provider's type.
func (b *Breaker) Type() Type {
	return b.next.Type()
}

// State returns the breaker's current state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Run executes the job through the breaker.
func (b *Breaker) Run(ctx context.Context, job *Job) (*Result, error) {
	result, err := b.cb.Execute(func() (*Result, error) {
		return b.next.Run(ctx, job)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &Error{Kind: KindUnavailable, Provider: b.next.Type(), Op: "breaker", Err: err}
	}
	return result, err
}

// countsAsHealthy reports whether an outcome says nothing bad about the
// provider itself. Bad input, missing credentials, a job the provider
// rejected, our own storage, and caller cancellation do not trip the breaker.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrJobFatal),
		errors.Is(err, ErrStorageWriteFailed),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}
