package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Do(t *testing.T) {
	transient := &Error{Kind: KindNetwork, Op: "upload", Err: errors.New("connection reset")}
	fatal := &Error{Kind: KindJobFatal, Op: "progress"}

	t.Run("succeeds after transient failures with linear backoff", func(t *testing.T) {
		rec := &sleepRecorder{}
		p := DefaultRetryPolicy()
		p.Sleep = rec.Sleep

		calls := 0
		err := p.Do(context.Background(), func(context.Context, int) error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.waits)
	})

	t.Run("terminal error stops immediately", func(t *testing.T) {
		rec := &sleepRecorder{}
		p := DefaultRetryPolicy()
		p.Sleep = rec.Sleep

		calls := 0
		err := p.Do(context.Background(), func(context.Context, int) error {
			calls++
			return fatal
		})

		assert.ErrorIs(t, err, ErrJobFatal)
		assert.Equal(t, 1, calls)
		assert.Empty(t, rec.waits)
	})

	t.Run("surfaces last error when attempts run out", func(t *testing.T) {
		rec := &sleepRecorder{}
		p := DefaultRetryPolicy()
		p.Sleep = rec.Sleep

		var seen []int
		err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
			seen = append(seen, attempt)
			return &Error{Kind: KindUploadFailed, Op: "upload", StatusCode: 500 + attempt}
		})

		var pe *Error
		assert.ErrorAs(t, err, &pe)
		assert.Equal(t, 503, pe.StatusCode)
		assert.Equal(t, []int{1, 2, 3}, seen)
		assert.Equal(t, 6*time.Second, rec.Total())
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		p := DefaultRetryPolicy()
		p.Sleep = noSleep

		calls := 0
		err := p.Do(ctx, func(context.Context, int) error {
			calls++
			cancel()
			return transient
		})

		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("observes every attempt", func(t *testing.T) {
		p := DefaultRetryPolicy()
		p.Sleep = noSleep

		var outcomes []error
		p.OnAttempt = func(_ int, err error) { outcomes = append(outcomes, err) }

		calls := 0
		_ = p.Do(context.Background(), func(context.Context, int) error {
			calls++
			if calls == 1 {
				return transient
			}
			return nil
		})

		assert.Len(t, outcomes, 2)
		assert.Error(t, outcomes[0])
		assert.NoError(t, outcomes[1])
	})
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindNetwork, true},
		{KindUploadFailed, true},
		{KindTransformFailed, true},
		{KindMalformedResponse, true},
		{KindConfiguration, false},
		{KindValidation, false},
		{KindJobFatal, false},
		{KindTimeout, false},
		{KindStorageWriteFailed, false},
		{KindUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(&Error{Kind: tt.kind, Op: "x"}))
		})
	}

	assert.False(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(&Error{Kind: KindNetwork, Op: "x", Err: context.Canceled}))
}
