package enhance

import (
	"errors"

	"github.com/homeglow/server/internal/module/credits"
	"github.com/homeglow/server/internal/module/enhance/provider"
)

var (
	ErrInvalidRequest         = errors.New("invalid enhancement request")
	ErrAuthenticationRequired = errors.New("authentication required to use this feature")
	ErrEnhancementFailed      = errors.New("enhancement failed")
	ErrBatchTooLarge          = errors.New("too many images in batch")
	ErrEmptyBatch             = errors.New("batch has no images")
)

// InvalidRequestError is bad input detected before any remote work.
type InvalidRequestError struct {
	Err error
}

func (e *InvalidRequestError) Error() string {
	return ErrInvalidRequest.Error() + ": " + e.Err.Error()
}

func (e *InvalidRequestError) Unwrap() error {
	return e.Err
}

func (e *InvalidRequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// Message is the input problem in words fit for the caller.
func (e *InvalidRequestError) Message() string {
	var pe *provider.Error
	if errors.As(e.Err, &pe) {
		return pe.Summary()
	}
	return e.Err.Error()
}

// FailedError wraps a provider or storage failure. Summary is safe to show
// to end users; Err is for server logs only.
type FailedError struct {
	Stage   Stage
	Summary string
	Err     error
}

func (e *FailedError) Error() string {
	return ErrEnhancementFailed.Error() + " at " + string(e.Stage) + ": " + e.Err.Error()
}

func (e *FailedError) Unwrap() error {
	return e.Err
}

func (e *FailedError) Is(target error) bool {
	return target == ErrEnhancementFailed
}

// Message is the user-facing description of the failure.
func (e *FailedError) Message() string {
	return ErrEnhancementFailed.Error() + ": " + e.Summary
}

// UserMessage renders err for an end user without internal detail.
func UserMessage(err error) string {
	var invalid *InvalidRequestError
	var failed *FailedError
	switch {
	case errors.As(err, &invalid):
		return invalid.Message()
	case errors.As(err, &failed):
		return failed.Message()
	case errors.Is(err, ErrAuthenticationRequired):
		return "Authentication required to use this feature."
	case errors.Is(err, credits.ErrInsufficientCredits):
		return "Insufficient credits. Please upgrade to continue."
	case errors.Is(err, credits.ErrLedgerReadFailed):
		return "Could not fetch user credits."
	case errors.Is(err, ErrBatchTooLarge), errors.Is(err, ErrEmptyBatch):
		return err.Error()
	default:
		return "internal error"
	}
}

// failureReason is the short classification published with failure events.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrAuthenticationRequired):
		return "auth_required"
	case errors.Is(err, credits.ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, credits.ErrLedgerReadFailed):
		return "ledger_read_failed"
	}
	if kind := provider.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, ErrEnhancementFailed) {
		return "storage"
	}
	return "internal"
}
