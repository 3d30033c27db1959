package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Kind classifies a provider failure.
type Kind string

const (
	KindConfiguration      Kind = "configuration"
	KindValidation         Kind = "validation"
	KindUploadFailed       Kind = "upload_failed"
	KindTransformFailed    Kind = "transform_failed"
	KindJobFatal           Kind = "job_fatal"
	KindTimeout            Kind = "timeout"
	KindMalformedResponse  Kind = "malformed_response"
	KindNetwork            Kind = "network"
	KindStorageWriteFailed Kind = "storage_write_failed"
	KindUnavailable        Kind = "unavailable"
)

// Kind sentinels, matched with errors.Is.
var (
	ErrConfiguration      = errors.New("provider not configured")
	ErrValidation         = errors.New("invalid enhancement request")
	ErrUploadFailed       = errors.New("provider upload failed")
	ErrTransformFailed    = errors.New("provider transform failed")
	ErrJobFatal           = errors.New("provider job failed")
	ErrTimeout            = errors.New("provider job timed out")
	ErrMalformedResponse  = errors.New("malformed provider response")
	ErrNetwork            = errors.New("provider network error")
	ErrStorageWriteFailed = errors.New("storage write failed")
	ErrUnavailable        = errors.New("provider unavailable")
)

var kindSentinels = map[Kind]error{
	KindConfiguration:      ErrConfiguration,
	KindValidation:         ErrValidation,
	KindUploadFailed:       ErrUploadFailed,
	KindTransformFailed:    ErrTransformFailed,
	KindJobFatal:           ErrJobFatal,
	KindTimeout:            ErrTimeout,
	KindMalformedResponse:  ErrMalformedResponse,
	KindNetwork:            ErrNetwork,
	KindStorageWriteFailed: ErrStorageWriteFailed,
	KindUnavailable:        ErrUnavailable,
}

var (
	errEmptyImage     = errors.New("image is empty")
	errUnknownMode    = errors.New("unknown mode")
	errPromptRequired = errors.New("prompt is required for magic mode")
	errMissingAPIKey  = errors.New("api key is not set")
)

// excerptLimit bounds how much of a provider body is kept for diagnosis.
const excerptLimit = 200

// Error is a classified provider failure. It never carries credentials.
type Error struct {
	Kind       Kind
	Provider   Type
	Op         string
	StatusCode int
	Excerpt    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(string(e.Provider))
		b.WriteByte(' ')
	}
	b.WriteString(e.Op)
	b.WriteString(": ")
	if s, ok := kindSentinels[e.Kind]; ok {
		b.WriteString(s.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Excerpt != "" {
		b.WriteString(": ")
		b.WriteString(e.Excerpt)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// Summary is a short description that is safe to show to end users.
func (e *Error) Summary() string {
	if e.Kind == KindValidation && e.Err != nil {
		return e.Err.Error()
	}
	if s, ok := kindSentinels[e.Kind]; ok {
		return s.Error()
	}
	return string(e.Kind)
}

// KindOf returns the kind of err, or "" when err is not a provider error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Retryable reports whether a failed attempt may be repeated.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch KindOf(err) {
	case KindUploadFailed, KindTransformFailed, KindMalformedResponse, KindNetwork:
		return true
	default:
		return false
	}
}

// errCallTimeout marks one HTTP exchange that outlived its own deadline
// while the job itself still had time left.
var errCallTimeout = errors.New("request timed out")

// callContext bounds one HTTP exchange with a provider.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(ctx, timeout, errCallTimeout)
}

// callError replaces a per-call deadline with errCallTimeout so the retry
// policy can tell it apart from the job deadline.
func callError(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), errCallTimeout) {
		return errCallTimeout
	}
	return err
}

// networkError classifies a transport failure. The *url.Error wrapper is
// dropped because its message includes the request URL and query string.
func networkError(p Type, op string, err error) *Error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	return &Error{Kind: KindNetwork, Provider: p, Op: op, Err: err}
}

// excerpt trims body to excerptLimit runes with any secret removed.
func excerpt(body []byte, secrets ...string) string {
	s := string(body)
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "[redacted]")
		}
	}
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > excerptLimit {
		s = string(r[:excerptLimit])
	}
	return s
}
