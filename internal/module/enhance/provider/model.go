// Package provider drives remote image enhancement services.
//
// Two wire shapes are supported: a synchronous prompt-edit call that takes a
// public source URL, and an asynchronous upload/transform/poll/download job.
package provider

import (
	"context"
	"strings"
)

// Type identifies a provider integration.
type Type string

const (
	TypePedra Type = "pedra"
	TypeVance Type = "vance"
)

// Mode selects the enhancement style.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModeMagic    Mode = "magic"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeStandard || m == ModeMagic
}

// Cost returns the credit cost of one enhancement in this mode.
func (m Mode) Cost() int {
	if m == ModeMagic {
		return 2
	}
	return 1
}

// Phase is the step a job is currently in.
type Phase string

const (
	PhasePending      Phase = "pending"
	PhaseUploading    Phase = "uploading"
	PhaseTransforming Phase = "transforming"
	PhasePolling      Phase = "polling"
	PhaseDownloading  Phase = "downloading"
	PhasePersisting   Phase = "persisting"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
)

// Job is one enhancement attempt. It lives for the duration of a request.
type Job struct {
	Image       []byte
	ContentType string
	Filename    string
	Mode        Mode
	Prompt      string

	// Set by the provider while the job runs.
	ExternalID string
	SourceURL  string
	Phase      Phase
	Attempts   int
}

// Validate checks the job's input constraints.
func (j *Job) Validate() error {
	if len(j.Image) == 0 {
		return &Error{Kind: KindValidation, Op: "validate", Err: errEmptyImage}
	}
	if !j.Mode.Valid() {
		return &Error{Kind: KindValidation, Op: "validate", Err: errUnknownMode}
	}
	if j.Mode == ModeMagic && strings.TrimSpace(j.Prompt) == "" {
		return &Error{Kind: KindValidation, Op: "validate", Err: errPromptRequired}
	}
	return nil
}

// Result is the outcome of a successful job.
type Result struct {
	URL string
	// Owned is true when URL points at our own object storage.
	Owned bool
	// SourceURL is the persisted source image, when the protocol needed one.
	SourceURL string
}

// Provider runs enhancement jobs against one remote service.
type Provider interface {
	Type() Type
	Run(ctx context.Context, job *Job) (*Result, error)
}

// ObjectStore stores bytes and returns a public URL.
type ObjectStore interface {
	Persist(ctx context.Context, data []byte, contentType, prefix, name string) (string, error)
}
