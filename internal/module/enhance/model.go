// Package enhance sequences one enhancement request: auth, credit check,
// provider job, persistence, ledger decrement and history.
package enhance

import (
	"time"

	"github.com/google/uuid"
	"github.com/homeglow/server/internal/module/enhance/provider"
)

// Stage is a step of the request state machine.
type Stage string

const (
	StageReceived      Stage = "received"
	StageAuthChecked   Stage = "auth_checked"
	StageCreditChecked Stage = "credit_checked"
	StageSubmitted     Stage = "submitted"
	StagePersisted     Stage = "persisted"
	StageLedgered      Stage = "ledgered"
	StageHistoryLogged Stage = "history_logged"
	StageDone          Stage = "done"
	StageErrored       Stage = "errored"
)

// bookkeepingTimeout bounds the ledger and history writes that follow a
// delivered result.
const bookkeepingTimeout = 15 * time.Second

// Principal is the resolved caller. A zero UserID is a guest.
type Principal struct {
	UserID uuid.UUID
	Email  string
}

// Guest returns the anonymous principal.
func Guest() Principal {
	return Principal{}
}

// IsGuest reports whether the caller is unauthenticated.
func (p Principal) IsGuest() bool {
	return p.UserID == uuid.Nil
}

// Image is one uploaded source image.
type Image struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Request is one enhancement request.
type Request struct {
	Image  Image
	Mode   provider.Mode
	Prompt string
}

// Response is the outcome of a successful request.
type Response struct {
	Success     bool   `json:"success"`
	SessionID   string `json:"sessionId"`
	EnhancedURL string `json:"enhancedUrl"`
	// CreditsRemaining is null for guests.
	CreditsRemaining *int `json:"creditsRemaining"`
}

// BatchRequest enhances several images with the same mode and prompt.
type BatchRequest struct {
	Images []Image
	Mode   provider.Mode
	Prompt string
}

// BatchItem is the outcome of one image in a batch.
type BatchItem struct {
	Index       int    `json:"index"`
	Filename    string `json:"filename"`
	Success     bool   `json:"success"`
	SessionID   string `json:"sessionId,omitempty"`
	EnhancedURL string `json:"enhancedUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BatchResponse aggregates a batch. Items keep the request order.
type BatchResponse struct {
	Succeeded        int          `json:"succeeded"`
	Failed           int          `json:"failed"`
	Items            []*BatchItem `json:"items"`
	CreditsRemaining *int         `json:"creditsRemaining"`
}

// Config controls orchestration policy.
type Config struct {
	// Guests lists, per provider integration, whether unauthenticated
	// callers may enhance. Guests are never charged.
	Guests map[provider.Type]bool
	// PersistRemoteResults copies provider-hosted results into our storage.
	PersistRemoteResults bool
	// JobTimeout bounds one provider job, independent of the caller.
	JobTimeout       time.Duration
	BatchConcurrency int
	MaxBatchSize     int
}
