package events

import "github.com/google/uuid"

// Event type constants.
const (
	EnhancementCompletedType = "EnhancementCompleted"
	EnhancementFailedType    = "EnhancementFailed"
	CreditsUpdatedType       = "CreditsUpdated"
)

// EnhancementCompletedEvent is emitted when an enhanced image has been delivered.
type EnhancementCompletedEvent struct {
	BaseEvent

	SessionID   string `json:"session_id"`
	Provider    string `json:"provider"`
	Mode        string `json:"mode"`
	EnhancedURL string `json:"enhanced_url"`
	Guest       bool   `json:"guest"`
}

// NewEnhancementCompletedEvent creates a new EnhancementCompletedEvent.
func NewEnhancementCompletedEvent(userID uuid.UUID, sessionID, provider, mode, enhancedURL string) *EnhancementCompletedEvent {
	return &EnhancementCompletedEvent{
		BaseEvent:   NewBaseEvent(EnhancementCompletedType, userID),
		SessionID:   sessionID,
		Provider:    provider,
		Mode:        mode,
		EnhancedURL: enhancedURL,
		Guest:       userID == uuid.Nil,
	}
}

// EnhancementFailedEvent is emitted when a request ends in an error after passing validation.
type EnhancementFailedEvent struct {
	BaseEvent

	Provider string `json:"provider"`
	Mode     string `json:"mode"`
	// Reason is a short classification such as "insufficient_credits" or "provider".
	Reason string `json:"reason"`
}

// NewEnhancementFailedEvent creates a new EnhancementFailedEvent.
func NewEnhancementFailedEvent(userID uuid.UUID, provider, mode, reason string) *EnhancementFailedEvent {
	return &EnhancementFailedEvent{
		BaseEvent: NewBaseEvent(EnhancementFailedType, userID),
		Provider:  provider,
		Mode:      mode,
		Reason:    reason,
	}
}

// CreditsUpdatedEvent is emitted whenever a user's balance changes.
type CreditsUpdatedEvent struct {
	BaseEvent

	// Delta is negative for spends and positive for grants.
	Delta     int    `json:"delta"`
	Remaining int    `json:"remaining"`
	Source    string `json:"source"`
}

// NewCreditsUpdatedEvent creates a new CreditsUpdatedEvent.
func NewCreditsUpdatedEvent(userID uuid.UUID, delta, remaining int, source string) *CreditsUpdatedEvent {
	return &CreditsUpdatedEvent{
		BaseEvent: NewBaseEvent(CreditsUpdatedType, userID),
		Delta:     delta,
		Remaining: remaining,
		Source:    source,
	}
}
