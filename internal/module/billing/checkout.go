package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// CheckoutRequest describes a purchase to hand to the payment provider.
type CheckoutRequest struct {
	UserID uuid.UUID
	Email  string
	Plan   *Plan
}

// CheckoutSession is a started purchase the caller is redirected to.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Checkout starts purchases with a payment provider.
type Checkout interface {
	Name() string
	CreateSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)
}

// MockCheckout returns a local success URL without contacting any provider.
// It grants nothing.
type MockCheckout struct {
	successPath string
}

// NewMockCheckout creates a mock checkout redirecting to successPath.
func NewMockCheckout(successPath string) *MockCheckout {
	if successPath == "" {
		successPath = "/success"
	}
	return &MockCheckout{successPath: successPath}
}

// Name returns the provider name.
func (m *MockCheckout) Name() string {
	return "mock"
}

// CreateSession returns a fake session id embedded in the success URL.
func (m *MockCheckout) CreateSession(_ context.Context, _ *CheckoutRequest) (*CheckoutSession, error) {
	id := "mock_session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return &CheckoutSession{
		ID:  id,
		URL: m.successPath + "?session_id=" + id,
	}, nil
}
