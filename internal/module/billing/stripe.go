package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	metadataUserID = "user_id"
	metadataPlanID = "plan_id"

	eventCheckoutCompleted = "checkout.session.completed"
)

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// StripeCheckout starts Stripe Checkout sessions for one-off payments.
type StripeCheckout struct {
	config     *StripeConfig
	newSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeCheckout creates a Stripe checkout.
func NewStripeCheckout(config *StripeConfig) *StripeCheckout {
	stripe.Key = config.SecretKey
	return &StripeCheckout{
		config:     config,
		newSession: session.New,
	}
}

// Name returns the provider name.
func (s *StripeCheckout) Name() string {
	return "stripe"
}

// CreateSession creates a hosted checkout session for the plan.
func (s *StripeCheckout) CreateSession(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.config.SuccessURL),
		CancelURL:         stripe.String(s.config.CancelURL),
		ClientReferenceID: stripe.String(req.UserID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Plan.Currency),
					UnitAmount: stripe.Int64(req.Plan.PriceMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Plan.Name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata(metadataUserID, req.UserID.String())
	params.AddMetadata(metadataPlanID, req.Plan.ID)

	cs, err := s.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
	}
	return &CheckoutSession{ID: cs.ID, URL: cs.URL}, nil
}

// CompletedCheckout is a paid checkout session awaiting fulfilment.
type CompletedCheckout struct {
	SessionID string
	UserID    uuid.UUID
	PlanID    string
}

// StripeWebhook verifies and decodes Stripe webhook deliveries.
type StripeWebhook struct {
	secret string
}

// NewStripeWebhook creates a webhook verifier for secret.
func NewStripeWebhook(secret string) *StripeWebhook {
	return &StripeWebhook{secret: secret}
}

// Parse verifies the signature and returns the completed checkout carried by
// the event. Other event types return nil with no error.
func (w *StripeWebhook) Parse(payload []byte, signature string) (*CompletedCheckout, error) {
	event, err := webhook.ConstructEvent(payload, signature, w.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if event.Type != eventCheckoutCompleted {
		return nil, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if cs.PaymentStatus != "" && cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, nil
	}

	userID, err := uuid.Parse(cs.Metadata[metadataUserID])
	if err != nil {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidEvent)
	}
	planID := cs.Metadata[metadataPlanID]
	if planID == "" {
		return nil, fmt.Errorf("%w: missing plan id", ErrInvalidEvent)
	}

	return &CompletedCheckout{SessionID: cs.ID, UserID: userID, PlanID: planID}, nil
}
