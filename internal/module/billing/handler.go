package billing

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/homeglow/server/internal/shared/errors"
	"github.com/homeglow/server/internal/shared/middleware"
	"github.com/homeglow/server/internal/shared/response"
	"go.uber.org/zap"
)

const maxWebhookBytes = 64 << 10

var errorMappings = []response.ErrorMapping{
	{Err: ErrPlanNotFound, App: func() *apperrors.AppError { return apperrors.NotFound("plan") }},
	{Err: ErrPlanInactive, App: func() *apperrors.AppError { return apperrors.BadRequest(ErrPlanInactive.Error()) }},
	{Err: ErrCheckoutFailed, App: func() *apperrors.AppError {
		return apperrors.Upstream("CHECKOUT_FAILED", ErrCheckoutFailed.Error(), nil)
	}},
}

// WebhookParser verifies webhook deliveries.
type WebhookParser interface {
	Parse(payload []byte, signature string) (*CompletedCheckout, error)
}

// Handler handles HTTP requests for billing.
type Handler struct {
	service *Service
	webhook WebhookParser
	logger  *zap.Logger
}

// NewHandler creates a new billing handler. webhook may be nil when no
// payment provider is configured.
func NewHandler(service *Service, webhook WebhookParser, logger *zap.Logger) *Handler {
	return &Handler{service: service, webhook: webhook, logger: logger}
}

// RegisterRoutes registers the public billing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	billing := r.Group("/billing")
	{
		billing.GET("/plans", h.ListPlans)
		billing.POST("/webhook", h.Webhook)
	}
}

// RegisterProtectedRoutes registers the routes that need a signed-in user.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/billing/checkout", h.Checkout)
}

// ListPlans returns all available plans.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListPlans(c.Request.Context())
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	c.JSON(http.StatusOK, PlansResponse{Plans: plans})
}

// Checkout starts a purchase and returns the redirect URL.
func (h *Handler) Checkout(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Error(c, apperrors.Unauthorized("authentication required"))
		return
	}

	var req CheckoutRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.ValidationError(err.Error()))
		return
	}

	cs, err := h.service.StartCheckout(c.Request.Context(), userID, middleware.GetEmail(c), req.PlanID)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	c.JSON(http.StatusOK, cs)
}

// Webhook receives payment provider events.
func (h *Handler) Webhook(c *gin.Context) {
	if h.webhook == nil {
		response.Error(c, apperrors.NotFound("webhook"))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		response.Error(c, apperrors.BadRequest("failed to read body"))
		return
	}

	done, err := h.webhook.Parse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("rejected webhook", zap.Error(err))
		response.Error(c, apperrors.BadRequest("invalid webhook"))
		return
	}
	if done == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.service.FulfillCheckout(c.Request.Context(), done); err != nil {
		h.logger.Error("failed to fulfil checkout",
			zap.String("session_id", done.SessionID),
			zap.Error(err),
		)
		response.HandleError(c, err, errorMappings)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
