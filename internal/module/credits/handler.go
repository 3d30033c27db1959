package credits

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/homeglow/server/internal/shared/errors"
	"github.com/homeglow/server/internal/shared/middleware"
	"github.com/homeglow/server/internal/shared/response"
)

var errorMappings = []response.ErrorMapping{
	{Err: ErrAccountNotFound, App: func() *apperrors.AppError { return apperrors.NotFound("credit account") }},
	{Err: ErrLedgerReadFailed, App: func() *apperrors.AppError {
		return apperrors.Internal("could not read credit balance", nil)
	}},
}

// Handler handles HTTP requests for credits.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new credits handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes registers the credits routes. r must require authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/credits", h.GetBalance)
}

// GetBalance returns the caller's balance.
func (h *Handler) GetBalance(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Error(c, apperrors.Unauthorized("authentication required"))
		return
	}

	account, err := h.ledger.GetAccount(c.Request.Context(), userID)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{
		CreditsRemaining: account.CreditsRemaining,
		IsPro:            account.IsPro,
	})
}
