package history

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/homeglow/server/internal/shared/errors"
	"github.com/homeglow/server/internal/shared/middleware"
	"github.com/homeglow/server/internal/shared/response"
)

// Handler handles HTTP requests for history.
type Handler struct {
	service *Service
}

// NewHandler creates a new history handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the history routes. r must require authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/history", h.List)
}

// List returns the caller's enhancement history.
func (h *Handler) List(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Error(c, apperrors.Unauthorized("authentication required"))
		return
	}

	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, apperrors.BadRequest(err.Error()))
		return
	}

	resp, err := h.service.List(c.Request.Context(), userID, req.Page, req.PageSize)
	if err != nil {
		response.HandleError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}
