package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/homeglow/server/internal/shared/errors"
	"github.com/homeglow/server/internal/shared/middleware"
	"github.com/homeglow/server/internal/shared/response"
)

var errorMappings = []response.ErrorMapping{
	{Err: ErrUserNotFound, App: func() *apperrors.AppError { return apperrors.NotFound("user") }},
	{Err: ErrUserAlreadyExists, App: func() *apperrors.AppError { return apperrors.Conflict("email already registered") }},
	{Err: ErrInvalidCredentials, App: func() *apperrors.AppError { return apperrors.Unauthorized(ErrInvalidCredentials.Error()) }},
	{Err: ErrWeakPassword, App: func() *apperrors.AppError { return apperrors.ValidationError(ErrWeakPassword.Error()) }},
	{Err: ErrInvalidResetToken, App: func() *apperrors.AppError { return apperrors.BadRequest(ErrInvalidResetToken.Error()) }},
}

// Handler handles HTTP requests for identity.
type Handler struct {
	service *Service
}

// NewHandler creates a new auth handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the public auth routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/signup", h.SignUp)
		auth.POST("/signin", h.SignIn)
		auth.POST("/password/reset", h.RequestReset)
		auth.POST("/password/reset/confirm", h.ConfirmReset)
	}
}

// RegisterProtectedRoutes registers the routes that need a signed-in user.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.GET("/me", h.Me)
		auth.PUT("/password", h.UpdatePassword)
		auth.PUT("/email", h.UpdateEmail)
	}
}

// SignUp creates an account.
func (h *Handler) SignUp(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.ValidationError(err.Error()))
		return
	}

	session, err := h.service.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// SignIn exchanges credentials for an access token.
func (h *Handler) SignIn(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.ValidationError(err.Error()))
		return
	}

	session, err := h.service.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	c.JSON(http.StatusOK, session)
}

// RequestReset starts a password reset.
func (h *Handler) RequestReset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.ValidationError(err.Error()))
		return
	}

	if err := h.service.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "if the address is registered, a reset link has been sent"})
}

// ConfirmReset completes a password reset.
func (h *Handler) ConfirmReset(c *gin.Context) {
	var req ResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.ValidationError(err.Error()))
		return
	}

	if err := h.service.ConfirmPasswordReset(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	c.Status(http.StatusNoContent)
}

// Me returns the current user.
func (h *Handler) Me(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	user, err := h.service.CurrentUser(c.Request.Context(), userID)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdatePassword changes the caller's password.
func (h *Handler) UpdatePassword(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req UpdatePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.ValidationError(err.Error()))
		return
	}

	if err := h.service.UpdatePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateEmail changes the caller's email.
func (h *Handler) UpdateEmail(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req UpdateEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperrors.ValidationError(err.Error()))
		return
	}

	user, err := h.service.UpdateEmail(c.Request.Context(), userID, req.Email)
	if err != nil {
		response.HandleError(c, err, errorMappings)
		return
	}
	c.JSON(http.StatusOK, user)
}

func requireUser(c *gin.Context) (uuid.UUID, bool) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		response.Error(c, apperrors.Unauthorized("authentication required"))
		return uuid.Nil, false
	}
	return userID, true
}
