package response

import (
	"errors"

	"github.com/gin-gonic/gin"
	apperrors "github.com/homeglow/server/internal/shared/errors"
)

// ErrorMapping maps a domain error to an application error.
type ErrorMapping struct {
	Err error
	App func() *apperrors.AppError
}

// Error writes an application error as the standard JSON envelope.
func Error(c *gin.Context, appErr *apperrors.AppError) {
	if appErr.Err != nil {
		_ = c.Error(appErr)
	}
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}

// HandleError writes the first mapping whose error matches err.
// Unmatched errors are written as internal errors.
func HandleError(c *gin.Context, err error, mappings []ErrorMapping) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		Error(c, appErr)
		return
	}
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			mapped := m.App()
			if mapped.Err == nil {
				mapped.Err = err
			}
			Error(c, mapped)
			return
		}
	}
	Error(c, apperrors.Internal("internal error", err))
}
