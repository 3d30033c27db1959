package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	apperrors "github.com/homeglow/server/internal/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var errOutOfStock = errors.New("out of stock")

func decode(t *testing.T, w *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var body apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandleError(t *testing.T) {
	mappings := []ErrorMapping{
		{Err: errOutOfStock, App: func() *apperrors.AppError { return apperrors.InsufficientCredits("") }},
	}

	t.Run("mapped sentinel", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		HandleError(c, fmt.Errorf("decrement: %w", errOutOfStock), mappings)

		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Equal(t, "INSUFFICIENT_CREDITS", decode(t, w).Error.Code)
		assert.Len(t, c.Errors, 1)
	})

	t.Run("app error passes through", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		HandleError(c, apperrors.ValidationError("mode is invalid"), mappings)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "mode is invalid", decode(t, w).Error.Message)
	})

	t.Run("unknown becomes internal without leaking cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		HandleError(c, errors.New("dial tcp 10.0.0.1: refused"), mappings)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "10.0.0.1")
	})
}
