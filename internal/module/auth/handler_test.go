package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/homeglow/server/internal/shared/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(f *authFixture) *gin.Engine {
	router := gin.New()
	h := NewHandler(f.service)
	api := router.Group("/api/v1")
	h.RegisterRoutes(api)
	h.RegisterProtectedRoutes(api.Group("", middleware.RequireAuth(f.jwt)))
	return router
}

func doJSON(router *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_SignUpAndSignIn(t *testing.T) {
	f := newAuthFixture(t)
	router := newTestRouter(f)

	w := doJSON(router, http.MethodPost, "/api/v1/auth/signup", "", gin.H{"email": "agent@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var session Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.NotEmpty(t, session.AccessToken)
	assert.NotContains(t, w.Body.String(), "password_hash")

	w = doJSON(router, http.MethodPost, "/api/v1/auth/signup", "", gin.H{"email": "agent@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/auth/signin", "", gin.H{"email": "agent@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/auth/signin", "", gin.H{"email": "agent@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/auth/me", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, session.User.ID, me.ID)
}

func TestHandler_Validation(t *testing.T) {
	f := newAuthFixture(t)
	router := newTestRouter(f)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"signup bad email", "/api/v1/auth/signup", gin.H{"email": "not-an-email", "password": "hunter22"}},
		{"signup missing password", "/api/v1/auth/signup", gin.H{"email": "agent@example.com"}},
		{"reset bad email", "/api/v1/auth/password/reset", gin.H{"email": "x"}},
		{"confirm short password", "/api/v1/auth/password/reset/confirm", gin.H{"token": "abc", "new_password": "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		})
	}
}

func TestHandler_ProtectedRoutes(t *testing.T) {
	f := newAuthFixture(t)
	router := newTestRouter(f)

	t.Run("requires token", func(t *testing.T) {
		w := doJSON(router, http.MethodPut, "/api/v1/auth/email", "", gin.H{"email": "new@example.com"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	session, err := f.service.SignUp(t.Context(), "agent@example.com", "hunter22")
	require.NoError(t, err)

	t.Run("update email", func(t *testing.T) {
		w := doJSON(router, http.MethodPut, "/api/v1/auth/email", session.AccessToken, gin.H{"email": "new@example.com"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "new@example.com")
	})

	t.Run("update password", func(t *testing.T) {
		w := doJSON(router, http.MethodPut, "/api/v1/auth/password", session.AccessToken,
			gin.H{"current_password": "hunter22", "new_password": "brand-new-pass"})
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("token for deleted user", func(t *testing.T) {
		token, _, err := f.jwt.GenerateAccessToken(&User{ID: uuid.New(), Email: "ghost@example.com"})
		require.NoError(t, err)
		w := doJSON(router, http.MethodGet, "/api/v1/auth/me", token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_PasswordReset(t *testing.T) {
	f := newAuthFixture(t)
	router := newTestRouter(f)
	_, err := f.service.SignUp(t.Context(), "agent@example.com", "hunter22")
	require.NoError(t, err)

	w := doJSON(router, http.MethodPost, "/api/v1/auth/password/reset", "", gin.H{"email": "agent@example.com"})
	require.Equal(t, http.StatusAccepted, w.Code)

	token := f.notifier.token("agent@example.com")
	w = doJSON(router, http.MethodPost, "/api/v1/auth/password/reset/confirm", "", gin.H{"token": token, "new_password": "after-reset"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/auth/password/reset/confirm", "", gin.H{"token": token, "new_password": "after-reset"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
