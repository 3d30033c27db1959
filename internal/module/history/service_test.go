package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/homeglow/server/internal/shared/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryRepository struct {
	mu      sync.Mutex
	records []*Record
	err     error
}

func (r *memoryRepository) Append(_ context.Context, record *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, record)
	return nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]*Record, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, 0, r.err
	}
	var mine []*Record
	for _, rec := range r.records {
		if rec.UserID == userID {
			mine = append(mine, rec)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].CreatedAt.After(mine[j].CreatedAt) })

	total := int64(len(mine))
	if offset >= len(mine) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(mine) {
		end = len(mine)
	}
	return mine[offset:end], total, nil
}

func newClockedService(repo Repository) *Service {
	svc := NewService(repo)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	svc.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	}
	return svc
}

func TestService_Append(t *testing.T) {
	repo := &memoryRepository{}
	svc := NewService(repo)
	userID := uuid.New()

	err := svc.Append(context.Background(), Entry{
		UserID:      userID,
		OriginalURL: "https://cdn.test/upload_a.jpg",
		EnhancedURL: "https://cdn.test/vance_enhanced_a.png",
		Mode:        "standard",
		SessionID:   "s1",
	})
	require.NoError(t, err)

	require.Len(t, repo.records, 1)
	rec := repo.records[0]
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, userID, rec.UserID)
	assert.Equal(t, "standard", rec.Mode)
	assert.False(t, rec.CreatedAt.IsZero())

	t.Run("requires enhanced url", func(t *testing.T) {
		err := svc.Append(context.Background(), Entry{UserID: userID})
		assert.ErrorIs(t, err, ErrMissingEnhancedURL)
	})
}

func TestService_List(t *testing.T) {
	repo := &memoryRepository{}
	svc := newClockedService(repo)
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Append(context.Background(), Entry{UserID: userID, EnhancedURL: "u", Mode: "standard"}))
	}
	require.NoError(t, svc.Append(context.Background(), Entry{UserID: uuid.New(), EnhancedURL: "other", Mode: "magic"}))

	page, err := svc.List(context.Background(), userID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	require.Len(t, page.Records, 2)
	assert.True(t, page.Records[0].CreatedAt.After(page.Records[1].CreatedAt))

	last, err := svc.List(context.Background(), userID, 3, 2)
	require.NoError(t, err)
	assert.Len(t, last.Records, 1)

	empty, err := svc.List(context.Background(), userID, 9, 2)
	require.NoError(t, err)
	assert.NotNil(t, empty.Records)
	assert.Empty(t, empty.Records)

	defaults, err := svc.List(context.Background(), userID, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 1, defaults.Page)
	assert.Equal(t, maxPageSize, defaults.PageSize)
}

func TestHandler_List(t *testing.T) {
	repo := &memoryRepository{}
	svc := NewService(repo)
	userID := uuid.New()
	require.NoError(t, svc.Append(context.Background(), Entry{UserID: userID, EnhancedURL: "https://cdn.test/x.png", Mode: "magic"}))

	newRouter := func(id uuid.UUID) *gin.Engine {
		router := gin.New()
		group := router.Group("/api/v1", func(c *gin.Context) {
			if id != uuid.Nil {
				c.Set(middleware.UserIDKey, id)
			}
		})
		NewHandler(svc).RegisterRoutes(group)
		return router
	}

	t.Run("lists records", func(t *testing.T) {
		w := httptest.NewRecorder()
		newRouter(userID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history?page_size=10", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var body ListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Records, 1)
		assert.Equal(t, "https://cdn.test/x.png", body.Records[0].EnhancedURL)
	})

	t.Run("rejects bad paging", func(t *testing.T) {
		w := httptest.NewRecorder()
		newRouter(userID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history?page_size=1000", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("requires user", func(t *testing.T) {
		w := httptest.NewRecorder()
		newRouter(uuid.Nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("store failure is internal", func(t *testing.T) {
		repo.err = errors.New("db down")
		defer func() { repo.err = nil }()

		w := httptest.NewRecorder()
		newRouter(userID).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
