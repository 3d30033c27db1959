package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var ErrMissingEnhancedURL = errors.New("enhanced url is required")

// Entry is the data recorded for one successful enhancement.
type Entry struct {
	UserID      uuid.UUID
	OriginalURL string
	EnhancedURL string
	Mode        string
	SessionID   string
}

// Service records and lists enhancement history.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new history service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Append records one enhancement. Records are never updated afterwards.
func (s *Service) Append(ctx context.Context, entry Entry) error {
	if entry.EnhancedURL == "" {
		return ErrMissingEnhancedURL
	}
	return s.repo.Append(ctx, &Record{
		ID:          uuid.New(),
		UserID:      entry.UserID,
		OriginalURL: entry.OriginalURL,
		EnhancedURL: entry.EnhancedURL,
		Mode:        entry.Mode,
		SessionID:   entry.SessionID,
		CreatedAt:   s.now().UTC(),
	})
}

// List returns a page of the user's history, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID, page, pageSize int) (*ListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	records, total, err := s.repo.ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*Record{}
	}
	return &ListResponse{
		Records:  records,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}
