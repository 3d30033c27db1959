// Package storage persists source and result images to object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrWriteFailed reports that an object could not be stored.
	ErrWriteFailed = errors.New("storage write failed")
	// ErrFetchFailed reports that a remote result could not be downloaded.
	ErrFetchFailed = errors.New("remote fetch failed")
	ErrEmptyObject = errors.New("object is empty")
)

// maxFetchBytes bounds a remote result download.
const maxFetchBytes = 64 << 20

var (
	unsafeChars  = regexp.MustCompile(`[^A-Za-z0-9.]`)
	unsafePrefix = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// Backend stores bytes under a key.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Persister names, stores and publishes objects.
type Persister struct {
	backend       Backend
	publicBaseURL string
	client        *http.Client
	logger        *zap.Logger

	now      func() time.Time
	random   func() string
	maxFetch int64
}

// NewPersister creates a new persister. Public URLs are publicBaseURL + "/" + key.
func NewPersister(backend Backend, publicBaseURL string, client *http.Client, logger *zap.Logger) *Persister {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Persister{
		backend:       backend,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		client:        client,
		logger:        logger,
		now:           time.Now,
		random:        randomToken,
		maxFetch:      maxFetchBytes,
	}
}

// SanitizeFilename strips everything outside [A-Za-z0-9.]. Leading dots are
// dropped so the result is never a relative path component.
func SanitizeFilename(name string) string {
	clean := strings.TrimLeft(unsafeChars.ReplaceAllString(name, ""), ".")
	if clean == "" {
		return "image"
	}
	return clean
}

// Key builds <prefix>_<unixmillis>_<random>_<sanitized name>.
func (p *Persister) Key(prefix, name string) string {
	parts := []string{
		strconv.FormatInt(p.now().UnixMilli(), 10),
		p.random(),
		SanitizeFilename(name),
	}
	if prefix = strings.Trim(unsafePrefix.ReplaceAllString(prefix, ""), "_"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "_")
}

// PublicURL returns the public URL for key.
func (p *Persister) PublicURL(key string) string {
	return p.publicBaseURL + "/" + url.PathEscape(key)
}

// Persist stores data under a fresh key and returns its public URL.
func (p *Persister) Persist(ctx context.Context, data []byte, contentType, prefix, name string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %w", ErrWriteFailed, ErrEmptyObject)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	key := p.Key(prefix, name)
	if err := p.backend.Put(ctx, key, data, contentType); err != nil {
		p.logger.Error("object write failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("%w: %s: %w", ErrWriteFailed, key, err)
	}

	p.logger.Debug("object stored",
		zap.String("key", key),
		zap.Int("bytes", len(data)),
		zap.String("content_type", contentType),
	)
	return p.PublicURL(key), nil
}

// PersistFromURL downloads remoteURL and stores it as Persist does.
// An empty name falls back to the last path segment of the URL.
func (p *Persister) PersistFromURL(ctx context.Context, remoteURL, prefix, name string) (string, error) {
	u, err := url.Parse(remoteURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: invalid url", ErrFetchFailed)
	}
	if name == "" {
		name = path.Base(u.Path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxFetch+1))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if int64(len(data)) > p.maxFetch {
		return "", fmt.Errorf("%w: body over %d bytes", ErrFetchFailed, p.maxFetch)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = ""
	}
	return p.Persist(ctx, data, contentType, prefix, name)
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
