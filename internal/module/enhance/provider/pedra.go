package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxResponseBytes bounds how much of a provider JSON response is read.
const maxResponseBytes = 1 << 20

// PedraConfig configures the prompt-edit client.
type PedraConfig struct {
	APIKey         string
	BaseURL        string
	StandardPrompt string
	Timeout        time.Duration
}

// PedraClient speaks the synchronous prompt-edit protocol: the source image
// is published to object storage and its URL is sent with an instruction.
type PedraClient struct {
	cfg        PedraConfig
	client     *http.Client
	store      ObjectStore
	extractors []URLExtractor
	logger     *zap.Logger
}

// NewPedraClient creates a new prompt-edit client. Timeout bounds each
// request on top of whatever the shared client allows.
func NewPedraClient(cfg PedraConfig, client *http.Client, store ObjectStore, logger *zap.Logger) *PedraClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.StandardPrompt == "" {
		cfg.StandardPrompt = "enhance, fix perspective and make HD"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{}
	}
	return &PedraClient{
		cfg:        cfg,
		client:     client,
		store:      store,
		extractors: DefaultExtractors,
		logger:     logger.With(zap.String("provider", string(TypePedra))),
	}
}

// Type returns the provider type.
func (c *PedraClient) Type() Type {
	return TypePedra
}

type pedraRequest struct {
	APIKey   string `json:"apiKey"`
	ImageURL string `json:"imageUrl"`
	Prompt   string `json:"prompt"`
}

// Run publishes the source image and submits one prompt-edit request.
func (c *PedraClient) Run(ctx context.Context, job *Job) (*Result, error) {
	if c.cfg.APIKey == "" {
		return nil, &Error{Kind: KindConfiguration, Provider: TypePedra, Op: "configure", Err: errMissingAPIKey}
	}
	if err := job.Validate(); err != nil {
		return nil, withProvider(err, TypePedra)
	}

	job.Phase = PhaseUploading
	sourceURL, err := c.store.Persist(ctx, job.Image, job.ContentType, "upload", job.Filename)
	if err != nil {
		job.Phase = PhaseFailed
		return nil, &Error{Kind: KindStorageWriteFailed, Provider: TypePedra, Op: "publish source", Err: err}
	}
	job.SourceURL = sourceURL

	prompt := c.cfg.StandardPrompt
	if job.Mode == ModeMagic {
		prompt = job.Prompt
	}

	job.Phase = PhaseTransforming
	job.Attempts = 1
	resultURL, err := c.editViaPrompt(ctx, sourceURL, prompt)
	if err != nil {
		job.Phase = PhaseFailed
		return nil, err
	}

	job.Phase = PhaseDone
	return &Result{URL: resultURL, Owned: false, SourceURL: sourceURL}, nil
}

func (c *PedraClient) editViaPrompt(ctx context.Context, imageURL, prompt string) (string, error) {
	const op = "edit_via_prompt"

	payload, err := json.Marshal(pedraRequest{APIKey: c.cfg.APIKey, ImageURL: imageURL, Prompt: prompt})
	if err != nil {
		return "", &Error{Kind: KindValidation, Provider: TypePedra, Op: op, Err: err}
	}

	ctx, cancel := callContext(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/edit_via_prompt", bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindConfiguration, Provider: TypePedra, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", networkError(TypePedra, op, callError(ctx, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", networkError(TypePedra, op, callError(ctx, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{
			Kind:       KindTransformFailed,
			Provider:   TypePedra,
			Op:         op,
			StatusCode: resp.StatusCode,
			Excerpt:    excerpt(body, c.cfg.APIKey),
		}
	}

	resultURL, strategy, ok := ExtractURL(DecodePayload(body), c.extractors)
	if !ok {
		return "", &Error{
			Kind:       KindMalformedResponse,
			Provider:   TypePedra,
			Op:         op,
			StatusCode: resp.StatusCode,
			Excerpt:    excerpt(body, c.cfg.APIKey),
		}
	}

	c.logger.Debug("extracted result url", zap.String("strategy", strategy))
	return resultURL, nil
}

// withProvider stamps a provider name on a validation error.
func withProvider(err error, p Type) error {
	var pe *Error
	if errors.As(err, &pe) {
		cp := *pe
		cp.Provider = p
		return &cp
	}
	return fmt.Errorf("%s: %w", p, err)
}
