package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	vanceStatusFinish = "finish"
	vanceStatusFatal  = "fatal"

	// maxDownloadBytes bounds an enhanced image download.
	maxDownloadBytes = 64 << 20
)

var (
	errMissingUID       = errors.New("upload response has no uid")
	errMissingTransID   = errors.New("transform response has no trans_id")
	errEmptyDownload    = errors.New("downloaded result is empty")
	errDownloadTooLarge = errors.New("downloaded result exceeds size limit")
	errPollCeiling      = errors.New("poll ceiling reached")
)

// JobConfig is a named processing configuration sent as jconfig.
type JobConfig struct {
	Name   string
	Module string
	Params map[string]any
	// PromptParam names the module parameter that carries the request
	// prompt. Magic mode needs one.
	PromptParam string
}

// VanceConfig configures the asynchronous job client.
type VanceConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	PollInterval time.Duration
	MaxPolls     int
	// Jobs maps a mode to its processing configuration. A mode without
	// an entry is rejected.
	Jobs  map[Mode]JobConfig
	Retry RetryPolicy
}

// DefaultJobs returns the processing configurations used when none are set.
func DefaultJobs() map[Mode]JobConfig {
	return map[Mode]JobConfig{
		ModeStandard: {
			Name:   "enlarge",
			Module: "enlarge",
			Params: map[string]any{
				"model_name":     "EnlargeStable",
				"scale":          "4x",
				"suppress_noise": 26,
				"remove_blur":    26,
			},
		},
	}
}

// VanceClient speaks the upload → transform → poll → download protocol and
// persists the downloaded result through the object store.
type VanceClient struct {
	cfg    VanceConfig
	client *http.Client
	store  ObjectStore
	logger *zap.Logger
	// sleep waits between polls.
	sleep func(ctx context.Context, d time.Duration) error

	maxDownload int64
}

// NewVanceClient creates a new asynchronous job client.
func NewVanceClient(cfg VanceConfig, client *http.Client, store ObjectStore, logger *zap.Logger) *VanceClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = 300
	}
	if cfg.Jobs == nil {
		cfg.Jobs = DefaultJobs()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = &http.Client{}
	}
	return &VanceClient{
		cfg:    cfg,
		client: client,
		store:  store,
		logger: logger.With(zap.String("provider", string(TypeVance))),
		sleep:  SleepContext,

		maxDownload: maxDownloadBytes,
	}
}

// Type returns the provider type.
func (c *VanceClient) Type() Type {
	return TypeVance
}

type vanceEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type vanceJConfig struct {
	Name   string            `json:"name"`
	Config vanceModuleConfig `json:"config"`
}

type vanceModuleConfig struct {
	Module       string         `json:"module"`
	ModuleParams map[string]any `json:"module_params"`
}

type formFile struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

// Run executes the whole protocol under the retry policy.
func (c *VanceClient) Run(ctx context.Context, job *Job) (*Result, error) {
	if c.cfg.APIKey == "" {
		return nil, &Error{Kind: KindConfiguration, Provider: TypeVance, Op: "configure", Err: errMissingAPIKey}
	}
	if err := job.Validate(); err != nil {
		return nil, withProvider(err, TypeVance)
	}
	jobCfg, ok := c.cfg.Jobs[job.Mode]
	if !ok {
		return nil, &Error{
			Kind:     KindValidation,
			Provider: TypeVance,
			Op:       "validate",
			Err:      fmt.Errorf("no processing configuration for mode %q", job.Mode),
		}
	}

	params, err := jobParams(jobCfg, job)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Provider: TypeVance, Op: "validate", Err: err}
	}
	jconfig, err := json.Marshal(vanceJConfig{
		Name:   jobCfg.Name,
		Config: vanceModuleConfig{Module: jobCfg.Module, ModuleParams: params},
	})
	if err != nil {
		return nil, &Error{Kind: KindConfiguration, Provider: TypeVance, Op: "encode jconfig", Err: err}
	}

	var result *Result
	policy := c.cfg.Retry
	err = policy.Do(ctx, func(ctx context.Context, attempt int) error {
		job.Attempts = attempt
		job.ExternalID = ""

		resultURL, err := c.runOnce(ctx, job, jconfig)
		if err != nil {
			c.logger.Warn("job attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.MaxAttempts),
				zap.String("phase", string(job.Phase)),
				zap.Error(err),
			)
			return err
		}
		result = &Result{URL: resultURL, Owned: true}
		return nil
	})
	if err != nil {
		job.Phase = PhaseFailed
		return nil, err
	}

	job.Phase = PhaseDone
	return result, nil
}

// jobParams copies the configured module params and adds the prompt.
func jobParams(cfg JobConfig, job *Job) (map[string]any, error) {
	if cfg.PromptParam == "" {
		if job.Mode == ModeMagic {
			return nil, fmt.Errorf("mode %q has no prompt parameter configured", job.Mode)
		}
		return cfg.Params, nil
	}
	params := make(map[string]any, len(cfg.Params)+1)
	for k, v := range cfg.Params {
		params[k] = v
	}
	if job.Prompt != "" {
		params[cfg.PromptParam] = job.Prompt
	}
	return params, nil
}

func (c *VanceClient) runOnce(ctx context.Context, job *Job, jconfig []byte) (string, error) {
	job.Phase = PhaseUploading
	uid, err := c.upload(ctx, job)
	if err != nil {
		return "", err
	}

	job.Phase = PhaseTransforming
	transID, err := c.transform(ctx, uid, jconfig)
	if err != nil {
		return "", err
	}
	job.ExternalID = transID

	job.Phase = PhasePolling
	if err := c.awaitFinish(ctx, transID); err != nil {
		return "", err
	}

	job.Phase = PhaseDownloading
	data, contentType, err := c.download(ctx, transID)
	if err != nil {
		return "", err
	}

	job.Phase = PhasePersisting
	publicURL, err := c.store.Persist(ctx, data, contentType, "vance_enhanced", transID+".png")
	if err != nil {
		return "", &Error{Kind: KindStorageWriteFailed, Provider: TypeVance, Op: "persist result", Err: err}
	}
	return publicURL, nil
}

func (c *VanceClient) upload(ctx context.Context, job *Job) (string, error) {
	const op = "upload"

	contentType := job.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	filename := job.Filename
	if filename == "" {
		filename = "image"
	}

	env, err := c.postForm(ctx, op, KindUploadFailed, [][2]string{{"api_token", c.cfg.APIKey}}, &formFile{
		field:       "file",
		filename:    filename,
		contentType: contentType,
		data:        job.Image,
	})
	if err != nil {
		return "", err
	}

	var data struct {
		UID string `json:"uid"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.UID == "" {
		return "", &Error{Kind: KindMalformedResponse, Provider: TypeVance, Op: op, Err: errMissingUID}
	}
	return data.UID, nil
}

func (c *VanceClient) transform(ctx context.Context, uid string, jconfig []byte) (string, error) {
	const op = "transform"

	env, err := c.postForm(ctx, op, KindTransformFailed, [][2]string{
		{"api_token", c.cfg.APIKey},
		{"uid", uid},
		{"jconfig", string(jconfig)},
	}, nil)
	if err != nil {
		return "", err
	}

	var data struct {
		TransID string `json:"trans_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.TransID == "" {
		return "", &Error{Kind: KindMalformedResponse, Provider: TypeVance, Op: op, Err: errMissingTransID}
	}
	return data.TransID, nil
}

// awaitFinish polls progress until finish, fatal, or the poll ceiling.
// Envelopes with a non-200 code count as a poll and are skipped.
func (c *VanceClient) awaitFinish(ctx context.Context, transID string) error {
	const op = "progress"

	for poll := 1; poll <= c.cfg.MaxPolls; poll++ {
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return err
		}

		body, status, err := c.send(ctx, op, [][2]string{
			{"api_token", c.cfg.APIKey},
			{"trans_id", transID},
		}, nil)
		if err != nil {
			return err
		}
		if status < 200 || status >= 300 {
			return &Error{
				Kind:       KindTransformFailed,
				Provider:   TypeVance,
				Op:         op,
				StatusCode: status,
				Excerpt:    excerpt(body, c.cfg.APIKey),
			}
		}

		var env vanceEnvelope
		if err := json.Unmarshal(body, &env); err != nil || env.Code != http.StatusOK {
			c.logger.Debug("skipping progress response", zap.Int("poll", poll), zap.Int("code", env.Code))
			continue
		}

		var data struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(env.Data, &data)

		switch data.Status {
		case vanceStatusFinish:
			return nil
		case vanceStatusFatal:
			return &Error{
				Kind:     KindJobFatal,
				Provider: TypeVance,
				Op:       op,
				Excerpt:  excerpt(body, c.cfg.APIKey),
			}
		}
	}

	return &Error{Kind: KindTimeout, Provider: TypeVance, Op: op, Err: errPollCeiling}
}

func (c *VanceClient) download(ctx context.Context, transID string) ([]byte, string, error) {
	const op = "download"

	q := url.Values{}
	q.Set("trans_id", transID)
	q.Set("api_token", c.cfg.APIKey)

	ctx, cancel := callContext(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/download?"+q.Encode(), nil)
	if err != nil {
		return nil, "", &Error{Kind: KindConfiguration, Provider: TypeVance, Op: op, Err: errors.New("build request")}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", networkError(TypeVance, op, callError(ctx, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, "", networkError(TypeVance, op, callError(ctx, err))
	}
	if int64(len(data)) > c.maxDownload {
		return nil, "", &Error{
			Kind:       KindMalformedResponse,
			Provider:   TypeVance,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: over %d bytes", errDownloadTooLarge, c.maxDownload),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &Error{
			Kind:       KindTransformFailed,
			Provider:   TypeVance,
			Op:         op,
			StatusCode: resp.StatusCode,
			Excerpt:    excerpt(data, c.cfg.APIKey),
		}
	}
	if len(data) == 0 {
		return nil, "", &Error{Kind: KindMalformedResponse, Provider: TypeVance, Op: op, Err: errEmptyDownload}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/png"
	}
	return data, contentType, nil
}

// postForm sends a multipart request and decodes a successful envelope.
// Non-2xx statuses and envelopes with a non-200 code fail with failKind.
func (c *VanceClient) postForm(ctx context.Context, op string, failKind Kind, fields [][2]string, file *formFile) (*vanceEnvelope, error) {
	body, status, err := c.send(ctx, op, fields, file)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &Error{
			Kind:       failKind,
			Provider:   TypeVance,
			Op:         op,
			StatusCode: status,
			Excerpt:    excerpt(body, c.cfg.APIKey),
		}
	}

	var env vanceEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{
			Kind:       KindMalformedResponse,
			Provider:   TypeVance,
			Op:         op,
			StatusCode: status,
			Excerpt:    excerpt(body, c.cfg.APIKey),
		}
	}
	if env.Code != http.StatusOK {
		return nil, &Error{
			Kind:       failKind,
			Provider:   TypeVance,
			Op:         op,
			StatusCode: env.Code,
			Excerpt:    excerpt([]byte(env.Msg), c.cfg.APIKey),
		}
	}
	return &env, nil
}

// send posts a multipart form to <base>/<op> and returns the raw body.
func (c *VanceClient) send(ctx context.Context, op string, fields [][2]string, file *formFile) ([]byte, int, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, 0, &Error{Kind: KindValidation, Provider: TypeVance, Op: op, Err: err}
		}
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.filename))
		h.Set("Content-Type", file.contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, 0, &Error{Kind: KindValidation, Provider: TypeVance, Op: op, Err: err}
		}
		if _, err := part.Write(file.data); err != nil {
			return nil, 0, &Error{Kind: KindValidation, Provider: TypeVance, Op: op, Err: err}
		}
	}
	if err := w.Close(); err != nil {
		return nil, 0, &Error{Kind: KindValidation, Provider: TypeVance, Op: op, Err: err}
	}

	ctx, cancel := callContext(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+op, &buf)
	if err != nil {
		return nil, 0, &Error{Kind: KindConfiguration, Provider: TypeVance, Op: op, Err: errors.New("build request")}
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, networkError(TypeVance, op, callError(ctx, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, networkError(TypeVance, op, callError(ctx, err))
	}
	return body, resp.StatusCode, nil
}
