package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testVanceKey = "vance-secret-token"

// fakeVance scripts the provider's endpoints.
type fakeVance struct {
	mu sync.Mutex

	uploadCalls    int
	transformCalls int
	progressCalls  int
	downloadCalls  int

	// uploadFailures makes the first n uploads return 500.
	uploadFailures int
	// statuses is consumed one per poll; the last entry repeats.
	statuses []string
	// progressCodes overrides the envelope code for poll i (1-based).
	progressCodes  map[int]int
	jconfig        string
	uploadedType   string
	hijackDownload bool
}

func (f *fakeVance) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.URL.Path {
		case "/upload":
			f.uploadCalls++
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, testVanceKey, r.FormValue("api_token"))
			if _, hdr, err := r.FormFile("file"); assert.NoError(t, err) {
				f.uploadedType = hdr.Header.Get("Content-Type")
			}
			if f.uploadCalls <= f.uploadFailures {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeJSON(w, map[string]any{"code": 200, "data": map[string]any{"uid": "uid-1"}})
		case "/transform":
			f.transformCalls++
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "uid-1", r.FormValue("uid"))
			f.jconfig = r.FormValue("jconfig")
			writeJSON(w, map[string]any{"code": 200, "data": map[string]any{"trans_id": "t-42"}})
		case "/progress":
			f.progressCalls++
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "t-42", r.FormValue("trans_id"))
			if code, ok := f.progressCodes[f.progressCalls]; ok {
				writeJSON(w, map[string]any{"code": code, "msg": "busy"})
				return
			}
			idx := f.progressCalls - 1
			if idx >= len(f.statuses) {
				idx = len(f.statuses) - 1
			}
			writeJSON(w, map[string]any{"code": 200, "data": map[string]any{"status": f.statuses[idx]}})
		case "/download":
			f.downloadCalls++
			assert.Equal(t, "t-42", r.URL.Query().Get("trans_id"))
			assert.Equal(t, testVanceKey, r.URL.Query().Get("api_token"))
			if f.hijackDownload {
				if conn, _, err := w.(http.Hijacker).Hijack(); err == nil {
					_ = conn.Close()
				}
				return
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newVanceTest(t *testing.T, f *fakeVance) (*VanceClient, *memoryStore, *sleepRecorder) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	rec := &sleepRecorder{}
	retry := DefaultRetryPolicy()
	retry.Sleep = rec.Sleep

	store := newMemoryStore()
	c := NewVanceClient(VanceConfig{
		APIKey:   testVanceKey,
		BaseURL:  srv.URL,
		MaxPolls: 5,
		Retry:    retry,
	}, srv.Client(), store, zap.NewNop())
	c.sleep = noSleep
	return c, store, rec
}

func standardJob() *Job {
	return &Job{Image: []byte("jpeg"), ContentType: "image/jpeg", Filename: "house.jpg", Mode: ModeStandard}
}

func TestVanceClient_Run(t *testing.T) {
	t.Run("finishes and persists the downloaded result", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"wait", "process", "finish"}}
		c, store, rec := newVanceTest(t, f)

		job := standardJob()
		res, err := c.Run(context.Background(), job)
		require.NoError(t, err)

		assert.Equal(t, "https://cdn.test/vance_enhanced_t-42.png", res.URL)
		assert.True(t, res.Owned)
		assert.Equal(t, []byte("png-bytes"), store.objects["vance_enhanced_t-42.png"])
		assert.Equal(t, "image/png", store.types["vance_enhanced_t-42.png"])
		assert.Equal(t, 3, f.progressCalls)
		assert.Equal(t, "image/jpeg", f.uploadedType)
		assert.Equal(t, "t-42", job.ExternalID)
		assert.Equal(t, 1, job.Attempts)
		assert.Equal(t, PhaseDone, job.Phase)
		assert.Empty(t, rec.waits)
	})

	t.Run("sends the mode's processing configuration", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"finish"}}
		c, _, _ := newVanceTest(t, f)

		_, err := c.Run(context.Background(), standardJob())
		require.NoError(t, err)

		var jc struct {
			Name   string `json:"name"`
			Config struct {
				Module       string         `json:"module"`
				ModuleParams map[string]any `json:"module_params"`
			} `json:"config"`
		}
		require.NoError(t, json.Unmarshal([]byte(f.jconfig), &jc))
		assert.Equal(t, "enlarge", jc.Name)
		assert.Equal(t, "enlarge", jc.Config.Module)
		assert.Equal(t, "4x", jc.Config.ModuleParams["scale"])
		assert.Equal(t, float64(26), jc.Config.ModuleParams["suppress_noise"])
		assert.Equal(t, float64(26), jc.Config.ModuleParams["remove_blur"])
	})

	t.Run("fatal on first poll is not retried", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"fatal"}}
		c, store, rec := newVanceTest(t, f)

		job := standardJob()
		_, err := c.Run(context.Background(), job)

		assert.ErrorIs(t, err, ErrJobFatal)
		assert.Equal(t, 1, f.uploadCalls)
		assert.Equal(t, 1, f.progressCalls)
		assert.Equal(t, 1, job.Attempts)
		assert.Zero(t, f.downloadCalls)
		assert.Zero(t, store.calls)
		assert.Empty(t, rec.waits)
	})

	t.Run("two transient upload failures then success", func(t *testing.T) {
		f := &fakeVance{uploadFailures: 2, statuses: []string{"finish"}}
		c, _, rec := newVanceTest(t, f)

		job := standardJob()
		res, err := c.Run(context.Background(), job)
		require.NoError(t, err)

		assert.NotEmpty(t, res.URL)
		assert.Equal(t, 3, f.uploadCalls)
		assert.Equal(t, 3, job.Attempts)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.waits)
		assert.Equal(t, 6*time.Second, rec.Total())
	})

	t.Run("upload failures exhaust attempts and surface the last error", func(t *testing.T) {
		f := &fakeVance{uploadFailures: 10, statuses: []string{"finish"}}
		c, _, _ := newVanceTest(t, f)

		_, err := c.Run(context.Background(), standardJob())

		assert.ErrorIs(t, err, ErrUploadFailed)
		assert.Equal(t, http.StatusInternalServerError, err.(*Error).StatusCode)
		assert.Equal(t, 3, f.uploadCalls)
	})

	t.Run("poll ceiling is a timeout and not retried", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"process"}}
		c, _, _ := newVanceTest(t, f)

		_, err := c.Run(context.Background(), standardJob())

		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 5, f.progressCalls)
		assert.Equal(t, 1, f.uploadCalls)
	})

	t.Run("progress envelopes with a non-200 code are skipped", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"finish"}, progressCodes: map[int]int{1: 500, 2: 10011}}
		c, _, _ := newVanceTest(t, f)

		_, err := c.Run(context.Background(), standardJob())
		require.NoError(t, err)
		assert.Equal(t, 3, f.progressCalls)
	})

	t.Run("storage failure is not retried", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"finish"}}
		c, store, _ := newVanceTest(t, f)
		store.err = errors.New("bucket gone")

		_, err := c.Run(context.Background(), standardJob())

		assert.ErrorIs(t, err, ErrStorageWriteFailed)
		assert.Equal(t, 1, f.uploadCalls)
	})

	t.Run("network errors never expose the api token", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"finish"}, hijackDownload: true}
		c, _, _ := newVanceTest(t, f)

		_, err := c.Run(context.Background(), standardJob())

		require.ErrorIs(t, err, ErrNetwork)
		assert.NotContains(t, err.Error(), testVanceKey)
		assert.NotContains(t, err.Error(), "api_token")
		assert.Equal(t, "download", err.(*Error).Op)
		assert.Equal(t, 3, f.uploadCalls)
	})

	t.Run("mode without configuration is rejected", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"finish"}}
		c, _, _ := newVanceTest(t, f)

		_, err := c.Run(context.Background(), &Job{Image: []byte("x"), Mode: ModeMagic, Prompt: "twilight sky"})

		assert.ErrorIs(t, err, ErrValidation)
		assert.True(t, strings.Contains(err.Error(), "magic"))
		assert.Zero(t, f.uploadCalls)
	})

	t.Run("empty image is rejected before any call", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"finish"}}
		c, _, _ := newVanceTest(t, f)

		_, err := c.Run(context.Background(), &Job{Mode: ModeStandard})

		assert.ErrorIs(t, err, ErrValidation)
		assert.Zero(t, f.uploadCalls)
	})

	t.Run("missing api key is a configuration error", func(t *testing.T) {
		c := NewVanceClient(VanceConfig{BaseURL: "http://unused"}, nil, newMemoryStore(), zap.NewNop())

		_, err := c.Run(context.Background(), standardJob())

		assert.ErrorIs(t, err, ErrConfiguration)
		assert.False(t, Retryable(err))
	})
}

func TestVanceClient_OversizedDownload(t *testing.T) {
	f := &fakeVance{statuses: []string{"finish"}}
	c, store, _ := newVanceTest(t, f)
	c.maxDownload = int64(len("png-bytes")) - 1

	_, err := c.Run(context.Background(), standardJob())

	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.ErrorIs(t, err, errDownloadTooLarge)
	assert.Equal(t, "download", err.(*Error).Op)
	assert.Zero(t, store.calls)
	assert.Empty(t, store.objects)
}

func TestVanceClient_DownloadAtLimit(t *testing.T) {
	f := &fakeVance{statuses: []string{"finish"}}
	c, store, _ := newVanceTest(t, f)
	c.maxDownload = int64(len("png-bytes"))

	_, err := c.Run(context.Background(), standardJob())

	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), store.objects["vance_enhanced_t-42.png"])
}

func TestVanceClient_PromptParam(t *testing.T) {
	jobs := DefaultJobs()
	jobs[ModeMagic] = JobConfig{
		Name:        "magic_edit",
		Module:      "magic_edit",
		Params:      map[string]any{"strength": 0.6},
		PromptParam: "prompt",
	}

	t.Run("magic prompt is sent in module params", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"finish"}}
		c, _, _ := newVanceTest(t, f)
		c.cfg.Jobs = jobs

		_, err := c.Run(context.Background(), &Job{Image: []byte("x"), Mode: ModeMagic, Prompt: "twilight sky"})
		require.NoError(t, err)

		var jc struct {
			Config struct {
				ModuleParams map[string]any `json:"module_params"`
			} `json:"config"`
		}
		require.NoError(t, json.Unmarshal([]byte(f.jconfig), &jc))
		assert.Equal(t, "twilight sky", jc.Config.ModuleParams["prompt"])
		assert.Equal(t, 0.6, jc.Config.ModuleParams["strength"])
		assert.NotContains(t, jobs[ModeMagic].Params, "prompt")
	})

	t.Run("magic configuration without a prompt parameter is rejected", func(t *testing.T) {
		f := &fakeVance{statuses: []string{"finish"}}
		c, _, _ := newVanceTest(t, f)
		c.cfg.Jobs = map[Mode]JobConfig{ModeMagic: {Name: "magic_edit", Module: "magic_edit"}}

		_, err := c.Run(context.Background(), &Job{Image: []byte("x"), Mode: ModeMagic, Prompt: "twilight sky"})

		assert.ErrorIs(t, err, ErrValidation)
		assert.Zero(t, f.uploadCalls)
	})
}
