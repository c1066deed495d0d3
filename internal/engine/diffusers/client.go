// Package diffusers implements engine.Runtime against a co-located diffusers
// worker process that owns the accelerator. The worker speaks a small JSON
// protocol; images come back as raw PNG bytes.
package diffusers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"prunejuice/internal/engine"
)

// HTTPDoer is the subset of *http.Client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Worker error codes.
const (
	CodeOutOfMemory = "OUT_OF_MEMORY"
	CodeUnsupported = "UNSUPPORTED"
	CodeLoadFailed  = "LOAD_FAILED"
)

// Options configures a Client.
type Options struct {
	// BaseURL of the worker, e.g. http://127.0.0.1:7861.
	BaseURL string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// ConnectTimeout bounds dialing the worker. Zero uses 5s.
	ConnectTimeout time.Duration
	// RequestTimeout bounds control calls (enable, scheduler, memory, close).
	// Loads and generation runs are bounded only by the caller's context: a
	// first load may download gigabytes, and a load cut short leaves the
	// worker holding a pipeline whose id never came back.
	RequestTimeout time.Duration
	// Doer overrides the HTTP client (tests).
	Doer HTTPDoer
}

// Client is an engine.Runtime backed by the worker HTTP API.
type Client struct {
	base       string
	apiKey     string
	reqTimeout time.Duration
	http       HTTPDoer
}

var _ engine.Runtime = (*Client)(nil)

// New constructs a Client. It does not contact the worker.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("diffusers: invalid worker url %q", opts.BaseURL)
	}
	doer := opts.Doer
	if doer == nil {
		ct := opts.ConnectTimeout
		if ct <= 0 {
			ct = 5 * time.Second
		}
		tr := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   ct,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		// No client-wide timeout: a generation may legitimately take minutes.
		doer = &http.Client{Transport: tr}
	}
	return &Client{
		base:       strings.TrimRight(u.String(), "/"),
		apiKey:     opts.APIKey,
		reqTimeout: opts.RequestTimeout,
		http:       doer,
	}, nil
}

// workerError is the JSON error body returned by the worker.
type workerError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

type loadRequest struct {
	Model string `json:"model"`
	Local bool   `json:"local"`
}

type loadResponse struct {
	PipelineID string `json:"pipeline_id"`
}

type optimizationRequest struct {
	Name string `json:"name"`
	// SliceSize is only meaningful for attention slicing.
	SliceSize string `json:"slice_size,omitempty"`
}

// Load asks the worker to load weights and returns the pipeline handle.
func (c *Client) Load(ctx context.Context, src engine.Source) (engine.Pipeline, error) {
	var out loadResponse
	err := c.roundTrip(ctx, http.MethodPost, "/pipelines", loadRequest{Model: src.Ref(), Local: src.Local}, &out)
	if err != nil {
		if engine.IsOutOfMemory(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", engine.ErrLoadFailed, src.ID, err)
	}
	if out.PipelineID == "" {
		return nil, fmt.Errorf("%w: %s: worker returned no pipeline id", engine.ErrLoadFailed, src.ID)
	}
	log.Debug().Str("model", src.ID).Str("pipeline", out.PipelineID).Msg("diffusers: pipeline loaded")
	return &pipeline{c: c, id: out.PipelineID}, nil
}

// Collect asks the worker to run gc and release cached device memory.
func (c *Client) Collect(ctx context.Context, opts engine.CollectOptions) error {
	return c.doJSON(ctx, http.MethodPost, "/memory/collect", opts, nil)
}

// Memory returns the worker's device memory report.
func (c *Client) Memory(ctx context.Context) (engine.MemoryStats, error) {
	var ms engine.MemoryStats
	err := c.doJSON(ctx, http.MethodGet, "/memory", nil, &ms)
	return ms, err
}

type pipeline struct {
	c  *Client
	id string
}

func (p *pipeline) ID() string { return p.id }

func (p *pipeline) path(suffix string) string {
	return "/pipelines/" + url.PathEscape(p.id) + suffix
}

func (p *pipeline) Enable(ctx context.Context, opt engine.Optimization) error {
	req := optimizationRequest{Name: string(opt)}
	if opt == engine.OptAttentionSlicing {
		req.SliceSize = "max"
	}
	return p.c.doJSON(ctx, http.MethodPost, p.path("/optimizations"), req, nil)
}

func (p *pipeline) SetScheduler(ctx context.Context, cfg engine.SchedulerConfig) error {
	return p.c.doJSON(ctx, http.MethodPut, p.path("/scheduler"), cfg, nil)
}

// Run invokes the pipeline and returns the encoded image.
func (p *pipeline) Run(ctx context.Context, params engine.RunParams) (engine.Image, error) {
	resp, err := p.c.send(ctx, http.MethodPost, p.path("/generate"), params)
	if err != nil {
		return engine.Image{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return engine.Image{}, fmt.Errorf("diffusers: reading image: %w", err)
	}
	if len(data) == 0 {
		return engine.Image{}, fmt.Errorf("diffusers: worker returned an empty image")
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return engine.Image{Data: data, ContentType: ct}, nil
}

// Close deletes the pipeline on the worker. A pipeline the worker no longer
// knows about is treated as already closed.
func (p *pipeline) Close(ctx context.Context) error {
	err := p.c.doJSON(ctx, http.MethodDelete, p.path(""), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// doJSON is roundTrip bounded by the control-call timeout.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if c.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.reqTimeout)
		defer cancel()
	}
	return c.roundTrip(ctx, method, path, body, out)
}

// roundTrip sends body as JSON and decodes the response into out when non-nil.
func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("diffusers: decoding %s %s: %w", method, path, err)
	}
	return nil
}

// send performs the request and converts non-2xx responses into errors. The
// caller owns the returned body on success.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("diffusers: encoding request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("diffusers: creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", engine.ErrDependencyUnavailable, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return nil, classify(method, path, resp.StatusCode, raw)
}
