// Package genai provides text generation against local or OpenAI-compatible model endpoints.
//
// A Client owns an endpoint Rotator and retries each request up to a fixed
// number of attempts, moving to the next endpoint on every attempt. Callers
// receive the generated text, or an empty string once all attempts fail.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Provider selects the wire protocol spoken to the endpoints.
type Provider string

const (
	// ProviderOllama posts to the Ollama /api/generate endpoint.
	ProviderOllama Provider = "ollama"
	// ProviderOpenAI uses the chat completions API of an OpenAI-compatible server.
	ProviderOpenAI Provider = "openai"
)

// Default configuration constants
const (
	DefaultModel       = "gpt-oss:120b"
	DefaultTimeout     = 600 * time.Second
	DefaultRetries     = 3
	DefaultBackoffBase = time.Second
	DefaultTopP        = 0.9
	DefaultNumCtx      = 4096
)

// Error variables for better error handling and testability
var (
	ErrNoEndpoints       = errors.New("no model endpoints configured")
	ErrUnknownProvider   = errors.New("unknown model provider")
	ErrEmptyResponse     = errors.New("model returned an empty response")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrAPIKeyRequired    = errors.New("API key required for the openai provider")
)

// Request carries one generation request to a backend.
type Request struct {
	Model       string
	Prompt      string
	Temperature float64
	TopP        float64
	NumCtx      int
}

// backend performs a single request against one endpoint.
type backend interface {
	Generate(ctx context.Context, endpoint string, req Request) (string, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	Provider    Provider
	Endpoints   []string
	Model       string
	APIKey      string
	Timeout     time.Duration
	Retries     int
	BackoffBase time.Duration
	TopP        float64
	NumCtx      int
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithProvider selects the endpoint protocol.
func WithProvider(p Provider) Option {
	return func(o *Opts) { o.Provider = p }
}

// WithEndpoints sets the base URLs rotated across attempts.
func WithEndpoints(endpoints ...string) Option {
	return func(o *Opts) { o.Endpoints = append([]string(nil), endpoints...) }
}

// WithPorts sets local Ollama endpoints, one per port.
func WithPorts(ports ...int) Option {
	return func(o *Opts) {
		o.Endpoints = nil
		for _, p := range ports {
			o.Endpoints = append(o.Endpoints, fmt.Sprintf("http://127.0.0.1:%d", p))
		}
	}
}

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithAPIKey sets the API key used by the openai provider.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithRetries sets the number of attempts per request.
func WithRetries(n int) Option {
	return func(o *Opts) { o.Retries = n }
}

// WithBackoffBase sets the linear backoff unit; attempt n waits n units.
func WithBackoffBase(d time.Duration) Option {
	return func(o *Opts) { o.BackoffBase = d }
}

// Client generates text with retry and endpoint rotation.
type Client struct {
	backend     backend
	rotator     *Rotator
	model       string
	retries     int
	backoffBase time.Duration
	topP        float64
	numCtx      int
	sleep       func(context.Context, time.Duration)
}

// NewClient builds a client from the given options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Provider:    ProviderOllama,
		Model:       DefaultModel,
		Timeout:     DefaultTimeout,
		Retries:     DefaultRetries,
		BackoffBase: DefaultBackoffBase,
		TopP:        DefaultTopP,
		NumCtx:      DefaultNumCtx,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("genai.NewClient", "provider", cfg.Provider, "endpoints", len(cfg.Endpoints), "model", cfg.Model, "retries", cfg.Retries)

	rotator, err := NewRotator(cfg.Endpoints)
	if err != nil {
		return nil, err
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}

	var be backend
	switch cfg.Provider {
	case ProviderOllama:
		be = newOllamaBackend(&http.Client{Timeout: cfg.Timeout})
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, ErrAPIKeyRequired
		}
		be = newOpenAIBackend(cfg.APIKey, cfg.Timeout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}

	return &Client{
		backend:     be,
		rotator:     rotator,
		model:       cfg.Model,
		retries:     cfg.Retries,
		backoffBase: cfg.BackoffBase,
		topP:        cfg.TopP,
		numCtx:      cfg.NumCtx,
		sleep:       sleepContext,
	}, nil
}

// Generate sends prompt to the next endpoint, retrying on failure. A
// transport error waits attempt × backoff before the next attempt; an empty
// response moves on immediately. It returns "" when every attempt fails.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64) string {
	req := Request{
		Model:       c.model,
		Prompt:      prompt,
		Temperature: temperature,
		TopP:        c.topP,
		NumCtx:      c.numCtx,
	}
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		endpoint := c.rotator.Next()
		text, err := c.backend.Generate(ctx, endpoint, req)
		if err == nil && text != "" {
			return text
		}
		if err == nil {
			lastErr = ErrEmptyResponse
			slog.Warn("Client.Generate: empty response", "attempt", attempt, "retries", c.retries, "endpoint", endpoint)
			continue
		}
		lastErr = err
		wait := c.backoffBase * time.Duration(attempt)
		slog.Warn("Client.Generate: attempt failed", "attempt", attempt, "retries", c.retries, "endpoint", endpoint, "error", err, "sleep", wait)
		c.sleep(ctx, wait)
	}
	slog.Error("Client.Generate: giving up", "retries", c.retries, "last_error", lastErr)
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
