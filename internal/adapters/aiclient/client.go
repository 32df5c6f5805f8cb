// Package aiclient implements core.AIEvaluator over HTTP.
//
// The provider receives {"model", "prompt", "schema"} and answers with a JSON
// document; a JMESPath expression selects the structured result from it.
// Requests are rate limited with a token bucket and, when configured,
// authenticated with OAuth2 client credentials.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/cvforge/cv-engine/config"
	"github.com/cvforge/cv-engine/internal/core"
	apperrors "github.com/cvforge/cv-engine/internal/errors"
)

const maxResponseBytes = 4 << 20

var _ core.AIEvaluator = (*Client)(nil)

// ErrEndpointRequired is returned by New when no endpoint is configured.
var ErrEndpointRequired = errors.New("ai endpoint is required")

// Options configures a Client.
type Options struct {
	Config config.AIConfig
	Logger *slog.Logger
	// HTTPClient overrides the base transport. The OAuth2 client wraps it when client credentials are set.
	HTTPClient *http.Client
}

// Client calls the AI provider.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	path     jmespath.JMESPath

	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type evaluateRequest struct {
	Model  string          `json:"model"`
	Prompt string          `json:"prompt"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// New builds a Client from configuration.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrEndpointRequired
	}

	var path jmespath.JMESPath
	if expr := strings.TrimSpace(cfg.ResponsePath); expr != "" {
		compiled, err := jmespath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile response path %q: %w", expr, err)
		}
		path = compiled
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}

	httpClient := base
	apiKey := cfg.APIKey
	if cfg.UsesClientCredentials() {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = cc.Client(ctx)
		httpClient.Timeout = base.Timeout
		apiKey = ""
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   apiKey,
		path:     path,
		http:     httpClient,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger.With("component", "ai_client"),
	}, nil
}

// Evaluate sends prompt and schema to the provider and returns the selected JSON result.
// Transport and non-2xx failures carry ai.provider_error; unusable bodies carry ai.invalid_response.
func (c *Client) Evaluate(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ai rate limit wait: %w", err)
	}

	body, err := json.Marshal(evaluateRequest{Model: c.model, Prompt: prompt, Schema: schema})
	if err != nil {
		return nil, fmt.Errorf("encode ai request: %w", err)
	}

	start := time.Now()
	raw, status, err := c.send(ctx, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ai request: %w", ctx.Err())
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeAIProvider, "ai provider request failed")
	}
	c.logger.DebugContext(ctx, "ai provider responded",
		"status", status,
		"bytes", len(raw),
		"duration", time.Since(start),
	)
	if status < 200 || status > 299 {
		return nil, apperrors.Newf(apperrors.ErrCodeAIProvider,
			"ai provider returned status %d: %s", status, snippet(raw))
	}

	return c.extract(raw)
}

func (c *Client) send(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	closeErr := resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, errors.Join(fmt.Errorf("read response body: %w", readErr), closeErr)
	}
	if closeErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("close response body: %w", closeErr)
	}
	return raw, resp.StatusCode, nil
}

// extract applies the response path. A string result is treated as embedded JSON,
// since chat-style providers return the structured answer as text.
func (c *Client) extract(raw []byte) (json.RawMessage, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeAIResponse, "ai response is not JSON")
	}

	selected := doc
	if c.path != nil {
		v, err := c.path.Search(doc)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeAIResponse, "evaluate response path")
		}
		selected = v
	}

	switch v := selected.(type) {
	case nil:
		return nil, apperrors.New(apperrors.ErrCodeAIResponse, "ai response path selected nothing")
	case string:
		text := stripFence(v)
		if !json.Valid([]byte(text)) {
			return nil, apperrors.Newf(apperrors.ErrCodeAIResponse, "ai response text is not JSON: %s", snippet([]byte(text)))
		}
		return json.RawMessage(text), nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeAIResponse, "encode ai result")
		}
		return out, nil
	}
}

// stripFence removes a surrounding ```json ... ``` block.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func snippet(b []byte) string {
	const maxLen = 256
	s := strings.TrimSpace(string(b))
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
