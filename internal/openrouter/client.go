package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"sentiment-labeler/internal/models"
	"sentiment-labeler/internal/ratelimit"

	"go.uber.org/zap"
)

const (
	// DefaultURL is the OpenRouter chat completions endpoint.
	DefaultURL = "https://openrouter.ai/api/v1/chat/completions"
	// GroqURL speaks the same protocol.
	GroqURL = "https://api.groq.com/openai/v1/chat/completions"

	DefaultMaxAttempts = 5
	DefaultTimeout     = 35 * time.Second

	defaultRetryAfter = 3 * time.Second
	maxBodyBytes      = 8 << 20
)

// Client talks to an OpenAI-compatible chat completions endpoint.
// Complete never fails; it degrades to an empty reply or an HTTP_<code> sentinel.
type Client struct {
	apiKey      string
	url         string
	provider    string
	referer     string
	title       string
	httpClient  *http.Client
	logger      *zap.Logger
	maxAttempts int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	attempts atomic.Int64
}

// Config holds configuration for the client.
type Config struct {
	APIKey      string
	URL         string // full endpoint, defaults to DefaultURL
	Provider    string // name used in logs and model info
	MaxAttempts int
	Timeout     time.Duration
	Referer     string
	Title       string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock replaces the time source and sleeper used for backoff.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewClient creates a new client.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}

	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}

	if cfg.Provider == "" {
		cfg.Provider = "openrouter"
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Referer == "" {
		cfg.Referer = "https://github.com/sentiment-labeler"
	}

	if cfg.Title == "" {
		cfg.Title = "Sentiment Labeler"
	}

	client := &Client{
		apiKey:      cfg.APIKey,
		url:         cfg.URL,
		provider:    cfg.Provider,
		referer:     cfg.Referer,
		title:       cfg.Title,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
		sleep:       ratelimit.Sleep,
	}
	for _, opt := range opts {
		opt(client)
	}

	logger.Info("Chat completions client initialized",
		zap.String("provider", cfg.Provider),
		zap.String("url", cfg.URL),
		zap.Int("max_attempts", cfg.MaxAttempts))

	return client, nil
}

// Complete sends one chat completion and returns the reply text.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) string {
	payload, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: 0,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		c.logger.Error("Failed to marshal request", zap.Error(err))
		return ""
	}

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.attempts.Add(1)

		status, header, body, err := c.post(ctx, payload)
		if err != nil {
			if ctx.Err() != nil {
				return ""
			}
			c.logger.Warn("Chat completion request failed",
				zap.String("model", req.Model),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.maxAttempts),
				zap.Error(err))
			if attempt == c.maxAttempts {
				break
			}
			if err := c.sleep(ctx, NetworkBackoff(attempt)); err != nil {
				return ""
			}
			continue
		}

		var wait time.Duration
		switch {
		case status >= 200 && status < 300:
			return extractContent(body)
		case status == http.StatusTooManyRequests:
			wait = max(2*time.Second, RetryAfter(header, c.now()))
		case status >= 500:
			wait = max(2*time.Second, min(10*time.Second, RetryAfter(header, c.now())))
		default:
			c.logger.Error("Chat completion rejected",
				zap.String("model", req.Model),
				zap.Int("status", status),
				zap.String("body", truncate(string(body), 512)))
			return "HTTP_" + strconv.Itoa(status)
		}

		c.logger.Warn("Chat completion throttled",
			zap.String("model", req.Model),
			zap.Int("status", status),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait))
		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, wait); err != nil {
			return ""
		}
	}

	c.logger.Error("Chat completion attempts exhausted",
		zap.String("model", req.Model),
		zap.Int("max_attempts", c.maxAttempts))
	return ""
}

func (c *Client) post(ctx context.Context, payload []byte) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, resp.Header, body, nil
}

// extractContent returns choices[0].message.content, or the raw body when the
// envelope does not decode.
func extractContent(body []byte) string {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return string(body)
	}
	return resp.Choices[0].Message.Content
}

// NetworkBackoff is the delay after a transport failure on the given attempt.
func NetworkBackoff(attempt int) time.Duration {
	return min(12*time.Second, time.Duration(float64(attempt)*1.5*float64(time.Second)))
}

// RetryAfter reads the server's backoff hint. Retry-After wins over
// X-RateLimit-Reset; without either the default is 3s.
func RetryAfter(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return seconds(secs)
		}
	}

	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		if reset, err := strconv.ParseFloat(v, 64); err == nil {
			if reset > 1e12 {
				reset /= 1000
			}
			nowSecs := float64(now.UnixNano()) / float64(time.Second)
			return seconds(reset - nowSecs)
		}
	}

	return defaultRetryAfter
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Close closes the client and releases resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// GetModelInfo returns information about the endpoint being used.
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":     c.provider,
		"url":          c.url,
		"max_attempts": c.maxAttempts,
		"attempts":     c.attempts.Load(),
	}
}
