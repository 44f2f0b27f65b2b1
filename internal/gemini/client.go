package gemini

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sentiment-labeler/internal/models"
	"sentiment-labeler/internal/ratelimit"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = 3 * time.Second
)

// Client wraps the Gemini API behind the same never-failing Complete contract
// as the chat completions client.
type Client struct {
	client      *genai.Client
	logger      *zap.Logger
	maxAttempts int
	retryDelay  time.Duration

	generate func(ctx context.Context, req models.CompletionRequest) (string, error)
	sleep    func(ctx context.Context, d time.Duration) error
}

// Config for Gemini client
type Config struct {
	APIKey      string
	MaxAttempts int
	RetryDelay  time.Duration // wait after a throttled attempt
}

// NewClient creates a new Gemini client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	c := newClient(cfg, logger)
	c.client = client
	c.generate = c.generateContent

	logger.Info("Gemini client initialized", zap.Int("max_attempts", c.maxAttempts))

	return c, nil
}

func newClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	return &Client{
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		sleep:       ratelimit.Sleep,
	}
}

// Close closes the Gemini client
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Complete runs one generation and returns the reply text. Throttling and
// server errors are retried; other API errors yield an HTTP_<code> sentinel.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) string {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		text, err := c.generate(ctx, req)
		if err == nil {
			return text
		}
		if ctx.Err() != nil {
			return ""
		}

		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			c.logger.Warn("Gemini blocked the prompt", zap.String("model", req.Model), zap.Error(err))
			return ""
		}

		status := statusOf(err)
		var wait time.Duration
		switch {
		case status == 0:
			wait = min(12*time.Second, time.Duration(float64(attempt)*1.5*float64(time.Second)))
		case status == 429:
			wait = max(2*time.Second, c.retryDelay)
		case status >= 500:
			wait = max(2*time.Second, min(10*time.Second, c.retryDelay))
		default:
			c.logger.Error("Gemini request rejected",
				zap.String("model", req.Model),
				zap.Int("status", status),
				zap.Error(err))
			return "HTTP_" + strconv.Itoa(status)
		}

		c.logger.Warn("Gemini attempt failed",
			zap.String("model", req.Model),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err))

		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, wait); err != nil {
			return ""
		}
	}

	return ""
}

func (c *Client) generateContent(ctx context.Context, req models.CompletionRequest) (string, error) {
	model := c.client.GenerativeModel(req.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(req.System)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: genai.Ptr(int32(req.MaxTokens)),
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// statusOf extracts an HTTP status from an API error, or 0 for transport errors.
func statusOf(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource exhausted"),
		strings.Contains(msg, "resourceexhausted"):
		return 429
	case strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "internal error"),
		strings.Contains(msg, "deadline exceeded"):
		return 503
	}
	return 0
}

// GetModelInfo returns model information
func (c *Client) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"provider":     "gemini",
		"max_attempts": c.maxAttempts,
		"retry_delay":  c.retryDelay.String(),
	}
}
