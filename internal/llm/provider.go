package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"sentiment-labeler/internal/gemini"
	"sentiment-labeler/internal/models"
	"sentiment-labeler/internal/openrouter"

	"go.uber.org/zap"
)

// ProviderType represents the type of LLM provider
type ProviderType string

const (
	ProviderGemini     ProviderType = "gemini"
	ProviderGroq       ProviderType = "groq"
	ProviderOpenRouter ProviderType = "openrouter"
)

// DefaultRequestsPerMinute is used when a provider entry leaves it unset.
const DefaultRequestsPerMinute = 20

// FreeModels are labeled when no provider entries are configured.
var FreeModels = []string{
	"qwen/qwen3-coder:free",
	"meta-llama/llama-4-maverick:free",
	"nousresearch/hermes-3-llama-3.1-405b:free",
}

// ProviderConfig describes one model to label with.
type ProviderConfig struct {
	Type      ProviderType `yaml:"type" json:"type"`
	APIKey    string       `yaml:"api_key" json:"-"`
	ModelName string       `yaml:"model_name" json:"model_name"`
	BaseURL   string       `yaml:"base_url" json:"base_url,omitempty"`
	// Attempts per request, including the first.
	MaxRetries int           `yaml:"max_retries" json:"max_retries,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay,omitempty"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	// Rate limiting per model
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// Completer is any backend able to answer one labeling request. Complete
// never fails: a degraded call returns "" or an HTTP_<code> sentinel.
type Completer interface {
	Complete(ctx context.Context, req models.CompletionRequest) string
	Close() error
	GetModelInfo() map[string]interface{}
}

// Factory builds a Completer for a provider entry.
type Factory func(cfg ProviderConfig, logger *zap.Logger) (Completer, error)

// NewCompleter is the default Factory.
func NewCompleter(cfg ProviderConfig, logger *zap.Logger) (Completer, error) {
	switch cfg.Type {
	case ProviderGemini:
		client, err := gemini.NewClient(gemini.Config{
			APIKey:      cfg.APIKey,
			MaxAttempts: cfg.MaxRetries,
			RetryDelay:  cfg.RetryDelay,
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderGroq, ProviderOpenRouter, "":
		orCfg := openrouter.Config{
			APIKey:      cfg.APIKey,
			URL:         cfg.BaseURL,
			MaxAttempts: cfg.MaxRetries,
			Timeout:     cfg.Timeout,
		}
		if cfg.Type == ProviderGroq {
			orCfg.Provider = string(ProviderGroq)
			if orCfg.URL == "" {
				orCfg.URL = openrouter.GroqURL
			}
		}
		client, err := openrouter.NewClient(orCfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
}

// Catalog is the ordered list of configured models.
type Catalog []ProviderConfig

// Models returns the model names in run order.
func (c Catalog) Models() []string {
	names := make([]string, 0, len(c))
	for _, p := range c {
		names = append(names, p.ModelName)
	}
	return names
}

// Resolve returns the entry for model. Unknown models inherit the settings of
// the first OpenRouter entry, so any OpenRouter model id can be requested.
func (c Catalog) Resolve(model string) (ProviderConfig, error) {
	for _, p := range c {
		if p.ModelName == model {
			return p.withDefaults(), nil
		}
	}
	for _, p := range c {
		if p.Type == ProviderOpenRouter || p.Type == "" {
			p.ModelName = model
			return p.withDefaults(), nil
		}
	}
	return ProviderConfig{}, fmt.Errorf("no provider configured for model %q", model)
}

func (p ProviderConfig) withDefaults() ProviderConfig {
	if p.Type == "" {
		p.Type = ProviderOpenRouter
	}
	if p.RequestsPerMinute <= 0 {
		p.RequestsPerMinute = DefaultRequestsPerMinute
	}
	return p
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// VendorAlias returns the model family of an OpenRouter style id, e.g.
// "deepseek" for "deepseek/deepseek-r1:free" or "qwen3" for "qwen/qwen3-coder:free".
func VendorAlias(model string) string {
	_, rest, ok := strings.Cut(model, "/")
	if !ok {
		return nonAlnum.ReplaceAllString(strings.ToLower(model), "")
	}
	rest, _, _ = strings.Cut(rest, ":")
	rest, _, _ = strings.Cut(rest, "-")
	return strings.ToLower(strings.TrimSpace(rest))
}
