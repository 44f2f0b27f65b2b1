package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"sentiment-labeler/internal/labeler"
	"sentiment-labeler/internal/llm"
	"sentiment-labeler/internal/openrouter"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		JWTSecret string `yaml:"jwt_secret"` // empty disables API auth
	} `yaml:"server"`

	Database struct {
		Type string `yaml:"type"` // "sqlite" or "postgres"
		Path string `yaml:"path"` // SQLite path or PostgreSQL URL
	} `yaml:"database"`

	Labeling struct {
		OutputDir         string `yaml:"output_dir"`
		RequestsPerMinute int    `yaml:"requests_per_minute"`
		MaxPromptChars    int    `yaml:"max_prompt_chars"`
		TokensPerRow      int    `yaml:"tokens_per_row"`
		RepairPasses      int    `yaml:"repair_passes"`
		IncludeContext    bool   `yaml:"include_context"`
	} `yaml:"labeling"`

	// Models to label with, in run order.
	Providers []llm.ProviderConfig `yaml:"providers"`

	Twitter struct {
		BearerToken       string  `yaml:"bearer_token"`
		BaseURL           string  `yaml:"base_url"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	} `yaml:"twitter"`

	YouTube struct {
		Headless    bool          `yaml:"headless"`
		MaxScrolls  int           `yaml:"max_scrolls"`
		ScrollPause time.Duration `yaml:"scroll_pause"`
	} `yaml:"youtube"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// LoadConfig loads configuration from a YAML file and the environment. An
// empty path yields defaults plus environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	return load(configPath, os.LookupEnv)
}

func load(configPath string, lookup func(string) (string, bool)) (*Config, error) {
	config := &Config{}
	config.YouTube.Headless = true

	if configPath != "" {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	// Expand environment variables in secrets
	config.Server.JWTSecret = os.Expand(config.Server.JWTSecret, expander(lookup))
	config.Twitter.BearerToken = os.Expand(config.Twitter.BearerToken, expander(lookup))
	config.Telegram.BotToken = os.Expand(config.Telegram.BotToken, expander(lookup))
	for i := range config.Providers {
		config.Providers[i].APIKey = os.Expand(config.Providers[i].APIKey, expander(lookup))
	}

	if err := config.applyEnv(lookup); err != nil {
		return nil, err
	}
	config.applyDefaults(lookup)

	return config, nil
}

func expander(lookup func(string) (string, bool)) func(string) string {
	return func(key string) string {
		v, _ := lookup(key)
		return v
	}
}

// applyEnv lets well-known environment variables override the file.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	intVar := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", name, v)
		}
		*dst = n
		return nil
	}

	if err := intVar("OPENROUTER_RPM", &c.Labeling.RequestsPerMinute); err != nil {
		return err
	}
	if err := intVar("LLM_MAX_PROMPT_CHARS", &c.Labeling.MaxPromptChars); err != nil {
		return err
	}
	if err := intVar("LLM_OUT_TOKENS_PER_ROW", &c.Labeling.TokensPerRow); err != nil {
		return err
	}

	if v, ok := lookup("X_BEARER_TOKEN"); ok && v != "" {
		c.Twitter.BearerToken = v
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		switch p.Type {
		case llm.ProviderOpenRouter, "":
			if v, ok := lookup("OPENROUTER_API_KEY"); ok && v != "" && p.APIKey == "" {
				p.APIKey = v
			}
			if v, ok := lookup("OPENROUTER_URL"); ok && v != "" {
				p.BaseURL = v
			}
		case llm.ProviderGemini:
			if v, ok := lookup("GEMINI_API_KEY"); ok && v != "" && p.APIKey == "" {
				p.APIKey = v
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults(lookup func(string) (string, bool)) {
	if c.Server.Port == "" {
		c.Server.Port = "8002"
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}

	if c.Database.Path == "" {
		c.Database.Path = "./data/labeler.db"
	}

	if c.Labeling.OutputDir == "" {
		c.Labeling.OutputDir = "./data/ledgers"
	}
	if c.Labeling.RequestsPerMinute <= 0 {
		c.Labeling.RequestsPerMinute = llm.DefaultRequestsPerMinute
	}
	if c.Labeling.MaxPromptChars <= 0 {
		c.Labeling.MaxPromptChars = labeler.DefaultMaxPromptChars
	}
	if c.Labeling.TokensPerRow <= 0 {
		c.Labeling.TokensPerRow = labeler.DefaultTokensPerRow
	}
	if c.Labeling.RepairPasses == 0 {
		c.Labeling.RepairPasses = labeler.DefaultRepairPasses
	}

	if len(c.Providers) == 0 {
		key, _ := lookup("OPENROUTER_API_KEY")
		url, _ := lookup("OPENROUTER_URL")
		if url == "" {
			url = openrouter.DefaultURL
		}
		for _, model := range llm.FreeModels {
			c.Providers = append(c.Providers, llm.ProviderConfig{
				Type:      llm.ProviderOpenRouter,
				APIKey:    key,
				ModelName: model,
				BaseURL:   url,
			})
		}
	}

	for i := range c.Providers {
		if c.Providers[i].Type == "" {
			c.Providers[i].Type = llm.ProviderOpenRouter
		}
		if c.Providers[i].RequestsPerMinute <= 0 {
			c.Providers[i].RequestsPerMinute = c.Labeling.RequestsPerMinute
		}
	}

	if c.Twitter.RequestsPerSecond <= 0 {
		c.Twitter.RequestsPerSecond = 1
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Catalog returns the configured models in run order.
func (c *Config) Catalog() llm.Catalog {
	return llm.Catalog(c.Providers)
}
