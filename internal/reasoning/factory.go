package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ProviderConfig describes one chain entry.
type ProviderConfig struct {
	// Kind is one of groq, openai, zai, openai-compatible, gemini or mock.
	Kind      string
	Name      string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

var defaultModels = map[string]string{
	"groq":   "llama-3.3-70b-versatile",
	"openai": "gpt-4o-mini",
	"zai":    "glm-4.5-flash",
	"gemini": "gemini-2.0-flash",
}

// NewProvider builds the backend described by cfg.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if cfg.Name == "" {
		cfg.Name = kind
	}
	if cfg.Model == "" {
		cfg.Model = defaultModels[kind]
	}
	switch kind {
	case "mock":
		return NewMockProvider(), nil
	case "gemini":
		return NewGeminiProvider(ctx, GeminiConfig{Name: cfg.Name, APIKey: cfg.APIKey, Model: cfg.Model, MaxTokens: cfg.MaxTokens})
	case "groq", "openai", "zai", "openai-compatible":
		if cfg.BaseURL == "" {
			switch kind {
			case "groq":
				cfg.BaseURL = GroqBaseURL
			case "zai":
				cfg.BaseURL = ZAIBaseURL
			case "openai":
				cfg.BaseURL = OpenAIBaseURL
			default:
				return nil, fmt.Errorf("%s provider %q needs a base url", kind, cfg.Name)
			}
		}
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("%s provider %q needs an api key", kind, cfg.Name)
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("%s provider %q needs a model", kind, cfg.Name)
		}
		return NewOpenAIProvider(OpenAIConfig{
			Name:      cfg.Name,
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported reasoning provider %q", cfg.Kind)
	}
}

// NewChain builds providers in order, skipping entries that cannot be configured.
// It falls back to the mock provider when nothing usable remains.
func NewChain(ctx context.Context, cfgs []ProviderConfig, logger *slog.Logger) []Provider {
	if logger == nil {
		logger = slog.Default()
	}
	var chain []Provider
	for _, cfg := range cfgs {
		p, err := NewProvider(ctx, cfg)
		if err != nil {
			logger.Warn("skipping reasoning provider", "kind", cfg.Kind, "error", err)
			continue
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		logger.Warn("no reasoning provider configured; using mock replies")
		chain = append(chain, NewMockProvider())
	}
	return chain
}
