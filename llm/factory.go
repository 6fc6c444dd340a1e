package llm

import (
	"context"
	"log/slog"

	"github.com/m4xw311/parley/config"
	"github.com/m4xw311/parley/errors"
)

// NewProvider builds the provider named by cfg.LLMClient. When fallback
// providers are configured the result is a FallbackProvider with the primary
// provider first.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	primary, err := NewNamedProvider(ctx, cfg.LLMClient, NewCatalog("", cfg.Models))
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallback.Providers) == 0 {
		return primary, nil
	}

	fb := &FallbackProvider{
		Providers:  []Provider{primary},
		MaxRetries: cfg.Fallback.MaxRetries,
		RetryDelay: cfg.Fallback.RetryDelay,
	}
	for _, ref := range cfg.Fallback.Providers {
		p, err := NewNamedProvider(ctx, ref.LLM, NewCatalog(ref.Model, nil))
		if err != nil {
			// A misconfigured fallback must not prevent the primary from serving.
			slog.Warn("Skipping fallback provider", "llm", ref.LLM, "error", err)
			continue
		}
		fb.Providers = append(fb.Providers, p)
	}
	return fb, nil
}

// NewNamedProvider creates the adapter registered under name.
func NewNamedProvider(ctx context.Context, name string, catalog Catalog) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(ctx, catalog)
	case "azure":
		return NewAzureOpenAIProvider(ctx, catalog)
	case "anthropic":
		return NewAnthropicProvider(ctx, catalog)
	case "bedrock":
		return NewBedrockProvider(ctx, catalog)
	case "gemini":
		return NewGeminiProvider(ctx, catalog)
	case "ollama":
		return NewOllamaProvider(ctx, catalog)
	case "mock", "":
		m := NewMockProvider()
		if catalog.Default != "" {
			m.Catalog = catalog
		}
		return m, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "unsupported llm %q", name)
	}
}
