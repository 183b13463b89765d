package llm

import (
	"context"
	"fmt"
	"log/slog"

	"edulearn/internal/config"
)

// Factory creates LLM clients with consistent logic
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// CreateClient builds the configured provider for model and wraps it with
// rate limiting and bounded retries.
func (f *Factory) CreateClient(ctx context.Context, model string) (StreamingClient, error) {
	base, err := f.provider(ctx, model)
	if err != nil {
		return nil, err
	}
	var client StreamingClient = base
	if f.cfg.LLMRateLimit > 0 {
		client = NewLimited(client, f.cfg.LLMRateLimit, f.cfg.LLMRateBurst)
	}
	return NewRetrying(client, RetryOptions{MaxRetries: f.cfg.LLMMaxRetries, Logger: f.logger}), nil
}

func (f *Factory) provider(ctx context.Context, model string) (StreamingClient, error) {
	cfg := f.cfg
	switch cfg.LLMProvider {
	case config.ProviderGroq, config.ProviderOpenAI:
		baseURL := cfg.OpenAIBaseURL
		if baseURL == "" && cfg.LLMProvider == config.ProviderGroq {
			baseURL = GroqBaseURL
		}
		return NewOpenAI(OpenAIOptions{
			APIKey:      cfg.GroqAPIKey,
			BaseURL:     baseURL,
			Model:       model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: float32(cfg.Temperature),
			Referrer:    cfg.OpenRouterReferrer,
			Title:       cfg.OpenRouterTitle,
		}), nil
	case config.ProviderGemini:
		if model == cfg.Model {
			model = cfg.GeminiModel
		}
		return NewGemini(ctx, cfg.GenAIAPIKey, model, cfg.MaxTokens, cfg.Temperature)
	case config.ProviderYandex:
		return NewYandex(cfg.YandexOAuth, cfg.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLMProvider)
	}
}
