package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderGroq   LLMProvider = "groq"
	ProviderOpenAI LLMProvider = "openai"
	ProviderGemini LLMProvider = "gemini"
	ProviderYandex LLMProvider = "yandex"
)

type StoreKind string

const (
	StoreMongo  StoreKind = "mongo"
	StoreFile   StoreKind = "file"
	StoreMemory StoreKind = "memory"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8000"`

	// LLM settings
	LLMProvider    LLMProvider   `env:"LLM_PROVIDER" envDefault:"groq"`
	GroqAPIKey     string        `env:"CHATGROQ_API_KEY"`
	OpenAIBaseURL  string        `env:"OPENAI_BASE_URL"`
	Model          string        `env:"LLM_MODEL" envDefault:"llama-3.3-70b-versatile"`
	SummaryModel   string        `env:"SUMMARY_MODEL"`
	MaxTokens      int           `env:"LLM_MAX_TOKENS" envDefault:"1024"`
	Temperature    float64       `env:"LLM_TEMPERATURE" envDefault:"0"`
	GenAIAPIKey    string        `env:"GENAI_API_KEY"`
	GeminiModel    string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	YandexOAuth    string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID string        `env:"YANDEX_FOLDER_ID"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
	LLMMaxRetries  int           `env:"LLM_MAX_RETRIES" envDefault:"3"`
	LLMRateLimit   float64       `env:"LLM_RATE_LIMIT" envDefault:"0"`
	LLMRateBurst   int           `env:"LLM_RATE_BURST" envDefault:"1"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Sessions
	CompactionThreshold int           `env:"COMPACTION_THRESHOLD" envDefault:"10"`
	LookupPolicy        string        `env:"SESSION_LOOKUP_POLICY" envDefault:"strict"`
	Store               StoreKind     `env:"SESSION_STORE" envDefault:"mongo"`
	MongoURI            string        `env:"CONNECTION_STRING"`
	MongoDatabase       string        `env:"MONGO_DATABASE" envDefault:"edulearnai"`
	MongoCollection     string        `env:"MONGO_COLLECTION" envDefault:"chats"`
	SessionDir          string        `env:"SESSION_DIR" envDefault:"data/sessions"`
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"0"`
	SweepSchedule       string        `env:"SESSION_SWEEP_SCHEDULE" envDefault:"@every 1h"`
	ReportSchedule      string        `env:"REPORT_SCHEDULE" envDefault:"0 21 * * *"`

	// Prompts and retrieval
	PromptKind          string `env:"PROMPT_KIND" envDefault:"quiz_solving"`
	PromptTemplatesPath string `env:"PROMPT_TEMPLATES_PATH"`
	ContextFilePath     string `env:"CONTEXT_FILE_PATH"`

	// Storage
	InteractionLogPath string `env:"INTERACTION_LOG_PATH" envDefault:"logs/interactions.jsonl"`

	// Telegram (optional)
	TelegramBotToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatsPath string `env:"TELEGRAM_CHATS_PATH" envDefault:"data/telegram_chats.json"`
	// AdminUserID receives the daily usage report in Telegram.
	AdminUserID int64 `env:"ADMIN_USER_ID"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderGroq, ProviderOpenAI:
		if c.GroqAPIKey == "" {
			return fmt.Errorf("CHATGROQ_API_KEY is required for provider %q", c.LLMProvider)
		}
	case ProviderGemini:
		if c.GenAIAPIKey == "" {
			return fmt.Errorf("GENAI_API_KEY is required for provider %q", c.LLMProvider)
		}
	case ProviderYandex:
		if c.YandexOAuth == "" || c.YandexFolderID == "" {
			return fmt.Errorf("YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID are required for provider %q", c.LLMProvider)
		}
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLMProvider)
	}

	switch c.Store {
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("CONNECTION_STRING is required for the mongo session store")
		}
	case StoreFile, StoreMemory:
	default:
		return fmt.Errorf("unknown session store: %s", c.Store)
	}

	if c.CompactionThreshold < 1 {
		return fmt.Errorf("COMPACTION_THRESHOLD must be at least 1, got %d", c.CompactionThreshold)
	}
	if c.LookupPolicy != "strict" && c.LookupPolicy != "autocreate" {
		return fmt.Errorf("SESSION_LOOKUP_POLICY must be strict or autocreate, got %q", c.LookupPolicy)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES must not be negative")
	}
	if c.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL must not be negative")
	}
	return nil
}

// SummaryModelName falls back to the chat model when no dedicated summarizer
// model is configured.
func (c *Config) SummaryModelName() string {
	if c.SummaryModel != "" {
		return c.SummaryModel
	}
	return c.Model
}
