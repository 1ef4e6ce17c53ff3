package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        int    `mapstructure:"port"`
	APIToken    string `mapstructure:"api_token"`
	LogLevel    string `mapstructure:"log_level"`
	DatabaseURL string `mapstructure:"database_url"`

	Nats     NatsConfig     `mapstructure:"nats"`
	Source   SourceConfig   `mapstructure:"source"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Labeling LabelingConfig `mapstructure:"labeling"`
}

type NatsConfig struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

// SourceConfig describes the upstream support-chat API.
type SourceConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	AccessKey    string `mapstructure:"access_key"`
	AccessSecret string `mapstructure:"access_secret"`
	PageSize     int    `mapstructure:"page_size"`
	MaxRetries   int    `mapstructure:"max_retries"`
}

// IngestConfig controls the periodic poll of the upstream API.
type IngestConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Lookback   time.Duration `mapstructure:"lookback"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	FallbackModel  string `mapstructure:"fallback_model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	MaxTokens      int    `mapstructure:"max_tokens"`
}

type LabelingConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	RetryCeiling        int     `mapstructure:"retry_ceiling"`
	MaxWorkers          int     `mapstructure:"max_workers"`
	TopK                int     `mapstructure:"top_k"`
	MinSimilarity       float64 `mapstructure:"min_similarity"`
	ChunkMessages       int     `mapstructure:"chunk_messages"`
	TranscriptBudget    int     `mapstructure:"transcript_budget"`
	ReasoningMaxChars   int     `mapstructure:"reasoning_max_chars"`
}

// Load reads configuration from TRIAGE_* environment variables with defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8650)
	v.SetDefault("api_token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.token", "")

	v.SetDefault("source.base_url", "https://api.channel.io")
	v.SetDefault("source.access_key", "")
	v.SetDefault("source.access_secret", "")
	v.SetDefault("source.page_size", 100)
	v.SetDefault("source.max_retries", 4)

	v.SetDefault("ingest.interval", "24h")
	v.SetDefault("ingest.lookback", "168h")
	v.SetDefault("ingest.run_on_start", false)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4.1-mini")
	v.SetDefault("openai.fallback_model", "")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.max_tokens", 2048)

	v.SetDefault("labeling.confidence_threshold", 0.6)
	v.SetDefault("labeling.retry_ceiling", 2)
	v.SetDefault("labeling.max_workers", 4)
	v.SetDefault("labeling.top_k", 3)
	v.SetDefault("labeling.min_similarity", 0.35)
	v.SetDefault("labeling.chunk_messages", 30)
	v.SetDefault("labeling.transcript_budget", 6000)
	v.SetDefault("labeling.reasoning_max_chars", 500)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks settings without which the service cannot run.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("TRIAGE_DATABASE_URL is required")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("TRIAGE_OPENAI_API_KEY is required")
	}
	if c.Source.AccessKey == "" || c.Source.AccessSecret == "" {
		return fmt.Errorf("TRIAGE_SOURCE_ACCESS_KEY and TRIAGE_SOURCE_ACCESS_SECRET are required")
	}
	if c.Source.PageSize < 1 || c.Source.PageSize > 500 {
		return fmt.Errorf("TRIAGE_SOURCE_PAGE_SIZE must be between 1 and 500, got %d", c.Source.PageSize)
	}
	if c.Ingest.Interval <= 0 || c.Ingest.Lookback <= 0 {
		return fmt.Errorf("TRIAGE_INGEST_INTERVAL and TRIAGE_INGEST_LOOKBACK must be positive")
	}
	if c.Labeling.ConfidenceThreshold < 0 || c.Labeling.ConfidenceThreshold > 1 {
		return fmt.Errorf("TRIAGE_LABELING_CONFIDENCE_THRESHOLD must be in [0,1], got %g", c.Labeling.ConfidenceThreshold)
	}
	return nil
}
