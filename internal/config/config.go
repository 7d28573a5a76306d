package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	DBPath      string `yaml:"db_path"`

	STT     STTConfig     `yaml:"stt"`
	LLM     LLMConfig     `yaml:"llm"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Batch   BatchConfig   `yaml:"batch"`
	Sweeper SweeperConfig `yaml:"sweeper"`
}

type STTConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Models  []string `yaml:"models"`
	// Language passed to the transcription endpoint.
	Language string `yaml:"language"`
}

type LLMConfig struct {
	Provider        string  `yaml:"provider"` // "openai" or "anthropic"
	BaseURL         string  `yaml:"base_url"`
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	AnthropicModel  string  `yaml:"anthropic_model"`
	Temperature     float64 `yaml:"temperature"`
}

type IngestConfig struct {
	HeadTimeout           time.Duration `yaml:"head_timeout"`
	MaxFileBytes          int64         `yaml:"max_file_bytes"`
	MaxTranscriptionBytes int64         `yaml:"max_transcription_bytes"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type SweeperConfig struct {
	Schedule string `yaml:"schedule"` // 5-field cron expression, empty disables
}

// Load reads .env, then an optional YAML file (CONFIG_PATH, default
// config.yaml), then applies environment overrides and defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	path := "config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}
	return LoadFile(path)
}

// LoadFile is Load without the .env step. A missing file is not an error.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envOverride(&cfg.Port, "PORT")
	envOverride(&cfg.Environment, "ENVIRONMENT")
	envOverride(&cfg.DBPath, "DB_PATH")

	envOverride(&cfg.STT.BaseURL, "STT_BASE_URL")
	envOverride(&cfg.STT.APIKey, "STT_API_KEY")
	envOverride(&cfg.STT.Language, "STT_LANGUAGE")
	if models := os.Getenv("STT_MODELS"); models != "" {
		cfg.STT.Models = nil
		for _, m := range strings.Split(models, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.STT.Models = append(cfg.STT.Models, m)
			}
		}
	}

	envOverride(&cfg.LLM.Provider, "LLM_PROVIDER")
	envOverride(&cfg.LLM.BaseURL, "LLM_GATEWAY_URL")
	envOverride(&cfg.LLM.APIKey, "LLM_API_KEY")
	envOverride(&cfg.LLM.Model, "LLM_MODEL")
	envOverride(&cfg.LLM.EmbeddingModel, "LLM_EMBEDDING_MODEL")
	envOverride(&cfg.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.LLM.AnthropicModel, "ANTHROPIC_MODEL")
	envOverrideFloat(&cfg.LLM.Temperature, "LLM_TEMPERATURE")

	envOverrideDuration(&cfg.Ingest.HeadTimeout, "INGEST_HEAD_TIMEOUT")
	envOverrideInt64(&cfg.Ingest.MaxFileBytes, "INGEST_MAX_FILE_BYTES")
	envOverrideInt64(&cfg.Ingest.MaxTranscriptionBytes, "INGEST_MAX_TRANSCRIPTION_BYTES")

	envOverrideInt(&cfg.Batch.Concurrency, "BATCH_CONCURRENCY")
	envOverride(&cfg.Sweeper.Schedule, "SWEEPER_SCHEDULE")
}

func applyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "data"
	}
	if cfg.STT.BaseURL == "" {
		cfg.STT.BaseURL = "https://api.openai.com/v1"
	}
	if len(cfg.STT.Models) == 0 {
		cfg.STT.Models = []string{"gpt-4o-transcribe", "gpt-4o-mini-transcribe", "whisper-1"}
	}
	if cfg.STT.Language == "" {
		cfg.STT.Language = "es"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.EmbeddingModel == "" {
		cfg.LLM.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.LLM.AnthropicModel == "" {
		cfg.LLM.AnthropicModel = "claude-sonnet-4-5"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}
	if cfg.Ingest.HeadTimeout == 0 {
		cfg.Ingest.HeadTimeout = 15 * time.Second
	}
	if cfg.Ingest.MaxFileBytes == 0 {
		cfg.Ingest.MaxFileBytes = 100 << 20
	}
	if cfg.Ingest.MaxTranscriptionBytes == 0 {
		cfg.Ingest.MaxTranscriptionBytes = 25 << 20
	}
	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = 50
	}
	if cfg.Sweeper.Schedule == "" {
		cfg.Sweeper.Schedule = "*/5 * * * *"
	}
}

func (c Config) validate() error {
	switch c.LLM.Provider {
	case "openai":
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("llm provider anthropic requires ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Ingest.MaxTranscriptionBytes > c.Ingest.MaxFileBytes {
		return fmt.Errorf("max_transcription_bytes (%d) exceeds max_file_bytes (%d)",
			c.Ingest.MaxTranscriptionBytes, c.Ingest.MaxFileBytes)
	}
	if c.Batch.Concurrency < 0 {
		return fmt.Errorf("batch concurrency must be positive, got %d", c.Batch.Concurrency)
	}
	return nil
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envOverrideInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envOverrideFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envOverrideDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
