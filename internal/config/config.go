package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ChargeStrategy selects how per-line charges are assigned to service lines.
type ChargeStrategy string

const (
	// ChargeExtracted uses the per-line charge the extraction stage pulled
	// from the source documents, defaulting to zero for unknown codes.
	ChargeExtracted ChargeStrategy = "extracted"
	// ChargeEqualSplit divides the claim total evenly across service lines.
	ChargeEqualSplit ChargeStrategy = "equal_split"
	// ChargeZero leaves every line at 0.00 for manual entry.
	ChargeZero ChargeStrategy = "zero"
)

// Config holds the full process configuration.
type Config struct {
	Port        string `mapstructure:"port" yaml:"port"`
	Env         string `mapstructure:"env" yaml:"env"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	UploadDir   string `mapstructure:"upload_dir" yaml:"upload_dir"`

	OpenAI   OpenAIConfig   `mapstructure:"openai" yaml:"openai"`
	Parser   ParserConfig   `mapstructure:"parser" yaml:"parser"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// OpenAIConfig configures the chat and embedding clients.
type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	ChatModel      string        `mapstructure:"chat_model" yaml:"chat_model"`
	EmbeddingModel string        `mapstructure:"embedding_model" yaml:"embedding_model"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// ParserConfig configures the external OCR/parse service client.
type ParserConfig struct {
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// ParseDelay is the fixed throttle between cold parses, to stay
	// under upstream rate limits.
	ParseDelay time.Duration `mapstructure:"parse_delay" yaml:"parse_delay"`
}

// WorkerConfig sizes the background job pool.
type WorkerConfig struct {
	Count     int `mapstructure:"count" yaml:"count"`
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// PipelineConfig holds pipeline tuning knobs.
type PipelineConfig struct {
	ChargeStrategy ChargeStrategy `mapstructure:"charge_strategy" yaml:"charge_strategy"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Port:      "8000",
		Env:       "development",
		UploadDir: "./uploads",
		OpenAI: OpenAIConfig{
			ChatModel:      "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Timeout:        60 * time.Second,
			RetryDelay:     5 * time.Second,
		},
		Parser: ParserConfig{
			BaseURL:      "https://api.cloud.llamaindex.ai/api/v1/parsing",
			PollInterval: 2 * time.Second,
			ParseDelay:   time.Second,
		},
		Worker: WorkerConfig{
			Count:     4,
			QueueSize: 64,
		},
		Pipeline: PipelineConfig{
			ChargeStrategy: ChargeExtracted,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Load reads configuration from the optional config file and CLAIMPILOT_*
// environment variables, layered over the defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("port", def.Port)
	v.SetDefault("env", def.Env)
	v.SetDefault("upload_dir", def.UploadDir)
	v.SetDefault("openai.chat_model", def.OpenAI.ChatModel)
	v.SetDefault("openai.embedding_model", def.OpenAI.EmbeddingModel)
	v.SetDefault("openai.timeout", def.OpenAI.Timeout)
	v.SetDefault("openai.retry_delay", def.OpenAI.RetryDelay)
	v.SetDefault("parser.base_url", def.Parser.BaseURL)
	v.SetDefault("parser.poll_interval", def.Parser.PollInterval)
	v.SetDefault("parser.parse_delay", def.Parser.ParseDelay)
	v.SetDefault("worker.count", def.Worker.Count)
	v.SetDefault("worker.queue_size", def.Worker.QueueSize)
	v.SetDefault("pipeline.charge_strategy", string(def.Pipeline.ChargeStrategy))
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.pretty", def.Log.Pretty)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("claimpilot")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CLAIMPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine; env vars and defaults still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures deep inside the pipeline.
func (c *Config) Validate() error {
	switch c.Pipeline.ChargeStrategy {
	case ChargeExtracted, ChargeEqualSplit, ChargeZero:
	default:
		return fmt.Errorf("unknown charge strategy: %q (supported: extracted, equal_split, zero)", c.Pipeline.ChargeStrategy)
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Worker.Count)
	}
	return nil
}
