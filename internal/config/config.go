package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything needed to boot the alert pipeline. Secrets
// (passwords, API keys, tokens) are accepted from environment only.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Zabbix   ZabbixConfig   `yaml:"zabbix"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Telegram TelegramConfig `yaml:"telegram"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the dashboard HTTP/WebSocket listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	// DashboardToken is the shared secret presented by dashboard and
	// realtime clients. Environment only.
	DashboardToken string `yaml:"-"`
}

// ZabbixConfig configures access to the monitoring source JSON-RPC API.
type ZabbixConfig struct {
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"-"`
	Timeout  time.Duration `yaml:"timeout"`
}

// OpenAIConfig configures the enrichment provider.
type OpenAIConfig struct {
	APIKey      string        `yaml:"-"`
	BaseURL     string        `yaml:"baseURL"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"maxTokens"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TelegramConfig configures the chat notification channel. Leaving the
// bot token or chat ID empty disables notifications.
type TelegramConfig struct {
	BotToken string        `yaml:"-"`
	ChatID   string        `yaml:"chatID"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PipelineConfig controls polling cadence and pipeline behaviour.
type PipelineConfig struct {
	PollInterval      time.Duration `yaml:"pollInterval"`
	BatchLimit        int           `yaml:"batchLimit"`
	EnrichConcurrency int           `yaml:"enrichConcurrency"`
	SinkTimeout       time.Duration `yaml:"sinkTimeout"`
	FailureCooldown   time.Duration `yaml:"failureCooldown"`
	CacheSize         int           `yaml:"cacheSize"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file plus environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ALERTDECK_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Validate reports startup-fatal configuration problems.
func (c *Config) Validate() error {
	if c.Zabbix.URL == "" {
		return fmt.Errorf("zabbix.url is required")
	}
	if c.Zabbix.Username == "" || c.Zabbix.Password == "" {
		return fmt.Errorf("zabbix credentials are required (ALERTDECK_ZABBIX_USERNAME / ALERTDECK_ZABBIX_PASSWORD)")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai API key is required (ALERTDECK_OPENAI_API_KEY)")
	}
	if c.Server.DashboardToken == "" {
		return fmt.Errorf("dashboard token is required (ALERTDECK_DASHBOARD_TOKEN)")
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("pipeline.pollInterval must be positive")
	}
	if c.Pipeline.CacheSize <= 0 {
		return fmt.Errorf("pipeline.cacheSize must be positive")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Zabbix: ZabbixConfig{
			Timeout: 5 * time.Second,
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o-mini",
			MaxTokens:   120,
			Temperature: 0.1,
			Timeout:     20 * time.Second,
		},
		Telegram: TelegramConfig{
			Timeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			PollInterval:      4 * time.Second,
			BatchLimit:        50,
			EnrichConcurrency: 4,
			SinkTimeout:       10 * time.Second,
			FailureCooldown:   10 * time.Minute,
			CacheSize:         500,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALERTDECK_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ALERTDECK_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("ALERTDECK_DASHBOARD_TOKEN"); v != "" {
		cfg.Server.DashboardToken = v
	}
	if v := os.Getenv("ALERTDECK_ZABBIX_URL"); v != "" {
		cfg.Zabbix.URL = v
	}
	if v := os.Getenv("ALERTDECK_ZABBIX_USERNAME"); v != "" {
		cfg.Zabbix.Username = v
	}
	if v := os.Getenv("ALERTDECK_ZABBIX_PASSWORD"); v != "" {
		cfg.Zabbix.Password = v
	}
	if v := os.Getenv("ALERTDECK_ZABBIX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Zabbix.Timeout = d
		}
	}
	if v := os.Getenv("ALERTDECK_OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("ALERTDECK_OPENAI_BASE_URL"); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := os.Getenv("ALERTDECK_OPENAI_MODEL"); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := os.Getenv("ALERTDECK_OPENAI_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.OpenAI.MaxTokens = n
		}
	}
	if v := os.Getenv("ALERTDECK_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("ALERTDECK_TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("ALERTDECK_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.PollInterval = d
		}
	}
	if v := os.Getenv("ALERTDECK_BATCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.BatchLimit = n
		}
	}
	if v := os.Getenv("ALERTDECK_ENRICH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.EnrichConcurrency = n
		}
	}
	if v := os.Getenv("ALERTDECK_FAILURE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.FailureCooldown = d
		}
	}
	if v := os.Getenv("ALERTDECK_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.CacheSize = n
		}
	}
	if v := os.Getenv("ALERTDECK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ALERTDECK_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
}
