package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Corpus     CorpusConfig     `mapstructure:"corpus"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type UpstreamConfig struct {
	// BaseURL points at the generativelanguage API root.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is the server-side fallback credential used when a request
	// carries no key of its own. Never required.
	APIKey         string        `mapstructure:"api_key"`
	EmbedModel     string        `mapstructure:"embed_model"`
	DefaultModels  []string      `mapstructure:"default_models"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// MaxRPS/Burst bound total outbound call volume across all callers.
	MaxRPS float64 `mapstructure:"max_rps"`
	Burst  int     `mapstructure:"burst"`
}

type RetrievalConfig struct {
	// Mode selects the retrieval client: local, http, or exec.
	Mode     string        `mapstructure:"mode"`
	Endpoint string        `mapstructure:"endpoint"`
	Command  []string      `mapstructure:"command"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type CorpusConfig struct {
	// Dir holds nec.jsonl and wattmonk.jsonl, produced by the offline
	// ingestion pipeline.
	Dir string `mapstructure:"dir"`
}

type MemoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Interval throttles summarization to every Nth message.
	Interval int `mapstructure:"interval"`
	// Window is how many trailing turns feed the summary.
	Window int `mapstructure:"window"`
}

type CacheConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxEntries int  `mapstructure:"max_entries"`
}

type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Dir             string   `mapstructure:"dir"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment variable overrides
	viper.BindEnv("upstream.api_key", "GOOGLE_API_KEY")
	viper.BindEnv("upstream.base_url", "UPSTREAM_BASE_URL")
	viper.BindEnv("retrieval.mode", "RETRIEVAL_MODE")
	viper.BindEnv("retrieval.endpoint", "RETRIEVAL_ENDPOINT")
	viper.BindEnv("server.addr", "SERVER_ADDR")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	// Long write timeout so streamed generations are not cut off mid-relay.
	viper.SetDefault("server.write_timeout", 300*time.Second)
	viper.SetDefault("upstream.base_url", "https://generativelanguage.googleapis.com")
	viper.SetDefault("upstream.embed_model", "text-embedding-004")
	viper.SetDefault("upstream.default_models", []string{"gemini-1.5-flash", "gemini-1.5-pro"})
	viper.SetDefault("upstream.request_timeout", 60*time.Second)
	viper.SetDefault("upstream.max_rps", 10.0)
	viper.SetDefault("upstream.burst", 20)
	viper.SetDefault("retrieval.mode", "local")
	viper.SetDefault("retrieval.timeout", 20*time.Second)
	viper.SetDefault("corpus.dir", "data/corpus")
	viper.SetDefault("memory.enabled", false)
	viper.SetDefault("memory.interval", 6)
	viper.SetDefault("memory.window", 20)
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.max_entries", 100)
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests_per_window", 10)
	viper.SetDefault("rate_limit.window", time.Minute)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("i18n.default_language", "en")
	viper.SetDefault("i18n.languages", []string{"en"})
	viper.SetDefault("i18n.dir", "configs/i18n")
}

func validateConfig(cfg *Config) error {
	if cfg.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base_url is required")
	}
	if len(cfg.Upstream.DefaultModels) == 0 {
		return fmt.Errorf("at least one default model is required")
	}
	switch cfg.Retrieval.Mode {
	case "local", "http", "exec":
	default:
		return fmt.Errorf("unknown retrieval mode: %s", cfg.Retrieval.Mode)
	}
	if cfg.Retrieval.Mode == "http" && cfg.Retrieval.Endpoint == "" {
		return fmt.Errorf("retrieval endpoint is required in http mode")
	}
	if cfg.Retrieval.Mode == "exec" && len(cfg.Retrieval.Command) == 0 {
		return fmt.Errorf("retrieval command is required in exec mode")
	}
	if cfg.Cache.Enabled && cfg.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be positive when the cache is enabled")
	}
	return nil
}
