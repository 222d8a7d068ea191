package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration.
//
// Values are resolved in order: built-in defaults, the YAML config file,
// PIXELBOT_* environment variables, the unprefixed variable names used by
// earlier deployments (TELEGRAM_BOT_TOKEN, BFL_API_KEY, ...), then runtime
// overrides.
type Config struct {
	Environment string          `mapstructure:"environment" yaml:"environment"`
	Server      ServerConfig    `mapstructure:"server" yaml:"server"`
	Store       StoreConfig     `mapstructure:"store" yaml:"store"`
	Telegram    TelegramConfig  `mapstructure:"telegram" yaml:"telegram"`
	Image       ImageConfig     `mapstructure:"image" yaml:"image"`
	Admission   AdmissionConfig `mapstructure:"admission" yaml:"admission"`
	Stats       StatsConfig     `mapstructure:"stats" yaml:"stats"`
	Logging     LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Health      HealthConfig    `mapstructure:"health" yaml:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
	// TaskRetention bounds persisted task history; older rows are removed by
	// `history purge` and the serve janitor.
	TaskRetention time.Duration `mapstructure:"task_retention" yaml:"task_retention"`
}

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	BotToken    string        `mapstructure:"bot_token" yaml:"bot_token"`
	APIURL      string        `mapstructure:"api_url" yaml:"api_url"`
	PollTimeout time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	Debug       bool          `mapstructure:"debug" yaml:"debug"`
}

// ImageConfig configures generation providers and image handling.
type ImageConfig struct {
	// Provider selects the generator: bfl or openai.
	Provider         string        `mapstructure:"provider" yaml:"provider"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxSize          int64         `mapstructure:"max_size" yaml:"max_size"`
	SupportedFormats []string      `mapstructure:"supported_formats" yaml:"supported_formats"`
	Width            int           `mapstructure:"width" yaml:"width"`
	Height           int           `mapstructure:"height" yaml:"height"`
	// ProviderRequestsPerMinute overrides the provider host's outbound budget
	// when positive. PacingMargin scales the budget down by a ratio in (0, 1].
	ProviderRequestsPerMinute int          `mapstructure:"provider_requests_per_minute" yaml:"provider_requests_per_minute"`
	PacingMargin              float64      `mapstructure:"pacing_margin" yaml:"pacing_margin"`
	BFL                       BFLConfig    `mapstructure:"bfl" yaml:"bfl"`
	OpenAI                    OpenAIConfig `mapstructure:"openai" yaml:"openai"`
}

// BFLConfig configures the Black Forest Labs flux API.
type BFLConfig struct {
	APIKey           string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL          string `mapstructure:"base_url" yaml:"base_url"`
	Model            string `mapstructure:"model" yaml:"model"`
	SafetyTolerance  int    `mapstructure:"safety_tolerance" yaml:"safety_tolerance"`
	PromptUpsampling bool   `mapstructure:"prompt_upsampling" yaml:"prompt_upsampling"`
	OutputFormat     string `mapstructure:"output_format" yaml:"output_format"`
}

// OpenAIConfig configures the OpenAI images API.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	Model   string `mapstructure:"model" yaml:"model"`
	Size    string `mapstructure:"size" yaml:"size"`
	Quality string `mapstructure:"quality" yaml:"quality"`
}

// AdmissionConfig bounds request rate and concurrency.
type AdmissionConfig struct {
	MaxRequestsPerMinute int           `mapstructure:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	MaxActiveTasks       int           `mapstructure:"max_active_tasks" yaml:"max_active_tasks"`
	Window               time.Duration `mapstructure:"window" yaml:"window"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	Retention            time.Duration `mapstructure:"retention" yaml:"retention"`
}

// StatsConfig selects where admission events are counted.
type StatsConfig struct {
	// Backend is one of: none, memory, redis.
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Buffer  int         `mapstructure:"buffer" yaml:"buffer"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the redis stats backend.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	Password        string        `mapstructure:"password" yaml:"password"`
	DB              int           `mapstructure:"db" yaml:"db"`
	Prefix          string        `mapstructure:"prefix" yaml:"prefix"`
	TTL             time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Bucket          string        `mapstructure:"bucket" yaml:"bucket"`
	TrackRequestors bool          `mapstructure:"track_requestors" yaml:"track_requestors"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port" yaml:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// Validate checks the settings required to run the bot.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		errs = append(errs, errors.New("telegram.bot_token is required (TELEGRAM_BOT_TOKEN)"))
	}
	if err := c.ValidateImage(); err != nil {
		errs = append(errs, err)
	}
	if err := c.ValidateAdmission(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(c.Stats.Backend)) {
	case "", "none", "memory":
	case "redis":
		if strings.TrimSpace(c.Stats.Redis.Addr) == "" {
			errs = append(errs, errors.New("stats.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("stats.backend %q is not supported", c.Stats.Backend))
	}

	return errors.Join(errs...)
}

// ValidateImage checks provider settings only; `generate` needs no bot token.
func (c *Config) ValidateImage() error {
	switch strings.ToLower(strings.TrimSpace(c.Image.Provider)) {
	case "bfl":
		if strings.TrimSpace(c.Image.BFL.APIKey) == "" {
			return errors.New("image.bfl.api_key is required (BFL_API_KEY)")
		}
	case "openai":
		if strings.TrimSpace(c.Image.OpenAI.APIKey) == "" {
			return errors.New("image.openai.api_key is required (OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("image.provider %q is not supported", c.Image.Provider)
	}
	if c.Image.MaxSize <= 0 {
		return errors.New("image.max_size must be positive")
	}
	return nil
}

// ValidateAdmission checks the admission ceilings. A rate of zero is allowed
// and rejects every request; a task ceiling must be positive.
func (c *Config) ValidateAdmission() error {
	if c.Admission.MaxRequestsPerMinute < 0 {
		return errors.New("admission.max_requests_per_minute must not be negative")
	}
	if c.Admission.MaxActiveTasks <= 0 {
		return errors.New("admission.max_active_tasks must be positive")
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	out.Telegram.BotToken = redact(out.Telegram.BotToken)
	out.Image.BFL.APIKey = redact(out.Image.BFL.APIKey)
	out.Image.OpenAI.APIKey = redact(out.Image.OpenAI.APIKey)
	out.Store.AuthToken = redact(out.Store.AuthToken)
	out.Stats.Redis.Password = redact(out.Stats.Redis.Password)
	out.Image.SupportedFormats = append([]string(nil), c.Image.SupportedFormats...)
	return out
}

func redact(secret string) string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}
