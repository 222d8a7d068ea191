// Package config provides centralized configuration management for pixelbot.
//
// Configuration is layered with viper: built-in defaults, then an optional
// YAML file (explicit path or the XDG config dir), then environment
// variables, then runtime overrides. Decoding goes through mapstructure with
// duration and list hooks.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/pixelbot/pixelbot/internal/admission"
	"github.com/pixelbot/pixelbot/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// legacyEnv maps config keys to the unprefixed variable names of earlier
// deployments. They are consulted after the PIXELBOT_* form.
var legacyEnv = map[string]string{
	"telegram.bot_token":                "TELEGRAM_BOT_TOKEN",
	"telegram.api_url":                  "TELEGRAM_API_URL",
	"image.bfl.api_key":                 "BFL_API_KEY",
	"image.bfl.base_url":                "BFL_BASE_URL",
	"image.openai.api_key":              "OPENAI_API_KEY",
	"image.max_size":                    "MAX_IMAGE_SIZE",
	"store.url":                         "DATABASE_URL",
	"admission.max_requests_per_minute": "MAX_REQUESTS_PER_MINUTE",
	"admission.max_active_tasks":        "MAX_ACTIVE_TASKS",
	"logging.level":                     "LOG_LEVEL",
	"server.port":                       "PORT",
	"environment":                       "ENVIRONMENT",
}

// Options controls how Load resolves its sources.
type Options struct {
	// ConfigFile is an explicit config file path. When empty the default
	// XDG location is used if it exists.
	ConfigFile string
	// Overrides are applied last, keyed by dotted config path.
	Overrides map[string]any
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.task_retention", "168h")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.api_url", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", "30s")
	v.SetDefault("telegram.debug", false)

	v.SetDefault("image.provider", "bfl")
	v.SetDefault("image.timeout", "300s")
	v.SetDefault("image.poll_interval", "2s")
	v.SetDefault("image.max_size", 10*1024*1024)
	v.SetDefault("image.supported_formats", []string{"jpg", "jpeg", "png", "webp"})
	v.SetDefault("image.width", 1024)
	v.SetDefault("image.height", 768)
	v.SetDefault("image.provider_requests_per_minute", 0)
	v.SetDefault("image.pacing_margin", 1.0)
	v.SetDefault("image.bfl.api_key", "")
	v.SetDefault("image.bfl.base_url", "https://api.bfl.ai")
	v.SetDefault("image.bfl.model", "flux-pro-1.1")
	v.SetDefault("image.bfl.safety_tolerance", 2)
	v.SetDefault("image.bfl.prompt_upsampling", false)
	v.SetDefault("image.bfl.output_format", "jpeg")
	v.SetDefault("image.openai.api_key", "")
	v.SetDefault("image.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("image.openai.model", "gpt-image-1")
	v.SetDefault("image.openai.size", "1024x1024")
	v.SetDefault("image.openai.quality", "auto")

	v.SetDefault("admission.max_requests_per_minute", admission.DefaultMaxRequestsPerMinute)
	v.SetDefault("admission.max_active_tasks", admission.DefaultMaxActiveTasks)
	v.SetDefault("admission.window", "1m")
	v.SetDefault("admission.cleanup_interval", "1m")
	v.SetDefault("admission.retention", "10m")

	v.SetDefault("stats.backend", "memory")
	v.SetDefault("stats.buffer", 1024)
	v.SetDefault("stats.redis.addr", "")
	v.SetDefault("stats.redis.password", "")
	v.SetDefault("stats.redis.db", 0)
	v.SetDefault("stats.redis.prefix", "pixelbot:admission")
	v.SetDefault("stats.redis.ttl", "24h")
	v.SetDefault("stats.redis.bucket", "minute")
	v.SetDefault("stats.redis.track_requestors", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)
}

// NewViper returns a viper instance with defaults, env bindings and the
// config file (if any) applied.
func NewViper(opts Options) (*viper.Viper, error) {
	identity := appid.Get()

	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(strings.TrimSuffix(identity.EnvPrefix, "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	prefix := identity.EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	for key, legacy := range legacyEnv {
		prefixed := prefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	v.SetConfigType("yaml")
	switch {
	case strings.TrimSpace(opts.ConfigFile) != "":
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	default:
		if path := DefaultConfigPath(); path != "" {
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("read config %s: %w", path, err)
				}
			} else if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("stat config %s: %w", path, err)
			}
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}
	return v, nil
}

// Load resolves the configuration and stores it for GetConfig.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, opts Options) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err := NewViper(opts)
	if err != nil {
		return nil, err
	}

	cfg, err := Decode(v)
	if err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Decode unmarshals v into a Config.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	cfg.Image.Provider = strings.ToLower(strings.TrimSpace(cfg.Image.Provider))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.Get().ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appid.Get().ConfigName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	identity := appid.Get()
	dataDir := gfconfig.GetAppDataDir(identity.ConfigName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + identity.BinaryName + ".db"
	}
	return filepath.Join(dataDir, identity.BinaryName+".db")
}
