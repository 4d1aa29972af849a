// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// missing env files are fine in development
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	v.SetConfigFile(fmt.Sprintf("./configs/%s.yaml", env))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets come from the environment, never from the YAML files.
	_ = v.BindEnv("bot.token", "BOT_TOKEN")
	_ = v.BindEnv("gateway.secret_key", "QIWI_SECRET_KEY")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("sentry.dsn", "SENTRY_DSN")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.AppEnv = env

	applyDefaults(&cfg)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, v, nil
}

// WatchLogLevel reloads the logger level when the config file changes on disk.
func WatchLogLevel(v *viper.Viper, level *slog.LevelVar, log *slog.Logger) {
	if v == nil || level == nil {
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if err := v.ReadInConfig(); err != nil {
			if log != nil {
				log.Warn("config reload failed", slog.String("file", e.Name), slog.Any("error", err))
			}
			return
		}

		newLevel := ParseLevel(v.GetString("logger.level"))
		if newLevel != level.Level() {
			level.Set(newLevel)
			if log != nil {
				log.Info("log level changed", slog.String("level", newLevel.String()))
			}
		}
	})
	v.WatchConfig()
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Mode == "" {
		cfg.Bot.Mode = "polling"
	}
	if cfg.Bot.Timeout == 0 {
		cfg.Bot.Timeout = 10 * time.Second
	}
	if cfg.Gateway.BaseURL == "" {
		cfg.Gateway.BaseURL = "https://api.qiwi.com/partner/bill/v1"
	}
	if cfg.Gateway.BillLifetime == 0 {
		cfg.Gateway.BillLifetime = 5 * time.Minute
	}
	if cfg.Gateway.RequestTimeout == 0 {
		cfg.Gateway.RequestTimeout = 10 * time.Second
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = time.Hour
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = 10 * time.Minute
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}
	if cfg.I18n.DefaultLang == "" {
		cfg.I18n.DefaultLang = "ru"
	}
	if cfg.I18n.Dir == "" {
		cfg.I18n.Dir = "internal/i18n/locales"
	}
}
