package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"music-studio-bot/api/internal/expert"
	"music-studio-bot/api/internal/locale"
	"music-studio-bot/api/internal/logging"
)

type Config struct {
	Telegram TelegramConfig `koanf:"telegram"`
	Server   ServerConfig   `koanf:"server"`
	Catalog  CatalogConfig  `koanf:"catalog"`
	Expert   expert.Rates   `koanf:"expert"`
	Session  SessionConfig  `koanf:"session"`
	Database DatabaseConfig `koanf:"database"`
	Log      logging.Config `koanf:"log"`
}

type TelegramConfig struct {
	BotToken    string `koanf:"bot_token"`
	WebhookURL  string `koanf:"webhook_url"` // пусто — long polling
	PollTimeout int    `koanf:"poll_timeout"`
	Debug       bool   `koanf:"debug"`
}

type ServerConfig struct {
	Port string `koanf:"port"`
}

type CatalogConfig struct {
	Dir string `koanf:"dir"` // пусто — встроенные данные
}

type SessionConfig struct {
	Workers         int    `koanf:"workers"`
	QueueSize       int    `koanf:"queue_size"`
	DefaultLanguage string `koanf:"default_language"`
}

type DatabaseConfig struct {
	URL           string `koanf:"url"`            // пусто — история результатов отключена
	RetentionDays int    `koanf:"retention_days"` // 0 — хранить всё
}

// ConfigPathEnv переопределяет путь к YAML-файлу.
const ConfigPathEnv = "CONFIG_PATH"

var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

func defaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: 30},
		Server:   ServerConfig{Port: "8080"},
		Expert:   expert.DefaultRates(),
		Session: SessionConfig{
			Workers:         1,
			QueueSize:       64,
			DefaultLanguage: string(locale.UA),
		},
		Log: logging.Config{Level: "info", Format: "json"},
	}
}

// envKeys: переменная окружения -> путь koanf.
var envKeys = map[string]string{
	"telegram_bot_token":       "telegram.bot_token",
	"webhook_url":              "telegram.webhook_url",
	"telegram_webhook_url":     "telegram.webhook_url",
	"telegram_poll_timeout":    "telegram.poll_timeout",
	"telegram_debug":           "telegram.debug",
	"port":                     "server.port",
	"catalog_dir":              "catalog.dir",
	"expert_rate_gradation":    "expert.rate_gradation",
	"expert_probably_rate":     "expert.probably_rate",
	"expert_probably_no_rate":  "expert.probably_no_rate",
	"session_workers":          "session.workers",
	"session_queue_size":       "session.queue_size",
	"session_default_language": "session.default_language",
	"database_url":             "database.url",
	"database_retention_days":  "database.retention_days",
	"log_level":                "log.level",
	"log_format":               "log.format",
}

func envTransform(key string) string {
	return envKeys[strings.ToLower(key)]
}

// Load: дефолты -> YAML-файл (если есть) -> переменные окружения.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Telegram.BotToken = strings.TrimSpace(cfg.Telegram.BotToken)
	cfg.Telegram.WebhookURL = strings.TrimSpace(cfg.Telegram.WebhookURL)
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate проверяет то, без чего бот не стартует.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.BotToken == "" {
		errs = append(errs, errors.New("missing required env TELEGRAM_BOT_TOKEN"))
	}
	if err := c.Expert.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Session.Workers < 1 {
		errs = append(errs, fmt.Errorf("session.workers must be >= 1, got %d", c.Session.Workers))
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("database.retention_days must be >= 0, got %d", c.Database.RetentionDays))
	}
	if _, ok := locale.ParseTag(c.Session.DefaultLanguage); !ok {
		errs = append(errs, fmt.Errorf("unknown session.default_language %q", c.Session.DefaultLanguage))
	}
	return errors.Join(errs...)
}
