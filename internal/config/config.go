package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every generic override, e.g.
// NOTEKEEPER_SCHEDULER__DISPATCH_INTERVAL=5m.
const EnvPrefix = "NOTEKEEPER_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Notify    NotifyConfig    `koanf:"notify"`
	SMS       SMSConfig       `koanf:"sms"`
	Email     EmailConfig     `koanf:"email"`
	Browser   BrowserConfig   `koanf:"browser"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Console   ConsoleConfig   `koanf:"console"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	GinMode         string        `koanf:"gin_mode"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

type SchedulerConfig struct {
	Enabled          bool          `koanf:"enabled"`
	DispatchInterval time.Duration `koanf:"dispatch_interval"`
	StatusInterval   time.Duration `koanf:"status_interval"`
	DispatchWindow   time.Duration `koanf:"dispatch_window"`
	RunOnStart       bool          `koanf:"run_on_start"`
}

type NotifyConfig struct {
	Timezone        string        `koanf:"timezone"`
	DateLayout      string        `koanf:"date_layout"`
	Timeout         time.Duration `koanf:"timeout"`
	SMSScheduleLead time.Duration `koanf:"sms_schedule_lead"`
}

// SMSConfig holds Twilio credentials. Scheduled sends need a messaging
// service SID; immediate sends work with either it or FromNumber.
type SMSConfig struct {
	AccountSID          string  `koanf:"account_sid"`
	AuthToken           string  `koanf:"auth_token"`
	FromNumber          string  `koanf:"from_number"`
	MessagingServiceSID string  `koanf:"messaging_service_sid"`
	BaseURL             string  `koanf:"base_url"`
	RatePerSecond       float64 `koanf:"rate_per_second"`
}

type EmailConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	StartTLS bool   `koanf:"starttls"`
}

// BrowserConfig selects the browser inbox backend. An empty RedisAddr
// keeps the inbox in process memory.
type BrowserConfig struct {
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix"`
}

type AlertsConfig struct {
	Telegram TelegramConfig `koanf:"telegram"`
}

type TelegramConfig struct {
	BotToken string `koanf:"bot_token"`
	ChatID   string `koanf:"chat_id"`
	BaseURL  string `koanf:"base_url"`
}

// Enabled reports whether operator alerts can be delivered.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

type ConsoleConfig struct {
	ServerURL     string `koanf:"server_url"`
	OwnerID       string `koanf:"owner_id"`
	ColoredOutput bool   `koanf:"colored_output"`
	HistoryFile   string `koanf:"history_file"`
}

// wellKnownEnv maps provider-conventional variables onto config keys.
var wellKnownEnv = map[string]string{
	"TWILIO_ACCOUNT_SID":           "sms.account_sid",
	"TWILIO_AUTH_TOKEN":            "sms.auth_token",
	"TWILIO_PHONE_NUMBER":          "sms.from_number",
	"TWILIO_MESSAGING_SERVICE_SID": "sms.messaging_service_sid",
	"EMAIL_HOST":                   "email.host",
	"EMAIL_PORT":                   "email.port",
	"EMAIL_USER":                   "email.username",
	"EMAIL_PASS":                   "email.password",
	"EMAIL_FROM":                   "email.from",
	"REDIS_ADDR":                   "browser.redis_addr",
	"TELEGRAM_BOT_TOKEN":           "alerts.telegram.bot_token",
	"TELEGRAM_CHAT_ID":             "alerts.telegram.chat_id",
}

func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		configPath = expandPath(configPath)

		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	for name, key := range wellKnownEnv {
		if v := os.Getenv(name); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Console.HistoryFile = expandPath(cfg.Console.HistoryFile)

	return &cfg, nil
}

// envKey turns NOTEKEEPER_SCHEDULER__DISPATCH_INTERVAL into
// scheduler.dispatch_interval.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Scheduler.DispatchInterval <= 0 {
		return fmt.Errorf("scheduler dispatch_interval must be positive")
	}
	if c.Scheduler.StatusInterval <= 0 {
		return fmt.Errorf("scheduler status_interval must be positive")
	}
	if c.Scheduler.DispatchWindow <= 0 {
		return fmt.Errorf("scheduler dispatch_window must be positive")
	}

	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify timeout must be positive")
	}
	if _, err := time.LoadLocation(c.Notify.Timezone); err != nil {
		return fmt.Errorf("invalid notify timezone %q: %w", c.Notify.Timezone, err)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s (supported: text, json)", c.Log.Format)
	}

	switch c.Server.GinMode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("unknown gin mode: %s (supported: debug, release, test)", c.Server.GinMode)
	}

	if c.SMS.RatePerSecond < 0 {
		return fmt.Errorf("sms rate_per_second must not be negative")
	}

	return nil
}

// Location returns the time zone used to render due dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Notify.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SlogLevel parses the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %s", l.Level)
}

func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	return path
}
