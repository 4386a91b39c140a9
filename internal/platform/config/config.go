package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	errNegativeDuration = errors.New("duration must not be negative")
	errNonPositive      = errors.New("value must be positive")
	errThresholdRange   = errors.New("alert threshold must be within (0, 100]")
)

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"local"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Storage
	DataDir      string `env:"DATA_DIR" envDefault:"./data"`
	ProfilesFile string `env:"PROFILES_FILE" envDefault:"profiles.json"`
	ScheduleFile string `env:"SCHEDULE_FILE" envDefault:"schedule.json"`
	BackupDir    string `env:"BACKUP_DIR" envDefault:"backups"`
	BackupKeep   int    `env:"BACKUP_KEEP" envDefault:"10"`
	PostgresDSN  string `env:"POSTGRES_DSN"`

	// Scheduler
	SchedulerPollInterval  time.Duration `env:"SCHEDULER_POLL_INTERVAL" envDefault:"30s"`
	SchedulerErrorBackoff  time.Duration `env:"SCHEDULER_ERROR_BACKOFF" envDefault:"5m"`
	SchedulerCatchupWindow time.Duration `env:"SCHEDULER_CATCHUP_WINDOW" envDefault:"0s"`

	// Search
	AlertThreshold float64       `env:"ALERT_THRESHOLD" envDefault:"90"`
	MailSources    []string      `env:"MAIL_SOURCES" envSeparator:","`
	SearchLookback time.Duration `env:"SEARCH_LOOKBACK" envDefault:"0s"`

	// SMTP dispatch
	SMTPHost          string   `env:"SMTP_HOST"`
	SMTPPort          int      `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername      string   `env:"SMTP_USERNAME"`
	SMTPPassword      string   `env:"SMTP_PASSWORD"`
	SMTPFrom          string   `env:"SMTP_FROM"`
	SMTPRatePerMinute int      `env:"SMTP_RATE_PER_MINUTE" envDefault:"30"`
	ReportRecipients  []string `env:"REPORT_RECIPIENTS" envSeparator:","`

	// Telegram dispatch
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   int64  `env:"TELEGRAM_CHAT_ID"`

	HealthPort int `env:"HEALTH_PORT" envDefault:"8080"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	applyAliases(cfg)
	cfg.MailSources = compact(cfg.MailSources)
	cfg.ReportRecipients = compact(cfg.ReportRecipients)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SchedulerPollInterval <= 0 {
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL: %w", errNonPositive)
	}

	if c.SchedulerErrorBackoff <= 0 {
		return fmt.Errorf("SCHEDULER_ERROR_BACKOFF: %w", errNonPositive)
	}

	if c.SchedulerCatchupWindow < 0 {
		return fmt.Errorf("SCHEDULER_CATCHUP_WINDOW: %w", errNegativeDuration)
	}

	if c.SearchLookback < 0 {
		return fmt.Errorf("SEARCH_LOOKBACK: %w", errNegativeDuration)
	}

	if c.BackupKeep <= 0 {
		return fmt.Errorf("BACKUP_KEEP: %w", errNonPositive)
	}

	if c.AlertThreshold <= 0 || c.AlertThreshold > 100 {
		return fmt.Errorf("ALERT_THRESHOLD: %w", errThresholdRange)
	}

	return nil
}

// ProfilesPath returns the collection file path inside the data directory.
func (c *Config) ProfilesPath() string {
	return c.resolve(c.ProfilesFile)
}

// SchedulePath returns the schedule configuration file path.
func (c *Config) SchedulePath() string {
	return c.resolve(c.ScheduleFile)
}

// BackupPath returns the snapshot directory.
func (c *Config) BackupPath() string {
	return c.resolve(c.BackupDir)
}

// SMTPEnabled reports whether e-mail dispatch is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// TelegramEnabled reports whether Telegram dispatch is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

func (c *Config) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}

	return filepath.Join(c.DataDir, name)
}

// applyAliases maps the older variable names still found in deployed .env files.
func applyAliases(cfg *Config) {
	if !hasEnv("SMTP_USERNAME") {
		setStringFromEnv("SMTP_USER", &cfg.SMTPUsername)
	}

	if !hasEnv("TELEGRAM_BOT_TOKEN") {
		setStringFromEnv("BOT_TOKEN", &cfg.TelegramBotToken)
	}

	if !hasEnv("SCHEDULER_POLL_INTERVAL") {
		setDurationFromEnv("SCHEDULER_TICK_INTERVAL", &cfg.SchedulerPollInterval)
	}
}

func hasEnv(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func setStringFromEnv(key string, target *string) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	val = strings.TrimSpace(val)
	if val == "" {
		return
	}

	*target = val
}

func setDurationFromEnv(key string, target *time.Duration) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	parsed, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return
	}

	*target = parsed
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))

	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	return out
}
