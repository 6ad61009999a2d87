// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	PublicBaseURL  string        `yaml:"public_base_url"` // used to build provider callback URLs
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type SecurityConfig struct {
	TokenSigningKey string        `yaml:"token_signing_key"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	EncryptionKey   string        `yaml:"encryption_key"` // AES key for callback audit payloads
	AdminAPIKey     string        `yaml:"admin_api_key"`
}

type MpesaConfig struct {
	Environment      string        `yaml:"environment"` // sandbox | production | fake
	ConsumerKey      string        `yaml:"consumer_key"`
	ConsumerSecret   string        `yaml:"consumer_secret"`
	ShortCode        string        `yaml:"short_code"`
	Passkey          string        `yaml:"passkey"`
	TransactionType  string        `yaml:"transaction_type"`
	AccountReference string        `yaml:"account_reference"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	BreakerFailures  uint32        `yaml:"breaker_failures"` // consecutive failures that open the breaker
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

type WalletConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ServiceToken string        `yaml:"service_token"`
	Timeout      time.Duration `yaml:"timeout"`
}

type NotifyConfig struct {
	BaseURL string        `yaml:"base_url"` // empty logs notifications instead of sending them
	Timeout time.Duration `yaml:"timeout"`
	Workers int           `yaml:"workers"`
}

type AlertsConfig struct {
	TelegramToken string        `yaml:"telegram_token"` // empty logs alerts instead
	ChatIDs       []int64       `yaml:"chat_ids"`
	Timeout       time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	RepairInterval   time.Duration `yaml:"repair_interval"`
	RepairStaleAfter time.Duration `yaml:"repair_stale_after"`
	ReminderInterval time.Duration `yaml:"reminder_interval"`
	ReminderDays     int           `yaml:"reminder_days"`
}

type RateLimitConfig struct {
	Initiations int           `yaml:"initiations"`
	Window      time.Duration `yaml:"window"`
}

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Security  SecurityConfig  `yaml:"security"`
	Mpesa     MpesaConfig     `yaml:"mpesa"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Notify    NotifyConfig    `yaml:"notify"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Language  string          `yaml:"language"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. An optional .env next to the process is loaded
// first and ${VAR} placeholders are expanded from the environment.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse expands, decodes, defaults and validates a raw YAML document.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	cfg.HTTP.PublicBaseURL = strings.TrimRight(cfg.HTTP.PublicBaseURL, "/")
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Security.TokenTTL <= 0 {
		cfg.Security.TokenTTL = 15 * time.Minute
	}
	if cfg.Mpesa.Environment == "" {
		cfg.Mpesa.Environment = "sandbox"
	}
	if cfg.Mpesa.TransactionType == "" {
		cfg.Mpesa.TransactionType = "CustomerPayBillOnline"
	}
	if cfg.Mpesa.AccountReference == "" {
		cfg.Mpesa.AccountReference = "Subscription"
	}
	if cfg.Mpesa.RequestTimeout <= 0 {
		cfg.Mpesa.RequestTimeout = 30 * time.Second
	}
	if cfg.Mpesa.BreakerFailures == 0 {
		cfg.Mpesa.BreakerFailures = 5
	}
	if cfg.Mpesa.BreakerCooldown <= 0 {
		cfg.Mpesa.BreakerCooldown = 30 * time.Second
	}
	if cfg.Wallet.Timeout <= 0 {
		cfg.Wallet.Timeout = 10 * time.Second
	}
	if cfg.Notify.Timeout <= 0 {
		cfg.Notify.Timeout = 5 * time.Second
	}
	if cfg.Alerts.Timeout <= 0 {
		cfg.Alerts.Timeout = 10 * time.Second
	}
	if cfg.Notify.Workers <= 0 {
		cfg.Notify.Workers = 4
	}
	if cfg.Scheduler.RepairInterval <= 0 {
		cfg.Scheduler.RepairInterval = time.Minute
	}
	if cfg.Scheduler.RepairStaleAfter <= 0 {
		cfg.Scheduler.RepairStaleAfter = 2 * time.Minute
	}
	if cfg.Scheduler.ReminderInterval <= 0 {
		cfg.Scheduler.ReminderInterval = time.Hour
	}
	if cfg.Scheduler.ReminderDays <= 0 {
		cfg.Scheduler.ReminderDays = 7
	}
	if cfg.RateLimit.Initiations <= 0 {
		cfg.RateLimit.Initiations = 3
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
}

// Minimal validation
func (cfg *Config) validate() error {
	if len(cfg.Security.TokenSigningKey) < 32 {
		return errors.New("security.token_signing_key must be at least 32 bytes")
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.HTTP.PublicBaseURL == "" {
		return errors.New("http.public_base_url is required")
	}
	switch cfg.Mpesa.Environment {
	case "fake":
	case "sandbox", "production":
		if cfg.Mpesa.ShortCode == "" || cfg.Mpesa.Passkey == "" {
			return errors.New("mpesa.short_code and mpesa.passkey are required")
		}
		if cfg.Mpesa.ConsumerKey == "" || cfg.Mpesa.ConsumerSecret == "" {
			return errors.New("mpesa.consumer_key and mpesa.consumer_secret are required")
		}
	default:
		return fmt.Errorf("mpesa.environment %q is not one of sandbox|production|fake", cfg.Mpesa.Environment)
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
