// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	BaseURL   string `yaml:"base_url"`   // public URL providers call back on
	FrontBase string `yaml:"front_base"` // storefront pages for redirect-return
	JWTSecret string `yaml:"jwt_secret"`
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

type YooKassaConfig struct {
	ShopID    string `yaml:"shop_id"`
	SecretKey string `yaml:"secret_key"`
}

type RobokassaConfig struct {
	MerchantLogin string `yaml:"merchant_login"`
	Password1     string `yaml:"password1"`
	Password2     string `yaml:"password2"`
	IsTest        bool   `yaml:"is_test"`
}

type PaymentConfig struct {
	// Provider selects the active gateway: yookassa | robokassa.
	Provider  string          `yaml:"provider"`
	YooKassa  YooKassaConfig  `yaml:"yookassa"`
	Robokassa RobokassaConfig `yaml:"robokassa"`
	// FallbackWindow bounds the amount+time matcher for notifications
	// without an order reference.
	FallbackWindow time.Duration `yaml:"fallback_window"`
}

type ProvisionerConfig struct {
	URL     string        `yaml:"url"` // xray mint service base URL
	Timeout time.Duration `yaml:"timeout"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
}

type PlanConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Price        int64  `yaml:"price"` // kopecks
	DurationDays int    `yaml:"duration_days"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Payment     PaymentConfig     `yaml:"payment"`
	Provisioner ProvisionerConfig `yaml:"provisioner"`
	Reconciler  ReconcilerConfig  `yaml:"reconciler"`
	Plans       []PlanConfig      `yaml:"plans"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML config, applies defaults and validates the
// fields nothing can run without.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.Payment.Provider == "" {
		cfg.Payment.Provider = "yookassa"
	}
	if cfg.Payment.FallbackWindow <= 0 {
		cfg.Payment.FallbackWindow = time.Hour
	}
	if cfg.Provisioner.Timeout <= 0 {
		cfg.Provisioner.Timeout = 15 * time.Second
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}
	if cfg.Reconciler.BatchSize <= 0 {
		cfg.Reconciler.BatchSize = 200
	}
	if len(cfg.Plans) == 0 {
		cfg.Plans = DefaultPlans()
	}

	// minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Server.JWTSecret == "" && !dev {
		return nil, errors.New("server.jwt_secret is required")
	}
	if cfg.Provisioner.URL == "" {
		return nil, errors.New("provisioner.url is required")
	}
	switch cfg.Payment.Provider {
	case "yookassa":
		if cfg.Payment.YooKassa.ShopID == "" || cfg.Payment.YooKassa.SecretKey == "" {
			return nil, errors.New("payment.yookassa.shop_id and secret_key are required")
		}
	case "robokassa":
		if cfg.Payment.Robokassa.MerchantLogin == "" || cfg.Payment.Robokassa.Password1 == "" || cfg.Payment.Robokassa.Password2 == "" {
			return nil, errors.New("payment.robokassa credentials are required")
		}
	default:
		return nil, fmt.Errorf("unknown payment.provider %q", cfg.Payment.Provider)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// DefaultPlans is the built-in catalog, matching the storefront pricing
// page (prices in kopecks).
func DefaultPlans() []PlanConfig {
	return []PlanConfig{
		{ID: "start", Name: "Старт", Price: 9900, DurationDays: 30},
		{ID: "premium", Name: "Премиум", Price: 19900, DurationDays: 90},
		{ID: "unlimited", Name: "Безлимит", Price: 59900, DurationDays: 365},
	}
}
