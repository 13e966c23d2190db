package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"orderbridge/internal/auth"
	"orderbridge/internal/breaker"
	"orderbridge/internal/integrations"
	"orderbridge/internal/validation"
)

// EnvPrefix prefixes every environment override, e.g. ORDERBRIDGE_HTTP_ADDR.
const EnvPrefix = "ORDERBRIDGE"

type Config struct {
	App             AppConfig                 `mapstructure:"app"`
	HTTP            HTTPConfig                `mapstructure:"http"`
	Auth            auth.Config               `mapstructure:"auth"`
	Database        DatabaseConfig            `mapstructure:"database"`
	Redis           RedisConfig               `mapstructure:"redis"`
	Validation      validation.Config         `mapstructure:"validation"`
	Transform       TransformConfig           `mapstructure:"transform"`
	BreakerDefaults breaker.Options           `mapstructure:"breaker_defaults"`
	Providers       map[string]ProviderConfig `mapstructure:"providers"`
	SeedFile        string                    `mapstructure:"seed_file"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

type HTTPConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig: an empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig: an empty URL keeps sync results in process.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type TransformConfig struct {
	DefaultTaxRate  float64 `mapstructure:"default_tax_rate"`
	ConflictRetries int     `mapstructure:"conflict_retries"`
}

type ProviderConfig struct {
	integrations.ProviderConfig `mapstructure:",squash"`

	Enabled       bool            `mapstructure:"enabled"`
	RatePerSecond float64         `mapstructure:"rate_per_second"`
	Burst         int             `mapstructure:"burst"`
	SyncInterval  time.Duration   `mapstructure:"sync_interval"`
	Breaker       breaker.Options `mapstructure:"breaker"`
}

// BreakerOptions merges the provider override onto the defaults field by field.
func (c *Config) BreakerOptions(providerID string) breaker.Options {
	opts := c.BreakerDefaults
	p, ok := c.Providers[providerID]
	if !ok {
		return opts
	}
	if p.Breaker.FailureThreshold > 0 {
		opts.FailureThreshold = p.Breaker.FailureThreshold
	}
	if p.Breaker.SuccessThreshold > 0 {
		opts.SuccessThreshold = p.Breaker.SuccessThreshold
	}
	if p.Breaker.OpenTimeout > 0 {
		opts.OpenTimeout = p.Breaker.OpenTimeout
	}
	if p.Breaker.MonitoringWindow > 0 {
		opts.MonitoringWindow = p.Breaker.MonitoringWindow
	}
	return opts
}

// EnabledProviders returns the enabled provider ids, sorted.
func (c *Config) EnabledProviders() []string {
	var ids []string
	for id, p := range c.Providers {
		if p.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func setDefaults(v *viper.Viper) {
	def := validation.DefaultConfig()
	v.SetDefault("app.name", "orderbridge")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.mode", "none")
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.hmac_secret", "")
	v.SetDefault("auth.role_claim", "role")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", 24*time.Hour)
	v.SetDefault("validation.phone_pattern", def.PhonePattern)
	v.SetDefault("validation.phone_prefixes", def.PhonePrefixes)
	v.SetDefault("validation.payment_methods", def.PaymentMethods)
	v.SetDefault("validation.order_types", def.OrderTypes)
	v.SetDefault("validation.tolerance", def.Tolerance)
	v.SetDefault("transform.default_tax_rate", 0.16)
	v.SetDefault("transform.conflict_retries", 3)
	v.SetDefault("breaker_defaults.failure_threshold", breaker.DefaultFailureThreshold)
	v.SetDefault("breaker_defaults.success_threshold", breaker.DefaultSuccessThreshold)
	v.SetDefault("breaker_defaults.open_timeout", breaker.DefaultOpenTimeout)
	v.SetDefault("breaker_defaults.monitoring_window", time.Duration(0))
	v.SetDefault("seed_file", "")
}

// Load reads the YAML file at path (optional) and overlays ORDERBRIDGE_*
// environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Name == "" {
		errs = append(errs, errors.New("app.name is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Transform.DefaultTaxRate < 0 {
		errs = append(errs, errors.New("transform.default_tax_rate must be >= 0"))
	}
	if _, err := auth.NewVerifier(c.Auth); err != nil {
		errs = append(errs, err)
	}
	if _, err := validation.New(c.Validation); err != nil {
		errs = append(errs, fmt.Errorf("validation: %w", err))
	}
	for _, id := range c.EnabledProviders() {
		p := c.Providers[id]
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.%s.base_url is required", id))
		}
		if p.WebhookSecret == "" {
			errs = append(errs, fmt.Errorf("providers.%s.webhook_secret is required", id))
		}
		if p.MerchantID == "" {
			errs = append(errs, fmt.Errorf("providers.%s.merchant_id is required", id))
		}
	}
	return errors.Join(errs...)
}
