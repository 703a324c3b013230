package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Sapo      SapoConfig
	Browser   BrowserConfig
	Shopee    ShopeeConfig
	Express   ExpressConfig
	Promotion PromotionConfig
	Redis     RedisConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string `validate:"oneof=development testing production"`
	Port string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SapoConfig holds Sapo credentials and session manager tuning
type SapoConfig struct {
	CoreBaseURL          string `validate:"required,url"`
	MarketplaceBaseURL   string `validate:"required,url"`
	LoginURL             string `validate:"required,url"`
	Username             string
	Password             string
	StaffID              string `validate:"required,numeric"` // Staff whose scopes endpoint probes the marketplace token
	AccountID            string `validate:"required,numeric"` // Marketplace accountId query parameter
	ConnectionIDs        []string
	CoreTokenFile        string        `validate:"required"`
	MarketplaceTokenFile string        `validate:"required"`
	TokenTTL             time.Duration // Captured tokens older than this are not trusted
	LoginWait            time.Duration `validate:"gt=0"` // How long a caller waits for a concurrent login
	WaitPoll             time.Duration `validate:"gt=0"` // Poll interval while waiting
	LoginTimeout         time.Duration `validate:"gt=0"` // Hard limit for one browser login
	AuthRetries          int           `validate:"gte=0,lte=5"`
	RetryBackoff         time.Duration
	ShortBodyThreshold   int           `validate:"gte=0"` // OK bodies below this size are treated as auth failures
	RequestTimeout       time.Duration `validate:"gt=0"`
	DefaultLocationID    int64
	ServerID             string
	PrinterName          string // Consumed by the label printing subsystem
}

// BrowserConfig holds headless Chrome settings for the login driver
type BrowserConfig struct {
	RemoteURL string // DevTools websocket of a remote Chrome; empty launches a local one
	Headless  bool
	NoSandbox bool
	Timeout   time.Duration `validate:"gt=0"`
	UserAgent string
}

// ShopeeConfig holds Shopee merchant API settings
type ShopeeConfig struct {
	BaseURL        string `validate:"required,url"`
	ShopsFile      string `validate:"required"`
	RequestTimeout time.Duration
}

// ExpressConfig holds express-order reconciler settings
type ExpressConfig struct {
	Enabled        bool
	Interval       time.Duration `validate:"gt=0"`
	Limit          int           `validate:"gte=1,lte=250"`
	MinAge         time.Duration `validate:"gt=0"` // Unprepared orders older than this get a pickup slot
	CallDelay      time.Duration `validate:"gte=0"`
	DeadlineMargin time.Duration `validate:"gte=0"`
	CarrierIDs     []string
	LocationID     int64 // Only orders of this Sapo location; 0 processes every location
	Timezone       string `validate:"required"`
	WeekdayStart   int    `validate:"gte=0,lte=24"`
	WeekdayEnd     int    `validate:"gte=0,lte=24"`
	SundayStart    int    `validate:"gte=0,lte=24"`
	SundayEnd      int    `validate:"gte=0,lte=24"`
}

// PromotionConfig holds promotion catalogue settings
type PromotionConfig struct {
	CacheFile string `validate:"required"`
	PageSize  int    `validate:"gte=1,lte=250"`
}

// RedisConfig holds Redis connection settings.
// Redis is optional: it shares tokens and the login lock across replicas.
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
	LockTTL   time.Duration
}

// AuthConfig holds operator authentication for the /api/v1 endpoints
type AuthConfig struct {
	Enabled   bool
	Secret    string        // HMAC key for operator tokens
	Issuer    string
	TokenTTL  time.Duration `validate:"gt=0"`
	Operators []string      `validate:"dive,contains=:"` // name:bcrypt-hash pairs
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled               bool          // Whether to enable tracing
	MetricsEnabled        bool          // Whether to export metrics
	CollectorEndpoint     string        // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio         float64       // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName           string        // Service name for traces
	Insecure              bool          // Use insecure (non-TLS) connection (development only)
	MetricsExportInterval time.Duration // Default: 60s
}

// MinAuthSecretLength is the shortest accepted auth.secret
const MinAuthSecretLength = 32

// DefaultExpressCarrierIDs are the Sapo shipping carrier ids of same-day carriers
var DefaultExpressCarrierIDs = []string{
	"134097", "1285481", "108346", "17426", "60176", "1283785", "1285470",
	"1292451", "35696", "47741", "14895", "1272209", "176002",
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with OPS_ prefix (e.g., OPS_SAPO_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	// Set config file settings
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Enable environment variable override
	v.SetEnvPrefix("OPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans cannot be defaulted after the fact
	v.SetDefault("browser.headless", true)
	v.SetDefault("express.enabled", true)
	v.SetDefault("auth.enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
		},
		Sapo: SapoConfig{
			CoreBaseURL:          v.GetString("sapo.core_base_url"),
			MarketplaceBaseURL:   v.GetString("sapo.marketplace_base_url"),
			LoginURL:             v.GetString("sapo.login_url"),
			Username:             v.GetString("sapo.username"),
			Password:             v.GetString("sapo.password"),
			StaffID:              v.GetString("sapo.staff_id"),
			AccountID:            v.GetString("sapo.account_id"),
			ConnectionIDs:        v.GetStringSlice("sapo.connection_ids"),
			CoreTokenFile:        v.GetString("sapo.core_token_file"),
			MarketplaceTokenFile: v.GetString("sapo.marketplace_token_file"),
			TokenTTL:             v.GetDuration("sapo.token_ttl"),
			LoginWait:            v.GetDuration("sapo.login_wait"),
			WaitPoll:             v.GetDuration("sapo.wait_poll"),
			LoginTimeout:         v.GetDuration("sapo.login_timeout"),
			AuthRetries:          v.GetInt("sapo.auth_retries"),
			RetryBackoff:         v.GetDuration("sapo.retry_backoff"),
			ShortBodyThreshold:   v.GetInt("sapo.short_body_threshold"),
			RequestTimeout:       v.GetDuration("sapo.request_timeout"),
			DefaultLocationID:    v.GetInt64("sapo.default_location_id"),
			ServerID:             v.GetString("sapo.server_id"),
			PrinterName:          v.GetString("sapo.printer_name"),
		},
		Browser: BrowserConfig{
			RemoteURL: v.GetString("browser.remote_url"),
			Headless:  v.GetBool("browser.headless"),
			NoSandbox: v.GetBool("browser.no_sandbox"),
			Timeout:   v.GetDuration("browser.timeout"),
			UserAgent: v.GetString("browser.user_agent"),
		},
		Shopee: ShopeeConfig{
			BaseURL:        v.GetString("shopee.base_url"),
			ShopsFile:      v.GetString("shopee.shops_file"),
			RequestTimeout: v.GetDuration("shopee.request_timeout"),
		},
		Express: ExpressConfig{
			Enabled:        v.GetBool("express.enabled"),
			Interval:       v.GetDuration("express.interval"),
			Limit:          v.GetInt("express.limit"),
			MinAge:         v.GetDuration("express.min_age"),
			CallDelay:      v.GetDuration("express.call_delay"),
			DeadlineMargin: v.GetDuration("express.deadline_margin"),
			CarrierIDs:     v.GetStringSlice("express.carrier_ids"),
			LocationID:     v.GetInt64("express.location_id"),
			Timezone:       v.GetString("express.timezone"),
			WeekdayStart:   v.GetInt("express.weekday_start"),
			WeekdayEnd:     v.GetInt("express.weekday_end"),
			SundayStart:    v.GetInt("express.sunday_start"),
			SundayEnd:      v.GetInt("express.sunday_end"),
		},
		Promotion: PromotionConfig{
			CacheFile: v.GetString("promotion.cache_file"),
			PageSize:  v.GetInt("promotion.page_size"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
			LockTTL:   v.GetDuration("redis.lock_ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:               v.GetBool("telemetry.enabled"),
			MetricsEnabled:        v.GetBool("telemetry.metrics_enabled"),
			CollectorEndpoint:     v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:         v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:           v.GetString("telemetry.service_name"),
			Insecure:              v.GetBool("telemetry.insecure"),
			MetricsExportInterval: v.GetDuration("telemetry.metrics_export_interval"),
		},
		Auth: AuthConfig{
			Enabled:   v.GetBool("auth.enabled"),
			Secret:    v.GetString("auth.secret"),
			Issuer:    v.GetString("auth.issuer"),
			TokenTTL:  v.GetDuration("auth.token_ttl"),
			Operators: v.GetStringSlice("auth.operators"),
		},
	}

	// Apply defaults for empty values
	applyDefaults(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "opscore"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// Write timeout covers a caller blocked on a concurrent login
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 150 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}

	// Sapo defaults
	if cfg.Sapo.CoreBaseURL == "" {
		cfg.Sapo.CoreBaseURL = "https://sisapsan.mysapogo.com/admin"
	}
	if cfg.Sapo.MarketplaceBaseURL == "" {
		cfg.Sapo.MarketplaceBaseURL = "https://market-place.sapoapps.vn"
	}
	if cfg.Sapo.LoginURL == "" {
		cfg.Sapo.LoginURL = strings.TrimSuffix(cfg.Sapo.CoreBaseURL, "/") + "/authorization/login"
	}
	if cfg.Sapo.StaffID == "" {
		cfg.Sapo.StaffID = "319911"
	}
	if cfg.Sapo.AccountID == "" {
		cfg.Sapo.AccountID = cfg.Sapo.StaffID
	}
	if cfg.Sapo.CoreTokenFile == "" {
		cfg.Sapo.CoreTokenFile = "logs/sapo_core_token.json"
	}
	if cfg.Sapo.MarketplaceTokenFile == "" {
		cfg.Sapo.MarketplaceTokenFile = "logs/sapo_marketplace_token.json"
	}
	if cfg.Sapo.TokenTTL == 0 {
		cfg.Sapo.TokenTTL = 6 * time.Hour
	}
	if cfg.Sapo.LoginWait == 0 {
		cfg.Sapo.LoginWait = 120 * time.Second
	}
	if cfg.Sapo.WaitPoll == 0 {
		cfg.Sapo.WaitPoll = 2 * time.Second
	}
	if cfg.Sapo.LoginTimeout == 0 {
		cfg.Sapo.LoginTimeout = 3 * time.Minute
	}
	if cfg.Sapo.AuthRetries == 0 {
		cfg.Sapo.AuthRetries = 2
	}
	if cfg.Sapo.RetryBackoff == 0 {
		cfg.Sapo.RetryBackoff = time.Second
	}
	if cfg.Sapo.ShortBodyThreshold == 0 {
		cfg.Sapo.ShortBodyThreshold = 200
	}
	if cfg.Sapo.RequestTimeout == 0 {
		cfg.Sapo.RequestTimeout = 60 * time.Second
	}

	// Browser defaults
	if cfg.Browser.Timeout == 0 {
		cfg.Browser.Timeout = 90 * time.Second
	}
	if cfg.Browser.UserAgent == "" {
		cfg.Browser.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}

	// Shopee defaults
	if cfg.Shopee.BaseURL == "" {
		cfg.Shopee.BaseURL = "https://banhang.shopee.vn/api/v3"
	}
	if cfg.Shopee.ShopsFile == "" {
		cfg.Shopee.ShopsFile = "logs/shopee_shops.json"
	}
	if cfg.Shopee.RequestTimeout == 0 {
		cfg.Shopee.RequestTimeout = 30 * time.Second
	}

	// Express defaults
	if cfg.Express.Interval == 0 {
		cfg.Express.Interval = 5 * time.Minute
	}
	if cfg.Express.Limit == 0 {
		cfg.Express.Limit = 50
	}
	if cfg.Express.MinAge == 0 {
		cfg.Express.MinAge = 50 * time.Minute
	}
	if cfg.Express.CallDelay == 0 {
		cfg.Express.CallDelay = 2 * time.Second
	}
	if cfg.Express.DeadlineMargin == 0 {
		cfg.Express.DeadlineMargin = 30 * time.Second
	}
	if len(cfg.Express.CarrierIDs) == 0 {
		cfg.Express.CarrierIDs = append([]string(nil), DefaultExpressCarrierIDs...)
	}
	if cfg.Express.Timezone == "" {
		cfg.Express.Timezone = "Asia/Ho_Chi_Minh"
	}
	if cfg.Express.WeekdayStart == 0 && cfg.Express.WeekdayEnd == 0 {
		cfg.Express.WeekdayStart, cfg.Express.WeekdayEnd = 8, 20
	}
	if cfg.Express.SundayStart == 0 && cfg.Express.SundayEnd == 0 {
		cfg.Express.SundayStart, cfg.Express.SundayEnd = 10, 18
	}

	// Promotion defaults
	if cfg.Promotion.CacheFile == "" {
		cfg.Promotion.CacheFile = "logs/promotions_cache.json"
	}
	if cfg.Promotion.PageSize == 0 {
		cfg.Promotion.PageSize = 250
	}

	// Redis defaults
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "opscore:"
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 5 * time.Minute
	}

	// Auth defaults
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "opscore"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 12 * time.Hour
	}

	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "opscore"
	}
	if cfg.Telemetry.MetricsExportInterval == 0 {
		cfg.Telemetry.MetricsExportInterval = 60 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Sapo.WaitPoll >= c.Sapo.LoginWait {
		return fmt.Errorf("sapo.wait_poll (%s) must be shorter than sapo.login_wait (%s)",
			c.Sapo.WaitPoll, c.Sapo.LoginWait)
	}
	if c.Express.DeadlineMargin >= c.Express.Interval {
		return fmt.Errorf("express.deadline_margin (%s) must be shorter than express.interval (%s)",
			c.Express.DeadlineMargin, c.Express.Interval)
	}
	if c.Express.WeekdayStart >= c.Express.WeekdayEnd {
		return fmt.Errorf("express.weekday_start must be before express.weekday_end")
	}
	if c.Express.SundayStart >= c.Express.SundayEnd {
		return fmt.Errorf("express.sunday_start must be before express.sunday_end")
	}
	if _, err := time.LoadLocation(c.Express.Timezone); err != nil {
		return fmt.Errorf("express.timezone: %w", err)
	}

	if c.Auth.Enabled && len(c.Auth.Secret) < MinAuthSecretLength {
		return fmt.Errorf("auth.secret must be at least %d characters when auth is enabled", MinAuthSecretLength)
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Sapo.Username == "" || c.Sapo.Password == "" {
			return fmt.Errorf("sapo.username and sapo.password are required in production")
		}
		if !c.Auth.Enabled {
			return fmt.Errorf("auth.enabled cannot be false in production")
		}
		if len(c.Auth.Operators) == 0 {
			return fmt.Errorf("auth.operators must list at least one operator in production")
		}
		if !c.Browser.Headless && c.Browser.RemoteURL == "" {
			return fmt.Errorf("browser.headless must be true in production unless a remote browser is used")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// Location returns the reconciler's time zone
func (e *ExpressConfig) Location() *time.Location {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RedisAddr returns host:port
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
