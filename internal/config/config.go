package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Redis        RedisConfig        `yaml:"redis" mapstructure:"redis"`
	AMQP         AMQPConfig         `yaml:"amqp" mapstructure:"amqp"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Places       PlacesConfig       `yaml:"places" mapstructure:"places"`
	Jina         JinaConfig         `yaml:"jina" mapstructure:"jina"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Verify       VerifyConfig       `yaml:"verify" mapstructure:"verify"`
	Discovery    DiscoveryConfig    `yaml:"discovery" mapstructure:"discovery"`
	Acquisition  AcquisitionConfig  `yaml:"acquisition" mapstructure:"acquisition"`
	Confirmation ConfirmationConfig `yaml:"confirmation" mapstructure:"confirmation"`
	Renderer     RendererConfig     `yaml:"renderer" mapstructure:"renderer"`
	Screenshot   ScreenshotConfig   `yaml:"screenshot" mapstructure:"screenshot"`
	Retry        RetryConfig        `yaml:"retry" mapstructure:"retry"`
	Queue        QueueConfig        `yaml:"queue" mapstructure:"queue"`
	Progress     ProgressConfig     `yaml:"progress" mapstructure:"progress"`
	Sessions     SessionsConfig     `yaml:"sessions" mapstructure:"sessions"`
	Sweeper      SweeperConfig      `yaml:"sweeper" mapstructure:"sweeper"`
	Regions      RegionsConfig      `yaml:"regions" mapstructure:"regions"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Worker       WorkerConfig       `yaml:"worker" mapstructure:"worker"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" mapstructure:"telemetry"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// StoreConfig configures the database backend. The driver is inferred from
// the DSN prefix when empty.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=postgres sqlite"`
	DSN    string `yaml:"dsn" mapstructure:"dsn" validate:"required"`
}

// DriverName returns the configured driver, inferring it from the DSN when unset.
func (c StoreConfig) DriverName() string {
	if c.Driver != "" {
		return c.Driver
	}
	if strings.HasPrefix(c.DSN, "postgres://") || strings.HasPrefix(c.DSN, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// RedisConfig configures the shared Redis instance.
type RedisConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// Enabled returns true if any Redis endpoint is configured
func (c RedisConfig) Enabled() bool {
	return c.URL != "" || c.Addr != ""
}

// AMQPConfig configures RabbitMQ.
type AMQPConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
}

// ServerConfig configures the manager HTTP server.
type ServerConfig struct {
	Addr        string   `yaml:"addr" mapstructure:"addr"`
	APIToken    string   `yaml:"api_token" mapstructure:"api_token"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// PlacesConfig holds business-search provider settings.
type PlacesConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	MaxPages int    `yaml:"max_pages" mapstructure:"max_pages" validate:"min=1,max=10"`
}

// JinaConfig holds web-search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// AnthropicConfig holds evidence-oracle settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// VerifyConfig tunes the verification tiers.
type VerifyConfig struct {
	MinConfidence       float64       `yaml:"min_confidence" mapstructure:"min_confidence" validate:"gt=0,lte=1"`
	ProbeTimeout        time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	SearchTimeout       time.Duration `yaml:"search_timeout" mapstructure:"search_timeout"`
	DirectoryDomains    []string      `yaml:"directory_domains" mapstructure:"directory_domains"`
	OracleEnabled       bool          `yaml:"oracle_enabled" mapstructure:"oracle_enabled"`
	OracleMaxConfidence float64       `yaml:"oracle_max_confidence" mapstructure:"oracle_max_confidence" validate:"gte=0,lte=1"`
}

// DiscoveryConfig configures the discovery pool and its search throttle.
type DiscoveryConfig struct {
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1"`
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`
	Limiter     string        `yaml:"limiter" mapstructure:"limiter" validate:"oneof=local redis"`
}

// AcquisitionConfig configures the acquisition pool.
type AcquisitionConfig struct {
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RadiusM     int           `yaml:"radius_m" mapstructure:"radius_m" validate:"min=100"`
}

// ConfirmationConfig configures the confirmation pool.
type ConfirmationConfig struct {
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1"`
	MaxMemoryPercent float64 `yaml:"max_memory_percent" mapstructure:"max_memory_percent" validate:"gte=0,lte=100"`
}

// RendererConfig configures Tier 3 rendering.
type RendererConfig struct {
	Engine           string        `yaml:"engine" mapstructure:"engine" validate:"oneof=playwright chromedp"`
	Timeout          time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Headless         bool          `yaml:"headless" mapstructure:"headless"`
	MinContentLength int           `yaml:"min_content_length" mapstructure:"min_content_length"`
}

// ScreenshotConfig configures optional screenshot storage.
type ScreenshotConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	Region    string `yaml:"region" mapstructure:"region"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

// RetryConfig bounds retries of external calls.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// QueueConfig selects the job-queue backend.
type QueueConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=asynq memory"`
}

// ProgressConfig selects the progress-bus backend.
type ProgressConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory redis amqp noop"`
}

// SessionsConfig configures the stale-session monitor.
type SessionsConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after" mapstructure:"stale_after"`
	CheckInterval time.Duration `yaml:"check_interval" mapstructure:"check_interval"`
}

// SweeperConfig configures background zone dispatch.
type SweeperConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// RegionsConfig points at an optional region catalog file.
type RegionsConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// CacheConfig selects the status cache backend.
type CacheConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=redis memory none"`
}

// WorkerConfig configures a worker process.
type WorkerConfig struct {
	ID    string   `yaml:"id" mapstructure:"id"`
	Pools []string `yaml:"pools" mapstructure:"pools" validate:"dive,oneof=acquisition discovery confirmation"`
}

// TelemetryConfig toggles anonymous usage events.
type TelemetryConfig struct {
	Disabled bool   `yaml:"disabled" mapstructure:"disabled"`
	Key      string `yaml:"key" mapstructure:"key"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// Load reads configuration from .env, an optional config.yaml and the
// LEADSCOPE_* environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LEADSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(Config{}), "")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindEnv registers every mapstructure key of t with viper. Unmarshal only
// consults the environment for keys viper already knows, so keys without a
// default would otherwise ignore their LEADSCOPE_* variable.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnv(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.dsn", "leadscope.db")
	v.SetDefault("amqp.exchange", "leadscope.progress")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("places.base_url", "https://places.googleapis.com")
	v.SetDefault("places.max_pages", 3)
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("verify.min_confidence", 0.8)
	v.SetDefault("verify.probe_timeout", 5*time.Second)
	v.SetDefault("verify.search_timeout", 15*time.Second)
	v.SetDefault("verify.directory_domains", DefaultDirectoryDomains)
	v.SetDefault("verify.oracle_enabled", false)
	v.SetDefault("verify.oracle_max_confidence", 0.85)
	v.SetDefault("discovery.concurrency", 8)
	v.SetDefault("discovery.interval", time.Second)
	v.SetDefault("discovery.limiter", "local")
	v.SetDefault("acquisition.concurrency", 2)
	v.SetDefault("acquisition.timeout", 45*time.Second)
	v.SetDefault("acquisition.radius_m", 3000)
	v.SetDefault("confirmation.concurrency", 3)
	v.SetDefault("confirmation.max_memory_percent", 85.0)
	v.SetDefault("renderer.engine", "playwright")
	v.SetDefault("renderer.timeout", 30*time.Second)
	v.SetDefault("renderer.headless", true)
	v.SetDefault("renderer.min_content_length", 512)
	v.SetDefault("screenshot.prefix", "screenshots/")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", 500*time.Millisecond)
	v.SetDefault("retry.max_backoff", 30*time.Second)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("progress.backend", "memory")
	v.SetDefault("sessions.stale_after", 15*time.Minute)
	v.SetDefault("sessions.check_interval", time.Minute)
	v.SetDefault("sweeper.enabled", false)
	v.SetDefault("sweeper.interval", 30*time.Second)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("worker.pools", []string{"acquisition", "discovery", "confirmation"})
	v.SetDefault("telemetry.disabled", false)
	v.SetDefault("telemetry.endpoint", "https://eu.i.posthog.com")
}

// DefaultDirectoryDomains are registrable domains that list businesses but
// are never a business's own site.
var DefaultDirectoryDomains = []string{
	"yelp.com", "facebook.com", "instagram.com", "linkedin.com", "twitter.com", "x.com",
	"tripadvisor.com", "yellowpages.com", "bbb.org", "mapquest.com", "foursquare.com",
	"google.com", "apple.com", "nextdoor.com", "angi.com", "houzz.com", "thumbtack.com",
	"manta.com", "chamberofcommerce.com", "opentable.com", "doordash.com", "ubereats.com",
	"grubhub.com", "groupon.com", "wikipedia.org", "youtube.com", "tiktok.com",
}

var validate = validator.New()

// Validate checks field constraints declared in struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
