package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"

	"coffeebot/internal/models"
	"coffeebot/internal/validation"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `json:"database" envconfig:"DATABASE"`
	Matching  MatchingConfig  `json:"matching" envconfig:"MATCHING"`
	Zulip     ZulipConfig     `json:"zulip" envconfig:"ZULIP"`
	Notifier  NotifierConfig  `json:"notifier" envconfig:"NOTIFIER"`
	Redis     RedisConfig     `json:"redis" envconfig:"REDIS"`
	Kafka     KafkaConfig     `json:"kafka" envconfig:"KAFKA"`
	Tracing   TracingConfig   `json:"tracing" envconfig:"TRACING"`
	RateLimit RateLimitConfig `json:"rate_limit" envconfig:"RATE_LIMIT"`
	Log       LogConfig       `json:"log" envconfig:"LOG"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port string `json:"port" split_words:"true" validate:"required"`
	Host string `json:"host" split_words:"true"`
	// Max request body size in bytes
	MaxRequestBodySize int64 `json:"max_request_body_size" split_words:"true" validate:"gt=0"`
	// Allowed CORS origins
	AllowedOrigins []string `json:"allowed_origins" split_words:"true"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path" split_words:"true" validate:"required"`
}

// MatchingConfig holds everything a run needs to decide who meets whom.
type MatchingConfig struct {
	// Weekdays used for users without an explicit preference, e.g. "12345".
	DefaultDays string `json:"default_days" split_words:"true"`
	// Shared secret expected in the "secret" header of POST /cron/run.
	RunSecret string `json:"run_secret" split_words:"true" validate:"required"`
	// Identities that absorb the odd participant out.
	FallbackEmails []string `json:"fallback_emails" split_words:"true" validate:"required,min=1,dive,required"`
	// IANA zone used to decide what "today" is.
	Timezone string `json:"timezone" split_words:"true" validate:"required"`
	// Optional cron expression for in-process runs; empty disables the scheduler.
	Schedule string `json:"schedule" split_words:"true"`
	// Upper bound on a single run, also used as the run lock TTL.
	RunTimeout time.Duration `json:"run_timeout" split_words:"true" validate:"gt=0"`
}

// ZulipConfig holds the chat-platform credentials and roster scope.
type ZulipConfig struct {
	Realm    string `json:"realm" split_words:"true" validate:"required,url"`
	Username string `json:"username" split_words:"true" validate:"required"`
	APIKey   string `json:"api_key" split_words:"true" validate:"required"`
	// Stream whose subscribers make up the roster.
	StreamID int `json:"stream_id" split_words:"true" validate:"gt=0"`
	// Token Zulip includes in outgoing-webhook payloads; empty skips the check.
	WebhookToken string `json:"webhook_token" split_words:"true"`
}

// NotifierConfig selects where notifications go.
type NotifierConfig struct {
	Kind        string        `json:"kind" split_words:"true" validate:"oneof=zulip amqp log"`
	AMQPURL     string        `json:"amqp_url" envconfig:"AMQP_URL"`
	Exchange    string        `json:"exchange" split_words:"true"`
	SendTimeout time.Duration `json:"send_timeout" split_words:"true" validate:"gt=0"`
}

// RedisConfig enables the distributed run lock when Addr is set.
type RedisConfig struct {
	Addr     string `json:"addr" split_words:"true"`
	Password string `json:"password" split_words:"true"`
	DB       int    `json:"db" split_words:"true" validate:"gte=0"`
}

// KafkaConfig enables the event sink when Brokers is set.
type KafkaConfig struct {
	Brokers []string `json:"brokers" split_words:"true"`
	Topic   string   `json:"topic" split_words:"true"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" split_words:"true"`
	Endpoint    string `json:"endpoint" split_words:"true"`
	Environment string `json:"environment" split_words:"true"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" split_words:"true"`
	Rate    int  `json:"rate" split_words:"true"`
	Window  int  `json:"window" split_words:"true"` // in seconds
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Mode  string `json:"mode" split_words:"true"`
	Level string `json:"level" split_words:"true"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               "8080",
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Path: "./.data/sqlite.db",
		},
		Matching: MatchingConfig{
			DefaultDays: "12345",
			Timezone:    "UTC",
			RunTimeout:  5 * time.Minute,
		},
		Notifier: NotifierConfig{
			Kind:        "zulip",
			Exchange:    "coffee.notifications",
			SendTimeout: 10 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic: "coffee.events",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
		},
		Log: LogConfig{
			Mode:  "dev",
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from defaults, an optional JSON file and
// environment variables, in that order of increasing precedence.
func LoadConfig(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Only variables that are set override; unset ones keep file/default values.
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.DefaultDays(); err != nil {
		return fmt.Errorf("invalid MATCHING_DEFAULT_DAYS: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid MATCHING_TIMEZONE: %w", err)
	}
	if c.Matching.Schedule != "" {
		if _, err := cron.ParseStandard(c.Matching.Schedule); err != nil {
			return fmt.Errorf("invalid MATCHING_SCHEDULE: %w", err)
		}
	}
	if c.Notifier.Kind == "amqp" && c.Notifier.AMQPURL == "" {
		return fmt.Errorf("amqp url is required for the amqp notifier")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka topic is required when brokers are set")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	return nil
}

// DefaultDays parses the configured default day set. An empty string yields
// an empty set, which means users without a preference are never matched.
func (c *Config) DefaultDays() (models.DaySet, error) {
	return validation.ParseStoredDays(c.Matching.DefaultDays)
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Matching.Timezone)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
