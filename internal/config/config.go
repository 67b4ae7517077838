package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
)

const envPrefix = "R2DA_"

type Config struct {
	Primary     Primary           `koanf:"primary"`
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	EHRClient   EHRConfig         `koanf:"ehr_client"`
	Retry       RetryConfig       `koanf:"retry"`
	Logger      LoggerConfig      `koanf:"logger"`
	Worker      WorkerConfig      `koanf:"worker"`
	Redis       RedisConfig       `koanf:"redis"`
	Messaging   MessagingConfig   `koanf:"messaging"`
	Auth        AuthConfig        `koanf:"auth"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port         string        `koanf:"port" validate:"required"`
	PublicURL    string        `koanf:"public_url" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"required"`
}

type DatabaseConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"required"`
	User            string        `koanf:"user" validate:"required"`
	Password        string        `koanf:"password" validate:"required"`
	Name            string        `koanf:"name" validate:"required"`
	SSLMode         string        `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"required"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"required"`
}

// CoordinatorConfig holds the request lifecycle policy. Zero disables the
// corresponding check.
type CoordinatorConfig struct {
	MaxConcurrentRunningRequestPerDay int `koanf:"max_concurrent_running_request_per_day" validate:"min=0"`
	CacheDurationInDays               int `koanf:"cache_duration_in_days" validate:"min=0"`
}

type EHRConfig struct {
	BaseURL     string        `koanf:"base_url" validate:"required"`
	ConnTimeout time.Duration `koanf:"conn_timeout" validate:"required"`

	// ProvenanceAgent is the FHIR reference recorded as author of annotated bundles.
	ProvenanceAgent string `koanf:"provenance_agent"`
}

type RetryConfig struct {
	BaseDelay  int32 `koanf:"base_delay"`
	MaxRetries int32 `koanf:"max_retries"`
}

type LoggerConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type WorkerConfig struct {
	Interval   time.Duration `koanf:"interval" validate:"required"`
	BatchSize  int           `koanf:"batch_size" validate:"required"`
	StaleAfter time.Duration `koanf:"stale_after"`
}

// RedisConfig enables the distributed request lock when URL is set.
type RedisConfig struct {
	URL      string        `koanf:"url"`
	LockTTL  time.Duration `koanf:"lock_ttl"`
	LockWait time.Duration `koanf:"lock_wait"`
}

// MessagingConfig enables the AMQP notification consumer when URL is set.
type MessagingConfig struct {
	URL         string `koanf:"url"`
	Queue       string `koanf:"queue"`
	ConsumerTag string `koanf:"consumer_tag"`
}

type AuthConfig struct {
	SigningKey  string `koanf:"signing_key" validate:"required"`
	Issuer      string `koanf:"issuer"`
	CallbackKey string `koanf:"callback_key" validate:"required"`
}

func LoadConfig() (*Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	k := koanf.New(".")

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, envPrefix)),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		logger.Error("failed to load environment variables", "error", err)
		return nil, err
	}

	mainConfig := &Config{}

	err = k.Unmarshal("", mainConfig)
	if err != nil {
		logger.Error("could not unmarshal main config", "error", err)
		return nil, err
	}

	mainConfig.applyDefaults()

	validate := validator.New()

	err = validate.Struct(mainConfig)
	if err != nil {
		logger.Error("config validation failed", "error", err)
		return nil, err
	}

	return mainConfig, nil
}

func (c *Config) applyDefaults() {
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 30 * time.Second
	}
	if c.Redis.LockWait == 0 {
		c.Redis.LockWait = 5 * time.Second
	}
	if c.Messaging.Queue == "" {
		c.Messaging.Queue = "r2da.notifications"
	}
	if c.Messaging.ConsumerTag == "" {
		c.Messaging.ConsumerTag = "r2da-gateway"
	}
	if c.EHRClient.ProvenanceAgent == "" {
		c.EHRClient.ProvenanceAgent = "Organization/ehr-middleware"
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 1
	}
}
