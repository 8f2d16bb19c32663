// Package config loads the consumer's settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/glimte/email-consumer/internal/rabbitmq"
)

const (
	DefaultBrokerURL       = "amqp://localhost:5672"
	DefaultQueueName       = "send_email_queue"
	DefaultConnectTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultEnvFile         = ".env"
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete process configuration. It is loaded once by main
// and passed down; nothing below main reads the environment.
type Config struct {
	BrokerURL      string
	QueueName      string
	QueueDurable   bool
	AckMode        rabbitmq.AckMode
	PrefetchCount  int
	ConsumerTag    string
	ConnectTimeout time.Duration
	// ShutdownTimeout bounds teardown; zero waits for the broker indefinitely
	ShutdownTimeout time.Duration
	HealthInterval  time.Duration
	LogLevel        string
	LogFormat       string
}

// Default returns the configuration used when no variables are set
func Default() Config {
	return Config{
		BrokerURL:       DefaultBrokerURL,
		QueueName:       DefaultQueueName,
		AckMode:         rabbitmq.AckOnSuccess,
		ConsumerTag:     "email-consumer-" + uuid.New().String(),
		ConnectTimeout:  DefaultConnectTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// LoadEnvFile merges a .env file into the process environment without
// overriding variables that are already set. A missing file is only an error
// when required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the process environment
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}

	if v, ok := get("RABBITMQ_URL"); ok {
		cfg.BrokerURL = v
	}
	if v, ok := get("QUEUE_NAME"); ok {
		cfg.QueueName = v
	}
	if v, ok := get("CONSUMER_TAG"); ok {
		cfg.ConsumerTag = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v, ok := get("LOG_FORMAT"); ok {
		cfg.LogFormat = strings.ToLower(v)
	}

	var err error
	if v, ok := get("QUEUE_DURABLE"); ok {
		if cfg.QueueDurable, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("%w: QUEUE_DURABLE: %v", ErrInvalidConfig, err)
		}
	}
	if v, ok := get("ACK_MODE"); ok {
		if cfg.AckMode, err = rabbitmq.ParseAckMode(v); err != nil {
			return Config{}, fmt.Errorf("%w: ACK_MODE: %v", ErrInvalidConfig, err)
		}
	}
	if v, ok := get("PREFETCH_COUNT"); ok {
		if cfg.PrefetchCount, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("%w: PREFETCH_COUNT: %v", ErrInvalidConfig, err)
		}
	}
	if v, ok := get("CONNECT_TIMEOUT"); ok {
		if cfg.ConnectTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("%w: CONNECT_TIMEOUT: %v", ErrInvalidConfig, err)
		}
	}
	if v, ok := get("SHUTDOWN_TIMEOUT"); ok {
		if cfg.ShutdownTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("%w: SHUTDOWN_TIMEOUT: %v", ErrInvalidConfig, err)
		}
	}
	if v, ok := get("HEALTH_INTERVAL"); ok {
		if cfg.HealthInterval, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("%w: HEALTH_INTERVAL: %v", ErrInvalidConfig, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and formats
func (c Config) Validate() error {
	if !strings.HasPrefix(c.BrokerURL, "amqp://") && !strings.HasPrefix(c.BrokerURL, "amqps://") {
		return fmt.Errorf("%w: broker URL must use amqp:// or amqps://", ErrInvalidConfig)
	}
	if c.QueueName == "" {
		return fmt.Errorf("%w: queue name is empty", ErrInvalidConfig)
	}
	if c.PrefetchCount < 0 {
		return fmt.Errorf("%w: prefetch count must not be negative", ErrInvalidConfig)
	}
	if c.ConnectTimeout < 0 || c.ShutdownTimeout < 0 || c.HealthInterval < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}
