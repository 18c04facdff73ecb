package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	Database DatabaseConfig
	DataFile string

	CustomerServiceURL string
	ProductServiceURL  string
	Gateway            GatewayConfig
	Breaker            BreakerConfig

	KafkaBrokers        []string
	KafkaTopicPrefix    string
	EventPublishTimeout time.Duration
}

type DatabaseConfig struct {
	Driver         string
	DSN            string
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	ConnectTimeout time.Duration
}

type GatewayConfig struct {
	Timeout       time.Duration
	MaxAttempts   int
	Backoff       time.Duration
	MaxBackoff    time.Duration
	HealthTimeout time.Duration
}

type BreakerConfig struct {
	MaxFailures int
	Timeout     time.Duration
}

// Load reads the configuration from the environment. When envFile is set
// its variables are loaded first; a missing file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	p := &parser{}
	cfg := &Config{
		Port:      getEnv("ORDER_SERVICE_PORT", "5004"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		Database: DatabaseConfig{
			Driver:         getEnv("DB_DRIVER", "postgres"),
			DSN:            os.Getenv("DB_DSN"),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "orderservice"),
			Password:       getEnv("DB_PASSWORD", "orderservice"),
			Name:           getEnv("DB_NAME", "order_db"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			ConnectTimeout: p.duration("DB_CONNECT_TIMEOUT", 5*time.Second),
		},
		DataFile:           getEnv("ORDER_DATA_FILE", "data/orders.json"),
		CustomerServiceURL: strings.TrimRight(getEnv("CUSTOMER_SERVICE_URL", "http://localhost:5000"), "/"),
		ProductServiceURL:  strings.TrimRight(getEnv("PRODUCT_SERVICE_URL", "http://localhost:5002"), "/"),
		Gateway: GatewayConfig{
			Timeout:       p.duration("GATEWAY_TIMEOUT", 5*time.Second),
			MaxAttempts:   p.integer("GATEWAY_MAX_ATTEMPTS", 3),
			Backoff:       p.duration("GATEWAY_BACKOFF", time.Second),
			MaxBackoff:    p.duration("GATEWAY_MAX_BACKOFF", 10*time.Second),
			HealthTimeout: p.duration("HEALTH_TIMEOUT", 2*time.Second),
		},
		Breaker: BreakerConfig{
			MaxFailures: p.integer("BREAKER_MAX_FAILURES", 5),
			Timeout:     p.duration("BREAKER_TIMEOUT", 30*time.Second),
		},
		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicPrefix:    getEnv("KAFKA_TOPIC_PREFIX", "order"),
		EventPublishTimeout: p.duration("EVENT_PUBLISH_TIMEOUT", 2*time.Second),
	}
	if p.err != nil {
		return nil, p.err
	}

	switch cfg.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}
	if cfg.Gateway.MaxAttempts < 1 {
		return nil, fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be at least 1, got %d", cfg.Gateway.MaxAttempts)
	}

	return cfg, nil
}

// DataSourceName returns DB_DSN when set, otherwise a postgres keyword/value
// connection string built from the individual settings.
func (c DatabaseConfig) DataSourceName() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type parser struct {
	err error
}

func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return defaultValue
	}
	return d
}

func (p *parser) integer(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return defaultValue
	}
	return n
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
