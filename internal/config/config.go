package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendAWS    = "aws"
)

// Event publishers.
const (
	EventsLog   = "log"
	EventsSQS   = "sqs"
	EventsKafka = "kafka"
)

// Config is the process configuration, read from the environment.
type Config struct {
	ServiceName string
	LogLevel    string
	Port        string
	RunLocal    bool

	Backend          string
	ProductsTable    string
	OrdersTable      string
	UsersTable       string
	IdempotencyTable string
	IdempotencyTTL   time.Duration
	RedisAddr        string
	RedisKeyPrefix   string
	SeedFile         string

	StockMaxAttempts int

	EventsBackend string
	QueueURL      string
	KafkaBrokers  []string
	KafkaTopic    string

	OTelEndpoint     string
	MetricsNamespace string
}

// Load reads the configuration and checks that the selected backends have
// what they need.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "shop-orderflow"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnv("PORT", "8080"),
		RunLocal:    getEnv("RUN_LOCAL", "false") == "true",

		Backend:          strings.ToLower(getEnv("BACKEND", BackendMemory)),
		ProductsTable:    getEnv("PRODUCTS_TABLE", "products"),
		OrdersTable:      getEnv("ORDERS_TABLE", "orders"),
		UsersTable:       getEnv("USERS_TABLE", "users"),
		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", "idempotency"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisKeyPrefix:   getEnv("REDIS_KEY_PREFIX", "shop:"),
		SeedFile:         os.Getenv("SEED_FILE"),

		EventsBackend: strings.ToLower(getEnv("EVENTS_BACKEND", EventsLog)),
		QueueURL:      os.Getenv("ORDERS_QUEUE_URL"),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "order-events"),

		OTelEndpoint:     os.Getenv("OTEL_ENDPOINT"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "ShopOrderflow"),
	}

	ttl, err := time.ParseDuration(getEnv("IDEMPOTENCY_TTL", "24h"))
	if err != nil || ttl <= 0 {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_TTL: invalid duration %q", os.Getenv("IDEMPOTENCY_TTL")))
	}
	cfg.IdempotencyTTL = ttl

	attempts, err := strconv.Atoi(getEnv("STOCK_MAX_ATTEMPTS", "5"))
	if err != nil || attempts < 1 {
		errs = append(errs, fmt.Errorf("STOCK_MAX_ATTEMPTS: must be a positive integer"))
	}
	cfg.StockMaxAttempts = attempts

	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	switch cfg.Backend {
	case BackendMemory:
	case BackendAWS:
		if cfg.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the aws backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("BACKEND: unknown backend %q", cfg.Backend))
	}

	switch cfg.EventsBackend {
	case EventsLog:
	case EventsSQS:
		if cfg.QueueURL == "" {
			errs = append(errs, errors.New("ORDERS_QUEUE_URL is required for sqs events"))
		}
	case EventsKafka:
		if len(cfg.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for kafka events"))
		}
	default:
		errs = append(errs, fmt.Errorf("EVENTS_BACKEND: unknown publisher %q", cfg.EventsBackend))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NeedsAWS reports whether any configured component talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.Backend == BackendAWS || c.EventsBackend == EventsSQS
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
