package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64
	LogLevel           string

	StorageBackend string
	RedisAddr      string
	RedisPassword  string
	RedisTTL       time.Duration
	MongoURI       string
	MongoDBName    string
	SQLitePath     string
	MigrationsPath string
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string

	CheckoutURL     string
	CheckoutTimeout time.Duration
	PriceCatalog    map[string]int64

	KafkaBrokers        []string
	KafkaCheckoutTopic  string
	KafkaCompletedTopic string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		MaxRequestBodySize: 1 << 20, // 1MB
		LogLevel:           getEnv("LOG_LEVEL", "info"),

		StorageBackend: strings.ToLower(getEnv("STORAGE_BACKEND", BackendMemory)),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:    getEnv("MONGO_DB_NAME", "cartdb"),
		SQLitePath:     getEnv("SQLITE_PATH", "./carts.db"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "./internal/storage/migrations"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", "postgres"),
		DBName:         getEnv("DB_NAME", "merch"),

		CheckoutURL: getEnv("CHECKOUT_URL", ""),

		KafkaCheckoutTopic:  getEnv("KAFKA_CHECKOUT_TOPIC", "checkout-intents"),
		KafkaCompletedTopic: getEnv("KAFKA_COMPLETED_TOPIC", "checkout-completed"),
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.CheckoutTimeout, err = getDuration("CHECKOUT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RedisTTL, err = getDuration("REDIS_TTL", 0); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = strconv.Atoi(getEnv("DB_PORT", "5432")); err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	if cfg.PriceCatalog, err = ParseCatalog(os.Getenv("CART_PRICE_CATALOG")); err != nil {
		return nil, err
	}
	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case BackendMemory, BackendRedis, BackendMongo, BackendSQLite, BackendPostgres:
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if c.CheckoutURL == "" {
		return fmt.Errorf("CHECKOUT_URL is required")
	}
	u, err := url.Parse(c.CheckoutURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("CHECKOUT_URL must be an absolute http(s) URL, got %q", c.CheckoutURL)
	}
	return nil
}

// ParseCatalog reads "price_a=2750,price_b=1200" into a price map.
func ParseCatalog(raw string) (map[string]int64, error) {
	catalog := make(map[string]int64)
	for _, pair := range splitList(raw) {
		id, amount, ok := strings.Cut(pair, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid CART_PRICE_CATALOG entry %q", pair)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid CART_PRICE_CATALOG amount for %q", id)
		}
		catalog[id] = v
	}
	return catalog, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
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
