package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	OTLPEnabled  bool
	OTLPEndpoint string
	OTLPProtocol string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Ingest IngestConfig
	Orphan OrphanConfig

	RateLimit RateLimitConfig
}

// IngestConfig bounds the ingestion transaction and its transient-error retries.
type IngestConfig struct {
	TxTimeout  time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// OrphanConfig controls the orphan queue and its retry processor.
type OrphanConfig struct {
	Capacity     int
	PollInterval time.Duration
	RunTimeout   time.Duration
	BatchSize    int
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
}

// RateLimitConfig configures the redis token bucket in front of ingestion.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ProviderRate  float64
	ProviderBurst int
	EndpointRate  float64
	EndpointBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "reachforge"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		OTLPEnabled:  getenvBool("OTLP_ENABLED", false),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol: strings.ToLower(getenv("OTLP_PROTOCOL", "grpc")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "reachforge"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		Ingest: IngestConfig{
			TxTimeout:  getenvDuration("INGEST_TX_TIMEOUT", 5*time.Second),
			MaxRetries: getenvInt("INGEST_MAX_RETRIES", 3),
			RetryBase:  getenvDuration("INGEST_RETRY_BASE", 50*time.Millisecond),
		},
		Orphan: OrphanConfig{
			Capacity:     getenvInt("ORPHAN_QUEUE_CAPACITY", 10000),
			PollInterval: getenvDuration("ORPHAN_POLL_INTERVAL", 30*time.Second),
			RunTimeout:   getenvDuration("ORPHAN_RUN_TIMEOUT", 25*time.Second),
			BatchSize:    getenvInt("ORPHAN_BATCH_SIZE", 100),
			MaxRetries:   getenvInt("ORPHAN_MAX_RETRIES", 8),
			BackoffBase:  getenvDuration("ORPHAN_BACKOFF_BASE", 30*time.Second),
			BackoffCap:   getenvDuration("ORPHAN_BACKOFF_CAP", time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			ProviderRate:  getenvFloat("RATE_LIMIT_PROVIDER_RATE", 200),
			ProviderBurst: getenvInt("RATE_LIMIT_PROVIDER_BURST", 400),
			EndpointRate:  getenvFloat("RATE_LIMIT_ENDPOINT_RATE", 1000),
			EndpointBurst: getenvInt("RATE_LIMIT_ENDPOINT_BURST", 2000),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
