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

	OTLPEndpoint string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SchedulerRunInterval time.Duration
	SchedulerBatchSize   int
	SchedulerJobs        string

	RateLimitEnabled bool
	APIWriteRate     float64
	APIWriteBurst    int
	JobLockTTL       time.Duration

	AnalyticsBaseURL string
	AnalyticsTimeout time.Duration

	BillingBaseURL   string
	BillingTimeout   time.Duration
	QuotaCacheTTL    time.Duration
	SnapshotCacheTTL time.Duration

	Email EmailConfig
	SMS   SMSConfig

	HTTPAddr string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type SMSConfig struct {
	GatewayURL string
	APIKey     string
	From       string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "alertd"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:      getenv("OTLP_ENDPOINT", "localhost:4317"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "alertd"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		SchedulerRunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", 15*time.Second),
		SchedulerBatchSize:   getenvInt("SCHEDULER_BATCH_SIZE", 100),
		SchedulerJobs:        getenv("SCHEDULER_JOBS", ""),
		RateLimitEnabled:     getenvBool("RATE_LIMIT_ENABLED", false),
		APIWriteRate:         getenvFloat("API_WRITE_RATE", 5),
		APIWriteBurst:        getenvInt("API_WRITE_BURST", 10),
		JobLockTTL:           getenvDuration("JOB_LOCK_TTL", 2*time.Minute),
		AnalyticsBaseURL:     strings.TrimRight(getenv("ANALYTICS_BASE_URL", "http://localhost:8081"), "/"),
		AnalyticsTimeout:     getenvDuration("ANALYTICS_TIMEOUT", 5*time.Second),
		BillingBaseURL:       strings.TrimRight(getenv("BILLING_BASE_URL", "http://localhost:8082"), "/"),
		BillingTimeout:       getenvDuration("BILLING_TIMEOUT", 5*time.Second),
		QuotaCacheTTL:        getenvDuration("QUOTA_CACHE_TTL", 5*time.Minute),
		SnapshotCacheTTL:     getenvDuration("SNAPSHOT_CACHE_TTL", 2*time.Second),
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "alerts@tradepulse.io"),
		},
		SMS: SMSConfig{
			GatewayURL: strings.TrimRight(getenv("SMS_GATEWAY_URL", ""), "/"),
			APIKey:     strings.TrimSpace(getenv("SMS_API_KEY", "")),
			From:       getenv("SMS_FROM", "TradePulse"),
		},
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
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
