package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Postgres struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type Config struct {
	Env      string
	LogLevel string

	HTTPPort        string
	GRPCPort        string
	PublicURL       string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	Postgres Postgres

	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	KafkaBrokers  []string
	KafkaGroupID  string

	GeoDBPath         string
	GeoMigrationsPath string

	DefaultCurrency    string
	DefaultGatewayMode string
	MinOrderAmount     decimal.Decimal
	MaxOrderAmount     decimal.Decimal
	GatewayTimeout     time.Duration

	OutboxPollInterval time.Duration
	// RecoveryInterval is how often the poller re-enqueues events for
	// payments and orders whose follow-up work never ran. RecoveryGrace is
	// how long such work may stay pending before it counts as stranded.
	RecoveryInterval time.Duration
	RecoveryGrace    time.Duration
}

func Load() (*Config, error) {
	pgPort, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	minAmount, err := getEnvDecimal("MIN_ORDER_AMOUNT", "100")
	if err != nil {
		return nil, err
	}
	maxAmount, err := getEnvDecimal("MAX_ORDER_AMOUNT", "10000000")
	if err != nil {
		return nil, err
	}
	if minAmount.GreaterThan(maxAmount) {
		return nil, fmt.Errorf("MIN_ORDER_AMOUNT %s is greater than MAX_ORDER_AMOUNT %s", minAmount, maxAmount)
	}
	gatewayTimeout, err := getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := getEnvDuration("REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	pollInterval, err := getEnvDuration("OUTBOX_POLL_INTERVAL", time.Second)
	if err != nil {
		return nil, err
	}
	recoveryInterval, err := getEnvDuration("OUTBOX_RECOVERY_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	recoveryGrace, err := getEnvDuration("OUTBOX_RECOVERY_GRACE", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	mode := strings.ToLower(getEnv("DEFAULT_GATEWAY_MODE", "test"))
	if mode != "test" && mode != "live" {
		return nil, fmt.Errorf("DEFAULT_GATEWAY_MODE must be test or live, got %q", mode)
	}

	return &Config{
		Env:             getEnv("APP_ENV", "dev"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		GRPCPort:        getEnv("GRPC_PORT", "50060"),
		PublicURL:       strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8080"), "/"),
		RequestTimeout:  requestTimeout,
		ShutdownTimeout: 10 * time.Second,
		Postgres: Postgres{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              pgPort,
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "checkout"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "internal/repository/migrations"),
		},
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getEnv("MONGO_DB", "carts"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "checkout-service"),
		GeoDBPath:          getEnv("GEO_DB_PATH", "geo.db"),
		GeoMigrationsPath:  getEnv("GEO_MIGRATIONS_PATH", "internal/geo/migrations"),
		DefaultCurrency:    strings.ToUpper(getEnv("DEFAULT_CURRENCY", "NGN")),
		DefaultGatewayMode: mode,
		MinOrderAmount:     minAmount,
		MaxOrderAmount:     maxAmount,
		GatewayTimeout:     gatewayTimeout,
		OutboxPollInterval: pollInterval,
		RecoveryInterval:   recoveryInterval,
		RecoveryGrace:      recoveryGrace,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvDecimal(key, defaultValue string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, defaultValue))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
