package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds application configuration from environment variables
type Config struct {
	// Application
	AppPort  string `env:"APP_PORT" env-default:"8080"`
	AppEnv   string `env:"APP_ENV" env-default:"development"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	// Storage
	StoreDriver string `env:"STORE_DRIVER" env-default:"mysql"`

	// Database
	DBHost            string `env:"DB_HOST" env-default:"localhost"`
	DBPort            string `env:"DB_PORT" env-default:"3306"`
	DBUser            string `env:"DB_USER" env-default:"root"`
	DBPassword        string `env:"DB_PASSWORD" env-default:"password"`
	DBName            string `env:"DB_NAME" env-default:"ecommerce"`
	DBMaxOpenConns    int    `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DBMaxIdleConns    int    `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	DBLockWaitTimeout int    `env:"DB_LOCK_WAIT_TIMEOUT" env-default:"5"` // seconds
	DBMigrate         bool   `env:"DB_MIGRATE" env-default:"true"`

	// Cache
	RedisAddr       string        `env:"REDIS_ADDR"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	ProductCacheTTL time.Duration `env:"PRODUCT_CACHE_TTL" env-default:"5m"`

	// Checkout
	CheckoutTimeout      time.Duration `env:"CHECKOUT_TIMEOUT" env-default:"10s"`
	CheckoutReserveStock bool          `env:"CHECKOUT_RESERVE_STOCK" env-default:"true"`

	// Auth
	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" env-default:"24h"`

	// Background jobs
	ActiveCartsInterval time.Duration `env:"ACTIVE_CARTS_INTERVAL" env-default:"30s"`

	// OpenTelemetry
	OTELMetricsEnabled        bool   `env:"OTEL_METRICS_ENABLED" env-default:"true"`
	OTELTracesEnabled         bool   `env:"OTEL_TRACES_ENABLED" env-default:"false"`
	OTELExporterOTLPEndpoint  string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4318"`
	OTELExporterOTLPProtocol  string `env:"OTEL_EXPORTER_OTLP_PROTOCOL" env-default:"http/protobuf"`
	OTELExporterOTLPHeaders   string `env:"OTEL_EXPORTER_OTLP_HEADERS"`                     // For SigNoz Cloud: signoz-ingestion-key=<key>
	OTELExporterOTLPInsecure  bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"` // true for http://, false for https://
	OTELServiceName           string `env:"OTEL_SERVICE_NAME" env-default:"checkout-api"`
	OTELServiceVersion        string `env:"OTEL_SERVICE_VERSION" env-default:"1.0.0"`
	OTELDeploymentEnvironment string `env:"OTEL_DEPLOYMENT_ENVIRONMENT" env-default:"development"`
}

// LoadConfig loads configuration from .env file and environment variables with defaults
func LoadConfig() (*Config, error) {
	// .env is optional; only report real read errors
	if err := godotenv.Load(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}

	if cfg.StoreDriver != "mysql" && cfg.StoreDriver != "memory" {
		return nil, fmt.Errorf("unknown STORE_DRIVER %q (want mysql or memory)", cfg.StoreDriver)
	}

	// Only the OTLP HTTP exporters are linked in.
	if cfg.OTELExporterOTLPProtocol != "http/protobuf" {
		return nil, fmt.Errorf("unsupported OTEL_EXPORTER_OTLP_PROTOCOL %q (want http/protobuf)", cfg.OTELExporterOTLPProtocol)
	}

	return &cfg, nil
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName +
		"?parseTime=true&charset=utf8mb4&innodb_lock_wait_timeout=" + strconv.Itoa(c.DBLockWaitTimeout)
}

// IsProduction reports whether the app runs with production defaults (JSON logs)
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}
