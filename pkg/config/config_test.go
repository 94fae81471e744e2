package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, "mysql", cfg.StoreDriver)
	assert.Equal(t, 10*time.Second, cfg.CheckoutTimeout)
	assert.True(t, cfg.CheckoutReserveStock)
	assert.Equal(t, 5, cfg.DBLockWaitTimeout)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, "http/protobuf", cfg.OTELExporterOTLPProtocol)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CHECKOUT_TIMEOUT", "3s")
	t.Setenv("CHECKOUT_RESERVE_STOCK", "false")
	t.Setenv("DB_LOCK_WAIT_TIMEOUT", "2")
	t.Setenv("JWT_TTL", "15m")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.AppPort)
	assert.Equal(t, 15*time.Minute, cfg.JWTTTL)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 3*time.Second, cfg.CheckoutTimeout)
	assert.False(t, cfg.CheckoutReserveStock)
	assert.Contains(t, cfg.GetDSN(), "innodb_lock_wait_timeout=2")
}

func TestLoadConfig_UnknownStoreDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_UnsupportedOTLPProtocol(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTEL_EXPORTER_OTLP_PROTOCOL")
}

func TestGetDSN(t *testing.T) {
	cfg := &Config{
		DBUser:            "shop",
		DBPassword:        "secret",
		DBHost:            "db",
		DBPort:            "3307",
		DBName:            "store",
		DBLockWaitTimeout: 5,
	}

	assert.Equal(t,
		"shop:secret@tcp(db:3307)/store?parseTime=true&charset=utf8mb4&innodb_lock_wait_timeout=5",
		cfg.GetDSN(),
	)
}
