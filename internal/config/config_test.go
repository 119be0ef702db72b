package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront-checkout/internal/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "checkout")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "checkout")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("SHIPPO_API_KEY", "shippo_test")
}

func TestNewConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "BRL", cfg.Checkout.Currency)
	assert.Equal(t, "0.05", cfg.Checkout.InstantTransferDiscount)
	assert.Equal(t, 5*time.Second, cfg.Checkout.PaymentTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Redis.SessionTTL)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestNewConfig_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("CHECKOUT_PAYMENT_TIMEOUT", "8s")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("REDIS_DB", "3")

	cfg, err := config.NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 8*time.Second, cfg.Checkout.PaymentTimeout)
	assert.Equal(t, int32(25), cfg.Postgres.MaxConns)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing_secret",
			env:     map[string]string{"STRIPE_SECRET_KEY": ""},
			wantErr: "STRIPE_SECRET_KEY",
		},
		{
			name:    "bad_duration",
			env:     map[string]string{"SHIPPO_TIMEOUT": "soon"},
			wantErr: "SHIPPO_TIMEOUT",
		},
		{
			name:    "bad_int",
			env:     map[string]string{"DB_MIN_CONNS": "two"},
			wantErr: "DB_MIN_CONNS",
		},
		{
			name:    "non_positive_payment_timeout",
			env:     map[string]string{"CHECKOUT_PAYMENT_TIMEOUT": "0s"},
			wantErr: "CHECKOUT_PAYMENT_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.NewConfig()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_PORT", "7070")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  name: checkout-staging
  port: "8181"
checkout:
  instant_transfer_discount: "0.10"
  placement_lock_ttl: 45s
kafka:
  brokers: [kafka:9092]
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "checkout-staging", cfg.App.Name)
	assert.Equal(t, "7070", cfg.App.Port, "environment wins over the file")
	assert.Equal(t, "0.10", cfg.Checkout.InstantTransferDiscount)
	assert.Equal(t, 45*time.Second, cfg.Checkout.PlacementLockTTL)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "BRL", cfg.Checkout.Currency, "unset keys keep defaults")
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	setRequired(t)

	_, err := config.Load(filepath.Join(t.TempDir(), ".env"))

	assert.NoError(t, err)
}
