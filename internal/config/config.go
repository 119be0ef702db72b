package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	Env      string `yaml:"env"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	OrderTopic string   `yaml:"order_topic"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
}

type ShippoConfig struct {
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	Country       string        `yaml:"country"`
	OriginName    string        `yaml:"origin_name"`
	OriginStreet  string        `yaml:"origin_street"`
	OriginCity    string        `yaml:"origin_city"`
	OriginState   string        `yaml:"origin_state"`
	OriginZip     string        `yaml:"origin_zip"`
	OriginCountry string        `yaml:"origin_country"`
}

type CheckoutConfig struct {
	Currency                string        `yaml:"currency"`
	InstantTransferDiscount string        `yaml:"instant_transfer_discount"`
	PaymentTimeout          time.Duration `yaml:"payment_timeout"`
	PlacementLockTTL        time.Duration `yaml:"placement_lock_ttl"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Stripe   StripeConfig   `yaml:"stripe"`
	Shippo   ShippoConfig   `yaml:"shippo"`
	Checkout CheckoutConfig `yaml:"checkout"`
}

func defaults() *Config {
	return &Config{
		App: AppConfig{
			Name:     "checkout-service",
			Port:     "8080",
			LogLevel: "info",
			Env:      "development",
		},
		Postgres: PostgresConfig{
			Port:            "5432",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MigrationsPath:  "migrations",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			SessionTTL: 2 * time.Hour,
		},
		Kafka: KafkaConfig{
			OrderTopic: "orders",
		},
		Shippo: ShippoConfig{
			Timeout:       10 * time.Second,
			Country:       "BR",
			OriginCountry: "BR",
		},
		Checkout: CheckoutConfig{
			Currency:                "BRL",
			InstantTransferDiscount: "0.05",
			PaymentTimeout:          5 * time.Second,
			PlacementLockTTL:        30 * time.Second,
		},
	}
}

// NewConfig reads configuration from the environment only.
func NewConfig() (*Config, error) {
	return Load("")
}

// Load starts from defaults, applies a YAML file or a .env file when path is
// set, then lets environment variables override everything.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := loadYAML(path, cfg); err != nil {
				return nil, err
			}
		default:
			err := godotenv.Load(path)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load .env: %w", err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.Name, "APP_NAME")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")
	setString(&cfg.App.Env, "APP_ENV")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	setString(&cfg.Kafka.OrderTopic, "KAFKA_ORDER_TOPIC")

	setString(&cfg.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	setString(&cfg.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&cfg.Stripe.SuccessURL, "STRIPE_SUCCESS_URL")
	setString(&cfg.Stripe.CancelURL, "STRIPE_CANCEL_URL")

	setString(&cfg.Shippo.APIKey, "SHIPPO_API_KEY")
	setString(&cfg.Shippo.BaseURL, "SHIPPO_BASE_URL")
	setString(&cfg.Shippo.Country, "SHIPPO_COUNTRY")
	setString(&cfg.Shippo.OriginName, "SHIPPO_ORIGIN_NAME")
	setString(&cfg.Shippo.OriginStreet, "SHIPPO_ORIGIN_STREET")
	setString(&cfg.Shippo.OriginCity, "SHIPPO_ORIGIN_CITY")
	setString(&cfg.Shippo.OriginState, "SHIPPO_ORIGIN_STATE")
	setString(&cfg.Shippo.OriginZip, "SHIPPO_ORIGIN_ZIP")
	setString(&cfg.Shippo.OriginCountry, "SHIPPO_ORIGIN_COUNTRY")

	setString(&cfg.Checkout.Currency, "CHECKOUT_CURRENCY")
	setString(&cfg.Checkout.InstantTransferDiscount, "CHECKOUT_INSTANT_TRANSFER_DISCOUNT")

	if err := setInt(&cfg.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DB_MAX_CONN_LIFETIME", &cfg.Postgres.MaxConnLifetime},
		{"REDIS_SESSION_TTL", &cfg.Redis.SessionTTL},
		{"SHIPPO_TIMEOUT", &cfg.Shippo.Timeout},
		{"CHECKOUT_PAYMENT_TIMEOUT", &cfg.Checkout.PaymentTimeout},
		{"CHECKOUT_PLACEMENT_LOCK_TTL", &cfg.Checkout.PlacementLockTTL},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key); err != nil {
			return err
		}
	}

	for _, c := range []struct {
		key string
		dst *int32
	}{
		{"DB_MAX_CONNS", &cfg.Postgres.MaxConns},
		{"DB_MIN_CONNS", &cfg.Postgres.MinConns},
	} {
		if v := os.Getenv(c.key); v != "" {
			n, err := strconv.ParseInt(v, 10, 32)
			if err != nil {
				return fmt.Errorf("%s: %w", c.key, err)
			}
			*c.dst = int32(n)
		}
	}
	return nil
}

func (c *Config) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"DB_HOST", c.Postgres.Host},
		{"DB_USER", c.Postgres.User},
		{"DB_PASSWORD", c.Postgres.Password},
		{"DB_NAME", c.Postgres.DBName},
		{"STRIPE_SECRET_KEY", c.Stripe.SecretKey},
		{"STRIPE_WEBHOOK_SECRET", c.Stripe.WebhookSecret},
		{"SHIPPO_API_KEY", c.Shippo.APIKey},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if c.Checkout.PaymentTimeout <= 0 {
		return errors.New("CHECKOUT_PAYMENT_TIMEOUT must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
