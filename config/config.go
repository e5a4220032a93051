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
	"github.com/stripe/stripe-go/v79"

	"goflare.io/parfum/checkout"
)

const (
	EnvDevelopment = "development"

	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type Config struct {
	Env  string
	Port string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CartStorage   string
	// CartTTL bounds how long a persisted cart survives without writes.
	CartTTL time.Duration
	// CartIdleTTL is how long a mounted session stays in memory without use.
	CartIdleTTL time.Duration

	NATSURL      string
	KafkaBrokers string

	StripeSecretKey     string
	StripeWebhookSecret string

	Checkout checkout.Config
}

func (c Config) Development() bool {
	return c.Env == EnvDevelopment
}

// Load reads the configuration from the environment, after applying an
// optional .env file in the working directory.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	checkoutCfg := checkout.DefaultConfig()
	cfg := Config{
		Env:                 getenv("APP_ENV", "production"),
		Port:                getenv("PORT", "8080"),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		CartStorage:         strings.ToLower(getenv("CART_STORAGE", StorageRedis)),
		NATSURL:             strings.TrimSpace(os.Getenv("NATS_URL")),
		KafkaBrokers:        strings.TrimSpace(os.Getenv("KAFKA_BROKERS")),
		StripeSecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		Checkout:            checkoutCfg,
	}

	var err error
	if cfg.RedisDB, err = strconv.Atoi(getenv("REDIS_DB", "0")); err != nil {
		return Config{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.CartTTL, err = time.ParseDuration(getenv("CART_TTL", "720h")); err != nil {
		return Config{}, fmt.Errorf("invalid CART_TTL: %w", err)
	}
	if cfg.CartIdleTTL, err = time.ParseDuration(getenv("CART_IDLE_TTL", "30m")); err != nil {
		return Config{}, fmt.Errorf("invalid CART_IDLE_TTL: %w", err)
	}
	if cfg.CartIdleTTL <= 0 {
		return Config{}, fmt.Errorf("invalid CART_IDLE_TTL: %s must be positive", cfg.CartIdleTTL)
	}

	timeoutMS, err := strconv.Atoi(getenv("CHECKOUT_TIMEOUT_MS", strconv.FormatInt(checkoutCfg.Timeout.Milliseconds(), 10)))
	if err != nil || timeoutMS <= 0 {
		return Config{}, fmt.Errorf("invalid CHECKOUT_TIMEOUT_MS: %q", os.Getenv("CHECKOUT_TIMEOUT_MS"))
	}
	cfg.Checkout.Timeout = time.Duration(timeoutMS) * time.Millisecond

	if v := os.Getenv("FREE_SHIPPING_THRESHOLD"); v != "" {
		if cfg.Checkout.FreeShippingThreshold, err = strconv.ParseFloat(v, 64); err != nil {
			return Config{}, fmt.Errorf("invalid FREE_SHIPPING_THRESHOLD: %w", err)
		}
	}
	if v := os.Getenv("SHIPPING_RATE"); v != "" {
		if cfg.Checkout.ShippingRate, err = strconv.ParseFloat(v, 64); err != nil {
			return Config{}, fmt.Errorf("invalid SHIPPING_RATE: %w", err)
		}
	}
	if v := os.Getenv("SHIPPING_COUNTRIES"); v != "" {
		cfg.Checkout.AllowedCountries = splitUpper(v)
	}
	if v := os.Getenv("CHECKOUT_CURRENCY"); v != "" {
		cfg.Checkout.Currency = stripe.Currency(strings.ToLower(v))
	}
	cfg.Checkout.SiteURL = strings.TrimRight(getenv("SITE_URL", checkoutCfg.SiteURL), "/")
	cfg.Checkout.Development = cfg.Development()

	if err = cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.CartStorage {
	case StorageMemory:
	case StorageRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when CART_STORAGE=redis")
		}
	default:
		return fmt.Errorf("unknown CART_STORAGE %q", c.CartStorage)
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.StripeSecretKey == "" {
		return errors.New("STRIPE_SECRET_KEY is required")
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitUpper(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}
