package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://parfum@localhost:5432/parfum")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("CART_STORAGE", "memory")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" || cfg.Development() {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Checkout.Timeout != 8*time.Second {
		t.Errorf("expected 8s checkout timeout, got %v", cfg.Checkout.Timeout)
	}
	if cfg.CartIdleTTL != 30*time.Minute {
		t.Errorf("expected 30m idle ttl, got %v", cfg.CartIdleTTL)
	}
	if cfg.Checkout.Currency != "eur" {
		t.Errorf("expected eur, got %s", cfg.Checkout.Currency)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("CHECKOUT_TIMEOUT_MS", "2500")
	t.Setenv("SHIPPING_COUNTRIES", "fr, be ,")
	t.Setenv("FREE_SHIPPING_THRESHOLD", "80")
	t.Setenv("SHIPPING_RATE", "4.5")
	t.Setenv("SITE_URL", "https://parfum.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Development() || !cfg.Checkout.Development {
		t.Error("expected development mode")
	}
	if cfg.Checkout.Timeout != 2500*time.Millisecond {
		t.Errorf("expected 2.5s, got %v", cfg.Checkout.Timeout)
	}
	if strings.Join(cfg.Checkout.AllowedCountries, ",") != "FR,BE" {
		t.Errorf("unexpected countries %v", cfg.Checkout.AllowedCountries)
	}
	if cfg.Checkout.FreeShippingThreshold != 80 || cfg.Checkout.ShippingRate != 4.5 {
		t.Errorf("unexpected shipping %+v", cfg.Checkout)
	}
	if cfg.Checkout.SiteURL != "https://parfum.example.com" {
		t.Errorf("unexpected site url %q", cfg.Checkout.SiteURL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"redis without addr": {"CART_STORAGE": "redis", "REDIS_ADDR": ""},
		"unknown storage":    {"CART_STORAGE": "localstorage"},
		"bad timeout":        {"CHECKOUT_TIMEOUT_MS": "soon"},
		"bad idle ttl":       {"CART_IDLE_TTL": "forever"},
		"zero idle ttl":      {"CART_IDLE_TTL": "0s"},
		"negative idle ttl":  {"CART_IDLE_TTL": "-1m"},
		"missing database":   {"DATABASE_URL": ""},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected error")
			}
		})
	}
}
