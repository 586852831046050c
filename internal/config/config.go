package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is built once at startup and passed explicitly into the checkout
// service and every provider adapter. Core logic never reads env vars.
type Config struct {
	Env        string // dev|prod
	ListenAddr string
	BaseURL    string
	DBDSN      string
	RedisAddr  string // optional; PayPal token cache falls back to in-process

	Checkout Checkout
	Stripe   Stripe
	Flw      Flutterwave
	PayPal   PayPal
	SMTP     SMTP

	PaymentVerifyToken string

	SessionCookieName string
	SessionTTL        time.Duration
	SecureCookies     bool

	ProviderTimeout time.Duration
}

type Checkout struct {
	Currency              string
	FreeShippingThreshold decimal.Decimal
	FlatShipping          decimal.Decimal
	TaxRate               decimal.Decimal
}

type Stripe struct {
	SecretKey     string
	Mode          string // LIVE|TEST
	WebhookSecret string
	BaseURL       string
}

type Flutterwave struct {
	SecretKey     string
	Mode          string // LIVE|TEST
	WebhookSecret string
	BaseURL       string
}

type PayPal struct {
	ClientID  string
	Secret    string
	Env       string // live|sandbox; empty falls back by app env
	WebhookID string
	BaseURL   string // optional override (tests)
}

type SMTP struct {
	Host          string
	Port          string
	Username      string
	Password      string
	From          string
	FromName      string
	OpsEmail      string // internal recipient for order alerts
	TLSMode       string // "", "starttls" or "tls"
	SkipVerifyTLS bool
}

// Mode resolves the effective PayPal environment.
func (p PayPal) Mode(appEnv string) string {
	m := strings.ToLower(strings.TrimSpace(p.Env))
	if m == "live" || m == "sandbox" {
		return m
	}
	if appEnv == "prod" {
		return "live"
	}
	return "sandbox"
}

// APIBase returns the PayPal REST base URL for the effective mode.
func (p PayPal) APIBase(appEnv string) string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	if p.Mode(appEnv) == "live" {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

func Load() (Config, error) {
	cfg := Config{
		Env:        getenv("APP_ENV", "dev"),
		ListenAddr: getenv("LISTEN_ADDR", ":8080"),
		BaseURL:    strings.TrimRight(getenv("BASE_URL", "http://localhost:8080"), "/"),
		DBDSN:      os.Getenv("DB_DSN"),
		RedisAddr:  os.Getenv("REDIS_ADDR"),

		PaymentVerifyToken: strings.TrimSpace(os.Getenv("PAYMENT_VERIFY_TOKEN")),

		SessionCookieName: getenv("SESSION_COOKIE", "drk_session"),
		SessionTTL:        30 * 24 * time.Hour,
		SecureCookies:     getenv("APP_ENV", "dev") == "prod",

		ProviderTimeout: 20 * time.Second,
	}

	var err error
	cfg.Checkout.Currency = strings.ToUpper(getenv("CHECKOUT_CURRENCY", "USD"))
	if cfg.Checkout.FreeShippingThreshold, err = decimalEnv("CHECKOUT_FREE_SHIPPING_THRESHOLD", "100"); err != nil {
		return Config{}, err
	}
	if cfg.Checkout.FlatShipping, err = decimalEnv("CHECKOUT_FLAT_SHIPPING", "9.99"); err != nil {
		return Config{}, err
	}
	if cfg.Checkout.TaxRate, err = decimalEnv("CHECKOUT_TAX_RATE", "0.08"); err != nil {
		return Config{}, err
	}

	cfg.Stripe = Stripe{
		SecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		Mode:          strings.ToUpper(getenv("STRIPE_MODE", "LIVE")),
		WebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		BaseURL:       strings.TrimRight(getenv("STRIPE_BASE_URL", "https://api.stripe.com"), "/"),
	}
	cfg.Flw = Flutterwave{
		SecretKey:     strings.TrimSpace(os.Getenv("FLUTTERWAVE_SECRET_KEY")),
		Mode:          strings.ToUpper(getenv("FLUTTERWAVE_MODE", "LIVE")),
		WebhookSecret: strings.TrimSpace(os.Getenv("FLUTTERWAVE_WEBHOOK_SECRET")),
		BaseURL:       strings.TrimRight(getenv("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com/v3"), "/"),
	}
	cfg.PayPal = PayPal{
		ClientID:  strings.TrimSpace(os.Getenv("PAYPAL_CLIENT_ID")),
		Secret:    strings.TrimSpace(firstenv("PAYPAL_CLIENT_SECRET", "PAYPAL_SECRET")),
		Env:       strings.TrimSpace(os.Getenv("PAYPAL_ENV")),
		WebhookID: strings.TrimSpace(os.Getenv("PAYPAL_WEBHOOK_ID")),
		BaseURL:   strings.TrimSpace(os.Getenv("PAYPAL_BASE_URL")),
	}
	cfg.SMTP = SMTP{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     getenv("SMTP_PORT", "587"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     getenv("MAIL_FROM", "no-reply@derukkies.com"),
		FromName: getenv("MAIL_FROM_NAME", "De-Rukkies Collections"),
		OpsEmail: os.Getenv("MAIL_OPS_EMAIL"),
		TLSMode:  strings.ToLower(getenv("SMTP_TLS_MODE", "starttls")),
		SkipVerifyTLS: os.Getenv("SMTP_SKIP_VERIFY_TLS") == "1",
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstenv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func decimalEnv(key, def string) (decimal.Decimal, error) {
	raw := getenv(key, def)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s=%q is not a valid decimal: %w", key, raw, err)
	}
	return d, nil
}
