package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "MeterPay"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultCurrency        = "RUB"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultHoldTTL         = 30 * time.Minute
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Currency is the single accounting currency, ISO 4217.
	Currency string

	// TopupPackages lists purchasable amounts in kopeks; empty accepts any
	// positive amount.
	TopupPackages []int64
	// TopupCreditTTL bounds how long purchased credit stays spendable;
	// zero disables expiry.
	TopupCreditTTL time.Duration
	// HoldTTL is the advisory expiry stamped on holds for the external
	// reaper.
	HoldTTL time.Duration
	// PaymentReturnURL is where the processor redirects users after
	// checkout.
	PaymentReturnURL string

	ProviderShopID        string
	ProviderSecretKey     string
	ProviderWebhookSecret string
	ProviderAPIURL        string

	// WebhookEnforceSourceIP turns on the processor source-address check.
	WebhookEnforceSourceIP bool
	// WebhookExtraAllowedIPs adds CIDRs or addresses to the built-in
	// processor ranges.
	WebhookExtraAllowedIPs []string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:          getEnv("APP_NAME", defaultAppName),
		AppEnv:           getEnv("APP_ENV", defaultAppEnv),
		Port:             getEnv("PORT", defaultPort),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ShutdownPeriod:   defaultShutdownDelay,
		IdempotencyTTL:   defaultIdempotencyTTL,
		Currency:         getEnv("BILLING_CURRENCY", defaultCurrency),
		HoldTTL:          defaultHoldTTL,
		PaymentReturnURL: os.Getenv("PAYMENT_RETURN_URL"),

		ProviderShopID:        os.Getenv("YOOKASSA_SHOP_ID"),
		ProviderSecretKey:     os.Getenv("YOOKASSA_SECRET_KEY"),
		ProviderWebhookSecret: os.Getenv("YOOKASSA_WEBHOOK_SECRET"),
		ProviderAPIURL:        os.Getenv("YOOKASSA_API_URL"),

		WebhookEnforceSourceIP: getEnv("WEBHOOK_ENFORCE_SOURCE_IP", "false") == "true",
	}

	if v := os.Getenv("WEBHOOK_EXTRA_ALLOWED_IPS"); v != "" {
		for _, entry := range strings.Split(v, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				cfg.WebhookExtraAllowedIPs = append(cfg.WebhookExtraAllowedIPs, entry)
			}
		}
	}

	if v := os.Getenv("TOPUP_PACKAGES"); v != "" {
		for _, entry := range strings.Split(v, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			amount, err := strconv.ParseInt(entry, 10, 64)
			if err != nil || amount <= 0 {
				return Config{}, fmt.Errorf("invalid TOPUP_PACKAGES entry %q", entry)
			}
			cfg.TopupPackages = append(cfg.TopupPackages, amount)
		}
	}

	if v := os.Getenv("TOPUP_CREDIT_TTL_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return Config{}, fmt.Errorf("invalid TOPUP_CREDIT_TTL_DAYS: %q", v)
		}
		cfg.TopupCreditTTL = time.Duration(days) * 24 * time.Hour
	}

	if v := os.Getenv("HOLD_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HOLD_TTL: %w", err)
		}
		cfg.HoldTTL = d
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	// Dev runs on in-memory stores and the simulated processor; everything
	// else needs the real backing services.
	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.ProviderShopID == "" || cfg.ProviderSecretKey == "" {
			return Config{}, fmt.Errorf("YOOKASSA_SHOP_ID and YOOKASSA_SECRET_KEY must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the app runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	}
	return false
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
