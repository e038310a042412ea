package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the zest server.
type Config struct {
	// Telegram
	BotToken     string  // bot API token
	AdminIDs     []int64 // Telegram user ids allowed to run admin commands
	PollTimeout  int     // long-poll timeout in seconds
	TelegramBase string  // Bot API base URL, overridable for tests

	// Payment provider (NOWPayments)
	PaymentAPIKey  string // x-api-key for invoice creation
	PaymentBase    string // provider API base URL
	IPNSecret      string // shared secret for IPN signature validation; empty disables the check
	PayCurrency    string // crypto currency offered on the hosted invoice
	PriceCurrency  string // fiat currency of prices
	LicensePrice   int64  // fixed license price in PriceCurrency units
	LicenseGrant   time.Duration
	MinRecharge    int64 // smallest accepted recharge amount
	PublicBaseURL  string

	// Server
	ListenAddr string
	DataDir    string

	// Logging
	LogLevel  string
	LogFormat string
}

// LedgerFile returns the path of the durable ledger document.
func (c *Config) LedgerFile() string {
	return filepath.Join(c.DataDir, "ledger.json")
}

// IPNCallbackURL returns the callback URL handed to the payment provider.
func (c *Config) IPNCallbackURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/api/payments/ipn"
}

// IsAdmin reports whether the given Telegram user id may run admin commands.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Load reads configuration from environment variables.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	pollTimeout, err := envOrDefaultInt("ZEST_POLL_TIMEOUT", 30)
	if err != nil {
		return nil, err
	}
	licensePrice, err := envOrDefaultInt64("ZEST_LICENSE_PRICE", 120)
	if err != nil {
		return nil, err
	}
	licenseDays, err := envOrDefaultInt("ZEST_LICENSE_DAYS", 60)
	if err != nil {
		return nil, err
	}
	minRecharge, err := envOrDefaultInt64("ZEST_MIN_RECHARGE", 5)
	if err != nil {
		return nil, err
	}
	adminIDs, err := parseAdminIDs(os.Getenv("ZEST_ADMIN_IDS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		BotToken:      strings.TrimSpace(os.Getenv("ZEST_BOT_TOKEN")),
		AdminIDs:      adminIDs,
		PollTimeout:   pollTimeout,
		TelegramBase:  envOrDefault("ZEST_TELEGRAM_BASE", "https://api.telegram.org"),
		PaymentAPIKey: strings.TrimSpace(os.Getenv("ZEST_PAYMENT_API_KEY")),
		PaymentBase:   envOrDefault("ZEST_PAYMENT_BASE", "https://api.nowpayments.io"),
		IPNSecret:     strings.TrimSpace(os.Getenv("ZEST_IPN_SECRET")),
		PayCurrency:   envOrDefault("ZEST_PAY_CURRENCY", "usdttrc20"),
		PriceCurrency: envOrDefault("ZEST_PRICE_CURRENCY", "eur"),
		LicensePrice:  licensePrice,
		LicenseGrant:  time.Duration(licenseDays) * 24 * time.Hour,
		MinRecharge:   minRecharge,
		PublicBaseURL: strings.TrimSpace(os.Getenv("ZEST_PUBLIC_URL")),
		ListenAddr:    envOrDefault("ZEST_LISTEN_ADDR", ":7600"),
		DataDir:       envOrDefault("ZEST_DATA_DIR", "/var/lib/zest"),
		LogLevel:      envOrDefault("ZEST_LOG_LEVEL", "info"),
		LogFormat:     envOrDefault("ZEST_LOG_FORMAT", "auto"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "ZEST_BOT_TOKEN")
	}
	if c.PaymentAPIKey == "" {
		missing = append(missing, "ZEST_PAYMENT_API_KEY")
	}
	if c.PublicBaseURL == "" {
		missing = append(missing, "ZEST_PUBLIC_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.LicensePrice <= 0 {
		return fmt.Errorf("ZEST_LICENSE_PRICE must be greater than 0, got %d", c.LicensePrice)
	}
	if c.LicenseGrant <= 0 {
		return fmt.Errorf("ZEST_LICENSE_DAYS must be greater than 0")
	}
	if c.MinRecharge <= 0 {
		return fmt.Errorf("ZEST_MIN_RECHARGE must be greater than 0, got %d", c.MinRecharge)
	}
	if c.PollTimeout < 1 || c.PollTimeout > 300 {
		return fmt.Errorf("ZEST_POLL_TIMEOUT must be between 1 and 300 seconds, got %d", c.PollTimeout)
	}

	parsed, err := url.Parse(c.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("ZEST_PUBLIC_URL must be a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("ZEST_PUBLIC_URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("ZEST_PUBLIC_URL must include a host")
	}
	return nil
}

func parseAdminIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ZEST_ADMIN_IDS entry %q must be a valid integer: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultInt64(key string, fallback int64) (int64, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}
