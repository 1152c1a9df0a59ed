package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppPort            string
	SQLiteDSN          string
	LogLevel           string
	CORSAllowedOrigins []string

	SePayAPIURL         string
	SePayQRURL          string
	SePayAPIToken       string
	SePayAccountNumber  string
	SePayBankName       string
	SePayWebhookAPIKey  string
	SePayWebhookSecret  string
	SigMaxAgeSeconds    int64
	SePayTimeoutSeconds int64
	SePayListLimit      int64
	PaymentCurrency     string
	PremiumPrice        int64
	PlanDurationDays    int64
	PendingTTLMinutes   int64
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getList(key, def string) []string {
	var out []string
	for _, s := range strings.Split(getenv(key, def), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func Load() Config {
	return Config{
		AppPort:            getenv("APP_PORT", "8080"),
		SQLiteDSN:          getenv("SQLITE_DSN", "./app.db"),
		LogLevel:           getenv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		SePayAPIURL:         getenv("SEPAY_API_URL", "https://my.sepay.vn/userapi"),
		SePayQRURL:          getenv("SEPAY_QR_URL", "https://qr.sepay.vn/img"),
		SePayAPIToken:       os.Getenv("SEPAY_API_TOKEN"),
		SePayAccountNumber:  os.Getenv("SEPAY_ACCOUNT_NUMBER"),
		SePayBankName:       os.Getenv("SEPAY_BANK_NAME"),
		SePayWebhookAPIKey:  os.Getenv("SEPAY_WEBHOOK_API_KEY"),
		SePayWebhookSecret:  os.Getenv("SEPAY_WEBHOOK_HMAC_SECRET"),
		SigMaxAgeSeconds:    getInt64("SIG_MAX_AGE_SECONDS", 300),
		SePayTimeoutSeconds: getInt64("SEPAY_TIMEOUT_SECONDS", 10),
		SePayListLimit:      getInt64("SEPAY_LIST_LIMIT", 20),
		PaymentCurrency:     getenv("PAYMENT_CURRENCY", "VND"),
		PremiumPrice:        getInt64("PLAN_PREMIUM_PRICE", 99000),
		PlanDurationDays:    getInt64("PLAN_DURATION_DAYS", 30),
		PendingTTLMinutes:   getInt64("PAYMENT_PENDING_TTL_MINUTES", 30),
	}
}

func (c Config) SePayTimeout() time.Duration {
	return time.Duration(c.SePayTimeoutSeconds) * time.Second
}

func (c Config) SigMaxAge() time.Duration {
	return time.Duration(c.SigMaxAgeSeconds) * time.Second
}

func (c Config) PlanDuration() time.Duration {
	return time.Duration(c.PlanDurationDays) * 24 * time.Hour
}

func (c Config) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLMinutes) * time.Minute
}
