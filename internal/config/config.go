package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendPostgres  = "postgres"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Config holds every runtime setting read from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	LogFormat        string
	HTTPListenAddr   string
	PublicBaseURL    string
	PublicBasePath   string
	MetricsNamespace string

	StoreBackend            string
	DatabaseURL             string
	DatabaseSchema          string
	SQLitePath              string
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisTLS        bool
	RankingCacheTTL time.Duration

	PSPBaseURL        string
	PSPAPIToken       string
	PSPTimeout        time.Duration
	PSPSplitAccountID string
	PSPSoftDescriptor string
	PSPWebhookSecret  string

	TelegramBaseURL       string
	TelegramBotToken      string
	TelegramBotUsername   string
	TelegramWebhookSecret string
	TokenLookupAttempts   int
	TokenLookupDelay      time.Duration

	PackagesFile string

	// Cash-out thresholds. Residual and usage are credits, deposit is currency.
	CashOutMinResidual int64
	CashOutMinUsage    int64
	CashOutMinDeposit  decimal.Decimal
	PaymentExpiry      time.Duration
}

// Load reads the configuration from the environment and applies defaults.
func Load() (*Config, error) {
	var errs []error

	redisDB, err := getIntEnv("REDIS_DB", 0)
	errs = append(errs, err)
	rankingTTL, err := getDurationEnv("RANKING_CACHE_TTL", 5*time.Minute)
	errs = append(errs, err)
	pspTimeout, err := getDurationEnv("PSP_TIMEOUT", 15*time.Second)
	errs = append(errs, err)
	lookupAttempts, err := getIntEnv("TOKEN_LOOKUP_ATTEMPTS", 3)
	errs = append(errs, err)
	lookupDelay, err := getDurationEnv("TOKEN_LOOKUP_DELAY", time.Second)
	errs = append(errs, err)
	minResidual, err := getInt64Env("CASHOUT_MIN_RESIDUAL", 500)
	errs = append(errs, err)
	minUsage, err := getInt64Env("CASHOUT_MIN_USAGE", 3000)
	errs = append(errs, err)
	minDeposit, err := getDecimalEnv("CASHOUT_MIN_DEPOSIT", decimal.NewFromInt(10))
	errs = append(errs, err)
	expiry, err := getDurationEnv("PAYMENT_EXPIRY", time.Hour)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBaseURL:    strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		PublicBasePath:   getEnv("PUBLIC_BASE_PATH", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "milenio"),

		StoreBackend:            strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		DatabaseSchema:          getEnv("DATABASE_SCHEMA", "public"),
		SQLitePath:              getEnv("SQLITE_PATH", "data/milenio.db"),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         redisDB,
		RedisTLS:        getBoolEnv("REDIS_TLS", false),
		RankingCacheTTL: rankingTTL,

		PSPBaseURL:        strings.TrimRight(getEnv("PSP_BASE_URL", "https://api.pagseguro.com"), "/"),
		PSPAPIToken:       getEnv("PSP_API_TOKEN", ""),
		PSPTimeout:        pspTimeout,
		PSPSplitAccountID: getEnv("PSP_SPLIT_ACCOUNT_ID", ""),
		PSPSoftDescriptor: getEnv("PSP_SOFT_DESCRIPTOR", "SHOWMILENIO"),
		PSPWebhookSecret:  getEnv("PSP_WEBHOOK_SECRET", ""),

		TelegramBaseURL:       strings.TrimRight(getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"), "/"),
		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramBotUsername:   getEnv("TELEGRAM_BOT_USERNAME", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		TokenLookupAttempts:   lookupAttempts,
		TokenLookupDelay:      lookupDelay,

		PackagesFile: getEnv("PACKAGES_FILE", ""),

		CashOutMinResidual: minResidual,
		CashOutMinUsage:    minUsage,
		CashOutMinDeposit:  minDeposit,
		PaymentExpiry:      expiry,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing mandatory values for the selected store backend.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s backend", c.StoreBackend)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the %s backend", c.StoreBackend)
		}
	case BackendFirestore:
		if c.FirebaseProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the %s backend", c.StoreBackend)
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend)
	}
	if c.TokenLookupAttempts < 1 {
		return fmt.Errorf("TOKEN_LOOKUP_ATTEMPTS must be at least 1")
	}
	if c.CashOutMinResidual < 0 || c.CashOutMinUsage < 0 || c.CashOutMinDeposit.IsNegative() {
		return fmt.Errorf("cash-out thresholds must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getIntEnv(key string, fallback int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getInt64Env(key string, fallback int64) (int64, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getDecimalEnv(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
