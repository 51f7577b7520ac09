package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "ShareVest"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultTokenTTL       = 12 * time.Hour
	defaultSweepEvery     = time.Hour
)

// Config captures application runtime configuration loaded from environment
// variables. Share pricing values here are the seed used when the pricing
// store has no row yet; after first boot admins mutate pricing at runtime.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	// Seed pricing. Arrays are indexed by tier (0 = tier 1).
	TierCapacities   [3]int64
	TierPricesFiat   [3]int64
	TierPricesStable [3]int64

	CofounderTotal       int64
	CofounderPriceFiat   int64
	CofounderPriceStable int64
	CofounderRatio       int64

	CommissionRates [3]int64

	WithdrawalEnabled    bool
	WithdrawalMinimum    int64
	WithdrawalDailyCap   int
	WithdrawalFeePercent int64

	LateFeePercent        int64
	LateFeeCapPercent     int64
	InstallmentMinMonths  int
	InstallmentMaxMonths  int
	InstallmentMinDownPct int64
	InstallmentGraceDays  int

	SweepInterval time.Duration
}

// Load reads configuration values from the environment and populates a Config
// instance. In development a .env file is honored when present.
func Load() (Config, error) {
	if env := os.Getenv("APP_ENV"); env == "" || isDev(env) {
		_ = godotenv.Load()
	}

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		TokenTTL:       defaultTokenTTL,
		SweepInterval:  defaultSweepEvery,
	}

	var err error
	if cfg.ShutdownPeriod, err = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getEnvDuration("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = getEnvDuration("TOKEN_TTL", cfg.TokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}

	tierDefaults := []struct {
		capacity, fiat, stable int64
	}{
		{2000, 50_000, 50},
		{3000, 70_000, 70},
		{5000, 80_000, 80},
	}
	for i, d := range tierDefaults {
		n := i + 1
		if cfg.TierCapacities[i], err = getEnvInt64(fmt.Sprintf("TIER%d_CAPACITY", n), d.capacity); err != nil {
			return Config{}, err
		}
		if cfg.TierPricesFiat[i], err = getEnvInt64(fmt.Sprintf("TIER%d_PRICE_FIAT", n), d.fiat); err != nil {
			return Config{}, err
		}
		if cfg.TierPricesStable[i], err = getEnvInt64(fmt.Sprintf("TIER%d_PRICE_STABLE", n), d.stable); err != nil {
			return Config{}, err
		}
	}

	if cfg.CofounderTotal, err = getEnvInt64("COFOUNDER_TOTAL", 100); err != nil {
		return Config{}, err
	}
	if cfg.CofounderPriceFiat, err = getEnvInt64("COFOUNDER_PRICE_FIAT", 1_450_000); err != nil {
		return Config{}, err
	}
	if cfg.CofounderPriceStable, err = getEnvInt64("COFOUNDER_PRICE_STABLE", 1_450); err != nil {
		return Config{}, err
	}
	if cfg.CofounderRatio, err = getEnvInt64("COFOUNDER_RATIO", 29); err != nil {
		return Config{}, err
	}
	if cfg.CofounderRatio < 1 {
		return Config{}, fmt.Errorf("COFOUNDER_RATIO must be >= 1, got %d", cfg.CofounderRatio)
	}

	rateDefaults := [3]int64{15, 3, 2}
	for i, d := range rateDefaults {
		if cfg.CommissionRates[i], err = getEnvInt64(fmt.Sprintf("COMMISSION_RATE_GEN%d", i+1), d); err != nil {
			return Config{}, err
		}
	}

	if cfg.WithdrawalEnabled, err = getEnvBool("WITHDRAWAL_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.WithdrawalMinimum, err = getEnvInt64("WITHDRAWAL_MINIMUM", 1_000); err != nil {
		return Config{}, err
	}
	if cfg.WithdrawalDailyCap, err = getEnvInt("WITHDRAWAL_DAILY_CAP", 5); err != nil {
		return Config{}, err
	}
	if cfg.WithdrawalFeePercent, err = getEnvInt64("WITHDRAWAL_FEE_PERCENT", 2); err != nil {
		return Config{}, err
	}

	if cfg.LateFeePercent, err = getEnvInt64("LATE_FEE_PERCENT", 2); err != nil {
		return Config{}, err
	}
	if cfg.LateFeeCapPercent, err = getEnvInt64("LATE_FEE_CAP_PERCENT", 5); err != nil {
		return Config{}, err
	}
	if cfg.InstallmentMinMonths, err = getEnvInt("INSTALLMENT_MIN_MONTHS", 2); err != nil {
		return Config{}, err
	}
	if cfg.InstallmentMaxMonths, err = getEnvInt("INSTALLMENT_MAX_MONTHS", 12); err != nil {
		return Config{}, err
	}
	if cfg.InstallmentMinDownPct, err = getEnvInt64("INSTALLMENT_MIN_DOWN_PCT", 20); err != nil {
		return Config{}, err
	}
	if cfg.InstallmentGraceDays, err = getEnvInt("INSTALLMENT_GRACE_DAYS", 30); err != nil {
		return Config{}, err
	}

	if cfg.DatabaseURL == "" && !isDev(cfg.AppEnv) {
		return Config{}, fmt.Errorf("DATABASE_URL must be set outside development")
	}
	if cfg.RedisURL == "" && !isDev(cfg.AppEnv) {
		return Config{}, fmt.Errorf("REDIS_URL must be set outside development")
	}
	if cfg.JWTSecret == "" {
		if isDev(cfg.AppEnv) {
			cfg.JWTSecret = "dev-secret-do-not-use"
		} else {
			return Config{}, fmt.Errorf("JWT_SECRET must be set outside development")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// Dev reports whether the process runs in a development environment.
func (c Config) Dev() bool { return isDev(c.AppEnv) }

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}
