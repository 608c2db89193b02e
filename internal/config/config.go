package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	LogLevel    string
	AutoMigrate bool

	OTPTTL            time.Duration
	ResetTokenTTL     time.Duration
	MinPasswordLength int
	BcryptCost        int

	// AllowDegradedOTP accepts any well-formed code when the OTP table is
	// missing. Demo deployments only; rejected in production.
	AllowDegradedOTP bool
	// ResetTokenSecret switches reset tokens from the legacy base64 format
	// to HS256-signed tokens.
	ResetTokenSecret string
	// OTPDevMode keeps issued codes in memory for GET /api/v1/dev/otp.
	OTPDevMode bool

	SMSAPIKey  string
	SMSBaseURL string
	SMSSender  string

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPUseTLS   bool

	RateLimitLimit  int64
	RateLimitPeriod time.Duration
	AllowedOrigins  []string
}

// Load reads .env when present and builds the Config from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		host := getEnv("PSQL_HOST", "localhost")
		port := getEnv("PSQL_PORT", "5432")
		user := getEnv("PSQL_USER", "postgres")
		password := getEnv("PSQL_PASSWORD", "postgres")
		dbName := getEnv("PSQL_DB_NAME", "phonereset")

		u := &url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(user, password),
			Host:   host + ":" + port,
			Path:   dbName,
		}
		q := u.Query()
		q.Set("sslmode", "disable")
		u.RawQuery = q.Encode()
		databaseURL = u.String()
	}

	env := getEnv("ENVIRONMENT", "development")
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      env,
		DatabaseURL:      databaseURL,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		ResetTokenSecret: os.Getenv("RESET_TOKEN_SECRET"),
		SMSAPIKey:        os.Getenv("SMS_API_KEY"),
		SMSBaseURL:       os.Getenv("SMS_BASE_URL"),
		SMSSender:        os.Getenv("SMS_SENDER"),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         getEnv("SMTP_PORT", "587"),
		SMTPUser:         os.Getenv("SMTP_USER"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:         os.Getenv("SMTP_FROM"),
		AllowedOrigins:   splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	var err error
	if cfg.AutoMigrate, err = getBool("AUTO_MIGRATE", true); err != nil {
		return nil, err
	}
	if cfg.AllowDegradedOTP, err = getBool("OTP_DEGRADED_MODE", env != "production"); err != nil {
		return nil, err
	}
	if cfg.OTPDevMode, err = getBool("OTP_DEV_MODE", false); err != nil {
		return nil, err
	}
	if cfg.SMTPUseTLS, err = getBool("SMTP_USE_TLS", false); err != nil {
		return nil, err
	}
	if cfg.OTPTTL, err = getDuration("OTP_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ResetTokenTTL, err = getDuration("RESET_TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateLimitPeriod, err = getDuration("RATE_LIMIT_PERIOD", time.Minute); err != nil {
		return nil, err
	}
	if cfg.MinPasswordLength, err = getInt("MIN_PASSWORD_LENGTH", 6); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = getInt("BCRYPT_COST", 10); err != nil {
		return nil, err
	}
	limit, err := getInt("RATE_LIMIT_LIMIT", 5)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitLimit = int64(limit)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: PORT must be set")
	}
	if c.IsProduction() && c.AllowDegradedOTP {
		return errors.New("config: OTP_DEGRADED_MODE must not be true when ENVIRONMENT=production")
	}
	if c.IsProduction() && c.OTPDevMode {
		return errors.New("config: OTP_DEV_MODE must not be true when ENVIRONMENT=production")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.MinPasswordLength <= 0 {
		return errors.New("config: MIN_PASSWORD_LENGTH must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return v, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
