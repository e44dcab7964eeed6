package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	devJWTSecret      = "dev_secret"
	devReceiptsSecret = "dev_receipts_secret"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Tuition  TuitionConfig
	Receipts ReceiptsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// TuitionConfig holds installment policy constants. Intervals use the
// "<n>M" (calendar months), "<n>W" (weeks) or "<n>D" (days) grammar.
type TuitionConfig struct {
	MonthlyInterval      string
	QuarterlyInterval    string
	SemiAnnualInterval   string
	CustomInterval       string
	AllocatorMaxAttempts int
	AllocatorRetryDelay  time.Duration
	ReceiptPrefix        string
	CashReferencePrefix  string
	SummaryCacheTTL      time.Duration
	AdmissionRetryLimit  int
}

// ReceiptsConfig configures asynchronous receipt rendering.
type ReceiptsConfig struct {
	Enabled           bool
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// SetConfigFile bypasses viper's not-found error, so a missing .env is checked here.
	if _, err := os.Stat(".env"); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Tuition = TuitionConfig{
		MonthlyInterval:      v.GetString("TUITION_MONTHLY_INTERVAL"),
		QuarterlyInterval:    v.GetString("TUITION_QUARTERLY_INTERVAL"),
		SemiAnnualInterval:   v.GetString("TUITION_SEMIANNUAL_INTERVAL"),
		CustomInterval:       v.GetString("TUITION_CUSTOM_INTERVAL"),
		AllocatorMaxAttempts: v.GetInt("TUITION_ALLOCATOR_MAX_ATTEMPTS"),
		AllocatorRetryDelay:  parseDuration(v.GetString("TUITION_ALLOCATOR_RETRY_DELAY"), 100*time.Millisecond),
		ReceiptPrefix:        v.GetString("TUITION_RECEIPT_PREFIX"),
		CashReferencePrefix:  v.GetString("TUITION_CASH_REFERENCE_PREFIX"),
		SummaryCacheTTL:      parseDuration(v.GetString("TUITION_SUMMARY_CACHE_TTL"), 5*time.Minute),
		AdmissionRetryLimit:  v.GetInt("TUITION_ADMISSION_RETRY_LIMIT"),
	}

	cfg.Receipts = ReceiptsConfig{
		Enabled:           v.GetBool("ENABLE_RECEIPTS"),
		StorageDir:        v.GetString("RECEIPTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("RECEIPTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("RECEIPTS_SIGNED_URL_TTL"), 30*time.Minute),
		WorkerConcurrency: v.GetInt("RECEIPTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("RECEIPTS_WORKER_RETRIES"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the payment pipeline cannot run with. Development secrets
// are refused in production.
func (c *Config) Validate() error {
	var problems []string
	if c.Env == EnvProduction {
		if c.JWT.Secret == "" || c.JWT.Secret == devJWTSecret {
			problems = append(problems, "JWT_SECRET must be set in production")
		}
		if c.Receipts.Enabled && (c.Receipts.SignedURLSecret == "" || c.Receipts.SignedURLSecret == devReceiptsSecret) {
			problems = append(problems, "RECEIPTS_SIGNED_URL_SECRET must be set in production")
		}
	}
	t := c.Tuition
	if strings.TrimSpace(t.ReceiptPrefix) == "" || strings.TrimSpace(t.CashReferencePrefix) == "" {
		problems = append(problems, "receipt and cash reference prefixes are required")
	} else if strings.EqualFold(t.ReceiptPrefix, t.CashReferencePrefix) {
		problems = append(problems, "receipt and cash reference prefixes must differ")
	}
	if t.AllocatorMaxAttempts <= 0 {
		problems = append(problems, "TUITION_ALLOCATOR_MAX_ATTEMPTS must be positive")
	}
	if t.AdmissionRetryLimit <= 0 {
		problems = append(problems, "TUITION_ADMISSION_RETRY_LIMIT must be positive")
	}
	if c.Receipts.Enabled && c.Receipts.WorkerConcurrency <= 0 {
		problems = append(problems, "RECEIPTS_WORKER_CONCURRENCY must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_tuition")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("TUITION_MONTHLY_INTERVAL", "1M")
	v.SetDefault("TUITION_QUARTERLY_INTERVAL", "3M")
	v.SetDefault("TUITION_SEMIANNUAL_INTERVAL", "6M")
	v.SetDefault("TUITION_CUSTOM_INTERVAL", "1M")
	v.SetDefault("TUITION_ALLOCATOR_MAX_ATTEMPTS", 5)
	v.SetDefault("TUITION_ALLOCATOR_RETRY_DELAY", "100ms")
	v.SetDefault("TUITION_RECEIPT_PREFIX", "RCPT")
	v.SetDefault("TUITION_CASH_REFERENCE_PREFIX", "CASH")
	v.SetDefault("TUITION_SUMMARY_CACHE_TTL", "5m")
	v.SetDefault("TUITION_ADMISSION_RETRY_LIMIT", 3)

	v.SetDefault("ENABLE_RECEIPTS", false)
	v.SetDefault("RECEIPTS_STORAGE_DIR", "./receipts")
	v.SetDefault("RECEIPTS_SIGNED_URL_SECRET", devReceiptsSecret)
	v.SetDefault("RECEIPTS_SIGNED_URL_TTL", "30m")
	v.SetDefault("RECEIPTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("RECEIPTS_WORKER_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
