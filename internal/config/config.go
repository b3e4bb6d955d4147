package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config is populated from environment variables.
type Config struct {
	App      AppConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Signing  SigningConfig
	Contract ContractConfig
	Email    EmailConfig
	SMS      SMSConfig
	Chat     ChatConfig
	MinIO    MinIOConfig
	Job      JobConfig
}

type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Port        string
	Version     string
	CORSOrigins []string
}

// StoreConfig selects the contract store: "postgres" or "memory".
type StoreConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	SSLMode           string
	MaxConns          int
	MinConns          int
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	ConnectTimeout    time.Duration
}

// RedisConfig. An empty Host disables the list cache and the task queue.
type RedisConfig struct {
	Host     string
	Password string
	DB       int
}

// JWTConfig verifies access tokens minted by the identity provider.
type JWTConfig struct {
	Secret string
}

type SigningConfig struct {
	LinkSecret    string
	BaseURL       string
	LinkTTL       time.Duration // 0 means links never expire
	WebhookSecret string
}

type ContractConfig struct {
	CentsThreshold    int64
	Ceiling           int64
	AutoSaveDebounce  time.Duration
	AutoSaveIdleTTL   time.Duration
	ProcessingTimeout time.Duration
}

// EmailConfig. Provider is "smtp" or "mock".
type EmailConfig struct {
	Provider string
	SMTPHost string
	SMTPPort string
	Username string
	Password string
	From     string
}

// SMSConfig. Provider is "twilio" or "mock".
type SMSConfig struct {
	Provider   string
	AccountSID string
	AuthToken  string
	FromNumber string
}

// ChatConfig. An empty WebhookURL uses the mock sender.
type ChatConfig struct {
	WebhookURL string
	Token      string
}

// MinIOConfig. An empty Endpoint stores documents under LocalDir instead.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
	LocalDir  string
}

type JobConfig struct {
	StaleSweepCron  string
	NoticeSweepCron string
	// NoticeGrace is how long a completed contract may go without a
	// completion notice attempt before the sweep sends one.
	NoticeGrace time.Duration
	Concurrency int
}

const defaultJWTSecret = "your-secret-key-change-in-production"

// Load reads config from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "Contract Orchestrator"),
			Environment: getEnv("APP_ENV", "development"),
			Port:        getEnv("APP_PORT", "8080"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
			CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Store: StoreConfig{
			Driver: getEnv("STORE_DRIVER", "postgres"),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Database:          getEnv("DB_NAME", "contracts"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          getEnvInt("DB_MAX_CONNS", 25),
			MinConns:          getEnvInt("DB_MIN_CONNS", 5),
			MaxConnLifetime:   getEnvDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvDuration("DB_MAX_CONN_IDLE_TIME", time.Minute),
			HealthCheckPeriod: getEnvDuration("DB_HEALTH_CHECK_PERIOD", time.Minute),
			MaxRetries:        getEnvInt("DB_MAX_RETRIES", 5),
			RetryDelay:        getEnvDuration("DB_RETRY_DELAY", time.Second),
			ConnectTimeout:    getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", defaultJWTSecret),
		},
		Signing: SigningConfig{
			LinkSecret:    getEnv("SIGNING_LINK_SECRET", ""),
			BaseURL:       getEnv("SIGNING_BASE_URL", "http://localhost:3000"),
			LinkTTL:       getEnvDuration("SIGNING_LINK_TTL", 0),
			WebhookSecret: getEnv("SIGNATURE_WEBHOOK_SECRET", ""),
		},
		Contract: ContractConfig{
			CentsThreshold:    int64(getEnvInt("CONTRACT_CENTS_THRESHOLD", 10000)),
			Ceiling:           int64(getEnvInt("CONTRACT_AMOUNT_CEILING", 1000000)),
			AutoSaveDebounce:  getEnvDuration("AUTOSAVE_DEBOUNCE", 2*time.Second),
			AutoSaveIdleTTL:   getEnvDuration("AUTOSAVE_IDLE_TTL", 30*time.Minute),
			ProcessingTimeout: getEnvDuration("CONTRACT_PROCESSING_TIMEOUT", 10*time.Minute),
		},
		Email: EmailConfig{
			Provider: getEnv("EMAIL_PROVIDER", "mock"),
			SMTPHost: getEnv("SMTP_HOST", "localhost"),
			SMTPPort: getEnv("SMTP_PORT", "1025"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("EMAIL_FROM", "contracts@owlfenc.com"),
		},
		SMS: SMSConfig{
			Provider:   getEnv("SMS_PROVIDER", "mock"),
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
		},
		Chat: ChatConfig{
			WebhookURL: getEnv("CHAT_WEBHOOK_URL", ""),
			Token:      getEnv("CHAT_WEBHOOK_TOKEN", ""),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("MINIO_BUCKET", "contracts"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			PublicURL: getEnv("MINIO_PUBLIC_URL", ""),
			LocalDir:  getEnv("DOCUMENT_DIR", "./data/documents"),
		},
		Job: JobConfig{
			StaleSweepCron:  getEnv("JOB_STALE_SWEEP_CRON", "*/5 * * * *"),
			NoticeSweepCron: getEnv("JOB_NOTICE_SWEEP_CRON", "*/10 * * * *"),
			NoticeGrace:     getEnvDuration("JOB_NOTICE_GRACE", 15*time.Minute),
			Concurrency:     getEnvInt("WORKER_CONCURRENCY", 10),
		},
	}

	if cfg.Signing.LinkSecret == "" {
		cfg.Signing.LinkSecret = cfg.JWT.Secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings that cannot work and insecure production defaults.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.Store.Driver)
	}
	if c.Contract.CentsThreshold <= 0 {
		return fmt.Errorf("CONTRACT_CENTS_THRESHOLD must be positive")
	}
	if c.Contract.Ceiling <= 0 {
		return fmt.Errorf("CONTRACT_AMOUNT_CEILING must be positive")
	}
	if c.Contract.AutoSaveDebounce <= 0 {
		return fmt.Errorf("AUTOSAVE_DEBOUNCE must be positive")
	}

	if c.App.Environment == "production" {
		if c.JWT.Secret == defaultJWTSecret {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.Signing.LinkSecret == defaultJWTSecret {
			return fmt.Errorf("SIGNING_LINK_SECRET must be set in production")
		}
		if c.Store.Driver == "postgres" && c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD must be set in production")
		}
		if c.Signing.WebhookSecret == "" {
			log.Warn().Msg("SIGNATURE_WEBHOOK_SECRET not set - signature webhook will reject every event")
		}
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
