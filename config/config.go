/*
Package config loads runtime settings.

SOURCES (later wins):
  1. Built-in defaults
  2. .env file (optional, joho/godotenv; existing env vars are not overridden)
  3. Process environment
  4. cmd/server flags (--port, --env-file, --resources)

The authorizer's resource allow-list comes from a YAML file keyed by
environment (see resources.go).
*/
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/calculator-engine/auth"
	"github.com/warp/calculator-engine/ledger"
	"github.com/warp/calculator-engine/logging"
)

const (
	EnvLocal = "local"
	EnvLive  = "live"

	ProviderLocal   = "local"
	ProviderCognito = "cognito"
)

type Config struct {
	Environment string
	Port        int

	DBDriver    string
	DatabaseURL string
	SQLitePath  string
	Postgres    PostgresConfig

	IdentityProvider string
	UserPoolRegion   string
	UserPoolID       string
	ClientID         string
	TokenIssuer      string
	JWKSURL          string
	IdentityTimeout  time.Duration
	AuthTimeout      time.Duration
	JWKSRefresh      time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RandomOrgURL  string
	RandomTimeout time.Duration
	RandomRPS     float64

	DefaultBalance decimal.Decimal

	Log logging.Config

	ResourcesFile string
	APIARN        string
}

type PostgresConfig struct {
	Host     string
	Port     string
	DB       string
	User     string
	Password string
	SSLMode  string
}

// DSN renders a pgx connection URL.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     p.Host + ":" + p.Port,
		Path:     "/" + p.DB,
		RawQuery: "sslmode=" + p.SSLMode,
	}
	return u.String()
}

// Load reads envFile (if it exists) and the environment.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	balance, err := decimal.NewFromString(getEnv("DEFAULT_BALANCE", ledger.DefaultBalance.String()))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_BALANCE: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", EnvLocal),
		Port:        getEnvAsInt("PORT", 8080),

		DBDriver:    getEnv("DB_DRIVER", "sqlite3"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "calculator.db"),
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			DB:       getEnv("POSTGRES_DB", "calculator"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},

		IdentityProvider: getEnv("IDENTITY_PROVIDER", ProviderLocal),
		UserPoolRegion:   os.Getenv("USER_POOL_REGION"),
		UserPoolID:       os.Getenv("USER_POOL_ID"),
		ClientID:         os.Getenv("COGNITO_CLIENT_ID"),
		TokenIssuer:      os.Getenv("TOKEN_ISSUER"),
		JWKSURL:          os.Getenv("JWKS_URL"),
		IdentityTimeout:  getEnvAsDuration("IDENTITY_TIMEOUT", 5*time.Second),
		AuthTimeout:      getEnvAsDuration("AUTH_TIMEOUT", 3*time.Second),
		JWKSRefresh:      getEnvAsDuration("JWKS_REFRESH_INTERVAL", time.Hour),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		RandomOrgURL:  getEnv("RANDOM_ORG_URL", "https://www.random.org/strings/"),
		RandomTimeout: getEnvAsDuration("RANDOM_TIMEOUT", 5*time.Second),
		RandomRPS:     getEnvAsFloat("RANDOM_RATE_LIMIT", 0),

		DefaultBalance: balance,

		Log: logging.Config{
			Level:      getEnv("LOG_LEVEL", "info"),
			Pretty:     getEnvAsBool("LOG_PRETTY", false),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE", 28),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
		},

		ResourcesFile: os.Getenv("RESOURCES_FILE"),
		APIARN:        os.Getenv("API_ARN"),
	}

	if cfg.TokenIssuer == "" && cfg.IdentityProvider == ProviderCognito {
		cfg.TokenIssuer = auth.CognitoIssuer(cfg.UserPoolRegion, cfg.UserPoolID)
	}
	if cfg.TokenIssuer == "" {
		cfg.TokenIssuer = fmt.Sprintf("http://localhost:%d/local", cfg.Port)
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = auth.CognitoJWKSURL(cfg.TokenIssuer)
	}

	return cfg, cfg.Validate()
}

// Validate checks combinations the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	switch c.Environment {
	case EnvLocal, EnvLive:
	default:
		return fmt.Errorf("ENVIRONMENT must be %q or %q, got %q", EnvLocal, EnvLive, c.Environment)
	}
	switch c.IdentityProvider {
	case ProviderLocal:
	case ProviderCognito:
		if c.UserPoolRegion == "" || c.UserPoolID == "" || c.ClientID == "" {
			return errors.New("cognito requires USER_POOL_REGION, USER_POOL_ID and COGNITO_CLIENT_ID")
		}
	default:
		return fmt.Errorf("IDENTITY_PROVIDER must be %q or %q, got %q", ProviderLocal, ProviderCognito, c.IdentityProvider)
	}
	if c.DefaultBalance.IsNegative() {
		return errors.New("DEFAULT_BALANCE must not be negative")
	}
	return nil
}

// StoreDSN returns the driver and DSN for sqlstore.Open.
func (c *Config) StoreDSN() (driver, dsn string) {
	switch c.DBDriver {
	case "pgx", "postgres", "postgresql":
		if c.DatabaseURL != "" {
			return "pgx", c.DatabaseURL
		}
		return "pgx", c.Postgres.DSN()
	default:
		return c.DBDriver, c.SQLitePath
	}
}

// =============================================================================
// ENV HELPERS
// =============================================================================

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
