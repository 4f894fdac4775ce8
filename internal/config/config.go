package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the runtime configuration of the authcore service.
type Config struct {
	HTTPAddr        string        `env:"AUTHCORE_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string        `env:"AUTHCORE_GRPC_ADDR" envDefault:":9090"`
	ShutdownTimeout time.Duration `env:"AUTHCORE_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"AUTHCORE_LOG_LEVEL" envDefault:"info"`
	CORSOrigins     []string      `env:"AUTHCORE_CORS_ORIGINS" envSeparator:","`

	PostgresDSN string `env:"AUTHCORE_PG_DSN"`
	RedisAddr   string `env:"AUTHCORE_REDIS_ADDR"`
	RedisDB     int    `env:"AUTHCORE_REDIS_DB" envDefault:"0"`

	JWTAlgorithm     string        `env:"AUTHCORE_JWT_ALG" envDefault:"HS256"`
	JWTSecret        string        `env:"AUTHCORE_JWT_SECRET"`
	JWTPrivateKeyPEM string        `env:"AUTHCORE_JWT_PRIVATE_KEY"`
	JWTPublicKeyPEM  string        `env:"AUTHCORE_JWT_PUBLIC_KEY"`
	JWTKeyID         string        `env:"AUTHCORE_JWT_KID"`
	JWTIssuer        string        `env:"AUTHCORE_JWT_ISSUER" envDefault:"authcore"`
	JWTAudience      string        `env:"AUTHCORE_JWT_AUDIENCE" envDefault:"authcore-api"`
	JWTLeeway        time.Duration `env:"AUTHCORE_JWT_LEEWAY" envDefault:"0s"`
	AccessTTL        time.Duration `env:"AUTHCORE_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL       time.Duration `env:"AUTHCORE_REFRESH_TTL" envDefault:"336h"`
	ChallengeTTL     time.Duration `env:"AUTHCORE_CHALLENGE_TTL" envDefault:"300s"`
	StoreTimeout     time.Duration `env:"AUTHCORE_STORE_TIMEOUT" envDefault:"3s"`

	TOTPIssuer      string `env:"AUTHCORE_TOTP_ISSUER" envDefault:"authcore"`
	TOTPDigits      int    `env:"AUTHCORE_TOTP_DIGITS" envDefault:"6"`
	TOTPSealKey     string `env:"AUTHCORE_TOTP_SEAL_KEY"`
	BackupCodeCount int    `env:"AUTHCORE_BACKUP_CODES" envDefault:"10"`

	LoginRatePerMinute int `env:"AUTHCORE_LOGIN_RATE_PER_MINUTE" envDefault:"10"`
	LoginRateBurst     int `env:"AUTHCORE_LOGIN_RATE_BURST" envDefault:"5"`

	BootstrapEmail    string `env:"AUTHCORE_BOOTSTRAP_EMAIL"`
	BootstrapPassword string `env:"AUTHCORE_BOOTSTRAP_PASSWORD"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the signing algorithm has the key material it needs.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToUpper(c.JWTAlgorithm) {
	case "HS256":
		if len(c.JWTSecret) < 32 {
			errs = append(errs, errors.New("AUTHCORE_JWT_SECRET must be at least 32 bytes for HS256"))
		}
	case "RS256", "EDDSA":
		if strings.TrimSpace(c.JWTPrivateKeyPEM) == "" && strings.TrimSpace(c.JWTPublicKeyPEM) == "" {
			errs = append(errs, fmt.Errorf("AUTHCORE_JWT_PRIVATE_KEY or AUTHCORE_JWT_PUBLIC_KEY is required for %s", c.JWTAlgorithm))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported AUTHCORE_JWT_ALG %q", c.JWTAlgorithm))
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.AccessTTL > c.RefreshTTL {
		errs = append(errs, errors.New("AUTHCORE_ACCESS_TTL must not exceed AUTHCORE_REFRESH_TTL"))
	}
	if c.TOTPDigits < 6 || c.TOTPDigits > 8 {
		errs = append(errs, errors.New("AUTHCORE_TOTP_DIGITS must be between 6 and 8"))
	}
	if c.TOTPSealKey != "" {
		if _, err := c.SealKey(); err != nil {
			errs = append(errs, err)
		}
	}
	if (c.BootstrapEmail == "") != (c.BootstrapPassword == "") {
		errs = append(errs, errors.New("AUTHCORE_BOOTSTRAP_EMAIL and AUTHCORE_BOOTSTRAP_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}

// SealKey decodes the base64 AES key used to seal TOTP secrets.
func (c Config) SealKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.TOTPSealKey))
	if err != nil {
		return nil, fmt.Errorf("AUTHCORE_TOTP_SEAL_KEY: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	return nil, fmt.Errorf("AUTHCORE_TOTP_SEAL_KEY must decode to 16, 24 or 32 bytes, got %d", len(key))
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
