package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/shopguard/internal/logger"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProduction
	defaultStorage         = StoragePostgres
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 7 * 24 * time.Hour
	defaultSignatureWindow = 2 * time.Minute
	defaultOTPTTL          = 5 * time.Minute
	defaultSweepInterval   = time.Minute
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Storage backend: postgres or memory
	// Memory keeps nothing between restarts, use it for development only
	Storage string

	// Database to connect to
	DatabaseDSN string

	// Redis to keep security records in (used signatures, revocations)
	// If empty they are kept in the database
	RedisURL string

	// Secret key to sign access and refresh tokens
	SecretKey string

	// Secret shared with clients to sign requests
	SignatureSecret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Signed request older than window is rejected
	SignatureWindow time.Duration

	// One-time code lifetime
	OTPTTL time.Duration

	// How often expired security records are deleted
	SweepInterval time.Duration

	// Environment
	Environment string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:        defaultLoggingLevel,
		ListenAddr:      defaultListenAddr,
		Storage:         defaultStorage,
		AccessTTL:       defaultAccessTTL,
		RefreshTTL:      defaultRefreshTTL,
		SignatureWindow: defaultSignatureWindow,
		OTPTTL:          defaultOTPTTL,
		SweepInterval:   defaultSweepInterval,
		Environment:     defaultEnvironment,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":       setString(&c.ListenAddr),
		"STORAGE":           setString(&c.Storage),
		"DATABASE_URI":      setString(&c.DatabaseDSN),
		"REDIS_URL":         setString(&c.RedisURL),
		"SECRET_KEY":        setString(&c.SecretKey),
		"SIGNATURE_SECRET":  setString(&c.SignatureSecret),
		"ACCESS_TOKEN_TTL":  setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL": setDuration(&c.RefreshTTL),
		"SIGNATURE_WINDOW":  setDuration(&c.SignatureWindow),
		"OTP_TTL":           setDuration(&c.OTPTTL),
		"SWEEP_INTERVAL":    setDuration(&c.SweepInterval),
		"LOG_LEVEL":         setString(&c.LogLevel),
		"ENVIRONMENT":       setString(&c.Environment),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s. Err: %w", key, err)
		}
	}
	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("shopguard", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVar(&c.Storage, "storage", c.Storage, "Storage backend (postgres, memory)")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.RedisURL, "redis", "r", c.RedisURL, "Redis URL for security records")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign tokens")
	fs.StringVar(&c.SignatureSecret, "signature-secret", c.SignatureSecret, "Secret to verify signed requests")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.DurationVar(&c.SignatureWindow, "signature-window", c.SignatureWindow, "Signed request freshness window")
	fs.DurationVar(&c.OTPTTL, "otp-ttl", c.OTPTTL, "One-time code lifetime")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Expired records cleanup interval")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production)")

	return fs.Parse(args)
}
