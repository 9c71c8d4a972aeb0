package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type LogConfig struct {
	Level  string
	Format string
}

type Config struct {
	HTTPPort        int
	DBPath          string
	Log             LogConfig
	AuditInterval   time.Duration
	StrictReconcile bool
	PreviewPeriods  int
	ServiceName     string
}

// Load reads the configuration from the environment, falling back to defaults.
func Load() Config {
	return Config{
		HTTPPort: getEnvInt("HTTP_PORT", 8080),
		DBPath:   getEnv("DB_PATH", "coopledger.db"),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		AuditInterval:   getEnvDuration("AUDIT_INTERVAL", time.Hour),
		StrictReconcile: getEnvBool("STRICT_RECONCILE", false),
		PreviewPeriods:  getEnvInt("PREVIEW_PERIODS", 6),
		ServiceName:     "coopledger",
	}
}

// Validate reports configuration values the service cannot run with.
func (c Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT %d out of range", c.HTTPPort)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.AuditInterval <= 0 {
		return fmt.Errorf("AUDIT_INTERVAL must be positive")
	}
	if c.PreviewPeriods < 1 {
		return fmt.Errorf("PREVIEW_PERIODS must be at least 1")
	}
	return nil
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
