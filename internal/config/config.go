package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the daemon's runtime configuration, sourced from the
// environment with an optional .env overlay in the data directory.
type Config struct {
	DataDir string

	PrometheusURL      string
	InfluxURL          string
	InfluxDatabase     string
	FortigateInfluxURL string
	FortigateInfluxDB  string
	QueryTimeout       time.Duration

	Workers          int
	DeviceStaleAfter time.Duration

	RuleSchedule       string
	UpDownSchedule     string
	ITAMSchedule       string
	ITAMInboxDir       string
	ComplianceSchedule string

	MetricsListen string

	LogLevel  string
	LogFormat string
	LogFile   string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPSender   string
	SMTPSecurity string

	WebhookURL string
}

// Load reads configuration from the environment. A .env next to the data
// directory (and one in the working directory, for development) is loaded
// first so deployments can override without touching the unit file.
func Load() (*Config, error) {
	dataDir := envString("U360_DATA_DIR", "/var/lib/unified360")

	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env overrides")
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	// Re-read after the .env overlay.
	dataDir = envString("U360_DATA_DIR", dataDir)

	cfg := &Config{
		DataDir: dataDir,

		PrometheusURL:      envString("PROMETHEUS_URL", "http://localhost:9090"),
		InfluxURL:          envString("INFLUXDB_URL", "http://localhost:8086"),
		InfluxDatabase:     envString("INFLUXDB_DB", "u360"),
		FortigateInfluxURL: envString("FORTIGATE_INFLUXDB_URL", ""),
		FortigateInfluxDB:  envString("FORTIGATE_INFLUXDB_DB", ""),
		QueryTimeout:       envSeconds("QUERY_TIMEOUT_SECONDS", 30*time.Second),

		Workers:          envInt("ALERT_WORKERS", 4),
		DeviceStaleAfter: envSeconds("DEVICE_STALE_SECONDS", 300*time.Second),

		RuleSchedule:       envString("RULE_SCHEDULE", "@every 1m"),
		UpDownSchedule:     envString("DEVICE_UPDOWN_SCHEDULE", "@every 2m"),
		ITAMSchedule:       envString("ITAM_SCHEDULE", "@every 10m"),
		ITAMInboxDir:       envString("ITAM_INBOX_DIR", filepath.Join(dataDir, "itam-inbox")),
		ComplianceSchedule: envString("COMPLIANCE_SCHEDULE", "@every 6h"),

		MetricsListen: envString("METRICS_LISTEN", ":9750"),

		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "auto"),
		LogFile:   envString("LOG_FILE", ""),

		SMTPHost:     envString("SMTP_HOST", ""),
		SMTPPort:     envInt("SMTP_PORT", 587),
		SMTPUsername: envString("SMTP_USERNAME", ""),
		SMTPPassword: envString("SMTP_PASSWORD", ""),
		SMTPSender:   envString("SMTP_SENDER", ""),
		SMTPSecurity: envString("SMTP_SECURITY", "TLS"),

		WebhookURL: envString("WEBHOOK_URL", ""),
	}

	// The Fortigate collectors usually share the main Influx instance.
	if cfg.FortigateInfluxURL == "" {
		cfg.FortigateInfluxURL = cfg.InfluxURL
	}
	if cfg.FortigateInfluxDB == "" {
		cfg.FortigateInfluxDB = cfg.InfluxDatabase
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("ALERT_WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.DeviceStaleAfter <= 0 {
		return fmt.Errorf("DEVICE_STALE_SECONDS must be positive")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("QUERY_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid seconds value in environment, using default")
		return fallback
	}
	return time.Duration(n) * time.Second
}
