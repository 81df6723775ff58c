package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Variables already set win. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Environment variables supported:
// - DISCORD_TOKEN, DEFAULT_CHANNEL_ID (required)
// - PARCEL_COMMAND_PREFIX (string, e.g. "!")
// - PARCEL_POLL_INTERVAL, PARCEL_FETCH_TIMEOUT (duration, e.g. "10m")
// - PARCEL_MAX_CONCURRENT_FETCHES (int)
// - PARCEL_CARRIER_URL, PARCEL_USER_AGENT, PARCEL_STATE_FILE (string)
// - PARCEL_LOG_LEVEL, PARCEL_LOG_FILE, PARCEL_LOG_FORMAT (string)
// - PARCEL_METRICS_ENABLED (bool), PARCEL_METRICS_PORT (int)
// - PARCEL_INFLUX_URL, PARCEL_INFLUX_TOKEN, PARCEL_INFLUX_ORG, PARCEL_INFLUX_BUCKET, PARCEL_INFLUX_INTERVAL
// - PARCEL_NOTIFICATION_LEVEL and the mirror webhook/email variables
func ApplyEnvOverrides(cfg *Config) error {
	if err := applySessionEnv(cfg); err != nil {
		return err
	}
	if err := applyPollingEnv(cfg); err != nil {
		return err
	}
	if err := applyMetricsEnv(cfg); err != nil {
		return err
	}
	if err := applyInfluxEnv(cfg); err != nil {
		return err
	}
	if err := applyMirrorEnv(cfg); err != nil {
		return err
	}
	return applyEmailEnv(cfg)
}

func applySessionEnv(cfg *Config) error {
	setStringEnv("DISCORD_TOKEN", &cfg.DiscordToken)
	setStringEnv("DEFAULT_CHANNEL_ID", &cfg.DefaultChannelID)
	setStringEnv("PARCEL_COMMAND_PREFIX", &cfg.CommandPrefix)
	setStringEnv("PARCEL_LOG_LEVEL", &cfg.LogLevel)
	setStringEnv("PARCEL_LOG_FILE", &cfg.LogFile)
	setStringEnv("PARCEL_LOG_FORMAT", &cfg.LogFormat)
	return nil
}

func applyPollingEnv(cfg *Config) error {
	if err := setDurationEnv("PARCEL_POLL_INTERVAL", &cfg.PollInterval); err != nil {
		return err
	}
	if err := setDurationEnv("PARCEL_FETCH_TIMEOUT", &cfg.FetchTimeout); err != nil {
		return err
	}
	if err := setIntEnv("PARCEL_MAX_CONCURRENT_FETCHES", &cfg.MaxConcurrentFetches); err != nil {
		return err
	}
	setStringEnv("PARCEL_CARRIER_URL", &cfg.CarrierBaseURL)
	setStringEnv("PARCEL_USER_AGENT", &cfg.UserAgent)
	setStringEnv("PARCEL_STATE_FILE", &cfg.StateFile)
	return nil
}

// applyMetricsEnv consolidates metrics-related env parsing
func applyMetricsEnv(cfg *Config) error {
	if err := setBoolEnv("PARCEL_METRICS_ENABLED", func(b bool) { cfg.MetricsEnabled = b }); err != nil {
		return err
	}
	return setIntEnv("PARCEL_METRICS_PORT", &cfg.MetricsPort)
}

// applyInfluxEnv consolidates Influx-related env parsing
func applyInfluxEnv(cfg *Config) error {
	setStringEnv("PARCEL_INFLUX_URL", &cfg.InfluxURL)
	setStringEnv("PARCEL_INFLUX_TOKEN", &cfg.InfluxToken)
	setStringEnv("PARCEL_INFLUX_ORG", &cfg.InfluxOrg)
	setStringEnv("PARCEL_INFLUX_BUCKET", &cfg.InfluxBucket)
	return setDurationEnv("PARCEL_INFLUX_INTERVAL", &cfg.InfluxInterval)
}

func applyMirrorEnv(cfg *Config) error {
	setStringEnv("PARCEL_NOTIFICATION_LEVEL", &cfg.NotificationLevel)
	setStringEnv("PARCEL_SLACK_WEBHOOK", &cfg.SlackWebhook)
	setStringEnv("PARCEL_DISCORD_WEBHOOK", &cfg.DiscordWebhook)
	setStringEnv("PARCEL_TELEGRAM_TOKEN", &cfg.TelegramToken)
	setStringEnv("PARCEL_TELEGRAM_CHAT_ID", &cfg.TelegramChatID)
	setStringEnv("PARCEL_GOTIFY_URL", &cfg.GotifyURL)
	setStringEnv("PARCEL_GOTIFY_TOKEN", &cfg.GotifyToken)
	setStringEnv("PARCEL_GENERIC_WEBHOOK_URL", &cfg.GenericWebhookURL)
	return nil
}

// applyEmailEnv consolidates email-related env parsing
func applyEmailEnv(cfg *Config) error {
	setStringEnv("PARCEL_EMAIL_HOST", &cfg.EmailHost)
	setStringEnv("PARCEL_EMAIL_USER", &cfg.EmailUser)
	setStringEnv("PARCEL_EMAIL_PASS", &cfg.EmailPass)
	if err := setIntEnv("PARCEL_EMAIL_PORT", &cfg.EmailPort); err != nil {
		return err
	}
	if v := os.Getenv("PARCEL_EMAIL_TO"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.EmailTo = parts
	}
	return nil
}

func setStringEnv(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setDurationEnv(env string, dst *time.Duration) error {
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		*dst = d
	}
	return nil
}

func setIntEnv(env string, dst *int) error {
	if v := os.Getenv(env); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		*dst = n
	}
	return nil
}

// setBoolEnv is a small helper to parse boolean environment variables
func setBoolEnv(env string, setter func(bool)) error {
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(b)
	}
	return nil
}
