package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent mimics a desktop browser. The carrier rejects requests
// that do not look like they come from its tracking page.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Config holds runtime configuration for the parcel tracker
type Config struct {
	// Chat session
	DiscordToken     string `json:"discord_token" yaml:"discord_token"`
	DefaultChannelID string `json:"default_channel_id" yaml:"default_channel_id"`
	CommandPrefix    string `json:"command_prefix" yaml:"command_prefix"`

	// Polling
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	// MaxConcurrentFetches limits how many carrier requests a pass issues in parallel.
	// Default: 1 (sequential).
	MaxConcurrentFetches int `json:"max_concurrent_fetches" yaml:"max_concurrent_fetches"`

	// Carrier endpoint
	CarrierBaseURL string `json:"carrier_base_url" yaml:"carrier_base_url"`
	UserAgent      string `json:"user_agent" yaml:"user_agent"`

	// StateFile is the JSON file holding tracked shipments
	StateFile string `json:"state_file" yaml:"state_file"`

	// Logging
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFile   string `json:"log_file" yaml:"log_file"`
	LogFormat string `json:"log_format" yaml:"log_format"` // "json" or "console"

	// Metrics
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPort    int  `json:"metrics_port" yaml:"metrics_port"`

	// InfluxDB (push)
	InfluxURL      string        `json:"influx_url" yaml:"influx_url"`
	InfluxToken    string        `json:"influx_token" yaml:"influx_token"`
	InfluxOrg      string        `json:"influx_org" yaml:"influx_org"`
	InfluxBucket   string        `json:"influx_bucket" yaml:"influx_bucket"`
	InfluxInterval time.Duration `json:"influx_interval" yaml:"influx_interval"`

	// Operator mirror
	NotificationLevel string `json:"notification_level" yaml:"notification_level"` // "all", "updates", "none"
	SlackWebhook      string `json:"slack_webhook" yaml:"slack_webhook"`
	DiscordWebhook    string `json:"discord_webhook" yaml:"discord_webhook"`
	TelegramToken     string `json:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string `json:"telegram_chat_id" yaml:"telegram_chat_id"`
	GotifyURL         string `json:"gotify_url" yaml:"gotify_url"`
	GotifyToken       string `json:"gotify_token" yaml:"gotify_token"`
	GenericWebhookURL string `json:"generic_webhook_url" yaml:"generic_webhook_url"`

	EmailHost string   `json:"email_host" yaml:"email_host"`
	EmailPort int      `json:"email_port" yaml:"email_port"`
	EmailUser string   `json:"email_user" yaml:"email_user"`
	EmailPass string   `json:"email_pass" yaml:"email_pass"`
	EmailTo   []string `json:"email_to" yaml:"email_to"`
}

// DefaultConfig returns a sane default configuration
func DefaultConfig() *Config {
	return &Config{
		CommandPrefix:        "!",
		PollInterval:         10 * time.Minute,
		FetchTimeout:         10 * time.Second,
		MaxConcurrentFetches: 1,
		CarrierBaseURL:       "https://global.cainiao.com",
		UserAgent:            DefaultUserAgent,
		StateFile:            "tracked.json",
		LogLevel:             "info",
		LogFormat:            "json",

		// Metrics defaults (opt-in)
		MetricsEnabled: false,
		MetricsPort:    9090,
		InfluxInterval: 1 * time.Minute,

		NotificationLevel: "all",
		EmailPort:         25,
	}
}

// Validate returns a list of non-fatal configuration warnings, such as
// incomplete mirror credential combinations.
func (c *Config) Validate() []string {
	var warnings []string
	checks := []struct {
		cond bool
		msg  string
	}{
		{c.GotifyURL != "" && c.GotifyToken == "", "gotify URL provided but token is missing"},
		{c.GotifyToken != "" && c.GotifyURL == "", "gotify token provided but URL is missing"},
		{c.TelegramToken != "" && c.TelegramChatID == "", "telegram token provided but chat id is missing"},
		{c.TelegramChatID != "" && c.TelegramToken == "", "telegram chat id provided but token is missing"},
		{c.EmailHost != "" && len(c.EmailTo) == 0, "email host provided but no recipients configured (EmailTo)"},
		{c.EmailHost == "" && len(c.EmailTo) > 0, "email recipients configured but email host is empty"},
		{c.InfluxURL != "" && c.InfluxBucket == "", "influx URL provided but bucket is missing"},
		{c.PollInterval <= 0, "poll interval must be positive; the default of 10m will be used"},
		{c.FetchTimeout <= 0, "fetch timeout must be positive; the default of 10s will be used"},
		{strings.ContainsAny(c.CommandPrefix, " \t\n"), fmt.Sprintf("command prefix %q contains whitespace", c.CommandPrefix)},
	}
	for _, ch := range checks {
		if ch.cond {
			warnings = append(warnings, ch.msg)
		}
	}
	switch strings.ToLower(c.NotificationLevel) {
	case "all", "updates", "none":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown notification level %q (expected all, updates or none)", c.NotificationLevel))
	}
	return warnings
}

// Normalize replaces unusable values with their defaults. It is applied after
// all configuration layers have been merged.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.MaxConcurrentFetches < 1 {
		c.MaxConcurrentFetches = 1
	}
	if c.CommandPrefix == "" {
		c.CommandPrefix = def.CommandPrefix
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.CarrierBaseURL == "" {
		c.CarrierBaseURL = def.CarrierBaseURL
	}
	if c.StateFile == "" {
		c.StateFile = def.StateFile
	}
}

// RequireCredentials reports missing values the process cannot start without.
func (c *Config) RequireCredentials() error {
	var errs []error
	if c.DiscordToken == "" {
		errs = append(errs, errors.New("DISCORD_TOKEN is not set"))
	}
	if c.DefaultChannelID == "" {
		errs = append(errs, errors.New("DEFAULT_CHANNEL_ID is not set"))
	}
	return errors.Join(errs...)
}

// LoadConfigFromFile loads config from a YAML/JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
