package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	c := config.DefaultConfig()
	if c.PollInterval != 10*time.Minute {
		t.Fatalf("expected default poll interval of 10m, got %v", c.PollInterval)
	}
	if c.FetchTimeout != 10*time.Second {
		t.Fatalf("expected default fetch timeout of 10s, got %v", c.FetchTimeout)
	}
	if c.StateFile != "tracked.json" || c.CommandPrefix != "!" {
		t.Fatalf("unexpected defaults: %q %q", c.StateFile, c.CommandPrefix)
	}
	if w := c.Validate(); len(w) != 0 {
		t.Fatalf("expected no warnings for defaults, got %v", w)
	}
}

func TestValidateWarnings(t *testing.T) {
	mutators := map[string]func(*config.Config){
		"gotify url without token": func(c *config.Config) { c.GotifyURL = "https://gotify" },
		"gotify token without url": func(c *config.Config) { c.GotifyToken = "tok" },
		"telegram token only":      func(c *config.Config) { c.TelegramToken = "tok" },
		"email host only":          func(c *config.Config) { c.EmailHost = "mail" },
		"unknown level":            func(c *config.Config) { c.NotificationLevel = "loud" },
		"zero poll interval":       func(c *config.Config) { c.PollInterval = 0 },
		"prefix with space":        func(c *config.Config) { c.CommandPrefix = "hey " },
	}
	for name, mutate := range mutators {
		t.Run(name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			mutate(cfg)
			if w := cfg.Validate(); len(w) == 0 {
				t.Fatalf("expected warnings, got none")
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cfg := &config.Config{PollInterval: -1, MaxConcurrentFetches: 0}
	cfg.Normalize()
	def := config.DefaultConfig()
	if cfg.PollInterval != def.PollInterval || cfg.FetchTimeout != def.FetchTimeout {
		t.Fatalf("expected default durations, got %v %v", cfg.PollInterval, cfg.FetchTimeout)
	}
	if cfg.MaxConcurrentFetches != 1 || cfg.CommandPrefix != "!" || cfg.StateFile != "tracked.json" {
		t.Fatalf("unexpected normalized config: %+v", cfg)
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := cfg.RequireCredentials(); err == nil {
		t.Fatal("expected error for missing token and channel")
	}
	cfg.DiscordToken = "tok"
	cfg.DefaultChannelID = "42"
	if err := cfg.RequireCredentials(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parceltracker.yaml")
	body := "poll_interval: 5m\nstate_file: /srv/tracked.json\nemail_to:\n  - ops@example.com\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFromFile failed: %v", err)
	}
	if cfg.PollInterval != 5*time.Minute || cfg.StateFile != "/srv/tracked.json" {
		t.Fatalf("unexpected file config: %+v", cfg)
	}
	// unspecified fields keep their defaults
	if cfg.FetchTimeout != 10*time.Second {
		t.Fatalf("expected default fetch timeout, got %v", cfg.FetchTimeout)
	}
	if len(cfg.EmailTo) != 1 {
		t.Fatalf("unexpected recipients: %v", cfg.EmailTo)
	}
}
