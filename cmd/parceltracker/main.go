package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/carrier"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/chat"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/commands"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/config"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/daemon"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/logging"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/metrics"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/state"
)

const shutdownTimeout = 5 * time.Second

// options are the flags that do not map onto a config field.
type options struct {
	runOnce bool
}

func main() {
	cfg, opts, err := loadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		log.Fatalf("failed loading config: %v", err)
	}

	cleanup := initLogging(cfg)
	defer cleanup()

	for _, w := range cfg.Validate() {
		logging.Get().Warn().Str("warning", w).Msg("config validation")
	}
	cfg.Normalize()
	if err := cfg.RequireCredentials(); err != nil {
		logging.Get().Fatal().Err(err).Msg("missing credentials")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initMetricsAndInflux(ctx, cfg)
	run(ctx, cfg, opts)
}

// loadConfig layers defaults, the optional config file, .env, the
// environment and finally any explicitly set flags.
func loadConfig(args []string, out io.Writer) (*config.Config, options, error) {
	var opts options
	fs := flag.NewFlagSet("parceltracker", flag.ContinueOnError)
	fs.SetOutput(out)
	cfgFile := fs.String("config", "", "Path to config file")
	poll := fs.Duration("poll-interval", 10*time.Minute, "Poll interval")
	stateFile := fs.String("state-file", "", "Path to the tracked shipments file")
	fs.BoolVar(&opts.runOnce, "run-once", false, "run one poll pass over the stored shipments and exit")
	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}

	cfg := config.DefaultConfig()
	if *cfgFile != "" {
		c, err := config.LoadConfigFromFile(*cfgFile)
		if err != nil {
			return nil, opts, err
		}
		cfg = c
	}
	if err := config.LoadDotEnv(); err != nil {
		return nil, opts, err
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, opts, fmt.Errorf("invalid environment configuration: %w", err)
	}

	// flags win only when given
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll-interval":
			cfg.PollInterval = *poll
		case "state-file":
			cfg.StateFile = *stateFile
		}
	})
	return cfg, opts, nil
}

// initLogging initializes the log subsystem and returns a cleanup func
func initLogging(cfg *config.Config) func() {
	cleanup, err := logging.Init(cfg.LogFile, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	return cleanup
}

// initMetricsAndInflux starts optional metrics server and Influx pusher
func initMetricsAndInflux(ctx context.Context, cfg *config.Config) {
	if cfg.MetricsEnabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsPort); err != nil {
				logging.Get().Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}
	if cfg.InfluxURL != "" {
		go metrics.StartInfluxPusher(ctx, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxInterval)
	}
}

// run loads the store, connects the chat session, then starts the poll loop
// (or runs it once) and waits for a shutdown signal.
func run(ctx context.Context, cfg *config.Config, opts options) {
	store := state.New(cfg.StateFile)
	if err := store.Load(); err != nil {
		logging.Get().Warn().Err(err).Str("path", cfg.StateFile).Msg("state file could not be read completely; continuing with partial state")
	}

	fetcher := carrier.NewClient(cfg.CarrierBaseURL, cfg.UserAgent, cfg.FetchTimeout)

	dc, err := chat.NewDiscord(cfg.DiscordToken, cfg.CommandPrefix)
	if err != nil {
		logging.Get().Fatal().Err(err).Msg("failed to create chat session")
	}
	if !opts.runOnce {
		handler := commands.New(store, fetcher, dc, cfg.CommandPrefix, cfg.PollInterval)
		dc.OnCommand(ctx, handler.Dispatch)
	}
	if err := dc.Open(); err != nil {
		logging.Get().Fatal().Err(err).Msg("failed to connect chat session")
	}
	defer func() {
		if err := dc.Close(); err != nil {
			logging.Get().Warn().Err(err).Msg("failed to close chat session")
		}
	}()

	d := daemon.New(cfg, store, fetcher, dc)
	if opts.runOnce {
		logging.Get().Info().Msg("run-once: performing a single poll pass")
		d.RunOnce(ctx)
		stopDaemon(ctx, d)
		return
	}
	go d.Start(ctx)
	d.AnnounceStartup(ctx, cfg.DefaultChannelID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Get().Info().Msg("shutdown signal received, waiting for active operations to complete")
	stopDaemon(ctx, d)
}

// stopDaemon gives an in-flight pass up to shutdownTimeout to finish.
func stopDaemon(ctx context.Context, d *daemon.Daemon) {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	d.Stop(shutdownCtx)
}
