// Package daemon runs the periodic poll loop that detects shipment status
// changes and notifies the channel that tracks each shipment.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/carrier"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/chat"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/config"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/logging"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/metrics"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/notify"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/render"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/state"
)

// Daemon polls the carrier for every tracked shipment on a fixed interval.
type Daemon struct {
	cfg      *config.Config
	store    *state.Store
	fetcher  carrier.Fetcher
	chat     chat.Messenger
	notifier *notify.MultiNotifier

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup   // tracks active poll passes
	Now      func() time.Time // injectable clock for testing

	mu     sync.Mutex
	cancel func() // cancels the context of in-flight passes (set at Start)
}

// New creates a daemon over the given store and collaborators.
func New(cfg *config.Config, store *state.Store, fetcher carrier.Fetcher, messenger chat.Messenger) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		chat:    messenger,
		quit:    make(chan struct{}),
		Now:     time.Now,
	}
	d.initNotifiers()
	return d
}

// initNotifiers registers the configured operator mirror services.
func (d *Daemon) initNotifiers() {
	d.notifier = notify.NewMultiNotifier(d.cfg.NotificationLevel)
	cfg := d.cfg
	entries := []struct {
		enabled bool
		add     func()
	}{
		{cfg.DiscordWebhook != "", func() { d.notifier.Add(&notify.DiscordWebhook{WebhookURL: cfg.DiscordWebhook}) }},
		{cfg.SlackWebhook != "", func() { d.notifier.Add(&notify.Slack{WebhookURL: cfg.SlackWebhook}) }},
		{cfg.TelegramToken != "" && cfg.TelegramChatID != "", func() { d.notifier.Add(&notify.Telegram{BotToken: cfg.TelegramToken, ChatID: cfg.TelegramChatID}) }},
		{cfg.EmailHost != "" && len(cfg.EmailTo) > 0, func() {
			d.notifier.Add(&notify.Email{Host: cfg.EmailHost, Port: cfg.EmailPort, User: cfg.EmailUser, Pass: cfg.EmailPass, To: cfg.EmailTo})
		}},
		{cfg.GenericWebhookURL != "", func() { d.notifier.Add(&notify.Generic{WebhookURL: cfg.GenericWebhookURL}) }},
		{cfg.GotifyURL != "" && cfg.GotifyToken != "", func() { d.notifier.Add(&notify.Gotify{ServerURL: cfg.GotifyURL, Token: cfg.GotifyToken}) }},
	}
	for _, e := range entries {
		if e.enabled {
			e.add()
		}
	}
	if n := d.notifier.Len(); n > 0 {
		logging.For("daemon").Info().Int("services", n).Str("level", cfg.NotificationLevel).Msg("operator mirror enabled")
	}
}

// Start runs the poll loop until Stop is called or ctx is cancelled. The
// first pass runs immediately.
func (d *Daemon) Start(ctx context.Context) {
	logging.For("daemon").Info().Dur("interval", d.cfg.PollInterval).Msg("starting poll loop")
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	d.runPass(ctx)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.runPass(ctx)
		case <-d.quit:
			logging.For("daemon").Info().Msg("stopping poll loop")
			return
		case <-ctx.Done():
			logging.For("daemon").Info().Msg("poll loop context cancelled")
			return
		}
	}
}

func (d *Daemon) runPass(ctx context.Context) {
	select {
	case <-d.quit:
		return
	default:
	}
	d.wg.Add(1)
	defer d.wg.Done()
	d.once(ctx)
}

// once runs one poll pass over a snapshot of the store.
func (d *Daemon) once(ctx context.Context) {
	passID := uuid.NewString()
	entries := d.store.Snapshot()
	log := logging.For("daemon").With().Str("pass", passID).Logger()
	log.Info().Int("tracked", len(entries)).Msg("polling for updates")
	start := d.Now()

	limit := d.cfg.MaxConcurrentFetches
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for _, e := range entries {
		if ctx.Err() != nil {
			log.Warn().Msg("pass cancelled; remaining entries skipped")
			break
		}
		wg.Add(1)
		go func(e state.Entry) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			d.checkEntry(ctx, log.With().Str("tracking_number", e.Number).Logger(), e)
		}(e)
	}
	wg.Wait()

	now := d.Now()
	metrics.IncPass(now)
	log.Info().Dur("took", now.Sub(start)).Msg("poll pass complete")
}

// checkEntry fetches one shipment and notifies its channel when the latest
// trace changed. Errors and panics are contained to the entry.
func (d *Daemon) checkEntry(ctx context.Context, log zerolog.Logger, e state.Entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("poll entry panicked")
		}
	}()
	if err := d.pollEntry(ctx, log, e); err != nil {
		log.Error().Err(err).Msg("poll entry failed")
	}
}

func (d *Daemon) pollEntry(ctx context.Context, log zerolog.Logger, e state.Entry) error {
	target := string(e.Target)
	if _, err := d.chat.Channel(ctx, target); err != nil {
		log.Debug().Err(err).Str("channel", target).Msg("notify target unreachable; skipping this cycle")
		return nil
	}

	res := d.fetcher.Fetch(ctx, e.Number)
	if !res.Found {
		log.Debug().Msg("no tracking data this cycle")
		return nil
	}

	status := res.Fingerprint()
	sh, changed, err := d.store.UpdateStatus(e.Number, status)
	if errors.Is(err, state.ErrNotFound) {
		log.Debug().Msg("shipment removed during pass")
		return nil
	}
	if !changed {
		return nil
	}
	if err != nil {
		// memory holds the new status; the write failure was logged by the store
		log.Warn().Err(err).Msg("status change not persisted")
	}
	metrics.IncStatusChange()
	log.Info().Str("old_status", e.LastStatus).Str("new_status", status).Msg("status changed")

	msg := render.Update(e.Number, res, false)
	title, body := render.PlainText(msg)
	// mirror sends outlive the pass so Stop can flush them
	d.notifier.Send(context.WithoutCancel(ctx), notify.KindUpdate, title, body)

	target = string(sh.Target)
	perms, err := d.chat.Permissions(ctx, target)
	if err != nil || !perms.SendMessages {
		metrics.IncNotificationSkipped()
		log.Warn().Err(err).Str("channel", target).Msg("cannot post update; notification skipped")
		return nil
	}
	if perms.EmbedLinks {
		msg = render.Update(e.Number, res, true)
	}
	if err := d.chat.Send(ctx, target, msg); err != nil {
		metrics.IncNotificationFailed()
		return fmt.Errorf("send update to %s: %w", target, err)
	}
	metrics.IncNotificationSent()
	return nil
}

// AnnounceStartup posts the online message to channelID when it resolves.
// Failures are logged as warnings.
func (d *Daemon) AnnounceStartup(ctx context.Context, channelID string) {
	log := logging.For("daemon")
	d.notifier.Send(ctx, notify.KindStartup, "Tracker online", fmt.Sprintf("tracking %d shipment(s)", d.store.Len()))
	if channelID == "" {
		return
	}
	if _, err := d.chat.Channel(ctx, channelID); err != nil {
		log.Warn().Err(err).Str("channel", channelID).Msg("default channel unreachable; skipping welcome message")
		return
	}
	if err := d.chat.Send(ctx, channelID, chat.Text(render.Online)); err != nil {
		log.Warn().Err(err).Str("channel", channelID).Msg("couldn't send welcome message to default channel")
	}
}

// Stop signals the daemon to stop and waits for an active pass to complete
// or ctx to expire, then flushes pending mirror sends.
func (d *Daemon) Stop(ctx context.Context) {
	d.stopOnce.Do(func() { close(d.quit) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.For("daemon").Info().Msg("all active operations completed")
	case <-ctx.Done():
		logging.For("daemon").Warn().Msg("shutdown timeout exceeded, cancelling in-flight pass")
		d.mu.Lock()
		if d.cancel != nil {
			d.cancel()
		}
		d.mu.Unlock()
	}

	notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.notifier.Wait(notifyCtx); err != nil {
		logging.For("daemon").Warn().Err(err).Msg("timed out waiting for notifiers to finish")
	}
}

// RunOnce runs a single poll pass (public wrapper for tests / CLI).
func (d *Daemon) RunOnce(ctx context.Context) {
	d.runPass(ctx)
}
