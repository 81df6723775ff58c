// Package commands implements the chat commands users invoke to manage
// tracked shipments.
package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/carrier"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/chat"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/logging"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/metrics"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/render"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/state"
)

// Command names.
const (
	Track      = "track"
	Remove     = "remove"
	CheckPerms = "checkperms"
)

// Handler executes commands against the store.
type Handler struct {
	store    *state.Store
	fetcher  carrier.Fetcher
	chat     chat.Messenger
	prefix   string
	interval time.Duration
}

// New returns a Handler. interval is only used in the track confirmation.
func New(store *state.Store, fetcher carrier.Fetcher, messenger chat.Messenger, prefix string, interval time.Duration) *Handler {
	return &Handler{store: store, fetcher: fetcher, chat: messenger, prefix: prefix, interval: interval}
}

// Dispatch runs inv. Unknown commands are ignored. A panic inside a command
// is logged and answered with the generic apology.
func (h *Handler) Dispatch(ctx context.Context, inv chat.Invocation) {
	var run func(context.Context, chat.Invocation) error
	switch inv.Command {
	case Track:
		run = h.track
	case Remove:
		run = h.remove
	case CheckPerms:
		run = h.checkPerms
	default:
		return
	}
	metrics.IncCommand(inv.Command)
	log := logging.For("commands").With().
		Str("command", inv.Command).
		Str("channel", inv.ChannelID).
		Str("user", inv.UserID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("command panicked")
			h.reply(ctx, inv.ChannelID, render.GenericError(h.prefix))
		}
	}()
	if err := run(ctx, inv); err != nil {
		log.Error().Err(err).Msg("command failed")
	}
}

// canSend reports whether the bot may post in the invoking channel. When it
// may not, the invoking user is told directly.
func (h *Handler) canSend(ctx context.Context, inv chat.Invocation) (chat.Permissions, bool) {
	perms, err := h.chat.Permissions(ctx, inv.ChannelID)
	if err == nil && perms.SendMessages {
		return perms, true
	}
	if err != nil {
		logging.For("commands").Warn().Err(err).Str("channel", inv.ChannelID).Msg("permission lookup failed")
	}
	if dmErr := h.chat.SendDirect(ctx, inv.UserID, render.CannotSend); dmErr != nil {
		logging.For("commands").Warn().Err(dmErr).Str("user", inv.UserID).Msg("failed to notify user directly")
	}
	return perms, false
}

func (h *Handler) reply(ctx context.Context, channelID, text string) {
	if err := h.chat.Send(ctx, channelID, chat.Text(text)); err != nil {
		logging.For("commands").Warn().Err(err).Str("channel", channelID).Msg("failed to send reply")
	}
}

func (h *Handler) track(ctx context.Context, inv chat.Invocation) error {
	perms, ok := h.canSend(ctx, inv)
	if !ok {
		return nil
	}
	number := inv.Arg(0)
	if number == "" {
		h.reply(ctx, inv.ChannelID, render.Usage(h.prefix, Track))
		return nil
	}

	res := h.fetcher.Fetch(ctx, number)
	if !res.Found {
		h.reply(ctx, inv.ChannelID, render.FetchFailed)
		return nil
	}

	err := h.store.Upsert(number, state.Shipment{
		LastStatus: res.Fingerprint(),
		Target:     state.Target(inv.ChannelID),
	})
	if err != nil {
		// the entry is tracked in memory; only the write failed
		h.reply(ctx, inv.ChannelID, render.GenericError(h.prefix))
		return fmt.Errorf("track %s: %w", number, err)
	}
	logging.For("commands").Info().Str("tracking_number", number).Str("channel", inv.ChannelID).Msg("now tracking")

	if err := h.chat.Send(ctx, inv.ChannelID, render.Tracked(number, res, perms.EmbedLinks)); err != nil {
		h.reply(ctx, inv.ChannelID, render.GenericError(h.prefix))
		return fmt.Errorf("send tracking card for %s: %w", number, err)
	}
	h.reply(ctx, inv.ChannelID, render.NowTracking(h.interval))
	return nil
}

func (h *Handler) remove(ctx context.Context, inv chat.Invocation) error {
	if _, ok := h.canSend(ctx, inv); !ok {
		return nil
	}
	number := inv.Arg(0)
	if number == "" {
		h.reply(ctx, inv.ChannelID, render.Usage(h.prefix, Remove))
		return nil
	}

	switch err := h.store.Remove(number); err {
	case nil:
		logging.For("commands").Info().Str("tracking_number", number).Msg("stopped tracking")
		h.reply(ctx, inv.ChannelID, fmt.Sprintf(render.Stopped, number))
	case state.ErrNotFound:
		h.reply(ctx, inv.ChannelID, render.NotTracked)
	default:
		// removed from memory; the write failed and was logged by the store
		h.reply(ctx, inv.ChannelID, fmt.Sprintf(render.Stopped, number))
		return fmt.Errorf("remove %s: %w", number, err)
	}
	return nil
}

func (h *Handler) checkPerms(ctx context.Context, inv chat.Invocation) error {
	perms, ok := h.canSend(ctx, inv)
	if !ok {
		return nil
	}
	ch, err := h.chat.Channel(ctx, inv.ChannelID)
	if err != nil {
		h.reply(ctx, inv.ChannelID, render.GenericError(h.prefix))
		return fmt.Errorf("resolve channel: %w", err)
	}
	h.reply(ctx, inv.ChannelID, render.Permissions(perms, ch.Name))
	return nil
}
