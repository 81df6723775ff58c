package chat

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/logging"
)

const readyTimeout = 30 * time.Second

// CommandFunc handles one parsed command.
type CommandFunc func(ctx context.Context, inv Invocation)

// Discord is a Messenger backed by a discordgo session.
type Discord struct {
	session *discordgo.Session
	prefix  string
	ctx     context.Context
}

// NewDiscord returns a Discord messenger for a bot token. The session is not
// opened until Open is called.
func NewDiscord(token, prefix string) (*Discord, error) {
	if token == "" {
		return nil, errors.New("must provide a bot token")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Discord{session: s, prefix: prefix, ctx: context.Background()}, nil
}

// OnCommand registers h for every prefixed message not written by a bot.
// ctx is passed to h for each invocation.
func (d *Discord) OnCommand(ctx context.Context, h CommandFunc) {
	d.ctx = ctx
	d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		inv, ok := ParseCommand(d.prefix, m.Content)
		if !ok {
			return
		}
		inv.ChannelID = m.ChannelID
		inv.UserID = m.Author.ID
		h(d.ctx, inv)
	})
}

// Open connects to the gateway and blocks until the session is ready.
func (d *Discord) Open() error {
	ready := make(chan struct{}, 1)
	remove := d.session.AddHandlerOnce(func(s *discordgo.Session, r *discordgo.Ready) {
		logging.For("chat").Info().Str("user", r.User.String()).Str("id", r.User.ID).Msg("logged in")
		ready <- struct{}{}
	})
	if err := d.session.Open(); err != nil {
		remove()
		return errors.Wrap(err, "failed to open discord session")
	}
	select {
	case <-ready:
		return nil
	case <-time.After(readyTimeout):
		return errors.New("timed out waiting for discord ready event")
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

// Close disconnects from the gateway.
func (d *Discord) Close() error {
	return errors.Wrap(d.session.Close(), "failed to close discord session")
}

// Channel implements Messenger, preferring the session cache.
func (d *Discord) Channel(ctx context.Context, id string) (Channel, error) {
	ch, err := d.lookup(ctx, id)
	if err != nil {
		return Channel{}, err
	}
	return Channel{ID: ch.ID, Name: ch.Name}, nil
}

func (d *Discord) lookup(ctx context.Context, id string) (*discordgo.Channel, error) {
	if id == "" {
		return nil, ErrChannelNotFound
	}
	if ch, err := d.session.State.Channel(id); err == nil {
		return ch, nil
	}
	ch, err := d.session.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(ErrChannelNotFound, "channel %s: %v", id, err)
	}
	return ch, nil
}

// Permissions implements Messenger. Direct-message channels report every capability.
func (d *Discord) Permissions(ctx context.Context, id string) (Permissions, error) {
	ch, err := d.lookup(ctx, id)
	if err != nil {
		return Permissions{}, err
	}
	if ch.Type == discordgo.ChannelTypeDM || ch.Type == discordgo.ChannelTypeGroupDM {
		return Permissions{SendMessages: true, EmbedLinks: true, ReadHistory: true}, nil
	}
	if d.session.State.User == nil {
		return Permissions{}, errors.New("session is not ready")
	}
	me := d.session.State.User.ID
	bits, err := d.session.State.UserChannelPermissions(me, id)
	if err != nil {
		bits, err = d.session.UserChannelPermissions(me, id, discordgo.WithContext(ctx))
		if err != nil {
			return Permissions{}, errors.Wrapf(err, "failed to compute permissions in channel %s", id)
		}
	}
	return permissionsFromBits(bits), nil
}

func permissionsFromBits(bits int64) Permissions {
	if bits&discordgo.PermissionAdministrator != 0 {
		return Permissions{SendMessages: true, EmbedLinks: true, ReadHistory: true}
	}
	return Permissions{
		SendMessages: bits&discordgo.PermissionSendMessages != 0,
		EmbedLinks:   bits&discordgo.PermissionEmbedLinks != 0,
		ReadHistory:  bits&discordgo.PermissionReadMessageHistory != 0,
	}
}

// Send implements Messenger.
func (d *Discord) Send(ctx context.Context, channelID string, msg Message) error {
	var err error
	if msg.Card != nil {
		_, err = d.session.ChannelMessageSendEmbed(channelID, toEmbed(msg.Card), discordgo.WithContext(ctx))
	} else {
		_, err = d.session.ChannelMessageSend(channelID, msg.Text, discordgo.WithContext(ctx))
	}
	return errors.Wrapf(err, "failed to send message to channel %s", channelID)
}

// SendDirect implements Messenger.
func (d *Discord) SendDirect(ctx context.Context, userID string, text string) error {
	dm, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "failed to open direct channel with %s", userID)
	}
	_, err = d.session.ChannelMessageSend(dm.ID, text, discordgo.WithContext(ctx))
	return errors.Wrapf(err, "failed to send direct message to %s", userID)
}

func toEmbed(c *Card) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{Title: c.Title, Color: c.Color}
	for _, f := range c.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return e
}
