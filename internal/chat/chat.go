// Package chat defines what the tracker needs from a chat platform and
// implements it for Discord.
package chat

import (
	"context"
	"errors"
	"strings"
)

// ErrChannelNotFound is returned when a channel id no longer resolves.
var ErrChannelNotFound = errors.New("channel not found")

// Channel is a resolved destination.
type Channel struct {
	ID   string
	Name string
}

// Permissions are the capabilities the bot holds in one channel.
type Permissions struct {
	SendMessages bool
	EmbedLinks   bool
	ReadHistory  bool
}

// Field is one labelled value of a Card.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Card is a rich message (an embed on Discord).
type Card struct {
	Title  string
	Color  int
	Fields []Field
}

// Message is either a Card or plain Text. When Card is set Text is ignored.
type Message struct {
	Text string
	Card *Card
}

// Text returns a plain message.
func Text(s string) Message { return Message{Text: s} }

// Messenger is the messaging collaborator used by commands and the poll loop.
type Messenger interface {
	// Channel resolves id or returns ErrChannelNotFound.
	Channel(ctx context.Context, id string) (Channel, error)
	// Permissions reports the bot's capabilities in channel id.
	Permissions(ctx context.Context, id string) (Permissions, error)
	// Send posts msg to channel id.
	Send(ctx context.Context, channelID string, msg Message) error
	// SendDirect posts text to the user's direct-message channel.
	SendDirect(ctx context.Context, userID string, text string) error
}

// Invocation is one parsed command with its invoking context.
type Invocation struct {
	Command   string
	Args      []string
	ChannelID string
	UserID    string
}

// Arg returns the i-th argument or "".
func (inv Invocation) Arg(i int) string {
	if i < len(inv.Args) {
		return inv.Args[i]
	}
	return ""
}

// ParseCommand splits content into a command name and arguments when it
// starts with prefix. Command names are lower-cased.
func ParseCommand(prefix, content string) (Invocation, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Invocation{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return Invocation{}, false
	}
	return Invocation{Command: strings.ToLower(fields[0]), Args: fields[1:]}, true
}
