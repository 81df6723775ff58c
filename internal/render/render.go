// Package render builds the chat messages sent by commands and the poll loop.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/carrier"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/chat"
)

const (
	colorTracked = 0x00ff00
	colorUpdate  = 0xffa500
)

// Fixed responses.
const (
	CannotSend  = "❌ I can't send messages in that channel!"
	FetchFailed = "⚠️ Couldn't fetch tracking data. Check the number or try later."
	NotTracked  = "⚠️ That tracking number was not being tracked."
	Stopped     = "✅ Stopped tracking %s."
	Online      = "🤖 Tracker bot online and ready!"
	genericErr  = "⚠️ An error occurred. Use %scheckperms to verify my permissions."
	usage       = "Usage: %s%s <tracking number>"
	nowTracking = "✅ Now tracking package. Updates every %s."
)

// Tracked renders the status card shown after a successful track command.
func Tracked(number string, r carrier.Result, rich bool) chat.Message {
	title := "Tracking #" + number
	fields := []chat.Field{
		{Name: "Status", Value: r.Summary, Inline: true},
		{Name: "Location", Value: r.Description, Inline: true},
		{Name: "Last Update", Value: r.Timestamp},
		{Name: "Route", Value: Route(r)},
	}
	return build(title, colorTracked, fields, rich)
}

// Update renders a status-change notification.
func Update(number string, r carrier.Result, rich bool) chat.Message {
	title := "Update for #" + number
	fields := []chat.Field{
		{Name: "New Status", Value: r.Summary, Inline: true},
		{Name: "Location", Value: r.Description, Inline: true},
		{Name: "Time", Value: r.Timestamp},
	}
	return build(title, colorUpdate, fields, rich)
}

// Route joins origin and destination countries.
func Route(r carrier.Result) string {
	return fmt.Sprintf("%s → %s", r.Origin, r.Destination)
}

func build(title string, color int, fields []chat.Field, rich bool) chat.Message {
	if rich {
		return chat.Message{Card: &chat.Card{Title: "📦 " + title, Color: color, Fields: fields}}
	}
	var b strings.Builder
	b.WriteString("**" + title + "**")
	for _, f := range fields {
		fmt.Fprintf(&b, "\n**%s:** %s", f.Name, f.Value)
	}
	return chat.Text(b.String())
}

// PlainText flattens a message for services that only take text.
func PlainText(m chat.Message) (title, body string) {
	if m.Card == nil {
		lines := strings.SplitN(m.Text, "\n", 2)
		title = strings.Trim(lines[0], "*")
		if len(lines) > 1 {
			body = lines[1]
		}
		return title, body
	}
	parts := make([]string, 0, len(m.Card.Fields))
	for _, f := range m.Card.Fields {
		parts = append(parts, f.Name+": "+f.Value)
	}
	return m.Card.Title, strings.Join(parts, "\n")
}

// Permissions renders the checkperms report.
func Permissions(p chat.Permissions, channelName string) string {
	return fmt.Sprintf(
		"**Bot Permissions:**\n"+
			"%s Send Messages: %t\n"+
			"%s Embed Links: %t\n"+
			"%s Read History: %t\n"+
			"**Channel:** #%s",
		mark(p.SendMessages), p.SendMessages,
		mark(p.EmbedLinks), p.EmbedLinks,
		mark(p.ReadHistory), p.ReadHistory,
		channelName,
	)
}

func mark(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

// GenericError is the apology shown when a command fails unexpectedly.
func GenericError(prefix string) string { return fmt.Sprintf(genericErr, prefix) }

// Usage describes a command that needs a tracking number.
func Usage(prefix, command string) string { return fmt.Sprintf(usage, prefix, command) }

// NowTracking confirms that periodic updates are active.
func NowTracking(every time.Duration) string {
	return fmt.Sprintf(nowTracking, humanInterval(every))
}

func humanInterval(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "minute"
	case d > 0 && d%time.Hour == 0:
		if d == time.Hour {
			return "hour"
		}
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d > 0 && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}
