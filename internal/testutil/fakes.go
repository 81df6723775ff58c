// Package testutil provides in-memory fakes of the chat platform and the
// carrier for package tests.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/carrier"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/chat"
)

// Sent records one outbound message.
type Sent struct {
	ChannelID string
	Message   chat.Message
}

// Direct records one direct message.
type Direct struct {
	UserID string
	Text   string
}

// FakeChannel configures a channel known to FakeMessenger.
type FakeChannel struct {
	Name     string
	Perms    chat.Permissions
	SendFail bool
}

// FakeMessenger is a thread-safe chat.Messenger.
type FakeMessenger struct {
	mu       sync.Mutex
	channels map[string]FakeChannel
	sent     []Sent
	direct   []Direct

	// PermErr, when set, is returned by Permissions for every channel.
	PermErr error
}

// NewFakeMessenger returns a messenger with no channels.
func NewFakeMessenger() *FakeMessenger {
	return &FakeMessenger{channels: make(map[string]FakeChannel)}
}

// AddChannel registers a reachable channel.
func (f *FakeMessenger) AddChannel(id string, ch FakeChannel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[id] = ch
}

// RemoveChannel makes id unreachable.
func (f *FakeMessenger) RemoveChannel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, id)
}

// Channel implements chat.Messenger.
func (f *FakeMessenger) Channel(_ context.Context, id string) (chat.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return chat.Channel{}, chat.ErrChannelNotFound
	}
	return chat.Channel{ID: id, Name: ch.Name}, nil
}

// Permissions implements chat.Messenger.
func (f *FakeMessenger) Permissions(_ context.Context, id string) (chat.Permissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PermErr != nil {
		return chat.Permissions{}, f.PermErr
	}
	ch, ok := f.channels[id]
	if !ok {
		return chat.Permissions{}, chat.ErrChannelNotFound
	}
	return ch.Perms, nil
}

// Send implements chat.Messenger.
func (f *FakeMessenger) Send(_ context.Context, channelID string, msg chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return chat.ErrChannelNotFound
	}
	if ch.SendFail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, Sent{ChannelID: channelID, Message: msg})
	return nil
}

// SendDirect implements chat.Messenger.
func (f *FakeMessenger) SendDirect(_ context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.direct = append(f.direct, Direct{UserID: userID, Text: text})
	return nil
}

// Sent returns a copy of the recorded channel messages.
func (f *FakeMessenger) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// SentTo returns the messages sent to channelID.
func (f *FakeMessenger) SentTo(channelID string) []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.Message
	for _, s := range f.sent {
		if s.ChannelID == channelID {
			out = append(out, s.Message)
		}
	}
	return out
}

// Directs returns a copy of the recorded direct messages.
func (f *FakeMessenger) Directs() []Direct {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Direct(nil), f.direct...)
}

// Reset clears recorded messages.
func (f *FakeMessenger) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
	f.direct = nil
}

// FakeFetcher is a thread-safe carrier.Fetcher returning canned results.
// Unknown numbers get the failure variant.
type FakeFetcher struct {
	mu      sync.Mutex
	results map[string]carrier.Result
	calls   map[string]int

	// PanicOn makes Fetch panic for the given number.
	PanicOn string
}

// NewFakeFetcher returns a fetcher with no results.
func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{results: make(map[string]carrier.Result), calls: make(map[string]int)}
}

// Set configures the result for number.
func (f *FakeFetcher) Set(number string, r carrier.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[number] = r
}

// Fail makes number return the failure variant.
func (f *FakeFetcher) Fail(number string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.results, number)
}

// Fetch implements carrier.Fetcher.
func (f *FakeFetcher) Fetch(_ context.Context, number string) carrier.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[number]++
	if f.PanicOn != "" && f.PanicOn == number {
		panic("fetch exploded for " + number)
	}
	return f.results[number]
}

// Calls returns how often number was fetched.
func (f *FakeFetcher) Calls(number string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[number]
}

// Trace builds a populated carrier result.
func Trace(timestamp, desc string) carrier.Result {
	return carrier.Result{
		Found:       true,
		Summary:     "In transit",
		Description: desc,
		Timestamp:   timestamp,
		Origin:      "China",
		Destination: "Germany",
	}
}
