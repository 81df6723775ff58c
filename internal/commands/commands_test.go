package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/chat"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/render"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/state"
	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/testutil"
)

const (
	channelID = "42"
	userID    = "7"
)

var allPerms = chat.Permissions{SendMessages: true, EmbedLinks: true, ReadHistory: true}

type fixture struct {
	store   *state.Store
	fetcher *testutil.FakeFetcher
	chat    *testutil.FakeMessenger
	h       *Handler
}

func newFixture(t *testing.T, perms chat.Permissions) *fixture {
	t.Helper()
	store := state.New(filepath.Join(t.TempDir(), "tracked.json"))
	f := &fixture{store: store, fetcher: testutil.NewFakeFetcher(), chat: testutil.NewFakeMessenger()}
	f.chat.AddChannel(channelID, testutil.FakeChannel{Name: "parcels", Perms: perms})
	f.h = New(store, f.fetcher, f.chat, "!", 10*time.Minute)
	return f
}

func invoke(cmd string, args ...string) chat.Invocation {
	return chat.Invocation{Command: cmd, Args: args, ChannelID: channelID, UserID: userID}
}

func TestTrackStoresShipmentAndSendsCard(t *testing.T) {
	f := newFixture(t, allPerms)
	f.fetcher.Set("ABC123", testutil.Trace("Jan 1", "Shipped"))

	f.h.Dispatch(context.Background(), invoke(Track, "ABC123"))

	sh, ok := f.store.Get("ABC123")
	require.True(t, ok)
	assert.Equal(t, "Jan 1: Shipped", sh.LastStatus)
	assert.Equal(t, state.Target(channelID), sh.Target)

	msgs := f.chat.SentTo(channelID)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].Card)
	assert.Equal(t, "📦 Tracking #ABC123", msgs[0].Card.Title)
	assert.Equal(t, render.NowTracking(10*time.Minute), msgs[1].Text)
	assert.Equal(t, "✅ Now tracking package. Updates every 10 minutes.", msgs[1].Text)

	// persisted
	reloaded := state.New(f.store.Path())
	require.NoError(t, reloaded.Load())
	got, ok := reloaded.Get("ABC123")
	require.True(t, ok)
	assert.Equal(t, sh, got)
}

func TestTrackPlainTextWithoutEmbedPermission(t *testing.T) {
	f := newFixture(t, chat.Permissions{SendMessages: true})
	f.fetcher.Set("ABC123", testutil.Trace("Jan 1", "Shipped"))

	f.h.Dispatch(context.Background(), invoke(Track, "ABC123"))

	msgs := f.chat.SentTo(channelID)
	require.Len(t, msgs, 2)
	assert.Nil(t, msgs[0].Card)
	assert.Contains(t, msgs[0].Text, "**Tracking #ABC123**")
	assert.Contains(t, msgs[0].Text, "**Route:** China → Germany")
}

func TestTrackTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, allPerms)
	f.fetcher.Set("ABC123", testutil.Trace("Jan 1", "Shipped"))

	f.h.Dispatch(context.Background(), invoke(Track, "ABC123"))
	first, _ := f.store.Get("ABC123")
	f.h.Dispatch(context.Background(), invoke(Track, "ABC123"))
	second, _ := f.store.Get("ABC123")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.store.Len())
}

func TestTrackFetchFailureLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t, allPerms)

	f.h.Dispatch(context.Background(), invoke(Track, "ABC123"))

	assert.Equal(t, 0, f.store.Len())
	msgs := f.chat.SentTo(channelID)
	require.Len(t, msgs, 1)
	assert.Equal(t, render.FetchFailed, msgs[0].Text)
	_, err := os.Stat(f.store.Path())
	assert.True(t, os.IsNotExist(err), "no state write expected")
}

func TestTrackWithoutSendPermissionMessagesUser(t *testing.T) {
	f := newFixture(t, chat.Permissions{EmbedLinks: true})
	f.fetcher.Set("ABC123", testutil.Trace("Jan 1", "Shipped"))

	f.h.Dispatch(context.Background(), invoke(Track, "ABC123"))

	assert.Empty(t, f.chat.Sent())
	assert.Equal(t, []testutil.Direct{{UserID: userID, Text: render.CannotSend}}, f.chat.Directs())
	assert.Equal(t, 0, f.fetcher.Calls("ABC123"))
	assert.Equal(t, 0, f.store.Len())
}

func TestPermissionLookupErrorMessagesUser(t *testing.T) {
	f := newFixture(t, allPerms)
	f.chat.PermErr = chat.ErrChannelNotFound

	f.h.Dispatch(context.Background(), invoke(Remove, "ABC123"))

	require.Len(t, f.chat.Directs(), 1)
	assert.Empty(t, f.chat.Sent())
}

func TestTrackSaveFailureShowsGenericError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	f := newFixture(t, allPerms)
	f.h.store = state.New(filepath.Join(blocker, "tracked.json"))
	f.fetcher.Set("ABC123", testutil.Trace("Jan 1", "Shipped"))

	f.h.Dispatch(context.Background(), invoke(Track, "ABC123"))

	msgs := f.chat.SentTo(channelID)
	require.Len(t, msgs, 1)
	assert.Equal(t, render.GenericError("!"), msgs[0].Text)
	// memory stays authoritative
	_, ok := f.h.store.Get("ABC123")
	assert.True(t, ok)
}

func TestTrackPanicIsRecovered(t *testing.T) {
	f := newFixture(t, allPerms)
	f.fetcher.PanicOn = "BOOM"

	require.NotPanics(t, func() {
		f.h.Dispatch(context.Background(), invoke(Track, "BOOM"))
	})
	msgs := f.chat.SentTo(channelID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "⚠️ An error occurred. Use !checkperms to verify my permissions.", msgs[0].Text)
}

func TestTrackMissingArgumentShowsUsage(t *testing.T) {
	f := newFixture(t, allPerms)

	f.h.Dispatch(context.Background(), invoke(Track))

	msgs := f.chat.SentTo(channelID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Usage: !track <tracking number>", msgs[0].Text)
}

func TestRemove(t *testing.T) {
	f := newFixture(t, allPerms)
	require.NoError(t, f.store.Upsert("ABC123", state.Shipment{LastStatus: "Jan 1: Shipped", Target: channelID}))

	f.h.Dispatch(context.Background(), invoke(Remove, "ABC123"))

	_, ok := f.store.Get("ABC123")
	assert.False(t, ok)
	msgs := f.chat.SentTo(channelID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "✅ Stopped tracking ABC123.", msgs[0].Text)
}

func TestRemoveAbsentReportsNotTracked(t *testing.T) {
	f := newFixture(t, allPerms)
	require.NoError(t, f.store.Upsert("ABC123", state.Shipment{LastStatus: "Jan 1: Shipped", Target: channelID}))
	before := f.store.Snapshot()

	f.h.Dispatch(context.Background(), invoke(Remove, "XYZ"))

	assert.Equal(t, before, f.store.Snapshot())
	msgs := f.chat.SentTo(channelID)
	require.Len(t, msgs, 1)
	assert.Equal(t, render.NotTracked, msgs[0].Text)
}

func TestCheckPerms(t *testing.T) {
	f := newFixture(t, chat.Permissions{SendMessages: true, ReadHistory: true})

	f.h.Dispatch(context.Background(), invoke(CheckPerms))

	msgs := f.chat.SentTo(channelID)
	require.Len(t, msgs, 1)
	assert.Equal(t, render.Permissions(chat.Permissions{SendMessages: true, ReadHistory: true}, "parcels"), msgs[0].Text)
	assert.Contains(t, msgs[0].Text, "❌ Embed Links: false")
	assert.Equal(t, 0, f.store.Len())
}

func TestUnknownCommandIgnored(t *testing.T) {
	f := newFixture(t, allPerms)

	f.h.Dispatch(context.Background(), invoke("help"))

	assert.Empty(t, f.chat.Sent())
	assert.Empty(t, f.chat.Directs())
}

func TestCommandsFoldOverStore(t *testing.T) {
	f := newFixture(t, allPerms)
	f.fetcher.Set("A", testutil.Trace("Jan 1", "Shipped"))
	f.fetcher.Set("B", testutil.Trace("Jan 2", "Departed"))

	seq := []chat.Invocation{
		invoke(Track, "A"),
		invoke(Track, "B"),
		invoke(Remove, "A"),
		invoke(Remove, "C"),
		invoke(Track, "A"),
		invoke(Remove, "B"),
	}
	for _, inv := range seq {
		f.h.Dispatch(context.Background(), inv)
	}

	snap := f.store.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "A", snap[0].Number)
	assert.Equal(t, "Jan 1: Shipped", snap[0].LastStatus)
}
