package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeService struct {
	mu    sync.Mutex
	name  string
	calls []string
	fail  bool
}

func (f *fakeService) Send(ctx context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, title+"|"+message)
	if f.fail {
		return errors.New("fail")
	}
	return nil
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitFor(t *testing.T, m *MultiNotifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
}

func TestMultiNotifierSendSingleAttempt(t *testing.T) {
	m := NewMultiNotifier("all")
	s1 := &fakeService{name: "s1"}
	s2 := &fakeService{name: "s2", fail: true}
	m.Add(s1)
	m.Add(s2)
	m.Add(nil)
	if m.Len() != 2 {
		t.Fatalf("expected 2 services, got %d", m.Len())
	}
	m.Send(context.Background(), KindUpdate, "title", "msg")
	waitFor(t, m)
	if s1.count() != 1 {
		t.Fatalf("expected s1 to be called once, got %d", s1.count())
	}
	// failures are not retried
	if s2.count() != 1 {
		t.Fatalf("expected s2 to be attempted once, got %d", s2.count())
	}
}

func TestNotificationLevels(t *testing.T) {
	cases := []struct {
		level        string
		startup, ups bool
	}{
		{"all", true, true},
		{"", true, true},
		{"updates", false, true},
		{"UPDATES", false, true},
		{"none", false, false},
	}
	for _, c := range cases {
		m := NewMultiNotifier(c.level)
		if got := m.Allows(KindStartup); got != c.startup {
			t.Errorf("level %q: startup allowed=%v, want %v", c.level, got, c.startup)
		}
		if got := m.Allows(KindUpdate); got != c.ups {
			t.Errorf("level %q: update allowed=%v, want %v", c.level, got, c.ups)
		}
	}

	m := NewMultiNotifier("none")
	f := &fakeService{name: "f"}
	m.Add(f)
	m.Send(context.Background(), KindUpdate, "T", "M")
	waitFor(t, m)
	if f.count() != 0 {
		t.Fatalf("expected no sends at level none, got %d", f.count())
	}
}

func TestCooldown(t *testing.T) {
	m := NewMultiNotifier("all")
	m.SetCooldown(time.Minute)
	f := &fakeService{name: "f"}
	m.Add(f)
	m.Send(context.Background(), KindUpdate, "T1", "M1")
	waitFor(t, m)
	m.Send(context.Background(), KindUpdate, "T2", "M2")
	waitFor(t, m)
	if f.count() != 1 {
		t.Fatalf("expected second send to be suppressed by cooldown, got %d calls", f.count())
	}
}

func TestNilNotifierIsNoop(t *testing.T) {
	var m *MultiNotifier
	m.Send(context.Background(), KindUpdate, "T", "M")
}

const invalidPayloadMsg = "invalid payload: %v"

func TestGenericSend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf(invalidPayloadMsg, err)
		}
		if payload["title"] != "T" || payload["message"] != "M" || payload["agent"] != "Parcel Tracker" {
			t.Errorf("unexpected payload: %v", payload)
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	if err := (&Generic{WebhookURL: server.URL}).Send(context.Background(), "T", "M"); err != nil {
		t.Fatalf("generic send failed: %v", err)
	}
}

func TestGenericSendRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := (&Generic{WebhookURL: server.URL}).Send(context.Background(), "T", "M"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestGotifySend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message" {
			t.Errorf("expected /message, got %s", r.URL.Path)
		}
		if r.Header.Get("X-Gotify-Key") != "tok" {
			t.Errorf("missing token header")
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	g := &Gotify{ServerURL: server.URL + "/", Token: "tok"}
	if err := g.Send(context.Background(), "T", "M"); err != nil {
		t.Fatalf("gotify send failed: %v", err)
	}
}

func TestDiscordWebhookPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf(invalidPayloadMsg, err)
		}
		embeds, ok := payload["embeds"].([]interface{})
		if !ok || len(embeds) == 0 {
			t.Errorf("expected embeds array in payload: %v", payload)
			return
		}
		first := embeds[0].(map[string]interface{})
		if first["title"] != "T" || first["description"] != "M" {
			t.Errorf("unexpected embed content: %v", first)
		}
		w.WriteHeader(204)
	}))
	defer server.Close()

	if err := (&DiscordWebhook{WebhookURL: server.URL}).Send(context.Background(), "T", "M"); err != nil {
		t.Fatalf("discord send failed: %v", err)
	}
}

func TestSlackPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf(invalidPayloadMsg, err)
		}
		if payload["text"] != "*T*\nM" {
			t.Errorf("unexpected payload: %v", payload)
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	if err := (&Slack{WebhookURL: server.URL}).Send(context.Background(), "T", "M"); err != nil {
		t.Fatalf("slack send failed: %v", err)
	}
}

func TestTelegramPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottok/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf(invalidPayloadMsg, err)
		}
		if payload["chat_id"] != "123" || payload["parse_mode"] != "HTML" {
			t.Errorf("unexpected payload: %v", payload)
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	old := telegramAPIBase
	telegramAPIBase = server.URL
	defer func() { telegramAPIBase = old }()

	if err := (&Telegram{BotToken: "tok", ChatID: "123"}).Send(context.Background(), "T", "M"); err != nil {
		t.Fatalf("telegram send failed: %v", err)
	}
}

func TestEmailSend(t *testing.T) {
	var sentAddr, sentFrom string
	var sentTo []string
	var sentMsg []byte
	var sentAuth smtp.Auth
	old := sendMailHook
	sendMailHook = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sentAddr, sentAuth, sentFrom, sentTo, sentMsg = addr, a, from, to, msg
		return nil
	}
	defer func() { sendMailHook = old }()

	e := &Email{Host: "mail.test", Port: 25, User: "u", Pass: "p", To: []string{"a@b"}}
	if err := e.Send(context.Background(), "Update for #ABC", "M"); err != nil {
		t.Fatalf("email send failed: %v", err)
	}
	if sentAddr != "mail.test:25" || sentFrom != "u" || len(sentTo) != 1 || sentAuth == nil {
		t.Fatalf("unexpected send args: %v %v %v", sentAddr, sentFrom, sentTo)
	}
	if !strings.Contains(string(sentMsg), "Subject: [Parcel Tracker] Update for #ABC") {
		t.Fatalf("unexpected message: %s", sentMsg)
	}

	anon := &Email{Host: "relay", Port: 25, To: []string{"x@y"}}
	if err := anon.Send(context.Background(), "T", "M"); err != nil {
		t.Fatal(err)
	}
	if sentAuth != nil || sentFrom != "parceltracker@relay" {
		t.Fatalf("expected unauthenticated send from default address, got %v %q", sentAuth, sentFrom)
	}
}
