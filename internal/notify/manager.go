// Package notify mirrors tracker events to operator webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Chrislampwastaken/Aliexpress-Parcel-Tracker/internal/logging"
)

// DefaultNotifierCooldown is the default cooldown between notifications to the same service
var DefaultNotifierCooldown = 100 * time.Millisecond

// Event kinds, filtered by Level.
const (
	KindStartup = "startup"
	KindUpdate  = "update"
)

// Service is the interface all notifiers must implement
type Service interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// MultiNotifier bundles all active services. Each Send is a single attempt
// per service; a failed mirror send is logged and dropped.
type MultiNotifier struct {
	services []Service
	// level is "all", "updates" or "none"
	level string
	// lastSent tracks last successful send per service name
	lastSent map[string]time.Time
	cooldown time.Duration
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewMultiNotifier returns a notifier that forwards events allowed by level.
func NewMultiNotifier(level string) *MultiNotifier {
	if level == "" {
		level = "all"
	}
	return &MultiNotifier{
		services: make([]Service, 0),
		level:    strings.ToLower(level),
		lastSent: make(map[string]time.Time),
		cooldown: DefaultNotifierCooldown,
	}
}

// Add registers s; nil is ignored.
func (m *MultiNotifier) Add(s Service) {
	if s != nil {
		m.services = append(m.services, s)
	}
}

// Len returns the number of registered services.
func (m *MultiNotifier) Len() int {
	return len(m.services)
}

// SetCooldown allows tests or callers to adjust the cooldown
func (m *MultiNotifier) SetCooldown(d time.Duration) {
	m.cooldown = d
}

// Allows reports whether events of kind pass the configured level.
func (m *MultiNotifier) Allows(kind string) bool {
	switch m.level {
	case "none":
		return false
	case "updates":
		return kind == KindUpdate
	default:
		return true
	}
}

// Wait waits for pending notification sends to complete or until the provided
// context is cancelled.
func (m *MultiNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send forwards an event of kind to every service in the background.
func (m *MultiNotifier) Send(ctx context.Context, kind, title, message string) {
	if m == nil || !m.Allows(kind) {
		return
	}
	now := time.Now()
	for _, s := range m.services {
		m.wg.Add(1)
		go func(svc Service) {
			defer m.wg.Done()
			name := svc.Name()
			if m.shouldSkipDueToCooldown(name, now) {
				logging.Get().Warn().Str("service", name).Msg("skipping mirror notification due to cooldown")
				return
			}
			if err := svc.Send(ctx, title, message); err != nil {
				logging.Get().Error().Err(err).Str("service", name).Msg("mirror notification failed")
				return
			}
			m.mu.Lock()
			m.lastSent[name] = time.Now()
			m.mu.Unlock()
			logging.Get().Debug().Str("service", name).Msg("mirror notification sent")
		}(s)
	}
}

func (m *MultiNotifier) shouldSkipDueToCooldown(name string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastSent[name]; ok {
		if now.Sub(last) < m.cooldown {
			return true
		}
	}
	return false
}

// postJSON is a shared helper used by providers
func postJSON(ctx context.Context, url string, data interface{}, headers map[string]string) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("api returned status %d", resp.StatusCode)
	}
	return nil
}
