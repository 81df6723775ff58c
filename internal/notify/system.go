package notify

import (
	"context"
	"fmt"
	"strings"
)

// --- Gotify (Self-Hosted Push) ---
type Gotify struct{ ServerURL, Token string }

func (g *Gotify) Name() string { return "Gotify" }
func (g *Gotify) Send(ctx context.Context, title, message string) error {
	url := fmt.Sprintf("%s/message", strings.TrimRight(g.ServerURL, "/"))
	payload := map[string]interface{}{
		"title":    title,
		"message":  message,
		"priority": 5,
		"extras":   map[string]interface{}{"client::display": map[string]string{"contentType": "text/plain"}},
	}
	return postJSON(ctx, url, payload, map[string]string{"X-Gotify-Key": g.Token})
}

// --- Generic Webhook ---
type Generic struct{ WebhookURL string }

func (g *Generic) Name() string { return "GenericWebhook" }
func (g *Generic) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"title": title, "message": message, "agent": agentName}
	return postJSON(ctx, g.WebhookURL, payload, nil)
}
