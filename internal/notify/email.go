package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// sendMailHook allows tests to override SMTP sending behavior.
var sendMailHook = smtp.SendMail

// Email sends notifications via SMTP.
type Email struct {
	Host, User, Pass string
	Port             int
	To               []string
}

// Name returns the notifier backend name.
func (e *Email) Name() string { return "Email" }

// Send sends an email with the provided title and message via SMTP.
// Auth is only attempted when a user is configured.
func (e *Email) Send(_ context.Context, title, message string) error {
	addr := fmt.Sprintf("%s:%d", e.Host, e.Port)
	var auth smtp.Auth
	if e.User != "" {
		auth = smtp.PlainAuth("", e.User, e.Pass, e.Host)
	}
	from := e.User
	if from == "" {
		from = "parceltracker@" + e.Host
	}
	header := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: [Parcel Tracker] %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		from,
		strings.Join(e.To, ","),
		title,
	)
	return sendMailHook(addr, auth, from, e.To, []byte(header+message))
}
