// Package notify renders and delivers the account emails: the verification
// link sent at registration and on resend, and the password reset link.
//
// The Dispatcher owns the content (subjects, links, templates); a Sender owns
// delivery. Three senders exist: LogSender for local development, ResendSender
// for the Resend API, and QueueSender, which hands the rendered message to a
// RabbitMQ queue that cmd/mailworker drains.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
)

// ErrNoSender is returned when a Dispatcher has nothing to deliver through.
var ErrNoSender = errors.New("notify: no sender configured")

// Message is one rendered email. It is also the queue payload.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Dispatcher builds verification and reset emails and passes them to a Sender.
type Dispatcher struct {
	sender  Sender
	baseURL string
}

// NewDispatcher returns a Dispatcher whose links are rooted at baseURL
// (e.g. "https://studio.example.com").
func NewDispatcher(sender Sender, baseURL string) *Dispatcher {
	return &Dispatcher{sender: sender, baseURL: strings.TrimRight(baseURL, "/")}
}

// VerificationLink is the URL embedded in the verification email.
func (d *Dispatcher) VerificationLink(token, redirect string) string {
	q := url.Values{}
	q.Set("token", token)
	if redirect != "" {
		q.Set("redirect", redirect)
	}
	return d.baseURL + "/api/auth/verify-email?" + q.Encode()
}

// ResetLink is the URL embedded in the password reset email. It points at the
// SPA page that collects the new password.
func (d *Dispatcher) ResetLink(token string) string {
	q := url.Values{}
	q.Set("token", token)
	return d.baseURL + "/reset-password?" + q.Encode()
}

// SendVerification emails the verification link. redirect must already be
// sanitized; an empty value is left out of the link.
func (d *Dispatcher) SendVerification(ctx context.Context, to, username, token, redirect string) error {
	data := emailData{Username: username, Link: d.VerificationLink(token, redirect)}
	msg, err := render(to, "Verify your Infinite Studio email", verificationHTML, verificationText, data)
	if err != nil {
		return err
	}
	return d.send(ctx, msg)
}

// SendPasswordReset emails the reset link, telling the user it is good for
// validFor.
func (d *Dispatcher) SendPasswordReset(ctx context.Context, to, username, token string, validFor time.Duration) error {
	data := emailData{Username: username, Link: d.ResetLink(token), ExpiresIn: humanDuration(validFor)}
	msg, err := render(to, "Reset your Infinite Studio password", resetHTML, resetText, data)
	if err != nil {
		return err
	}
	return d.send(ctx, msg)
}

func (d *Dispatcher) send(ctx context.Context, msg Message) error {
	if d.sender == nil {
		return ErrNoSender
	}
	if err := d.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: sending %q: %w", msg.Subject, err)
	}
	return nil
}

type emailData struct {
	Username  string
	Link      string
	ExpiresIn string
}

// humanDuration writes d as "1 hour", "30 minutes" or "1 hour 30 minutes".
// Anything under a minute rounds up to "1 minute".
func humanDuration(d time.Duration) string {
	minutes := int((d + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	h, m := minutes/60, minutes%60

	var parts []string
	if h > 0 {
		parts = append(parts, plural(h, "hour"))
	}
	if m > 0 {
		parts = append(parts, plural(m, "minute"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func render(to, subject string, html *htmltemplate.Template, text *texttemplate.Template, data emailData) (Message, error) {
	var hb, tb bytes.Buffer
	if err := html.Execute(&hb, data); err != nil {
		return Message{}, fmt.Errorf("notify: rendering html: %w", err)
	}
	if err := text.Execute(&tb, data); err != nil {
		return Message{}, fmt.Errorf("notify: rendering text: %w", err)
	}
	return Message{To: to, Subject: subject, HTML: hb.String(), Text: tb.String()}, nil
}
