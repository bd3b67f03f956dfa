// Package notify sends transactional email.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// BrevoEndpoint is the Brevo transactional email API.
const BrevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// Message is one outgoing email.
type Message struct {
	ToEmail string
	ToName  string
	Subject string
	HTML    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// BrevoMailer sends mail through the Brevo HTTP API.
type BrevoMailer struct {
	APIKey      string
	SenderEmail string
	SenderName  string
	Endpoint    string
	Client      *http.Client
}

type brevoPayload struct {
	Sender      map[string]string   `json:"sender"`
	To          []map[string]string `json:"to"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"htmlContent"`
}

// NewBrevo returns a Brevo mailer with a 10 second client timeout.
func NewBrevo(apiKey, senderEmail, senderName string) *BrevoMailer {
	return &BrevoMailer{
		APIKey:      apiKey,
		SenderEmail: senderEmail,
		SenderName:  senderName,
		Endpoint:    BrevoEndpoint,
		Client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// ErrInvalidRecipient is returned for addresses that cannot be delivered to.
var ErrInvalidRecipient = errors.New("invalid recipient email")

func (s *BrevoMailer) Send(ctx context.Context, m Message) error {
	at := strings.Index(m.ToEmail, "@")
	if at <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, m.ToEmail)
	}
	name := m.ToName
	if name == "" {
		name = m.ToEmail[:at]
	}

	body, err := json.Marshal(brevoPayload{
		Sender:      map[string]string{"name": s.SenderName, "email": s.SenderEmail},
		To:          []map[string]string{{"email": m.ToEmail, "name": name}},
		Subject:     m.Subject,
		HTMLContent: m.HTML,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("api-key", s.APIKey)
	req.Header.Set("content-type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("brevo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	slog.Info("email sent", "to", m.ToEmail, "subject", m.Subject)
	return nil
}

// LogMailer logs messages instead of sending them. It is used when no mail
// provider is configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, m Message) error {
	slog.Info("email not sent: no mail provider configured", "to", m.ToEmail, "subject", m.Subject)
	slog.Debug("email body", "to", m.ToEmail, "html", m.HTML)
	return nil
}

// New picks Brevo when an API key and sender are configured and LogMailer otherwise.
func New(apiKey, senderEmail, senderName string) Mailer {
	if apiKey == "" || senderEmail == "" {
		slog.Warn("email service not configured, messages will only be logged")
		return LogMailer{}
	}
	return NewBrevo(apiKey, senderEmail, senderName)
}
