package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/marcusd/internal/types"
)

// BuildChannels constructs the configured channels
func BuildChannels(configs []types.NotifyChannelConfig) []Channel {
	var channels []Channel
	for _, cfg := range configs {
		switch cfg.Type {
		case "terminal":
			channels = append(channels, NewTerminalChannel(cfg.MinSeverity))
		case "slack":
			channels = append(channels, NewWebhookChannel("slack", cfg.WebhookURL, cfg.MinSeverity, slackPayload))
		case "discord":
			channels = append(channels, NewWebhookChannel("discord", cfg.WebhookURL, cfg.MinSeverity, discordPayload))
		case "email":
			channels = append(channels, NewEmailChannel(cfg))
		case "toast":
			channels = append(channels, NewToastChannel(cfg.MinSeverity))
		default:
			log.Printf("[NOTIFY] unknown channel type %q, skipping", cfg.Type)
		}
	}
	return channels
}

// TerminalChannel prints alerts to the server log
type TerminalChannel struct {
	minSeverity string
}

// NewTerminalChannel creates a terminal channel
func NewTerminalChannel(minSeverity string) *TerminalChannel {
	return &TerminalChannel{minSeverity: minSeverity}
}

func (t *TerminalChannel) Name() string { return "terminal" }

func (t *TerminalChannel) ShouldNotify(alert Alert) bool {
	return meetsThreshold(alert, t.minSeverity)
}

func (t *TerminalChannel) Send(alert Alert) error {
	log.Printf("[ALERT] %s: %s — %s", strings.ToUpper(string(alert.Severity)), alert.Title, alert.Message)
	return nil
}

// payloadFunc shapes the webhook body for a specific service
type payloadFunc func(alert Alert) interface{}

// WebhookChannel posts alerts to a webhook (Slack, Discord)
type WebhookChannel struct {
	name        string
	url         string
	minSeverity string
	payload     payloadFunc
	client      *http.Client
}

// NewWebhookChannel creates a webhook-backed channel
func NewWebhookChannel(name, url, minSeverity string, payload payloadFunc) *WebhookChannel {
	return &WebhookChannel{
		name:        name,
		url:         url,
		minSeverity: minSeverity,
		payload:     payload,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookChannel) Name() string { return w.name }

func (w *WebhookChannel) ShouldNotify(alert Alert) bool {
	return w.url != "" && meetsThreshold(alert, w.minSeverity)
}

func (w *WebhookChannel) Send(alert Alert) error {
	body, err := json.Marshal(w.payload(alert))
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func slackPayload(alert Alert) interface{} {
	color := "good"
	switch alert.Severity {
	case SeverityCritical:
		color = "danger"
	case SeverityWarning:
		color = "warning"
	}
	return map[string]interface{}{
		"attachments": []map[string]interface{}{{
			"color": color,
			"title": alert.Title,
			"text":  alert.Message,
			"ts":    alert.Timestamp.Unix(),
		}},
	}
}

func discordPayload(alert Alert) interface{} {
	return map[string]interface{}{
		"content": fmt.Sprintf("**%s** [%s]\n%s", alert.Title, alert.Severity, alert.Message),
	}
}

// EmailChannel sends alerts over SMTP
type EmailChannel struct {
	cfg types.NotifyChannelConfig
}

// NewEmailChannel creates an email channel. The webhook_url field carries
// the SMTP endpoint as user:pass@host:port.
func NewEmailChannel(cfg types.NotifyChannelConfig) *EmailChannel {
	return &EmailChannel{cfg: cfg}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) ShouldNotify(alert Alert) bool {
	return e.cfg.WebhookURL != "" && len(e.cfg.Recipients) > 0 && meetsThreshold(alert, e.cfg.MinSeverity)
}

func (e *EmailChannel) Send(alert Alert) error {
	creds, host, ok := strings.Cut(e.cfg.WebhookURL, "@")
	if !ok {
		return fmt.Errorf("email endpoint must be user:pass@host:port")
	}
	user, pass, _ := strings.Cut(creds, ":")
	hostname, _, _ := strings.Cut(host, ":")

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [marcus] %s\r\n\r\n%s\r\n",
		user, strings.Join(e.cfg.Recipients, ", "), alert.Title, alert.Message)

	auth := smtp.PlainAuth("", user, pass, hostname)
	return smtp.SendMail(host, auth, user, e.cfg.Recipients, []byte(msg))
}
