// File: internal/infra/adapters/notify/mailgun_sender.go
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"practice-entitlement-engine/internal/config"
	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/ports/adapter"
)

var _ adapter.NotificationSender = (*MailgunSender)(nil)

// MailgunSender delivers lifecycle email through the Mailgun messages API.
// Template content lives provider-side; this only fills variables.
type MailgunSender struct {
	apiKey  string
	baseURL string
	domain  string
	from    string
	client  *http.Client
}

func NewMailgunSender(cfg config.NotifyConfig) *MailgunSender {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.mailgun.net/v3"
	}
	return &MailgunSender{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
		domain:  cfg.Domain,
		from:    cfg.FromAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *MailgunSender) send(ctx context.Context, to, subject, template string, vars map[string]string) error {
	form := url.Values{}
	form.Set("from", m.from)
	form.Set("to", to)
	form.Set("subject", subject)
	form.Set("template", template)
	for k, v := range vars {
		form.Set("v:"+k, v)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", m.baseURL, m.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth("api", m.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("mailgun send failed: %w (status %d)", domain.ErrOperationFailed, resp.StatusCode)
	}
	return nil
}

func (m *MailgunSender) SendDeletionScheduled(ctx context.Context, email, username string, deleteAt time.Time) error {
	return m.send(ctx, email, "Your account is scheduled for deletion", "account-deletion-scheduled", map[string]string{
		"username":  username,
		"delete_at": deleteAt.Format("January 2, 2006"),
	})
}

func (m *MailgunSender) SendFarewell(ctx context.Context, email, username string, refundCents int64) error {
	vars := map[string]string{"username": username}
	if refundCents > 0 {
		vars["refund"] = fmt.Sprintf("$%.2f", float64(refundCents)/100)
	}
	return m.send(ctx, email, "Your account has been deleted", "account-farewell", vars)
}

func (m *MailgunSender) SendWelcomeBack(ctx context.Context, email, username string) error {
	return m.send(ctx, email, "Welcome back", "account-welcome-back", map[string]string{
		"username": username,
	})
}

func (m *MailgunSender) SendInactivityReminder(ctx context.Context, email, username string, lastActive time.Time) error {
	return m.send(ctx, email, "We miss you", "inactivity-reminder", map[string]string{
		"username":    username,
		"last_active": lastActive.Format("January 2, 2006"),
	})
}
