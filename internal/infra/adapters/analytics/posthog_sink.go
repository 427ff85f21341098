// File: internal/infra/adapters/analytics/posthog_sink.go
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"practice-entitlement-engine/internal/config"
	"practice-entitlement-engine/internal/domain/ports/adapter"
)

var _ adapter.AnalyticsSink = (*PostHogSink)(nil)

// PostHogSink emits lifecycle events to PostHog. Capture is fire-and-forget
// per the port contract: failures are logged, never returned.
type PostHogSink struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     *zerolog.Logger
}

func NewPostHogSink(cfg config.AnalyticsConfig, logger *zerolog.Logger) *PostHogSink {
	base := cfg.BaseURL
	if base == "" {
		base = "https://app.posthog.com"
	}
	return &PostHogSink{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     logger,
	}
}

func (p *PostHogSink) Capture(ctx context.Context, tenantID int64, event string, props map[string]any) {
	payload := map[string]any{
		"api_key":     p.apiKey,
		"event":       event,
		"distinct_id": strconv.FormatInt(tenantID, 10),
		"properties":  props,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn().Err(err).Str("event", event).Msg("analytics payload marshal failed")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/capture/", bytes.NewReader(b))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Str("event", event).Msg("analytics capture failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		p.log.Warn().Int("status", resp.StatusCode).Str("event", event).Msg("analytics capture rejected")
	}
}

func (p *PostHogSink) DeletePerson(ctx context.Context, tenantID int64) error {
	// GDPR-style erasure of the person profile keyed by distinct id.
	body := map[string]any{
		"api_key":      p.apiKey,
		"distinct_ids": []string{strconv.FormatInt(tenantID, 10)},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/person/delete/", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("analytics person delete failed (status %d)", resp.StatusCode)
	}
	return nil
}
