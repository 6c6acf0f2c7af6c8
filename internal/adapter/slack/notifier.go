// Package slack mirrors approval escalations into a reviewer channel via a
// Slack incoming webhook. It is a secondary notification sink alongside the
// WebSocket hub: best-effort, never on the decision path.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/greenlight-hq/greenlight/internal/adapter/ws"
	"github.com/greenlight-hq/greenlight/internal/resilience"
)

// Notifier posts escalation events to a Slack incoming webhook. Deliveries
// run through a circuit breaker so a dead webhook cannot pile up blocked
// requests.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	breaker    *resilience.Breaker
	log        *slog.Logger
}

// NewNotifier creates a Slack notifier with the given webhook URL. An empty
// URL yields a notifier that drops everything.
func NewNotifier(webhookURL string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    resilience.NewBreaker(5, 30*time.Second),
		log:        log,
	}
}

// slackMessage is the Slack Block Kit message payload.
type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// BroadcastEvent mirrors reviewer-relevant events to the webhook. Auto
// approvals and routine decision confirmations stay off the channel; only
// items that need human eyes are posted. Failures are logged, never returned:
// notification loss must not affect routing or decisions.
func (n *Notifier) BroadcastEvent(ctx context.Context, tenantID, eventType string, payload any) {
	if n.webhookURL == "" {
		return
	}

	title, ok := escalationTitle(eventType)
	if !ok {
		return
	}

	err := n.breaker.Execute(func() error {
		return n.post(ctx, tenantID, title, payload)
	})
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrCircuitOpen):
		n.log.Debug("slack circuit open, dropping notification", "event_type", eventType, "tenant_id", tenantID)
	default:
		n.log.Warn("slack notification failed", "event_type", eventType, "tenant_id", tenantID, "error", err)
	}
}

// escalationTitle maps an event type to a channel headline. Unlisted types
// are not mirrored.
func escalationTitle(eventType string) (string, bool) {
	switch eventType {
	case ws.EventApprovalCreated:
		return "Approval needed", true
	case ws.EventDeadLettered:
		return "Event dead-lettered", true
	default:
		return "", false
	}
}

func (n *Notifier) post(ctx context.Context, tenantID, title string, payload any) error {
	detail, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("slack marshal payload: %w", err)
	}

	msg := slackMessage{
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("```%s```", detail)}},
			{Type: "context", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("_Tenant: %s_", tenantID)}},
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
