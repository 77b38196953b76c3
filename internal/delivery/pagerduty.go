package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultPagerDutyEventsURL is the Events API v2 enqueue endpoint.
const DefaultPagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

const pagerDutySummaryMax = 1024

// PagerDutyTransport triggers incidents through Events API v2. It takes no
// targets; the routing key comes from channel metadata.
type PagerDutyTransport struct {
	URL    string
	Source string
	Client *http.Client
}

// NewPagerDutyTransport returns a transport posting to url.
func NewPagerDutyTransport(url string, client *http.Client) *PagerDutyTransport {
	if url == "" {
		url = DefaultPagerDutyEventsURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &PagerDutyTransport{URL: url, Source: "go-alerts-backend", Client: client}
}

type pagerDutyEvent struct {
	RoutingKey  string           `json:"routing_key"`
	EventAction string           `json:"event_action"`
	DedupKey    string           `json:"dedup_key,omitempty"`
	Payload     pagerDutyPayload `json:"payload"`
}

type pagerDutyPayload struct {
	Summary       string         `json:"summary"`
	Source        string         `json:"source"`
	Severity      string         `json:"severity"`
	CustomDetails map[string]any `json:"custom_details,omitempty"`
}

// Send implements Transport.
func (p *PagerDutyTransport) Send(ctx context.Context, req Request, _ string) error {
	key := metaString(req.Metadata, "routing_key")
	if key == "" {
		return errors.New("pagerduty: routing_key required")
	}
	severity := metaString(req.Metadata, "severity")
	if severity == "" {
		severity = "info"
	}
	summary := req.Subject
	if summary == "" {
		summary = req.Message
	}
	if r := []rune(summary); len(r) > pagerDutySummaryMax {
		summary = string(r[:pagerDutySummaryMax])
	}

	details := map[string]any{"message": req.Message}
	for k, v := range req.Context {
		details[k] = v
	}
	body, err := json.Marshal(pagerDutyEvent{
		RoutingKey:  key,
		EventAction: "trigger",
		DedupKey:    req.IdempotencyKey,
		Payload: pagerDutyPayload{
			Summary:       summary,
			Source:        p.Source,
			Severity:      severity,
			CustomDetails: details,
		},
	})
	if err != nil {
		return fmt.Errorf("pagerduty: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("pagerduty: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("pagerduty: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pagerduty: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
