package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	webhookSchemaVersion = "1"
	userAgent            = "go-alerts-backend/1.0"
)

// WebhookEnvelope is the JSON body posted to generic webhooks.
type WebhookEnvelope struct {
	Type          string         `json:"type"`
	SchemaVersion string         `json:"schema_version"`
	Timestamp     time.Time      `json:"timestamp"`
	Subject       string         `json:"subject,omitempty"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data,omitempty"`
}

// WebhookTransport posts a signed JSON envelope to each target URL.
type WebhookTransport struct {
	Client *http.Client
	Now    func() time.Time
}

// NewWebhookTransport returns a transport using client, or
// http.DefaultClient when nil.
func NewWebhookTransport(client *http.Client) *WebhookTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookTransport{Client: client, Now: time.Now}
}

// Send implements Transport.
func (w *WebhookTransport) Send(ctx context.Context, req Request, target string) error {
	if target == "" {
		return fmt.Errorf("webhook: url required")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	body, err := json.Marshal(WebhookEnvelope{
		Type:          "alert.triggered",
		SchemaVersion: webhookSchemaVersion,
		Timestamp:     now().UTC(),
		Subject:       req.Subject,
		Message:       req.Message,
		Data:          req.Context,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	method := strings.ToUpper(metaString(req.Metadata, "method"))
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}
	if secret := metaString(req.Metadata, "secret"); secret != "" {
		httpReq.Header.Set("X-Signature", "sha256="+Sign(secret, body))
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
