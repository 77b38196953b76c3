package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"
)

func TestWebhookTransport_SignsAndPosts(t *testing.T) {
	const secret = "0123456789abcdef"
	var gotSig, gotKey, gotMethod string
	var env WebhookEnvelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotMethod = r.Method
		gotKey = r.Header.Get("Idempotency-Key")
		gotSig = r.Header.Get("X-Signature")
		if want := "sha256=" + Sign(secret, body); gotSig != want {
			t.Errorf("signature = %q; want %q", gotSig, want)
		}
		_ = json.Unmarshal(body, &env)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewWebhookTransport(srv.Client())
	tr.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	err := tr.Send(context.Background(), Request{
		Message:        "2 new matches",
		Subject:        "AAPL news",
		IdempotencyKey: "sig-1",
		Metadata:       map[string]any{"secret": secret, "method": "put"},
		Context:        map[string]any{"rule_id": "r1"},
	}, srv.URL)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotMethod != http.MethodPut || gotKey != "sig-1" || gotSig == "" {
		t.Fatalf("method=%s key=%s sig=%s", gotMethod, gotKey, gotSig)
	}
	if env.Type != "alert.triggered" || env.Message != "2 new matches" || env.Data["rule_id"] != "r1" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestWebhookTransport_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	err := NewWebhookTransport(nil).Send(context.Background(), Request{Message: "x"}, srv.URL)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestTelegramTransport(t *testing.T) {
	var got telegramMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.ChatID == "-100bad" {
			_, _ = io.WriteString(w, `{"ok":false,"description":"Bad Request: chat not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	tr := NewTelegramTransport("123:default", srv.URL, srv.Client())
	req := Request{Subject: "Alert", Message: "body", Metadata: map[string]any{"parse_mode": "HTML"}}
	if err := tr.Send(context.Background(), req, "-100123"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/bot123:default/sendMessage" || got.ParseMode != "HTML" || got.Text != "Alert\n\nbody" {
		t.Fatalf("path=%s msg=%+v", path, got)
	}

	req.Metadata["bot_token"] = "456:override"
	if err := tr.Send(context.Background(), req, "-100123"); err != nil || path != "/bot456:override/sendMessage" {
		t.Fatalf("override path=%s err=%v", path, err)
	}

	err := tr.Send(context.Background(), req, "-100bad")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
	if err := NewTelegramTransport("", srv.URL, nil).Send(context.Background(), Request{}, "-1"); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestPagerDutyTransport(t *testing.T) {
	var ev pagerDutyEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&ev)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewPagerDutyTransport(srv.URL, srv.Client())
	err := tr.Send(context.Background(), Request{
		Subject:        strings.Repeat("s", 2000),
		Message:        "m",
		IdempotencyKey: "sig-9",
		Metadata:       map[string]any{"routing_key": "abcdefABCDEF0123456789abcdef0123"},
		Context:        map[string]any{"rule_id": "r1"},
	}, "")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ev.EventAction != "trigger" || ev.DedupKey != "sig-9" || ev.Payload.Severity != "info" {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.Payload.Summary) != pagerDutySummaryMax || ev.Payload.CustomDetails["rule_id"] != "r1" {
		t.Fatalf("payload = %+v", ev.Payload)
	}
	if err := tr.Send(context.Background(), Request{}, ""); err == nil {
		t.Fatalf("expected routing_key error")
	}
}

func TestSlackTransport(t *testing.T) {
	var gotURL string
	var got *slack.WebhookMessage
	tr := NewSlackTransport("alerts-bot")
	tr.post = func(_ context.Context, url string, msg *slack.WebhookMessage) error {
		gotURL, got = url, msg
		return nil
	}
	err := tr.Send(context.Background(), Request{
		Subject:  "Hi",
		Message:  "there",
		Metadata: map[string]any{"channel": "#ops"},
	}, "https://hooks.slack.com/services/T/B/X")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotURL != "https://hooks.slack.com/services/T/B/X" || got.Channel != "#ops" || got.Username != "alerts-bot" || got.Text != "*Hi*\nthere" {
		t.Fatalf("url=%s msg=%+v", gotURL, got)
	}
	if err := tr.Send(context.Background(), Request{}, ""); err == nil {
		t.Fatalf("expected url error")
	}
}

func TestEmailTransport(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	var gotAuth smtp.Auth
	tr := NewEmailTransport("smtp.example.com", 587, "user", "pw", "alerts@example.com")
	tr.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotMsg = addr, a, from, to, msg
		return nil
	}
	err := tr.Send(context.Background(), Request{
		Subject:  "default",
		Message:  "line1\nline2",
		Metadata: map[string]any{"subject": "Filing\r\nBcc: evil@x.io"},
	}, "ops@example.com")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotAuth == nil || gotFrom != "alerts@example.com" || len(gotTo) != 1 {
		t.Fatalf("addr=%s from=%s to=%v", gotAddr, gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if strings.Contains(msg, "\r\nBcc:") || !strings.Contains(msg, "Subject: Filing  Bcc: evil@x.io\r\n") {
		t.Fatalf("header injection not neutralized:\n%s", msg)
	}
	if !strings.HasSuffix(msg, "line1\r\nline2") {
		t.Fatalf("body = %q", msg)
	}
}

func TestEmailTransport_ContextAndErrors(t *testing.T) {
	tr := NewEmailTransport("smtp.example.com", 25, "", "", "a@b.io")
	block := make(chan struct{})
	defer close(block)
	tr.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		<-block
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := tr.Send(ctx, Request{Message: "x"}, "o@b.io"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	if err := NewEmailTransport("", 25, "", "", "").Send(context.Background(), Request{}, "o@b.io"); err == nil {
		t.Fatalf("expected host error")
	}
}
