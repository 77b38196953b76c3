package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultTelegramAPIBase is the Bot API root.
const DefaultTelegramAPIBase = "https://api.telegram.org"

// TelegramTransport sends messages through the Bot API. The target is the
// chat id.
type TelegramTransport struct {
	Token   string
	APIBase string
	Client  *http.Client
}

// NewTelegramTransport returns a transport for the given bot token.
func NewTelegramTransport(token, apiBase string, client *http.Client) *TelegramTransport {
	if apiBase == "" {
		apiBase = DefaultTelegramAPIBase
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TelegramTransport{Token: token, APIBase: strings.TrimRight(apiBase, "/"), Client: client}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send implements Transport.
func (t *TelegramTransport) Send(ctx context.Context, req Request, target string) error {
	token := metaString(req.Metadata, "bot_token")
	if token == "" {
		token = t.Token
	}
	if token == "" {
		return errors.New("telegram: bot token not configured")
	}
	if target == "" {
		return errors.New("telegram: chat id required")
	}

	text := req.Message
	if req.Subject != "" {
		text = req.Subject + "\n\n" + req.Message
	}
	body, err := json.Marshal(telegramMessage{
		ChatID:    target,
		Text:      text,
		ParseMode: metaString(req.Metadata, "parse_mode"),
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := t.APIBase + "/bot" + token + "/sendMessage"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		// url.Error embeds the token-bearing URL
		if ctx.Err() != nil {
			return fmt.Errorf("telegram: %w", ctx.Err())
		}
		return errors.New("telegram: request failed")
	}
	defer resp.Body.Close()

	var out telegramResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return fmt.Errorf("telegram: status %d: bad response", resp.StatusCode)
	}
	if !out.OK {
		if out.Description == "" {
			out.Description = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("telegram: %s", out.Description)
	}
	return nil
}
