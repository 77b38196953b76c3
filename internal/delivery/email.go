package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// EmailTransport sends plain-text mail over SMTP. The target is the
// recipient address.
type EmailTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

// NewEmailTransport returns an SMTP transport.
func NewEmailTransport(host string, port int, username, password, from string) *EmailTransport {
	return &EmailTransport{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Send implements Transport. net/smtp has no context support, so the send
// runs in a goroutine and Send returns when ctx ends.
func (e *EmailTransport) Send(ctx context.Context, req Request, target string) error {
	if e.Host == "" {
		return errors.New("email: smtp host not configured")
	}
	if target == "" {
		return errors.New("email: recipient required")
	}
	subject := metaString(req.Metadata, "subject")
	if subject == "" {
		subject = req.Subject
	}
	msg := e.compose(target, subject, req.Message)

	var auth smtp.Auth
	if e.Username != "" {
		auth = smtp.PlainAuth("", e.Username, e.Password, e.Host)
	}
	addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))

	send := e.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	done := make(chan error, 1)
	go func() { done <- send(addr, auth, e.From, []string{target}, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email: %w", ctx.Err())
	}
}

func (e *EmailTransport) compose(to, subject, body string) []byte {
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", headerValue(e.From))
	fmt.Fprintf(&b, "To: %s\r\n", headerValue(to))
	fmt.Fprintf(&b, "Subject: %s\r\n", headerValue(subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// headerValue strips line breaks so values cannot inject headers.
func headerValue(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(strings.TrimSpace(s))
}
