package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// LogSender writes messages to the log. Tokens are only included when
// IncludeTokens is set, which is meant for local development.
type LogSender struct {
	Logger        *slog.Logger
	IncludeTokens bool
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{
		slog.String("kind", string(msg.Kind)),
		slog.String("account_id", msg.AccountID),
		slog.String("to", msg.To),
	}
	if s.IncludeTokens && msg.Token != "" {
		attrs = append(attrs, slog.String("token", msg.Token))
	}
	l.InfoContext(ctx, "notification", attrs...)
	return nil
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookSender POSTs each message as JSON to a fixed URL. Any non-2xx
// response is an error so the dispatcher retries it.
type WebhookSender struct {
	URL    string
	Client HTTPDoer
}

// NewWebhookSender builds a sender whose client refuses private, loopback
// and link-local destinations and any port other than 80 and 443.
func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	return &WebhookSender{URL: url, Client: NewSafeClient(timeout)}
}

// NewSafeClient returns an HTTP client guarded against SSRF. Addresses are
// checked after DNS resolution so rebinding cannot bypass it.
func NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
