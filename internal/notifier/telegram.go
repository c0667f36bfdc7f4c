package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"PointsLedger/internal/retry"
)

const defaultAPIBase = "https://api.telegram.org"

// APIError is a Bot API call that failed with a non-success status or an
// ok=false envelope.
type APIError struct {
	Method      string
	Status      int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.Status, e.Description)
}

// StatusCode lets retry.IsRetryable classify rate limits and server errors.
func (e *APIError) StatusCode() int { return e.Status }

// TelegramNotifier sends alerts to one chat and answers commands from it.
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	APIBase  string
	Client   *http.Client
	// Retry is the backoff used by SendWithRetry; MaxAttempts is taken from
	// the caller.
	Retry       retry.Config
	PollTimeout time.Duration

	log *slog.Logger
}

// NewTelegramNotifier creates a notifier. proxyURL is optional and applies to
// sends and polling alike.
func NewTelegramNotifier(log *slog.Logger, botToken, chatID, proxyURL string) *TelegramNotifier {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		} else {
			log.Warn("notifier: ignoring invalid proxy url", "error", err)
		}
	}
	return &TelegramNotifier{
		BotToken:    botToken,
		ChatID:      chatID,
		APIBase:     defaultAPIBase,
		Client:      &http.Client{Transport: transport},
		Retry:       retry.Config{BaseBackoff: time.Second, MaxBackoff: 30 * time.Second},
		PollTimeout: 30 * time.Second,
		log:         log,
	}
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// call posts params to a Bot API method and decodes the result into out,
// which may be nil.
func (t *TelegramNotifier) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.APIBase, t.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	var env apiEnvelope
	if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil || resp.StatusCode != http.StatusOK || !env.OK {
		desc := env.Description
		if desc == "" {
			desc = string(bytes.TrimSpace(raw))
		}
		return &APIError{Method: method, Status: resp.StatusCode, Description: desc}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// Send posts an HTML message to the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	return t.call(ctx, "sendMessage", map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
}

// SendWithRetry retries transient failures up to maxRetries times. Client
// errors such as a revoked token fail immediately.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	cfg := t.Retry
	cfg.MaxAttempts = maxRetries + 1
	attempt := 0
	return retry.Do(ctx, cfg, func() error {
		attempt++
		err := t.Send(ctx, text)
		if err != nil {
			t.log.Warn("notifier: telegram send failed",
				"attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err)
		}
		return err
	})
}
