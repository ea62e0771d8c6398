package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/retry"
)

// Default webhook pacing: Discord allows a handful of messages per channel every few seconds.
const (
	DefaultAlertsPerMinute = 30
	DefaultAlertBurst      = 5
)

// errThrottled marks a send the limiter could not admit before the context ends.
var errThrottled = errors.New("notify: alert throttled")

// Alerter delivers operational alert messages.
type Alerter interface {
	Send(ctx context.Context, content string) error
}

// StatusError is a non-success webhook response.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook status %d: %s", e.StatusCode, e.Body)
}

// Webhook posts alert messages to a Discord-compatible webhook.
type Webhook struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Config
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithWebhookHTTPClient sets the HTTP client.
func WithWebhookHTTPClient(client *http.Client) WebhookOption {
	return func(w *Webhook) {
		w.httpClient = client
	}
}

// WithRateLimit sets the sustained rate and burst of outgoing messages.
func WithRateLimit(perMinute, burst int) WebhookOption {
	return func(w *Webhook) {
		if perMinute <= 0 {
			perMinute = DefaultAlertsPerMinute
		}
		w.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(burst, 1))
	}
}

// WithRetryConfig overrides the delivery retry policy.
func WithRetryConfig(config retry.Config) WebhookOption {
	return func(w *Webhook) {
		w.retry = config
	}
}

// NewWebhook returns a Webhook posting to webhookURL.
func NewWebhook(webhookURL string, opts ...WebhookOption) (*Webhook, error) {
	u, err := url.Parse(webhookURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("notify: invalid webhook URL %q", webhookURL)
	}

	w := &Webhook{
		url: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(string, *http.Request) string { return "alert.webhook" })),
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/DefaultAlertsPerMinute), DefaultAlertBurst),
		retry:   retry.DefaultConfig,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Send posts {"content": content}. 200 and 204 count as delivered. Rate-limited,
// transport and 5xx failures are retried.
func (w *Webhook) Send(ctx context.Context, content string) error {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("%w: encode alert: %v", joinframe.ErrNotificationFailure, err)
	}

	err = retry.Do(ctx, w.retry, isRetryableDelivery, func(ctx context.Context) error {
		if err := w.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", errThrottled, err)
		}
		return w.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("%w: alert webhook: %w", joinframe.ErrNotificationFailure, err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}
}

func isRetryableDelivery(err error) bool {
	var statusErr *StatusError
	switch {
	case err == nil, errors.Is(err, errThrottled):
		return false
	case errors.As(err, &statusErr):
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}
