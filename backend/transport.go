package backend

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type operationKey struct{}

func withOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func operationFrom(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok {
		return op
	}
	return "unknown"
}

// CallEvent describes one completed backend round trip.
type CallEvent struct {
	Operation  string
	Method     string
	URL        string
	StatusCode int
	Duration   time.Duration
	Err        error
}

// ObservedTransport is a RoundTripper that logs every backend round trip and reports it
// to OnCall.
type ObservedTransport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// OnCall, if set, is called after every round trip.
	OnCall func(CallEvent)
}

// RoundTrip implements http.RoundTripper.
func (t *ObservedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)

	event := CallEvent{
		Operation: operationFrom(req.Context()),
		Method:    req.Method,
		URL:       req.URL.Redacted(),
		Duration:  time.Since(start),
		Err:       err,
	}
	if resp != nil {
		event.StatusCode = resp.StatusCode
	}

	logger := slog.Default()
	if err != nil {
		logger.Warn("backend call failed", "operation", event.Operation, "method", event.Method,
			"url", event.URL, "duration", event.Duration, "error", err)
	} else {
		logger.Debug("backend call", "operation", event.Operation, "method", event.Method,
			"url", event.URL, "status", event.StatusCode, "duration", event.Duration)
	}

	if t.OnCall != nil {
		t.OnCall(event)
	}

	return resp, err
}
