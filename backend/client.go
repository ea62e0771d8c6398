package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/validation"
)

// Backend paths, relative to the configured base URL.
const (
	claimPath            = "market/character/claim/get"
	activeTournamentPath = "tournament/get_active_tournament"
	paymentSignaturePath = "tournament/base/get_payment_server_sig"
	notifyJoinPath       = "tournament/base/notify_join"
)

// Operation names used in logs, metrics and spans.
const (
	OpClaimableAssets  = "claimable_assets"
	OpActiveTournament = "active_tournament"
	OpPaymentSignature = "payment_signature"
	OpNotifyJoin       = "notify_join"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of an error response is kept in Error.Message.
const maxErrorBody = 512

// Client is the HTTP implementation of Interface. It is safe for concurrent use.
// Calls are never retried.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	onCall     func(CallEvent)
}

var _ Interface = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is used as is.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithCallObserver registers fn to receive one CallEvent per backend call.
func WithCallObserver(fn func(CallEvent)) ClientOption {
	return func(c *Client) {
		c.onCall = fn
	}
}

// NewClient creates a Client for the backend rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("backend base URL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend base URL scheme %q", u.Scheme)
	}

	c := &Client{baseURL: u}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: DefaultTimeout,
			Transport: otelhttp.NewTransport(
				&ObservedTransport{Base: http.DefaultTransport, OnCall: c.onCall},
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "backend." + operationFrom(r.Context())
				}),
			),
		}
	}

	return c, nil
}

// ClaimableAssets implements Interface.
func (c *Client) ClaimableAssets(ctx context.Context, address string) (*ClaimResponse, error) {
	query := url.Values{}
	query.Set("address", address)
	query.Set("limit", "1")

	var resp ClaimResponse
	if err := c.do(ctx, OpClaimableAssets, http.MethodGet, claimPath, query, nil, &resp); err != nil {
		return nil, err
	}
	if resp.HighLevel == nil {
		return nil, c.shapeError(OpClaimableAssets, http.MethodGet, claimPath, "response has no highLevel list")
	}
	for _, character := range resp.HighLevel {
		if character.NFTID == nil {
			return nil, c.shapeError(OpClaimableAssets, http.MethodGet, claimPath, "character without nft_id")
		}
	}
	return &resp, nil
}

// ActiveTournament implements Interface.
func (c *Client) ActiveTournament(ctx context.Context) (*TournamentResponse, error) {
	var resp TournamentResponse
	if err := c.do(ctx, OpActiveTournament, http.MethodGet, activeTournamentPath, nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data.TournamentID == nil {
		return nil, c.shapeError(OpActiveTournament, http.MethodGet, activeTournamentPath, "response has no data.tournamentId")
	}
	return &resp, nil
}

// PaymentSignature implements Interface. The issued payload is validated before it is returned.
func (c *Client) PaymentSignature(ctx context.Context, req SignatureRequest) (*joinframe.AuthorizationPayload, error) {
	var resp signatureResponse
	if err := c.do(ctx, OpPaymentSignature, http.MethodPost, paymentSignaturePath, nil, req, &resp); err != nil {
		return nil, err
	}
	if err := validation.ValidateAuthorizationPayload(resp.Data); err != nil {
		return nil, c.shapeError(OpPaymentSignature, http.MethodPost, paymentSignaturePath, err.Error())
	}
	return resp.Data, nil
}

// NotifyJoin implements Interface. A 500 is accepted as a degraded success and returned
// with a nil error; any other non-2xx status is an error.
func (c *Client) NotifyJoin(ctx context.Context, txHash string) (int, error) {
	status, err := c.send(ctx, OpNotifyJoin, http.MethodPost, notifyJoinPath, nil, notifyRequest{TxHash: txHash}, nil)
	if err != nil {
		var backendErr *Error
		if status == http.StatusInternalServerError && errors.As(err, &backendErr) {
			slog.Default().Warn("join notification accepted with server error", "txHash", txHash, "status", status)
			return status, nil
		}
		return status, err
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, result any) error {
	_, err := c.send(ctx, op, method, path, query, body, result)
	return err
}

// send executes one request and decodes a 2xx body into result. It returns the status code
// whenever a response was received.
func (c *Client) send(ctx context.Context, op, method, path string, query url.Values, body, result any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	endpoint := c.baseURL.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(withOperation(ctx, op), method, endpoint.String(), reader)
	if err != nil {
		return 0, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &Error{Operation: op, Method: method, Path: path, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &Error{
			Operation:  op,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(text)),
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return resp.StatusCode, &Error{
				Operation: op,
				Method:    method,
				Path:      path,
				Message:   "decode response: " + err.Error(),
				Err:       err,
			}
		}
	}

	return resp.StatusCode, nil
}

func (c *Client) shapeError(op, method, path, msg string) error {
	return &Error{Operation: op, Method: method, Path: path, Message: "unexpected response shape: " + msg}
}
