package flow

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/backend"
)

// AuthorizationRequest is the input of one signing turn's authorization exchange.
type AuthorizationRequest struct {
	// Address is the verified wallet address of the user.
	Address string

	// Signature is the wallet's signature over State.SignedMessage().
	Signature string

	// Token is the token picked in this cycle.
	Token joinframe.TokenDescriptor

	// State is the state the signature was made against.
	State joinframe.TurnState
}

// Authorizer obtains a payment authorization for a signing turn.
type Authorizer interface {
	Fetch(ctx context.Context, req AuthorizationRequest) (*joinframe.AuthorizationPayload, error)
}

// Fetcher resolves the user's character and the active tournament, then exchanges the
// signed turn message for the backend's co-signed authorization. It makes no retries.
type Fetcher struct {
	backend  backend.Interface
	registry *joinframe.Registry
	tracer   trace.Tracer
}

var _ Authorizer = (*Fetcher)(nil)

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetcherRegistry sets the registry token addresses are resolved against.
// The default is joinframe.DefaultRegistry.
func WithFetcherRegistry(r *joinframe.Registry) FetcherOption {
	return func(f *Fetcher) {
		f.registry = r
	}
}

// NewFetcher returns a Fetcher calling b.
func NewFetcher(b backend.Interface, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		backend:  b,
		registry: joinframe.DefaultRegistry,
		tracer:   otel.Tracer("joinframe/flow"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs the three backend calls in order. An empty claim list fails with
// joinframe.ErrNoAssetAvailable; every other failure wraps joinframe.ErrBackendUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, req AuthorizationRequest) (*joinframe.AuthorizationPayload, error) {
	ctx, span := f.tracer.Start(ctx, "flow.fetch_authorization", trace.WithAttributes(
		attribute.String("token", req.Token.Symbol),
		attribute.String("cycle", req.State.Cycle),
	))
	defer span.End()

	logger := slog.Default().With("cycle", req.State.Cycle, "token", req.Token.Symbol)

	// Unknown symbols fail here rather than reach the backend as the zero address.
	tokenAddress, err := f.registry.AddressOf(req.Token.Symbol)
	if err != nil {
		return nil, recordFailure(span, err)
	}

	nftID, err := f.claimableAsset(ctx, req.Address)
	if err != nil {
		return nil, recordFailure(span, err)
	}

	tournamentID, err := f.activeTournament(ctx)
	if err != nil {
		return nil, recordFailure(span, err)
	}

	payload, err := f.paymentSignature(ctx, backend.SignatureRequest{
		TournamentID:  tournamentID,
		UserAddress:   req.Address,
		SignedMessage: req.State.SignedMessage(),
		Signature:     req.Signature,
		NFTID:         nftID,
		Token:         req.Token.Ticker(),
		TokenAddress:  tokenAddress.Hex(),
	})
	if err != nil {
		return nil, recordFailure(span, err)
	}

	logger.Info("payment authorized", "tournamentId", tournamentID.String(), "nftId", nftID.String(),
		"amount", payload.Amount.String())
	span.SetStatus(codes.Ok, "authorized")

	return payload, nil
}

func (f *Fetcher) claimableAsset(ctx context.Context, address string) (*joinframe.Quantity, error) {
	ctx, span := f.tracer.Start(ctx, "backend.claimable_assets")
	defer span.End()

	resp, err := f.backend.ClaimableAssets(ctx, address)
	if err != nil {
		return nil, recordFailure(span, fmt.Errorf("%w: claim lookup: %w", joinframe.ErrBackendUnavailable, err))
	}
	if len(resp.HighLevel) == 0 || resp.HighLevel[0].NFTID == nil {
		err := joinframe.NewFlowError(joinframe.ErrCodeNoAssetAvailable, "no claimable character", joinframe.ErrNoAssetAvailable).
			WithDetails("address", address)
		return nil, recordFailure(span, err)
	}

	nftID := resp.HighLevel[0].NFTID
	span.SetAttributes(attribute.String("nft_id", nftID.String()))
	return nftID, nil
}

func (f *Fetcher) activeTournament(ctx context.Context) (*joinframe.Quantity, error) {
	ctx, span := f.tracer.Start(ctx, "backend.active_tournament")
	defer span.End()

	resp, err := f.backend.ActiveTournament(ctx)
	if err != nil {
		return nil, recordFailure(span, fmt.Errorf("%w: tournament lookup: %w", joinframe.ErrBackendUnavailable, err))
	}
	if resp.Data.TournamentID == nil {
		return nil, recordFailure(span, fmt.Errorf("%w: no active tournament id", joinframe.ErrBackendUnavailable))
	}

	span.SetAttributes(attribute.String("tournament_id", resp.Data.TournamentID.String()))
	return resp.Data.TournamentID, nil
}

func (f *Fetcher) paymentSignature(ctx context.Context, req backend.SignatureRequest) (*joinframe.AuthorizationPayload, error) {
	ctx, span := f.tracer.Start(ctx, "backend.payment_signature")
	defer span.End()

	payload, err := f.backend.PaymentSignature(ctx, req)
	if err != nil {
		return nil, recordFailure(span, fmt.Errorf("%w: signature exchange: %w", joinframe.ErrBackendUnavailable, err))
	}
	if payload == nil {
		return nil, recordFailure(span, fmt.Errorf("%w: empty authorization", joinframe.ErrBackendUnavailable))
	}
	return payload, nil
}

func recordFailure(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
