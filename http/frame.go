// Package http serves the tournament-join frame over HTTP. Frame holds the turn routes and
// the request/response handling; Handler mounts them on the standard library mux, and the
// chi and gin subpackages mount the same routes on those routers.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/encoding"
	"github.com/gangwars/joinframe/evm"
	"github.com/gangwars/joinframe/flow"
	"github.com/gangwars/joinframe/http/internal/helpers"
)

// RouteKind is the response shape of a route.
type RouteKind int

const (
	// KindScreen routes answer with a screen and a sealed state.
	KindScreen RouteKind = iota
	// KindTransaction routes answer with an eth_sendTransaction request.
	KindTransaction
	// KindSignature routes answer with an eth_signTypedData_v4 request.
	KindSignature
)

// Params are the path parameters of a turn route.
type Params struct {
	Token string
	Page  string
}

// TurnFunc handles one turn and returns a joinframe.Screen, *evm.ContractCall or
// evm.SignatureRequest.
type TurnFunc func(ctx context.Context, params Params, turn flow.Turn) (any, error)

// Route is one frame turn endpoint. Pattern uses {name} placeholders.
type Route struct {
	Name    string
	Pattern string
	Kind    RouteKind
	Turn    TurnFunc
}

// TurnObserver is told about every handled turn.
type TurnObserver func(route, outcome string, reason joinframe.ErrorCode, elapsed time.Duration)

// Frame serves frame turns backed by a flow.Machine.
type Frame struct {
	machine  *flow.Machine
	codec    *encoding.Codec
	observer TurnObserver
	routes   []Route
}

// FrameOption configures a Frame.
type FrameOption func(*Frame)

// WithTurnObserver registers fn to receive every turn outcome.
func WithTurnObserver(fn TurnObserver) FrameOption {
	return func(f *Frame) {
		f.observer = fn
	}
}

// NewFrame returns a Frame driving machine and sealing state with codec.
func NewFrame(machine *flow.Machine, codec *encoding.Codec, opts ...FrameOption) *Frame {
	f := &Frame{
		machine: machine,
		codec:   codec,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.routes = f.buildRoutes()
	return f
}

// Routes returns the turn routes in mount order.
func (f *Frame) Routes() []Route {
	out := make([]Route, len(f.routes))
	copy(out, f.routes)
	return out
}

func (f *Frame) buildRoutes() []Route {
	m := f.machine
	return []Route{
		{
			Name: "start", Pattern: flow.StartRoute, Kind: KindScreen,
			Turn: func(ctx context.Context, _ Params, _ flow.Turn) (any, error) {
				return m.Start(), nil
			},
		},
		{
			Name: "page", Pattern: "/pages/{page}", Kind: KindScreen,
			Turn: func(ctx context.Context, p Params, turn flow.Turn) (any, error) {
				n, err := strconv.Atoi(p.Page)
				if err != nil {
					return nil, fmt.Errorf("%w: %q", joinframe.ErrUnknownPage, p.Page)
				}
				return m.Page(n, turn)
			},
		},
		{
			Name: "pick", Pattern: "/tokens/{token}/pick", Kind: KindScreen,
			Turn: func(ctx context.Context, p Params, turn flow.Turn) (any, error) {
				return m.Select(p.Token, turn)
			},
		},
		{
			Name: "sign", Pattern: flow.SignRoute, Kind: KindSignature,
			Turn: func(ctx context.Context, _ Params, turn flow.Turn) (any, error) {
				return m.SignatureRequest(turn)
			},
		},
		{
			Name: "signed", Pattern: "/tokens/{token}/signed", Kind: KindScreen,
			Turn: func(ctx context.Context, p Params, turn flow.Turn) (any, error) {
				// Hosts report a completed signature in the transaction id field.
				if turn.Signature == "" {
					turn.Signature = turn.TransactionID
				}
				return m.Signed(ctx, p.Token, turn)
			},
		},
		{
			Name: "approve", Pattern: "/tokens/{token}/approve", Kind: KindTransaction,
			Turn: func(ctx context.Context, p Params, turn flow.Turn) (any, error) {
				return m.ApprovalTransaction(p.Token, turn)
			},
		},
		{
			Name: "approved", Pattern: "/tokens/{token}/approved", Kind: KindScreen,
			Turn: func(ctx context.Context, p Params, turn flow.Turn) (any, error) {
				return m.Approved(p.Token, turn)
			},
		},
		{
			Name: "pay", Pattern: "/tokens/{token}/pay", Kind: KindTransaction,
			Turn: func(ctx context.Context, p Params, turn flow.Turn) (any, error) {
				return m.PaymentTransaction(p.Token, turn)
			},
		},
		{
			Name: "paid", Pattern: flow.PaidRoute, Kind: KindScreen,
			Turn: func(ctx context.Context, _ Params, turn flow.Turn) (any, error) {
				return m.Paid(ctx, turn), nil
			},
		},
	}
}

// Serve handles one turn on route. A panic anywhere in the turn renders the failure screen.
func (f *Frame) Serve(w http.ResponseWriter, r *http.Request, route Route, params Params) {
	start := time.Now()
	logger := slog.Default().With("route", route.Name, "path", r.URL.Path)

	outcome, reason := "error", joinframe.ErrorCode("")
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("turn panicked", "panic", rec, "stack", string(debug.Stack()))
			err := fmt.Errorf("panic: %v", rec)
			outcome, reason = f.writeScreen(w, f.machine.Failure(err))
		}
		if f.observer != nil {
			f.observer(route.Name, outcome, reason, time.Since(start))
		}
	}()

	req, err := helpers.ParseTurnRequest(r)
	if err != nil {
		logger.Warn("invalid turn request", "error", err)
		helpers.SendError(w, http.StatusBadRequest, "Invalid turn request", err)
		reason = joinframe.ErrCodeInvalidState
		return
	}

	state, err := f.codec.Open(req.State)
	if err != nil {
		logger.Warn("rejected turn state", "error", err)
		if route.Kind == KindScreen {
			outcome, reason = f.writeScreen(w, f.machine.Failure(err))
			return
		}
		helpers.SendError(w, http.StatusBadRequest, "Invalid turn state", err)
		reason = joinframe.CodeOf(err)
		return
	}

	turn := flow.Turn{
		Address:       req.VerifiedAddress,
		State:         state,
		TransactionID: req.TransactionID,
		Signature:     req.Signature,
	}

	result, err := route.Turn(r.Context(), params, turn)
	if err != nil {
		outcome, reason = f.writeError(w, logger, route, err)
		return
	}

	switch v := result.(type) {
	case joinframe.Screen:
		outcome, reason = f.writeScreen(w, v)
	case *evm.ContractCall:
		helpers.WriteJSON(w, http.StatusOK, v.Request())
		outcome = "transaction"
		logger.Info("transaction served", "method", v.Method, "to", v.To.Hex(), "cycle", state.Cycle)
	case evm.SignatureRequest:
		helpers.WriteJSON(w, http.StatusOK, v)
		outcome = "signature"
	default:
		panic(fmt.Sprintf("route %s returned %T", route.Name, result))
	}
}

func (f *Frame) writeScreen(w http.ResponseWriter, screen joinframe.Screen) (string, joinframe.ErrorCode) {
	state := joinframe.NewTurnState()
	if screen.State != nil {
		state = *screen.State
	}

	sealed, err := f.codec.Seal(state)
	if err != nil {
		slog.Default().Error("sealing turn state failed", "error", err)
		helpers.SendError(w, http.StatusInternalServerError, "Internal error", err)
		return "error", joinframe.ErrCodeInternal
	}

	helpers.WriteJSON(w, http.StatusOK, helpers.NewScreenResponse(screen, sealed))
	if screen.Step.Terminal() {
		slog.Default().Info("flow ended", "step", screen.Step, "reason", screen.Reason)
	}
	return string(screen.Step), screen.Reason
}

// writeError answers a turn that failed before producing a response.
func (f *Frame) writeError(w http.ResponseWriter, logger *slog.Logger, route Route, err error) (string, joinframe.ErrorCode) {
	code := joinframe.CodeOf(err)

	switch {
	case errors.Is(err, joinframe.ErrUnknownToken), errors.Is(err, joinframe.ErrUnknownPage):
		logger.Warn("unknown route parameter", "error", err)
		helpers.SendError(w, http.StatusNotFound, "Not found", err)
		return "error", code
	case route.Kind != KindScreen:
		logger.Warn("turn rejected", "error", err, "code", code)
		helpers.SendError(w, http.StatusBadRequest, err.Error(), err)
		return "error", code
	default:
		logger.Error("turn failed", "error", err, "code", code)
		return f.writeScreen(w, f.machine.Failure(err))
	}
}

// Handler mounts the frame on a standard library mux. extra handlers, keyed by pattern,
// are mounted alongside.
func (f *Frame) Handler(extra map[string]http.Handler) http.Handler {
	mux := http.NewServeMux()
	for _, route := range f.routes {
		pattern := route.Pattern
		if pattern == "/" {
			pattern = "/{$}"
		}
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodPost {
				w.Header().Set("Allow", "GET, POST")
				http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
				return
			}
			f.Serve(w, r, route, Params{Token: r.PathValue("token"), Page: r.PathValue("page")})
		})
	}
	for pattern, h := range extra {
		mux.Handle(pattern, h)
	}
	return mux
}
