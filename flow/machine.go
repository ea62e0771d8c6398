// Package flow is the tournament-join state machine. Each method handles one stateless
// turn: it reads the round-tripped TurnState and the host's turn input and returns the
// next screen together with the state to round-trip.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/evm"
	"github.com/gangwars/joinframe/validation"
)

// DefaultCommunityURL is linked from the closing screen.
const DefaultCommunityURL = "https://discord.gg/3xnZVUdkBy"

// Screen texts for text-only screens.
const (
	walletRequiredText = "Please connect your wallet to WarpCast!"
	noAssetText        = "No claimable character found for this wallet."
	unavailableText    = "The tournament service is unavailable right now. Please try again."
	failureText        = "Something went wrong. Please start over."
)

// Turn is the host's input for one turn.
type Turn struct {
	// Address is the user's verified wallet address, empty when none is connected.
	Address string

	// State is the opened state from the previous response.
	State joinframe.TurnState

	// TransactionID is the hash of a transaction the user just submitted, if any.
	TransactionID string

	// Signature is the signature the user just produced, if any.
	Signature string
}

// Confirmer is told about a submitted payment. It must not block.
type Confirmer interface {
	Confirm(ctx context.Context, txHash string)
}

// Machine drives the flow select → sign → (approve) → pay → confirm. It holds no
// per-user state and is safe for concurrent use.
type Machine struct {
	registry  *joinframe.Registry
	auth      Authorizer
	builder   *evm.Builder
	confirmer Confirmer

	assetBaseURL string
	communityURL string
	now          func() time.Time
	newCycle     func() string
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithAssetBaseURL sets the base URL screen images are served from.
func WithAssetBaseURL(base string) MachineOption {
	return func(m *Machine) {
		m.assetBaseURL = strings.TrimRight(base, "/")
	}
}

// WithCommunityURL overrides the closing screen link.
func WithCommunityURL(href string) MachineOption {
	return func(m *Machine) {
		m.communityURL = href
	}
}

// WithClock overrides the time source used to stamp selections.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		m.now = now
	}
}

// WithCycleIDs overrides the generator of selection-cycle ids.
func WithCycleIDs(next func() string) MachineOption {
	return func(m *Machine) {
		m.newCycle = next
	}
}

// NewMachine creates a Machine.
func NewMachine(registry *joinframe.Registry, auth Authorizer, builder *evm.Builder, confirmer Confirmer, opts ...MachineOption) *Machine {
	m := &Machine{
		registry:     registry,
		auth:         auth,
		builder:      builder,
		confirmer:    confirmer,
		communityURL: DefaultCommunityURL,
		now:          time.Now,
		newCycle:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the machine's token registry.
func (m *Machine) Registry() *joinframe.Registry {
	return m.registry
}

// Start renders the intro screen with a fresh state. It also serves "Start Over".
func (m *Machine) Start() joinframe.Screen {
	state := joinframe.NewTurnState()
	return joinframe.Screen{
		Step:    joinframe.StepSelectToken,
		Image:   m.image("screen 1.png"),
		Intents: []joinframe.Intent{joinframe.Navigate("Continue", PageRoute(1))},
		State:   &state,
	}
}

// Page renders picker page n. The state passes through untouched so Back never mutates it.
func (m *Machine) Page(n int, turn Turn) (joinframe.Screen, error) {
	tokens, err := m.registry.Page(n)
	if err != nil {
		return joinframe.Screen{}, err
	}

	var intents []joinframe.Intent
	if n > 1 {
		intents = append(intents, joinframe.Navigate("Back", PageRoute(n-1)))
	}
	for _, token := range tokens {
		intents = append(intents, joinframe.Navigate(token.Ticker(), PickRoute(token.Symbol)))
	}
	if n < m.registry.Pages() {
		intents = append(intents, joinframe.Navigate("Next", PageRoute(n+1)))
	}

	state := turn.State
	return joinframe.Screen{
		Step:    joinframe.StepSelectToken,
		Image:   m.image("Screen two pt" + strconv.Itoa(n) + ".png"),
		Intents: intents,
		State:   &state,
	}, nil
}

// Select commits to symbol: it opens a new selection cycle and stamps the timestamp
// nonce, discarding any authorization from an earlier cycle.
func (m *Machine) Select(symbol string, turn Turn) (joinframe.Screen, error) {
	token, err := m.registry.Lookup(symbol)
	if err != nil {
		return joinframe.Screen{}, err
	}

	state := joinframe.TurnState{
		Version:   joinframe.StateVersion,
		Cycle:     m.newCycle(),
		Token:     token.Symbol,
		Timestamp: m.now().UnixMilli(),
	}

	slog.Default().Info("token selected", "cycle", state.Cycle, "token", token.Symbol, "timestamp", state.Timestamp)

	return m.awaitSignature(token, state), nil
}

// SignatureRequest returns the typed-data request for the current cycle's message.
func (m *Machine) SignatureRequest(turn Turn) (evm.SignatureRequest, error) {
	if !turn.State.Selected() {
		return evm.SignatureRequest{}, joinframe.NewFlowError(joinframe.ErrCodeInvalidState,
			"signature requested before a token was picked", joinframe.ErrInvalidState)
	}
	return evm.NewSignatureRequest(m.builder.ChainID, turn.State), nil
}

// Signed handles the completed signing step for symbol. Without a verified address it
// short-circuits to the connect-wallet screen and never contacts the backend.
func (m *Machine) Signed(ctx context.Context, symbol string, turn Turn) (joinframe.Screen, error) {
	token, err := m.registry.Lookup(symbol)
	if err != nil {
		return joinframe.Screen{}, err
	}

	state := turn.State
	logger := slog.Default().With("cycle", state.Cycle, "token", token.Symbol)

	if err := m.checkCycle(token, state); err != nil {
		logger.Warn("signed turn for another cycle", "error", err)
		return m.Failure(err), nil
	}

	if turn.Address == "" || validation.ValidateAddress(turn.Address) != nil {
		logger.Info("signing turn without verified wallet", "error", joinframe.ErrWalletNotConnected)
		return m.walletRequired(joinframe.ErrWalletNotConnected), nil
	}

	// Re-posted turn for a cycle that is already authorized.
	if state.Authorized() {
		return m.authorized(token, state), nil
	}

	if turn.Signature == "" {
		logger.Info("signing turn without signature, prompting again")
		return m.awaitSignature(token, state), nil
	}
	if err := validation.ValidateSignature(turn.Signature); err != nil {
		logger.Warn("malformed signature, prompting again", "error", err)
		return m.awaitSignature(token, state), nil
	}

	payload, err := m.auth.Fetch(ctx, AuthorizationRequest{
		Address:   turn.Address,
		Signature: turn.Signature,
		Token:     token,
		State:     state,
	})
	if err != nil {
		logger.Error("authorization failed", "error", err, "code", joinframe.CodeOf(err))
		return m.fetchFailure(token, state, err), nil
	}

	state.TxData = payload
	return m.authorized(token, state), nil
}

// ApprovalTransaction builds the approve call for symbol from the authorized state.
func (m *Machine) ApprovalTransaction(symbol string, turn Turn) (*evm.ContractCall, error) {
	token, err := m.registry.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return m.builder.Approval(turn.State, token)
}

// PaymentTransaction builds the pay call for symbol from the authorized state.
func (m *Machine) PaymentTransaction(symbol string, turn Turn) (*evm.ContractCall, error) {
	token, err := m.registry.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return m.builder.Payment(turn.State, token)
}

// Approved moves an ERC-20 cycle from approval to payment. The state is unchanged.
func (m *Machine) Approved(symbol string, turn Turn) (joinframe.Screen, error) {
	token, err := m.registry.Lookup(symbol)
	if err != nil {
		return joinframe.Screen{}, err
	}

	state := turn.State
	if err := m.checkCycle(token, state); err != nil {
		return m.Failure(err), nil
	}
	if !state.Authorized() {
		return m.Failure(joinframe.ErrMissingAuthorization), nil
	}
	if token.Native {
		return m.Failure(joinframe.ErrNativeApproval), nil
	}

	slog.Default().Info("approval submitted", "cycle", state.Cycle, "token", token.Symbol, "txHash", turn.TransactionID)

	return m.awaitPayment(token, state), nil
}

// Paid renders the closing screen. When the host reports a transaction id the notifier is
// triggered; its outcome never changes what the user sees.
func (m *Machine) Paid(ctx context.Context, turn Turn) joinframe.Screen {
	if turn.TransactionID != "" {
		logger := slog.Default().With("cycle", turn.State.Cycle, "token", turn.State.Token, "txHash", turn.TransactionID)
		if err := validation.ValidateTransactionID(turn.TransactionID); err != nil {
			logger.Warn("unexpected transaction id format, notifying anyway", "error", err)
		}
		logger.Info("payment submitted")
		if m.confirmer != nil {
			m.confirmer.Confirm(ctx, turn.TransactionID)
		}
	}

	state := joinframe.NewTurnState()
	return joinframe.Screen{
		Step:    joinframe.StepConfirmed,
		Image:   m.image("end.png"),
		Intents: []joinframe.Intent{joinframe.Link("Join Discord", m.communityURL)},
		State:   &state,
	}
}

// Failure renders the generic recoverable failure screen: reset only, fresh state.
func (m *Machine) Failure(err error) joinframe.Screen {
	state := joinframe.NewTurnState()
	return joinframe.Screen{
		Step:    joinframe.StepFailed,
		Text:    failureText,
		Intents: []joinframe.Intent{joinframe.Reset()},
		Reason:  joinframe.CodeOf(err),
		State:   &state,
	}
}

func (m *Machine) checkCycle(token joinframe.TokenDescriptor, state joinframe.TurnState) error {
	if !state.Selected() || state.Token != token.Symbol {
		return joinframe.NewFlowError(joinframe.ErrCodeInvalidState, "turn does not belong to the selected token",
			joinframe.ErrStateMismatch).WithDetails("state_token", state.Token).WithDetails("route_token", token.Symbol)
	}
	return nil
}

func (m *Machine) awaitSignature(token joinframe.TokenDescriptor, state joinframe.TurnState) joinframe.Screen {
	return joinframe.Screen{
		Step:   joinframe.StepAwaitSignature,
		Image:  m.image(token.Symbol + " 1.png"),
		Action: SignedRoute(token.Symbol),
		Intents: []joinframe.Intent{
			m.back(token),
			{Kind: joinframe.IntentSignature, Label: "Sign", Target: SignRoute},
		},
		State: &state,
	}
}

// authorized is the single dispatch between the native and ERC-20 paths after signing.
func (m *Machine) authorized(token joinframe.TokenDescriptor, state joinframe.TurnState) joinframe.Screen {
	if token.Native {
		return m.awaitPayment(token, state)
	}
	return joinframe.Screen{
		Step:   joinframe.StepAwaitApproval,
		Image:  m.image(token.Symbol + " 2.png"),
		Action: ApprovedRoute(token.Symbol),
		Intents: []joinframe.Intent{
			m.back(token),
			{Kind: joinframe.IntentTransaction, Label: "Approve", Target: ApproveRoute(token.Symbol)},
		},
		State: &state,
	}
}

func (m *Machine) awaitPayment(token joinframe.TokenDescriptor, state joinframe.TurnState) joinframe.Screen {
	return joinframe.Screen{
		Step:   joinframe.StepAwaitPayment,
		Image:  m.image(token.Symbol + " 2.png"),
		Action: PaidRoute,
		Intents: []joinframe.Intent{
			m.back(token),
			{Kind: joinframe.IntentTransaction, Label: "Pay", Target: PayRoute(token.Symbol)},
		},
		State: &state,
	}
}

// back returns the Back intent to the picker page that lists token.
func (m *Machine) back(token joinframe.TokenDescriptor) joinframe.Intent {
	page, err := m.registry.PreviousStep(token.Symbol)
	if err != nil {
		page = 1
	}
	return joinframe.Navigate("Back", PageRoute(page))
}

func (m *Machine) walletRequired(err error) joinframe.Screen {
	state := joinframe.NewTurnState()
	return joinframe.Screen{
		Step:    joinframe.StepWalletRequired,
		Text:    walletRequiredText,
		Intents: []joinframe.Intent{joinframe.Reset()},
		Reason:  joinframe.CodeOf(err),
		State:   &state,
	}
}

// fetchFailure maps an authorization failure to its recoverable screen. The state is kept
// so Back returns to the token's picker page.
func (m *Machine) fetchFailure(token joinframe.TokenDescriptor, state joinframe.TurnState, err error) joinframe.Screen {
	text := unavailableText
	switch {
	case errors.Is(err, joinframe.ErrNoAssetAvailable):
		text = noAssetText
	case errors.Is(err, joinframe.ErrBackendUnavailable):
	default:
		return m.Failure(err)
	}

	return joinframe.Screen{
		Step: joinframe.StepFailed,
		Text: text,
		Intents: []joinframe.Intent{
			m.back(token),
			joinframe.Reset(),
		},
		Reason: joinframe.CodeOf(err),
		State:  &state,
	}
}

func (m *Machine) image(name string) string {
	if m.assetBaseURL == "" {
		return "/" + url.PathEscape(name)
	}
	u, err := url.JoinPath(m.assetBaseURL, name)
	if err != nil {
		return m.assetBaseURL + "/" + url.PathEscape(name)
	}
	return u
}
