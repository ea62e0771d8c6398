// Package devtools serves developer-only routes: registry inspection, state decoding and a
// local wallet stand-in that signs the turn message, so the whole flow can be driven with
// curl. The server mounts it only when dev tools are enabled.
package devtools

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/config"
	"github.com/gangwars/joinframe/encoding"
	"github.com/gangwars/joinframe/evm"
	"github.com/gangwars/joinframe/flow"
)

// ErrNoSigner indicates a signing route was called without a configured dev key.
var ErrNoSigner = errors.New("devtools: no dev signing key configured")

// Tools holds what the dev routes need.
type Tools struct {
	registry *joinframe.Registry
	codec    *encoding.Codec
	signer   *evm.Signer
	chainID  int64
}

// New returns Tools. signer may be nil, which disables the signing routes.
func New(registry *joinframe.Registry, codec *encoding.Codec, signer *evm.Signer, chainID int64) *Tools {
	return &Tools{registry: registry, codec: codec, signer: signer, chainID: chainID}
}

// SignerFromConfig builds the dev signer from whichever key source cfg sets. It returns
// nil when none is set.
func SignerFromConfig(cfg config.DevConfig) (*evm.Signer, error) {
	switch {
	case cfg.PrivateKey != "":
		return evm.NewSigner(evm.WithPrivateKey(cfg.PrivateKey))
	case cfg.Mnemonic != "":
		return evm.NewSigner(evm.WithMnemonic(cfg.Mnemonic, 0))
	case cfg.Keystore != "":
		return evm.NewSigner(evm.WithKeystore(cfg.Keystore, cfg.KeystorePassword))
	default:
		return nil, nil
	}
}

// Handler returns the dev routes, relative to their mount point.
func (t *Tools) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/tokens", t.tokens)
	r.Get("/signer", t.signerInfo)
	r.Post("/state", t.decodeState)
	r.Post("/sign", t.sign)
	r.Post("/verify", t.verify)
	return r
}

// TokenInfo is one registry entry with its routes.
type TokenInfo struct {
	Symbol  string `json:"symbol"`
	Ticker  string `json:"ticker"`
	Address string `json:"address"`
	Native  bool   `json:"native"`
	Page    int    `json:"page"`
	Pick    string `json:"pick"`
	Pay     string `json:"pay"`
	Approve string `json:"approve,omitempty"`
}

func (t *Tools) tokens(w http.ResponseWriter, r *http.Request) {
	tokens := t.registry.Tokens()
	out := make([]TokenInfo, 0, len(tokens))
	for _, token := range tokens {
		info := TokenInfo{
			Symbol:  token.Symbol,
			Ticker:  token.Ticker(),
			Address: token.Address.Hex(),
			Native:  token.Native,
			Page:    token.Page,
			Pick:    flow.PickRoute(token.Symbol),
			Pay:     flow.PayRoute(token.Symbol),
		}
		if !token.Native {
			info.Approve = flow.ApproveRoute(token.Symbol)
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": t.registry.Pages(), "tokens": out})
}

func (t *Tools) signerInfo(w http.ResponseWriter, r *http.Request) {
	if t.signer == nil {
		writeError(w, http.StatusNotFound, ErrNoSigner)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": t.signer.Address().Hex()})
}

type stateRequest struct {
	State     string `json:"state"`
	Signature string `json:"signature,omitempty"`
	Address   string `json:"address,omitempty"`
}

func (t *Tools) decodeState(w http.ResponseWriter, r *http.Request) {
	state, ok := t.openState(w, r, nil)
	if !ok {
		return
	}
	rendered, err := encoding.MarshalState(state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(rendered))
}

// SignResponse carries a signature and a turn body ready to post to the signed route.
type SignResponse struct {
	Address   string         `json:"address"`
	Message   string         `json:"message"`
	Signature string         `json:"signature"`
	Route     string         `json:"route"`
	Turn      map[string]any `json:"turn"`
}

func (t *Tools) sign(w http.ResponseWriter, r *http.Request) {
	if t.signer == nil {
		writeError(w, http.StatusNotFound, ErrNoSigner)
		return
	}

	var req stateRequest
	state, ok := t.openState(w, r, &req)
	if !ok {
		return
	}
	if !state.Selected() {
		writeError(w, http.StatusBadRequest, joinframe.ErrInvalidState)
		return
	}

	signature, err := t.signer.SignTurnMessage(state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	slog.Default().Debug("dev signer signed turn message", "cycle", state.Cycle, "address", t.signer.Address().Hex())

	writeJSON(w, http.StatusOK, SignResponse{
		Address:   t.signer.Address().Hex(),
		Message:   evm.NewSignatureRequest(t.chainID, state).Content(),
		Signature: signature,
		Route:     flow.SignedRoute(state.Token),
		Turn: map[string]any{
			"verifiedAddress": t.signer.Address().Hex(),
			"state":           req.State,
			"signature":       signature,
		},
	})
}

func (t *Tools) verify(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	state, ok := t.openState(w, r, &req)
	if !ok {
		return
	}

	recovered, err := evm.RecoverTurnSigner(state, req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp := map[string]any{"recovered": recovered.Hex()}
	if req.Address != "" {
		resp["valid"] = recovered == common.HexToAddress(req.Address)
	}
	writeJSON(w, http.StatusOK, resp)
}

// openState decodes the request body into req (or a scratch value) and opens its state.
func (t *Tools) openState(w http.ResponseWriter, r *http.Request, req *stateRequest) (joinframe.TurnState, bool) {
	if req == nil {
		req = &stateRequest{}
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return joinframe.TurnState{}, false
	}
	state, err := t.codec.Open(req.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return joinframe.TurnState{}, false
	}
	return state, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
