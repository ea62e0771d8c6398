package evm

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/validation"
)

// DefaultGas is the gas ceiling attached to every call the builder produces.
const DefaultGas uint64 = 1_500_000

// DefaultChainID is Base mainnet.
const DefaultChainID int64 = 8453

// One-function ABI fragments handed to the wallet alongside the calldata.
const (
	nativePayABI = `[{"type":"function","name":"pay","stateMutability":"payable","inputs":[` +
		`{"name":"tournamentId","type":"uint256"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"},` +
		`{"name":"v","type":"uint8"},{"name":"timestamp","type":"uint256"},{"name":"nftId","type":"uint256"}],"outputs":[]}]`

	tokenPayABI = `[{"type":"function","name":"pay","stateMutability":"nonpayable","inputs":[` +
		`{"name":"tournamentId","type":"uint256"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"},` +
		`{"name":"v","type":"uint8"},{"name":"tokenAddress","type":"address"},{"name":"amount","type":"uint256"},` +
		`{"name":"timestamp","type":"uint256"},{"name":"nftId","type":"uint256"}],"outputs":[]}]`

	approveABI = `[{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[` +
		`{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],` +
		`"outputs":[{"name":"","type":"bool"}]}]`
)

// callShape is one contract method: its ABI fragment and parsed form.
type callShape struct {
	method string
	raw    string
	parsed abi.ABI
}

func mustShape(method, raw string) callShape {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("evm: invalid %s ABI: %v", method, err))
	}
	return callShape{method: method, raw: raw, parsed: parsed}
}

var (
	nativePay = mustShape("pay", nativePayABI)
	tokenPay  = mustShape("pay", tokenPayABI)
	approve   = mustShape("approve", approveABI)
)

// ContractCall is a fully built contract invocation for the wallet to submit.
type ContractCall struct {
	// ChainID is the CAIP-2 chain id, e.g. "eip155:8453".
	ChainID string

	// To is the contract receiving the call.
	To common.Address

	// Method is the called function name.
	Method string

	// Args are the typed call arguments in ABI order.
	Args []any

	// Value is the native value sent with the call.
	Value *big.Int

	// Gas is the gas limit.
	Gas uint64

	// Data is the packed calldata (selector + arguments).
	Data []byte

	// ABI is the one-function ABI fragment describing Method.
	ABI json.RawMessage
}

// TransactionRequest is the eth_sendTransaction request returned to the frame host.
type TransactionRequest struct {
	ChainID string            `json:"chainId"`
	Method  string            `json:"method"`
	Params  TransactionParams `json:"params"`
}

// TransactionParams are the eth_sendTransaction parameters.
type TransactionParams struct {
	ABI   json.RawMessage `json:"abi"`
	To    string          `json:"to"`
	Data  string          `json:"data"`
	Value string          `json:"value"`
	Gas   string          `json:"gas"`
}

// Request renders the call as an eth_sendTransaction request.
func (c *ContractCall) Request() TransactionRequest {
	return TransactionRequest{
		ChainID: c.ChainID,
		Method:  "eth_sendTransaction",
		Params: TransactionParams{
			ABI:   c.ABI,
			To:    c.To.Hex(),
			Data:  hexutil.Encode(c.Data),
			Value: c.Value.String(),
			Gas:   hexutil.EncodeUint64(c.Gas),
		},
	}
}

// Builder turns an authorized TurnState into the approve and pay calls.
type Builder struct {
	PaymentManager common.Address
	ChainID        int64
	Gas            uint64
}

// NewBuilder returns a Builder for the payment manager at paymentManager.
func NewBuilder(paymentManager common.Address, chainID int64) *Builder {
	return &Builder{
		PaymentManager: paymentManager,
		ChainID:        chainID,
		Gas:            DefaultGas,
	}
}

// CAIP2 returns the builder's chain as "eip155:<id>".
func (b *Builder) CAIP2() string {
	return fmt.Sprintf("eip155:%d", b.ChainID)
}

// Payment builds the pay call for token. Native tokens use the 6-argument payable shape,
// ERC-20 tokens the 8-argument shape with zero value.
func (b *Builder) Payment(state joinframe.TurnState, token joinframe.TokenDescriptor) (*ContractCall, error) {
	auth, err := b.authorization(state, token)
	if err != nil {
		return nil, err
	}

	r := common.HexToHash(auth.R)
	s := common.HexToHash(auth.S)
	v := uint8(auth.V.Big().Uint64())

	if token.Native {
		args := []any{auth.TournamentID.Big(), r, s, v, auth.Timestamp.Big(), auth.NFTID.Big()}
		return b.call(nativePay, b.PaymentManager, auth.Amount.Big(), args)
	}

	args := []any{auth.TournamentID.Big(), r, s, v, token.Address, auth.Amount.Big(), auth.Timestamp.Big(), auth.NFTID.Big()}
	return b.call(tokenPay, b.PaymentManager, new(big.Int), args)
}

// Approval builds the ERC-20 approve call letting the payment manager pull the entry fee.
func (b *Builder) Approval(state joinframe.TurnState, token joinframe.TokenDescriptor) (*ContractCall, error) {
	if token.Native {
		return nil, fmt.Errorf("%w: %s", joinframe.ErrNativeApproval, token.Symbol)
	}

	auth, err := b.authorization(state, token)
	if err != nil {
		return nil, err
	}

	args := []any{b.PaymentManager, auth.Amount.Big()}
	return b.call(approve, token.Address, new(big.Int), args)
}

// authorization returns the state's payload after checking it belongs to token and fits the ABI.
func (b *Builder) authorization(state joinframe.TurnState, token joinframe.TokenDescriptor) (*joinframe.AuthorizationPayload, error) {
	if state.TxData == nil {
		return nil, joinframe.ErrMissingAuthorization
	}
	if !strings.EqualFold(state.Token, token.Symbol) {
		return nil, fmt.Errorf("%w: state token %q, requested %q", joinframe.ErrStateMismatch, state.Token, token.Symbol)
	}
	if err := validation.ValidateAuthorizationPayload(state.TxData); err != nil {
		return nil, err
	}

	if state.TxData.TokenAddress != "" {
		signed := common.HexToAddress(state.TxData.TokenAddress)
		if signed != token.Address {
			return nil, fmt.Errorf("%w: payload token %s, %s is %s",
				joinframe.ErrMalformedAuthorization, signed.Hex(), token.Symbol, token.Address.Hex())
		}
	}

	return state.TxData, nil
}

func (b *Builder) call(shape callShape, to common.Address, value *big.Int, args []any) (*ContractCall, error) {
	data, err := shape.parsed.Pack(shape.method, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pack %s: %v", joinframe.ErrMalformedAuthorization, shape.method, err)
	}

	return &ContractCall{
		ChainID: b.CAIP2(),
		To:      to,
		Method:  shape.method,
		Args:    args,
		Value:   value,
		Gas:     b.Gas,
		Data:    data,
		ABI:     json.RawMessage(shape.raw),
	}, nil
}
