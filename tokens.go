// Package joinframe holds the data model shared by the tournament-join frame flow:
// the round-tripped TurnState, the backend authorization payload, the token registry
// and the flow error taxonomy.
package joinframe

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokensPerPage is the maximum number of tokens shown on one picker screen.
const TokensPerPage = 3

// NativeAddress is the zero-address sentinel standing for the chain's native currency.
var NativeAddress = common.Address{}

// TokenDescriptor describes one payment token.
type TokenDescriptor struct {
	// Symbol is the lowercase routing symbol (e.g., "usdc").
	Symbol string

	// Address is the ERC-20 contract address, or NativeAddress for the native currency.
	Address common.Address

	// Native marks the chain's native currency (no approval step, value-carrying pay call).
	Native bool

	// Page is the 1-based picker page that lists the token. Zero lets NewRegistry place it.
	Page int
}

// Ticker returns the uppercase symbol sent to the backend.
func (t TokenDescriptor) Ticker() string {
	return strings.ToUpper(t.Symbol)
}

// Base mainnet payment tokens. Addresses verified against the payment manager's allow-list.
var (
	// ETH is the native currency.
	ETH = TokenDescriptor{
		Symbol:  "eth",
		Address: NativeAddress,
		Native:  true,
		Page:    1,
	}

	// USDC is Circle's USDC on Base.
	USDC = TokenDescriptor{
		Symbol:  "usdc",
		Address: common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		Page:    1,
	}

	// TOWER is the Tower token on Base.
	TOWER = TokenDescriptor{
		Symbol:  "tower",
		Address: common.HexToAddress("0xf7C1CEfCf7E1dd8161e00099facD3E1Db9e528ee"),
		Page:    1,
	}

	// TOSHI is the Toshi token on Base.
	TOSHI = TokenDescriptor{
		Symbol:  "toshi",
		Address: common.HexToAddress("0xac1bd2486aaf3b5c0fc3fd868558b082a531b2b4"),
		Page:    2,
	}

	// DEGEN is the Degen token on Base.
	DEGEN = TokenDescriptor{
		Symbol:  "degen",
		Address: common.HexToAddress("0x4ed4e862860bed51a9570b96d89af5e1b0efefed"),
		Page:    2,
	}

	// BRETT is the Brett token on Base.
	BRETT = TokenDescriptor{
		Symbol:  "brett",
		Address: common.HexToAddress("0x532f27101965dd16442e59d40670faf5ebb142e4"),
		Page:    3,
	}
)

// DefaultRegistry lists the supported tokens in picker order.
var DefaultRegistry = MustRegistry(ETH, USDC, TOWER, TOSHI, DEGEN, BRETT)

// Registry is the closed, read-only set of payment tokens. It is safe for concurrent use.
type Registry struct {
	tokens   []TokenDescriptor
	bySymbol map[string]TokenDescriptor
	pages    int
}

// NewRegistry builds a registry from tokens in picker order. A token's Page is
// where both the picker and its Back button point, so one field drives both.
// Tokens without a Page go on the last page while it has room.
func NewRegistry(tokens ...TokenDescriptor) (*Registry, error) {
	r := &Registry{
		tokens:   make([]TokenDescriptor, 0, len(tokens)),
		bySymbol: make(map[string]TokenDescriptor, len(tokens)),
	}

	perPage := make(map[int]int)
	for _, token := range tokens {
		token.Symbol = strings.ToLower(token.Symbol)
		if token.Symbol == "" {
			return nil, fmt.Errorf("joinframe: token without symbol")
		}
		if _, dup := r.bySymbol[token.Symbol]; dup {
			return nil, fmt.Errorf("joinframe: duplicate token %q", token.Symbol)
		}

		if token.Page == 0 {
			token.Page = max(r.pages, 1)
			if perPage[token.Page] >= TokensPerPage {
				token.Page++
			}
		}
		switch {
		case token.Page < r.pages:
			return nil, fmt.Errorf("joinframe: token %q on page %d after page %d", token.Symbol, token.Page, r.pages)
		case token.Page > r.pages+1:
			return nil, fmt.Errorf("joinframe: token %q skips to page %d", token.Symbol, token.Page)
		}
		perPage[token.Page]++
		if perPage[token.Page] > TokensPerPage {
			return nil, fmt.Errorf("joinframe: page %d holds more than %d tokens", token.Page, TokensPerPage)
		}

		r.pages = token.Page
		r.tokens = append(r.tokens, token)
		r.bySymbol[token.Symbol] = token
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on an invalid layout.
func MustRegistry(tokens ...TokenDescriptor) *Registry {
	r, err := NewRegistry(tokens...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the descriptor for symbol.
func (r *Registry) Lookup(symbol string) (TokenDescriptor, error) {
	token, ok := r.bySymbol[strings.ToLower(symbol)]
	if !ok {
		return TokenDescriptor{}, fmt.Errorf("%w: %q", ErrUnknownToken, symbol)
	}
	return token, nil
}

// AddressOf returns the contract address for symbol, NativeAddress for the native currency.
// Unknown symbols are a configuration error and fail rather than fall back to the sentinel.
func (r *Registry) AddressOf(symbol string) (common.Address, error) {
	token, err := r.Lookup(symbol)
	if err != nil {
		return common.Address{}, err
	}
	return token.Address, nil
}

// PreviousStep returns the picker page that lists symbol.
func (r *Registry) PreviousStep(symbol string) (int, error) {
	token, err := r.Lookup(symbol)
	if err != nil {
		return 0, err
	}
	return token.Page, nil
}

// Pages returns the number of picker pages.
func (r *Registry) Pages() int {
	return r.pages
}

// Page returns the tokens listed on 1-based page n.
func (r *Registry) Page(n int) ([]TokenDescriptor, error) {
	if n < 1 || n > r.pages {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPage, n)
	}
	var page []TokenDescriptor
	for _, token := range r.tokens {
		if token.Page == n {
			page = append(page, token)
		}
	}
	return page, nil
}

// Tokens returns all tokens in picker order.
func (r *Registry) Tokens() []TokenDescriptor {
	out := make([]TokenDescriptor, len(r.tokens))
	copy(out, r.tokens)
	return out
}
