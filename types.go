package joinframe

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// StateVersion is the format version written into every TurnState.
const StateVersion = 1

// MessagePrefix prefixes the timestamp in the message the user signs.
const MessagePrefix = "Time:"

// TurnState is the server-authored state carried between frame turns.
// The host round-trips it opaquely; only the server derives new versions.
type TurnState struct {
	// Version is the state format version (StateVersion).
	Version int `json:"version"`

	// Cycle identifies one token-selection cycle. It changes every time a token is picked.
	Cycle string `json:"cycle,omitempty"`

	// Token is the symbol chosen in the current cycle.
	Token string `json:"token,omitempty"`

	// Timestamp is the wall-clock time in milliseconds at which the token was picked.
	// It is the nonce embedded in the signed message.
	Timestamp int64 `json:"timestamp"`

	// TxData is the backend-issued payment authorization, nil until the signing turn succeeds.
	TxData *AuthorizationPayload `json:"txData"`
}

// NewTurnState returns the fresh state used at session start and on "Start Over".
func NewTurnState() TurnState {
	return TurnState{Version: StateVersion}
}

// SignedMessage returns the literal message the user signs for this cycle.
func (s TurnState) SignedMessage() string {
	return MessagePrefix + strconv.FormatInt(s.Timestamp, 10)
}

// Selected reports whether a token has been picked in this state.
func (s TurnState) Selected() bool {
	return s.Token != "" && s.Timestamp > 0
}

// Authorized reports whether the signing turn has populated TxData.
func (s TurnState) Authorized() bool {
	return s.TxData != nil
}

// AuthorizationPayload is the backend co-signature bundle that authorizes one payment.
type AuthorizationPayload struct {
	// TournamentID is the tournament being joined.
	TournamentID *Quantity `json:"tournamentId"`

	// R is the hex-encoded r component of the server signature.
	R string `json:"r"`

	// S is the hex-encoded s component of the server signature.
	S string `json:"s"`

	// V is the recovery id of the server signature. Fractional encodings are truncated.
	V *Quantity `json:"v"`

	// Timestamp is the signature timestamp echoed into the pay call.
	Timestamp *Quantity `json:"timestamp"`

	// NFTID is the claimed character used to enter.
	NFTID *Quantity `json:"nftId"`

	// Amount is the entry fee in the token's atomic units (wei for the native currency).
	Amount *Quantity `json:"amount"`

	// TokenAddress is the ERC-20 contract the server signed for, if the backend returns it.
	TokenAddress string `json:"tokenAddress,omitempty"`
}

// Quantity is a non-negative arbitrary-precision integer as it appears in backend JSON.
// It decodes from JSON numbers (fractions are truncated), decimal strings and 0x-prefixed
// hex strings, and always encodes as a JSON number.
type Quantity big.Int

// NewQuantity returns a Quantity holding v.
func NewQuantity(v int64) *Quantity {
	return (*Quantity)(big.NewInt(v))
}

// MaxQuantityBits bounds every Quantity; contract arguments are at most uint256.
const MaxQuantityBits = 256

// maxQuantityLen bounds the textual form before any parsing work is done.
const maxQuantityLen = 128

// ParseQuantity parses a decimal, 0x-hex or fractional decimal string. Values wider than
// MaxQuantityBits are rejected.
func ParseQuantity(s string) (*Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty quantity", ErrMalformedAuthorization)
	}
	if len(s) > maxQuantityLen {
		return nil, fmt.Errorf("%w: quantity of %d characters", ErrMalformedAuthorization, len(s))
	}

	value := new(big.Int)
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		if _, ok := value.SetString(s[2:], 16); !ok {
			return nil, fmt.Errorf("%w: invalid hex quantity %q", ErrMalformedAuthorization, s)
		}
	default:
		if _, ok := value.SetString(s, 10); !ok {
			f, _, err := big.ParseFloat(s, 10, MaxQuantityBits, big.ToZero)
			if err != nil || f.IsInf() {
				return nil, fmt.Errorf("%w: invalid quantity %q", ErrMalformedAuthorization, s)
			}
			if f.MantExp(nil) > MaxQuantityBits {
				return nil, fmt.Errorf("%w: quantity %q exceeds %d bits", ErrMalformedAuthorization, s, MaxQuantityBits)
			}
			value, _ = f.Int(nil)
		}
	}

	if value.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative quantity %q", ErrMalformedAuthorization, s)
	}
	if value.BitLen() > MaxQuantityBits {
		return nil, fmt.Errorf("%w: quantity %q exceeds %d bits", ErrMalformedAuthorization, s, MaxQuantityBits)
	}
	return (*Quantity)(value), nil
}

// Big returns the value as *big.Int. A nil Quantity yields nil.
func (q *Quantity) Big() *big.Int {
	if q == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(q))
}

// String returns the decimal representation.
func (q *Quantity) String() string {
	if q == nil {
		return "<nil>"
	}
	return (*big.Int)(q).String()
}

// MarshalJSON implements json.Marshaler.
func (q *Quantity) MarshalJSON() ([]byte, error) {
	if q == nil {
		return []byte("null"), nil
	}
	return []byte((*big.Int)(q).String()), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return fmt.Errorf("%w: null quantity", ErrMalformedAuthorization)
	}
	if strings.HasPrefix(raw, `"`) {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedAuthorization, err)
		}
		raw = unquoted
	}

	parsed, err := ParseQuantity(raw)
	if err != nil {
		return err
	}
	(*big.Int)(q).Set((*big.Int)(parsed))
	return nil
}
