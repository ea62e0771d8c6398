// Package encoding seals TurnState into the opaque blob the frame host round-trips between
// turns and opens it again on the way back in. Blobs are compact HS256 JWTs: the host can
// read them but any change invalidates the signature.
package encoding

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/gangwars/joinframe"
)

// MinSecretLength is the shortest accepted sealing key, the HS256 output size.
const MinSecretLength = 32

// DefaultTTL bounds how long a sealed state stays valid.
const DefaultTTL = 24 * time.Hour

const issuer = "joinframe"

// stateClaims carries the turn state as a private claim next to the registered ones.
type stateClaims struct {
	State joinframe.TurnState `json:"st"`
}

// Codec seals and opens TurnState blobs. It is safe for concurrent use.
type Codec struct {
	key    []byte
	signer jose.Signer
	ttl    time.Duration
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithTTL sets how long a sealed blob is accepted.
func WithTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) {
		c.ttl = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a Codec sealing with secret.
func NewCodec(secret []byte, opts ...CodecOption) (*Codec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("state secret must be at least %d bytes, got %d", MinSecretLength, len(secret))
	}

	c := &Codec{
		key: append([]byte(nil), secret...),
		ttl: DefaultTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: c.key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state signer: %w", err)
	}
	c.signer = sig

	return c, nil
}

// RandomSecret returns a fresh sealing key. Blobs sealed with it only open in this process.
func RandomSecret() ([]byte, error) {
	secret := make([]byte, MinSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate state secret: %w", err)
	}
	return secret, nil
}

// Seal encodes state into an opaque blob.
func (c *Codec) Seal(state joinframe.TurnState) (string, error) {
	now := c.now()
	registered := jwt.Claims{
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(c.ttl)),
	}

	blob, err := jwt.Signed(c.signer).Claims(registered).Claims(stateClaims{State: state}).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to seal state: %w", err)
	}
	return blob, nil
}

// Open verifies and decodes a blob produced by Seal. An empty blob yields a fresh state.
// Every other failure wraps joinframe.ErrInvalidState.
func (c *Codec) Open(blob string) (joinframe.TurnState, error) {
	if blob == "" {
		return joinframe.NewTurnState(), nil
	}

	tok, err := jwt.ParseSigned(blob)
	if err != nil {
		return joinframe.TurnState{}, fmt.Errorf("%w: %v", joinframe.ErrInvalidState, err)
	}
	if len(tok.Headers) != 1 || tok.Headers[0].Algorithm != string(jose.HS256) {
		return joinframe.TurnState{}, fmt.Errorf("%w: unexpected signing algorithm", joinframe.ErrInvalidState)
	}

	var registered jwt.Claims
	var claims stateClaims
	if err := tok.Claims(c.key, &registered, &claims); err != nil {
		return joinframe.TurnState{}, fmt.Errorf("%w: %v", joinframe.ErrInvalidState, err)
	}

	if err := registered.ValidateWithLeeway(jwt.Expected{Issuer: issuer, Time: c.now()}, time.Minute); err != nil {
		return joinframe.TurnState{}, fmt.Errorf("%w: %v", joinframe.ErrInvalidState, err)
	}

	if claims.State.Version != joinframe.StateVersion {
		return joinframe.TurnState{}, fmt.Errorf("%w: unsupported version %d", joinframe.ErrInvalidState, claims.State.Version)
	}

	return claims.State, nil
}

// MarshalState renders state as plain JSON for logs and dev tooling.
func MarshalState(state joinframe.TurnState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	return string(data), nil
}
