// Package evm builds the contract calls and typed-data requests the frame hands to the
// user's wallet, and provides a local signer for exercising the signing turn in development.
package evm

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gangwars/joinframe"
)

var (
	// ErrInvalidKey indicates a private key that cannot be parsed.
	ErrInvalidKey = errors.New("evm: invalid private key")

	// ErrInvalidKeystore indicates a keystore file that cannot be read or decrypted.
	ErrInvalidKeystore = errors.New("evm: invalid keystore")

	// ErrInvalidMnemonic indicates a mnemonic that fails BIP-39 validation.
	ErrInvalidMnemonic = errors.New("evm: invalid mnemonic")

	// ErrSignatureMismatch indicates a signature that does not recover to the expected address.
	ErrSignatureMismatch = errors.New("evm: signature does not match address")
)

// Signer signs turn messages with a local key, standing in for the user's wallet.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a Signer from exactly one key source option.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, ErrInvalidKey
	}
	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)

	return s, nil
}

// WithPrivateKey sets the private key from a hex string.
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *Signer) error {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTurnMessage signs state's "Time:<timestamp>" message as eth_signTypedData_v4 would,
// returning a 65-byte hex signature with v in {27, 28}.
func (s *Signer) SignTurnMessage(state joinframe.TurnState) (string, error) {
	signature, err := crypto.Sign(TurnMessageHash(state), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign turn message: %w", err)
	}

	signature[64] += 27

	return hexutil.Encode(signature), nil
}

// RecoverTurnSigner returns the address that produced signature over state's message.
func RecoverTurnSigner(state joinframe.TurnState, signature string) (common.Address, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}

	pub, err := crypto.SigToPub(TurnMessageHash(state), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyTurnSignature checks that signature over state's message was made by address.
func VerifyTurnSignature(state joinframe.TurnState, signature string, address common.Address) error {
	signer, err := RecoverTurnSigner(state, signature)
	if err != nil {
		return err
	}
	if signer != address {
		return fmt.Errorf("%w: recovered %s, want %s", ErrSignatureMismatch, signer.Hex(), address.Hex())
	}
	return nil
}
