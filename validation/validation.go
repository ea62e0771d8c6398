// Package validation checks the shape of values that cross the frame and backend boundaries
// before they reach the flow machine or the transaction builder.
package validation

import (
	"fmt"
	"regexp"

	"github.com/gangwars/joinframe"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// hexWordRegex matches a 0x-prefixed hex string of at most 32 bytes
	hexWordRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{1,64}$`)

	// signatureRegex matches a hex signature of at least 65 bytes. Smart wallets return
	// longer, wrapped signatures.
	signatureRegex = regexp.MustCompile(`^0x([a-fA-F0-9]{2}){65,}$`)

	// txHashRegex matches a 32-byte transaction hash
	txHashRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
)

// ValidateAddress validates an EVM address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !evmAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
	}
	return nil
}

// ValidateHexWord validates a signature component that must fit a bytes32 argument.
func ValidateHexWord(value string) error {
	if !hexWordRegex.MatchString(value) {
		return fmt.Errorf("invalid hex word: %q (expected 0x followed by 1-64 hex characters)", value)
	}
	return nil
}

// ValidateSignature validates a wallet signature artifact.
func ValidateSignature(signature string) error {
	if !signatureRegex.MatchString(signature) {
		return fmt.Errorf("invalid signature format (expected 0x followed by at least 65 hex-encoded bytes)")
	}
	return nil
}

// ValidateTransactionID validates a transaction hash reported by the host.
func ValidateTransactionID(txHash string) error {
	if !txHashRegex.MatchString(txHash) {
		return fmt.Errorf("invalid transaction id: %q", txHash)
	}
	return nil
}

// ValidateAuthorizationPayload checks that every field the builder consumes is present and
// fits its contract argument. Failures wrap joinframe.ErrMalformedAuthorization.
func ValidateAuthorizationPayload(payload *joinframe.AuthorizationPayload) error {
	if payload == nil {
		return fmt.Errorf("%w: payload cannot be nil", joinframe.ErrMalformedAuthorization)
	}

	quantities := []struct {
		name  string
		value *joinframe.Quantity
	}{
		{"tournamentId", payload.TournamentID},
		{"v", payload.V},
		{"timestamp", payload.Timestamp},
		{"nftId", payload.NFTID},
		{"amount", payload.Amount},
	}
	for _, q := range quantities {
		if q.value == nil {
			return fmt.Errorf("%w: %s is missing", joinframe.ErrMalformedAuthorization, q.name)
		}
		if q.value.Big().BitLen() > 256 {
			return fmt.Errorf("%w: %s overflows uint256", joinframe.ErrMalformedAuthorization, q.name)
		}
	}

	if !payload.V.Big().IsUint64() || payload.V.Big().Uint64() > 255 {
		return fmt.Errorf("%w: v %s does not fit uint8", joinframe.ErrMalformedAuthorization, payload.V)
	}

	if err := ValidateHexWord(payload.R); err != nil {
		return fmt.Errorf("%w: r: %v", joinframe.ErrMalformedAuthorization, err)
	}
	if err := ValidateHexWord(payload.S); err != nil {
		return fmt.Errorf("%w: s: %v", joinframe.ErrMalformedAuthorization, err)
	}

	if payload.TokenAddress != "" {
		if err := ValidateAddress(payload.TokenAddress); err != nil {
			return fmt.Errorf("%w: tokenAddress: %v", joinframe.ErrMalformedAuthorization, err)
		}
	}

	return nil
}
