package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/gangwars/joinframe"
)

// turnMessageTypes is the EIP-712 schema for the signed turn message: an empty domain
// and a single string field.
var turnMessageTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{},
	"Message": []apitypes.Type{
		{Name: "content", Type: "string"},
	},
}

// SignatureRequest is the eth_signTypedData_v4 request returned to the frame host.
type SignatureRequest struct {
	ChainID string          `json:"chainId"`
	Method  string          `json:"method"`
	Params  SignatureParams `json:"params"`
}

// SignatureParams are the typed-data parameters. Domain is always empty.
type SignatureParams struct {
	Domain      map[string]any            `json:"domain"`
	Types       apitypes.Types            `json:"types"`
	PrimaryType string                    `json:"primaryType"`
	Message     apitypes.TypedDataMessage `json:"message"`
}

// TurnMessage returns the typed data whose content is the state's signed message.
func TurnMessage(state joinframe.TurnState) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       turnMessageTypes,
		PrimaryType: "Message",
		Domain:      apitypes.TypedDataDomain{},
		Message: apitypes.TypedDataMessage{
			"content": state.SignedMessage(),
		},
	}
}

// NewSignatureRequest returns the request asking the wallet to sign state's message on chainID.
func NewSignatureRequest(chainID int64, state joinframe.TurnState) SignatureRequest {
	td := TurnMessage(state)
	return SignatureRequest{
		ChainID: fmt.Sprintf("eip155:%d", chainID),
		Method:  "eth_signTypedData_v4",
		Params: SignatureParams{
			Domain:      map[string]any{},
			Types:       td.Types,
			PrimaryType: td.PrimaryType,
			Message:     td.Message,
		},
	}
}

// TurnMessageHash returns the EIP-712 digest a wallet signs for state. The domain has no
// fields, so the separator is the hash of the bare EIP712Domain type hash.
func TurnMessageHash(state joinframe.TurnState) []byte {
	td := TurnMessage(state)

	domainSeparator := crypto.Keccak256(td.TypeHash("EIP712Domain"))
	messageHash := crypto.Keccak256(td.TypeHash("Message"), crypto.Keccak256([]byte(state.SignedMessage())))

	// keccak256("\x19\x01" || domainSeparator || messageHash)
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData)
}

// Content returns the signed message carried by a signature request.
func (r SignatureRequest) Content() string {
	content, _ := r.Params.Message["content"].(string)
	return content
}

// decodeSignature parses a 65-byte hex signature, normalizing v to 0/1.
func decodeSignature(signature string) ([]byte, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("invalid signature length: %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return sig, nil
}
