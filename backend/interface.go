// Package backend is the client for the tournament backend: claimable character lookup,
// active tournament lookup, payment co-signature issuance and join notification.
package backend

import (
	"context"

	"github.com/gangwars/joinframe"
)

// Interface is the tournament backend contract consumed by the flow and the notifier.
type Interface interface {
	// ClaimableAssets lists the characters address can enter with, at most one.
	ClaimableAssets(ctx context.Context, address string) (*ClaimResponse, error)

	// ActiveTournament returns the tournament currently accepting entries.
	ActiveTournament(ctx context.Context) (*TournamentResponse, error)

	// PaymentSignature exchanges the user's signed turn message for a co-signed payment authorization.
	PaymentSignature(ctx context.Context, req SignatureRequest) (*joinframe.AuthorizationPayload, error)

	// NotifyJoin reports a submitted payment transaction and returns the response status.
	NotifyJoin(ctx context.Context, txHash string) (int, error)
}

// Character is one claimable character.
type Character struct {
	NFTID *joinframe.Quantity `json:"nft_id"`
}

// ClaimResponse is the response of the claim lookup.
type ClaimResponse struct {
	HighLevel []Character `json:"highLevel"`
}

// TournamentResponse is the response of the active tournament lookup.
type TournamentResponse struct {
	Data struct {
		TournamentID *joinframe.Quantity `json:"tournamentId"`
	} `json:"data"`
}

// SignatureRequest is the body of the co-signature exchange.
type SignatureRequest struct {
	TournamentID  *joinframe.Quantity `json:"tournamentId"`
	UserAddress   string              `json:"userAddress"`
	SignedMessage string              `json:"signedMessage"`
	Signature     string              `json:"signature"`
	NFTID         *joinframe.Quantity `json:"nftId"`
	Token         string              `json:"token"`
	TokenAddress  string              `json:"tokenAddress"`
}

// signatureResponse wraps the issued authorization.
type signatureResponse struct {
	Data *joinframe.AuthorizationPayload `json:"data"`
}

// notifyRequest is the body of the join notification.
type notifyRequest struct {
	TxHash string `json:"txHash"`
}
