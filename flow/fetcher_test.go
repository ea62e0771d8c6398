package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/backend"
)

// fakeBackend is an in-memory backend.Interface counting every call.
type fakeBackend struct {
	mu sync.Mutex

	claims     []backend.Character
	tournament *joinframe.Quantity
	payload    *joinframe.AuthorizationPayload

	claimErr      error
	tournamentErr error
	signatureErr  error
	notifyStatus  int
	notifyErr     error

	calls       int
	lastRequest backend.SignatureRequest
	notified    []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		claims:     []backend.Character{{NFTID: joinframe.NewQuantity(42)}},
		tournament: joinframe.NewQuantity(9),
		payload: &joinframe.AuthorizationPayload{
			TournamentID: joinframe.NewQuantity(9),
			R:            "0x01",
			S:            "0x02",
			V:            joinframe.NewQuantity(28),
			Timestamp:    joinframe.NewQuantity(1700000000),
			NFTID:        joinframe.NewQuantity(42),
			Amount:       joinframe.NewQuantity(1000000),
		},
		notifyStatus: 200,
	}
}

func (f *fakeBackend) ClaimableAssets(ctx context.Context, address string) (*backend.ClaimResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return &backend.ClaimResponse{HighLevel: f.claims}, nil
}

func (f *fakeBackend) ActiveTournament(ctx context.Context) (*backend.TournamentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.tournamentErr != nil {
		return nil, f.tournamentErr
	}
	resp := &backend.TournamentResponse{}
	resp.Data.TournamentID = f.tournament
	return resp, nil
}

func (f *fakeBackend) PaymentSignature(ctx context.Context, req backend.SignatureRequest) (*joinframe.AuthorizationPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastRequest = req
	if f.signatureErr != nil {
		return nil, f.signatureErr
	}
	return f.payload, nil
}

func (f *fakeBackend) NotifyJoin(ctx context.Context, txHash string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.notified = append(f.notified, txHash)
	return f.notifyStatus, f.notifyErr
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

var testSignature = "0x" + strings.Repeat("5a", 65)

func testRequest(token joinframe.TokenDescriptor) AuthorizationRequest {
	return AuthorizationRequest{
		Address:   testAddress,
		Signature: testSignature,
		Token:     token,
		State: joinframe.TurnState{
			Version:   joinframe.StateVersion,
			Cycle:     "cycle-1",
			Token:     token.Symbol,
			Timestamp: 1717171717171,
		},
	}
}

func TestFetcherBuildsSignatureRequest(t *testing.T) {
	fb := newFakeBackend()
	f := NewFetcher(fb)

	req := testRequest(joinframe.USDC)
	payload, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if payload != fb.payload {
		t.Errorf("Fetch returned %+v, want backend payload", payload)
	}
	if fb.callCount() != 3 {
		t.Errorf("backend calls = %d, want 3", fb.callCount())
	}

	got := fb.lastRequest
	if got.SignedMessage != "Time:1717171717171" {
		t.Errorf("SignedMessage = %q, want Time:1717171717171", got.SignedMessage)
	}
	if got.SignedMessage != req.State.SignedMessage() {
		t.Errorf("SignedMessage = %q differs from state message %q", got.SignedMessage, req.State.SignedMessage())
	}
	if got.Token != "USDC" {
		t.Errorf("Token = %q, want USDC", got.Token)
	}
	if got.TokenAddress != joinframe.USDC.Address.Hex() {
		t.Errorf("TokenAddress = %q, want %s", got.TokenAddress, joinframe.USDC.Address.Hex())
	}
	if got.NFTID.String() != "42" || got.TournamentID.String() != "9" {
		t.Errorf("nftId/tournamentId = %s/%s, want 42/9", got.NFTID, got.TournamentID)
	}
	if got.UserAddress != testAddress || got.Signature != testSignature {
		t.Errorf("address/signature = %s/%s", got.UserAddress, got.Signature)
	}
}

func TestFetcherNativeUsesZeroAddress(t *testing.T) {
	fb := newFakeBackend()
	if _, err := NewFetcher(fb).Fetch(context.Background(), testRequest(joinframe.ETH)); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if fb.lastRequest.TokenAddress != "0x0000000000000000000000000000000000000000" {
		t.Errorf("TokenAddress = %q, want zero address", fb.lastRequest.TokenAddress)
	}
	if fb.lastRequest.Token != "ETH" {
		t.Errorf("Token = %q, want ETH", fb.lastRequest.Token)
	}
}

func TestFetcherRejectsTokenOutsideRegistry(t *testing.T) {
	fb := newFakeBackend()
	doge := joinframe.TokenDescriptor{Symbol: "doge", Page: 1}

	_, err := NewFetcher(fb).Fetch(context.Background(), testRequest(doge))
	if !errors.Is(err, joinframe.ErrUnknownToken) {
		t.Fatalf("Fetch error = %v, want ErrUnknownToken", err)
	}
	if fb.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0", fb.callCount())
	}
}

func TestFetcherResolvesAddressFromRegistry(t *testing.T) {
	custom := common.HexToAddress("0x1111111111111111111111111111111111111111")
	reg := joinframe.MustRegistry(joinframe.TokenDescriptor{Symbol: "usdc", Address: custom, Page: 1})

	fb := newFakeBackend()
	stale := joinframe.USDC
	if _, err := NewFetcher(fb, WithFetcherRegistry(reg)).Fetch(context.Background(), testRequest(stale)); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if fb.lastRequest.TokenAddress != custom.Hex() {
		t.Errorf("TokenAddress = %s, want %s", fb.lastRequest.TokenAddress, custom.Hex())
	}
}

func TestFetcherFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		setup     func(*fakeBackend)
		wantErr   error
		wantCode  joinframe.ErrorCode
		wantCalls int
	}{
		{
			name:      "no claimable character",
			setup:     func(fb *fakeBackend) { fb.claims = nil },
			wantErr:   joinframe.ErrNoAssetAvailable,
			wantCode:  joinframe.ErrCodeNoAssetAvailable,
			wantCalls: 1,
		},
		{
			name:      "claim lookup fails",
			setup:     func(fb *fakeBackend) { fb.claimErr = boom },
			wantErr:   joinframe.ErrBackendUnavailable,
			wantCode:  joinframe.ErrCodeBackendUnavailable,
			wantCalls: 1,
		},
		{
			name:      "tournament lookup fails",
			setup:     func(fb *fakeBackend) { fb.tournamentErr = boom },
			wantErr:   joinframe.ErrBackendUnavailable,
			wantCode:  joinframe.ErrCodeBackendUnavailable,
			wantCalls: 2,
		},
		{
			name:      "no active tournament",
			setup:     func(fb *fakeBackend) { fb.tournament = nil },
			wantErr:   joinframe.ErrBackendUnavailable,
			wantCode:  joinframe.ErrCodeBackendUnavailable,
			wantCalls: 2,
		},
		{
			name:      "signature exchange fails",
			setup:     func(fb *fakeBackend) { fb.signatureErr = boom },
			wantErr:   joinframe.ErrBackendUnavailable,
			wantCode:  joinframe.ErrCodeBackendUnavailable,
			wantCalls: 3,
		},
		{
			name:      "empty authorization",
			setup:     func(fb *fakeBackend) { fb.payload = nil },
			wantErr:   joinframe.ErrBackendUnavailable,
			wantCode:  joinframe.ErrCodeBackendUnavailable,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBackend()
			tt.setup(fb)

			_, err := NewFetcher(fb).Fetch(context.Background(), testRequest(joinframe.DEGEN))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Fetch error = %v, want %v", err, tt.wantErr)
			}
			if code := joinframe.CodeOf(err); code != tt.wantCode {
				t.Errorf("CodeOf = %s, want %s", code, tt.wantCode)
			}
			if fb.callCount() != tt.wantCalls {
				t.Errorf("backend calls = %d, want %d", fb.callCount(), tt.wantCalls)
			}
		})
	}
}

func TestFetcherKeepsUnderlyingCause(t *testing.T) {
	fb := newFakeBackend()
	fb.claimErr = &backend.Error{Operation: backend.OpClaimableAssets, StatusCode: 502, Message: "bad gateway"}

	_, err := NewFetcher(fb).Fetch(context.Background(), testRequest(joinframe.USDC))
	var backendErr *backend.Error
	if !errors.As(err, &backendErr) {
		t.Fatalf("error %v does not carry *backend.Error", err)
	}
	if backendErr.StatusCode != 502 {
		t.Errorf("StatusCode = %d, want 502", backendErr.StatusCode)
	}
}
