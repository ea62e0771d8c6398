package flow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/backend"
	"github.com/gangwars/joinframe/evm"
	"github.com/gangwars/joinframe/notify"
)

var testManager = common.HexToAddress("0x2222222222222222222222222222222222222222")

// recordingConfirmer records confirmed transaction ids.
type recordingConfirmer struct {
	mu     sync.Mutex
	hashes []string
}

func (c *recordingConfirmer) Confirm(ctx context.Context, txHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes = append(c.hashes, txHash)
}

type testMachine struct {
	*Machine
	backend   *fakeBackend
	confirmer *recordingConfirmer
	clock     *time.Time
}

func newTestMachine(t *testing.T) *testMachine {
	t.Helper()

	now := time.UnixMilli(1717171717171)
	fb := newFakeBackend()
	rc := &recordingConfirmer{}
	cycles := 0

	m := NewMachine(joinframe.DefaultRegistry, NewFetcher(fb), evm.NewBuilder(testManager, evm.DefaultChainID), rc,
		WithAssetBaseURL("https://frame.example/"),
		WithClock(func() time.Time { return now }),
		WithCycleIDs(func() string {
			cycles++
			return "cycle-" + string(rune('0'+cycles))
		}),
	)
	return &testMachine{Machine: m, backend: fb, confirmer: rc, clock: &now}
}

func intentTargets(screen joinframe.Screen) []string {
	targets := make([]string, 0, len(screen.Intents))
	for _, intent := range screen.Intents {
		targets = append(targets, string(intent.Kind)+":"+intent.Target)
	}
	return targets
}

func TestMachineStart(t *testing.T) {
	m := newTestMachine(t)

	screen := m.Start()
	if screen.Step != joinframe.StepSelectToken {
		t.Errorf("Step = %s, want %s", screen.Step, joinframe.StepSelectToken)
	}
	if screen.Image != "https://frame.example/screen%201.png" {
		t.Errorf("Image = %q", screen.Image)
	}
	if len(screen.Intents) != 1 || screen.Intents[0].Target != "/pages/1" {
		t.Errorf("Intents = %v, want single Continue to /pages/1", screen.Intents)
	}
	if screen.State == nil || screen.State.Selected() || screen.State.Authorized() {
		t.Errorf("State = %+v, want fresh state", screen.State)
	}
}

func TestMachinePages(t *testing.T) {
	m := newTestMachine(t)

	tests := []struct {
		page int
		want []string
	}{
		{1, []string{"navigate:/tokens/eth/pick", "navigate:/tokens/usdc/pick", "navigate:/tokens/tower/pick", "navigate:/pages/2"}},
		{2, []string{"navigate:/pages/1", "navigate:/tokens/toshi/pick", "navigate:/tokens/degen/pick", "navigate:/pages/3"}},
		{3, []string{"navigate:/pages/2", "navigate:/tokens/brett/pick"}},
	}

	for _, tt := range tests {
		screen, err := m.Page(tt.page, Turn{State: joinframe.NewTurnState()})
		if err != nil {
			t.Fatalf("Page(%d) error: %v", tt.page, err)
		}
		got := intentTargets(screen)
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("Page(%d) intents = %v, want %v", tt.page, got, tt.want)
		}
	}

	screen, _ := m.Page(1, Turn{State: joinframe.NewTurnState()})
	if screen.Intents[1].Label != "USDC" {
		t.Errorf("label = %q, want USDC", screen.Intents[1].Label)
	}

	if _, err := m.Page(4, Turn{}); !errors.Is(err, joinframe.ErrUnknownPage) {
		t.Errorf("Page(4) error = %v, want ErrUnknownPage", err)
	}
}

func TestMachinePageKeepsState(t *testing.T) {
	m := newTestMachine(t)

	picked, err := m.Select("toshi", Turn{})
	if err != nil {
		t.Fatal(err)
	}
	back, err := m.Page(2, Turn{State: *picked.State})
	if err != nil {
		t.Fatal(err)
	}
	if *back.State != *picked.State {
		t.Errorf("Back changed state: %+v -> %+v", picked.State, back.State)
	}
}

func TestMachineSelect(t *testing.T) {
	m := newTestMachine(t)

	screen, err := m.Select("USDC", Turn{State: joinframe.NewTurnState()})
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	if screen.Step != joinframe.StepAwaitSignature {
		t.Errorf("Step = %s, want %s", screen.Step, joinframe.StepAwaitSignature)
	}
	if screen.Action != "/tokens/usdc/signed" {
		t.Errorf("Action = %q", screen.Action)
	}
	if screen.Image != "https://frame.example/usdc%201.png" {
		t.Errorf("Image = %q", screen.Image)
	}
	want := "navigate:/pages/1,signature:/sign"
	if got := strings.Join(intentTargets(screen), ","); got != want {
		t.Errorf("intents = %s, want %s", got, want)
	}

	state := screen.State
	if state.Token != "usdc" || state.Timestamp != 1717171717171 || state.Cycle != "cycle-1" {
		t.Errorf("State = %+v", state)
	}
	if state.TxData != nil {
		t.Error("selection must clear TxData")
	}
}

func TestMachineSelectUnknownToken(t *testing.T) {
	m := newTestMachine(t)
	if _, err := m.Select("doge", Turn{}); !errors.Is(err, joinframe.ErrUnknownToken) {
		t.Fatalf("Select(doge) error = %v, want ErrUnknownToken", err)
	}
}

func TestMachineReselectStartsNewCycle(t *testing.T) {
	m := newTestMachine(t)

	first, _ := m.Select("usdc", Turn{})
	signed, err := m.Signed(context.Background(), "usdc", Turn{Address: testAddress, Signature: testSignature, State: *first.State})
	if err != nil {
		t.Fatal(err)
	}
	if !signed.State.Authorized() {
		t.Fatal("expected authorized state")
	}

	*m.clock = m.clock.Add(time.Second)
	second, _ := m.Select("degen", Turn{State: *signed.State})
	if second.State.Cycle == first.State.Cycle {
		t.Error("re-selection must open a new cycle")
	}
	if second.State.Timestamp == first.State.Timestamp {
		t.Error("re-selection must restamp the timestamp")
	}
	if second.State.Authorized() {
		t.Error("re-selection must drop the previous authorization")
	}
}

func TestMachineTimestampStableAcrossTurns(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	picked, _ := m.Select("tower", Turn{})
	stamp := picked.State.Timestamp

	req, err := m.SignatureRequest(Turn{State: *picked.State})
	if err != nil {
		t.Fatal(err)
	}
	if req.Content() != "Time:1717171717171" {
		t.Errorf("signature content = %q", req.Content())
	}

	*m.clock = m.clock.Add(time.Minute)
	signed, err := m.Signed(ctx, "tower", Turn{Address: testAddress, Signature: testSignature, State: *picked.State})
	if err != nil {
		t.Fatal(err)
	}
	approved, err := m.Approved("tower", Turn{State: *signed.State, TransactionID: "0xabc"})
	if err != nil {
		t.Fatal(err)
	}

	for name, state := range map[string]*joinframe.TurnState{"signed": signed.State, "approved": approved.State} {
		if state.Timestamp != stamp {
			t.Errorf("%s timestamp = %d, want %d", name, state.Timestamp, stamp)
		}
	}
	if m.backend.lastRequest.SignedMessage != req.Content() {
		t.Errorf("backend signedMessage %q differs from signed content %q", m.backend.lastRequest.SignedMessage, req.Content())
	}
}

func TestMachineSignatureRequestRequiresSelection(t *testing.T) {
	m := newTestMachine(t)
	_, err := m.SignatureRequest(Turn{State: joinframe.NewTurnState()})
	if !errors.Is(err, joinframe.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState", err)
	}
}

func TestMachineERC20PathApprovesBeforePaying(t *testing.T) {
	for _, symbol := range []string{"usdc", "tower", "toshi", "degen", "brett"} {
		t.Run(symbol, func(t *testing.T) {
			m := newTestMachine(t)
			ctx := context.Background()
			token, _ := joinframe.DefaultRegistry.Lookup(symbol)

			picked, _ := m.Select(symbol, Turn{})
			signed, err := m.Signed(ctx, symbol, Turn{Address: testAddress, Signature: testSignature, State: *picked.State})
			if err != nil {
				t.Fatal(err)
			}
			if signed.Step != joinframe.StepAwaitApproval {
				t.Fatalf("Step = %s, want %s", signed.Step, joinframe.StepAwaitApproval)
			}
			if signed.Action != ApprovedRoute(symbol) {
				t.Errorf("Action = %q, want %q", signed.Action, ApprovedRoute(symbol))
			}
			if signed.Intents[0].Target != PageRoute(token.Page) {
				t.Errorf("Back = %q, want %q", signed.Intents[0].Target, PageRoute(token.Page))
			}
			if signed.Intents[1].Target != ApproveRoute(symbol) || signed.Intents[1].Label != "Approve" {
				t.Errorf("approve intent = %+v", signed.Intents[1])
			}

			call, err := m.ApprovalTransaction(symbol, Turn{State: *signed.State})
			if err != nil {
				t.Fatalf("ApprovalTransaction error: %v", err)
			}
			if call.To != token.Address || call.Method != "approve" {
				t.Errorf("approval call to %s method %s", call.To.Hex(), call.Method)
			}

			approved, err := m.Approved(symbol, Turn{State: *signed.State, TransactionID: "0xapprove"})
			if err != nil {
				t.Fatal(err)
			}
			if approved.Step != joinframe.StepAwaitPayment || approved.Action != PaidRoute {
				t.Fatalf("approved screen = %s %s", approved.Step, approved.Action)
			}

			pay, err := m.PaymentTransaction(symbol, Turn{State: *approved.State})
			if err != nil {
				t.Fatalf("PaymentTransaction error: %v", err)
			}
			if len(pay.Args) != 8 || pay.Value.Sign() != 0 {
				t.Errorf("ERC-20 pay has %d args and value %s", len(pay.Args), pay.Value)
			}
		})
	}
}

func TestMachineNativePathSkipsApproval(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	picked, _ := m.Select("eth", Turn{})
	signed, err := m.Signed(ctx, "eth", Turn{Address: testAddress, Signature: testSignature, State: *picked.State})
	if err != nil {
		t.Fatal(err)
	}
	if signed.Step != joinframe.StepAwaitPayment {
		t.Fatalf("Step = %s, want %s", signed.Step, joinframe.StepAwaitPayment)
	}
	if signed.Action != PaidRoute || signed.Intents[1].Target != PayRoute("eth") {
		t.Errorf("screen = %q %v", signed.Action, signed.Intents)
	}
	if signed.Image != "https://frame.example/eth%202.png" {
		t.Errorf("Image = %q", signed.Image)
	}

	if _, err := m.ApprovalTransaction("eth", Turn{State: *signed.State}); !errors.Is(err, joinframe.ErrNativeApproval) {
		t.Errorf("ApprovalTransaction(eth) error = %v, want ErrNativeApproval", err)
	}
	approved, _ := m.Approved("eth", Turn{State: *signed.State})
	if approved.Step != joinframe.StepFailed {
		t.Errorf("Approved(eth) step = %s, want failed", approved.Step)
	}

	pay, err := m.PaymentTransaction("eth", Turn{State: *signed.State})
	if err != nil {
		t.Fatal(err)
	}
	if len(pay.Args) != 6 || pay.Value.Int64() != 1000000 {
		t.Errorf("native pay has %d args and value %s", len(pay.Args), pay.Value)
	}
}

func TestMachineSignedWithoutWallet(t *testing.T) {
	for _, address := range []string{"", "not-an-address"} {
		m := newTestMachine(t)

		picked, _ := m.Select("usdc", Turn{})
		screen, err := m.Signed(context.Background(), "usdc", Turn{Address: address, Signature: testSignature, State: *picked.State})
		if err != nil {
			t.Fatal(err)
		}
		if screen.Step != joinframe.StepWalletRequired {
			t.Errorf("Step = %s, want %s", screen.Step, joinframe.StepWalletRequired)
		}
		if screen.Text != "Please connect your wallet to WarpCast!" {
			t.Errorf("Text = %q", screen.Text)
		}
		if screen.Reason != joinframe.ErrCodeWalletNotConnected {
			t.Errorf("Reason = %q, want %q", screen.Reason, joinframe.ErrCodeWalletNotConnected)
		}
		if len(screen.Intents) != 1 || screen.Intents[0].Kind != joinframe.IntentReset {
			t.Errorf("Intents = %v, want reset only", screen.Intents)
		}
		if m.backend.callCount() != 0 {
			t.Errorf("backend calls = %d, want 0", m.backend.callCount())
		}
	}
}

func TestMachineSignedWithoutSignaturePromptsAgain(t *testing.T) {
	m := newTestMachine(t)

	picked, _ := m.Select("degen", Turn{})
	screen, err := m.Signed(context.Background(), "degen", Turn{Address: testAddress, State: *picked.State})
	if err != nil {
		t.Fatal(err)
	}
	if screen.Step != joinframe.StepAwaitSignature {
		t.Errorf("Step = %s, want %s", screen.Step, joinframe.StepAwaitSignature)
	}
	if m.backend.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0", m.backend.callCount())
	}
}

func TestMachineSignedMalformedSignaturePromptsAgain(t *testing.T) {
	m := newTestMachine(t)

	picked, _ := m.Select("usdc", Turn{})
	screen, err := m.Signed(context.Background(), "usdc", Turn{Address: testAddress, Signature: "0xsig", State: *picked.State})
	if err != nil {
		t.Fatal(err)
	}
	if screen.Step != joinframe.StepAwaitSignature {
		t.Errorf("Step = %s, want %s", screen.Step, joinframe.StepAwaitSignature)
	}
	if screen.State.Authorized() {
		t.Error("malformed signature must not authorize the cycle")
	}
	if m.backend.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0", m.backend.callCount())
	}
}

func TestMachineSignedStateMismatch(t *testing.T) {
	m := newTestMachine(t)

	picked, _ := m.Select("usdc", Turn{})
	screen, err := m.Signed(context.Background(), "degen", Turn{Address: testAddress, Signature: testSignature, State: *picked.State})
	if err != nil {
		t.Fatal(err)
	}
	if screen.Step != joinframe.StepFailed || screen.Reason != joinframe.ErrCodeInvalidState {
		t.Errorf("screen = %s %s, want failed INVALID_STATE", screen.Step, screen.Reason)
	}
	if m.backend.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0", m.backend.callCount())
	}
}

func TestMachineSignedReplayDoesNotRefetch(t *testing.T) {
	m := newTestMachine(t)
	ctx := context.Background()

	picked, _ := m.Select("usdc", Turn{})
	turn := Turn{Address: testAddress, Signature: testSignature, State: *picked.State}
	signed, _ := m.Signed(ctx, "usdc", turn)
	calls := m.backend.callCount()

	turn.State = *signed.State
	again, err := m.Signed(ctx, "usdc", turn)
	if err != nil {
		t.Fatal(err)
	}
	if again.Step != joinframe.StepAwaitApproval {
		t.Errorf("Step = %s, want %s", again.Step, joinframe.StepAwaitApproval)
	}
	if m.backend.callCount() != calls {
		t.Errorf("backend calls = %d, want %d", m.backend.callCount(), calls)
	}
}

func TestMachineSignedFetchFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*fakeBackend)
		wantCode joinframe.ErrorCode
	}{
		{"no asset", func(fb *fakeBackend) { fb.claims = nil }, joinframe.ErrCodeNoAssetAvailable},
		{"backend down", func(fb *fakeBackend) { fb.tournamentErr = errors.New("down") }, joinframe.ErrCodeBackendUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t)
			tt.setup(m.backend)

			picked, _ := m.Select("brett", Turn{})
			screen, err := m.Signed(context.Background(), "brett", Turn{Address: testAddress, Signature: testSignature, State: *picked.State})
			if err != nil {
				t.Fatal(err)
			}
			if screen.Step != joinframe.StepFailed || screen.Reason != tt.wantCode {
				t.Errorf("screen = %s %s, want failed %s", screen.Step, screen.Reason, tt.wantCode)
			}
			want := "navigate:/pages/3,reset:"
			if got := strings.Join(intentTargets(screen), ","); got != want {
				t.Errorf("intents = %s, want %s", got, want)
			}
			if screen.State.Authorized() {
				t.Error("failed fetch must not authorize")
			}
		})
	}
}

func TestMachineApprovedRequiresAuthorization(t *testing.T) {
	m := newTestMachine(t)

	picked, _ := m.Select("usdc", Turn{})
	screen, err := m.Approved("usdc", Turn{State: *picked.State})
	if err != nil {
		t.Fatal(err)
	}
	if screen.Reason != joinframe.ErrCodeInvalidAuthorization {
		t.Errorf("Reason = %s, want %s", screen.Reason, joinframe.ErrCodeInvalidAuthorization)
	}

	if _, err := m.PaymentTransaction("usdc", Turn{State: *picked.State}); !errors.Is(err, joinframe.ErrMissingAuthorization) {
		t.Errorf("PaymentTransaction error = %v, want ErrMissingAuthorization", err)
	}
}

func TestMachinePaid(t *testing.T) {
	m := newTestMachine(t)

	screen := m.Paid(context.Background(), Turn{TransactionID: "0xfeed"})
	if screen.Step != joinframe.StepConfirmed || !screen.Step.Terminal() {
		t.Errorf("Step = %s, want terminal confirmed", screen.Step)
	}
	if screen.Image != "https://frame.example/end.png" {
		t.Errorf("Image = %q", screen.Image)
	}
	if len(screen.Intents) != 1 || screen.Intents[0].Kind != joinframe.IntentLink ||
		screen.Intents[0].Target != DefaultCommunityURL {
		t.Errorf("Intents = %v", screen.Intents)
	}
	if len(m.confirmer.hashes) != 1 || m.confirmer.hashes[0] != "0xfeed" {
		t.Errorf("confirmed = %v, want [0xfeed]", m.confirmer.hashes)
	}

	m.Paid(context.Background(), Turn{})
	if len(m.confirmer.hashes) != 1 {
		t.Errorf("Paid without transaction id must not confirm, got %v", m.confirmer.hashes)
	}
}

// failingAlerter rejects every alert.
type failingAlerter struct{}

func (failingAlerter) Send(ctx context.Context, content string) error {
	return errors.New("alert channel down")
}

func TestMachinePaidIgnoresNotificationFailure(t *testing.T) {
	paid := func(t *testing.T, b backend.Interface, alerts notify.Alerter) (joinframe.Screen, notify.Outcome) {
		t.Helper()

		var outcome notify.Outcome
		n := notify.New(b, alerts,
			notify.WithDelay(0),
			notify.WithTimeout(5*time.Second),
			notify.WithOutcomeObserver(func(o notify.Outcome) { outcome = o }),
		)
		m := NewMachine(joinframe.DefaultRegistry, NewFetcher(newFakeBackend()), evm.NewBuilder(testManager, evm.DefaultChainID), n,
			WithAssetBaseURL("https://frame.example/"),
		)

		screen := m.Paid(context.Background(), Turn{TransactionID: "0xfeed"})
		n.Wait()
		return screen, outcome
	}

	want, delivered := paid(t, newFakeBackend(), nil)
	if delivered.Err != nil {
		t.Fatalf("notification against a healthy backend failed: %v", delivered.Err)
	}

	badGateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer badGateway.Close()

	unreachable := httptest.NewServer(http.NotFoundHandler())
	unreachable.Close()

	tests := []struct {
		name string
		url  string
	}{
		{"bad gateway", badGateway.URL},
		{"network error", unreachable.URL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := backend.NewClient(tt.url)
			if err != nil {
				t.Fatal(err)
			}

			got, outcome := paid(t, client, failingAlerter{})

			if !reflect.DeepEqual(got, want) {
				t.Errorf("screen = %+v, want %+v", got, want)
			}
			if !errors.Is(outcome.Err, joinframe.ErrNotificationFailure) {
				t.Errorf("outcome.Err = %v, want ErrNotificationFailure", outcome.Err)
			}
			if outcome.AlertErr == nil {
				t.Error("expected alert failure in outcome")
			}
		})
	}
}

func TestMachineFailure(t *testing.T) {
	m := newTestMachine(t)

	screen := m.Failure(joinframe.ErrMalformedAuthorization)
	if screen.Step != joinframe.StepFailed || screen.Reason != joinframe.ErrCodeInvalidAuthorization {
		t.Errorf("screen = %s %s", screen.Step, screen.Reason)
	}
	if len(screen.Intents) != 1 || screen.Intents[0].Kind != joinframe.IntentReset {
		t.Errorf("Intents = %v, want reset only", screen.Intents)
	}
	if screen.State == nil || screen.State.Selected() {
		t.Errorf("State = %+v, want fresh", screen.State)
	}
}
