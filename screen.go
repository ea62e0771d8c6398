package joinframe

// FlowStep names the screen a turn leaves the user on.
type FlowStep string

const (
	// StepSelectToken is the entry state: intro screen and token picker pages.
	StepSelectToken FlowStep = "select_token"
	// StepAwaitSignature asks the user to sign the time-stamped message.
	StepAwaitSignature FlowStep = "await_signature"
	// StepAwaitApproval asks the user to approve ERC-20 spend. Never entered for the native token.
	StepAwaitApproval FlowStep = "await_approval"
	// StepAwaitPayment asks the user to submit the pay transaction.
	StepAwaitPayment FlowStep = "await_payment"
	// StepConfirmed is terminal.
	StepConfirmed FlowStep = "confirmed"

	// StepWalletRequired is the terminal "connect a wallet" screen.
	StepWalletRequired FlowStep = "wallet_required"
	// StepFailed is the recoverable error screen.
	StepFailed FlowStep = "failed"
)

// Terminal reports whether no further flow action exists besides reset or an external link.
func (s FlowStep) Terminal() bool {
	switch s {
	case StepConfirmed, StepWalletRequired:
		return true
	default:
		return false
	}
}

// IntentKind is the kind of action offered on a screen.
type IntentKind string

const (
	IntentNavigate    IntentKind = "navigate"
	IntentSignature   IntentKind = "signature"
	IntentTransaction IntentKind = "transaction"
	IntentReset       IntentKind = "reset"
	IntentLink        IntentKind = "link"
)

// Intent is one button on a screen.
type Intent struct {
	Kind   IntentKind `json:"kind"`
	Label  string     `json:"label"`
	Target string     `json:"target,omitempty"`
}

// Link returns an external link intent.
func Link(label, href string) Intent {
	return Intent{Kind: IntentLink, Label: label, Target: href}
}

// Navigate returns a navigation intent to target.
func Navigate(label, target string) Intent {
	return Intent{Kind: IntentNavigate, Label: label, Target: target}
}

// Reset returns the "Start Over" intent.
func Reset() Intent {
	return Intent{Kind: IntentReset, Label: "Start Over"}
}

// Screen describes the next screen and the actions available on it.
type Screen struct {
	// Step is the flow step the user is on after this turn.
	Step FlowStep `json:"step"`

	// Image is the absolute URL of the screen image.
	Image string `json:"image,omitempty"`

	// Text is rendered by the host in place of an image on text-only screens.
	Text string `json:"text,omitempty"`

	// Action is the route the host posts to on the next plain button press, if any.
	Action string `json:"action,omitempty"`

	// Intents are the ordered buttons.
	Intents []Intent `json:"intents"`

	// Reason carries the error code for error screens.
	Reason ErrorCode `json:"reason,omitempty"`

	// State is the state to round-trip. It is sealed by the transport before it leaves the process.
	State *TurnState `json:"-"`
}
