package joinframe

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Standard joinframe error definitions

var (
	// ErrWalletNotConnected indicates the frame host reported no verified wallet address.
	ErrWalletNotConnected = errors.New("joinframe: no verified wallet address")

	// ErrNoAssetAvailable indicates the user has no claimable character to enter with.
	ErrNoAssetAvailable = errors.New("joinframe: no claimable asset available")

	// ErrBackendUnavailable indicates a tournament backend call failed or returned an unexpected shape.
	ErrBackendUnavailable = errors.New("joinframe: tournament backend unavailable")

	// ErrNotificationFailure indicates the join notification or its alert mirror failed.
	ErrNotificationFailure = errors.New("joinframe: join notification failed")

	// ErrUnknownToken indicates a token symbol outside the registry.
	ErrUnknownToken = errors.New("joinframe: unknown token")

	// ErrUnknownPage indicates a picker page outside the registry's range.
	ErrUnknownPage = errors.New("joinframe: unknown token page")

	// ErrMissingAuthorization indicates a payment shape was requested before the signing turn set TxData.
	ErrMissingAuthorization = errors.New("joinframe: authorization payload not set")

	// ErrStateMismatch indicates the state belongs to a different token or cycle than the turn.
	ErrStateMismatch = errors.New("joinframe: state does not match turn")

	// ErrMalformedAuthorization indicates an authorization payload that cannot be placed into a contract call.
	ErrMalformedAuthorization = errors.New("joinframe: malformed authorization payload")

	// ErrInvalidState indicates a turn state blob that failed verification or decoding.
	ErrInvalidState = errors.New("joinframe: invalid turn state")

	// ErrNativeApproval indicates an approval was requested for the native currency.
	ErrNativeApproval = errors.New("joinframe: native currency needs no approval")
)

// ErrorCode classifies flow failures for screens, logs and metrics.
type ErrorCode string

const (
	ErrCodeWalletNotConnected   ErrorCode = "WALLET_NOT_CONNECTED"
	ErrCodeNoAssetAvailable     ErrorCode = "NO_ASSET_AVAILABLE"
	ErrCodeBackendUnavailable   ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeNotificationFailure  ErrorCode = "NOTIFICATION_FAILURE"
	ErrCodeInvalidState         ErrorCode = "INVALID_STATE"
	ErrCodeInvalidAuthorization ErrorCode = "INVALID_AUTHORIZATION"
	ErrCodeUnknownToken         ErrorCode = "UNKNOWN_TOKEN"
	ErrCodeInternal             ErrorCode = "INTERNAL"
)

// FlowError is a classified failure raised while handling a turn.
type FlowError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// NewFlowError creates a FlowError wrapping err.
func NewFlowError(code ErrorCode, message string, err error) *FlowError {
	return &FlowError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Details[k])
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the wrapped error.
func (e *FlowError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value detail and returns e for chaining.
func (e *FlowError) WithDetails(key string, value interface{}) *FlowError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf classifies err. A FlowError keeps its own code; sentinels map to theirs;
// anything else is ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var flowErr *FlowError
	if errors.As(err, &flowErr) && flowErr.Code != "" {
		return flowErr.Code
	}
	switch {
	case errors.Is(err, ErrWalletNotConnected):
		return ErrCodeWalletNotConnected
	case errors.Is(err, ErrNoAssetAvailable):
		return ErrCodeNoAssetAvailable
	case errors.Is(err, ErrBackendUnavailable):
		return ErrCodeBackendUnavailable
	case errors.Is(err, ErrNotificationFailure):
		return ErrCodeNotificationFailure
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrStateMismatch):
		return ErrCodeInvalidState
	case errors.Is(err, ErrMissingAuthorization), errors.Is(err, ErrMalformedAuthorization), errors.Is(err, ErrNativeApproval):
		return ErrCodeInvalidAuthorization
	case errors.Is(err, ErrUnknownToken), errors.Is(err, ErrUnknownPage):
		return ErrCodeUnknownToken
	default:
		return ErrCodeInternal
	}
}
