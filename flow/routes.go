package flow

import (
	"fmt"
	"strings"
)

// Turn routes. The HTTP surface mounts one handler per pattern; the machine uses the
// same builders for every Action and Target it emits.
const (
	StartRoute = "/"
	SignRoute  = "/sign"
	PaidRoute  = "/paid"
)

// PageRoute is the picker page n.
func PageRoute(n int) string {
	return fmt.Sprintf("/pages/%d", n)
}

// PickRoute selects symbol.
func PickRoute(symbol string) string {
	return tokenRoute(symbol, "pick")
}

// SignedRoute receives the completed signature for symbol.
func SignedRoute(symbol string) string {
	return tokenRoute(symbol, "signed")
}

// ApproveRoute serves the approve transaction for symbol.
func ApproveRoute(symbol string) string {
	return tokenRoute(symbol, "approve")
}

// ApprovedRoute receives the completed approval for symbol.
func ApprovedRoute(symbol string) string {
	return tokenRoute(symbol, "approved")
}

// PayRoute serves the pay transaction for symbol.
func PayRoute(symbol string) string {
	return tokenRoute(symbol, "pay")
}

func tokenRoute(symbol, step string) string {
	return "/tokens/" + strings.ToLower(symbol) + "/" + step
}
