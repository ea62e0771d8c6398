// Package helpers provides the request and response plumbing shared by the chi and gin
// frame surfaces so both behave identically.
package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gangwars/joinframe"
)

// MaxBodyBytes bounds a turn request body.
const MaxBodyBytes = 64 << 10

// ErrMalformedRequest indicates a turn body that is not the expected JSON object.
var ErrMalformedRequest = errors.New("malformed turn request")

// TurnRequest is the frame host's turn body. Every field is optional.
type TurnRequest struct {
	VerifiedAddress string `json:"verifiedAddress"`
	State           string `json:"state"`
	TransactionID   string `json:"transactionId"`
	Signature       string `json:"signature"`
}

// ParseTurnRequest decodes the JSON body of r. An empty body is an empty request.
func ParseTurnRequest(r *http.Request) (TurnRequest, error) {
	var req TurnRequest
	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if len(body) > MaxBodyBytes {
		return req, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedRequest, MaxBodyBytes)
	}
	if strings.TrimSpace(string(body)) == "" {
		return req, nil
	}

	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	req.VerifiedAddress = strings.TrimSpace(req.VerifiedAddress)
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	req.Signature = strings.TrimSpace(req.Signature)
	return req, nil
}

// ScreenResponse is the wire form of a screen. State is the sealed state blob.
type ScreenResponse struct {
	Step    joinframe.FlowStep  `json:"step"`
	Image   string              `json:"image,omitempty"`
	Text    string              `json:"text,omitempty"`
	Action  string              `json:"action,omitempty"`
	Intents []joinframe.Intent  `json:"intents"`
	Reason  joinframe.ErrorCode `json:"reason,omitempty"`
	State   string              `json:"state"`
}

// NewScreenResponse pairs screen with its sealed state.
func NewScreenResponse(screen joinframe.Screen, sealed string) ScreenResponse {
	intents := screen.Intents
	if intents == nil {
		intents = []joinframe.Intent{}
	}
	return ScreenResponse{
		Step:    screen.Step,
		Image:   screen.Image,
		Text:    screen.Text,
		Action:  screen.Action,
		Intents: intents,
		Reason:  screen.Reason,
		State:   sealed,
	}
}

// ErrorResponse is the body of a non-screen error.
type ErrorResponse struct {
	Error string              `json:"error"`
	Code  joinframe.ErrorCode `json:"code,omitempty"`
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encoding failure only truncates the body.
	_ = json.NewEncoder(w).Encode(v)
}

// SendError writes an ErrorResponse classified from err.
func SendError(w http.ResponseWriter, status int, message string, err error) {
	WriteJSON(w, status, ErrorResponse{
		Error: message,
		Code:  joinframe.CodeOf(err),
	})
}
