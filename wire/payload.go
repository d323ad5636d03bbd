package wire

import (
	"encoding/json"
	"fmt"
)

// Failure kinds carried in callback replies. They identify the remote
// failure class so the calling side can surface a typed error instead of a
// bare string.
const (
	KindUnknownAction       = "unknown_action"
	KindUnknownEvent        = "unknown_event"
	KindHandlerError        = "handler_error"
	KindNegotiationRejected = "negotiation_rejected"
)

// Init is the payload of an init envelope: the embedded side's declared
// feature and event names.
type Init struct {
	Features []string `json:"features"`
	Events   []string `json:"events"`
}

// InitReply is the payload of the callback answering an init: the embedder's
// declared names plus the negotiated initial options.
type InitReply struct {
	Features []string `json:"features"`
	Events   []string `json:"events"`
	Visible  bool     `json:"visible"`
}

// Ready is the payload closing the handshake. Error is populated when OK is
// false and carries whatever failure prevented readiness.
type Ready struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Call requests invocation of a named feature with an argument sequence.
type Call struct {
	Action string            `json:"action"`
	Args   []json.RawMessage `json:"args,omitempty"`
}

// Callback is the reply to a correlated envelope. On success Value holds the
// returned value; on failure Kind and Message describe the error.
type Callback struct {
	Error   bool            `json:"error,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Message string          `json:"message,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// Event dispatches a named event with an argument sequence.
type Event struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
}

// RemoteError is a failure reported by the other side of the channel in a
// callback reply. Kind is one of the failure kind constants above.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return "remote error: " + e.Message
	}
	return "remote error (" + e.Kind + "): " + e.Message
}

// Marshal encodes a value for the Value field of a callback.
func Marshal(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// DecodeData unmarshals an envelope's data field into the given payload
// schema, reporting schema violations as ErrMalformed.
func DecodeData[T any](env Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s data: %v", ErrMalformed, env.Type, err)
	}
	return v, nil
}

// EncodeArgs marshals a call or event argument list.
func EncodeArgs(args []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}
