// Package wire defines the envelope format exchanged between the two sides
// of a glue channel, the protocol version policy, and the per-type payload
// schemas carried in the envelope's data field.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the protocol version stamped on every outbound envelope.
// A peer declaring a higher version is incompatible; lower or equal
// versions are accepted.
const Version = 1

// Type identifies the kind of protocol message an envelope carries.
type Type string

const (
	// TypeInit opens the handshake. Sent by the embedded side, carrying its
	// declared feature and event names. Answered with a callback envelope.
	TypeInit Type = "init"
	// TypeReady closes the handshake. Sent by the embedded side once its
	// negotiated API is built, carrying a success flag.
	TypeReady Type = "ready"
	// TypeCall requests invocation of a named feature on the remote side.
	TypeCall Type = "call"
	// TypeCallback carries the reply to a correlated envelope.
	TypeCallback Type = "callback"
	// TypeEvent dispatches a fire-and-forget event, acknowledged with an
	// empty callback.
	TypeEvent Type = "event.dispatch"
)

// ErrVersionIncompatible is returned when a peer declares a protocol version
// newer than this build understands. Not recoverable locally.
var ErrVersionIncompatible = errors.New("incompatible protocol version")

// ErrNotProtocol marks messages that lack the protocol marker. Unrelated
// traffic sharing the transport is expected, so callers drop these silently.
var ErrNotProtocol = errors.New("not a glue message")

// ErrMalformed marks envelopes that carry the marker but fail schema
// validation. Also dropped silently.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the single structured value posted per protocol message.
// The Glue marker discriminates protocol messages from unrelated traffic
// on the same transport.
type Envelope struct {
	Version       int             `json:"version"`
	Glue          bool            `json:"glue"`
	Type          Type            `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	CorrelationID string          `json:"cid,omitempty"`
}

// New builds an outbound envelope of the given type, stamping the local
// protocol version and marker. The payload is marshaled into Data.
func New(typ Type, payload any, cid string) (Envelope, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		data = b
	}
	return Envelope{
		Version:       Version,
		Glue:          true,
		Type:          typ,
		Data:          data,
		CorrelationID: cid,
	}, nil
}

// Parse decodes and validates an inbound message.
//
// Validation order matters: a message without the marker is foreign traffic
// (ErrNotProtocol, dropped silently), a marked message with a version above
// ours is fatal (ErrVersionIncompatible), and a marked message missing its
// type is ErrMalformed.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrNotProtocol, err)
	}
	if !env.Glue {
		return Envelope{}, ErrNotProtocol
	}
	if env.Version > Version {
		return Envelope{}, fmt.Errorf("%w: peer declares %d, local maximum %d",
			ErrVersionIncompatible, env.Version, Version)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// Encode serializes an envelope for the transport.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
