package binding

import "errors"

// ErrPortClosed is returned when posting on a closed port. Named errors like
// this let callers check the exact cause with errors.Is() instead of
// comparing strings.
var ErrPortClosed = errors.New("port closed")

// OriginNull is the sentinel origin reported by a sandboxed, originless
// remote context. A binding that receives it accepts the message regardless
// of its configured origins and downgrades its outbound target origin to
// OriginAny for the rest of its life.
const OriginNull = "null"

// OriginAny is the wildcard target origin: a post addressed to it is
// delivered to the peer regardless of the peer's origin.
const OriginAny = "*"

// Message is one inbound unit from a port: the raw envelope bytes plus the
// origin the transport attributes to the sender. The port, not the sender's
// payload, is the authority on Origin.
type Message struct {
	Origin string
	Data   []byte
}

// Port is one end of a cross-context message channel. It is the module's
// rendition of a postMessage-style primitive: posts name a target origin and
// are silently discarded by the transport when the peer's origin does not
// match it.
//
// A Port delivers inbound messages in arrival order on the channel returned
// by Receive. The channel is closed when the port closes.
type Port interface {
	// Post transmits one message to the peer, addressed to targetOrigin.
	// A mismatched target origin is not an error: the transport drops the
	// message, mirroring the messaging primitive this abstracts.
	Post(data []byte, targetOrigin string) error

	// Receive returns the inbound message channel. Closed on port close.
	Receive() <-chan Message

	// Close shuts the port down. Safe to call multiple times.
	Close() error
}
