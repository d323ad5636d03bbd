// Package inproc provides an in-process port pair for wiring both sides of
// a glue channel inside one program. It mirrors the semantics of a
// postMessage-style primitive: each endpoint has a fixed origin stamped on
// its posts, and a post addressed to a target origin the peer does not match
// is silently discarded.
package inproc

import (
	"errors"
	"sync"

	"github.com/frameglue/glue/binding"
)

// ErrBufferFull is returned when the peer's inbound buffer is at capacity.
var ErrBufferFull = errors.New("inproc port buffer full")

const bufferSize = 64

// Port is one endpoint of an in-process pair.
type Port struct {
	origin string
	peer   *Port

	mu     sync.Mutex
	in     chan binding.Message
	closed bool
}

// Pair creates two connected endpoints with the given origins. Use the
// sandbox sentinel origin (binding.OriginNull) for an originless endpoint.
func Pair(originA, originB string) (*Port, *Port) {
	a := &Port{origin: originA, in: make(chan binding.Message, bufferSize)}
	b := &Port{origin: originB, in: make(chan binding.Message, bufferSize)}
	a.peer = b
	b.peer = a
	return a, b
}

// Origin returns this endpoint's origin.
func (p *Port) Origin() string { return p.origin }

// Post delivers data to the peer, stamped with this endpoint's origin. A
// target origin the peer does not match discards the message without error,
// matching the messaging primitive this mimics.
func (p *Port) Post(data []byte, targetOrigin string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return binding.ErrPortClosed
	}
	p.mu.Unlock()

	if targetOrigin != binding.OriginAny && targetOrigin != p.peer.origin {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return p.peer.deliver(binding.Message{Origin: p.origin, Data: buf})
}

func (p *Port) deliver(msg binding.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return binding.ErrPortClosed
	}
	select {
	case p.in <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Receive returns the inbound message channel. Closed on Close.
func (p *Port) Receive() <-chan binding.Message { return p.in }

// Close shuts this endpoint down. Safe to call multiple times; the peer's
// posts start failing with binding.ErrPortClosed.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.in)
	return nil
}
