package binding

import (
	"context"
	"encoding/json"
)

// result is what a pending call resolves to: the callback's value on
// success, or an error.
type result struct {
	value json.RawMessage
	err   error
}

// Pending is one outstanding correlated request. It is fulfilled exactly
// once by a matching callback envelope, by binding destruction, or abandoned
// by the waiter.
type Pending struct {
	cid string
	b   *Binding
	ch  chan result
}

// CorrelationID returns the id the eventual callback must carry.
func (p *Pending) CorrelationID() string { return p.cid }

// Wait blocks until the reply arrives, the binding is destroyed, or ctx is
// done. On ctx expiry the pending record is abandoned: a reply arriving
// later is dropped rather than resolved twice.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case res := <-p.ch:
		return res.value, res.err
	case <-ctx.Done():
		p.b.abandon(p.cid)
		// A resolution may have raced the abandon. Prefer it: the record was
		// consumed, so this is the only delivery.
		select {
		case res := <-p.ch:
			return res.value, res.err
		default:
		}
		return nil, ctx.Err()
	}
}

// resolve fulfills the pending call. The channel is buffered so resolution
// never blocks the read loop.
func (p *Pending) resolve(res result) {
	select {
	case p.ch <- res:
	default:
	}
}
