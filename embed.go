package glue

import (
	"context"
	"fmt"
	"sync"

	"github.com/frameglue/glue/binding"
	"github.com/frameglue/glue/events"
	"github.com/frameglue/glue/feature"
	"github.com/frameglue/glue/wire"
)

// hsState tracks the host's position in the init/ready exchange.
type hsState int

const (
	hsIdle hsState = iota
	hsNegotiating
	hsReplied
	hsReady
	hsFailed
)

type hsResult struct {
	facade *Facade
	err    error
}

// host drives the embedding side of the handshake: it waits for the peer's
// init, answers it with the local declared surface, and resolves on ready.
type host struct {
	ctx context.Context
	b   *binding.Binding
	fm  *feature.Map
	o   *options

	mu     sync.Mutex
	state  hsState
	facade *Facade

	done chan hsResult
}

// Embed establishes the host side of a glue channel over the given port.
// origin is the expected origin of the embedded content; the sandbox
// sentinel is handled per the binding's downgrade rule. Embed blocks until
// the embedded side reports ready, the binding fails fatally, or ctx is
// done. It enforces no timeout of its own.
func Embed(ctx context.Context, port binding.Port, origin string, opts ...Option) (*Facade, error) {
	o := applyOptions(opts)
	fm, err := feature.Build(o.features)
	if err != nil {
		return nil, err
	}

	b := binding.New(binding.Config{
		AllowedOrigins: []string{origin},
		TargetOrigin:   origin,
		Log:            o.log,
	})
	h := &host{ctx: ctx, b: b, fm: fm, o: o, done: make(chan hsResult, 1)}
	b.Handle(wire.TypeInit, h.onInit)
	b.Handle(wire.TypeReady, h.onReady)
	b.HandleDefault(func(env wire.Envelope) {
		o.log.Debug("passing through unrecognized envelope", "type", env.Type)
	})
	if err := b.Attach(port); err != nil {
		return nil, err
	}

	select {
	case res := <-h.done:
		if res.err != nil {
			_ = b.Destroy()
			return nil, res.err
		}
		if o.onReady != nil {
			o.onReady(res.facade)
		}
		return res.facade, nil
	case err := <-b.Failed():
		return nil, err
	case <-ctx.Done():
		_ = b.Destroy()
		return nil, ctx.Err()
	}
}

// onInit processes the peer's init exactly once. A second init is a fatal
// protocol-usage error.
func (h *host) onInit(env wire.Envelope) {
	h.mu.Lock()
	if h.state != hsIdle {
		h.mu.Unlock()
		h.b.Fail(fmt.Errorf("%w: init received twice", binding.ErrProtocol))
		return
	}
	h.state = hsNegotiating
	h.mu.Unlock()

	if env.CorrelationID == "" {
		h.b.Fail(fmt.Errorf("%w: init without correlation id", binding.ErrProtocol))
		return
	}
	init, err := wire.DecodeData[wire.Init](env)
	if err != nil {
		h.b.Fail(err)
		return
	}

	// The negotiation hook may block on the embedding application, so the
	// reply moves off the read loop.
	go h.negotiate(env.CorrelationID, init)
}

func (h *host) negotiate(cid string, init wire.Init) {
	if h.o.negotiate != nil {
		if err := h.o.negotiate(h.ctx, Peer{Features: init.Features, Events: init.Events}); err != nil {
			_ = h.b.ReplyError(cid, wire.KindNegotiationRejected, err.Error())
			h.fail(fmt.Errorf("handshake rejected: %w", err))
			return
		}
	}

	table := events.NewTable(negotiatedEvents(h.o.events, init.Events))
	facade := newFacade(h.b, h.fm, table, init.Features, h.o.visible, true, h.o.log)

	// The state moves to replied before the reply is posted: the peer's
	// ready can race the store but never the post, so onReady can trust
	// that a replied-state facade is set.
	h.mu.Lock()
	h.facade = facade
	h.state = hsReplied
	h.mu.Unlock()

	err := h.b.Reply(cid, wire.InitReply{
		Features: h.fm.Names(),
		Events:   h.o.events,
		Visible:  h.o.visible,
	})
	if err != nil {
		h.fail(fmt.Errorf("handshake reply failed: %w", err))
	}
}

// onReady resolves or rejects the embed per the peer's success flag. A ready
// arriving before the handshake reply went out is out of order and fatal.
func (h *host) onReady(env wire.Envelope) {
	ready, err := wire.DecodeData[wire.Ready](env)
	if err != nil {
		h.o.log.Debug("dropping malformed ready", "err", err)
		return
	}

	h.mu.Lock()
	state := h.state
	facade := h.facade
	if state == hsReplied {
		if ready.OK {
			h.state = hsReady
		} else {
			h.state = hsFailed
		}
	}
	h.mu.Unlock()

	switch state {
	case hsIdle, hsNegotiating:
		h.b.Fail(fmt.Errorf("%w: ready before handshake reply", binding.ErrProtocol))
		return
	case hsReplied:
	default:
		h.o.log.Debug("dropping duplicate ready", "ok", ready.OK)
		return
	}

	if !ready.OK {
		h.done <- hsResult{err: fmt.Errorf("embedded side failed to become ready: %s", ready.Error)}
		return
	}
	h.done <- hsResult{facade: facade}
}

func (h *host) fail(err error) {
	h.mu.Lock()
	h.state = hsFailed
	h.mu.Unlock()
	h.done <- hsResult{err: err}
}

// negotiatedEvents is the union of both sides' declared event types plus the
// built-in visibility event, preserving declaration order.
func negotiatedEvents(local, remote []string) []string {
	seen := map[string]bool{VisibilityEvent: true}
	out := []string{VisibilityEvent}
	for _, name := range append(append([]string{}, local...), remote...) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
