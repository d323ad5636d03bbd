// Package binding implements the transport layer of a glue channel: one
// Binding ties the local side to exactly one remote port and one expected
// origin, owns the inbound read loop, and turns the asynchronous message
// exchange into request/response semantics through a correlation-id registry.
package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/frameglue/glue/wire"
)

// ErrProtocol is the base class for protocol-usage errors: operations that
// violate the binding lifecycle rather than failing recoverably. Check with
// errors.Is(err, ErrProtocol).
var ErrProtocol = errors.New("protocol violation")

var (
	// ErrAlreadyAttached is returned by Attach on a binding that already has
	// a remote port.
	ErrAlreadyAttached = fmt.Errorf("%w: already attached", ErrProtocol)
	// ErrNotAttached is returned when sending without an attached port.
	ErrNotAttached = fmt.Errorf("%w: not attached", ErrProtocol)
	// ErrDestroyed is returned by every operation on a destroyed binding.
	// Destroyed is terminal.
	ErrDestroyed = fmt.Errorf("%w: binding destroyed", ErrProtocol)
)

// State is the lifecycle position of a binding.
type State int

const (
	// StateUnattached covers both a fresh binding and one whose port was
	// detached; Attach is permitted.
	StateUnattached State = iota
	// StateAttached means the binding owns a port and its read loop runs.
	StateAttached
	// StateDestroyed is terminal.
	StateDestroyed
)

// Handler consumes one validated inbound envelope. Handlers run on the read
// loop; anything that blocks (or replies and waits) must move to its own
// goroutine so later envelopes can interleave.
type Handler func(env wire.Envelope)

// Config carries the origin policy and logger for a binding.
type Config struct {
	// AllowedOrigins is the inbound allow-list. An entry of OriginAny (or an
	// empty list) accepts any origin. The sandbox sentinel OriginNull is
	// always accepted regardless of this list.
	AllowedOrigins []string

	// TargetOrigin addresses every outbound post. Defaults to OriginAny.
	// Permanently downgraded to OriginAny when the peer reports the sandbox
	// sentinel origin.
	TargetOrigin string

	Log Logger
}

// Binding ties the local context to one remote port. All registries it owns
// (pending calls, handlers) live and die with it.
type Binding struct {
	log Logger

	mu       sync.Mutex
	state    State
	port     Port
	stop     chan struct{}
	allowed  []string
	target   string
	nextSeq  uint64
	pending  map[string]*Pending
	handlers map[wire.Type]Handler
	fallback Handler
	failure  chan error
}

// New creates an unattached binding with the given origin policy.
func New(cfg Config) *Binding {
	log := cfg.Log
	if log == nil {
		log = DefaultLogger(slog.LevelInfo)
	}
	target := cfg.TargetOrigin
	if target == "" {
		target = OriginAny
	}
	allowed := cfg.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{OriginAny}
	}
	return &Binding{
		log:      log,
		allowed:  allowed,
		target:   target,
		pending:  make(map[string]*Pending),
		handlers: make(map[wire.Type]Handler),
		failure:  make(chan error, 1),
	}
}

// Handle registers the consumer for one envelope type. Callback envelopes
// are consumed by the binding itself and cannot be intercepted here.
func (b *Binding) Handle(typ wire.Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers != nil {
		b.handlers[typ] = h
	}
}

// HandleDefault registers the pass-through consumer for envelope types no
// Handle registration claims.
func (b *Binding) HandleDefault(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = h
}

// Attach binds the remote port and starts the inbound read loop. A binding
// accepts a port exactly once at a time: attaching over an existing port is
// a protocol-usage error. Detach first to swap ports.
func (b *Binding) Attach(p Port) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateDestroyed:
		return ErrDestroyed
	case StateAttached:
		return ErrAlreadyAttached
	}
	b.port = p
	b.state = StateAttached
	b.stop = make(chan struct{})
	go b.readLoop(p, b.stop)
	b.log.Debug("port attached")
	return nil
}

// Detach clears the remote port and stops its read loop without touching
// the pending-call or handler registries. The binding may be reattached.
func (b *Binding) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateDestroyed {
		return ErrDestroyed
	}
	if b.state != StateAttached {
		return nil
	}
	close(b.stop)
	b.port = nil
	b.state = StateUnattached
	b.log.Debug("port detached")
	return nil
}

// Destroy tears the binding down: the read loop stops, the port closes,
// every pending call fails with ErrDestroyed and the registries are cleared.
// Idempotent; the binding cannot be reused afterwards.
func (b *Binding) Destroy() error {
	return b.destroy(ErrDestroyed)
}

// Fail destroys the binding because of a fatal protocol condition (version
// incompatibility, double init). Pending calls and Failed() observers see
// the cause instead of plain ErrDestroyed.
func (b *Binding) Fail(cause error) {
	b.log.Error("binding failed", "err", cause)
	select {
	case b.failure <- cause:
	default:
	}
	_ = b.destroy(cause)
}

// Failed returns a channel that yields the cause when the binding fails
// fatally. Consumers waiting outside the pending registry (the handshake's
// ready wait) select on it.
func (b *Binding) Failed() <-chan error {
	return b.failure
}

func (b *Binding) destroy(cause error) error {
	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		return nil
	}
	if b.state == StateAttached {
		close(b.stop)
	}
	port := b.port
	orphaned := b.pending
	b.port = nil
	b.state = StateDestroyed
	b.pending = make(map[string]*Pending)
	b.handlers = nil
	b.fallback = nil
	b.mu.Unlock()

	for _, p := range orphaned {
		p.resolve(result{err: cause})
	}
	if port != nil {
		_ = port.Close()
	}
	b.log.Info("binding destroyed", "orphaned", len(orphaned))
	return nil
}

// State reports the current lifecycle position.
func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TargetOrigin reports the origin outbound posts are currently addressed
// to. Observably becomes OriginAny after the sandbox downgrade.
func (b *Binding) TargetOrigin() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

// PendingCount reports the number of outstanding correlated requests.
func (b *Binding) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Send posts an envelope of the given type with a freshly allocated
// correlation id and returns the Pending that its callback will resolve.
// Correlation ids are strictly increasing and never reused, even after a
// pending call resolves.
func (b *Binding) Send(typ wire.Type, payload any) (*Pending, error) {
	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		return nil, ErrDestroyed
	}
	if b.state != StateAttached {
		b.mu.Unlock()
		return nil, ErrNotAttached
	}
	b.nextSeq++
	cid := strconv.FormatUint(b.nextSeq, 10)
	p := &Pending{cid: cid, b: b, ch: make(chan result, 1)}
	b.pending[cid] = p
	port, target := b.port, b.target
	b.mu.Unlock()

	env, err := wire.New(typ, payload, cid)
	if err != nil {
		b.abandon(cid)
		return nil, err
	}
	raw, err := env.Encode()
	if err != nil {
		b.abandon(cid)
		return nil, err
	}
	if err := port.Post(raw, target); err != nil {
		b.abandon(cid)
		return nil, err
	}
	return p, nil
}

// Post sends a fire-and-forget envelope: replies (cid set) and the ready
// notification (cid empty). No pending record is created.
func (b *Binding) Post(typ wire.Type, payload any, cid string) error {
	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		return ErrDestroyed
	}
	if b.state != StateAttached {
		b.mu.Unlock()
		return ErrNotAttached
	}
	port, target := b.port, b.target
	b.mu.Unlock()

	env, err := wire.New(typ, payload, cid)
	if err != nil {
		return err
	}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	return port.Post(raw, target)
}

// Reply answers a correlated envelope with a success callback carrying the
// given value.
func (b *Binding) Reply(cid string, value any) error {
	var raw []byte
	if value != nil {
		var err error
		raw, err = wire.Marshal(value)
		if err != nil {
			return err
		}
	}
	return b.Post(wire.TypeCallback, wire.Callback{Value: raw}, cid)
}

// ReplyError answers a correlated envelope with a failure callback. The kind
// identifies the failure class to the remote call site.
func (b *Binding) ReplyError(cid, kind, message string) error {
	return b.Post(wire.TypeCallback, wire.Callback{
		Error:   true,
		Kind:    kind,
		Message: message,
	}, cid)
}

// abandon removes a pending record so that a late reply is dropped instead
// of resolved twice.
func (b *Binding) abandon(cid string) {
	b.mu.Lock()
	delete(b.pending, cid)
	b.mu.Unlock()
}

func (b *Binding) readLoop(port Port, stop <-chan struct{}) {
	for {
		select {
		case msg, ok := <-port.Receive():
			if !ok {
				return
			}
			// Detach and receive race; a stopped loop must not dispatch.
			select {
			case <-stop:
				return
			default:
			}
			b.dispatch(msg)
		case <-stop:
			return
		}
	}
}

// dispatch validates one inbound message and routes it. Validation order:
// origin (with the sandbox sentinel exception), then marker, version and
// type. Failures before the version check are silent drops since unrelated
// traffic on the transport is expected.
func (b *Binding) dispatch(msg Message) {
	if !b.admitOrigin(msg.Origin) {
		b.log.Debug("dropping message from unexpected origin", "origin", msg.Origin)
		return
	}

	env, err := wire.Parse(msg.Data)
	if err != nil {
		if errors.Is(err, wire.ErrVersionIncompatible) {
			b.Fail(err)
			return
		}
		b.log.Debug("dropping message", "err", err)
		return
	}

	if env.Type == wire.TypeCallback {
		b.resolveCallback(env)
		return
	}

	b.mu.Lock()
	h := b.handlers[env.Type]
	if h == nil {
		h = b.fallback
	}
	b.mu.Unlock()
	if h == nil {
		b.log.Debug("no handler for envelope type", "type", env.Type)
		return
	}
	h(env)
}

// admitOrigin applies the inbound origin policy. The sandbox sentinel is
// always admitted and triggers the one-time, one-directional downgrade of
// the outbound target origin to the wildcard.
func (b *Binding) admitOrigin(origin string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if origin == OriginNull {
		if b.target != OriginAny {
			b.log.Info("sandboxed peer, downgrading target origin to wildcard")
			b.target = OriginAny
		}
		return true
	}
	for _, a := range b.allowed {
		if a == OriginAny || a == origin {
			return true
		}
	}
	return false
}

func (b *Binding) resolveCallback(env wire.Envelope) {
	if env.CorrelationID == "" {
		b.Fail(fmt.Errorf("%w: callback without correlation id", ErrProtocol))
		return
	}
	b.mu.Lock()
	p, ok := b.pending[env.CorrelationID]
	delete(b.pending, env.CorrelationID)
	b.mu.Unlock()
	if !ok {
		// Late, duplicate or unknown id. Not an error: destroy and timeouts
		// race with in-flight replies.
		b.log.Debug("dropping callback with no pending call", "cid", env.CorrelationID)
		return
	}

	cb, err := wire.DecodeData[wire.Callback](env)
	if err != nil {
		p.resolve(result{err: err})
		return
	}
	if cb.Error {
		p.resolve(result{err: &wire.RemoteError{Kind: cb.Kind, Message: cb.Message}})
		return
	}
	p.resolve(result{value: cb.Value})
}
