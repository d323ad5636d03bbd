package glue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/frameglue/glue/binding"
	"github.com/frameglue/glue/events"
	"github.com/frameglue/glue/feature"
	"github.com/frameglue/glue/wire"
)

// VisibilityEvent is the built-in event type carrying visibility-state
// changes of the embedded content. It is part of every negotiated event set.
const VisibilityEvent = "glue.visibility"

// ErrHostOnly is returned when the embedded side attempts an operation
// reserved for the embedder, such as setting visibility.
var ErrHostOnly = errors.New("operation reserved for the embedding side")

// Facade is the negotiated channel handed to the consumer once the
// handshake completes. Its proxies and event methods are backed by the
// owning binding and fail once that binding is destroyed.
type Facade struct {
	b      *binding.Binding
	local  *feature.Map
	table  *events.Table
	remote map[string]bool
	host   bool
	log    binding.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	visible bool
}

// newFacade wires the call and event dispatchers into the binding. Both run
// inbound work on their own goroutines so a slow handler never stalls the
// read loop; correlation ids, not arrival order, match the replies.
func newFacade(b *binding.Binding, local *feature.Map, table *events.Table,
	remoteActions []string, visible, host bool, log binding.Logger) *Facade {

	ctx, cancel := context.WithCancel(context.Background())
	f := &Facade{
		b:       b,
		local:   local,
		table:   table,
		remote:  make(map[string]bool, len(remoteActions)),
		host:    host,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		visible: visible,
	}
	for _, name := range remoteActions {
		f.remote[name] = true
	}
	b.Handle(wire.TypeCall, f.handleCall)
	b.Handle(wire.TypeEvent, f.handleEvent)
	return f
}

// Remote lists the negotiated remote action names.
func (f *Facade) Remote() []string {
	out := make([]string, 0, len(f.remote))
	for name := range f.remote {
		out = append(out, name)
	}
	return out
}

// Call invokes a negotiated remote action and waits for its reply. Action
// names outside the negotiated set fail locally with ErrUnknownAction;
// remote failures surface as *wire.RemoteError.
func (f *Facade) Call(ctx context.Context, action string, args ...any) (json.RawMessage, error) {
	if !f.remote[action] {
		return nil, fmt.Errorf("%w: %q not negotiated", feature.ErrUnknownAction, action)
	}
	raw, err := wire.EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	p, err := f.b.Send(wire.TypeCall, wire.Call{Action: action, Args: raw})
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// AddEventListener subscribes to a negotiated event type and returns the
// listener id used for removal.
func (f *Facade) AddEventListener(event string, fn events.Listener) (string, error) {
	return f.table.Add(event, fn, false)
}

// AddEventListenerOnce subscribes a listener that is removed immediately
// before its first invocation.
func (f *Facade) AddEventListenerOnce(event string, fn events.Listener) (string, error) {
	return f.table.Add(event, fn, true)
}

// RemoveEventListener drops the listener with the given id.
func (f *Facade) RemoveEventListener(event, id string) {
	f.table.Remove(event, id)
}

// ClearEventListeners drops every listener for the event type.
func (f *Facade) ClearEventListeners(event string) {
	f.table.Clear(event)
}

// DispatchEvent sends an event to the remote side and waits for its empty
// acknowledgment. An event type outside the negotiated set fails with
// ErrUnknownEvent before anything is sent.
func (f *Facade) DispatchEvent(ctx context.Context, event string, args ...any) error {
	if !f.table.Declared(event) {
		return fmt.Errorf("%w: %q not negotiated", events.ErrUnknownEvent, event)
	}
	raw, err := wire.EncodeArgs(args)
	if err != nil {
		return err
	}
	p, err := f.b.Send(wire.TypeEvent, wire.Event{Event: event, Args: raw})
	if err != nil {
		return err
	}
	_, err = p.Wait(ctx)
	return err
}

// Visible reports the embedded content's current visibility state.
func (f *Facade) Visible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visible
}

// SetVisible updates the visibility state and notifies the embedded side
// through the built-in visibility event. Only the embedding side may set it;
// on the embedded facade the state is read-only.
func (f *Facade) SetVisible(ctx context.Context, visible bool) error {
	if !f.host {
		return fmt.Errorf("%w: visibility is set by the embedder", ErrHostOnly)
	}
	f.mu.Lock()
	f.visible = visible
	f.mu.Unlock()
	return f.DispatchEvent(ctx, VisibilityEvent, visible)
}

// Destroy tears down the owning binding. Idempotent; every facade operation
// afterwards fails with a protocol-usage error.
func (f *Facade) Destroy() error {
	f.cancel()
	f.table.Reset()
	return f.b.Destroy()
}

// handleCall resolves an inbound call against the local feature map and
// replies with the returned value or the failure, flagged by kind.
func (f *Facade) handleCall(env wire.Envelope) {
	if env.CorrelationID == "" {
		f.b.Fail(fmt.Errorf("%w: call without correlation id", binding.ErrProtocol))
		return
	}
	call, err := wire.DecodeData[wire.Call](env)
	if err != nil {
		f.log.Debug("dropping malformed call", "err", err)
		return
	}
	go func() {
		v, err := f.local.Invoke(f.ctx, call.Action, call.Args)
		if err != nil {
			kind := wire.KindHandlerError
			if errors.Is(err, feature.ErrUnknownAction) {
				kind = wire.KindUnknownAction
			}
			if rerr := f.b.ReplyError(env.CorrelationID, kind, err.Error()); rerr != nil {
				f.log.Debug("call error reply failed", "action", call.Action, "err", rerr)
			}
			return
		}
		if rerr := f.b.Reply(env.CorrelationID, v); rerr != nil {
			f.log.Debug("call reply failed", "action", call.Action, "err", rerr)
		}
	}()
}

// handleEvent invokes local listeners for an inbound event and acknowledges
// with an empty callback. The built-in visibility event updates the state
// field before user listeners run.
func (f *Facade) handleEvent(env wire.Envelope) {
	ev, err := wire.DecodeData[wire.Event](env)
	if err != nil {
		f.log.Debug("dropping malformed event", "err", err)
		return
	}
	go func() {
		if ev.Event == VisibilityEvent && len(ev.Args) > 0 {
			var visible bool
			if err := json.Unmarshal(ev.Args[0], &visible); err == nil {
				f.mu.Lock()
				f.visible = visible
				f.mu.Unlock()
			}
		}
		if err := f.table.Dispatch(ev.Event, ev.Args); err != nil {
			if env.CorrelationID != "" {
				_ = f.b.ReplyError(env.CorrelationID, wire.KindUnknownEvent, err.Error())
			}
			return
		}
		if env.CorrelationID != "" {
			_ = f.b.Reply(env.CorrelationID, nil)
		}
	}()
}
