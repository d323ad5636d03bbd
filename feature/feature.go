// Package feature implements the calls one side of a glue channel exposes to
// the other: a declared, immutable map from action name to handler, built
// once from caller options and consulted for every inbound call.
package feature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownAction is returned when a call names an action the local side
// never declared. Recoverable: it travels back to the remote caller as a
// failed callback rather than tearing anything down.
var ErrUnknownAction = errors.New("unknown action")

// ErrDuplicateAction is returned when building a map from specs that declare
// the same action name twice.
var ErrDuplicateAction = errors.New("duplicate action")

// Handler processes one inbound call. Args are the raw argument sequence as
// sent by the remote side; the returned value is marshaled into the callback
// reply.
type Handler func(ctx context.Context, args []json.RawMessage) (any, error)

// Spec describes one declared feature.
type Spec struct {
	Name    string
	Handler Handler
}

// New declares a feature with a raw handler. Use the typed constructors below
// when the argument shapes are known.
func New(name string, h Handler) Spec {
	return Spec{Name: name, Handler: h}
}

// Nullary declares a feature taking no arguments.
func Nullary[R any](name string, fn func(ctx context.Context) (R, error)) Spec {
	return Spec{Name: name, Handler: func(ctx context.Context, args []json.RawMessage) (any, error) {
		return fn(ctx)
	}}
}

// Unary declares a feature taking one typed argument.
func Unary[A, R any](name string, fn func(ctx context.Context, a A) (R, error)) Spec {
	return Spec{Name: name, Handler: func(ctx context.Context, args []json.RawMessage) (any, error) {
		var a A
		if err := decodeArg(args, 0, &a); err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}}
}

// Binary declares a feature taking two typed arguments.
func Binary[A, B, R any](name string, fn func(ctx context.Context, a A, b B) (R, error)) Spec {
	return Spec{Name: name, Handler: func(ctx context.Context, args []json.RawMessage) (any, error) {
		var a A
		var b B
		if err := decodeArg(args, 0, &a); err != nil {
			return nil, err
		}
		if err := decodeArg(args, 1, &b); err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}}
}

func decodeArg(args []json.RawMessage, i int, v any) error {
	if i >= len(args) {
		return fmt.Errorf("missing argument %d", i)
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return fmt.Errorf("decode argument %d: %w", i, err)
	}
	return nil
}

// Map is the immutable action-name → handler mapping for one binding.
type Map struct {
	handlers map[string]Handler
	names    []string
}

// Build assembles a Map from declared specs, rejecting duplicate names.
func Build(specs []Spec) (*Map, error) {
	m := &Map{handlers: make(map[string]Handler, len(specs))}
	for _, sp := range specs {
		if sp.Name == "" || sp.Handler == nil {
			return nil, fmt.Errorf("invalid feature spec %q", sp.Name)
		}
		if _, dup := m.handlers[sp.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAction, sp.Name)
		}
		m.handlers[sp.Name] = sp.Handler
		m.names = append(m.names, sp.Name)
	}
	return m, nil
}

// Names lists the declared action names in declaration order, for the
// handshake to advertise.
func (m *Map) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Invoke runs the named handler. A panicking handler is contained and
// reported as an error so it becomes a failure payload in the reply instead
// of reaching the transport layer.
func (m *Map) Invoke(ctx context.Context, action string, args []json.RawMessage) (v any, err error) {
	h, ok := m.handlers[action]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("feature %q panicked: %v", action, r)
		}
	}()
	return h(ctx, args)
}
