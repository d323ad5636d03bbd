// Package events implements the event subsystem of a glue channel: a table
// of per-type listener lists over a declared event-type set agreed at
// handshake time.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownEvent is returned when dispatching or subscribing to an event
// type outside the declared set. Recoverable.
var ErrUnknownEvent = errors.New("unknown event")

// Listener consumes one dispatched event's argument sequence.
type Listener func(args []json.RawMessage)

type entry struct {
	id   string
	fn   Listener
	once bool
}

// Table holds the listener lists for one binding. The declared set is fixed
// at construction (handshake time); the lists are mutated by subscribe and
// unsubscribe for the life of the binding.
type Table struct {
	mu        sync.Mutex
	declared  map[string]bool
	listeners map[string][]entry
}

// NewTable builds a table over the negotiated event-type set.
func NewTable(declared []string) *Table {
	t := &Table{
		declared:  make(map[string]bool, len(declared)),
		listeners: make(map[string][]entry),
	}
	for _, name := range declared {
		t.declared[name] = true
	}
	return t
}

// Declared reports whether the event type was negotiated.
func (t *Table) Declared(event string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.declared[event]
}

// Names lists the declared event types.
func (t *Table) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.declared))
	for name := range t.declared {
		out = append(out, name)
	}
	return out
}

// Add appends a listener to the event type's list and returns its id, used
// for removal since Go functions are not comparable. A listener added with
// once is removed immediately before its first invocation.
func (t *Table) Add(event string, fn Listener, once bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.declared[event] {
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	id := uuid.NewString()
	t.listeners[event] = append(t.listeners[event], entry{id: id, fn: fn, once: once})
	return id, nil
}

// Remove drops the listener with the given id from the event type's list.
func (t *Table) Remove(event, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.listeners[event]
	for i, e := range list {
		if e.id == id {
			t.listeners[event] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Clear drops every listener for the event type.
func (t *Table) Clear(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, event)
}

// Reset drops every listener for every event type.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = make(map[string][]entry)
}

// Dispatch invokes the event type's listeners in registration order, removing
// once listeners before invocation. Fails with ErrUnknownEvent for a type
// outside the declared set.
func (t *Table) Dispatch(event string, args []json.RawMessage) error {
	t.mu.Lock()
	if !t.declared[event] {
		t.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	list := t.listeners[event]
	fns := make([]Listener, 0, len(list))
	kept := list[:0]
	for _, e := range list {
		fns = append(fns, e.fn)
		if !e.once {
			kept = append(kept, e)
		}
	}
	t.listeners[event] = kept
	t.mu.Unlock()

	for _, fn := range fns {
		fn(args)
	}
	return nil
}
