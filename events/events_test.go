package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDispatchOrder(t *testing.T) {
	table := NewTable([]string{"saved"})

	var order []string
	if _, err := table.Add("saved", func(args []json.RawMessage) { order = append(order, "first") }, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := table.Add("saved", func(args []json.RawMessage) { order = append(order, "second") }, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := table.Dispatch("saved", nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("expected registration order [first second], got %v", order)
	}
}

func TestOnce(t *testing.T) {
	table := NewTable([]string{"saved"})

	count := 0
	if _, err := table.Add("saved", func(args []json.RawMessage) { count++ }, true); err != nil {
		t.Fatalf("add: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := table.Dispatch("saved", nil); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
	if count != 1 {
		t.Errorf("expected a once listener to run exactly once, ran %d times", count)
	}
}

func TestRemove(t *testing.T) {
	t.Run("by id", func(t *testing.T) {
		table := NewTable([]string{"saved"})
		count := 0
		id, err := table.Add("saved", func(args []json.RawMessage) { count++ }, false)
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		table.Remove("saved", id)
		if err := table.Dispatch("saved", nil); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if count != 0 {
			t.Errorf("expected removed listener not to run, ran %d times", count)
		}
	})

	t.Run("clear drops the whole list", func(t *testing.T) {
		table := NewTable([]string{"saved"})
		count := 0
		for i := 0; i < 3; i++ {
			if _, err := table.Add("saved", func(args []json.RawMessage) { count++ }, false); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
		table.Clear("saved")
		if err := table.Dispatch("saved", nil); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if count != 0 {
			t.Errorf("expected cleared listeners not to run, ran %d times", count)
		}
	})
}

func TestDeclaredSet(t *testing.T) {
	table := NewTable([]string{"saved"})

	t.Run("dispatching an undeclared type fails", func(t *testing.T) {
		if err := table.Dispatch("deleted", nil); !errors.Is(err, ErrUnknownEvent) {
			t.Errorf("expected ErrUnknownEvent, got %v", err)
		}
	})

	t.Run("subscribing to an undeclared type fails", func(t *testing.T) {
		if _, err := table.Add("deleted", func(args []json.RawMessage) {}, false); !errors.Is(err, ErrUnknownEvent) {
			t.Errorf("expected ErrUnknownEvent, got %v", err)
		}
	})
}

func TestArgsReachListeners(t *testing.T) {
	table := NewTable([]string{"saved"})
	var got string
	if _, err := table.Add("saved", func(args []json.RawMessage) {
		if len(args) > 0 {
			_ = json.Unmarshal(args[0], &got)
		}
	}, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := table.Dispatch("saved", []json.RawMessage{[]byte(`"doc-1"`)}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got != "doc-1" {
		t.Errorf("expected argument %q, got %q", "doc-1", got)
	}
}
