package inproc

import (
	"errors"
	"testing"

	"github.com/frameglue/glue/binding"
)

func TestDelivery(t *testing.T) {
	a, b := Pair("https://a.example", "https://b.example")

	t.Run("stamped with the sender's origin", func(t *testing.T) {
		if err := a.Post([]byte("hello"), "https://b.example"); err != nil {
			t.Fatalf("post: %v", err)
		}
		msg := <-b.Receive()
		if msg.Origin != "https://a.example" {
			t.Errorf("expected origin stamped by the transport, got %q", msg.Origin)
		}
		if string(msg.Data) != "hello" {
			t.Errorf("expected payload %q, got %q", "hello", msg.Data)
		}
	})

	t.Run("wildcard target always delivers", func(t *testing.T) {
		if err := a.Post([]byte("any"), binding.OriginAny); err != nil {
			t.Fatalf("post: %v", err)
		}
		if msg := <-b.Receive(); string(msg.Data) != "any" {
			t.Errorf("expected %q, got %q", "any", msg.Data)
		}
	})

	t.Run("mismatched target origin is discarded silently", func(t *testing.T) {
		if err := a.Post([]byte("lost"), "https://elsewhere.example"); err != nil {
			t.Fatalf("expected a silent discard, got %v", err)
		}
		select {
		case msg := <-b.Receive():
			t.Errorf("expected no delivery, got %q", msg.Data)
		default:
		}
	})

	t.Run("payload is copied", func(t *testing.T) {
		buf := []byte("before")
		if err := a.Post(buf, binding.OriginAny); err != nil {
			t.Fatalf("post: %v", err)
		}
		copy(buf, "mutated")
		if msg := <-b.Receive(); string(msg.Data) != "before" {
			t.Errorf("expected the delivered payload to be immune to reuse, got %q", msg.Data)
		}
	})
}

func TestClose(t *testing.T) {
	a, b := Pair("https://a.example", "https://b.example")

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := a.Post([]byte("x"), binding.OriginAny); !errors.Is(err, binding.ErrPortClosed) {
		t.Errorf("expected ErrPortClosed posting to a closed peer, got %v", err)
	}
	if _, ok := <-b.Receive(); ok {
		t.Error("expected the receive channel to be closed")
	}
}

func TestSentinelOriginEndpoint(t *testing.T) {
	host, sandboxed := Pair("https://host.example", binding.OriginNull)

	if err := sandboxed.Post([]byte("init"), "https://host.example"); err != nil {
		t.Fatalf("post: %v", err)
	}
	msg := <-host.Receive()
	if msg.Origin != binding.OriginNull {
		t.Errorf("expected the sentinel origin, got %q", msg.Origin)
	}

	// Replies addressed to the configured origin never reach an originless
	// peer; only the wildcard does.
	if err := host.Post([]byte("reply"), "https://guest.example"); err != nil {
		t.Fatalf("post: %v", err)
	}
	select {
	case <-sandboxed.Receive():
		t.Error("expected an origin-addressed reply to be discarded")
	default:
	}
	if err := host.Post([]byte("reply"), binding.OriginAny); err != nil {
		t.Fatalf("post: %v", err)
	}
	if msg := <-sandboxed.Receive(); string(msg.Data) != "reply" {
		t.Errorf("expected the wildcard reply, got %q", msg.Data)
	}
}
