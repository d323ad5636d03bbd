package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/frameglue/glue"
	"github.com/frameglue/glue/auth"
	"github.com/frameglue/glue/binding"
	"github.com/frameglue/glue/feature"
)

const (
	hostOrigin  = "https://host.example"
	guestOrigin = "https://guest.example"
)

func wsURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestGlueOverWebSocket(t *testing.T) {
	gateway := NewGateway(hostOrigin)

	type embedResult struct {
		f   *glue.Facade
		err error
	}
	embedCh := make(chan embedResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.Handler(func(p *Port, r *http.Request) {
		f, err := glue.Embed(r.Context(), p, guestOrigin, glue.WithFeatures(
			feature.Unary("echo", func(ctx context.Context, v string) (string, error) { return v, nil }),
		))
		embedCh <- embedResult{f, err}
	}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	port, err := Dial(ctx, wsURL(t, srv), guestOrigin)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	guest, err := glue.Enable(ctx, port,
		glue.WithAllowedOrigins(hostOrigin),
		glue.WithTargetOrigin(hostOrigin),
		glue.WithTimeout(3*time.Second),
	)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	defer guest.Destroy()

	res := <-embedCh
	if res.err != nil {
		t.Fatalf("embed: %v", res.err)
	}
	defer res.f.Destroy()

	raw, err := guest.Call(ctx, "echo", "over the wire")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "over the wire" {
		t.Errorf("expected %q, got %q", "over the wire", got)
	}
}

func TestGatewayAuth(t *testing.T) {
	secret := []byte("test-secret")
	gateway := NewGateway(hostOrigin, WithAuth(&auth.HS256{Secret: secret}))

	accepted := make(chan *Port, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.Handler(func(p *Port, r *http.Request) {
		accepted <- p
	}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("missing token is rejected", func(t *testing.T) {
		if _, err := Dial(ctx, wsURL(t, srv), guestOrigin); err == nil {
			t.Error("expected the upgrade to be rejected without a token")
		}
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		if _, err := Dial(ctx, wsURL(t, srv), guestOrigin, WithBearer("garbage")); err == nil {
			t.Error("expected the upgrade to be rejected with a bad token")
		}
	})

	t.Run("token origin claim pins the remote origin", func(t *testing.T) {
		token, err := auth.CreateTokenHS256(secret, "guest-1", guestOrigin, time.Hour)
		if err != nil {
			t.Fatalf("create token: %v", err)
		}
		// The client declares a spoofed origin; the gateway must surface the
		// authenticated one instead.
		port, err := Dial(ctx, wsURL(t, srv), "https://spoof.example", WithBearer(token))
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer port.Close()

		if err := port.Post([]byte(`"hello"`), binding.OriginAny); err != nil {
			t.Fatalf("post: %v", err)
		}

		select {
		case gp := <-accepted:
			defer gp.Close()
			select {
			case msg := <-gp.Receive():
				if msg.Origin != guestOrigin {
					t.Errorf("expected pinned origin %q, got %q", guestOrigin, msg.Origin)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("gateway port never received the message")
			}
		case <-time.After(3 * time.Second):
			t.Fatal("gateway never accepted the connection")
		}
	})
}

func TestTargetFiltering(t *testing.T) {
	gateway := NewGateway(hostOrigin)

	accepted := make(chan *Port, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.Handler(func(p *Port, r *http.Request) {
		accepted <- p
	}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	port, err := Dial(ctx, wsURL(t, srv), guestOrigin)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer port.Close()

	gp := <-accepted
	defer gp.Close()

	// Addressed to a different origin: dropped by the receiving port.
	if err := gp.Post([]byte(`"lost"`), "https://elsewhere.example"); err != nil {
		t.Fatalf("post: %v", err)
	}
	// Addressed to the guest's origin: delivered.
	if err := gp.Post([]byte(`"kept"`), guestOrigin); err != nil {
		t.Fatalf("post: %v", err)
	}

	select {
	case msg := <-port.Receive():
		if string(msg.Data) != `"kept"` {
			t.Errorf("expected the misaddressed frame to be dropped, got %s", msg.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no frame delivered")
	}
}
