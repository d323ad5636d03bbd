package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/frameglue/glue/auth"
	"github.com/frameglue/glue/binding"
)

// Gateway upgrades HTTP requests into glue ports on the embedding side.
// With a validator configured, each connection must present a bearer token
// whose origin claim becomes the pinned remote origin of the resulting port.
type Gateway struct {
	upgrader     websocket.Upgrader
	log          binding.Logger
	validator    auth.Validator
	requireAuth  bool
	origin       string
	pingInterval time.Duration
	pingTimeout  time.Duration
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithAuth requires a valid bearer token on every upgrade and pins each
// port's remote origin from the token's origin claim.
func WithAuth(v auth.Validator) GatewayOption {
	return func(g *Gateway) {
		g.validator = v
		g.requireAuth = true
	}
}

// WithCheckOrigin sets the HTTP-level origin check of the upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) GatewayOption {
	return func(g *Gateway) { g.upgrader.CheckOrigin = fn }
}

// WithGatewayPing enables keepalive pings on every accepted port.
func WithGatewayPing(interval, timeout time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.pingInterval = interval
		g.pingTimeout = timeout
	}
}

// WithGatewayLogger sets the gateway's logger.
func WithGatewayLogger(l binding.Logger) GatewayOption {
	return func(g *Gateway) { g.log = l }
}

// NewGateway creates a gateway whose accepted ports declare the given local
// origin.
func NewGateway(origin string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		upgrader: websocket.Upgrader{EnableCompression: true},
		origin:   origin,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = binding.DefaultLogger(slog.LevelInfo)
	}
	return g
}

// Handler returns an http.HandlerFunc that upgrades each request and hands
// the resulting port to accept. accept runs on the request's goroutine and
// should either complete the handshake or take ownership of the port.
func (g *Gateway) Handler(accept func(p *Port, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var pinned string
		if g.requireAuth {
			tok, ok := auth.BearerFromRequest(r)
			if !ok {
				g.log.Warn("upgrade rejected, missing token", "remote", r.RemoteAddr)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			claims, err := g.validator.ParseAndValidate(tok)
			if err != nil {
				g.log.Warn("upgrade rejected, invalid token", "remote", r.RemoteAddr, "err", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			pinned = claims.Origin
		}

		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.log.Error("upgrade failed", "err", err)
			return
		}

		id := uuid.NewString()
		g.log.Info("connection accepted", "id", id, "remote", r.RemoteAddr, "origin", pinned)

		opts := []PortOption{WithPortLogger(g.log.With("conn", id))}
		if pinned != "" {
			opts = append(opts, WithPinnedRemoteOrigin(pinned))
		}
		if g.pingInterval > 0 {
			opts = append(opts, WithPing(g.pingInterval, g.pingTimeout))
		}
		accept(NewPort(conn, g.origin, opts...), r)
	}
}
