// Package ws binds a glue channel to a WebSocket connection. Each frame
// wraps one envelope with the sender's declared origin and the target origin
// it is addressed to; frames addressed elsewhere are discarded on receipt,
// mirroring the origin filtering of the in-process messaging primitive.
//
// On the server side the Gateway authenticates connections and pins the
// remote origin from the token's origin claim, so a peer cannot spoof an
// origin it was never entitled to.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/frameglue/glue/binding"
)

// ErrSendBufferFull is returned when a port's send buffer is at capacity.
var ErrSendBufferFull = errors.New("ws port send buffer full")

const sendBuffer = 128

// frame is the on-the-wire wrapper around one glue envelope.
type frame struct {
	Origin string          `json:"origin"`
	Target string          `json:"target"`
	Data   json.RawMessage `json:"data"`
}

// Port implements binding.Port over a WebSocket connection.
type Port struct {
	conn        *websocket.Conn
	localOrigin string
	// pinnedRemote, when set, overrides the origin peers claim on their
	// frames. The gateway sets it from the authenticated token so the
	// binding's origin checks rest on something verified.
	pinnedRemote string

	log binding.Logger

	in        chan binding.Message
	sendCh    chan []byte
	closeOnce sync.Once
	done      chan struct{}

	pingInterval time.Duration
	pingTimeout  time.Duration
}

// PortOption configures a Port.
type PortOption func(*Port)

// WithPinnedRemoteOrigin forces every inbound message to carry the given
// origin regardless of what the peer's frames claim.
func WithPinnedRemoteOrigin(origin string) PortOption {
	return func(p *Port) { p.pinnedRemote = origin }
}

// WithPing enables keepalive pings on the write pump.
func WithPing(interval, timeout time.Duration) PortOption {
	return func(p *Port) {
		p.pingInterval = interval
		p.pingTimeout = timeout
	}
}

// WithPortLogger sets the port's logger.
func WithPortLogger(l binding.Logger) PortOption {
	return func(p *Port) { p.log = l }
}

// NewPort wraps an established WebSocket connection in a binding.Port.
// localOrigin is stamped on every outbound frame and matched against the
// target origin of inbound frames.
func NewPort(conn *websocket.Conn, localOrigin string, opts ...PortOption) *Port {
	p := &Port{
		conn:        conn,
		localOrigin: localOrigin,
		in:          make(chan binding.Message, sendBuffer),
		sendCh:      make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = binding.DefaultLogger(slog.LevelInfo)
	}
	go p.readLoop()
	go p.writePump()
	return p
}

// DialOption configures Dial.
type DialOption func(*dialConfig)

type dialConfig struct {
	token    string
	header   http.Header
	portOpts []PortOption
	wsDialer *websocket.Dialer
}

// WithBearer sends the given token in the Authorization header of the
// upgrade request.
func WithBearer(token string) DialOption {
	return func(c *dialConfig) { c.token = token }
}

// WithHeader adds headers to the upgrade request.
func WithHeader(h http.Header) DialOption {
	return func(c *dialConfig) { c.header = h }
}

// WithDialPortOptions forwards options to the Port built from the dialed
// connection.
func WithDialPortOptions(opts ...PortOption) DialOption {
	return func(c *dialConfig) { c.portOpts = append(c.portOpts, opts...) }
}

// Dial connects to a gateway and returns a Port declaring localOrigin.
func Dial(ctx context.Context, url, localOrigin string, opts ...DialOption) (*Port, error) {
	cfg := &dialConfig{header: http.Header{}, wsDialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.token != "" {
		cfg.header.Set("Authorization", "Bearer "+cfg.token)
	}
	conn, resp, err := cfg.wsDialer.DialContext(ctx, url, cfg.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewPort(conn, localOrigin, cfg.portOpts...), nil
}

// Post wraps the envelope in a frame addressed to targetOrigin and queues it
// on the write pump.
func (p *Port) Post(data []byte, targetOrigin string) error {
	select {
	case <-p.done:
		return binding.ErrPortClosed
	default:
	}
	b, err := json.Marshal(frame{Origin: p.localOrigin, Target: targetOrigin, Data: data})
	if err != nil {
		return err
	}
	select {
	case p.sendCh <- b:
		return nil
	case <-p.done:
		return binding.ErrPortClosed
	default:
		return ErrSendBufferFull
	}
}

// Receive returns the inbound message channel. Closed when the port closes.
func (p *Port) Receive() <-chan binding.Message { return p.in }

// Done returns a channel closed when the port shuts down, whether by Close
// or by the connection dropping.
func (p *Port) Done() <-chan struct{} { return p.done }

// Close shuts the port down. Safe to call multiple times.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
	return nil
}

func (p *Port) readLoop() {
	defer func() {
		close(p.in)
		_ = p.Close()
	}()
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if !isNormalDisconnect(err) {
				p.log.Error("ws read error", "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			p.log.Debug("dropping unparseable frame", "err", err)
			continue
		}
		if f.Target != binding.OriginAny && f.Target != p.localOrigin {
			p.log.Debug("dropping frame addressed elsewhere", "target", f.Target)
			continue
		}
		origin := f.Origin
		if p.pinnedRemote != "" {
			origin = p.pinnedRemote
		}
		select {
		case p.in <- binding.Message{Origin: origin, Data: f.Data}:
		case <-p.done:
			return
		}
	}
}

// writePump drains the send channel onto the connection, interleaving
// keepalive pings when configured.
func (p *Port) writePump() {
	var ping <-chan time.Time
	if p.pingInterval > 0 {
		t := time.NewTicker(p.pingInterval)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case msg := <-p.sendCh:
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = p.Close()
				return
			}
		case <-ping:
			timeout := p.pingTimeout
			if timeout <= 0 {
				timeout = 5 * time.Second
			}
			_ = p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
		case <-p.done:
			_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// isNormalDisconnect checks if an error represents a normal WebSocket
// disconnection that doesn't require error logging.
func isNormalDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne *net.OpError
	return errors.As(err, &ne)
}
