package glue

import (
	"context"
	"log/slog"
	"time"

	"github.com/frameglue/glue/binding"
	"github.com/frameglue/glue/feature"
)

// Peer describes the remote side's declared surface, as presented to the
// negotiation hook before the handshake reply goes out.
type Peer struct {
	Features []string
	Events   []string
}

// Option configures an Embed or Enable call.
type Option func(*options)

type options struct {
	log            binding.Logger
	features       []feature.Spec
	events         []string
	timeout        time.Duration
	allowedOrigins []string
	targetOrigin   string
	visible        bool
	negotiate      func(ctx context.Context, peer Peer) error
	onReady        func(*Facade)
	initialAction  string
	initialArgs    []any
}

func applyOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = binding.DefaultLogger(slog.LevelInfo)
	}
	return o
}

// WithFeatures declares the actions this side exposes to the remote side.
func WithFeatures(specs ...feature.Spec) Option {
	return func(o *options) { o.features = append(o.features, specs...) }
}

// WithEvents declares the event types this side is willing to exchange. The
// negotiated set is the union of both sides' declarations plus the built-in
// visibility event.
func WithEvents(names ...string) Option {
	return func(o *options) { o.events = append(o.events, names...) }
}

// WithTimeout bounds how long Enable waits for the embedder's handshake
// reply. Zero (the default) waits indefinitely, subject to the caller's
// context. Ignored by Embed.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithAllowedOrigins sets the inbound origin allow-list for Enable. The
// sandbox sentinel origin is always accepted regardless of this list.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *options) { o.allowedOrigins = append(o.allowedOrigins, origins...) }
}

// WithTargetOrigin addresses Enable's outbound posts, the init in
// particular, to a specific embedder origin instead of the wildcard.
func WithTargetOrigin(origin string) Option {
	return func(o *options) { o.targetOrigin = origin }
}

// WithInitialVisibility sets the visibility value Embed reports to the
// embedded side in the handshake reply.
func WithInitialVisibility(visible bool) Option {
	return func(o *options) { o.visible = visible }
}

// WithNegotiationHook installs a pre-ready decision point on the Embed side.
// The hook sees the peer's declared surface; a non-nil error rejects the
// handshake and travels to the peer as a failed reply.
func WithNegotiationHook(fn func(ctx context.Context, peer Peer) error) Option {
	return func(o *options) { o.negotiate = fn }
}

// WithReadyHook runs fn with the facade once the handshake completes.
func WithReadyHook(fn func(*Facade)) Option {
	return func(o *options) { o.onReady = fn }
}

// WithInitialAction makes Enable invoke one negotiated remote action between
// receiving the handshake reply and reporting readiness. If the action
// fails, Enable fails and the failure is carried in the ready message.
func WithInitialAction(action string, args ...any) Option {
	return func(o *options) {
		o.initialAction = action
		o.initialArgs = args
	}
}

// WithLogger sets a custom logger implementation.
func WithLogger(l binding.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSlog sets an slog.Logger instance as the logger.
func WithSlog(l *slog.Logger) Option {
	return func(o *options) { o.log = binding.NewSlogLogger(l) }
}
