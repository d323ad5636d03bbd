package glue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/frameglue/glue/binding"
	"github.com/frameglue/glue/events"
	"github.com/frameglue/glue/feature"
	"github.com/frameglue/glue/wire"
)

// ErrHandshakeTimeout is returned by Enable when the embedder's handshake
// reply does not arrive within the configured timeout. A reply arriving
// afterwards is discarded.
var ErrHandshakeTimeout = errors.New("handshake timed out")

// Enable joins an existing glue channel from the embedded side. It posts the
// init carrying the declared surface, waits for the embedder's reply under
// the WithTimeout bound (zero waits indefinitely, subject to ctx), builds
// the negotiated remote API, optionally performs the configured initial
// action, then reports ready and returns the facade.
func Enable(ctx context.Context, port binding.Port, opts ...Option) (*Facade, error) {
	o := applyOptions(opts)
	fm, err := feature.Build(o.features)
	if err != nil {
		return nil, err
	}

	b := binding.New(binding.Config{
		AllowedOrigins: o.allowedOrigins,
		TargetOrigin:   o.targetOrigin,
		Log:            o.log,
	})
	b.HandleDefault(func(env wire.Envelope) {
		o.log.Debug("passing through unrecognized envelope", "type", env.Type)
	})
	if err := b.Attach(port); err != nil {
		return nil, err
	}

	pending, err := b.Send(wire.TypeInit, wire.Init{
		Features: fm.Names(),
		Events:   o.events,
	})
	if err != nil {
		_ = b.Destroy()
		return nil, err
	}

	reply, err := awaitInitReply(ctx, pending, o.timeout)
	if err != nil {
		_ = b.Destroy()
		return nil, err
	}

	table := events.NewTable(negotiatedEvents(o.events, reply.Events))
	facade := newFacade(b, fm, table, reply.Features, reply.Visible, false, o.log)

	if o.initialAction != "" {
		if _, err := facade.Call(ctx, o.initialAction, o.initialArgs...); err != nil {
			ferr := fmt.Errorf("initial action %q: %w", o.initialAction, err)
			_ = b.Post(wire.TypeReady, wire.Ready{OK: false, Error: ferr.Error()}, "")
			_ = facade.Destroy()
			return nil, ferr
		}
	}

	if err := b.Post(wire.TypeReady, wire.Ready{OK: true}, ""); err != nil {
		_ = facade.Destroy()
		return nil, err
	}
	if o.onReady != nil {
		o.onReady(facade)
	}
	return facade, nil
}

// awaitInitReply waits for the handshake reply. Expiry abandons the pending
// record, so a legitimate-but-late reply is dropped rather than resolving a
// handshake that already failed.
func awaitInitReply(ctx context.Context, pending *binding.Pending, timeout time.Duration) (wire.InitReply, error) {
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	raw, err := pending.Wait(wctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return wire.InitReply{}, fmt.Errorf("%w after %s", ErrHandshakeTimeout, timeout)
		}
		return wire.InitReply{}, err
	}

	var reply wire.InitReply
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reply); err != nil {
			return wire.InitReply{}, fmt.Errorf("%w: init reply: %v", wire.ErrMalformed, err)
		}
	}
	return reply, nil
}
