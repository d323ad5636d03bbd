// Package glue lets two mutually distrustful execution contexts, an
// embedding "host" and an embedded "guest" connected through an
// origin-restricted message channel, negotiate a capability set and then
// exchange request/response calls and acknowledged events.
//
// The host side calls Embed over a port to the guest; the guest calls Enable
// over its port to the host. Both block until the init/ready handshake
// completes and return a Facade exposing the negotiated remote actions, the
// event methods and teardown.
//
//	f, err := glue.Embed(ctx, port, "https://guest.example",
//		glue.WithFeatures(feature.Unary("echo", echo)),
//		glue.WithEvents("app.saved"),
//	)
//
// Transports implement binding.Port; port/inproc and port/ws ship with the
// module.
package glue
