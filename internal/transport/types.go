// Package transport defines the narrow interface the core consumes from the
// external messaging channel. The real channel library stays behind this
// boundary; the core only needs connect/auth lifecycle signals, a
// registration lookup, and a text send.
package transport

import "context"

// Listener receives session lifecycle callbacks from an Adapter.
//
// Callbacks may arrive from adapter-owned goroutines; implementations must
// be safe for concurrent use. An adapter delivers callbacks one at a time
// per session.
type Listener interface {
	// QR reports a fresh pairing payload. The payload is opaque to the core
	// (typically a data-URL image on real channels).
	QR(payload string)
	Authenticated()
	Ready()
	AuthFailure(reason string)
	Disconnected(reason string)
	// Error reports a fatal channel fault outside the auth flow.
	Error(reason string)
}

// Adapter wraps one authenticated session on the external channel.
type Adapter interface {
	// Connect starts the session and begins delivering lifecycle callbacks
	// to l. It returns once the connection attempt is underway; readiness is
	// signaled through the listener.
	Connect(ctx context.Context, l Listener) error
	Stop(ctx context.Context) error

	// IsRegistered reports whether the normalized number can receive
	// messages on the channel.
	IsRegistered(ctx context.Context, number string) (bool, error)

	// SendText delivers text to a channel address (number plus channel
	// suffix). The returned error carries the channel's fault message.
	SendText(ctx context.Context, address string, text string) error
}
