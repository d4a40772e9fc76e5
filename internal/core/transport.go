package core

import (
	"context"
	"time"
)

// Transport is the bidirectional framed channel capability ConnectionToCore
// consumes. Its implementation (socket I/O, TLS, framing) is deliberately
// external to this package per spec §1 — see internal/transport for the
// concrete websocket implementation.
type Transport interface {
	// Host identifies the remote endpoint, used in error messages.
	Host() string

	// IsConnected reports the transport's current connectivity flag.
	IsConnected() bool

	// SetConnected is both a setter and, on an actual state transition, the
	// trigger for the transport's own connected/disconnected signal. The
	// controller is the exclusive writer of this flag while a connection is
	// active (spec §6: "isConnected: mutable boolean; the controller both
	// reads and writes it").
	SetConnected(connected bool)

	// Connect performs link setup within the given timeout (0 means no
	// deadline beyond ctx).
	Connect(ctx context.Context, timeout time.Duration) error

	// Disconnect performs link teardown.
	Disconnect(ctx context.Context) error

	// Send enqueues one outbound request frame. A returned error indicates
	// a send failure.
	Send(ctx context.Context, frame Frame) error

	// OnMessage registers a handler for every inbound frame and returns an
	// unsubscribe function.
	OnMessage(fn func(Frame)) (unsubscribe func())

	// OnDisconnected registers a handler fired when the transport's
	// connectivity flag transitions to false, whether driven by the
	// controller (orderly teardown) or observed independently (abrupt
	// termination). Returns an unsubscribe function.
	OnDisconnected(fn func()) (unsubscribe func())
}
