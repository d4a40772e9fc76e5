// Package transport provides the concrete Transport implementation
// ConnectionToCore talks through: a single persistent WebSocket connection
// to a remote Core endpoint.
//
// Grounded on the teacher's internal/service/gateway/client.go: the same
// gorilla/websocket dialer setup, serialized-write mutex, and read-loop
// dispatch, trimmed of the handshake/reconnect/tick-watch concerns that now
// live one layer up in internal/core (ConnectionToCore owns the handshake
// via AfterConnectFn; reconnect and liveness watching are explicitly out of
// scope per the distilled specification).
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/szsip239/corebridge/internal/core"
)

// WebSocket is a core.Transport backed by a single gorilla/websocket
// connection. It does not itself retry or reconnect — that policy belongs
// to whatever owns the ConnectionToCore that wraps it.
type WebSocket struct {
	url    string
	host   string
	header http.Header
	logger *zap.Logger

	mu        sync.RWMutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool

	messageMu  sync.RWMutex
	nextSubID  int
	onMessage  map[int]func(core.Frame)
	onDisconn  map[int]func()
}

// New creates a disconnected WebSocket transport bound to url. header is
// sent with the dial (e.g. the Origin header the teacher's gateway
// requires); it may be nil.
func New(url string, header http.Header, logger *zap.Logger) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	if header == nil {
		header = http.Header{}
	}
	return &WebSocket{
		url:       url,
		host:      url,
		header:    header,
		logger:    logger,
		onMessage: make(map[int]func(core.Frame)),
		onDisconn: make(map[int]func()),
	}
}

// Host implements core.Transport.
func (w *WebSocket) Host() string { return w.host }

// IsConnected implements core.Transport.
func (w *WebSocket) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// SetConnected implements core.Transport. Flipping to false fires the
// disconnected signal exactly once for that transition; flipping to true
// is silent (ConnectionToCore emits its own connected signal once its
// handshake hook succeeds).
func (w *WebSocket) SetConnected(connected bool) {
	w.mu.Lock()
	was := w.connected
	w.connected = connected
	w.mu.Unlock()

	if was && !connected {
		w.emitDisconnected()
	}
}

// Connect implements core.Transport by dialing the endpoint. timeout bounds
// the handshake; 0 defers entirely to ctx.
func (w *WebSocket) Connect(ctx context.Context, timeout time.Duration) error {
	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	origin := strings.NewReplacer("ws://", "http://", "wss://", "https://").Replace(w.url)
	header := http.Header{}
	for k, v := range w.header {
		header[k] = v
	}
	if header.Get("Origin") == "" {
		header.Set("Origin", origin)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(dialCtx, w.url, header)
	if err != nil {
		return fmt.Errorf("corebridge/transport: dial %s: %w", w.url, err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	go w.readLoop(conn)
	return nil
}

// Disconnect implements core.Transport by closing the underlying socket.
func (w *WebSocket) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}

// Send implements core.Transport. Writes are serialized: gorilla/websocket
// connections may not be written to concurrently.
func (w *WebSocket) Send(ctx context.Context, frame core.Frame) error {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("corebridge/transport: send on closed connection to %s", w.host)
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	return conn.WriteJSON(frame)
}

// OnMessage implements core.Transport.
func (w *WebSocket) OnMessage(fn func(core.Frame)) func() {
	w.messageMu.Lock()
	id := w.nextSubID
	w.nextSubID++
	w.onMessage[id] = fn
	w.messageMu.Unlock()
	return func() {
		w.messageMu.Lock()
		delete(w.onMessage, id)
		w.messageMu.Unlock()
	}
}

// OnDisconnected implements core.Transport.
func (w *WebSocket) OnDisconnected(fn func()) func() {
	w.messageMu.Lock()
	id := w.nextSubID
	w.nextSubID++
	w.onDisconn[id] = fn
	w.messageMu.Unlock()
	return func() {
		w.messageMu.Lock()
		delete(w.onDisconn, id)
		w.messageMu.Unlock()
	}
}

func (w *WebSocket) emitDisconnected() {
	w.messageMu.RLock()
	fns := make([]func(), 0, len(w.onDisconn))
	for _, fn := range w.onDisconn {
		fns = append(fns, fn)
	}
	w.messageMu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (w *WebSocket) dispatch(frame core.Frame) {
	w.messageMu.RLock()
	fns := make([]func(core.Frame), 0, len(w.onMessage))
	for _, fn := range w.onMessage {
		fns = append(fns, fn)
	}
	w.messageMu.RUnlock()
	for _, fn := range fns {
		fn(frame)
	}
}

// readLoop reads frames until the socket errors or closes, then marks the
// transport disconnected. Grounded on the teacher's Client.readLoop, minus
// the handshake interception and reconnect scheduling that now live above
// this package.
func (w *WebSocket) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		w.SetConnected(false)
	}()

	for {
		var frame core.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			w.logger.Debug("corebridge/transport: read loop exiting", zap.String("host", w.host), zap.Error(err))
			return
		}
		w.dispatch(frame)
	}
}
