// Package core implements the client-side RPC connection controller: the
// lifecycle state machine (ConnectionToCore) and the in-flight request
// table (PendingMessages) that multiplex request/response and
// server-initiated event traffic over a Transport to a remote Core
// service.
//
// Grounded on the teacher's internal/service/gateway package
// (client.go/registry.go/health.go): the same pending-request map, hello
// handshake, event dispatch, and structured-logging idioms, generalized to
// the fuller lifecycle (auto-connect, handshake hooks, idempotent
// disconnect, transport-termination handling) this controller's contract
// requires.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultConnectTimeout is used by the auto-connect path inside SendRequest,
// matching spec §4.2's documented default for Connect.
const DefaultConnectTimeout = 30 * time.Second

// HasActiveSessionsFunc reports whether the caller has outstanding work that
// should abort an in-flight explicit connect when a disconnect races it.
// Supplied at construction (dependency injection) rather than via
// subclassing, per spec §9.
type HasActiveSessionsFunc func() bool

// Hooks are the handshake bracketing procedures a caller may install.
// BeforeDisconnectFn must be idempotent: it can run once from an orderly
// Disconnect and again from the abrupt termination path (spec §4.2/§9).
type Hooks struct {
	AfterConnectFn     func(ctx context.Context, conn *ConnectionToCore) error
	BeforeDisconnectFn func(ctx context.Context, conn *ConnectionToCore) error
}

// Options configures a new ConnectionToCore.
type Options struct {
	Logger            *zap.Logger
	HasActiveSessions HasActiveSessionsFunc
	Hooks             Hooks
}

// ConnectionToCore is the lifecycle state machine described in spec §4.2.
// All exported methods are safe for concurrent use; state transitions are
// guarded by mu, and each connection "generation" is delimited by
// connectFuture/disconnectFuture (spec §3).
type ConnectionToCore struct {
	transport Transport
	pending   *PendingMessages
	logger    *zap.Logger
	emitter   *emitter

	hasActiveSessions HasActiveSessionsFunc
	hooks             Hooks

	mu sync.Mutex

	connectFuture    *future
	disconnectFuture *future

	// isConnectionTerminated latches onConnectionTerminated's body to at
	// most one run per connection generation. It is cleared back to false
	// at the start of each new generation (Connect's first-call branch),
	// alongside connectFuture/disconnectFuture, so a reused controller
	// observes abrupt termination again on its next generation.
	isConnectionTerminated bool

	isSendingConnect    bool
	isSendingDisconnect bool

	connectMessageID    string
	disconnectMessageID string

	didAutoConnect bool

	connectStartTime    time.Time
	disconnectStartTime time.Time
	disconnectError     error

	unsubMessage      func()
	unsubDisconnected func()
}

// New creates a controller bound to transport. The controller subscribes to
// the transport's message/disconnected signals immediately so abrupt
// termination is observed even before the first Connect call.
func New(transport Transport, opts Options) *ConnectionToCore {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hasActiveSessions := opts.HasActiveSessions
	if hasActiveSessions == nil {
		hasActiveSessions = func() bool { return false }
	}

	c := &ConnectionToCore{
		transport:         transport,
		pending:           NewPendingMessages(logger, transport.Host()),
		logger:            logger,
		emitter:           newEmitter(logger),
		hasActiveSessions: hasActiveSessions,
		hooks:             opts.Hooks,
	}

	c.unsubMessage = transport.OnMessage(c.OnMessage)
	c.unsubDisconnected = transport.OnDisconnected(c.onConnectionTerminated)

	return c
}

// OnConnected subscribes to the connected signal and returns an unsubscribe
// function.
func (c *ConnectionToCore) OnConnected(fn func()) func() { return c.emitter.onConnected(fn) }

// OnDisconnected subscribes to the disconnected signal (payload: error or
// nil) and returns an unsubscribe function.
func (c *ConnectionToCore) OnDisconnected(fn func(error)) func() { return c.emitter.onDisconnected(fn) }

// OnEvent subscribes to the event signal and returns an unsubscribe
// function.
func (c *ConnectionToCore) OnEvent(fn func(Frame)) func() { return c.emitter.onEvent(fn) }

// Host returns the bound transport's host identifier.
func (c *ConnectionToCore) Host() string { return c.transport.Host() }

// Connect establishes the logical connection. Idempotent: a call after the
// first in-flight or resolved connect returns the same future's outcome.
func (c *ConnectionToCore) Connect(ctx context.Context, isAutoConnect bool, timeout time.Duration) error {
	c.mu.Lock()
	first := c.connectFuture == nil
	if first {
		c.connectFuture = newFuture()
		c.connectStartTime = time.Now()
		c.didAutoConnect = isAutoConnect
		// A fresh generation starts here: the previous generation's
		// teardown latch, disconnect future, and recorded fatal error (if
		// any) no longer apply.
		c.isConnectionTerminated = false
		c.disconnectFuture = nil
		c.disconnectError = nil
	}
	fut := c.connectFuture
	c.mu.Unlock()

	if !first {
		return fut.wait(ctx)
	}

	err := c.doConnect(ctx, isAutoConnect, timeout)
	fut.settle(err)
	return err
}

func (c *ConnectionToCore) doConnect(ctx context.Context, isAutoConnect bool, timeout time.Duration) error {
	host := c.transport.Host()

	if err := c.transport.Connect(ctx, timeout); err != nil {
		return fmt.Errorf("corebridge: connect %s: %w", host, err)
	}

	c.mu.Lock()
	disconnecting := c.disconnectFuture != nil
	c.mu.Unlock()
	if disconnecting && c.hasActiveSessions() && !isAutoConnect {
		return newDisconnectedError(host, fmt.Errorf("disconnect initiated during connect with active sessions"))
	}

	c.mu.Lock()
	fut := c.connectFuture
	c.mu.Unlock()

	if fut != nil && !fut.isSettled() {
		if c.hooks.AfterConnectFn != nil {
			c.mu.Lock()
			c.isSendingConnect = true
			c.mu.Unlock()

			hookErr := c.hooks.AfterConnectFn(ctx, c)

			c.mu.Lock()
			c.isSendingConnect = false
			c.mu.Unlock()

			if hookErr != nil {
				return newHookFailureError(host, hookErr)
			}
		}
	}

	c.transport.SetConnected(true)
	c.emitter.emitConnected()
	return nil
}

// Disconnect performs orderly teardown. Idempotent: re-entry returns the
// existing disconnect future's outcome.
func (c *ConnectionToCore) Disconnect(ctx context.Context, fatalErr error) error {
	c.mu.Lock()
	existing := c.disconnectFuture
	if existing != nil {
		c.mu.Unlock()
		return existing.wait(ctx)
	}
	fut := newFuture()
	c.disconnectFuture = fut
	c.disconnectStartTime = time.Now()
	c.disconnectError = fatalErr
	c.mu.Unlock()

	err := c.doDisconnect(ctx, fatalErr)
	fut.settle(err)
	return err
}

func (c *ConnectionToCore) doDisconnect(ctx context.Context, fatalErr error) (retErr error) {
	host := c.transport.Host()

	// Cancel before the hook runs so beforeDisconnectFn observes an empty
	// queue of user requests (spec §4.2/§5).
	c.pending.Cancel(host, fatalErr)

	var hookFailure error
	if c.hooks.BeforeDisconnectFn != nil {
		c.mu.Lock()
		c.isSendingDisconnect = true
		c.mu.Unlock()

		if hookErr := c.hooks.BeforeDisconnectFn(ctx, c); hookErr != nil {
			c.logger.Warn("corebridge: beforeDisconnectFn failed", zap.Error(hookErr))
			hookFailure = newHookFailureError(host, hookErr)
		}

		c.mu.Lock()
		c.isSendingDisconnect = false
		c.mu.Unlock()
	}

	defer func() {
		// Mark the transport disconnected in the unwind phase so teardown
		// is observably complete even if Disconnect itself threw — this is
		// the "always signal" decision recorded in SPEC_FULL.md for
		// spec §9's open question. Flipping the flag triggers
		// onConnectionTerminated via the transport's disconnected signal,
		// which is therefore the single place the controller's own
		// `disconnected` signal is emitted.
		c.transport.SetConnected(false)

		c.mu.Lock()
		c.connectFuture = nil
		c.mu.Unlock()
	}()

	retErr = c.transport.Disconnect(ctx)
	if retErr == nil {
		retErr = hookFailure
	}
	return retErr
}

// SendRequest enqueues an RPC call and waits for its response, per spec
// §4.2.
func (c *ConnectionToCore) SendRequest(ctx context.Context, command string, args any, timeout time.Duration) (json.RawMessage, error) {
	c.mu.Lock()
	isConnect := c.isSendingConnect
	isDisconnect := c.isSendingDisconnect
	c.mu.Unlock()

	if !isConnect && !isDisconnect {
		if err := c.Connect(ctx, true, DefaultConnectTimeout); err != nil {
			return nil, err
		}
	}

	isInternal := isConnect || isDisconnect
	id, resultCh := c.pending.Create(timeout, isInternal)

	if isInternal {
		c.mu.Lock()
		if isConnect {
			c.connectMessageID = id
		}
		if isDisconnect {
			c.disconnectMessageID = id
		}
		c.mu.Unlock()

		defer func() {
			c.mu.Lock()
			if isConnect && c.connectMessageID == id {
				c.connectMessageID = ""
			}
			if isDisconnect && c.disconnectMessageID == id {
				c.disconnectMessageID = ""
			}
			c.mu.Unlock()
		}()
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		c.pending.Delete(id)
		return nil, fmt.Errorf("corebridge: marshal args: %w", err)
	}

	frame := Frame{
		MessageID: id,
		Command:   command,
		Args:      argsJSON,
		SendTime:  time.Now().UnixMilli(),
	}

	sendDone := make(chan error, 1)
	go func() { sendDone <- c.transport.Send(ctx, frame) }()

	data, waitErr := c.raceSendAndResponse(ctx, id, resultCh, sendDone)

	if waitErr != nil {
		c.mu.Lock()
		disconnecting := c.disconnectFuture != nil
		c.mu.Unlock()

		if disconnecting && isCancelledKind(waitErr) {
			// The caller's request was superseded by teardown; surfacing
			// the cancellation adds no value (spec §4.2 step 5).
			return json.RawMessage(nil), nil
		}
		return nil, waitErr
	}
	return data, nil
}

// raceSendAndResponse implements spec §4.2's "concurrently await the
// pending entry's promise and transport.send": whichever settles first
// wins, except a send success alone never completes the call — only a
// send error or a response/rejection does.
func (c *ConnectionToCore) raceSendAndResponse(ctx context.Context, id string, resultCh <-chan pendingResult, sendDone <-chan error) (json.RawMessage, error) {
	select {
	case res := <-resultCh:
		return res.data, res.err
	case sendErr := <-sendDone:
		if sendErr != nil {
			c.pending.Delete(id)
			return nil, newTransportSendError(c.transport.Host(), sendErr)
		}
		// Send succeeded; the response (or its timeout) still decides.
		select {
		case res := <-resultCh:
			return res.data, res.err
		case <-ctx.Done():
			c.pending.Delete(id)
			return nil, ctx.Err()
		}
	case <-ctx.Done():
		c.pending.Delete(id)
		return nil, ctx.Err()
	}
}

func isCancelledKind(err error) bool {
	ce, ok := AsCoreError(err)
	return ok && ce.Kind == KindCancelled
}

// OnMessage is the sole inbound dispatch point, branching on frame tag per
// spec §4.2.
func (c *ConnectionToCore) OnMessage(frame Frame) {
	switch {
	case frame.IsResponse():
		c.onResponse(frame)
	case frame.IsEvent():
		c.onEvent(frame)
	default:
		// No recognized tag: drop.
	}
}

func (c *ConnectionToCore) onResponse(frame Frame) {
	if frame.Error == nil {
		c.pending.Resolve(frame.ResponseID, frame.Data)
		return
	}

	host := c.transport.Host()
	we := frame.Error
	scrubbed := we.scrub()

	c.mu.Lock()
	disconnecting := c.disconnectFuture != nil
	c.mu.Unlock()

	disconnectAdjacent := disconnecting || we.Name == sessionClosedOrMissingName || we.IsDisconnecting

	var finalErr error = scrubbed
	if disconnectAdjacent && !isBrowserLaunchKind(we.Name) {
		finalErr = newDisconnectedError(host, scrubbed)
	}
	c.pending.Reject(frame.ResponseID, finalErr)
}

func (c *ConnectionToCore) onEvent(frame Frame) {
	c.emitter.emitEvent(frame)
}

// onConnectionTerminated is the transport-level disconnected observer.
// Guarded so its body runs at most once per connection generation,
// regardless of whether it fires because of an abrupt transport death or
// because the orderly Disconnect path flipped the transport's connected
// flag to false. The guard is a plain mutex-checked flag rather than a
// sync.Once: Connect's first-call branch clears it when a new generation
// begins, so a reused controller observes abrupt termination again on its
// next generation (spec §5's "the transport may be cancelled externally;
// this surfaces as a transport-level disconnected" applies per generation,
// not once for the controller's whole lifetime).
func (c *ConnectionToCore) onConnectionTerminated() {
	host := c.transport.Host()

	c.mu.Lock()
	if c.isConnectionTerminated {
		c.mu.Unlock()
		return
	}
	c.isConnectionTerminated = true
	connMsgID := c.connectMessageID
	discMsgID := c.disconnectMessageID
	didAuto := c.didAutoConnect
	disconnectErr := c.disconnectError
	c.mu.Unlock()

	c.emitter.emitDisconnected(disconnectErr)

	if connMsgID != "" {
		if didAuto {
			c.pending.Resolve(connMsgID, nil)
		} else {
			c.pending.Reject(connMsgID, newDisconnectedError(host, nil))
		}
	}
	if discMsgID != "" {
		c.pending.Resolve(discMsgID, nil)
	}

	c.pending.Cancel(host, disconnectErr)

	if c.hooks.BeforeDisconnectFn != nil {
		c.mu.Lock()
		c.isSendingDisconnect = true
		c.mu.Unlock()

		if err := c.hooks.BeforeDisconnectFn(context.Background(), c); err != nil {
			c.logger.Warn("corebridge: beforeDisconnectFn failed during termination", zap.Error(err))
		}

		c.mu.Lock()
		c.isSendingDisconnect = false
		c.mu.Unlock()
	}
}
