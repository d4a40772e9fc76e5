package core

import (
	"sync"

	"go.uber.org/zap"
)

// emitter is the "named signals with typed payloads and multi-subscriber
// fan-out" design note from spec §9, grounded on the teacher's
// gateway.Client.On/dispatchEvent (a map of subscriber id to handler, with
// each dispatch wrapped in its own recover). This package needs no generic
// emitter machinery — just the three signals the controller surface
// exposes.
type emitter struct {
	mu sync.RWMutex

	nextID int

	connected    map[int]func()
	disconnected map[int]func(error)
	event        map[int]func(Frame)

	logger *zap.Logger
}

func newEmitter(logger *zap.Logger) *emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &emitter{
		connected:    make(map[int]func()),
		disconnected: make(map[int]func(error)),
		event:        make(map[int]func(Frame)),
		logger:       logger,
	}
}

func (e *emitter) onConnected(fn func()) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.connected[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.connected, id)
		e.mu.Unlock()
	}
}

func (e *emitter) onDisconnected(fn func(error)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.disconnected[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.disconnected, id)
		e.mu.Unlock()
	}
}

func (e *emitter) onEvent(fn func(Frame)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.event[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.event, id)
		e.mu.Unlock()
	}
}

// dispatch runs fn, routing a panic to the logger instead of letting it
// cross back into the controller's call stack — the Go equivalent of the
// source runtime's captureRejections routing of async listener errors to
// the `error` signal (spec §9).
func (e *emitter) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("corebridge: listener panic", zap.Any("recover", r))
		}
	}()
	fn()
}

func (e *emitter) emitConnected() {
	e.mu.RLock()
	fns := make([]func(), 0, len(e.connected))
	for _, fn := range e.connected {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn := fn
		e.dispatch(func() { fn() })
	}
}

func (e *emitter) emitDisconnected(err error) {
	e.mu.RLock()
	fns := make([]func(error), 0, len(e.disconnected))
	for _, fn := range e.disconnected {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn := fn
		e.dispatch(func() { fn(err) })
	}
}

func (e *emitter) emitEvent(frame Frame) {
	e.mu.RLock()
	fns := make([]func(Frame), 0, len(e.event))
	for _, fn := range e.event {
		fns = append(fns, fn)
	}
	e.mu.RUnlock()
	for _, fn := range fns {
		fn := fn
		e.dispatch(func() { fn(frame) })
	}
}
