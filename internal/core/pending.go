package core

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// pendingResult is what a pending entry's completion channel delivers:
// either a payload or an error, never both.
type pendingResult struct {
	data json.RawMessage
	err  error
}

// pendingEntry is one in-flight request record, per spec §3.
type pendingEntry struct {
	id         string
	isInternal bool
	ch         chan pendingResult
	once       sync.Once
	timer      *time.Timer
}

func (e *pendingEntry) settle(res pendingResult) {
	e.once.Do(func() {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.ch <- res
	})
}

// PendingMessages is the table of outstanding requests keyed by message id.
// Grounded on the teacher's gateway.Client pending map (client.go's
// `pending map[string]*pendingRequest`), generalized to the timeout +
// internal-flag + mass-cancel contract spec §4.1 requires.
type PendingMessages struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	counter uint64
	logger  *zap.Logger
	host    string
}

// NewPendingMessages creates an empty table. logger may be nil. host is
// carried only for error context (timeout errors name the transport host).
func NewPendingMessages(logger *zap.Logger, host string) *PendingMessages {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingMessages{
		entries: make(map[string]*pendingEntry),
		logger:  logger,
		host:    host,
	}
}

// nextID returns a monotonic string id ("1", "2", ...) that is unique within
// this PendingMessages instance only; separate instances reuse the same
// sequence (spec §9: "a per-instance counter is sufficient; avoid
// process-global state").
func (p *PendingMessages) nextID() string {
	p.counter++
	return strconv.FormatUint(p.counter, 10)
}

// Create allocates a fresh id and inserts a pending entry. The caller reads
// the returned channel to observe the eventual resolve/reject, or consumes
// ctx cancellation itself — the channel stays writable even if nobody ever
// reads it (it is buffered 1) so a late send never blocks.
func (p *PendingMessages) Create(timeout time.Duration, isInternal bool) (id string, result <-chan pendingResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id = p.nextID()
	entry := &pendingEntry{
		id:         id,
		isInternal: isInternal,
		ch:         make(chan pendingResult, 1),
	}
	p.entries[id] = entry

	if timeout > 0 {
		entry.timer = time.AfterFunc(timeout, func() { p.fireTimeout(id) })
	}

	return id, entry.ch
}

func (p *PendingMessages) fireTimeout(id string) {
	p.mu.Lock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if !ok {
		// Already resolved/rejected/deleted — the timer lost the race.
		return
	}
	entry.settle(pendingResult{err: newTimeoutError(p.host)})
}

// Resolve fulfils the entry for id with data and removes it. A no-op if no
// such entry exists (a late response after cancellation is discarded
// silently, per spec §4.1).
func (p *PendingMessages) Resolve(id string, data json.RawMessage) {
	p.mu.Lock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if ok {
		entry.settle(pendingResult{data: data})
	}
}

// Reject fails the entry for id with err and removes it. Symmetric to
// Resolve.
func (p *PendingMessages) Reject(id string, err error) {
	p.mu.Lock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if ok {
		entry.settle(pendingResult{err: err})
	}
}

// Delete forcibly removes an entry without resolving it — used when the
// caller abandons the request (e.g. send failure with teardown already in
// progress).
func (p *PendingMessages) Delete(id string) {
	p.mu.Lock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
}

// Cancel mass-fails every entry with a Cancelled-kind error wrapping err,
// and empties the table. Used on disconnect and on transport termination.
func (p *PendingMessages) Cancel(host string, err error) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*pendingEntry)
	p.mu.Unlock()

	if len(entries) == 0 {
		return
	}
	cancelErr := newCancelledError(host, err)
	for _, entry := range entries {
		entry.settle(pendingResult{err: cancelErr})
	}
}

// Len reports the number of currently outstanding entries. Exposed for
// tests and diagnostics only.
func (p *PendingMessages) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
