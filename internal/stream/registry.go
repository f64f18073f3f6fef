package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Registration is one in-flight stream's entry in the registry: a single
// consumer (the transport writer for this message_id) reads Events in
// order, and the pipeline checks Cancelled() at every suspension point
// (§4.13, §5).
type Registration struct {
	MessageID string
	SessionID string
	UserID    string

	Events chan Event

	cancelled  atomic.Bool
	terminated atomic.Bool
	nextChunk  atomic.Int64
}

// Cancelled reports whether cancel(message_id) has been called for this
// stream.
func (r *Registration) Cancelled() bool {
	return r.cancelled.Load()
}

// NextChunkIndex returns the next monotonically increasing chunk_index,
// starting at 0 (§8 property 4).
func (r *Registration) NextChunkIndex() int {
	return int(r.nextChunk.Add(1) - 1)
}

// Emit stamps an event with this stream's identity and timestamp and
// delivers it to the consumer. It blocks (respecting ctx) rather than
// dropping, since there is exactly one consumer per message_id and losing
// an event would break the ordering contract. Emit is a no-op once a
// terminal event has already been sent, enforcing "exactly one terminal
// event, nothing after it" (§4.12, §8 property 4).
func (r *Registration) Emit(ctx context.Context, e Event) {
	if r.terminated.Load() {
		return
	}
	e.MessageID = r.MessageID
	e.SessionID = r.SessionID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.IsTerminal() {
		if !r.terminated.CompareAndSwap(false, true) {
			return
		}
	}
	select {
	case r.Events <- e:
	case <-ctx.Done():
	}
}

// Registry is C13's in-process `map<message_id, StreamRegistration>`.
type Registry struct {
	mu   sync.Mutex
	regs map[string]*Registration
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]*Registration)}
}

// Register creates and stores a new Registration for message_id. bufSize
// bounds the event channel; a modest buffer lets the pipeline keep emitting
// while the transport writer catches up.
func (reg *Registry) Register(messageID, sessionID, userID string, bufSize int) *Registration {
	if bufSize <= 0 {
		bufSize = 32
	}
	r := &Registration{
		MessageID: messageID,
		SessionID: sessionID,
		UserID:    userID,
		Events:    make(chan Event, bufSize),
	}
	reg.mu.Lock()
	reg.regs[messageID] = r
	reg.mu.Unlock()
	return r
}

// Deregister removes message_id's registration. Called on every terminal
// path (§4.12 step 6, §5).
func (reg *Registry) Deregister(messageID string) {
	reg.mu.Lock()
	delete(reg.regs, messageID)
	reg.mu.Unlock()
}

// Cancel sets the cancelled flag for message_id if it exists and userID
// matches the stream's originating user. Cancellation requests for unknown
// ids, or from a user who does not own the stream, are no-ops rather than
// errors (§4.13).
func (reg *Registry) Cancel(userID, messageID string) {
	reg.mu.Lock()
	r, ok := reg.regs[messageID]
	reg.mu.Unlock()
	if !ok || r.UserID != userID {
		return
	}
	r.cancelled.Store(true)
}

// Lookup returns the registration for message_id, if any.
func (reg *Registry) Lookup(messageID string) (*Registration, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.regs[messageID]
	return r, ok
}
