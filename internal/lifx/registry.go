package lifx

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lifxd/internal/protocol"
)

// Outcome is how a pending handler was resolved
type Outcome string

const (
	OutcomeReply   Outcome = "reply"
	OutcomeTimeout Outcome = "timeout"
	OutcomeClosed  Outcome = "closed"
)

// Entry is a pending handler awaiting its reply
type Entry struct {
	// Sequence of the request; used to keep the sequence space collision-free
	Sequence uint8
	// Type is the request message type, reported on timeout
	Type   protocol.MessageType
	Target string

	Match    Predicate
	Callback Callback
	// Deadline is optional; zero means the entry only resolves on match or Close
	Deadline time.Time

	registered time.Time
}

// ResolveHook observes every resolution, after the callback ran
type ResolveHook func(e Entry, outcome Outcome, latency time.Duration)

// Registry correlates inbound replies with the commands that asked for them.
// Every entry is removed exactly once: on match, on timeout, or on Close.
type Registry struct {
	mu      sync.Mutex
	entries []Entry
	onDone  ResolveHook
	now     func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

// SetResolveHook installs an observer for resolutions
func (r *Registry) SetResolveHook(hook ResolveHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDone = hook
}

// Register appends a pending entry. Entries without a callback are ignored.
func (r *Registry) Register(e Entry) {
	if e.Callback == nil {
		return
	}
	r.mu.Lock()
	e.registered = r.now()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// Len returns the number of pending entries
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Pending reports whether a pending entry uses seq
func (r *Registry) Pending(seq uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingLocked(seq)
}

func (r *Registry) pendingLocked(seq uint8) bool {
	for i := range r.entries {
		if r.entries[i].Sequence == seq {
			return true
		}
	}
	return false
}

// Dispatch resolves the first entry, in registration order, whose predicate
// matches the reply. Returns false when nothing matched; that is not an error.
func (r *Registry) Dispatch(reply *Reply) bool {
	r.mu.Lock()
	idx := -1
	for i := range r.entries {
		if r.entries[i].Match != nil && r.entries[i].Match(reply) {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	e := r.entries[idx]
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	hook := r.onDone
	r.mu.Unlock()

	r.resolve(e, reply, nil, OutcomeReply, hook)
	return true
}

// Expire resolves every entry whose deadline is before now with a
// *TimeoutError and returns how many expired.
func (r *Registry) Expire(now time.Time) int {
	r.mu.Lock()
	var expired []Entry
	kept := r.entries[:0]
	for _, e := range r.entries {
		if !e.Deadline.IsZero() && !now.Before(e.Deadline) {
			expired = append(expired, e)
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so resolved callbacks can be collected
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = Entry{}
	}
	r.entries = kept
	hook := r.onDone
	r.mu.Unlock()

	for _, e := range expired {
		err := &TimeoutError{Type: e.Type, Sequence: e.Sequence, Target: e.Target}
		r.resolve(e, nil, err, OutcomeTimeout, hook)
	}
	return len(expired)
}

// NextDeadline returns the earliest pending deadline, if any
func (r *Registry) NextDeadline() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next time.Time
	for _, e := range r.entries {
		if e.Deadline.IsZero() {
			continue
		}
		if next.IsZero() || e.Deadline.Before(next) {
			next = e.Deadline
		}
	}
	return next, !next.IsZero()
}

// Close resolves every pending entry with err
func (r *Registry) Close(err error) int {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	hook := r.onDone
	r.mu.Unlock()

	for _, e := range entries {
		r.resolve(e, nil, err, OutcomeClosed, hook)
	}
	return len(entries)
}

func (r *Registry) resolve(e Entry, reply *Reply, err error, outcome Outcome, hook ResolveHook) {
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Interface("panic", rec).
					Str("type", e.Type.String()).
					Uint8("seq", e.Sequence).
					Msg("Response callback panicked")
			}
		}()
		e.Callback(reply, err)
	}()

	if hook != nil {
		hook(e, outcome, r.now().Sub(e.registered))
	}
}
