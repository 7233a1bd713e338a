package lifx

import (
	"context"
	"sync"
)

// Queue is the FIFO of envelopes awaiting transmission.
// Enqueue never blocks and never drops; backpressure belongs to the sender.
type Queue struct {
	mu      sync.Mutex
	items   []*Envelope
	pending chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		pending: make(chan struct{}, 1),
	}
}

// Enqueue appends an envelope
func (q *Queue) Enqueue(env *Envelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.pending <- struct{}{}:
	default:
		// Sender already signalled
	}
}

// Len returns the number of envelopes waiting
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pop removes and returns the head, or nil when empty
func (q *Queue) Pop() *Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	env := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return env
}

// Next blocks until an envelope is available or ctx is done
func (q *Queue) Next(ctx context.Context) (*Envelope, error) {
	for {
		if env := q.Pop(); env != nil {
			return env, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.pending:
		}
	}
}

// Drain removes and returns everything still queued
func (q *Queue) Drain() []*Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}
