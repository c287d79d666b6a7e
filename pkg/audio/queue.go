package audio

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by [Queue.Pop] once the queue has been closed and
// every chunk pushed before Close has been consumed.
var ErrQueueClosed = errors.New("audio: queue closed")

// Queue is the FIFO that decouples an audio producer from the session's audio
// pump. Push never blocks, so it is safe to call from a hardware capture
// callback. Pop blocks until a chunk is available.
//
// The queue is unbounded unless a positive limit is given to [NewQueue]; when
// the limit is reached the oldest pending chunk is dropped to make room.
//
// Queue supports any number of producers but exactly one consumer.
type Queue struct {
	limit int

	mu      sync.Mutex
	items   []Chunk
	closed  bool
	dropped uint64

	ready chan struct{}
}

// NewQueue creates a queue. limit <= 0 means unbounded.
func NewQueue(limit int) *Queue {
	return &Queue{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push enqueues c. It reports false if the queue is closed.
func (q *Queue) Push(c Chunk) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.items[0] = Chunk{}
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, c)
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop removes and returns the oldest chunk, waiting until one is pushed, the
// queue is closed, or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Chunk, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			c := q.items[0]
			q.items[0] = Chunk{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return c, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Chunk{}, ErrQueueClosed
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		}
	}
}

// Len returns the number of pending chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many chunks were discarded because the limit was hit.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close stops accepting chunks and wakes the consumer. Pending chunks can
// still be popped. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
