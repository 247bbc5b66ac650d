// Package queue implements the bounded FIFO work queue between ingestion and
// the single render worker. Entries are served strictly in arrival order;
// control-surface operations only inspect or drop pending entries, never
// consume them.
package queue

import (
	"context"
	"errors"
	"sync"

	"drawstream/internal/domain"
)

// ErrCapacityExceeded is returned by Enqueue when the queue is full. The
// newest event is rejected; existing entries are never evicted.
var ErrCapacityExceeded = errors.New("queue capacity exceeded")

// Queue is a bounded FIFO with exactly one blocking consumer.
type Queue struct {
	mu      sync.Mutex
	entries []domain.QueueEntry
	seq     uint64
	cap     int
	wake    chan struct{}
}

// New returns a queue holding at most capacity pending entries.
func New(capacity int) *Queue {
	return &Queue{
		cap:  capacity,
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends an event in arrival order. The assigned sequence number,
// not the event timestamp, is the authoritative FIFO position.
func (q *Queue) Enqueue(event domain.DonationEvent) (domain.QueueEntry, error) {
	q.mu.Lock()
	if len(q.entries) >= q.cap {
		q.mu.Unlock()
		return domain.QueueEntry{}, ErrCapacityExceeded
	}
	q.seq++
	entry := domain.QueueEntry{Seq: q.seq, Event: event}
	q.entries = append(q.entries, entry)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return entry, nil
}

// Dequeue blocks until an entry is available or the context is cancelled.
// It must only be called from the single worker loop.
func (q *Queue) Dequeue(ctx context.Context) (domain.QueueEntry, error) {
	for {
		q.mu.Lock()
		if len(q.entries) > 0 {
			entry := q.entries[0]
			q.entries = q.entries[1:]
			q.mu.Unlock()
			return entry, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.QueueEntry{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// Preview returns up to n earliest pending entries without removing them.
func (q *Queue) Preview(n int) []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.entries) {
		n = len(q.entries)
	}
	out := make([]domain.QueueEntry, n)
	copy(out, q.entries[:n])
	return out
}

// Clear drops all pending entries and returns how many were removed. The
// active task is untouched; clearing twice removes nothing the second time.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := len(q.entries)
	q.entries = nil
	return removed
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
