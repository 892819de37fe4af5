package pipeline

import (
	"errors"
	"sync"
	"time"
)

// ErrQueueFull is returned when the queue is at its capacity ceiling.
var ErrQueueFull = errors.New("narration queue is full")

// Queue is a per-session, priority-ordered narration queue. Ordering is
// stable: high before medium before low, FIFO within a tier. At most
// one narration is in flight at a time; the queue only hands out the
// next item when the previous one has been released.
type Queue struct {
	mu      sync.Mutex
	max     int
	pending []*Narration
}

// NewQueue creates a queue with the given capacity ceiling.
func NewQueue(max int) *Queue {
	if max <= 0 {
		max = 50
	}
	return &Queue{max: max}
}

// Enqueue inserts the narration at the end of its priority tier.
// Returns ErrQueueFull at capacity; the caller reports the rejection.
func (q *Queue) Enqueue(n *Narration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.max {
		return ErrQueueFull
	}
	idx := len(q.pending)
	for i, existing := range q.pending {
		if tierRank(existing.Priority) > tierRank(n.Priority) {
			idx = i
			break
		}
	}
	q.insertAt(idx, n)
	return nil
}

// PromoteFront inserts the narration at the front of its priority tier.
// Used for story-thread updates so continuing stories run ahead of
// unrelated items of the same priority.
func (q *Queue) PromoteFront(n *Narration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.max {
		return ErrQueueFull
	}
	idx := len(q.pending)
	for i, existing := range q.pending {
		if tierRank(existing.Priority) >= tierRank(n.Priority) {
			idx = i
			break
		}
	}
	q.insertAt(idx, n)
	return nil
}

func (q *Queue) insertAt(idx int, n *Narration) {
	q.pending = append(q.pending, nil)
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = n
}

// Dequeue removes and returns the highest-priority narration, or nil
// when the queue is empty.
func (q *Queue) Dequeue() *Narration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	n := q.pending[0]
	q.pending = q.pending[1:]
	return n
}

// Len reports the number of pending narrations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// OldestAge returns how long the oldest pending narration has waited.
func (q *Queue) OldestAge() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	oldest := time.Duration(0)
	now := time.Now()
	for _, n := range q.pending {
		if age := now.Sub(n.CreatedAt); age > oldest {
			oldest = age
		}
	}
	return oldest
}

// Clear drops all pending narrations and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.pending)
	q.pending = nil
	return dropped
}

// Snapshot returns the pending narrations in order. The returned slice
// shares narration pointers but not the backing array.
func (q *Queue) Snapshot() []*Narration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Narration(nil), q.pending...)
}

// Restore replaces the queue contents with a previously captured
// snapshot, preserving its order.
func (q *Queue) Restore(pending []*Narration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append([]*Narration(nil), pending...)
}

// CountByPriority returns pending counts per tier.
func (q *Queue) CountByPriority() map[Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := map[Priority]int{PriorityHigh: 0, PriorityMedium: 0, PriorityLow: 0}
	for _, n := range q.pending {
		counts[n.Priority]++
	}
	return counts
}
