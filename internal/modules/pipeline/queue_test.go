package pipeline

import (
	"fmt"
	"testing"
	"time"
)

func narrationWith(id string, p Priority) *Narration {
	return &Narration{ID: id, Priority: p, CreatedAt: time.Now()}
}

func drainIDs(q *Queue) []string {
	var ids []string
	for {
		n := q.Dequeue()
		if n == nil {
			return ids
		}
		ids = append(ids, n.ID)
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue(50)
	q.Enqueue(narrationWith("a", PriorityLow))
	q.Enqueue(narrationWith("b", PriorityHigh))
	q.Enqueue(narrationWith("c", PriorityMedium))

	got := drainIDs(q)
	want := []string{"b", "c", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", got, want)
		}
	}
}

func TestQueueFIFOWithinTier(t *testing.T) {
	q := NewQueue(50)
	for i := 0; i < 5; i++ {
		q.Enqueue(narrationWith(fmt.Sprintf("m%d", i), PriorityMedium))
	}

	got := drainIDs(q)
	for i := 0; i < 5; i++ {
		if got[i] != fmt.Sprintf("m%d", i) {
			t.Fatalf("tier order not FIFO: %v", got)
		}
	}
}

func TestQueuePromoteFront(t *testing.T) {
	q := NewQueue(50)
	q.Enqueue(narrationWith("h1", PriorityHigh))
	q.Enqueue(narrationWith("m1", PriorityMedium))
	q.Enqueue(narrationWith("m2", PriorityMedium))
	q.PromoteFront(narrationWith("thread-update", PriorityMedium))

	got := drainIDs(q)
	want := []string{"h1", "thread-update", "m1", "m2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestQueueCapacity(t *testing.T) {
	q := NewQueue(2)
	if err := q.Enqueue(narrationWith("a", PriorityLow)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(narrationWith("b", PriorityLow)); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(narrationWith("c", PriorityHigh)); err != ErrQueueFull {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d after rejection, want 2", q.Len())
	}
}

func TestQueueSnapshotRestore(t *testing.T) {
	q := NewQueue(50)
	q.Enqueue(narrationWith("a", PriorityHigh))
	q.Enqueue(narrationWith("b", PriorityMedium))
	q.Enqueue(narrationWith("c", PriorityLow))

	snap := q.Snapshot()
	q.Clear()
	if q.Len() != 0 {
		t.Fatal("clear did not empty queue")
	}

	q.Restore(snap)
	got := drainIDs(q)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("restored order = %v, want %v", got, want)
		}
	}
}

func TestQueueOldestAge(t *testing.T) {
	q := NewQueue(50)
	old := narrationWith("a", PriorityLow)
	old.CreatedAt = time.Now().Add(-time.Minute)
	q.Enqueue(old)
	q.Enqueue(narrationWith("b", PriorityHigh))

	if age := q.OldestAge(); age < 50*time.Second {
		t.Fatalf("oldest age = %v, want about a minute", age)
	}
}
