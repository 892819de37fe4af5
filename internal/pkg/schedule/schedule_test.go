package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAfterFires(t *testing.T) {
	r := New()
	defer r.Stop()

	done := make(chan struct{})
	r.After("tick", 5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if r.Pending("tick") {
		t.Fatal("fired timer still pending")
	}
}

func TestAfterReplacesPrevious(t *testing.T) {
	r := New()
	defer r.Stop()

	var fired atomic.Int32
	r.After("tick", 10*time.Millisecond, func() { fired.Add(10) })
	r.After("tick", 20*time.Millisecond, func() { fired.Add(1) })

	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("fired = %d, want only the replacement callback", got)
	}
}

func TestCancel(t *testing.T) {
	r := New()
	defer r.Stop()

	var fired atomic.Int32
	r.After("tick", 10*time.Millisecond, func() { fired.Add(1) })
	r.Cancel("tick")

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("cancelled timer fired")
	}
	if r.Pending("tick") {
		t.Fatal("cancelled timer still pending")
	}
}

func TestStopRejectsScheduling(t *testing.T) {
	r := New()

	var fired atomic.Int32
	r.After("a", 10*time.Millisecond, func() { fired.Add(1) })
	r.Stop()
	r.After("b", time.Millisecond, func() { fired.Add(1) })

	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("fired = %d after Stop", fired.Load())
	}
}
