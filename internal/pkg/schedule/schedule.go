package schedule

import (
	"sync"
	"time"
)

// Runner owns a set of named one-shot timers. Scheduling under a name
// that already has a pending timer cancels the previous one, so at most
// one callback per name can be in flight.
type Runner struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// New creates an empty Runner.
func New() *Runner {
	return &Runner{timers: make(map[string]*time.Timer)}
}

// After schedules fn to run once after d. A previous pending timer under
// the same name is cancelled first. After a Stop, scheduling is a no-op.
func (r *Runner) After(name string, d time.Duration, fn func()) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if prev, ok := r.timers[name]; ok {
		prev.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		current, ok := r.timers[name]
		if ok && current == t {
			delete(r.timers, name)
		}
		stale := !ok || current != t || r.stopped
		r.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
	r.timers[name] = t
	r.mu.Unlock()
}

// Cancel stops the pending timer under name, if any.
func (r *Runner) Cancel(name string) {
	r.mu.Lock()
	if t, ok := r.timers[name]; ok {
		t.Stop()
		delete(r.timers, name)
	}
	r.mu.Unlock()
}

// CancelAll stops every pending timer.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	for name, t := range r.timers {
		t.Stop()
		delete(r.timers, name)
	}
	r.mu.Unlock()
}

// Stop cancels all pending timers and rejects further scheduling.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	for name, t := range r.timers {
		t.Stop()
		delete(r.timers, name)
	}
	r.mu.Unlock()
}

// Pending reports whether a timer is currently scheduled under name.
func (r *Runner) Pending(name string) bool {
	r.mu.Lock()
	_, ok := r.timers[name]
	r.mu.Unlock()
	return ok
}
