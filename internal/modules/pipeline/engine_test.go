package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/echocast/core/internal/modules/llm"
)

func testTiming() Timing {
	return Timing{
		Cooldown:           10 * time.Millisecond,
		PostNarrationPause: 5 * time.Millisecond,
		Watchdog:           60 * time.Millisecond,
		MinRequestInterval: time.Millisecond,
		SchedulerTick:      10 * time.Millisecond,
	}
}

// scriptedClient returns one behavior per generation call, then repeats
// the last one.
type scriptedClient struct {
	mu    sync.Mutex
	steps []func(ctx context.Context, onChunk func(string)) (string, error)
	calls int
}

func (s *scriptedClient) next() func(ctx context.Context, onChunk func(string)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	return s.steps[idx]
}

func (s *scriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedClient) Generate(ctx context.Context, _, _ string, _ llm.Options) (string, error) {
	return s.next()(ctx, nil)
}

func (s *scriptedClient) GenerateStream(ctx context.Context, _, _ string, _ llm.Options, onChunk func(string)) (string, error) {
	return s.next()(ctx, onChunk)
}

func (s *scriptedClient) Analyze(_ context.Context, title, body string) (*llm.Analysis, error) {
	return llm.HeuristicAnalyze(title, body), nil
}

func succeed(text string) func(ctx context.Context, onChunk func(string)) (string, error) {
	return func(_ context.Context, onChunk func(string)) (string, error) {
		if onChunk != nil {
			onChunk(text)
		}
		return text, nil
	}
}

func fail(err error) func(ctx context.Context, onChunk func(string)) (string, error) {
	return func(context.Context, func(string)) (string, error) {
		return "", err
	}
}

func hang() func(ctx context.Context, onChunk func(string)) (string, error) {
	return func(ctx context.Context, _ func(string)) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
}

type engineHarness struct {
	engine    *Engine
	queue     *Queue
	completed chan *Narration
	dropped   chan string
	cancel    context.CancelFunc

	mu     sync.Mutex
	events []Event
}

func newEngineHarness(t *testing.T, client llm.Client, timing Timing, maxRetries int) *engineHarness {
	t.Helper()
	h := &engineHarness{
		queue:     NewQueue(50),
		completed: make(chan *Narration, 16),
		dropped:   make(chan string, 16),
	}

	dispatcher := NewDispatcher(zap.NewNop())
	dispatcher.Subscribe(func(evt Event) {
		h.mu.Lock()
		h.events = append(h.events, evt)
		h.mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go dispatcher.Run(ctx)

	h.engine = NewEngine(EngineConfig{
		SessionID:  "test-session",
		Queue:      h.queue,
		Client:     client,
		Dispatcher: dispatcher,
		Timing:     timing,
		MaxRetries: maxRetries,
		Logger:     zap.NewNop(),
		OnComplete: func(n *Narration) { h.completed <- n },
		OnDrop:     func(n *Narration, reason string) { h.dropped <- reason },
	})
	t.Cleanup(func() {
		h.engine.Stop()
		cancel()
	})
	return h
}

func (h *engineHarness) eventNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.events))
	for i, evt := range h.events {
		names[i] = evt.Name
	}
	return names
}

func waitCompleted(t *testing.T, h *engineHarness, timeout time.Duration) *Narration {
	t.Helper()
	select {
	case n := <-h.completed:
		return n
	case <-time.After(timeout):
		t.Fatal("narration did not complete in time")
		return nil
	}
}

func TestEngineStreamsQueuedNarration(t *testing.T) {
	client := &scriptedClient{steps: []func(context.Context, func(string)) (string, error){
		succeed("The story in one narrated sentence."),
	}}
	h := newEngineHarness(t, client, testTiming(), 3)

	h.queue.Enqueue(narrationWith("n1", PriorityHigh))
	h.engine.Start()

	n := waitCompleted(t, h, 2*time.Second)
	if n.Text != "The story in one narrated sentence." {
		t.Fatalf("text = %q", n.Text)
	}
	if n.DurationEstimate <= 0 {
		t.Fatal("missing duration estimate")
	}
	if h.engine.Processed() != 1 {
		t.Fatalf("processed = %d, want 1", h.engine.Processed())
	}
}

func TestEngineSingleFlight(t *testing.T) {
	var inFlight, maxInFlight int32
	var mu sync.Mutex
	step := func(_ context.Context, onChunk func(string)) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		if onChunk != nil {
			onChunk("done")
		}
		return "done", nil
	}
	client := &scriptedClient{steps: []func(context.Context, func(string)) (string, error){step}}
	h := newEngineHarness(t, client, testTiming(), 3)

	for i := 0; i < 4; i++ {
		h.queue.Enqueue(narrationWith(string(rune('a'+i)), PriorityMedium))
	}
	h.engine.Start()
	for i := 0; i < 4; i++ {
		h.engine.Kick()
	}

	for i := 0; i < 4; i++ {
		waitCompleted(t, h, 2*time.Second)
	}
	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Fatalf("max in flight = %d, want 1", maxInFlight)
	}
}

func TestEngineWatchdogRecovery(t *testing.T) {
	client := &scriptedClient{steps: []func(context.Context, func(string)) (string, error){
		hang(),
		succeed("recovered"),
	}}
	h := newEngineHarness(t, client, testTiming(), 1)

	h.queue.Enqueue(narrationWith("stuck", PriorityHigh))
	h.queue.Enqueue(narrationWith("next", PriorityMedium))
	h.engine.Start()

	select {
	case reason := <-h.dropped:
		if reason == "" {
			t.Fatal("empty drop reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stuck narration was not dropped")
	}

	n := waitCompleted(t, h, 2*time.Second)
	if n.ID != "next" {
		t.Fatalf("completed %q, want the next queued item", n.ID)
	}
}

func TestEngineRetriesGenericFailure(t *testing.T) {
	client := &scriptedClient{steps: []func(context.Context, func(string)) (string, error){
		fail(errors.New("connection reset")),
		succeed("second attempt worked"),
	}}
	h := newEngineHarness(t, client, testTiming(), 3)

	h.queue.Enqueue(narrationWith("flaky", PriorityHigh))
	h.engine.Start()

	n := waitCompleted(t, h, 5*time.Second)
	if n.ID != "flaky" {
		t.Fatalf("completed %q", n.ID)
	}
	if n.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1 recorded failure", n.Attempts)
	}
	if client.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", client.Calls())
	}
	if h.engine.ErrorCount() != 1 {
		t.Fatalf("error count = %d, want 1", h.engine.ErrorCount())
	}
}

func TestEngineDropsAfterRetryCeiling(t *testing.T) {
	client := &scriptedClient{steps: []func(context.Context, func(string)) (string, error){
		fail(errors.New("upstream exploded")),
	}}
	h := newEngineHarness(t, client, testTiming(), 1)

	h.queue.Enqueue(narrationWith("doomed", PriorityHigh))
	h.engine.Start()

	select {
	case <-h.dropped:
	case <-time.After(2 * time.Second):
		t.Fatal("narration not dropped at retry ceiling")
	}
	if client.Calls() != 1 {
		t.Fatalf("calls = %d, want exactly the ceiling", client.Calls())
	}
}

func TestEnginePublishPause(t *testing.T) {
	client := &scriptedClient{steps: []func(context.Context, func(string)) (string, error){
		succeed("after resume"),
	}}
	h := newEngineHarness(t, client, testTiming(), 3)

	h.engine.SetPublishingPaused(true)
	h.queue.Enqueue(narrationWith("waiting", PriorityHigh))
	h.engine.Start()

	time.Sleep(100 * time.Millisecond)
	if client.Calls() != 0 {
		t.Fatal("stream started while publishing paused")
	}

	h.engine.SetPublishingPaused(false)
	waitCompleted(t, h, 2*time.Second)
}

func TestEnginePauseRequeueOverflowDrops(t *testing.T) {
	client := &scriptedClient{steps: []func(context.Context, func(string)) (string, error){
		succeed("first"),
	}}
	timing := testTiming()
	timing.Cooldown = 250 * time.Millisecond

	// Capacity one so the pause requeue has nowhere to go once another
	// narration takes the slot.
	queue := NewQueue(1)
	completed := make(chan *Narration, 4)
	dropped := make(chan string, 4)
	dispatcher := NewDispatcher(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Run(ctx)

	engine := NewEngine(EngineConfig{
		SessionID:  "test-session",
		Queue:      queue,
		Client:     client,
		Dispatcher: dispatcher,
		Timing:     timing,
		MaxRetries: 3,
		Logger:     zap.NewNop(),
		OnComplete: func(n *Narration) { completed <- n },
		OnDrop:     func(n *Narration, reason string) { dropped <- reason },
	})
	t.Cleanup(func() {
		engine.Stop()
		cancel()
	})

	queue.Enqueue(narrationWith("n1", PriorityHigh))
	engine.Start()
	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("first narration did not complete")
	}

	// The second narration is dequeued into the cooldown window. Pausing
	// publishing there and filling its queue slot forces the requeue to
	// fail when the cooldown fires.
	queue.Enqueue(narrationWith("n2", PriorityHigh))
	deadline := time.Now().Add(time.Second)
	for queue.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("second narration never dequeued")
		}
		time.Sleep(2 * time.Millisecond)
	}
	engine.SetPublishingPaused(true)
	queue.Enqueue(narrationWith("n3", PriorityHigh))

	select {
	case reason := <-dropped:
		if reason != "queue full on pause requeue" {
			t.Fatalf("drop reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("requeue overflow was not reported")
	}
	if client.Calls() != 1 {
		t.Fatalf("calls = %d, want only the first narration streamed", client.Calls())
	}
}

func TestEngineStopCancelsContinuations(t *testing.T) {
	client := &scriptedClient{steps: []func(context.Context, func(string)) (string, error){
		succeed("one"),
	}}
	h := newEngineHarness(t, client, testTiming(), 3)

	h.queue.Enqueue(narrationWith("n1", PriorityHigh))
	h.engine.Start()
	waitCompleted(t, h, 2*time.Second)

	h.engine.Stop()
	h.queue.Enqueue(narrationWith("n2", PriorityHigh))
	time.Sleep(100 * time.Millisecond)

	select {
	case n := <-h.completed:
		t.Fatalf("narration %q completed after stop", n.ID)
	default:
	}
}

func TestEngineEmitsLifecycleEvents(t *testing.T) {
	client := &scriptedClient{steps: []func(context.Context, func(string)) (string, error){
		succeed("evented"),
	}}
	h := newEngineHarness(t, client, testTiming(), 3)

	h.queue.Enqueue(narrationWith("n1", PriorityHigh))
	h.engine.Start()
	waitCompleted(t, h, 2*time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		names := h.eventNames()
		if containsEvent(names, EventNarrationStarted) &&
			containsEvent(names, EventNarrationStreaming) &&
			containsEvent(names, EventNarrationCompleted) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("missing lifecycle events, got %v", h.eventNames())
}

func containsEvent(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
