package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/echocast/core/internal/modules/llm"
	"github.com/echocast/core/internal/pkg/schedule"
)

// EngineState is the streaming engine's state machine position.
type EngineState string

const (
	StateIdle       EngineState = "idle"
	StateCooldown   EngineState = "cooldown"
	StateStreaming  EngineState = "streaming"
	StateCompleting EngineState = "completing"
	StateFailing    EngineState = "failing"
)

var errWatchdogTimeout = errors.New("watchdog timeout: no first chunk")

// timer names owned by the engine's schedule runner. Single owner per
// name; scheduling again replaces the pending timer.
const (
	timerTick     = "tick"
	timerCooldown = "cooldown"
	timerRateGate = "rategate"
	timerWatchdog = "watchdog"
	timerPause    = "pause"
)

// spokenWordsPerMinute calibrates the duration estimate.
const spokenWordsPerMinute = 150

// Engine drives narrations for one session, exactly one at a time:
// Idle -> Cooldown -> Streaming -> (Completing | Failing) -> Idle.
// All pacing is timer-driven through a schedule.Runner so a session
// stop can cancel every scheduled continuation without touching an
// in-flight stream.
type Engine struct {
	sessionID  string
	queue      *Queue
	client     llm.Client
	dispatcher *Dispatcher
	runner     *schedule.Runner
	log        *zap.Logger

	// onComplete persists a frozen narration into the session record.
	// Called from the stream goroutine, never under the engine lock.
	onComplete func(n *Narration)
	// onDrop reports a narration abandoned after exhausting retries.
	onDrop func(n *Narration, reason string)
	// threadSummary resolves prior context for continuing stories.
	threadSummary func(threadID string) string

	mu              sync.Mutex
	timing          Timing
	maxRetries      int
	state           EngineState
	active          bool
	publishPaused   bool
	current         *Narration
	currentStarted  time.Time
	lastCompletedAt time.Time
	lastRequestAt   time.Time
	cancelStream    context.CancelFunc

	// seq invalidates timer and stream callbacks scheduled before the
	// most recent state change. Callbacks capture it and bail out when
	// it no longer matches.
	seq uint64

	processed     int64
	errorCount    int64
	rateLimitHits int64
}

// EngineConfig wires an Engine's collaborators.
type EngineConfig struct {
	SessionID     string
	Queue         *Queue
	Client        llm.Client
	Dispatcher    *Dispatcher
	Timing        Timing
	MaxRetries    int
	Logger        *zap.Logger
	OnComplete    func(n *Narration)
	OnDrop        func(n *Narration, reason string)
	ThreadSummary func(threadID string) string
}

// NewEngine creates an engine in the idle, inactive state.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Engine{
		sessionID:     cfg.SessionID,
		queue:         cfg.Queue,
		client:        cfg.Client,
		dispatcher:    cfg.Dispatcher,
		runner:        schedule.New(),
		log:           cfg.Logger,
		timing:        cfg.Timing,
		maxRetries:    cfg.MaxRetries,
		state:         StateIdle,
		onComplete:    cfg.OnComplete,
		onDrop:        cfg.OnDrop,
		threadSummary: cfg.ThreadSummary,
	}
}

// Start activates the engine and begins the scheduler tick loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return
	}
	e.active = true
	e.seq++
	tick := e.timing.SchedulerTick
	e.mu.Unlock()

	e.scheduleTick(tick)
}

func (e *Engine) scheduleTick(d time.Duration) {
	e.runner.After(timerTick, d, func() {
		e.Kick()
		e.mu.Lock()
		active := e.active
		next := e.timing.SchedulerTick
		e.mu.Unlock()
		if active {
			e.scheduleTick(next)
		}
	})
}

// Stop deactivates the engine and cancels every scheduled continuation.
// An in-flight stream is left to finish in the background; its result
// is discarded because the seq it captured is stale.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.active = false
	e.seq++
	e.state = StateIdle
	e.current = nil
	cancel := e.cancelStream
	e.cancelStream = nil
	e.mu.Unlock()

	e.runner.CancelAll()
	if cancel != nil {
		cancel()
	}
}

// Kick attempts to start the next queued narration. Safe to call at any
// time; it is a no-op unless the engine is idle with no current
// narration.
func (e *Engine) Kick() {
	e.mu.Lock()
	if !e.active || e.publishPaused || e.current != nil || e.state != StateIdle {
		e.mu.Unlock()
		return
	}
	n := e.queue.Dequeue()
	if n == nil {
		e.mu.Unlock()
		return
	}

	e.current = n
	e.seq++
	seq := e.seq
	remaining := e.timing.Cooldown - time.Since(e.lastCompletedAt)
	if !e.lastCompletedAt.IsZero() && remaining > 0 {
		e.state = StateCooldown
		e.mu.Unlock()
		e.runner.After(timerCooldown, remaining, func() { e.gateAndStream(seq) })
		return
	}
	e.mu.Unlock()
	e.gateAndStream(seq)
}

// gateAndStream enforces the minimum inter-request interval before
// entering Streaming.
func (e *Engine) gateAndStream(seq uint64) {
	e.mu.Lock()
	if !e.stillCurrentLocked(seq) {
		e.mu.Unlock()
		return
	}
	wait := e.timing.MinRequestInterval - time.Since(e.lastRequestAt)
	e.mu.Unlock()

	if !e.lastRequestIsZero() && wait > 0 {
		e.runner.After(timerRateGate, wait, func() { e.beginStreaming(seq) })
		return
	}
	e.beginStreaming(seq)
}

func (e *Engine) lastRequestIsZero() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRequestAt.IsZero()
}

func (e *Engine) stillCurrentLocked(seq uint64) bool {
	return e.active && e.current != nil && e.seq == seq
}

// beginStreaming starts the watchdog and the provider stream.
func (e *Engine) beginStreaming(seq uint64) {
	e.mu.Lock()
	if !e.stillCurrentLocked(seq) {
		e.mu.Unlock()
		return
	}
	if e.publishPaused {
		// Publishing was paused while this narration waited out its
		// cooldown or rate gate. Put it back and go idle; resuming
		// kicks the queue again.
		n := e.current
		e.current = nil
		e.state = StateIdle
		e.seq++
		e.mu.Unlock()
		if err := e.queue.PromoteFront(n); err != nil {
			if e.onDrop != nil {
				e.onDrop(n, "queue full on pause requeue")
			}
		}
		return
	}
	n := e.current
	e.state = StateStreaming
	e.currentStarted = time.Now()
	e.lastRequestAt = time.Now()
	watchdog := e.timing.Watchdog

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelStream = cancel
	e.mu.Unlock()

	e.publish(EventNarrationStarted, map[string]interface{}{
		"id":       n.ID,
		"item_id":  n.ItemID,
		"title":    n.Item.Title,
		"priority": n.Priority,
		"tone":     n.Tone,
	})
	if e.log != nil {
		e.log.Info("narration started",
			zap.String("session", e.sessionID),
			zap.String("narration", n.ID),
			zap.String("priority", string(n.Priority)),
		)
	}

	e.runner.After(timerWatchdog, watchdog, func() { e.onWatchdog(seq) })

	go e.runStream(ctx, seq, n)
}

// runStream executes the provider call and routes the outcome back into
// the state machine.
func (e *Engine) runStream(ctx context.Context, seq uint64, n *Narration) {
	threadSummary := ""
	indicator := ""
	if n.Thread != nil && n.Thread.IsUpdate {
		indicator = n.Thread.Indicator
		if e.threadSummary != nil {
			threadSummary = e.threadSummary(n.Thread.ThreadID)
		}
	}
	systemPrompt, prompt := llm.BuildNarrationPrompt(llm.NarrationRequest{
		Title:           n.Item.Title,
		Body:            n.Item.Body,
		Author:          n.Item.Author,
		Platform:        n.Item.Platform,
		Tone:            string(n.Tone),
		ThreadIndicator: indicator,
		ThreadSummary:   threadSummary,
		CustomPrompt:    n.Item.CustomPrompt,
	})

	first := true
	text, err := e.client.GenerateStream(ctx, systemPrompt, prompt, llm.Options{}, func(delta string) {
		e.onChunk(seq, n, delta, &first)
	})

	if err != nil {
		e.failCurrent(seq, n, err)
		return
	}
	e.completeCurrent(seq, n, text)
}

// onChunk relays one streamed delta. The first chunk cancels the
// watchdog.
func (e *Engine) onChunk(seq uint64, n *Narration, delta string, first *bool) {
	e.mu.Lock()
	if !e.stillCurrentLocked(seq) {
		e.mu.Unlock()
		return
	}
	if *first {
		*first = false
		e.runner.Cancel(timerWatchdog)
	}
	n.Segments = append(n.Segments, delta)
	n.Text += delta
	currentText := n.Text
	e.mu.Unlock()

	e.publish(EventNarrationStreaming, map[string]interface{}{
		"id":           n.ID,
		"current_text": currentText,
	})
}

// onWatchdog fires when no first chunk arrived in time. The attempt is
// unconditionally cleared even if the upstream would eventually have
// answered; liveness wins over completeness.
func (e *Engine) onWatchdog(seq uint64) {
	e.mu.Lock()
	if !e.stillCurrentLocked(seq) || e.state != StateStreaming {
		e.mu.Unlock()
		return
	}
	n := e.current
	cancel := e.cancelStream
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.failCurrent(seq, n, errWatchdogTimeout)
}

// completeCurrent freezes the narration, persists it, and schedules the
// return to idle after the post-narration pause.
func (e *Engine) completeCurrent(seq uint64, n *Narration, text string) {
	e.mu.Lock()
	if !e.stillCurrentLocked(seq) {
		e.mu.Unlock()
		return
	}
	e.runner.Cancel(timerWatchdog)
	e.state = StateCompleting
	e.seq++
	nextSeq := e.seq
	e.current = nil
	e.cancelStream = nil
	e.lastCompletedAt = time.Now()
	e.processed++
	pause := e.timing.PostNarrationPause

	n.Text = text
	n.DurationEstimate = estimateDurationMS(text)
	e.mu.Unlock()

	if e.onComplete != nil {
		e.onComplete(n)
	}
	e.publish(EventNarrationCompleted, map[string]interface{}{
		"id":          n.ID,
		"full_text":   text,
		"duration_ms": n.DurationEstimate,
	})
	if e.log != nil {
		e.log.Info("narration completed",
			zap.String("session", e.sessionID),
			zap.String("narration", n.ID),
			zap.Int("chars", len(text)),
		)
	}

	e.runner.After(timerPause, pause, func() {
		e.mu.Lock()
		if e.active && e.seq == nextSeq {
			e.state = StateIdle
		}
		e.mu.Unlock()
		e.Kick()
	})
}

// failCurrent classifies the error and either re-enqueues the narration
// with a backoff or drops it after the retry ceiling.
func (e *Engine) failCurrent(seq uint64, n *Narration, cause error) {
	e.mu.Lock()
	if !e.stillCurrentLocked(seq) {
		e.mu.Unlock()
		return
	}
	e.runner.Cancel(timerWatchdog)
	e.state = StateFailing
	e.seq++
	e.current = nil
	e.cancelStream = nil
	e.errorCount++
	n.Attempts++

	kind := llm.Classify(cause)
	if errors.Is(cause, errWatchdogTimeout) {
		kind = llm.ErrTimeout
	}
	if kind == llm.ErrRateLimit {
		e.rateLimitHits++
	}
	retry := n.Attempts < e.maxRetries
	e.state = StateIdle
	e.mu.Unlock()

	e.publish(EventNarrationError, map[string]interface{}{
		"id":       n.ID,
		"error":    cause.Error(),
		"attempts": n.Attempts,
		"retry":    retry,
	})
	if e.log != nil {
		e.log.Warn("narration failed",
			zap.String("session", e.sessionID),
			zap.String("narration", n.ID),
			zap.Int("attempts", n.Attempts),
			zap.Bool("retry", retry),
			zap.Error(cause),
		)
	}

	if !retry {
		if e.onDrop != nil {
			e.onDrop(n, cause.Error())
		}
		e.Kick()
		return
	}

	// Reset the partial text before the retry attempt.
	n.Text = ""
	n.Segments = nil

	delay := backoffFor(kind)
	e.runner.After("retry:"+n.ID, delay, func() {
		if err := e.queue.PromoteFront(n); err != nil {
			if e.onDrop != nil {
				e.onDrop(n, "queue full on retry")
			}
			return
		}
		e.Kick()
	})

	// Let the queue move on while the failed narration waits out its
	// backoff.
	e.Kick()
}

func backoffFor(kind llm.ErrorKind) time.Duration {
	switch kind {
	case llm.ErrRateLimit:
		return backoffRateLimit
	case llm.ErrOverloaded:
		return backoffOverload
	default:
		return backoffGeneric
	}
}

func estimateDurationMS(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return words * 60000 / spokenWordsPerMinute
}

func (e *Engine) publish(name string, payload interface{}) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.Publish(Event{Name: name, SessionID: e.sessionID, Payload: payload})
}

// SetTiming swaps the pacing bundle. Takes effect from the next
// transition.
func (e *Engine) SetTiming(t Timing) {
	e.mu.Lock()
	e.timing = t
	e.mu.Unlock()
}

// SetPublishingPaused gates new stream starts. The in-flight narration,
// if any, is allowed to finish.
func (e *Engine) SetPublishingPaused(paused bool) {
	e.mu.Lock()
	e.publishPaused = paused
	e.mu.Unlock()
	if !paused {
		e.Kick()
	}
}

// State returns the engine's current state.
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Current returns a compact view of the in-flight narration, or nil.
func (e *Engine) Current() *QueueEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	return &QueueEntry{
		ID:       e.current.ID,
		ItemID:   e.current.ItemID,
		Title:    e.current.Item.Title,
		Priority: e.current.Priority,
		Tone:     e.current.Tone,
	}
}

// CurrentAge reports how long the in-flight narration has been running.
func (e *Engine) CurrentAge() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.state != StateStreaming {
		return 0
	}
	return time.Since(e.currentStarted)
}

// Processed reports completed narration count.
func (e *Engine) Processed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processed
}

// ErrorCount reports failed attempts since the last reset.
func (e *Engine) ErrorCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errorCount
}

// RateLimitHits reports upstream 429 responses since the last reset.
func (e *Engine) RateLimitHits() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rateLimitHits
}

// ResetCounters zeroes the error and rate-limit counters. Called by the
// health monitor after a sample so counts are per-interval.
func (e *Engine) ResetCounters() {
	e.mu.Lock()
	e.errorCount = 0
	e.rateLimitHits = 0
	e.mu.Unlock()
}
