package health

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/echocast/core/internal/config"
)

type fakeController struct {
	mu sync.Mutex

	ingestionPauses   int
	ingestionResumes  int
	publishingPauses  int
	publishingResumes int
	emergencyStops    int
	emergencyResets   int
}

func (f *fakeController) PauseIngestion(string)  { f.mu.Lock(); f.ingestionPauses++; f.mu.Unlock() }
func (f *fakeController) ResumeIngestion()       { f.mu.Lock(); f.ingestionResumes++; f.mu.Unlock() }
func (f *fakeController) PausePublishing(string) { f.mu.Lock(); f.publishingPauses++; f.mu.Unlock() }
func (f *fakeController) ResumePublishing()      { f.mu.Lock(); f.publishingResumes++; f.mu.Unlock() }
func (f *fakeController) EmergencyStop(string)   { f.mu.Lock(); f.emergencyStops++; f.mu.Unlock() }
func (f *fakeController) ResetEmergency()        { f.mu.Lock(); f.emergencyResets++; f.mu.Unlock() }

type fakeMetrics struct {
	queueLen      int
	queueMax      int
	oldestAge     time.Duration
	stuckAge      time.Duration
	errors        int64
	rateLimits    int64
	rejections    int64
	windowsResets int
}

func (f *fakeMetrics) QueueLen() int                { return f.queueLen }
func (f *fakeMetrics) QueueMax() int                { return f.queueMax }
func (f *fakeMetrics) OldestItemAge() time.Duration { return f.oldestAge }
func (f *fakeMetrics) StreamStuckAge() time.Duration {
	return f.stuckAge
}
func (f *fakeMetrics) ErrorCount() int64    { return f.errors }
func (f *fakeMetrics) RateLimitHits() int64 { return f.rateLimits }
func (f *fakeMetrics) Rejections() int64    { return f.rejections }
func (f *fakeMetrics) ResetWindowCounters() {
	f.windowsResets++
	f.errors = 0
	f.rateLimits = 0
	f.rejections = 0
}

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		IntervalSeconds:   15,
		StuckAfterSeconds: 120,
		ErrorThreshold:    5,
		MemoryMaxPercent:  85,
		MemoryBudgetMB:    512,
	}
}

func newTestWhistleblower(metrics *fakeMetrics) (*Whistleblower, *fakeController) {
	ctrl := &fakeController{}
	w := New(testHealthConfig(), ctrl, metrics, nil, nil, zap.NewNop())
	w.memPercent = func() float64 { return 10 }
	return w, ctrl
}

func TestHealthyWithNoIssues(t *testing.T) {
	w, _ := newTestWhistleblower(&fakeMetrics{queueLen: 3, queueMax: 50})
	report := w.Sample()
	if report.Status != StatusHealthy {
		t.Fatalf("status = %q, want healthy", report.Status)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("issues = %v, want none", report.Issues)
	}
}

func TestWarningOnErrorsAndRateLimits(t *testing.T) {
	metrics := &fakeMetrics{queueLen: 3, queueMax: 50, errors: 9, rateLimits: 2}
	w, ctrl := newTestWhistleblower(metrics)

	report := w.Sample()
	if report.Status != StatusWarning {
		t.Fatalf("status = %q, want warning", report.Status)
	}
	if len(report.Issues) != 2 {
		t.Fatalf("issues = %v, want error and rate limit entries", report.Issues)
	}
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.publishingPauses != 0 {
		t.Fatal("warning must not trigger backpressure")
	}
	if metrics.windowsResets != 1 {
		t.Fatal("window counters not reset after sample")
	}
}

func TestCriticalQueueOverflowPausesBoth(t *testing.T) {
	metrics := &fakeMetrics{queueLen: 60, queueMax: 50}
	w, ctrl := newTestWhistleblower(metrics)

	report := w.Sample()
	if report.Status != StatusCritical {
		t.Fatalf("status = %q, want critical", report.Status)
	}
	ctrl.mu.Lock()
	if ctrl.publishingPauses != 1 || ctrl.ingestionPauses != 1 {
		t.Fatalf("pauses = pub %d / ing %d, want 1 / 1", ctrl.publishingPauses, ctrl.ingestionPauses)
	}
	ctrl.mu.Unlock()
}

func TestCriticalStuckStreamPausesPublishingOnly(t *testing.T) {
	metrics := &fakeMetrics{queueLen: 3, queueMax: 50, stuckAge: 5 * time.Minute}
	w, ctrl := newTestWhistleblower(metrics)

	report := w.Sample()
	if report.Status != StatusCritical {
		t.Fatalf("status = %q, want critical", report.Status)
	}
	ctrl.mu.Lock()
	if ctrl.publishingPauses != 1 {
		t.Fatal("publishing not paused for stuck stream")
	}
	if ctrl.ingestionPauses != 0 {
		t.Fatal("ingestion paused without queue overflow")
	}
	ctrl.mu.Unlock()
}

func TestCriticalOldestItemAgePausesPublishingOnly(t *testing.T) {
	// Queue well under capacity, nothing in flight, but the head of the
	// queue has been waiting past the stuck threshold.
	metrics := &fakeMetrics{queueLen: 3, queueMax: 50, oldestAge: 10 * time.Minute}
	w, ctrl := newTestWhistleblower(metrics)

	report := w.Sample()
	if report.Status != StatusCritical {
		t.Fatalf("status = %q, want critical", report.Status)
	}
	ctrl.mu.Lock()
	if ctrl.publishingPauses != 1 {
		t.Fatal("publishing not paused for stale queue head")
	}
	if ctrl.ingestionPauses != 0 {
		t.Fatal("ingestion paused without queue overflow")
	}
	ctrl.mu.Unlock()
}

func TestWarningOnQueueRejections(t *testing.T) {
	metrics := &fakeMetrics{queueLen: 3, queueMax: 50, rejections: 4}
	w, ctrl := newTestWhistleblower(metrics)

	report := w.Sample()
	if report.Status != StatusWarning {
		t.Fatalf("status = %q, want warning", report.Status)
	}
	if report.Metrics.Rejections != 4 {
		t.Fatalf("rejections = %d, want 4", report.Metrics.Rejections)
	}
	ctrl.mu.Lock()
	if ctrl.publishingPauses != 0 {
		t.Fatal("warning must not trigger backpressure")
	}
	ctrl.mu.Unlock()
	if metrics.rejections != 0 {
		t.Fatal("rejection counter not reset after sample")
	}
}

func TestBackpressureHysteresis(t *testing.T) {
	metrics := &fakeMetrics{queueLen: 60, queueMax: 50}
	w, ctrl := newTestWhistleblower(metrics)

	w.Sample()
	w.Sample() // still critical, no second activation event path

	metrics.queueLen = 5
	w.Sample()
	w.Sample() // already healthy, no second deactivation

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if ctrl.publishingResumes != 1 {
		t.Fatalf("publishing resumes = %d, want exactly 1", ctrl.publishingResumes)
	}
	if ctrl.ingestionResumes != 1 {
		t.Fatalf("ingestion resumes = %d, want exactly 1", ctrl.ingestionResumes)
	}
}

func TestEmergencyLatch(t *testing.T) {
	metrics := &fakeMetrics{queueLen: 120, queueMax: 50}
	w, ctrl := newTestWhistleblower(metrics)

	report := w.Sample()
	if report.Status != StatusEmergency {
		t.Fatalf("status = %q, want emergency", report.Status)
	}
	ctrl.mu.Lock()
	if ctrl.emergencyStops != 1 {
		t.Fatalf("emergency stops = %d, want 1", ctrl.emergencyStops)
	}
	ctrl.mu.Unlock()

	// Even a clean sample stays emergency until explicit reset.
	metrics.queueLen = 0
	report = w.Sample()
	if report.Status != StatusEmergency {
		t.Fatalf("status = %q after clean sample, want latched emergency", report.Status)
	}
	ctrl.mu.Lock()
	if ctrl.emergencyStops != 1 {
		t.Fatal("emergency stop fired again while latched")
	}
	ctrl.mu.Unlock()

	w.Reset()
	ctrl.mu.Lock()
	if ctrl.emergencyResets != 1 {
		t.Fatal("reset did not reach the controller")
	}
	ctrl.mu.Unlock()

	report = w.Sample()
	if report.Status != StatusHealthy {
		t.Fatalf("status = %q after reset, want healthy", report.Status)
	}
}

func TestHistoryBounded(t *testing.T) {
	w, _ := newTestWhistleblower(&fakeMetrics{queueLen: 1, queueMax: 50})
	for i := 0; i < historyLimit+20; i++ {
		w.Sample()
	}
	if got := len(w.History()); got != historyLimit {
		t.Fatalf("history len = %d, want %d", got, historyLimit)
	}
}

func TestSampleSurvivesPanickingMetrics(t *testing.T) {
	ctrl := &fakeController{}
	w := New(testHealthConfig(), ctrl, panickingMetrics{}, nil, nil, zap.NewNop())
	w.memPercent = func() float64 { return 10 }

	report := w.Sample()
	if report.Status != StatusHealthy {
		t.Fatalf("status = %q, want healthy fallback after panic", report.Status)
	}
}

type panickingMetrics struct{}

func (panickingMetrics) QueueLen() int                 { panic("metrics backend down") }
func (panickingMetrics) QueueMax() int                 { return 50 }
func (panickingMetrics) OldestItemAge() time.Duration  { return 0 }
func (panickingMetrics) StreamStuckAge() time.Duration { return 0 }
func (panickingMetrics) ErrorCount() int64             { return 0 }
func (panickingMetrics) RateLimitHits() int64          { return 0 }
func (panickingMetrics) Rejections() int64             { return 0 }
func (panickingMetrics) ResetWindowCounters()          {}
