package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/echocast/core/internal/config"
	"github.com/echocast/core/internal/models"
	"github.com/echocast/core/internal/modules/pipeline"
)

// Status is the pipeline health level. The order is total:
// healthy < warning < critical < emergency.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
	StatusEmergency Status = "emergency"
)

func rank(s Status) int {
	switch s {
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	case StatusEmergency:
		return 3
	default:
		return 0
	}
}

// Controller is the backpressure surface the monitor drives. The
// pipeline service implements it.
type Controller interface {
	PauseIngestion(reason string)
	ResumeIngestion()
	PausePublishing(reason string)
	ResumePublishing()
	EmergencyStop(reason string)
	ResetEmergency()
}

// MetricsSource exposes the pipeline counters the monitor samples. The
// window counters (errors, rate limits, rejections) are reset after
// each sample.
type MetricsSource interface {
	QueueLen() int
	QueueMax() int
	OldestItemAge() time.Duration
	StreamStuckAge() time.Duration
	ErrorCount() int64
	RateLimitHits() int64
	Rejections() int64
	ResetWindowCounters()
}

// Metrics is one sampled snapshot.
type Metrics struct {
	QueueLength     int     `json:"queue_length"`
	QueueMax        int     `json:"queue_max"`
	OldestItemAgeMS int64   `json:"oldest_item_age_ms"`
	StuckAgeMS      int64   `json:"stuck_age_ms"`
	ErrorCount      int64   `json:"error_count"`
	RateLimitHits   int64   `json:"rate_limit_hits"`
	Rejections      int64   `json:"rejections"`
	MemoryPercent   float64 `json:"memory_percent"`
}

// Report is one health evaluation.
type Report struct {
	Status          Status    `json:"status"`
	Issues          []string  `json:"issues"`
	Recommendations []string  `json:"recommendations"`
	Metrics         Metrics   `json:"metrics"`
	Timestamp       time.Time `json:"timestamp"`
}

const historyLimit = 100

// Whistleblower watches the pipeline and forces backpressure when
// thresholds are breached. It never panics; a bad sample is treated as
// no new issue.
type Whistleblower struct {
	cfg        config.HealthConfig
	controller Controller
	metrics    MetricsSource
	dispatcher *pipeline.Dispatcher
	db         *gorm.DB
	log        *zap.Logger

	// memPercent is swappable in tests.
	memPercent func() float64

	mu                 sync.Mutex
	history            []Report
	backpressureActive bool
	ingestionPaused    bool
	emergencyLatched   bool
}

// New creates a whistleblower. dispatcher and db may be nil.
func New(cfg config.HealthConfig, controller Controller, metrics MetricsSource, dispatcher *pipeline.Dispatcher, db *gorm.DB, log *zap.Logger) *Whistleblower {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Whistleblower{
		cfg:        cfg,
		controller: controller,
		metrics:    metrics,
		dispatcher: dispatcher,
		db:         db,
		log:        log,
	}
	w.memPercent = w.heapPercent
	return w
}

// Run samples on the configured interval until the context is done.
func (w *Whistleblower) Run(ctx context.Context) {
	interval := time.Duration(w.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sample()
		}
	}
}

// Sample takes one metrics snapshot, derives a report, applies
// backpressure effects, and records the report. Any panic inside is
// swallowed so the monitor itself can never take the pipeline down.
func (w *Whistleblower) Sample() (report Report) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("health sample panicked", zap.Any("error", r))
			report = Report{Status: StatusHealthy, Timestamp: time.Now()}
		}
	}()

	m := w.collect()
	report = w.evaluate(m)
	w.apply(report)
	w.record(report)
	w.metrics.ResetWindowCounters()
	return report
}

func (w *Whistleblower) collect() Metrics {
	return Metrics{
		QueueLength:     w.metrics.QueueLen(),
		QueueMax:        w.queueMax(),
		OldestItemAgeMS: w.metrics.OldestItemAge().Milliseconds(),
		StuckAgeMS:      w.metrics.StreamStuckAge().Milliseconds(),
		ErrorCount:      w.metrics.ErrorCount(),
		RateLimitHits:   w.metrics.RateLimitHits(),
		Rejections:      w.metrics.Rejections(),
		MemoryPercent:   w.memPercent(),
	}
}

func (w *Whistleblower) queueMax() int {
	if w.cfg.QueueMax > 0 {
		return w.cfg.QueueMax
	}
	return w.metrics.QueueMax()
}

// evaluate applies the ordered rules and escalates status as they
// trigger. Healthy is only reached with zero issues.
func (w *Whistleblower) evaluate(m Metrics) Report {
	report := Report{
		Status:    StatusHealthy,
		Metrics:   m,
		Timestamp: time.Now(),
	}
	escalate := func(s Status, issue, recommendation string) {
		report.Issues = append(report.Issues, issue)
		if recommendation != "" {
			report.Recommendations = append(report.Recommendations, recommendation)
		}
		if rank(s) > rank(report.Status) {
			report.Status = s
		}
	}

	max := m.QueueMax
	stuckAfter := time.Duration(w.cfg.StuckAfterSeconds) * time.Second

	if max > 0 && m.QueueLength > 2*max {
		escalate(StatusEmergency,
			fmt.Sprintf("queue length %d exceeds twice the maximum %d", m.QueueLength, max),
			"emergency shutdown: stop ingestion and clear queues")
	} else if max > 0 && m.QueueLength > max {
		escalate(StatusCritical,
			fmt.Sprintf("queue length %d exceeds maximum %d", m.QueueLength, max),
			"pause ingestion until the queue drains")
	}
	if stuckAfter > 0 && m.StuckAgeMS > stuckAfter.Milliseconds() {
		escalate(StatusCritical,
			fmt.Sprintf("narration in flight for %dms, stuck threshold %s", m.StuckAgeMS, stuckAfter),
			"pause publishing and let the watchdog clear the stream")
	}
	if stuckAfter > 0 && m.OldestItemAgeMS > stuckAfter.Milliseconds() {
		escalate(StatusCritical,
			fmt.Sprintf("oldest queued narration waiting %dms, stuck threshold %s", m.OldestItemAgeMS, stuckAfter),
			"resume publishing or clear the queue")
	}
	if w.cfg.ErrorThreshold > 0 && m.ErrorCount > int64(w.cfg.ErrorThreshold) {
		escalate(StatusWarning,
			fmt.Sprintf("%d upstream errors this interval", m.ErrorCount),
			"check provider status and credentials")
	}
	if m.RateLimitHits > 0 {
		escalate(StatusWarning,
			fmt.Sprintf("%d rate limit hits this interval", m.RateLimitHits),
			"slow the timing preset or reduce requests per minute")
	}
	if m.Rejections > 0 {
		escalate(StatusWarning,
			fmt.Sprintf("%d narrations rejected at queue capacity this interval", m.Rejections),
			"drain the queue or raise the queue maximum")
	}
	if w.cfg.MemoryMaxPercent > 0 && m.MemoryPercent > w.cfg.MemoryMaxPercent {
		escalate(StatusWarning,
			fmt.Sprintf("memory at %.1f%% of budget", m.MemoryPercent),
			"clear caches or raise the memory budget")
	}

	w.mu.Lock()
	latched := w.emergencyLatched
	w.mu.Unlock()
	if latched && rank(report.Status) < rank(StatusEmergency) {
		report.Status = StatusEmergency
		report.Issues = append(report.Issues, "emergency latch set, awaiting explicit reset")
	}
	return report
}

// apply turns a report into backpressure actions. Critical pauses
// publishing always and ingestion only when the trigger was queue
// overflow. Deactivation is debounced: one clean sample releases it
// exactly once. Emergency latches until Reset.
func (w *Whistleblower) apply(report Report) {
	queueOverflow := report.Metrics.QueueMax > 0 && report.Metrics.QueueLength > report.Metrics.QueueMax

	switch report.Status {
	case StatusEmergency:
		w.mu.Lock()
		already := w.emergencyLatched
		w.emergencyLatched = true
		w.backpressureActive = false
		w.ingestionPaused = false
		w.mu.Unlock()
		if !already {
			reason := "health monitor escalation"
			if len(report.Issues) > 0 {
				reason = report.Issues[0]
			}
			w.log.Error("emergency escalation", zap.Strings("issues", report.Issues))
			w.controller.EmergencyStop(reason)
		}

	case StatusCritical:
		w.mu.Lock()
		already := w.backpressureActive
		w.backpressureActive = true
		w.ingestionPaused = w.ingestionPaused || queueOverflow
		pauseIngestion := queueOverflow
		w.mu.Unlock()

		w.controller.PausePublishing("health: " + firstIssue(report))
		if pauseIngestion {
			w.controller.PauseIngestion("health: queue overflow")
		}
		if !already {
			w.publish(pipeline.Event{Name: pipeline.EventBackpressureOn, Payload: map[string]interface{}{
				"level":        string(report.Status),
				"restrictions": restrictions(true, pauseIngestion),
				"issues":       report.Issues,
			}})
			w.log.Warn("backpressure activated", zap.Strings("issues", report.Issues))
		}

	case StatusHealthy:
		w.mu.Lock()
		wasActive := w.backpressureActive
		wasIngestion := w.ingestionPaused
		w.backpressureActive = false
		w.ingestionPaused = false
		w.mu.Unlock()

		if wasActive {
			w.controller.ResumePublishing()
			if wasIngestion {
				w.controller.ResumeIngestion()
			}
			w.publish(pipeline.Event{Name: pipeline.EventBackpressureOff, Payload: map[string]interface{}{
				"level": string(StatusHealthy),
			}})
			w.log.Info("backpressure deactivated")
		}
	}
}

func (w *Whistleblower) record(report Report) {
	w.mu.Lock()
	w.history = append(w.history, report)
	if len(w.history) > historyLimit {
		w.history = w.history[len(w.history)-historyLimit:]
	}
	w.mu.Unlock()

	if w.db != nil {
		model := models.HealthReportModel{
			Status:          string(report.Status),
			Issues:          report.Issues,
			Recommendations: report.Recommendations,
			QueueLength:     report.Metrics.QueueLength,
			OldestItemAgeMS: report.Metrics.OldestItemAgeMS,
			ErrorCount:      int(report.Metrics.ErrorCount),
			RateLimitHits:   int(report.Metrics.RateLimitHits),
			Rejections:      int(report.Metrics.Rejections),
			MemoryPercent:   report.Metrics.MemoryPercent,
		}
		if err := w.db.Create(&model).Error; err != nil {
			w.log.Warn("persist health report failed", zap.Error(err))
		}
	}
}

// Reset lifts the emergency latch and restarts the pipeline.
func (w *Whistleblower) Reset() {
	w.mu.Lock()
	latched := w.emergencyLatched
	w.emergencyLatched = false
	w.backpressureActive = false
	w.ingestionPaused = false
	w.mu.Unlock()

	if latched {
		w.controller.ResetEmergency()
		w.log.Info("emergency latch reset")
	}
}

// Current returns the most recent report, or a healthy placeholder when
// no sample has run yet.
func (w *Whistleblower) Current() Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.history) == 0 {
		return Report{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return w.history[len(w.history)-1]
}

// History returns up to the last 100 reports, oldest first.
func (w *Whistleblower) History() []Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Report(nil), w.history...)
}

func (w *Whistleblower) heapPercent() float64 {
	budget := w.cfg.MemoryBudgetMB
	if budget <= 0 {
		return 0
	}
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return float64(stats.HeapAlloc) / float64(budget*1024*1024) * 100
}

func (w *Whistleblower) publish(evt pipeline.Event) {
	if w.dispatcher != nil {
		w.dispatcher.Publish(evt)
	}
}

func firstIssue(report Report) string {
	if len(report.Issues) > 0 {
		return report.Issues[0]
	}
	return "unspecified"
}

func restrictions(publishing, ingestion bool) []string {
	out := make([]string, 0, 2)
	if publishing {
		out = append(out, "publishing_paused")
	}
	if ingestion {
		out = append(out, "ingestion_paused")
	}
	return out
}
