package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/echocast/core/internal/config"
	"github.com/echocast/core/internal/models"
	"github.com/echocast/core/internal/modules/llm"
	"github.com/echocast/core/internal/pkg/snapshotstore"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrIngestionPaused = errors.New("ingestion is paused")
	ErrEmergencyActive = errors.New("emergency shutdown is active")
)

// ProcessResult reports what happened to a submitted item.
type ProcessResult struct {
	Accepted    bool        `json:"accepted"`
	Duplicate   bool        `json:"duplicate"`
	DedupReason string      `json:"dedup_reason,omitempty"`
	Rejected    bool        `json:"rejected"`
	NarrationID string      `json:"narration_id,omitempty"`
	Priority    Priority    `json:"priority,omitempty"`
	Tone        Tone        `json:"tone,omitempty"`
	Thread      *ThreadInfo `json:"thread,omitempty"`
}

// session binds one queue/engine pair to a logical session id.
type session struct {
	id        string
	queue     *Queue
	engine    *Engine
	startedAt time.Time

	mu         sync.Mutex
	transcript strings.Builder
	narrations int
}

// Service is the narration pipeline. It owns the session registry, the
// process-wide dedup detector and thread tracker, and the control
// surface used by the HTTP layer and the health monitor.
type Service struct {
	cfg        config.PipelineConfig
	client     llm.Client
	dispatcher *Dispatcher
	detector   *Detector
	tracker    *Tracker
	snapshots  snapshotstore.Store
	db         *gorm.DB
	log        *zap.Logger

	mu              sync.Mutex
	sessions        map[string]*session
	timing          Timing
	preset          string
	ingestionPaused bool
	publishPaused   bool
	emergency       bool
	emergencyReason string
	rejections      int64
}

// NewService wires the pipeline. db and snapshots may be nil in tests;
// persistence is skipped when absent.
func NewService(cfg config.PipelineConfig, client llm.Client, dispatcher *Dispatcher, snapshots snapshotstore.Store, db *gorm.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:        cfg,
		client:     client,
		dispatcher: dispatcher,
		detector:   NewDetector(cfg.Dedup),
		tracker:    NewTracker(cfg.Threads),
		snapshots:  snapshots,
		db:         db,
		log:        log,
		sessions:   make(map[string]*session),
		timing:     PresetTiming(cfg.Preset).WithRPM(cfg.RequestsPerMinute),
		preset:     cfg.Preset,
	}
}

// Start creates (or resumes) a session. A previously stopped session
// with the same id gets its queue snapshot restored so unfinished work
// resumes in order.
func (s *Service) Start(sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	if s.emergency {
		s.mu.Unlock()
		return "", ErrEmergencyActive
	}
	if existing, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		existing.engine.Start()
		return sessionID, nil
	}

	sess := &session{
		id:        sessionID,
		queue:     NewQueue(s.cfg.QueueMax),
		startedAt: time.Now(),
	}
	sess.engine = NewEngine(EngineConfig{
		SessionID:     sessionID,
		Queue:         sess.queue,
		Client:        s.client,
		Dispatcher:    s.dispatcher,
		Timing:        s.timing,
		MaxRetries:    s.cfg.MaxRetries,
		Logger:        s.log,
		OnComplete:    func(n *Narration) { s.handleCompleted(sess, n) },
		OnDrop:        func(n *Narration, reason string) { s.handleDropped(sess, n, reason) },
		ThreadSummary: s.tracker.Summary,
	})
	if s.publishPaused {
		sess.engine.SetPublishingPaused(true)
	}
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	s.restoreSnapshot(sess)
	s.persistSessionStart(sessionID)
	sess.engine.Start()

	s.log.Info("session started", zap.String("session", sessionID), zap.Int("restored", sess.queue.Len()))
	return sessionID, nil
}

// Stop halts a session, snapshots its remaining queue, and persists the
// accumulated transcript. The in-flight stream, if any, finishes in the
// background with its result discarded.
func (s *Service) Stop(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.engine.Stop()
	s.saveSnapshot(sess)
	s.persistSessionStop(sess)

	s.log.Info("session stopped", zap.String("session", sessionID), zap.Int("queued", sess.queue.Len()))
	return nil
}

// ProcessItem runs the full ingestion flow: dedup gate, thread
// classification, scoring, enqueue. Per-item upstream failures never
// surface here; only control-state rejections do.
func (s *Service) ProcessItem(ctx context.Context, sessionID string, item ContentItem) (*ProcessResult, error) {
	s.mu.Lock()
	if s.emergency {
		s.mu.Unlock()
		return nil, ErrEmergencyActive
	}
	if s.ingestionPaused {
		s.mu.Unlock()
		return nil, ErrIngestionPaused
	}
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Body = FlattenMarkdown(item.Body)

	if res := s.detector.Check(item); res.Duplicate {
		s.persistContentItem(item, true, res.Reason)
		s.log.Debug("duplicate rejected",
			zap.String("item", item.ID),
			zap.String("reason", res.Reason),
			zap.String("matched", res.MatchedID),
		)
		return &ProcessResult{Duplicate: true, DedupReason: res.Reason}, nil
	}

	analysis := s.analyze(ctx, item)
	thread := s.tracker.Classify(item, analysis)
	score := ScoreItem(item, analysis)

	narration := &Narration{
		ID:        uuid.NewString(),
		ItemID:    item.ID,
		SessionID: sessionID,
		Item:      item,
		Priority:  score.Priority,
		Tone:      score.Tone,
		Thread:    &thread,
		Analysis:  analysis,
		CreatedAt: time.Now(),
	}

	s.publish(Event{Name: EventThreadProcessed, SessionID: sessionID, Payload: map[string]interface{}{
		"thread_id":     thread.ThreadID,
		"post_id":       item.ID,
		"is_new_thread": thread.IsNewThread,
		"is_update":     thread.IsUpdate,
		"update_type":   thread.UpdateType,
		"narration_id":  narration.ID,
	}})

	var err error
	if thread.IsUpdate {
		// Continuing stories run ahead of unrelated items in the same
		// priority tier.
		err = sess.queue.PromoteFront(narration)
	} else {
		err = sess.queue.Enqueue(narration)
	}
	if err != nil {
		s.mu.Lock()
		s.rejections++
		s.mu.Unlock()
		s.persistContentItem(item, false, "")
		s.log.Warn("queue full, item rejected",
			zap.String("session", sessionID),
			zap.String("item", item.ID),
		)
		return &ProcessResult{Rejected: true}, nil
	}

	s.persistContentItem(item, false, "")
	s.publish(Event{Name: EventNarrationQueued, SessionID: sessionID, Payload: map[string]interface{}{
		"item_id":      item.ID,
		"narration_id": narration.ID,
		"priority":     narration.Priority,
	}})
	s.publishQueueUpdate(sess)

	sess.engine.Kick()
	return &ProcessResult{
		Accepted:    true,
		NarrationID: narration.ID,
		Priority:    narration.Priority,
		Tone:        narration.Tone,
		Thread:      &thread,
	}, nil
}

// analyze asks the provider for content analysis and falls back to the
// local heuristic so ingestion never stalls on AI availability.
func (s *Service) analyze(ctx context.Context, item ContentItem) *llm.Analysis {
	analyzeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	analysis, err := s.client.Analyze(analyzeCtx, item.Title, item.Body)
	if err != nil || analysis == nil {
		if err != nil {
			s.log.Debug("analysis fell back to heuristic", zap.Error(err))
		}
		return llm.HeuristicAnalyze(item.Title, item.Body)
	}
	return analysis
}

func (s *Service) handleCompleted(sess *session, n *Narration) {
	sess.mu.Lock()
	if sess.transcript.Len() > 0 {
		sess.transcript.WriteString("\n\n")
	}
	sess.transcript.WriteString(n.Text)
	sess.narrations++
	sess.mu.Unlock()

	s.persistNarration(n, "completed", "")
	s.publishQueueUpdate(sess)
}

func (s *Service) handleDropped(sess *session, n *Narration, reason string) {
	s.persistNarration(n, "dropped", reason)
	s.publishQueueUpdate(sess)
}

// ClearQueue empties a session's pending queue.
func (s *Service) ClearQueue(sessionID string) (int, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return 0, err
	}
	dropped := sess.queue.Clear()
	s.publishQueueUpdate(sess)
	return dropped, nil
}

// Status returns the externally visible queue snapshot for a session.
func (s *Service) Status(sessionID string) (*QueueStatus, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.buildStatus(sess), nil
}

func (s *Service) buildStatus(sess *session) *QueueStatus {
	pending := sess.queue.Snapshot()
	entries := make([]QueueEntry, 0, len(pending))
	for _, n := range pending {
		entries = append(entries, QueueEntry{
			ID:       n.ID,
			ItemID:   n.ItemID,
			Title:    n.Item.Title,
			Priority: n.Priority,
			Tone:     n.Tone,
		})
	}

	s.mu.Lock()
	ingestion := s.ingestionPaused
	publishing := s.publishPaused
	s.mu.Unlock()

	return &QueueStatus{
		SessionID:        sess.id,
		Length:           len(entries),
		ByPriority:       sess.queue.CountByPriority(),
		Current:          sess.engine.Current(),
		Pending:          entries,
		OldestItemAgeMS:  sess.queue.OldestAge().Milliseconds(),
		IngestionPaused:  ingestion,
		PublishingPaused: publishing,
	}
}

func (s *Service) publishQueueUpdate(sess *session) {
	s.publish(Event{Name: EventQueueUpdated, SessionID: sess.id, Payload: s.buildStatus(sess)})
}

// SetPreset switches the timing preset for all sessions.
func (s *Service) SetPreset(name string) error {
	if _, ok := presets[name]; !ok {
		return fmt.Errorf("unknown preset %q", name)
	}
	s.mu.Lock()
	s.preset = name
	s.timing = PresetTiming(name).WithRPM(s.cfg.RequestsPerMinute)
	timing := s.timing
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.engine.SetTiming(timing)
	}
	s.log.Info("timing preset changed", zap.String("preset", name))
	return nil
}

// Preset reports the active timing preset name.
func (s *Service) Preset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preset
}

// PauseIngestion stops accepting new items. Pending narrations still
// stream.
func (s *Service) PauseIngestion(reason string) {
	s.mu.Lock()
	changed := !s.ingestionPaused
	s.ingestionPaused = true
	s.mu.Unlock()
	if changed {
		s.log.Warn("ingestion paused", zap.String("reason", reason))
	}
}

// ResumeIngestion re-opens item intake.
func (s *Service) ResumeIngestion() {
	s.mu.Lock()
	changed := s.ingestionPaused
	s.ingestionPaused = false
	s.mu.Unlock()
	if changed {
		s.log.Info("ingestion resumed")
	}
}

// PausePublishing gates new stream starts on every session.
func (s *Service) PausePublishing(reason string) {
	s.mu.Lock()
	changed := !s.publishPaused
	s.publishPaused = true
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.engine.SetPublishingPaused(true)
	}
	if changed {
		s.log.Warn("publishing paused", zap.String("reason", reason))
	}
}

// ResumePublishing lets sessions stream again.
func (s *Service) ResumePublishing() {
	s.mu.Lock()
	changed := s.publishPaused
	s.publishPaused = false
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.engine.SetPublishingPaused(false)
	}
	if changed {
		s.log.Info("publishing resumed")
	}
}

// EmergencyStop halts everything: ingestion, streaming, queues, and the
// dedup cache. It does not auto-recover; ResetEmergency is required.
func (s *Service) EmergencyStop(reason string) {
	s.mu.Lock()
	if s.emergency {
		s.mu.Unlock()
		return
	}
	s.emergency = true
	s.emergencyReason = reason
	s.ingestionPaused = true
	s.publishPaused = true
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()

	cleared := 0
	for _, sess := range sessions {
		sess.engine.Stop()
		cleared += sess.queue.Clear()
	}
	s.detector.Clear()
	s.tracker.Clear()

	s.publish(Event{Name: EventEmergencyShutdown, Payload: map[string]interface{}{
		"reason":  reason,
		"actions": []string{"ingestion_stopped", "publishing_stopped", "queues_cleared", "caches_cleared"},
	}})
	s.log.Error("emergency shutdown",
		zap.String("reason", reason),
		zap.Int("cleared", cleared),
	)
}

// ResetEmergency lifts the emergency latch and restarts session engines.
func (s *Service) ResetEmergency() {
	s.mu.Lock()
	if !s.emergency {
		s.mu.Unlock()
		return
	}
	s.emergency = false
	s.emergencyReason = ""
	s.ingestionPaused = false
	s.publishPaused = false
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.engine.SetPublishingPaused(false)
		sess.engine.Start()
	}
	s.log.Info("emergency reset")
}

// EmergencyActive reports the emergency latch state and its reason.
func (s *Service) EmergencyActive() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emergency, s.emergencyReason
}

// Sessions lists active session ids.
func (s *Service) Sessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// CloseStaleThreads is driven by the scheduled janitor.
func (s *Service) CloseStaleThreads(maxIdle time.Duration) int {
	return s.tracker.CloseStale(maxIdle)
}

// Threads exposes open story threads for the retrieval API.
func (s *Service) Threads() []StoryThread {
	return s.tracker.Threads()
}

// Transcript returns the accumulated narration text for a session.
func (s *Service) Transcript(sessionID string) (string, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return "", err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.transcript.String(), nil
}

func (s *Service) lookup(sessionID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Service) snapshotSessionsLocked() []*session {
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *Service) publish(evt Event) {
	if s.dispatcher != nil {
		s.dispatcher.Publish(evt)
	}
}

// Metrics surface consumed by the health monitor.

// QueueLen sums pending narrations across sessions.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()
	total := 0
	for _, sess := range sessions {
		total += sess.queue.Len()
	}
	return total
}

// QueueMax is the configured per-session capacity ceiling.
func (s *Service) QueueMax() int {
	return s.cfg.QueueMax
}

// OldestItemAge is the longest wait among pending narrations.
func (s *Service) OldestItemAge() time.Duration {
	s.mu.Lock()
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()
	oldest := time.Duration(0)
	for _, sess := range sessions {
		if age := sess.queue.OldestAge(); age > oldest {
			oldest = age
		}
	}
	return oldest
}

// StreamStuckAge is the longest-running in-flight stream.
func (s *Service) StreamStuckAge() time.Duration {
	s.mu.Lock()
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()
	longest := time.Duration(0)
	for _, sess := range sessions {
		if age := sess.engine.CurrentAge(); age > longest {
			longest = age
		}
	}
	return longest
}

// ErrorCount sums engine failures since the last window reset.
func (s *Service) ErrorCount() int64 {
	s.mu.Lock()
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()
	var total int64
	for _, sess := range sessions {
		total += sess.engine.ErrorCount()
	}
	return total
}

// RateLimitHits sums upstream 429s since the last window reset.
func (s *Service) RateLimitHits() int64 {
	s.mu.Lock()
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()
	var total int64
	for _, sess := range sessions {
		total += sess.engine.RateLimitHits()
	}
	return total
}

// Rejections counts queue-capacity rejections since the last window
// reset.
func (s *Service) Rejections() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejections
}

// ResetWindowCounters zeroes per-interval counters after a health
// sample.
func (s *Service) ResetWindowCounters() {
	s.mu.Lock()
	s.rejections = 0
	sessions := s.snapshotSessionsLocked()
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.engine.ResetCounters()
	}
}

// Persistence helpers. All no-ops without a database.

func (s *Service) persistContentItem(item ContentItem, duplicate bool, reason string) {
	if s.db == nil {
		return
	}
	model := models.ContentItemModel{
		ExternalID:   item.ID,
		Title:        item.Title,
		Body:         item.Body,
		Author:       item.Author,
		Platform:     item.Platform,
		PublishedAt:  itemTime(item),
		Likes:        item.Likes,
		Comments:     item.Comments,
		Shares:       item.Shares,
		Subreddit:    item.Subreddit,
		URL:          item.URL,
		Hashtags:     item.Hashtags,
		CustomPrompt: item.CustomPrompt,
		Duplicate:    duplicate,
		DedupReason:  reason,
	}
	if err := s.db.Create(&model).Error; err != nil {
		s.log.Warn("persist content item failed", zap.Error(err))
	}
}

func (s *Service) persistNarration(n *Narration, status, failReason string) {
	if s.db == nil {
		return
	}
	threadID := ""
	if n.Thread != nil {
		threadID = n.Thread.ThreadID
	}
	model := models.NarrationModel{
		ItemID:           n.ItemID,
		SessionID:        n.SessionID,
		ThreadID:         threadID,
		Text:             n.Text,
		Segments:         n.Segments,
		Tone:             string(n.Tone),
		Priority:         string(n.Priority),
		DurationEstimate: n.DurationEstimate,
		Status:           status,
		FailReason:       failReason,
		Attempts:         n.Attempts,
	}
	if err := s.db.Create(&model).Error; err != nil {
		s.log.Warn("persist narration failed", zap.Error(err))
	}
}

func (s *Service) persistSessionStart(sessionID string) {
	if s.db == nil {
		return
	}
	model := models.SessionModel{SessionID: sessionID, StartedAt: time.Now()}
	if err := s.db.Where("session_id = ?", sessionID).FirstOrCreate(&model).Error; err != nil {
		s.log.Warn("persist session start failed", zap.Error(err))
	}
}

func (s *Service) persistSessionStop(sess *session) {
	if s.db == nil {
		return
	}
	sess.mu.Lock()
	transcript := sess.transcript.String()
	narrations := sess.narrations
	sess.mu.Unlock()

	now := time.Now()
	err := s.db.Model(&models.SessionModel{}).
		Where("session_id = ?", sess.id).
		Updates(map[string]interface{}{
			"transcript": transcript,
			"stopped_at": &now,
			"narrations": narrations,
		}).Error
	if err != nil {
		s.log.Warn("persist session stop failed", zap.Error(err))
	}
}

func (s *Service) saveSnapshot(sess *session) {
	if s.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.snapshots.Save(ctx, sess.id, sess.queue.Snapshot()); err != nil {
		s.log.Warn("queue snapshot save failed", zap.String("session", sess.id), zap.Error(err))
	}
}

func (s *Service) restoreSnapshot(sess *session) {
	if s.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var pending []*Narration
	err := s.snapshots.Load(ctx, sess.id, &pending)
	if errors.Is(err, snapshotstore.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Warn("queue snapshot restore failed", zap.String("session", sess.id), zap.Error(err))
		return
	}
	if len(pending) > 0 {
		sess.queue.Restore(pending)
		_ = s.snapshots.Delete(ctx, sess.id)
	}
}
