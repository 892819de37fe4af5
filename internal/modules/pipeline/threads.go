package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echocast/core/internal/config"
	"github.com/echocast/core/internal/modules/llm"
)

// StoryUpdate is one appended development on a thread.
type StoryUpdate struct {
	ThreadID   string     `json:"thread_id"`
	ItemID     string     `json:"item_id"`
	UpdateType UpdateType `json:"update_type"`
	Sequence   int        `json:"sequence"`
	Timestamp  time.Time  `json:"timestamp"`
	Summary    string     `json:"summary"`
}

// StoryThread clusters related items into one evolving story.
type StoryThread struct {
	ID            string        `json:"id"`
	Topic         string        `json:"topic"`
	Category      string        `json:"category"`
	Sentiment     string        `json:"sentiment"`
	Keywords      []string      `json:"keywords"`
	CreatedAt     time.Time     `json:"created_at"`
	LastUpdatedAt time.Time     `json:"last_updated_at"`
	Updates       []StoryUpdate `json:"updates"`
	// updateSeq counts developments for human-readable indicators.
	// Monotonic, never reset even if updates were to be pruned.
	updateSeq int
}

// Tracker owns story threads and classifies incoming items against them.
type Tracker struct {
	mu      sync.Mutex
	cfg     config.ThreadsConfig
	threads map[string]*StoryThread
}

// NewTracker creates a tracker with the configured similarity threshold
// and temporal proximity window.
func NewTracker(cfg config.ThreadsConfig) *Tracker {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.35
	}
	if cfg.ProximityHours <= 0 {
		cfg.ProximityHours = 48
	}
	return &Tracker{
		cfg:     cfg,
		threads: make(map[string]*StoryThread),
	}
}

// Classify matches the item against open threads. Above the similarity
// threshold the item joins the best-matching thread as an update;
// otherwise a new thread is created.
func (t *Tracker) Classify(item ContentItem, analysis *llm.Analysis) ThreadInfo {
	keywords := extractKeywords(item.Title + " " + item.Body)
	if analysis != nil {
		keywords = mergeKeywords(keywords, analysis.Topics)
	}
	sentiment := "neutral"
	if analysis != nil && analysis.Sentiment != "" {
		sentiment = analysis.Sentiment
	}
	category := itemCategory(item)
	now := itemTime(item)

	t.mu.Lock()
	defer t.mu.Unlock()

	var best *StoryThread
	bestScore := 0.0
	for _, thread := range t.threads {
		score := t.similarity(thread, keywords, category, sentiment, now)
		if score > bestScore {
			best = thread
			bestScore = score
		}
	}

	if best != nil && bestScore >= t.cfg.SimilarityThreshold {
		best.updateSeq++
		update := StoryUpdate{
			ThreadID:   best.ID,
			ItemID:     item.ID,
			UpdateType: classifyUpdateType(item, analysis),
			Sequence:   best.updateSeq,
			Timestamp:  now,
			Summary:    summarize(item, analysis),
		}
		best.Updates = append(best.Updates, update)
		best.LastUpdatedAt = now
		best.Keywords = mergeKeywords(best.Keywords, keywords)

		return ThreadInfo{
			ThreadID:   best.ID,
			IsUpdate:   true,
			UpdateType: update.UpdateType,
			Sequence:   update.Sequence,
			Indicator:  indicatorFor(update.UpdateType, update.Sequence),
		}
	}

	thread := &StoryThread{
		ID:            uuid.NewString(),
		Topic:         strings.TrimSpace(item.Title),
		Category:      category,
		Sentiment:     sentiment,
		Keywords:      keywords,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	t.threads[thread.ID] = thread

	return ThreadInfo{ThreadID: thread.ID, IsNewThread: true}
}

// similarity weighs keyword overlap, category alignment, temporal
// proximity, and sentiment alignment. Zero keyword overlap means no
// match regardless of the other signals.
func (t *Tracker) similarity(thread *StoryThread, keywords []string, category, sentiment string, now time.Time) float64 {
	keywordScore := jaccard(keywords, thread.Keywords)
	if keywordScore == 0 {
		return 0
	}

	score := keywordScore * 0.5
	if category != "" && category == thread.Category {
		score += 0.2
	}
	if within := time.Duration(t.cfg.ProximityHours) * time.Hour; now.Sub(thread.LastUpdatedAt) <= within {
		score += 0.2
	}
	if sentiment == thread.Sentiment {
		score += 0.1
	}
	return score
}

// Summary returns the latest update summary for a thread, used as prior
// context when prompting continuing stories.
func (t *Tracker) Summary(threadID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	thread, ok := t.threads[threadID]
	if !ok {
		return ""
	}
	if len(thread.Updates) == 0 {
		return thread.Topic
	}
	return thread.Updates[len(thread.Updates)-1].Summary
}

// Threads returns copies of all open threads, newest activity first is
// not guaranteed; callers sort as needed.
func (t *Tracker) Threads() []StoryThread {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StoryThread, 0, len(t.threads))
	for _, thread := range t.threads {
		copied := *thread
		copied.Updates = append([]StoryUpdate(nil), thread.Updates...)
		copied.Keywords = append([]string(nil), thread.Keywords...)
		out = append(out, copied)
	}
	return out
}

// CloseStale removes threads idle longer than maxIdle and returns how
// many were closed. Driven by the scheduled janitor.
func (t *Tracker) CloseStale(maxIdle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	closed := 0
	cutoff := time.Now().Add(-maxIdle)
	for id, thread := range t.threads {
		if thread.LastUpdatedAt.Before(cutoff) {
			delete(t.threads, id)
			closed++
		}
	}
	return closed
}

// Clear drops all threads. Used by emergency shutdown.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.threads = make(map[string]*StoryThread)
	t.mu.Unlock()
}

func itemCategory(item ContentItem) string {
	if item.Subreddit != "" {
		return strings.ToLower(item.Subreddit)
	}
	return strings.ToLower(item.Platform)
}

func itemTime(item ContentItem) time.Time {
	if !item.PublishedAt.IsZero() {
		return item.PublishedAt
	}
	return time.Now()
}

func summarize(item ContentItem, analysis *llm.Analysis) string {
	if analysis != nil && strings.TrimSpace(analysis.Summary) != "" {
		return strings.TrimSpace(analysis.Summary)
	}
	return strings.TrimSpace(item.Title)
}

var (
	correctionLexemes    = []string{"correction", "retraction", "retracts", "we were wrong", "incorrectly"}
	clarificationLexemes = []string{"clarif", "to be clear", "context:", "explainer", "what we know"}
	developmentLexemes   = []string{"breaking", "just in", "update:", "confirmed", "now official"}
)

// classifyUpdateType picks the update type from lexical and urgency
// signals. Order matters: corrections outrank clarifications outrank
// new developments.
func classifyUpdateType(item ContentItem, analysis *llm.Analysis) UpdateType {
	text := strings.ToLower(item.Title + " " + item.Body)
	for _, lex := range correctionLexemes {
		if strings.Contains(text, lex) {
			return UpdateCorrection
		}
	}
	for _, lex := range clarificationLexemes {
		if strings.Contains(text, lex) {
			return UpdateClarification
		}
	}
	for _, lex := range developmentLexemes {
		if strings.Contains(text, lex) {
			return UpdateNewDevelopment
		}
	}
	if analysis != nil && analysis.Urgency >= 0.7 {
		return UpdateNewDevelopment
	}
	return UpdateFollowUp
}

func indicatorFor(t UpdateType, seq int) string {
	switch t {
	case UpdateCorrection:
		return fmt.Sprintf("CORRECTION #%d", seq)
	case UpdateClarification:
		return fmt.Sprintf("CLARIFICATION #%d", seq)
	case UpdateNewDevelopment:
		return fmt.Sprintf("NEW DEVELOPMENT #%d", seq)
	default:
		return fmt.Sprintf("FOLLOW-UP #%d", seq)
	}
}

func mergeKeywords(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, w := range list {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}
