package pipeline

import (
	"time"

	"github.com/echocast/core/internal/modules/llm"
)

// Priority buckets for narration scheduling.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// tierRank maps priority to its ordering tier, high first.
func tierRank(p Priority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Tone selects the narration delivery register.
type Tone string

const (
	ToneBreaking      Tone = "breaking"
	ToneDeveloping    Tone = "developing"
	ToneAnalysis      Tone = "analysis"
	ToneOpinion       Tone = "opinion"
	ToneHumanInterest Tone = "human-interest"
)

// UpdateType classifies how a new item relates to an existing thread.
type UpdateType string

const (
	UpdateNewDevelopment UpdateType = "new_development"
	UpdateFollowUp       UpdateType = "follow_up"
	UpdateClarification  UpdateType = "clarification"
	UpdateCorrection     UpdateType = "correction"
)

// ContentItem is an ingested piece of content. Immutable once submitted.
type ContentItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	Platform    string    `json:"platform"`
	PublishedAt time.Time `json:"published_at"`

	Likes    int `json:"likes"`
	Comments int `json:"comments"`
	Shares   int `json:"shares"`

	Subreddit    string   `json:"subreddit,omitempty"`
	URL          string   `json:"url,omitempty"`
	Hashtags     []string `json:"hashtags,omitempty"`
	CustomPrompt string   `json:"custom_prompt,omitempty"`

	// ProducerUpdate marks a producer-initiated follow-up that must
	// bypass duplicate detection.
	ProducerUpdate bool `json:"producer_update,omitempty"`
}

// Engagement returns the combined engagement count.
func (c ContentItem) Engagement() int {
	return c.Likes + c.Comments + c.Shares
}

// ThreadInfo is the classification result attached to a narration.
type ThreadInfo struct {
	ThreadID    string     `json:"thread_id"`
	IsNewThread bool       `json:"is_new_thread"`
	IsUpdate    bool       `json:"is_update"`
	UpdateType  UpdateType `json:"update_type,omitempty"`
	Sequence    int        `json:"sequence,omitempty"`
	Indicator   string     `json:"indicator,omitempty"`
}

// Narration is one unit of work in the queue and, once streamed, the
// finished spoken text. Text and Segments are mutable until completion.
type Narration struct {
	ID        string        `json:"id"`
	ItemID    string        `json:"item_id"`
	SessionID string        `json:"session_id"`
	Item      ContentItem   `json:"item"`
	Priority  Priority      `json:"priority"`
	Tone      Tone          `json:"tone"`
	Thread    *ThreadInfo   `json:"thread,omitempty"`
	Analysis  *llm.Analysis `json:"analysis,omitempty"`

	Text     string   `json:"text"`
	Segments []string `json:"segments"`

	// DurationEstimate is the spoken length estimate in milliseconds,
	// set when the text is frozen.
	DurationEstimate int       `json:"duration_estimate"`
	CreatedAt        time.Time `json:"created_at"`
	Attempts         int       `json:"attempts"`
}

// QueueStatus is the externally visible queue snapshot.
type QueueStatus struct {
	SessionID        string           `json:"session_id"`
	Length           int              `json:"length"`
	ByPriority       map[Priority]int `json:"by_priority"`
	Current          *QueueEntry      `json:"current,omitempty"`
	Pending          []QueueEntry     `json:"pending"`
	OldestItemAgeMS  int64            `json:"oldest_item_age_ms"`
	IngestionPaused  bool             `json:"ingestion_paused"`
	PublishingPaused bool             `json:"publishing_paused"`
}

// QueueEntry is the compact per-narration view inside QueueStatus.
type QueueEntry struct {
	ID       string   `json:"id"`
	ItemID   string   `json:"item_id"`
	Title    string   `json:"title"`
	Priority Priority `json:"priority"`
	Tone     Tone     `json:"tone"`
}

// Event names emitted on the dispatcher.
const (
	EventNarrationQueued    = "narration:queued"
	EventQueueUpdated       = "queue:updated"
	EventNarrationStarted   = "narration:started"
	EventNarrationStreaming = "narration:streaming"
	EventNarrationCompleted = "narration:completed"
	EventNarrationError     = "narration:error"
	EventThreadProcessed    = "thread:processed"
	EventBackpressureOn     = "backpressure:activate"
	EventBackpressureOff    = "backpressure:deactivate"
	EventEmergencyShutdown  = "emergency:shutdown"
)
