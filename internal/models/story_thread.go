package models

import "time"

// StoryThreadModel is a cluster of related items forming one evolving story.
type StoryThreadModel struct {
	Base
	Topic         string    `json:"topic"    gorm:"size:512"`
	Keywords      []string  `json:"keywords" gorm:"type:longtext;serializer:json"`
	Category      string    `json:"category" gorm:"size:64"`
	Sentiment     string    `json:"sentiment" gorm:"size:16"`
	UpdateCount   int       `json:"update_count"`
	LastUpdatedAt time.Time `json:"last_updated_at" gorm:"index"`
	Closed        bool      `json:"closed" gorm:"index"`
}

func (StoryThreadModel) TableName() string { return "story_threads" }

// StoryUpdateModel is one update appended to a thread.
type StoryUpdateModel struct {
	Base
	ThreadID   string `json:"thread_id"   gorm:"size:191;index"`
	ItemID     string `json:"item_id"     gorm:"size:191"`
	UpdateType string `json:"update_type" gorm:"size:32"` // new_development | follow_up | clarification | correction
	Sequence   int    `json:"sequence"`
	Summary    string `json:"summary" gorm:"type:text"`
}

func (StoryUpdateModel) TableName() string { return "story_updates" }
