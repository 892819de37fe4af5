package models

import "time"

// ContentItemModel is an ingested social-media item. Immutable once stored.
type ContentItemModel struct {
	Base
	ExternalID   string    `json:"external_id" gorm:"uniqueIndex;size:191"`
	Title        string    `json:"title"       gorm:"not null"`
	Body         string    `json:"body"        gorm:"type:longtext"`
	Author       string    `json:"author"      gorm:"size:191"`
	Platform     string    `json:"platform"    gorm:"size:64;index"`
	PublishedAt  time.Time `json:"published_at"`
	Likes        int       `json:"likes"`
	Comments     int       `json:"comments"`
	Shares       int       `json:"shares"`
	Subreddit    string    `json:"subreddit,omitempty" gorm:"size:191"`
	URL          string    `json:"url,omitempty"       gorm:"size:512"`
	Hashtags     []string  `json:"hashtags,omitempty"  gorm:"type:longtext;serializer:json"`
	CustomPrompt string    `json:"custom_prompt,omitempty" gorm:"type:text"`
	Duplicate    bool      `json:"duplicate"`
	DedupReason  string    `json:"dedup_reason,omitempty" gorm:"size:191"`
}

func (ContentItemModel) TableName() string { return "content_items" }
