package models

import "time"

// SessionModel records one narration session and its accumulated transcript.
type SessionModel struct {
	Base
	SessionID  string     `json:"session_id" gorm:"uniqueIndex;size:191"`
	Transcript string     `json:"transcript" gorm:"type:longtext"`
	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	Narrations int        `json:"narrations"`
	Archived   bool       `json:"archived" gorm:"index"`
}

func (SessionModel) TableName() string { return "sessions" }
