package models

// NarrationModel is a completed (or failed) narration for one content item.
type NarrationModel struct {
	Base
	ItemID           string   `json:"item_id"   gorm:"size:191;index"`
	SessionID        string   `json:"session_id" gorm:"size:191;index"`
	ThreadID         string   `json:"thread_id,omitempty" gorm:"size:191;index"`
	Text             string   `json:"text"      gorm:"type:longtext"`
	Segments         []string `json:"segments"  gorm:"type:longtext;serializer:json"`
	Tone             string   `json:"tone"      gorm:"size:32"`
	Priority         string   `json:"priority"  gorm:"size:16"`
	DurationEstimate int      `json:"duration_estimate_ms"`
	Status           string   `json:"status"    gorm:"size:16;index"` // completed | dropped
	FailReason       string   `json:"fail_reason,omitempty" gorm:"size:191"`
	Attempts         int      `json:"attempts"`
}

func (NarrationModel) TableName() string { return "narrations" }
