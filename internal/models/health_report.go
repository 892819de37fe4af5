package models

// HealthReportModel is a persisted sample from the health monitor.
type HealthReportModel struct {
	Base
	Status          string   `json:"status" gorm:"size:16;index"` // healthy | warning | critical | emergency
	Issues          []string `json:"issues" gorm:"type:longtext;serializer:json"`
	Recommendations []string `json:"recommendations" gorm:"type:longtext;serializer:json"`
	QueueLength     int      `json:"queue_length"`
	OldestItemAgeMS int64    `json:"oldest_item_age_ms"`
	ErrorCount      int      `json:"error_count"`
	RateLimitHits   int      `json:"rate_limit_hits"`
	Rejections      int      `json:"rejections"`
	MemoryPercent   float64  `json:"memory_percent"`
}

func (HealthReportModel) TableName() string { return "health_reports" }
