package models

import "time"

// RouteUsage is one persisted provider attempt. Written asynchronously by the
// usage worker so routing latency never waits on the database.
type RouteUsage struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	RequestID    string    `gorm:"size:64;index" json:"request_id"`
	SessionID    string    `gorm:"size:64;index;default:''" json:"session_id,omitempty"`
	Provider     string    `gorm:"not null;size:64;index" json:"provider"`
	Model        string    `gorm:"size:128;default:''" json:"model,omitempty"`
	Outcome      string    `gorm:"not null;size:16;index" json:"outcome"`
	TokensInput  int       `gorm:"default:0" json:"tokens_input"`
	TokensOutput int       `gorm:"default:0" json:"tokens_output"`
	Cost         float64   `gorm:"default:0" json:"cost"`
	LatencyMs    int64     `gorm:"default:0" json:"latency_ms"`
	ErrorMessage string    `gorm:"type:text;default:''" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

// RecordUsageParams carries one attempt from the router to the usage worker.
type RecordUsageParams struct {
	RequestID    string
	SessionID    string
	Provider     string
	Model        string
	Outcome      AttemptOutcome
	TokensInput  int
	TokensOutput int
	Cost         float64
	Latency      time.Duration
	ErrorMessage string
}
