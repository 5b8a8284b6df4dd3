package models

import "time"

// FinalVideo is the composed output of a completed project. Created once,
// only after the artifact has been uploaded to durable storage.
type FinalVideo struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID string `gorm:"type:varchar(64);uniqueIndex" json:"projectId"`

	FilePath   string  `json:"filePath"`
	URL        string  `json:"url"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	ByteSize   int64   `json:"byteSize"`
	MusicPath  string  `json:"musicPath"`
	SceneCount int     `json:"sceneCount"`

	CreatedAt time.Time `json:"createdAt"`
}

func (FinalVideo) TableName() string {
	return "final_video"
}

// Process log outcomes.
const (
	LogOutcomeStarted   = "started"
	LogOutcomeSucceeded = "succeeded"
	LogOutcomeFailed    = "failed"
)

// ProcessLog is one append-only audit entry for a project stage attempt.
// Rows are never updated or deleted, only appended.
type ProcessLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID string    `gorm:"type:varchar(64);index" json:"projectId"`
	Stage     string    `gorm:"type:varchar(32)" json:"stage"`
	Outcome   string    `gorm:"type:varchar(16)" json:"outcome"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func (ProcessLog) TableName() string {
	return "process_log"
}
