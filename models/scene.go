package models

import "time"

// SelectedScene statuses.
const (
	SceneStatusPending   = "pending"
	SceneStatusClipped   = "clipped"
	SceneStatusCompleted = "completed"
	SceneStatusFailed    = "failed"
)

// SelectedScene is a scene frame promoted into the final timeline. Sequence
// orders are unique within a project and define the final clip order across
// all source videos.
type SelectedScene struct {
	ID            string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID     string `gorm:"type:varchar(64);index" json:"projectId"`
	SourceVideoID string `gorm:"type:varchar(64);index" json:"sourceVideoId"`
	SceneFrameID  string `gorm:"type:varchar(64)" json:"sceneFrameId"`

	Sequence    int     `json:"sequence"`
	StartTime   float64 `json:"startTime"`
	EndTime     float64 `json:"endTime"`
	Duration    float64 `json:"duration"`
	Description string  `json:"description"`
	ClipPath    string  `json:"clipPath"`
	Status      string  `gorm:"type:varchar(32)" json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (SelectedScene) TableName() string {
	return "selected_scene"
}

// SceneNarration is one narration line of a selected scene. Lines are
// ordered; at playback line i starts after the rendered durations of
// lines 0..i-1, mixed onto the clip rather than concatenated.
type SceneNarration struct {
	ID              string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SelectedSceneID string  `gorm:"type:varchar(64);index" json:"selectedSceneId"`
	LineIndex       int     `json:"lineIndex"`
	Text            string  `json:"text"`
	AudioPath       string  `json:"audioPath"`
	AudioDuration   float64 `json:"audioDuration"` // measured, never estimated

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (SceneNarration) TableName() string {
	return "scene_narration"
}

// HasAudio reports whether the line's synthesis succeeded.
func (n *SceneNarration) HasAudio() bool {
	return n.AudioPath != "" && n.AudioDuration > 0
}
