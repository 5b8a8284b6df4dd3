package models

import "time"

// Pipeline states, in execution order. Each state names the last stage the
// project has completed; the scheduler derives the next action from it.
const (
	StatusInit          = "INIT"
	StatusUpload        = "UPLOAD"
	StatusAnalyseVideo  = "ANALYSE_VIDEO"
	StatusDetectScenes  = "DETECT_SCENES"
	StatusAIAnalyze     = "AI_ANALYZE"
	StatusAudioGenerate = "AUDIO_GENERATE"
	StatusFinalVideo    = "FINAL_VIDEO"
	StatusError         = "ERROR"
)

// Background music modes.
const (
	MusicModeGenerated = "generated"
	MusicModePreset    = "preset"
	MusicModeUpload    = "upload"
)

var statusLabels = map[string]string{
	StatusInit:          "Created",
	StatusUpload:        "Videos uploaded",
	StatusAnalyseVideo:  "Analyzing videos",
	StatusDetectScenes:  "Detecting scenes",
	StatusAIAnalyze:     "Selecting scenes",
	StatusAudioGenerate: "Generating narration",
	StatusFinalVideo:    "Completed",
	StatusError:         "Failed",
}

// StatusLabel returns the human-readable label for a pipeline state.
func StatusLabel(status string) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return status
}

// IsTerminalStatus reports whether no further scheduling applies.
func IsTerminalStatus(status string) bool {
	return status == StatusFinalVideo || status == StatusError
}

// Project is the unit of work driven through the pipeline. Status and the
// two locks belong to the orchestrator; configuration fields belong to the
// upload/edit operations while GenerationLocked is false.
type Project struct {
	ID      string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	OwnerID string `gorm:"type:varchar(64);index" json:"ownerId"`
	Title   string `json:"title"`

	// Generation configuration
	TargetDuration float64 `json:"targetDuration"` // seconds
	Keyword        string  `json:"keyword"`
	MinRelevance   float64 `json:"minRelevance"` // [0,1]
	NarrationStyle string  `json:"narrationStyle"`
	MusicMode      string  `json:"musicMode"` // generated | preset | upload
	MusicPath      string  `json:"musicPath"` // set when MusicMode == upload

	Status           string `gorm:"type:varchar(32);index" json:"status"`
	GenerationLocked bool   `json:"generationLocked"`
	Running          bool   `json:"running"`
	LastError        string `json:"lastError"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Project) TableName() string {
	return "project"
}

// Editable reports whether configuration and source videos may change.
func (p *Project) Editable() bool {
	if p.GenerationLocked {
		return false
	}
	return p.Status == StatusInit || p.Status == StatusFinalVideo || p.Status == StatusError
}
