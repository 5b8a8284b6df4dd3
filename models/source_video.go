package models

import "time"

// SourceVideo statuses.
const (
	SourceStatusUpload        = "upload"
	SourceStatusValidated     = "validated"
	SourceStatusSceneDetected = "scene_detected"
)

// MediaInfo is the metadata-analyzer output for one media file.
type MediaInfo struct {
	Duration  float64 `json:"duration"` // seconds
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frameRate"`
	BitRate   int64   `json:"bitRate"`
	Codec     string  `json:"codec"`
}

// SourceVideo is one uploaded footage file belonging to a project.
type SourceVideo struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID string `gorm:"type:varchar(64);index" json:"projectId"`
	FilePath  string `json:"filePath"`
	ByteSize  int64  `json:"byteSize"`
	Status    string `gorm:"type:varchar(32)" json:"status"`

	// Metadata analyzer output, filled at ANALYSE_VIDEO.
	Duration  float64 `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frameRate"`
	BitRate   int64   `json:"bitRate"`
	Codec     string  `json:"codec"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (SourceVideo) TableName() string {
	return "source_video"
}

// ApplyMediaInfo copies analyzer output onto the record.
func (v *SourceVideo) ApplyMediaInfo(info *MediaInfo) {
	v.Duration = info.Duration
	v.Width = info.Width
	v.Height = info.Height
	v.FrameRate = info.FrameRate
	v.BitRate = info.BitRate
	v.Codec = info.Codec
}

// SceneFrame is one detected scene boundary in a source video: a
// representative image plus the time range it covers. Within one source
// video frames are strictly ordered by start time and never overlap.
type SceneFrame struct {
	ID            string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SourceVideoID string  `gorm:"type:varchar(64);index" json:"sourceVideoId"`
	ProjectID     string  `gorm:"type:varchar(64);index" json:"projectId"`
	FrameIndex    int     `json:"frameIndex"`
	StartTime     float64 `json:"startTime"`
	EndTime       float64 `json:"endTime"`
	ImagePath     string  `json:"imagePath"`
	Selected      bool    `json:"selected"`
	Relevance     float64 `json:"relevance"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (SceneFrame) TableName() string {
	return "scene_frame"
}

// Span returns the frame's duration in seconds.
func (f *SceneFrame) Span() float64 {
	return f.EndTime - f.StartTime
}
