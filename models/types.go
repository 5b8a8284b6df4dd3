package models

// CreateProjectRequest creates a project with its generation configuration.
type CreateProjectRequest struct {
	Title          string  `json:"title" binding:"required"`
	OwnerID        string  `json:"owner_id"`
	TargetDuration float64 `json:"target_duration" binding:"required"`
	Keyword        string  `json:"keyword" binding:"required"`
	MinRelevance   float64 `json:"min_relevance"`
	NarrationStyle string  `json:"narration_style"`
	MusicMode      string  `json:"music_mode"`
	MusicPath      string  `json:"music_path"`
}

// UpdateProjectRequest edits configuration. Rejected while the project is
// generation-locked.
type UpdateProjectRequest struct {
	Title          *string  `json:"title"`
	TargetDuration *float64 `json:"target_duration"`
	Keyword        *string  `json:"keyword"`
	MinRelevance   *float64 `json:"min_relevance"`
	NarrationStyle *string  `json:"narration_style"`
	MusicMode      *string  `json:"music_mode"`
	MusicPath      *string  `json:"music_path"`
}

// ProjectStatusResponse is the user-visible view of pipeline progress.
type ProjectStatusResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	StatusLabel string `json:"status_label"`
	Locked      bool   `json:"generation_locked"`
	Running     bool   `json:"running"`
	LastError   string `json:"last_error,omitempty"`
	VideoURL    string `json:"video_url,omitempty"`
}
