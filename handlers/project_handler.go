package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"autoreel/config"
	"autoreel/models"
	"autoreel/services"
	"autoreel/utils"
)

// ProjectHandler handles project and generation requests
type ProjectHandler struct {
	cfg      *config.Config
	store    *models.GormStore
	pipeline *services.PipelineService
	queue    *services.QueueClient
	storage  *services.StorageService
	logger   zerolog.Logger
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(cfg *config.Config, store *models.GormStore, pipeline *services.PipelineService, queue *services.QueueClient, storage *services.StorageService, logger zerolog.Logger) *ProjectHandler {
	return &ProjectHandler{
		cfg:      cfg,
		store:    store,
		pipeline: pipeline,
		queue:    queue,
		storage:  storage,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes attaches all project endpoints to the router group.
func (h *ProjectHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/projects", h.Create)
	api.GET("/projects/:id", h.Get)
	api.PUT("/projects/:id", h.Update)
	api.DELETE("/projects/:id", h.Delete)
	api.POST("/projects/:id/videos", h.UploadVideo)
	api.POST("/projects/:id/generate", h.Generate)
	api.POST("/projects/:id/reset", h.Reset)
	api.GET("/projects/:id/logs", h.Logs)
	api.GET("/projects/:id/scenes", h.Scenes)
}

// Create handles POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if req.TargetDuration <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_duration must be positive"})
		return
	}
	if req.MinRelevance < 0 || req.MinRelevance > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "min_relevance must be between 0 and 1"})
		return
	}
	if req.MusicMode == "" {
		req.MusicMode = models.MusicModePreset
	}
	switch req.MusicMode {
	case models.MusicModeGenerated, models.MusicModePreset, models.MusicModeUpload:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "music_mode must be generated, preset or upload"})
		return
	}

	project := &models.Project{
		ID:             uuid.New().String(),
		OwnerID:        req.OwnerID,
		Title:          req.Title,
		TargetDuration: req.TargetDuration,
		Keyword:        req.Keyword,
		MinRelevance:   req.MinRelevance,
		NarrationStyle: req.NarrationStyle,
		MusicMode:      req.MusicMode,
		MusicPath:      req.MusicPath,
		Status:         models.StatusInit,
	}

	if err := h.store.CreateProject(project); err != nil {
		h.logger.Error().Err(err).Msg("project create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create project"})
		return
	}

	c.JSON(http.StatusCreated, project)
}

// Get handles GET /api/projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	project, ok := h.loadProject(c)
	if !ok {
		return
	}

	resp := models.ProjectStatusResponse{
		ID:          project.ID,
		Title:       project.Title,
		Status:      project.Status,
		StatusLabel: models.StatusLabel(project.Status),
		Locked:      project.GenerationLocked,
		Running:     project.Running,
		LastError:   project.LastError,
	}

	if project.Status == models.StatusFinalVideo {
		if final, err := h.store.GetFinalVideo(project.ID); err == nil {
			resp.VideoURL = final.URL
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Update handles PUT /api/projects/:id. Configuration is frozen while a
// generation run holds the project.
func (h *ProjectHandler) Update(c *gin.Context) {
	project, ok := h.loadProject(c)
	if !ok {
		return
	}
	if !project.Editable() {
		c.JSON(http.StatusConflict, gin.H{"error": "Project is locked by a generation run"})
		return
	}

	var req models.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if req.Title != nil {
		project.Title = *req.Title
	}
	if req.TargetDuration != nil {
		if *req.TargetDuration <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target_duration must be positive"})
			return
		}
		project.TargetDuration = *req.TargetDuration
	}
	if req.Keyword != nil {
		project.Keyword = *req.Keyword
	}
	if req.MinRelevance != nil {
		if *req.MinRelevance < 0 || *req.MinRelevance > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_relevance must be between 0 and 1"})
			return
		}
		project.MinRelevance = *req.MinRelevance
	}
	if req.NarrationStyle != nil {
		project.NarrationStyle = *req.NarrationStyle
	}
	if req.MusicMode != nil {
		project.MusicMode = *req.MusicMode
	}
	if req.MusicPath != nil {
		project.MusicPath = *req.MusicPath
	}

	if err := h.store.UpdateProject(project); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update project"})
		return
	}
	c.JSON(http.StatusOK, project)
}

// Delete handles DELETE /api/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	project, ok := h.loadProject(c)
	if !ok {
		return
	}
	if !project.Editable() {
		c.JSON(http.StatusConflict, gin.H{"error": "Project is locked by a generation run"})
		return
	}

	if err := h.store.DeleteProject(project.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete project"})
		return
	}
	if err := utils.CleanupProjectFiles(h.cfg.TempDir, project.ID); err != nil {
		h.logger.Warn().Err(err).Str("project", project.ID).Msg("workdir cleanup failed")
	}
	c.JSON(http.StatusOK, gin.H{"deleted": project.ID})
}

// UploadVideo handles POST /api/projects/:id/videos (multipart form,
// field "video").
func (h *ProjectHandler) UploadVideo(c *gin.Context) {
	project, ok := h.loadProject(c)
	if !ok {
		return
	}
	if !project.Editable() {
		c.JSON(http.StatusConflict, gin.H{"error": "Project is locked by a generation run"})
		return
	}

	file, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "video file is required"})
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	switch ext {
	case ".mp4", ".mov", ".mkv", ".webm", ".avi":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported video format: " + ext})
		return
	}

	projectDir, err := utils.CreateProjectDirs(h.cfg.TempDir, project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare upload directory"})
		return
	}

	videoID := uuid.New().String()
	dstPath := filepath.Join(projectDir, "sources", videoID+ext)
	if err := c.SaveUploadedFile(file, dstPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save upload"})
		return
	}

	video := &models.SourceVideo{
		ID:        videoID,
		ProjectID: project.ID,
		FilePath:  dstPath,
		ByteSize:  file.Size,
		Status:    models.SourceStatusUpload,
	}
	if err := h.store.CreateSourceVideo(video); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record upload"})
		return
	}

	h.logger.Info().
		Str("project", project.ID).
		Str("video", videoID).
		Int64("bytes", file.Size).
		Msg("source video uploaded")
	c.JSON(http.StatusCreated, video)
}

// Generate handles POST /api/projects/:id/generate. Locks the project
// and enqueues the first pipeline advance.
func (h *ProjectHandler) Generate(c *gin.Context) {
	id := c.Param("id")

	if err := h.pipeline.StartGeneration(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.queue.EnqueueAdvance(c.Request.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("project", id).Msg("enqueue failed, scan will pick it up")
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     id,
		"status": models.StatusUpload,
	})
}

// Reset handles POST /api/projects/:id/reset
func (h *ProjectHandler) Reset(c *gin.Context) {
	id := c.Param("id")
	if err := h.pipeline.ResetProject(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": models.StatusInit})
}

// Logs handles GET /api/projects/:id/logs
func (h *ProjectHandler) Logs(c *gin.Context) {
	project, ok := h.loadProject(c)
	if !ok {
		return
	}
	logs, err := h.store.ListProcessLogs(project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// Scenes handles GET /api/projects/:id/scenes
func (h *ProjectHandler) Scenes(c *gin.Context) {
	project, ok := h.loadProject(c)
	if !ok {
		return
	}
	scenes, err := h.store.ListSelectedScenes(project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load scenes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenes": scenes})
}

// loadProject resolves :id or writes the error response.
func (h *ProjectHandler) loadProject(c *gin.Context) (*models.Project, bool) {
	project, err := h.store.GetProject(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return project, true
}

// respondError maps domain errors to HTTP statuses.
func (h *ProjectHandler) respondError(c *gin.Context, err error) {
	var notFound *models.NotFoundError
	var validation *models.ValidationError
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Internal error: %v", err)})
	}
}
