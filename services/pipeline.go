package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"autoreel/models"
	"autoreel/utils"
)

// Store is the persistence surface the orchestrator drives the pipeline
// through.
type Store interface {
	GetProject(id string) (*models.Project, error)
	UpdateProject(p *models.Project) error
	ClaimProject(id string) (bool, error)
	ReleaseProject(id string) error
	AdvanceProjectStatus(id, status string) error
	MarkProjectError(id, message string) error
	ListPendingProjects(limit int) ([]models.Project, error)

	GetSourceVideo(id string) (*models.SourceVideo, error)
	ListSourceVideos(projectID string) ([]models.SourceVideo, error)
	UpdateSourceVideo(v *models.SourceVideo) error

	CreateSceneFrames(frames []models.SceneFrame) error
	ListSceneFrames(projectID string) ([]models.SceneFrame, error)
	UpdateSceneFrame(f *models.SceneFrame) error

	CreateSelectedScenes(scenes []models.SelectedScene) error
	ListSelectedScenes(projectID string) ([]models.SelectedScene, error)
	UpdateSelectedScene(scene *models.SelectedScene) error

	CreateNarrations(lines []models.SceneNarration) error
	ListNarrations(sceneID string) ([]models.SceneNarration, error)
	UpdateNarration(n *models.SceneNarration) error

	CreateFinalVideo(v *models.FinalVideo) error
	GetFinalVideo(projectID string) (*models.FinalVideo, error)
	AppendProcessLog(entry *models.ProcessLog) error
}

// Stage component interfaces. Concrete services satisfy them; tests
// substitute fakes.

type metadataAnalyzer interface {
	Analyze(ctx context.Context, path string) (*models.MediaInfo, error)
}

type sceneDetector interface {
	Detect(ctx context.Context, req DetectRequest) ([]models.SceneFrame, error)
}

type sceneSelector interface {
	Select(ctx context.Context, candidates []SceneCandidate, params SelectionParams) ([]SceneJudgment, error)
}

type narrationSynthesizer interface {
	SynthesizeScene(ctx context.Context, lines []models.SceneNarration, audioDir string) []models.SceneNarration
}

type videoComposer interface {
	Compose(ctx context.Context, project *models.Project, scenes []ComposeScene, projectDir string) (*ComposeResult, error)
}

type objectStore interface {
	UploadFinalVideo(ctx context.Context, projectID, localPath string) (string, error)
	UploadFrame(ctx context.Context, projectID, localPath string) (string, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// PipelineService advances projects through the generation state machine.
// A project's status names the last completed stage; the orchestrator maps
// it to the next action, claims the project, runs the stage, and persists
// the outcome.
type PipelineService struct {
	store    Store
	metadata metadataAnalyzer
	detector sceneDetector
	selector sceneSelector
	narrator narrationSynthesizer
	composer videoComposer
	storage  objectStore
	logger   zerolog.Logger

	tempDir        string
	sceneThreshold float64
	stageTimeout   time.Duration
	maxSteps       int
	urlExpiry      time.Duration
}

// NewPipelineService creates the orchestrator
func NewPipelineService(store Store, metadata metadataAnalyzer, detector sceneDetector, selector sceneSelector, narrator narrationSynthesizer, composer videoComposer, storage objectStore, logger zerolog.Logger, tempDir string, sceneThreshold float64, stageTimeout time.Duration, maxSteps int) *PipelineService {
	return &PipelineService{
		store:          store,
		metadata:       metadata,
		detector:       detector,
		selector:       selector,
		narrator:       narrator,
		composer:       composer,
		storage:        storage,
		logger:         logger.With().Str("component", "pipeline").Logger(),
		tempDir:        tempDir,
		sceneThreshold: sceneThreshold,
		stageTimeout:   stageTimeout,
		maxSteps:       maxSteps,
		urlExpiry:      7 * 24 * time.Hour,
	}
}

// StartGeneration validates a project and commits it to the pipeline.
// Requires at least one uploaded source video and an editable project.
// On success the project is generation locked and moved to UPLOAD; the
// caller enqueues the first advance.
func (p *PipelineService) StartGeneration(ctx context.Context, projectID string) error {
	project, err := p.store.GetProject(projectID)
	if err != nil {
		return err
	}
	if !project.Editable() {
		return &models.ValidationError{Message: "project is already generating"}
	}

	videos, err := p.store.ListSourceVideos(projectID)
	if err != nil {
		return err
	}
	if len(videos) == 0 {
		return &models.ValidationError{Message: "project has no source videos"}
	}

	project.GenerationLocked = true
	project.Status = models.StatusUpload
	project.LastError = ""
	if err := p.store.UpdateProject(project); err != nil {
		return err
	}

	p.logger.Info().Str("project", projectID).Msg("generation started")
	return nil
}

// Advance claims the project and runs up to maxSteps pending stages.
// Losing the claim to another worker is not an error. A stage failure
// moves the project to ERROR with the cause recorded; the error is
// consumed here so the task is not retried against a terminal state.
func (p *PipelineService) Advance(ctx context.Context, projectID string) error {
	// Settled projects are filtered out before claiming so they never
	// flip the running flag, even transiently.
	project, err := p.store.GetProject(projectID)
	if err != nil {
		return err
	}
	if models.IsTerminalStatus(project.Status) || !project.GenerationLocked {
		return nil
	}

	claimed, err := p.store.ClaimProject(projectID)
	if err != nil {
		return err
	}
	if !claimed {
		p.logger.Debug().Str("project", projectID).Msg("project held by another worker")
		return nil
	}
	defer func() {
		if err := p.store.ReleaseProject(projectID); err != nil {
			p.logger.Error().Err(err).Str("project", projectID).Msg("failed to release project")
		}
	}()

	for step := 0; step < p.maxSteps; step++ {
		project, err := p.store.GetProject(projectID)
		if err != nil {
			return err
		}
		if models.IsTerminalStatus(project.Status) || !project.GenerationLocked {
			return nil
		}

		stage, next, run := p.stageFor(project.Status)
		if run == nil {
			return nil
		}

		p.logStage(projectID, stage, models.LogOutcomeStarted, "")
		stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout)
		err = run(stageCtx, project)
		cancel()

		if err != nil {
			p.logger.Error().Err(err).
				Str("project", projectID).
				Str("stage", stage).
				Msg("stage failed")
			p.logStage(projectID, stage, models.LogOutcomeFailed, err.Error())
			if markErr := p.store.MarkProjectError(projectID, err.Error()); markErr != nil {
				return markErr
			}
			return nil
		}

		if err := p.store.AdvanceProjectStatus(projectID, next); err != nil {
			return err
		}
		p.logStage(projectID, stage, models.LogOutcomeSucceeded, "")
		p.logger.Info().
			Str("project", projectID).
			Str("stage", stage).
			Str("status", next).
			Msg("stage completed")
	}
	return nil
}

// ProcessPending scans for claimable projects and advances each one. Used
// by the recurring sweep to pick up work dropped by crashed workers or
// missed enqueues. Returns the number of projects advanced.
func (p *PipelineService) ProcessPending(ctx context.Context, batchSize int) int {
	projects, err := p.store.ListPendingProjects(batchSize)
	if err != nil {
		p.logger.Error().Err(err).Msg("pending scan failed")
		return 0
	}

	advanced := 0
	for i := range projects {
		if ctx.Err() != nil {
			break
		}
		if err := p.Advance(ctx, projects[i].ID); err != nil {
			p.logger.Error().Err(err).Str("project", projects[i].ID).Msg("advance failed")
			continue
		}
		advanced++
	}
	return advanced
}

type stageFunc func(ctx context.Context, project *models.Project) error

// stageFor maps the current status to the next stage's name, the status
// it advances to, and its runner.
func (p *PipelineService) stageFor(status string) (string, string, stageFunc) {
	switch status {
	case models.StatusUpload:
		return "analyse_video", models.StatusAnalyseVideo, p.runMetadataAnalysis
	case models.StatusAnalyseVideo:
		return "detect_scenes", models.StatusDetectScenes, p.runSceneDetection
	case models.StatusDetectScenes:
		return "ai_analyze", models.StatusAIAnalyze, p.runSceneSelection
	case models.StatusAIAnalyze:
		return "audio_generate", models.StatusAudioGenerate, p.runNarrationSynthesis
	case models.StatusAudioGenerate:
		return "final_video", models.StatusFinalVideo, p.runComposition
	default:
		return "", "", nil
	}
}

// runMetadataAnalysis probes every source video and persists its format
// metadata.
func (p *PipelineService) runMetadataAnalysis(ctx context.Context, project *models.Project) error {
	videos, err := p.store.ListSourceVideos(project.ID)
	if err != nil {
		return err
	}
	if len(videos) == 0 {
		return &models.ValidationError{Message: "project has no source videos"}
	}

	for i := range videos {
		info, err := p.metadata.Analyze(ctx, videos[i].FilePath)
		if err != nil {
			return fmt.Errorf("source %s: %w", videos[i].ID, err)
		}
		if info.Duration <= 0 {
			return &models.ValidationError{Message: "source video has zero duration: " + videos[i].ID}
		}
		videos[i].ApplyMediaInfo(info)
		videos[i].Status = models.SourceStatusValidated
		if err := p.store.UpdateSourceVideo(&videos[i]); err != nil {
			return err
		}
	}
	return nil
}

// runSceneDetection extracts scene boundary frames from every validated
// source video. Frame images are mirrored to object storage best effort;
// selection reads the local copies.
func (p *PipelineService) runSceneDetection(ctx context.Context, project *models.Project) error {
	videos, err := p.store.ListSourceVideos(project.ID)
	if err != nil {
		return err
	}

	projectDir, err := utils.CreateProjectDirs(p.tempDir, project.ID)
	if err != nil {
		return err
	}

	for i := range videos {
		framesDir := filepath.Join(projectDir, "frames", videos[i].ID)
		if err := os.MkdirAll(framesDir, 0755); err != nil {
			return err
		}

		frames, err := p.detector.Detect(ctx, DetectRequest{
			ProjectID:     project.ID,
			SourceVideoID: videos[i].ID,
			VideoPath:     videos[i].FilePath,
			Threshold:     p.sceneThreshold,
			Duration:      videos[i].Duration,
			OutputDir:     framesDir,
		})
		if err != nil {
			return fmt.Errorf("source %s: %w", videos[i].ID, err)
		}

		if err := p.store.CreateSceneFrames(frames); err != nil {
			return err
		}

		if p.storage != nil {
			for _, f := range frames {
				if _, err := p.storage.UploadFrame(ctx, project.ID, f.ImagePath); err != nil {
					p.logger.Warn().Err(err).Str("frame", f.ImagePath).Msg("frame upload skipped")
				}
			}
		}

		videos[i].Status = models.SourceStatusSceneDetected
		if err := p.store.UpdateSourceVideo(&videos[i]); err != nil {
			return err
		}
	}
	return nil
}

// runSceneSelection asks the model to judge every detected frame and
// persists the kept scenes with their narration scripts. An empty verdict
// is treated as a stage failure: a cut with no scenes cannot proceed.
func (p *PipelineService) runSceneSelection(ctx context.Context, project *models.Project) error {
	frames, err := p.store.ListSceneFrames(project.ID)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return &models.ValidationError{Message: "no scene frames to select from"}
	}

	byID := make(map[string]*models.SceneFrame, len(frames))
	candidates := make([]SceneCandidate, 0, len(frames))
	for i := range frames {
		byID[frames[i].ID] = &frames[i]
		candidates = append(candidates, SceneCandidate{
			ID:        frames[i].ID,
			Duration:  frames[i].Span(),
			ImagePath: frames[i].ImagePath,
		})
	}

	judgments, err := p.selector.Select(ctx, candidates, SelectionParams{
		TargetDuration: project.TargetDuration,
		Keyword:        project.Keyword,
		MinRelevance:   project.MinRelevance,
		NarrationStyle: project.NarrationStyle,
	})
	if err != nil {
		return err
	}
	if len(judgments) == 0 {
		return &models.AIResponseError{Message: "model selected no scenes"}
	}

	scenes := make([]models.SelectedScene, 0, len(judgments))
	var narrations []models.SceneNarration
	for _, j := range judgments {
		frame := byID[j.FrameID]
		frame.Selected = true
		frame.Relevance = j.Relevance
		if err := p.store.UpdateSceneFrame(frame); err != nil {
			return err
		}

		scene := models.SelectedScene{
			ID:            uuid.NewString(),
			ProjectID:     project.ID,
			SourceVideoID: frame.SourceVideoID,
			SceneFrameID:  frame.ID,
			Sequence:      j.Sequence,
			StartTime:     frame.StartTime,
			EndTime:       frame.EndTime,
			Duration:      frame.Span(),
			Description:   j.Description,
			Status:        models.SceneStatusPending,
		}
		scenes = append(scenes, scene)

		for li, text := range j.Narrations {
			narrations = append(narrations, models.SceneNarration{
				ID:              uuid.NewString(),
				SelectedSceneID: scene.ID,
				LineIndex:       li,
				Text:            text,
			})
		}
	}

	if err := p.store.CreateSelectedScenes(scenes); err != nil {
		return err
	}
	if err := p.store.CreateNarrations(narrations); err != nil {
		return err
	}

	p.logger.Info().
		Str("project", project.ID).
		Int("candidates", len(candidates)).
		Int("selected", len(scenes)).
		Msg("scene selection persisted")
	return nil
}

// runNarrationSynthesis renders speech for every narration line. The
// stage requires at least one selected scene; individual line failures
// degrade the scene instead of failing the stage.
func (p *PipelineService) runNarrationSynthesis(ctx context.Context, project *models.Project) error {
	scenes, err := p.store.ListSelectedScenes(project.ID)
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		return &models.ValidationError{Message: "no selected scenes to narrate"}
	}

	audioDir := filepath.Join(utils.ProjectDir(p.tempDir, project.ID), "audio")
	for i := range scenes {
		lines, err := p.store.ListNarrations(scenes[i].ID)
		if err != nil {
			return err
		}
		lines = p.narrator.SynthesizeScene(ctx, lines, audioDir)
		for li := range lines {
			if err := p.store.UpdateNarration(&lines[li]); err != nil {
				return err
			}
		}
	}
	return nil
}

// runComposition assembles the final video, uploads it and records the
// output entity. The local working tree is cleaned up afterwards.
func (p *PipelineService) runComposition(ctx context.Context, project *models.Project) error {
	scenes, err := p.store.ListSelectedScenes(project.ID)
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		return &models.ValidationError{Message: "no scenes to compose"}
	}

	composeScenes := make([]ComposeScene, 0, len(scenes))
	for i := range scenes {
		source, err := p.store.GetSourceVideo(scenes[i].SourceVideoID)
		if err != nil {
			return err
		}
		lines, err := p.store.ListNarrations(scenes[i].ID)
		if err != nil {
			return err
		}
		composeScenes = append(composeScenes, ComposeScene{
			Scene:      scenes[i],
			SourcePath: source.FilePath,
			Narrations: lines,
		})
	}

	projectDir := utils.ProjectDir(p.tempDir, project.ID)
	result, err := p.composer.Compose(ctx, project, composeScenes, projectDir)
	if err != nil {
		return err
	}

	for i := range composeScenes {
		if err := p.store.UpdateSelectedScene(&composeScenes[i].Scene); err != nil {
			return err
		}
	}

	final := &models.FinalVideo{
		ID:         uuid.NewString(),
		ProjectID:  project.ID,
		FilePath:   result.FilePath,
		Duration:   result.Duration,
		Width:      result.Width,
		Height:     result.Height,
		ByteSize:   result.ByteSize,
		MusicPath:  result.MusicPath,
		SceneCount: result.SceneCount,
	}

	if p.storage != nil {
		key, err := p.storage.UploadFinalVideo(ctx, project.ID, result.FilePath)
		if err != nil {
			return err
		}
		url, err := p.storage.PresignedURL(ctx, key, p.urlExpiry)
		if err != nil {
			return err
		}
		final.URL = url
	}

	if err := p.store.CreateFinalVideo(final); err != nil {
		return err
	}

	project.GenerationLocked = false
	if err := p.store.UpdateProject(project); err != nil {
		return err
	}

	utils.ScheduleCleanup(p.tempDir, project.ID, time.Hour)
	return nil
}

// ResetProject returns an ERROR project to INIT so it can be edited and
// regenerated. Artifacts from the failed run are removed.
func (p *PipelineService) ResetProject(ctx context.Context, projectID string) error {
	project, err := p.store.GetProject(projectID)
	if err != nil {
		return err
	}
	if project.Status != models.StatusError {
		return &models.ValidationError{Message: "only failed projects can be reset"}
	}

	project.Status = models.StatusInit
	project.GenerationLocked = false
	project.Running = false
	project.LastError = ""
	if err := p.store.UpdateProject(project); err != nil {
		return err
	}

	if err := utils.CleanupProjectFiles(p.tempDir, projectID); err != nil {
		p.logger.Warn().Err(err).Str("project", projectID).Msg("workdir cleanup failed")
	}
	return nil
}

// logStage appends one process log row. Logging never fails a stage.
func (p *PipelineService) logStage(projectID, stage, outcome, message string) {
	entry := &models.ProcessLog{
		ProjectID: projectID,
		Stage:     stage,
		Outcome:   outcome,
		Message:   message,
	}
	if err := p.store.AppendProcessLog(entry); err != nil {
		p.logger.Warn().Err(err).Str("project", projectID).Msg("process log write failed")
	}
}
