package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"autoreel/models"
)

// fakeStore is an in-memory Store with the same claim semantics as the
// database implementation.
type fakeStore struct {
	mu        sync.Mutex
	projects  map[string]*models.Project
	videos    map[string]*models.SourceVideo
	frames    map[string]*models.SceneFrame
	scenes    map[string]*models.SelectedScene
	lines     map[string]*models.SceneNarration
	finals    map[string]*models.FinalVideo
	logs      []models.ProcessLog

	claimAttempts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: make(map[string]*models.Project),
		videos:   make(map[string]*models.SourceVideo),
		frames:   make(map[string]*models.SceneFrame),
		scenes:   make(map[string]*models.SelectedScene),
		lines:    make(map[string]*models.SceneNarration),
		finals:   make(map[string]*models.FinalVideo),
	}
}

func (s *fakeStore) GetProject(id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "project", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) UpdateProject(p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *fakeStore) ClaimProject(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimAttempts++
	p, ok := s.projects[id]
	if !ok || p.Running {
		return false, nil
	}
	p.Running = true
	return true, nil
}

func (s *fakeStore) ReleaseProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		p.Running = false
	}
	return nil
}

func (s *fakeStore) AdvanceProjectStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		p.Status = status
		p.LastError = ""
	}
	return nil
}

func (s *fakeStore) MarkProjectError(id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[id]; ok {
		p.Status = models.StatusError
		p.LastError = message
	}
	return nil
}

func (s *fakeStore) ListPendingProjects(limit int) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Project
	for _, p := range s.projects {
		if models.IsTerminalStatus(p.Status) || p.Status == models.StatusInit {
			continue
		}
		if p.Running || !p.GenerationLocked {
			continue
		}
		out = append(out, *p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) GetSourceVideo(id string) (*models.SourceVideo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "source video", ID: id}
	}
	cp := *v
	return &cp, nil
}

func (s *fakeStore) ListSourceVideos(projectID string) ([]models.SourceVideo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SourceVideo
	for _, v := range s.videos {
		if v.ProjectID == projectID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateSourceVideo(v *models.SourceVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.videos[v.ID] = &cp
	return nil
}

func (s *fakeStore) CreateSceneFrames(frames []models.SceneFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range frames {
		cp := frames[i]
		s.frames[cp.ID] = &cp
	}
	return nil
}

func (s *fakeStore) ListSceneFrames(projectID string) ([]models.SceneFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SceneFrame
	for _, f := range s.frames {
		if f.ProjectID == projectID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateSceneFrame(f *models.SceneFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *f
	s.frames[f.ID] = &cp
	return nil
}

func (s *fakeStore) CreateSelectedScenes(scenes []models.SelectedScene) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range scenes {
		cp := scenes[i]
		s.scenes[cp.ID] = &cp
	}
	return nil
}

func (s *fakeStore) ListSelectedScenes(projectID string) ([]models.SelectedScene, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SelectedScene
	for _, sc := range s.scenes {
		if sc.ProjectID == projectID {
			out = append(out, *sc)
		}
	}
	// Same contract as the database store: ascending sequence order.
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *fakeStore) UpdateSelectedScene(scene *models.SelectedScene) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *scene
	s.scenes[scene.ID] = &cp
	return nil
}

func (s *fakeStore) CreateNarrations(lines []models.SceneNarration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range lines {
		cp := lines[i]
		s.lines[cp.ID] = &cp
	}
	return nil
}

func (s *fakeStore) ListNarrations(sceneID string) ([]models.SceneNarration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SceneNarration
	for _, n := range s.lines {
		if n.SelectedSceneID == sceneID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateNarration(n *models.SceneNarration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.lines[n.ID] = &cp
	return nil
}

func (s *fakeStore) CreateFinalVideo(v *models.FinalVideo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.finals[v.ProjectID] = &cp
	return nil
}

func (s *fakeStore) GetFinalVideo(projectID string) (*models.FinalVideo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.finals[projectID]
	if !ok {
		return nil, &models.NotFoundError{Entity: "final video", ID: projectID}
	}
	cp := *v
	return &cp, nil
}

func (s *fakeStore) AppendProcessLog(entry *models.ProcessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

// Stage component fakes.

type fakeMetadata struct{ calls atomic.Int32 }

func (f *fakeMetadata) Analyze(ctx context.Context, path string) (*models.MediaInfo, error) {
	f.calls.Add(1)
	return &models.MediaInfo{Duration: 30, Width: 1920, Height: 1080, FrameRate: 30, Codec: "h264"}, nil
}

type fakeDetector struct{ calls atomic.Int32 }

func (f *fakeDetector) Detect(ctx context.Context, req DetectRequest) ([]models.SceneFrame, error) {
	f.calls.Add(1)
	return []models.SceneFrame{
		{ID: uuid.NewString(), ProjectID: req.ProjectID, SourceVideoID: req.SourceVideoID, FrameIndex: 0, StartTime: 0, EndTime: 4, ImagePath: "frame_0001.jpg"},
		{ID: uuid.NewString(), ProjectID: req.ProjectID, SourceVideoID: req.SourceVideoID, FrameIndex: 1, StartTime: 4, EndTime: 9, ImagePath: "frame_0002.jpg"},
	}, nil
}

type fakeSelector struct {
	calls atomic.Int32
	empty bool
	err   error
}

func (f *fakeSelector) Select(ctx context.Context, candidates []SceneCandidate, params SelectionParams) ([]SceneJudgment, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.empty {
		return []SceneJudgment{}, nil
	}
	var out []SceneJudgment
	for i, c := range candidates {
		out = append(out, SceneJudgment{
			FrameID:     c.ID,
			Sequence:    i + 1,
			Description: fmt.Sprintf("scene %d", i+1),
			Narrations:  []string{"line one", "line two"},
			Relevance:   0.9,
		})
	}
	return out, nil
}

type fakeNarrator struct{ calls atomic.Int32 }

func (f *fakeNarrator) SynthesizeScene(ctx context.Context, lines []models.SceneNarration, audioDir string) []models.SceneNarration {
	f.calls.Add(1)
	for i := range lines {
		lines[i].AudioPath = fmt.Sprintf("%s/line_%d.m4a", audioDir, lines[i].LineIndex)
		lines[i].AudioDuration = 2.0
	}
	return lines
}

type fakeComposer struct {
	calls atomic.Int32
	delay time.Duration

	mu       sync.Mutex
	received []ComposeScene
}

func (f *fakeComposer) Compose(ctx context.Context, project *models.Project, scenes []ComposeScene, projectDir string) (*ComposeResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.received = append([]ComposeScene(nil), scenes...)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var total float64
	for _, s := range scenes {
		total += s.Scene.Duration
	}
	return &ComposeResult{
		FilePath:   projectDir + "/output/final.mp4",
		Duration:   total,
		Width:      1920,
		Height:     1080,
		ByteSize:   1 << 20,
		SceneCount: len(scenes),
	}, nil
}

type pipelineFixture struct {
	store    *fakeStore
	metadata *fakeMetadata
	detector *fakeDetector
	selector *fakeSelector
	narrator *fakeNarrator
	composer *fakeComposer
	pipeline *PipelineService
}

func newPipelineFixture(t *testing.T, maxSteps int) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		store:    newFakeStore(),
		metadata: &fakeMetadata{},
		detector: &fakeDetector{},
		selector: &fakeSelector{},
		narrator: &fakeNarrator{},
		composer: &fakeComposer{},
	}
	f.pipeline = NewPipelineService(
		f.store, f.metadata, f.detector, f.selector, f.narrator, f.composer, nil,
		zerolog.Nop(), t.TempDir(), 0.4, time.Minute, maxSteps,
	)
	return f
}

func (f *pipelineFixture) seedProject(status string, locked bool, videoCount int) *models.Project {
	p := &models.Project{
		ID:               uuid.NewString(),
		Title:            "test project",
		TargetDuration:   30,
		Keyword:          "city",
		MusicMode:        models.MusicModePreset,
		Status:           status,
		GenerationLocked: locked,
	}
	f.store.UpdateProject(p)
	for i := 0; i < videoCount; i++ {
		f.store.UpdateSourceVideo(&models.SourceVideo{
			ID:        uuid.NewString(),
			ProjectID: p.ID,
			FilePath:  fmt.Sprintf("/tmp/src_%d.mp4", i),
			Status:    models.SourceStatusUpload,
		})
	}
	return p
}

func TestStartGenerationRequiresSourceVideo(t *testing.T) {
	f := newPipelineFixture(t, 1)
	p := f.seedProject(models.StatusInit, false, 0)

	err := f.pipeline.StartGeneration(context.Background(), p.ID)
	require.Error(t, err)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestStartGenerationLocksAndMovesToUpload(t *testing.T) {
	f := newPipelineFixture(t, 1)
	p := f.seedProject(models.StatusInit, false, 2)

	require.NoError(t, f.pipeline.StartGeneration(context.Background(), p.ID))

	got, err := f.store.GetProject(p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusUpload, got.Status)
	require.True(t, got.GenerationLocked)
}

func TestStartGenerationRejectsLockedProject(t *testing.T) {
	f := newPipelineFixture(t, 1)
	p := f.seedProject(models.StatusAnalyseVideo, true, 1)

	err := f.pipeline.StartGeneration(context.Background(), p.ID)
	require.Error(t, err)
}

func TestAdvanceIsNoOpOnTerminalStatus(t *testing.T) {
	for _, status := range []string{models.StatusFinalVideo, models.StatusError} {
		t.Run(status, func(t *testing.T) {
			f := newPipelineFixture(t, 5)
			p := f.seedProject(status, true, 1)

			require.NoError(t, f.pipeline.Advance(context.Background(), p.ID))

			got, err := f.store.GetProject(p.ID)
			require.NoError(t, err)
			require.Equal(t, status, got.Status)
			require.False(t, got.Running)
			require.Zero(t, f.metadata.calls.Load())

			f.store.mu.Lock()
			attempts := f.store.claimAttempts
			f.store.mu.Unlock()
			require.Zero(t, attempts, "settled project must never be claimed")
		})
	}
}

func TestAdvanceRunsFullPipelineInOrder(t *testing.T) {
	f := newPipelineFixture(t, 10)
	p := f.seedProject(models.StatusUpload, true, 2)

	require.NoError(t, f.pipeline.Advance(context.Background(), p.ID))

	got, err := f.store.GetProject(p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFinalVideo, got.Status)
	require.False(t, got.GenerationLocked, "lock must clear on completion")
	require.False(t, got.Running)

	// Every stage ran exactly once per unit of work.
	require.Equal(t, int32(1), f.selector.calls.Load())
	require.Equal(t, int32(1), f.composer.calls.Load())
	require.Equal(t, int32(2), f.detector.calls.Load(), "one detection per source video")

	// Stage log records the execution order.
	var succeeded []string
	for _, entry := range f.store.logs {
		if entry.Outcome == models.LogOutcomeSucceeded {
			succeeded = append(succeeded, entry.Stage)
		}
	}
	require.Equal(t, []string{
		"analyse_video", "detect_scenes", "ai_analyze", "audio_generate", "final_video",
	}, succeeded)

	final, err := f.store.GetFinalVideo(p.ID)
	require.NoError(t, err)
	require.Equal(t, 4, final.SceneCount, "both frames of both videos selected")

	// Narration lines carry measured durations.
	for _, n := range f.store.lines {
		require.True(t, n.HasAudio(), "line %d missing audio", n.LineIndex)
	}
}

func TestAdvanceStopsAtMaxSteps(t *testing.T) {
	f := newPipelineFixture(t, 2)
	p := f.seedProject(models.StatusUpload, true, 1)

	require.NoError(t, f.pipeline.Advance(context.Background(), p.ID))

	got, err := f.store.GetProject(p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusDetectScenes, got.Status)
	require.False(t, got.Running)
}

func TestAdvanceEmptySelectionFailsStage(t *testing.T) {
	f := newPipelineFixture(t, 10)
	f.selector.empty = true
	p := f.seedProject(models.StatusDetectScenes, true, 1)
	f.store.CreateSceneFrames([]models.SceneFrame{
		{ID: uuid.NewString(), ProjectID: p.ID, StartTime: 0, EndTime: 3, ImagePath: "f.jpg"},
	})

	require.NoError(t, f.pipeline.Advance(context.Background(), p.ID))

	got, err := f.store.GetProject(p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.Status)
	require.Contains(t, got.LastError, "no scenes")
	require.Zero(t, f.narrator.calls.Load(), "pipeline must stop at the failed stage")
}

func TestAdvanceNarrationRequiresSelectedScenes(t *testing.T) {
	f := newPipelineFixture(t, 1)
	p := f.seedProject(models.StatusAIAnalyze, true, 1)

	require.NoError(t, f.pipeline.Advance(context.Background(), p.ID))

	got, err := f.store.GetProject(p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.Status)
	require.Contains(t, got.LastError, "no selected scenes")
}

func TestAdvanceConcurrentClaimRunsOnce(t *testing.T) {
	f := newPipelineFixture(t, 1)
	f.composer.delay = 50 * time.Millisecond
	p := f.seedProject(models.StatusAudioGenerate, true, 1)

	// Composition needs at least one scene on file.
	sceneID := uuid.NewString()
	video, _ := f.store.ListSourceVideos(p.ID)
	f.store.CreateSelectedScenes([]models.SelectedScene{{
		ID: sceneID, ProjectID: p.ID, SourceVideoID: video[0].ID,
		Sequence: 1, StartTime: 0, EndTime: 3, Duration: 3,
		Status: models.SceneStatusPending,
	}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.pipeline.Advance(context.Background(), p.ID)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), f.composer.calls.Load(), "exactly one worker may hold the claim")

	got, err := f.store.GetProject(p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFinalVideo, got.Status)
}

func TestResetProjectOnlyFromError(t *testing.T) {
	f := newPipelineFixture(t, 1)
	p := f.seedProject(models.StatusAnalyseVideo, true, 1)

	require.Error(t, f.pipeline.ResetProject(context.Background(), p.ID))

	f.store.MarkProjectError(p.ID, "detection blew up")
	require.NoError(t, f.pipeline.ResetProject(context.Background(), p.ID))

	got, err := f.store.GetProject(p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusInit, got.Status)
	require.False(t, got.GenerationLocked)
	require.Empty(t, got.LastError)
}

// scriptedDetector emits a fixed boundary list for every source video.
type scriptedDetector struct{ boundaries []models.SceneFrame }

func (d *scriptedDetector) Detect(ctx context.Context, req DetectRequest) ([]models.SceneFrame, error) {
	out := make([]models.SceneFrame, len(d.boundaries))
	for i, b := range d.boundaries {
		out[i] = b
		out[i].ID = uuid.NewString()
		out[i].ProjectID = req.ProjectID
		out[i].SourceVideoID = req.SourceVideoID
	}
	return out, nil
}

// scriptedSelector applies a fixed verdict function to the candidates.
type scriptedSelector struct {
	judge func([]SceneCandidate) []SceneJudgment
}

func (s *scriptedSelector) Select(ctx context.Context, candidates []SceneCandidate, params SelectionParams) ([]SceneJudgment, error) {
	return s.judge(candidates), nil
}

func TestPipelineComposesScenesInModelOrder(t *testing.T) {
	f := newPipelineFixture(t, 10)

	// 30s source with boundaries at t=0, t=10, t=20.
	f.pipeline.detector = &scriptedDetector{boundaries: []models.SceneFrame{
		{FrameIndex: 0, StartTime: 0, EndTime: 10, ImagePath: "f0.jpg"},
		{FrameIndex: 1, StartTime: 10, EndTime: 20, ImagePath: "f1.jpg"},
		{FrameIndex: 2, StartTime: 20, EndTime: 30, ImagePath: "f2.jpg"},
	}}

	// The model keeps t=10 first and t=0 second, drops t=20. Candidate ids
	// resolve back to start times through the store.
	f.pipeline.selector = &scriptedSelector{judge: func(candidates []SceneCandidate) []SceneJudgment {
		var out []SceneJudgment
		for _, c := range candidates {
			frame, ok := f.store.frames[c.ID]
			if !ok {
				continue
			}
			switch frame.StartTime {
			case 10:
				out = append(out, SceneJudgment{FrameID: c.ID, Sequence: 1, Description: "mid", Narrations: []string{"two seconds"}, Relevance: 0.9})
			case 0:
				out = append(out, SceneJudgment{FrameID: c.ID, Sequence: 2, Description: "start", Narrations: []string{"three seconds"}, Relevance: 0.8})
			}
		}
		return out
	}}

	p := f.seedProject(models.StatusUpload, true, 1)
	require.NoError(t, f.pipeline.Advance(context.Background(), p.ID))

	got, err := f.store.GetProject(p.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFinalVideo, got.Status)

	f.composer.mu.Lock()
	received := f.composer.received
	f.composer.mu.Unlock()

	require.Len(t, received, 2)
	require.Equal(t, 10.0, received[0].Scene.StartTime, "sequence 1 is the t=10 clip")
	require.Equal(t, 0.0, received[1].Scene.StartTime, "sequence 2 is the t=0 clip")

	final, err := f.store.GetFinalVideo(p.ID)
	require.NoError(t, err)
	require.Equal(t, 20.0, final.Duration, "output duration is the sum of both scene spans")
}

func TestProcessPendingAdvancesClaimableProjects(t *testing.T) {
	f := newPipelineFixture(t, 1)
	a := f.seedProject(models.StatusUpload, true, 1)
	b := f.seedProject(models.StatusUpload, true, 1)
	f.seedProject(models.StatusFinalVideo, false, 1) // terminal, skipped

	advanced := f.pipeline.ProcessPending(context.Background(), 10)
	require.Equal(t, 2, advanced)

	for _, id := range []string{a.ID, b.ID} {
		got, err := f.store.GetProject(id)
		require.NoError(t, err)
		require.Equal(t, models.StatusAnalyseVideo, got.Status)
	}
}
