package models

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// InitDB opens the postgres connection and migrates the pipeline tables.
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&Project{},
		&SourceVideo{},
		&SceneFrame{},
		&SelectedScene{},
		&SceneNarration{},
		&FinalVideo{},
		&ProcessLog{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate failed: %w", err)
	}

	return db, nil
}

// GormStore is the gorm-backed persistence layer used by the pipeline and
// the HTTP handlers.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Project

func (s *GormStore) CreateProject(p *Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return s.db.Create(p).Error
}

func (s *GormStore) GetProject(id string) (*Project, error) {
	var p Project
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Entity: "project", ID: id}
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) UpdateProject(p *Project) error {
	p.UpdatedAt = time.Now()
	return s.db.Save(p).Error
}

func (s *GormStore) DeleteProject(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{
			&SceneNarration{}, &SelectedScene{}, &SceneFrame{},
			&SourceVideo{}, &FinalVideo{}, &ProcessLog{},
		} {
			switch m.(type) {
			case *SceneNarration:
				if err := tx.Where("selected_scene_id IN (?)",
					tx.Model(&SelectedScene{}).Select("id").Where("project_id = ?", id),
				).Delete(m).Error; err != nil {
					return err
				}
			default:
				if err := tx.Where("project_id = ?", id).Delete(m).Error; err != nil {
					return err
				}
			}
		}
		return tx.Delete(&Project{}, "id = ?", id).Error
	})
}

// ClaimProject atomically sets running=true if it is currently false. The
// conditional UPDATE is the mutual-exclusion primitive across scheduler
// workers; a read-then-write would race.
func (s *GormStore) ClaimProject(id string) (bool, error) {
	res := s.db.Model(&Project{}).
		Where("id = ? AND running = ?", id, false).
		Updates(map[string]interface{}{"running": true, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseProject clears the running flag regardless of stage outcome.
func (s *GormStore) ReleaseProject(id string) error {
	return s.db.Model(&Project{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"running": false, "updated_at": time.Now()}).Error
}

// AdvanceProjectStatus moves the project to the next pipeline state and
// clears any previous error message.
func (s *GormStore) AdvanceProjectStatus(id, status string) error {
	return s.db.Model(&Project{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"last_error": "",
			"updated_at": time.Now(),
		}).Error
}

// MarkProjectError records a stage failure. ERROR projects are skipped by
// the recurring scan until reset.
func (s *GormStore) MarkProjectError(id, message string) error {
	return s.db.Model(&Project{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     StatusError,
			"last_error": message,
			"updated_at": time.Now(),
		}).Error
}

// ListPendingProjects returns generation-locked projects with a pending
// next action that no worker currently holds.
func (s *GormStore) ListPendingProjects(limit int) ([]Project, error) {
	pending := []string{
		StatusUpload, StatusAnalyseVideo, StatusDetectScenes,
		StatusAIAnalyze, StatusAudioGenerate,
	}
	var projects []Project
	err := s.db.
		Where("status IN ? AND running = ? AND generation_locked = ?", pending, false, true).
		Order("updated_at ASC").
		Limit(limit).
		Find(&projects).Error
	return projects, err
}

// SourceVideo

func (s *GormStore) CreateSourceVideo(v *SourceVideo) error {
	now := time.Now()
	v.CreatedAt = now
	v.UpdatedAt = now
	return s.db.Create(v).Error
}

func (s *GormStore) GetSourceVideo(id string) (*SourceVideo, error) {
	var v SourceVideo
	if err := s.db.First(&v, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Entity: "source video", ID: id}
		}
		return nil, err
	}
	return &v, nil
}

func (s *GormStore) ListSourceVideos(projectID string) ([]SourceVideo, error) {
	var videos []SourceVideo
	err := s.db.Where("project_id = ?", projectID).Order("created_at ASC").Find(&videos).Error
	return videos, err
}

func (s *GormStore) UpdateSourceVideo(v *SourceVideo) error {
	v.UpdatedAt = time.Now()
	return s.db.Save(v).Error
}

// SceneFrame

func (s *GormStore) CreateSceneFrames(frames []SceneFrame) error {
	if len(frames) == 0 {
		return nil
	}
	now := time.Now()
	for i := range frames {
		frames[i].CreatedAt = now
		frames[i].UpdatedAt = now
	}
	return s.db.Create(&frames).Error
}

func (s *GormStore) ListSceneFrames(projectID string) ([]SceneFrame, error) {
	var frames []SceneFrame
	err := s.db.Where("project_id = ?", projectID).
		Order("source_video_id ASC, start_time ASC").
		Find(&frames).Error
	return frames, err
}

func (s *GormStore) UpdateSceneFrame(f *SceneFrame) error {
	f.UpdatedAt = time.Now()
	return s.db.Save(f).Error
}

// SelectedScene

func (s *GormStore) CreateSelectedScenes(scenes []SelectedScene) error {
	if len(scenes) == 0 {
		return nil
	}
	now := time.Now()
	for i := range scenes {
		scenes[i].CreatedAt = now
		scenes[i].UpdatedAt = now
	}
	return s.db.Create(&scenes).Error
}

func (s *GormStore) ListSelectedScenes(projectID string) ([]SelectedScene, error) {
	var scenes []SelectedScene
	err := s.db.Where("project_id = ?", projectID).Order("sequence ASC").Find(&scenes).Error
	return scenes, err
}

func (s *GormStore) UpdateSelectedScene(scene *SelectedScene) error {
	scene.UpdatedAt = time.Now()
	return s.db.Save(scene).Error
}

// SceneNarration

func (s *GormStore) CreateNarrations(lines []SceneNarration) error {
	if len(lines) == 0 {
		return nil
	}
	now := time.Now()
	for i := range lines {
		lines[i].CreatedAt = now
		lines[i].UpdatedAt = now
	}
	return s.db.Create(&lines).Error
}

func (s *GormStore) ListNarrations(sceneID string) ([]SceneNarration, error) {
	var lines []SceneNarration
	err := s.db.Where("selected_scene_id = ?", sceneID).Order("line_index ASC").Find(&lines).Error
	return lines, err
}

func (s *GormStore) UpdateNarration(n *SceneNarration) error {
	n.UpdatedAt = time.Now()
	return s.db.Save(n).Error
}

// FinalVideo

func (s *GormStore) CreateFinalVideo(v *FinalVideo) error {
	v.CreatedAt = time.Now()
	return s.db.Create(v).Error
}

func (s *GormStore) GetFinalVideo(projectID string) (*FinalVideo, error) {
	var v FinalVideo
	if err := s.db.First(&v, "project_id = ?", projectID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Entity: "final video", ID: projectID}
		}
		return nil, err
	}
	return &v, nil
}

// ProcessLog

func (s *GormStore) AppendProcessLog(entry *ProcessLog) error {
	entry.CreatedAt = time.Now()
	return s.db.Create(entry).Error
}

func (s *GormStore) ListProcessLogs(projectID string) ([]ProcessLog, error) {
	var logs []ProcessLog
	err := s.db.Where("project_id = ?", projectID).Order("id ASC").Find(&logs).Error
	return logs, err
}
