package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"autoreel/models"
)

func TestObtainTrackUploadMode(t *testing.T) {
	dir := t.TempDir()
	track := filepath.Join(dir, "theme.mp3")
	if err := os.WriteFile(track, []byte("audio"), 0644); err != nil {
		t.Fatal(err)
	}

	svc := &MusicService{logger: zerolog.Nop()}
	project := &models.Project{MusicMode: models.MusicModeUpload, MusicPath: track}

	got, err := svc.ObtainTrack(context.Background(), project, dir)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != track {
		t.Errorf("Expected %s, got %s", track, got)
	}
}

func TestObtainTrackUploadModeMissingFile(t *testing.T) {
	svc := &MusicService{logger: zerolog.Nop()}
	project := &models.Project{MusicMode: models.MusicModeUpload, MusicPath: "/nope/theme.mp3"}

	if _, err := svc.ObtainTrack(context.Background(), project, t.TempDir()); err == nil {
		t.Error("Expected error for missing uploaded track")
	}
}

func TestObtainTrackPresetMode(t *testing.T) {
	presetDir := t.TempDir()
	for _, name := range []string{"calm.mp3", "upbeat.m4a", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(presetDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	svc := &MusicService{presetDir: presetDir, logger: zerolog.Nop()}
	project := &models.Project{MusicMode: models.MusicModePreset}

	got, err := svc.ObtainTrack(context.Background(), project, t.TempDir())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if filepath.Ext(got) == ".txt" {
		t.Errorf("Picked a non-audio file: %s", got)
	}
}

func TestObtainTrackPresetModeEmptyDir(t *testing.T) {
	svc := &MusicService{presetDir: t.TempDir(), logger: zerolog.Nop()}
	project := &models.Project{MusicMode: models.MusicModePreset}

	if _, err := svc.ObtainTrack(context.Background(), project, t.TempDir()); err == nil {
		t.Error("Expected error with no preset tracks")
	}
}

func TestObtainTrackUnknownMode(t *testing.T) {
	svc := &MusicService{logger: zerolog.Nop()}
	project := &models.Project{MusicMode: "humming"}

	if _, err := svc.ObtainTrack(context.Background(), project, t.TempDir()); err == nil {
		t.Error("Expected error for unknown music mode")
	}
}
