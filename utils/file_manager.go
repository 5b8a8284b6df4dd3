package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CreateProjectDirs creates the working tree for one project
func CreateProjectDirs(baseDir, projectID string) (string, error) {
	projectDir := filepath.Join(baseDir, projectID)

	dirs := []string{
		projectDir,
		filepath.Join(projectDir, "sources"),
		filepath.Join(projectDir, "frames"),
		filepath.Join(projectDir, "audio"),
		filepath.Join(projectDir, "clips"),
		filepath.Join(projectDir, "music"),
		filepath.Join(projectDir, "output"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return projectDir, nil
}

// ProjectDir returns the working tree root for a project
func ProjectDir(baseDir, projectID string) string {
	return filepath.Join(baseDir, projectID)
}

// CleanupProjectFiles removes all temporary files for a project
func CleanupProjectFiles(baseDir, projectID string) error {
	return os.RemoveAll(filepath.Join(baseDir, projectID))
}

// ScheduleCleanup schedules automatic cleanup after a delay
func ScheduleCleanup(baseDir, projectID string, delay time.Duration) {
	go func() {
		time.Sleep(delay)
		_ = CleanupProjectFiles(baseDir, projectID)
	}()
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetFileSize returns file size in bytes
func GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
