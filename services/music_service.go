package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"autoreel/models"
	"autoreel/utils"
)

// MusicService obtains one background track per project and fits it to the
// final timeline duration.
type MusicService struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	presetDir  string
	ffmpeg     *utils.FFmpeg
	logger     zerolog.Logger
	fadeSec    float64
}

// NewMusicService creates a new music service
func NewMusicService(apiURL, apiKey, presetDir string, ffmpeg *utils.FFmpeg, logger zerolog.Logger, fadeSec float64) *MusicService {
	return &MusicService{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		apiURL:     apiURL,
		apiKey:     apiKey,
		presetDir:  presetDir,
		ffmpeg:     ffmpeg,
		logger:     logger.With().Str("component", "music").Logger(),
		fadeSec:    fadeSec,
	}
}

// musicGenRequest is the body sent to the music generation provider.
type musicGenRequest struct {
	Prompt   string  `json:"prompt"`
	Duration float64 `json:"duration"`
	Format   string  `json:"format"`
}

// ObtainTrack resolves the project's configured music mode to a local
// audio file.
func (m *MusicService) ObtainTrack(ctx context.Context, project *models.Project, musicDir string) (string, error) {
	switch project.MusicMode {
	case models.MusicModeUpload:
		if project.MusicPath == "" || !utils.FileExists(project.MusicPath) {
			return "", &models.ValidationError{Message: "uploaded music track is missing"}
		}
		return project.MusicPath, nil

	case models.MusicModeGenerated:
		return m.generateTrack(ctx, project, musicDir)

	case models.MusicModePreset, "":
		return m.pickPreset()

	default:
		return "", &models.ValidationError{Message: "unknown music mode: " + project.MusicMode}
	}
}

// generateTrack requests a track from the music generation provider.
func (m *MusicService) generateTrack(ctx context.Context, project *models.Project, musicDir string) (string, error) {
	if m.apiURL == "" {
		return "", &models.ValidationError{Message: "music generation provider not configured"}
	}

	reqBody := musicGenRequest{
		Prompt:   fmt.Sprintf("instrumental background music for a video about %s", project.Keyword),
		Duration: project.TargetDuration,
		Format:   "mp3",
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("music generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("music API returned status %d: %s", resp.StatusCode, string(body))
	}

	trackPath := filepath.Join(musicDir, "generated.mp3")
	file, err := os.Create(trackPath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	if _, err := io.Copy(file, resp.Body); err != nil {
		return "", fmt.Errorf("failed to save generated track: %w", err)
	}

	m.logger.Info().Str("track", trackPath).Msg("background music generated")
	return trackPath, nil
}

// pickPreset chooses one track at random from the preset directory.
func (m *MusicService) pickPreset() (string, error) {
	entries, err := os.ReadDir(m.presetDir)
	if err != nil {
		return "", fmt.Errorf("failed to read preset dir: %w", err)
	}

	var tracks []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".mp3", ".m4a", ".wav", ".ogg":
			tracks = append(tracks, filepath.Join(m.presetDir, e.Name()))
		}
	}
	if len(tracks) == 0 {
		return "", &models.ValidationError{Message: "no preset music tracks available"}
	}

	return tracks[rand.Intn(len(tracks))], nil
}

// FitToDuration loops and/or trims the track to exactly the target
// duration and applies the fade-in/fade-out envelope.
func (m *MusicService) FitToDuration(ctx context.Context, trackPath, outputPath string, targetDuration float64) error {
	srcDuration, err := m.ffmpeg.Duration(ctx, trackPath)
	if err != nil {
		return err
	}
	if srcDuration <= 0 {
		return &models.ValidationError{Message: "music track has zero duration"}
	}

	loops := LoopCount(srcDuration, targetDuration)
	args := []string{
		"-stream_loop", strconv.Itoa(loops - 1),
		"-i", trackPath,
		"-af", BuildMusicEnvelopeFilter(targetDuration, m.fadeSec),
		"-c:a", "aac",
		outputPath,
	}
	if _, err := m.ffmpeg.Run(ctx, args...); err != nil {
		return err
	}

	m.logger.Info().
		Float64("source", srcDuration).
		Float64("target", targetDuration).
		Int("loops", loops).
		Msg("music fitted to timeline")
	return nil
}

// LoopCount returns how many plays of the source are needed to cover the
// target duration.
func LoopCount(srcDuration, targetDuration float64) int {
	if srcDuration <= 0 || targetDuration <= 0 {
		return 1
	}
	n := int(math.Ceil(targetDuration / srcDuration))
	if n < 1 {
		n = 1
	}
	return n
}

// BuildMusicEnvelopeFilter trims the looped stream to the exact target and
// confines the fades to the first and last fadeSec seconds.
func BuildMusicEnvelopeFilter(targetDuration, fadeSec float64) string {
	if fadeSec*2 > targetDuration {
		fadeSec = targetDuration / 2
	}
	return fmt.Sprintf("atrim=0:%s,afade=t=in:st=0:d=%s,afade=t=out:st=%s:d=%s",
		formatSeconds(targetDuration),
		formatSeconds(fadeSec),
		formatSeconds(targetDuration-fadeSec),
		formatSeconds(fadeSec))
}

// formatSeconds renders a duration without trailing zeros for filter args.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
