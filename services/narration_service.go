package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"autoreel/models"
	"autoreel/utils"
)

// Per-line retry cap for transient provider failures. A line that still
// fails is dropped from the scene's mix, never escalated.
const maxLineAttempts = 3

// speechSynthesizer abstracts the text-to-speech call for testability.
type speechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type openAISpeech struct {
	client openai.Client
	model  string
	voice  string
}

func (s *openAISpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// NarrationService renders narration text to timed speech audio in the
// pipeline's canonical format.
type NarrationService struct {
	speech          speechSynthesizer
	ffmpeg          *utils.FFmpeg
	logger          zerolog.Logger
	audioBitrate    string
	audioSampleRate int
}

// NewNarrationService creates a narration synthesizer backed by the OpenAI
// speech API.
func NewNarrationService(apiKey, baseURL, model, voice string, ffmpeg *utils.FFmpeg, logger zerolog.Logger, bitrate string, sampleRate int) *NarrationService {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &NarrationService{
		speech:          &openAISpeech{client: openai.NewClient(opts...), model: model, voice: voice},
		ffmpeg:          ffmpeg,
		logger:          logger.With().Str("component", "narration").Logger(),
		audioBitrate:    bitrate,
		audioSampleRate: sampleRate,
	}
}

// SynthesizeScene renders every narration line of one scene. A single
// line's failure is logged and absorbed: the line keeps an empty audio
// path and the scene degrades to a partially narrated mix.
func (n *NarrationService) SynthesizeScene(ctx context.Context, lines []models.SceneNarration, audioDir string) []models.SceneNarration {
	for i := range lines {
		audioPath, duration, err := n.synthesizeLine(ctx, &lines[i], audioDir)
		if err != nil {
			synthErr := &models.SynthesisError{Line: lines[i].Text, Err: err}
			n.logger.Warn().
				Str("scene", lines[i].SelectedSceneID).
				Int("line", lines[i].LineIndex).
				Err(synthErr).
				Msg("narration line dropped")
			continue
		}
		lines[i].AudioPath = audioPath
		lines[i].AudioDuration = duration
	}
	return lines
}

// synthesizeLine calls the provider, transcodes to the canonical AAC
// format, and measures the actually-rendered duration. Duration is never
// estimated from text length.
func (n *NarrationService) synthesizeLine(ctx context.Context, line *models.SceneNarration, audioDir string) (string, float64, error) {
	var audio []byte
	var lastErr error
	for attempt := 0; attempt < maxLineAttempts; attempt++ {
		audio, lastErr = n.speech.Synthesize(ctx, line.Text)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}
	if lastErr != nil {
		return "", 0, fmt.Errorf("after %d attempts: %w", maxLineAttempts, lastErr)
	}

	rawPath := filepath.Join(audioDir, fmt.Sprintf("%s_line_%02d_raw.mp3", line.SelectedSceneID, line.LineIndex))
	if err := os.WriteFile(rawPath, audio, 0644); err != nil {
		return "", 0, fmt.Errorf("failed to save audio: %w", err)
	}

	// The provider's native format is not assumed to match the pipeline's.
	finalPath := filepath.Join(audioDir, fmt.Sprintf("%s_line_%02d.m4a", line.SelectedSceneID, line.LineIndex))
	if _, err := n.ffmpeg.Run(ctx,
		"-i", rawPath,
		"-c:a", "aac",
		"-ar", strconv.Itoa(n.audioSampleRate),
		"-ac", "2",
		"-b:a", n.audioBitrate,
		finalPath,
	); err != nil {
		return "", 0, fmt.Errorf("transcode failed: %w", err)
	}
	_ = os.Remove(rawPath)

	duration, err := n.ffmpeg.Duration(ctx, finalPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to measure audio duration: %w", err)
	}

	return finalPath, duration, nil
}
