package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"autoreel/models"
)

// CommandRunner abstracts process execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// FFmpeg wraps ffmpeg/ffprobe invocations with captured diagnostics.
type FFmpeg struct {
	logger      zerolog.Logger
	runner      CommandRunner
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg locates the binaries and returns an executor.
func NewFFmpeg(logger zerolog.Logger) (*FFmpeg, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &FFmpeg{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		runner:      execRunner{},
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

// NewFFmpegWithRunner injects a custom runner; used by tests.
func NewFFmpegWithRunner(logger zerolog.Logger, runner CommandRunner) *FFmpeg {
	return &FFmpeg{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		runner:      runner,
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
	}
}

// Run executes ffmpeg and returns captured stderr (ffmpeg writes all
// diagnostics there). Non-zero exit wraps the stderr tail in an
// ExternalToolError.
func (f *FFmpeg) Run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-y", "-hide_banner"}, args...)
	f.logger.Debug().Strs("args", full).Msg("executing ffmpeg")

	_, stderr, err := f.runner.Run(ctx, f.ffmpegPath, full...)
	if err != nil {
		if ctx.Err() != nil {
			return stderr, ctx.Err()
		}
		return stderr, &models.ExternalToolError{
			Tool:   "ffmpeg",
			Stderr: tail(stderr, 2000),
			Err:    err,
		}
	}
	return stderr, nil
}

// Probe extracts media metadata via ffprobe JSON output.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*models.MediaInfo, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	stdout, stderr, err := f.runner.Run(ctx, f.ffprobePath, args...)
	if err != nil {
		return nil, &models.ExternalToolError{Tool: "ffprobe", Stderr: tail(stderr, 2000), Err: err}
	}

	var probe probeResult
	if err := json.Unmarshal([]byte(stdout), &probe); err != nil {
		return nil, &models.ExternalToolError{Tool: "ffprobe", Err: fmt.Errorf("parse output: %w", err)}
	}

	info := &models.MediaInfo{}
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = dur
	}
	if br, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
		info.BitRate = br
	}
	for _, stream := range probe.Streams {
		if stream.CodecType == "video" {
			info.Width = stream.Width
			info.Height = stream.Height
			info.Codec = stream.CodecName
			if stream.RFrameRate != "" {
				info.FrameRate = ParseFrameRate(stream.RFrameRate)
			}
		}
	}

	return info, nil
}

// Duration returns the duration of a media file in seconds. Works for both
// audio and video.
func (f *FFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	stdout, stderr, err := f.runner.Run(ctx, f.ffprobePath, args...)
	if err != nil {
		return 0, &models.ExternalToolError{Tool: "ffprobe", Stderr: tail(stderr, 2000), Err: err}
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return duration, nil
}

// probeResult matches ffprobe JSON output structure
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// ParseFrameRate converts an ffprobe rational like "30000/1001" to fps.
func ParseFrameRate(r string) float64 {
	parts := strings.SplitN(r, "/", 2)
	if len(parts) == 1 {
		fps, _ := strconv.ParseFloat(parts[0], 64)
		return fps
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
