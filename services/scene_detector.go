package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"autoreel/models"
	"autoreel/utils"
)

// SceneDetectorService finds scene-change boundaries in a source video,
// writing one representative image per boundary (the first frame always
// included) and returning time-ordered SceneFrame records.
type SceneDetectorService struct {
	ffmpeg  *utils.FFmpeg
	logger  zerolog.Logger
	gap     float64 // anti-overlap gap between adjacent frames, seconds
	quality int     // JPEG quality for frame images
}

// NewSceneDetectorService creates a new scene detector
func NewSceneDetectorService(ffmpeg *utils.FFmpeg, logger zerolog.Logger, gap float64, quality int) *SceneDetectorService {
	return &SceneDetectorService{
		ffmpeg:  ffmpeg,
		logger:  logger.With().Str("component", "scene_detector").Logger(),
		gap:     gap,
		quality: quality,
	}
}

// DetectRequest describes one detection run.
type DetectRequest struct {
	ProjectID     string
	SourceVideoID string
	VideoPath     string
	Threshold     float64 // normalized frame-difference magnitude in [0,1]
	Duration      float64 // source duration, bounds the last frame's end time
	OutputDir     string
}

// frameTriple ties a frame's positional index, its timestamp, and the image
// file ffmpeg wrote for it. All three come out of one parse pass so they
// can never drift apart.
type frameTriple struct {
	Index     int
	Timestamp float64
	ImagePath string
}

// Detect runs ffmpeg scene detection. One invocation both writes the
// representative images and emits showinfo diagnostics on stderr; the k-th
// showinfo line corresponds to the k-th written image.
func (d *SceneDetectorService) Detect(ctx context.Context, req DetectRequest) ([]models.SceneFrame, error) {
	d.logger.Info().
		Str("video", req.VideoPath).
		Float64("threshold", req.Threshold).
		Msg("detecting scene changes")

	pattern := filepath.Join(req.OutputDir, "frame_%04d.jpg")
	args := []string{
		"-i", req.VideoPath,
		"-vf", fmt.Sprintf(`select='eq(n\,0)+gt(scene\,%g)',showinfo`, req.Threshold),
		"-fps_mode", "vfr",
		"-q:v", strconv.Itoa(d.quality),
		pattern,
	}

	stderr, err := d.ffmpeg.Run(ctx, args...)
	if err != nil {
		return nil, err
	}

	triples := parseShowinfo(stderr, pattern)
	if len(triples) == 0 {
		return nil, &models.ExternalToolError{
			Tool:   "ffmpeg",
			Stderr: stderr,
			Err:    fmt.Errorf("no scene timestamps parsed from diagnostic output"),
		}
	}

	frames := buildSceneFrames(triples, req.Duration, d.gap)
	for i := range frames {
		frames[i].ID = uuid.NewString()
		frames[i].ProjectID = req.ProjectID
		frames[i].SourceVideoID = req.SourceVideoID
	}

	d.logger.Info().Int("frames", len(frames)).Msg("scene detection complete")
	return frames, nil
}

// parseShowinfo extracts (index, timestamp, imagePath) triples from ffmpeg
// showinfo stderr output. The image path is derived from the same counter
// as the timestamp, in the same pass.
func parseShowinfo(output, imagePattern string) []frameTriple {
	var triples []frameTriple

	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "pts_time:") {
			continue
		}
		parts := strings.SplitN(line, "pts_time:", 2)
		fields := strings.Fields(strings.TrimSpace(parts[1]))
		if len(fields) == 0 {
			continue
		}
		ts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		idx := len(triples)
		triples = append(triples, frameTriple{
			Index:     idx,
			Timestamp: ts,
			ImagePath: fmt.Sprintf(imagePattern, idx+1), // ffmpeg numbers from 1
		})
	}

	return triples
}

// buildSceneFrames assigns time ranges: each frame ends one gap before the
// next frame starts; the last frame ends after the run's average
// inter-frame interval, clamped to the source duration.
func buildSceneFrames(triples []frameTriple, duration, gap float64) []models.SceneFrame {
	frames := make([]models.SceneFrame, 0, len(triples))

	for i, t := range triples {
		var end float64
		if i < len(triples)-1 {
			end = triples[i+1].Timestamp - gap
		} else {
			end = t.Timestamp + averageInterval(triples, duration) - gap
			if duration > 0 && end > duration {
				end = duration
			}
		}
		if end <= t.Timestamp {
			// Near-duplicate boundary; cap the span at the next boundary
			// so adjacent frames never overlap.
			if i < len(triples)-1 {
				end = triples[i+1].Timestamp
			} else {
				end = t.Timestamp + gap
				if duration > 0 && end > duration {
					end = duration
				}
			}
		}

		frames = append(frames, models.SceneFrame{
			FrameIndex: t.Index,
			StartTime:  t.Timestamp,
			EndTime:    end,
			ImagePath:  t.ImagePath,
		})
	}

	return frames
}

// averageInterval is the mean spacing between boundaries. With a single
// boundary the whole remaining run counts as its interval.
func averageInterval(triples []frameTriple, duration float64) float64 {
	n := len(triples)
	if n >= 2 {
		return (triples[n-1].Timestamp - triples[0].Timestamp) / float64(n-1)
	}
	if duration > triples[0].Timestamp {
		return duration - triples[0].Timestamp
	}
	return 1.0
}
