package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"autoreel/models"
	"autoreel/utils"
)

// ComposerService assembles the final video from selected scene clips,
// narration audio, burned-in subtitles and a background music track.
type ComposerService struct {
	ffmpeg       *utils.FFmpeg
	music        *MusicService
	logger       zerolog.Logger
	width        int
	height       int
	fps          int
	sampleRate   int
	audioBitrate string
	mixWeight    float64
}

// ComposeScene bundles one selected scene with its source file and the
// narration lines that were synthesized for it.
type ComposeScene struct {
	Scene      models.SelectedScene
	SourcePath string
	Narrations []models.SceneNarration
}

// ComposeResult describes the finished output file.
type ComposeResult struct {
	FilePath   string
	Duration   float64
	Width      int
	Height     int
	ByteSize   int64
	MusicPath  string
	SceneCount int
}

// NewComposerService creates a new composer service
func NewComposerService(ffmpeg *utils.FFmpeg, music *MusicService, logger zerolog.Logger, width, height, fps, sampleRate int, audioBitrate string, mixWeight float64) *ComposerService {
	return &ComposerService{
		ffmpeg:       ffmpeg,
		music:        music,
		logger:       logger.With().Str("component", "composer").Logger(),
		width:        width,
		height:       height,
		fps:          fps,
		sampleRate:   sampleRate,
		audioBitrate: audioBitrate,
		mixWeight:    mixWeight,
	}
}

// Compose builds the final video for a project. Scenes must already be
// ordered by sequence. Each kept scene is cut and normalized, overlaid
// with its narration mix and subtitles, then the segments are joined and
// the background music is mixed in with one last encode.
func (c *ComposerService) Compose(ctx context.Context, project *models.Project, scenes []ComposeScene, projectDir string) (*ComposeResult, error) {
	if len(scenes) == 0 {
		return nil, &models.ValidationError{Message: "no scenes to compose"}
	}

	clipsDir := filepath.Join(projectDir, "clips")
	musicDir := filepath.Join(projectDir, "music")
	outputDir := filepath.Join(projectDir, "output")

	segmentPaths := make([]string, 0, len(scenes))
	for i := range scenes {
		segPath, err := c.buildSegment(ctx, &scenes[i], clipsDir, i)
		if err != nil {
			return nil, fmt.Errorf("scene %d: %w", scenes[i].Scene.Sequence, err)
		}
		segmentPaths = append(segmentPaths, segPath)
	}

	timelinePath := filepath.Join(outputDir, "timeline.mp4")
	if err := c.joinSegments(ctx, segmentPaths, clipsDir, timelinePath); err != nil {
		return nil, err
	}

	timelineDuration, err := c.ffmpeg.Duration(ctx, timelinePath)
	if err != nil {
		return nil, err
	}

	trackPath, err := c.music.ObtainTrack(ctx, project, musicDir)
	if err != nil {
		return nil, err
	}
	fittedPath := filepath.Join(musicDir, "fitted.m4a")
	if err := c.music.FitToDuration(ctx, trackPath, fittedPath, timelineDuration); err != nil {
		return nil, err
	}

	finalPath := filepath.Join(outputDir, "final.mp4")
	if err := c.mixMusic(ctx, timelinePath, fittedPath, finalPath); err != nil {
		return nil, err
	}

	info, err := c.ffmpeg.Probe(ctx, finalPath)
	if err != nil {
		return nil, err
	}
	size, err := utils.GetFileSize(finalPath)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("project", project.ID).
		Int("scenes", len(scenes)).
		Float64("duration", info.Duration).
		Msg("final video composed")

	return &ComposeResult{
		FilePath:   finalPath,
		Duration:   info.Duration,
		Width:      info.Width,
		Height:     info.Height,
		ByteSize:   size,
		MusicPath:  trackPath,
		SceneCount: len(scenes),
	}, nil
}

// buildSegment cuts one scene out of its source, normalizes it to the
// project format, mixes the narration lines at their timeline offsets and
// burns the subtitles in.
func (c *ComposerService) buildSegment(ctx context.Context, cs *ComposeScene, clipsDir string, index int) (string, error) {
	clipPath := filepath.Join(clipsDir, fmt.Sprintf("clip_%03d.mp4", index))
	if err := c.trimScene(ctx, cs.SourcePath, cs.Scene.StartTime, cs.Scene.EndTime, clipPath); err != nil {
		return "", err
	}
	cs.Scene.ClipPath = clipPath
	cs.Scene.Status = models.SceneStatusClipped

	srtPath := filepath.Join(clipsDir, fmt.Sprintf("clip_%03d.srt", index))
	srt := BuildSceneSRT(cs.Narrations)
	if err := os.WriteFile(srtPath, []byte(srt), 0644); err != nil {
		return "", fmt.Errorf("failed to write subtitles: %w", err)
	}

	segPath := filepath.Join(clipsDir, fmt.Sprintf("segment_%03d.mp4", index))

	var voiced []models.SceneNarration
	for _, n := range cs.Narrations {
		if n.HasAudio() {
			voiced = append(voiced, n)
		}
	}

	args := []string{"-i", clipPath}
	for _, n := range voiced {
		args = append(args, "-i", n.AudioPath)
	}

	filter := BuildSegmentFilter(srtPath, narrationDurations(voiced))
	args = append(args,
		"-filter_complex", filter,
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-c:a", "aac", "-b:a", c.audioBitrate, "-ar", strconv.Itoa(c.sampleRate),
		segPath,
	)
	if _, err := c.ffmpeg.Run(ctx, args...); err != nil {
		return "", err
	}

	cs.Scene.Status = models.SceneStatusCompleted
	return segPath, nil
}

// trimScene re-encodes the [start, end) span of the source into a clip in
// the project's canonical format. Re-encoding at the cut keeps segment
// joins frame accurate regardless of source keyframe placement.
func (c *ComposerService) trimScene(ctx context.Context, sourcePath string, start, end float64, outputPath string) error {
	if end <= start {
		return &models.ValidationError{Message: fmt.Sprintf("invalid scene span %.3f..%.3f", start, end)}
	}
	args := []string{
		"-ss", formatSeconds(start),
		"-to", formatSeconds(end),
		"-i", sourcePath,
		"-vf", c.normalizeVideoFilter(),
		"-r", strconv.Itoa(c.fps),
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-c:a", "aac", "-b:a", c.audioBitrate, "-ar", strconv.Itoa(c.sampleRate), "-ac", "2",
		outputPath,
	}
	_, err := c.ffmpeg.Run(ctx, args...)
	return err
}

// normalizeVideoFilter scales and pads to the project resolution without
// distorting the source aspect ratio.
func (c *ComposerService) normalizeVideoFilter() string {
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,format=yuv420p",
		c.width, c.height, c.width, c.height)
}

// joinSegments concatenates the finished segments with the concat demuxer.
// All segments share one format, so the join is a stream copy.
func (c *ComposerService) joinSegments(ctx context.Context, segmentPaths []string, workDir, outputPath string) error {
	listPath := filepath.Join(workDir, "segments.txt")
	if err := os.WriteFile(listPath, []byte(BuildConcatList(segmentPaths)), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	_, err := c.ffmpeg.Run(ctx,
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath,
	)
	return err
}

// mixMusic lays the fitted music track under the timeline audio and
// performs the single final encode.
func (c *ComposerService) mixMusic(ctx context.Context, timelinePath, musicPath, outputPath string) error {
	filter := fmt.Sprintf("[0:a][1:a]amix=inputs=2:duration=first:weights=1 %s[aout]", formatSeconds(c.mixWeight))
	_, err := c.ffmpeg.Run(ctx,
		"-i", timelinePath,
		"-i", musicPath,
		"-filter_complex", filter,
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-c:a", "aac", "-b:a", c.audioBitrate, "-ar", strconv.Itoa(c.sampleRate),
		outputPath,
	)
	return err
}

// narrationDurations extracts the measured audio lengths in line order.
func narrationDurations(narrations []models.SceneNarration) []float64 {
	durations := make([]float64, len(narrations))
	for i, n := range narrations {
		durations[i] = n.AudioDuration
	}
	return durations
}

// NarrationDelays returns the timeline offset of each narration line. Line
// i starts where line i-1 ends, so delays are the running sum of the
// measured durations.
func NarrationDelays(durations []float64) []float64 {
	delays := make([]float64, len(durations))
	var offset float64
	for i, d := range durations {
		delays[i] = offset
		offset += d
	}
	return delays
}

// BuildSegmentFilter builds the filter graph for one segment: subtitles
// burned into the clip video, narration lines delayed to their offsets and
// mixed over the clip audio. Input 0 is the clip, inputs 1..n the
// narration files.
func BuildSegmentFilter(srtPath string, narrationDurations []float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[0:v]subtitles=%s[vout]", escapeFilterPath(srtPath))

	if len(narrationDurations) == 0 {
		sb.WriteString(";[0:a]anull[aout]")
		return sb.String()
	}

	delays := NarrationDelays(narrationDurations)
	for i, d := range delays {
		ms := int(d * 1000)
		fmt.Fprintf(&sb, ";[%d:a]adelay=%d|%d[n%d]", i+1, ms, ms, i)
	}

	sb.WriteString(";[0:a]")
	for i := range delays {
		fmt.Fprintf(&sb, "[n%d]", i)
	}
	fmt.Fprintf(&sb, "amix=inputs=%d:duration=first:normalize=0[aout]", len(delays)+1)
	return sb.String()
}

// BuildSceneSRT renders the narration lines of one scene as SRT cues. Cue
// times come from the measured audio durations, so subtitles stay in sync
// with speech. Lines without audio get no cue.
func BuildSceneSRT(narrations []models.SceneNarration) string {
	var sb strings.Builder
	cue := 1
	var offset float64
	for _, n := range narrations {
		if !n.HasAudio() {
			continue
		}
		start := offset
		end := offset + n.AudioDuration
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n",
			cue,
			utils.FormatSRTTimestamp(start),
			utils.FormatSRTTimestamp(end),
			n.Text)
		cue++
		offset = end
	}
	return sb.String()
}

// BuildConcatList renders the concat demuxer input list.
func BuildConcatList(paths []string) string {
	var sb strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&sb, "file '%s'\n", strings.ReplaceAll(p, "'", `'\''`))
	}
	return sb.String()
}

// escapeFilterPath escapes a path for use inside a filter argument.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, `\\`)
	path = strings.ReplaceAll(path, ":", `\:`)
	path = strings.ReplaceAll(path, "'", `\'`)
	return "'" + path + "'"
}
