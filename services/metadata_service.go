package services

import (
	"context"

	"github.com/rs/zerolog"

	"autoreel/models"
	"autoreel/utils"
)

// MetadataService extracts duration/resolution/frame-rate/bit-rate/codec
// from media files.
type MetadataService struct {
	ffmpeg *utils.FFmpeg
	logger zerolog.Logger
}

// NewMetadataService creates a new metadata service
func NewMetadataService(ffmpeg *utils.FFmpeg, logger zerolog.Logger) *MetadataService {
	return &MetadataService{
		ffmpeg: ffmpeg,
		logger: logger.With().Str("component", "metadata").Logger(),
	}
}

// Analyze probes a media file and returns its metadata.
func (m *MetadataService) Analyze(ctx context.Context, path string) (*models.MediaInfo, error) {
	info, err := m.ffmpeg.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("path", path).
		Float64("duration", info.Duration).
		Int("width", info.Width).
		Int("height", info.Height).
		Str("codec", info.Codec).
		Msg("media analyzed")

	return info, nil
}
