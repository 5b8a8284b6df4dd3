package services

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"autoreel/models"
)

// StorageService stores final videos and frame images in object storage.
type StorageService struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// NewStorageService connects to the object storage endpoint and makes sure
// the bucket exists.
func NewStorageService(endpoint, accessKey, secretKey, bucket string, useSSL bool, logger zerolog.Logger) (*StorageService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &StorageService{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("component", "storage").Logger(),
	}, nil
}

// UploadFinalVideo stores the composed output under the project's prefix
// and returns the object key.
func (s *StorageService) UploadFinalVideo(ctx context.Context, projectID, localPath string) (string, error) {
	key := fmt.Sprintf("projects/%s/final%s", projectID, filepath.Ext(localPath))
	return s.upload(ctx, key, localPath, contentTypeFor(localPath))
}

// UploadFrame stores one extracted scene frame image.
func (s *StorageService) UploadFrame(ctx context.Context, projectID, localPath string) (string, error) {
	key := fmt.Sprintf("projects/%s/frames/%s", projectID, filepath.Base(localPath))
	return s.upload(ctx, key, localPath, contentTypeFor(localPath))
}

func (s *StorageService) upload(ctx context.Context, key, localPath, contentType string) (string, error) {
	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", &models.StorageError{Key: key, Err: err}
	}
	s.logger.Info().Str("key", key).Int64("size", info.Size).Msg("object uploaded")
	return key, nil
}

// PresignedURL returns a time-limited download link for an object key.
func (s *StorageService) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", &models.StorageError{Key: key, Err: err}
	}
	return u.String(), nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
