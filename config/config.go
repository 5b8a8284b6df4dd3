package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port    string
	TempDir string

	// Postgres
	DatabaseDSN string

	// Redis (task queue)
	RedisAddr     string
	RedisPassword string

	// MinIO (durable object storage)
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// AI provider
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ChatModel     string
	SpeechModel   string
	SpeechVoice   string

	// Music generation provider (MusicModeGenerated)
	MusicAPIURL     string
	MusicAPIKey     string
	MusicPresetDir  string
	MusicFadeSec    float64
	MusicMixWeight  float64

	// Scene detection
	SceneThreshold float64 // frame-difference magnitude in [0,1]
	FrameQuality   int     // JPEG quality for representative frames (2 = best)
	FrameGapSec    float64 // anti-overlap gap between adjacent frames

	// Output encoding
	VideoResolution string
	VideoFPS        int
	AudioSampleRate int
	AudioBitrate    string

	// Scheduler
	SchedulerBatchSize int
	MaxStepsPerTick    int
	ScanIntervalSec    int
	WorkerConcurrency  int
	StageTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		TempDir: getEnv("TEMP_DIR", "./temp"),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "autoreel"),
		MinioUseSSL:    getEnvAsBool("MINIO_USE_SSL", false),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		ChatModel:     getEnv("CHAT_MODEL", "gpt-4.1-mini"),
		SpeechModel:   getEnv("SPEECH_MODEL", "tts-1"),
		SpeechVoice:   getEnv("SPEECH_VOICE", "alloy"),

		MusicAPIURL:    getEnv("MUSIC_API_URL", ""),
		MusicAPIKey:    getEnv("MUSIC_API_KEY", ""),
		MusicPresetDir: getEnv("MUSIC_PRESET_DIR", "./assets/music"),
		MusicFadeSec:   getEnvAsFloat("MUSIC_FADE_SECONDS", 3.0),
		MusicMixWeight: getEnvAsFloat("MUSIC_MIX_WEIGHT", 0.3),

		SceneThreshold: getEnvAsFloat("SCENE_THRESHOLD", 0.4),
		FrameQuality:   getEnvAsInt("FRAME_QUALITY", 2),
		FrameGapSec:    getEnvAsFloat("FRAME_GAP_SECONDS", 0.04),

		VideoResolution: getEnv("VIDEO_RESOLUTION", "1920x1080"),
		VideoFPS:        getEnvAsInt("VIDEO_FPS", 30),
		AudioSampleRate: getEnvAsInt("AUDIO_SAMPLE_RATE", 44100),
		AudioBitrate:    getEnv("AUDIO_BITRATE", "192k"),

		SchedulerBatchSize: getEnvAsInt("SCHEDULER_BATCH_SIZE", 5),
		MaxStepsPerTick:    getEnvAsInt("MAX_STEPS_PER_TICK", 2),
		ScanIntervalSec:    getEnvAsInt("SCAN_INTERVAL_SECONDS", 30),
		WorkerConcurrency:  getEnvAsInt("WORKER_CONCURRENCY", 4),
		StageTimeout:       time.Duration(getEnvAsInt("STAGE_TIMEOUT_SECONDS", 600)) * time.Second,
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if c.OpenAIAPIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.SceneThreshold <= 0 || c.SceneThreshold > 1 {
		return errors.New("SCENE_THRESHOLD must be in (0, 1]")
	}
	if c.SchedulerBatchSize <= 0 {
		return errors.New("SCHEDULER_BATCH_SIZE must be positive")
	}
	if c.MaxStepsPerTick <= 0 {
		return errors.New("MAX_STEPS_PER_TICK must be positive")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{Port: %s, Batch: %d, Threshold: %.2f, Model: %s}",
		c.Port, c.SchedulerBatchSize, c.SceneThreshold, c.ChatModel)
}
