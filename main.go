package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"autoreel/config"
	"autoreel/handlers"
	"autoreel/models"
	"autoreel/services"
	"autoreel/utils"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Info().Str("config", cfg.String()).Msg("configuration loaded")

	// Database
	db, err := models.InitDB(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	store := models.NewGormStore(db)

	// Media toolchain
	ffmpeg, err := utils.NewFFmpeg(logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("ffmpeg not available")
	}

	// Object storage
	storage, err := services.NewStorageService(
		cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
		cfg.MinioBucket, cfg.MinioUseSSL, logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to object storage")
	}

	width, height, err := parseResolution(cfg.VideoResolution)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid VIDEO_RESOLUTION")
	}

	// Pipeline stage services
	metadata := services.NewMetadataService(ffmpeg, logger)
	detector := services.NewSceneDetectorService(ffmpeg, logger, cfg.FrameGapSec, cfg.FrameQuality)
	selector := services.NewSceneSelectorService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ChatModel, logger)
	narrator := services.NewNarrationService(
		cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.SpeechModel, cfg.SpeechVoice,
		ffmpeg, logger, cfg.AudioBitrate, cfg.AudioSampleRate,
	)
	music := services.NewMusicService(
		cfg.MusicAPIURL, cfg.MusicAPIKey, cfg.MusicPresetDir,
		ffmpeg, logger, cfg.MusicFadeSec,
	)
	composer := services.NewComposerService(
		ffmpeg, music, logger,
		width, height, cfg.VideoFPS,
		cfg.AudioSampleRate, cfg.AudioBitrate, cfg.MusicMixWeight,
	)

	pipeline := services.NewPipelineService(
		store, metadata, detector, selector, narrator, composer, storage,
		logger, cfg.TempDir, cfg.SceneThreshold, cfg.StageTimeout, cfg.MaxStepsPerTick,
	)

	// Task queue
	queue := services.NewQueueClient(cfg.RedisAddr, cfg.RedisPassword, logger)
	defer queue.Close()

	worker := services.NewQueueWorker(
		cfg.RedisAddr, cfg.RedisPassword, cfg.WorkerConcurrency,
		time.Duration(cfg.ScanIntervalSec)*time.Second,
		pipeline, logger, cfg.SchedulerBatchSize,
	)
	go func() {
		if err := worker.Start(); err != nil {
			logger.Fatal().Err(err).Msg("worker failed to start")
		}
	}()

	// HTTP API
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now(),
		})
	})

	projectHandler := handlers.NewProjectHandler(cfg, store, pipeline, queue, storage, logger)
	projectHandler.RegisterRoutes(router.Group("/api"))

	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := router.Run(addr); err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Drain in-flight stages before exiting
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")
	worker.Shutdown()
}

// parseResolution splits "1920x1080" into width and height.
func parseResolution(res string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(res), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected WxH, got %q", res)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("resolution must be positive, got %q", res)
	}
	return w, h, nil
}
