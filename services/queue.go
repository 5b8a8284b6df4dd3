package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	// TaskAdvancePipeline moves one project through its pending stages.
	TaskAdvancePipeline = "pipeline:advance"
	// TaskScanPending sweeps for claimable projects missed by direct
	// enqueues.
	TaskScanPending = "pipeline:scan"
)

type advancePayload struct {
	ProjectID string `json:"project_id"`
}

// QueueClient enqueues pipeline tasks.
type QueueClient struct {
	client *asynq.Client
	logger zerolog.Logger
}

// NewQueueClient creates a new queue client
func NewQueueClient(redisAddr, redisPassword string, logger zerolog.Logger) *QueueClient {
	return &QueueClient{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword}),
		logger: logger.With().Str("component", "queue").Logger(),
	}
}

// EnqueueAdvance schedules one advance for a project. Advance is
// idempotent under the claim lock, so duplicate enqueues are harmless.
func (q *QueueClient) EnqueueAdvance(ctx context.Context, projectID string) error {
	payload, err := json.Marshal(advancePayload{ProjectID: projectID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskAdvancePipeline, payload)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue advance: %w", err)
	}
	q.logger.Info().Str("project", projectID).Str("task", info.ID).Msg("advance enqueued")
	return nil
}

// Close releases the underlying redis connection.
func (q *QueueClient) Close() error {
	return q.client.Close()
}

// QueueWorker consumes pipeline tasks and runs the recurring pending
// scan.
type QueueWorker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	pipeline  *PipelineService
	logger    zerolog.Logger
	batchSize int
}

// NewQueueWorker creates a new queue worker
func NewQueueWorker(redisAddr, redisPassword string, concurrency int, scanInterval time.Duration, pipeline *PipelineService, logger zerolog.Logger, batchSize int) *QueueWorker {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	interval := fmt.Sprintf("@every %s", scanInterval)
	if _, err := scheduler.Register(interval, asynq.NewTask(TaskScanPending, nil)); err != nil {
		logger.Error().Err(err).Msg("failed to register pending scan")
	}

	return &QueueWorker{
		server:    server,
		scheduler: scheduler,
		pipeline:  pipeline,
		logger:    logger.With().Str("component", "worker").Logger(),
		batchSize: batchSize,
	}
}

// Start runs the worker and the scan scheduler until Shutdown.
func (w *QueueWorker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskAdvancePipeline, w.handleAdvance)
	mux.HandleFunc(TaskScanPending, w.handleScan)

	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return w.server.Start(mux)
}

// Shutdown stops consuming and waits for in-flight tasks.
func (w *QueueWorker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
}

func (w *QueueWorker) handleAdvance(ctx context.Context, t *asynq.Task) error {
	var payload advancePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("bad advance payload: %w", err)
	}
	return w.pipeline.Advance(ctx, payload.ProjectID)
}

// handleScan advances every claimable project in one batch. Work that
// remains is picked up on the next tick.
func (w *QueueWorker) handleScan(ctx context.Context, t *asynq.Task) error {
	advanced := w.pipeline.ProcessPending(ctx, w.batchSize)
	if advanced > 0 {
		w.logger.Info().Int("advanced", advanced).Msg("pending scan advanced projects")
	}
	return nil
}
