package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/teamflowhq/teamflow/internal/config"
	"github.com/teamflowhq/teamflow/pkg/logger"
)

// Worker processes async tasks from the Redis queue.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	cleaner IntegrationCleaner
	email   *EmailService
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewWorker creates a worker, or nil when Redis is disabled.
func NewWorker(cfg *config.RedisConfig, cleaner IntegrationCleaner, email *EmailService) *Worker {
	if !cfg.Enabled {
		return nil
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warn().Err(err).Str("type", task.Type()).Msg("task processing failed")
			}),
		},
	)

	return &Worker{
		server:  server,
		mux:     asynq.NewServeMux(),
		cleaner: cleaner,
		email:   email,
	}
}

// Start begins processing tasks.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeIntegrationCleanup, w.handleIntegrationCleanup)
	w.mux.HandleFunc(TaskTypeKickoutEmail, w.handleKickoutEmail)

	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Info().Msg("starting async worker")
		if err := w.server.Run(w.mux); err != nil {
			logger.Error().Err(err).Msg("async worker stopped")
		}
	}()

	return nil
}

// Stop gracefully shuts down the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.server.Shutdown()
	w.wg.Wait()
	w.running = false
}

func (w *Worker) handleIntegrationCleanup(ctx context.Context, t *asynq.Task) error {
	var task IntegrationCleanupTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return err
	}
	changes, err := w.cleaner.RemoveReposForUser(task.UserID, task.TeamIDs)
	if err != nil {
		return err
	}
	archived, err := w.cleaner.ArchiveProjectsForRepos(changes)
	if err != nil {
		return err
	}
	logger.Info().Str("user_id", task.UserID).Int("archived", len(archived)).Msg("integration cleanup retry completed")
	return nil
}

func (w *Worker) handleKickoutEmail(ctx context.Context, t *asynq.Task) error {
	var task KickoutEmailTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return err
	}
	if w.email == nil {
		return nil
	}
	return w.email.SendKickoutNotice(task.Email, task.UserName, task.TeamName)
}
