package services

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/teamflowhq/teamflow/internal/config"
	"github.com/teamflowhq/teamflow/pkg/logger"
)

const (
	TaskTypeIntegrationCleanup = "integration:cleanup"
	TaskTypeKickoutEmail       = "email:kickout"
)

// IntegrationCleanupTask retries the external repository teardown for a
// removed member.
type IntegrationCleanupTask struct {
	UserID  string   `json:"user_id"`
	TeamIDs []string `json:"team_ids"`
}

// KickoutEmailTask delivers the removal notice to the kicked-out user.
type KickoutEmailTask struct {
	Email    string `json:"email"`
	UserName string `json:"user_name"`
	TeamName string `json:"team_name"`
}

// TaskQueue defines the interface for background task processing.
type TaskQueue interface {
	// EnqueueIntegrationCleanup schedules a teardown retry.
	EnqueueIntegrationCleanup(task *IntegrationCleanupTask) error
	// EnqueueKickoutEmail schedules a kickout notice.
	EnqueueKickoutEmail(task *KickoutEmailTask) error
	// IsAsync returns true if the queue processes tasks asynchronously.
	IsAsync() bool
	// Close gracefully shuts down the queue.
	Close() error
}

// NewTaskQueue builds the queue from config: Redis-backed when enabled,
// otherwise a synchronous in-process fallback.
func NewTaskQueue(cfg *config.Config, email *EmailService) TaskQueue {
	if cfg.Redis.Enabled {
		queue, err := NewAsyncQueue(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, falling back to sync task queue")
		} else {
			logger.Info().Str("addr", cfg.Redis.Addr).Msg("async task queue initialized")
			return queue
		}
	}
	logger.Info().Msg("sync task queue initialized (redis disabled)")
	return NewSyncQueue(email)
}

// AsyncQueue implements TaskQueue using asynq (Redis-based).
type AsyncQueue struct {
	client *asynq.Client
}

// NewAsyncQueue creates a new Redis-based async queue.
func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	// Verify the connection up front so callers can fall back.
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) enqueue(taskType string, payload interface{}, maxRetry int) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t := asynq.NewTask(taskType, data)
	info, err := q.client.Enqueue(t,
		asynq.Queue("default"),
		asynq.MaxRetry(maxRetry),
	)
	if err != nil {
		return err
	}
	logger.Debug().Str("task_id", info.ID).Str("type", taskType).Msg("task enqueued")
	return nil
}

func (q *AsyncQueue) EnqueueIntegrationCleanup(task *IntegrationCleanupTask) error {
	return q.enqueue(TaskTypeIntegrationCleanup, task, 5)
}

func (q *AsyncQueue) EnqueueKickoutEmail(task *KickoutEmailTask) error {
	return q.enqueue(TaskTypeKickoutEmail, task, 3)
}

func (q *AsyncQueue) IsAsync() bool { return true }

func (q *AsyncQueue) Close() error { return q.client.Close() }

// SyncQueue processes tasks inline, used when Redis is disabled.
type SyncQueue struct {
	email *EmailService
}

// NewSyncQueue creates the inline fallback queue.
func NewSyncQueue(email *EmailService) *SyncQueue {
	return &SyncQueue{email: email}
}

// EnqueueIntegrationCleanup drops the retry: the caller already made the
// inline attempt and there is no broker to try again later.
func (q *SyncQueue) EnqueueIntegrationCleanup(task *IntegrationCleanupTask) error {
	logger.Warn().Str("user_id", task.UserID).Msg("no broker available, integration cleanup retry dropped")
	return nil
}

func (q *SyncQueue) EnqueueKickoutEmail(task *KickoutEmailTask) error {
	if q.email == nil {
		return nil
	}
	return q.email.SendKickoutNotice(task.Email, task.UserName, task.TeamName)
}

func (q *SyncQueue) IsAsync() bool { return false }

func (q *SyncQueue) Close() error { return nil }
