package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/obialo/tutornotify/internal/config"
	"github.com/obialo/tutornotify/internal/dispatch"
	"go.uber.org/zap"
)

const TaskDispatchNotification = "notification:dispatch"

type dispatchPayload struct {
	NotificationID string `json:"notification_id"`
}

// Scheduler defers dispatches to their scheduled_at instant using asynq
// on top of the same Redis. The dispatcher re-validates due time and
// notification status when the task fires, so a delayed or duplicated
// trigger cannot send early or twice.
type Scheduler struct {
	client *asynq.Client
	logger *zap.Logger
}

func NewScheduler(cfg config.RedisConfig, logger *zap.Logger) *Scheduler {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Scheduler{client: client, logger: logger}
}

func (s *Scheduler) ScheduleDispatch(ctx context.Context, notificationID string, at time.Time) error {
	payload, err := json.Marshal(dispatchPayload{NotificationID: notificationID})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch payload: %w", err)
	}
	task := asynq.NewTask(TaskDispatchNotification, payload)
	info, err := s.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(at),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue scheduled dispatch: %w", err)
	}
	s.logger.Info("dispatch scheduled",
		zap.String("notification_id", notificationID),
		zap.String("task_id", info.ID),
		zap.Time("process_at", at))
	return nil
}

func (s *Scheduler) Close() error {
	return s.client.Close()
}

// Worker consumes scheduled dispatch tasks and hands them to the
// dispatcher's execution path.
type Worker struct {
	server     *asynq.Server
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

func NewWorker(cfg config.RedisConfig, dispatcher *dispatch.Dispatcher, logger *zap.Logger) *Worker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 5,
		},
	)
	return &Worker{server: server, dispatcher: dispatcher, logger: logger}
}

func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskDispatchNotification, w.handleDispatch)
	return w.server.Start(mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

func (w *Worker) handleDispatch(ctx context.Context, task *asynq.Task) error {
	var payload dispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("bad dispatch payload: %w: %w", err, asynq.SkipRetry)
	}
	res, err := w.dispatcher.Execute(ctx, payload.NotificationID)
	if errors.Is(err, dispatch.ErrNotDue) {
		// Fired early; let asynq retry closer to the due time.
		return err
	}
	if err != nil {
		w.logger.Error("scheduled dispatch failed",
			zap.String("notification_id", payload.NotificationID),
			zap.Error(err))
		return err
	}
	w.logger.Info("scheduled dispatch executed",
		zap.String("notification_id", payload.NotificationID),
		zap.Int("records", res.Records))
	return nil
}
