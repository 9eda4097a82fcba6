package worker

import (
	"context"
	"encoding/json"

	"github.com/obialo/tutornotify/internal/adapters"
	"github.com/obialo/tutornotify/internal/models"
	"github.com/obialo/tutornotify/internal/track"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Broker is the queue surface a channel worker needs.
type Broker interface {
	Consume(queueName string) (<-chan amqp.Delivery, error)
	PublishFailed(ctx context.Context, message interface{}) error
}

// ChannelWorker drains one channel queue, pushes each job through its
// adapter and reports the outcome to the tracker. A job that fails stays
// failed until an explicit resend; the broker redelivery machinery is
// not used for business retries.
type ChannelWorker struct {
	rabbit    Broker
	queueName string
	adapter   adapters.Adapter
	tracker   *track.Tracker
	logger    *zap.Logger
}

func NewChannelWorker(
	rabbit Broker,
	queueName string,
	adapter adapters.Adapter,
	tracker *track.Tracker,
	logger *zap.Logger,
) *ChannelWorker {
	return &ChannelWorker{
		rabbit:    rabbit,
		queueName: queueName,
		adapter:   adapter,
		tracker:   tracker,
		logger:    logger,
	}
}

// Start consumes until ctx is cancelled or the channel closes.
func (w *ChannelWorker) Start(ctx context.Context) error {
	deliveries, err := w.rabbit.Consume(w.queueName)
	if err != nil {
		return err
	}
	w.logger.Info("channel worker started", zap.String("queue", w.queueName))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.process(ctx, msg)
		}
	}
}

func (w *ChannelWorker) process(ctx context.Context, msg amqp.Delivery) {
	var job models.ChannelJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		w.logger.Error("unparseable channel job, dropping",
			zap.String("queue", w.queueName), zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	if err := w.adapter.Send(ctx, job); err != nil {
		w.logger.Warn("channel adapter send failed",
			zap.String("record_id", job.RecordID),
			zap.String("channel", string(job.Channel)),
			zap.String("correlation_id", job.CorrelationID),
			zap.Error(err))
		if _, terr := w.tracker.MarkFailed(ctx, job.RecordID, err.Error()); terr != nil {
			w.logger.Error("failed to record delivery failure",
				zap.String("record_id", job.RecordID), zap.Error(terr))
		}
		if perr := w.rabbit.PublishFailed(ctx, job); perr != nil {
			w.logger.Error("failed to publish to failed queue",
				zap.String("record_id", job.RecordID), zap.Error(perr))
		}
		_ = msg.Ack(false)
		return
	}

	if _, err := w.tracker.MarkDelivered(ctx, job.RecordID); err != nil {
		w.logger.Warn("failed to mark record delivered",
			zap.String("record_id", job.RecordID), zap.Error(err))
	}
	_ = msg.Ack(false)
}
