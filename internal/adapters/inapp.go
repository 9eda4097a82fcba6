package adapters

import (
	"context"
	"fmt"

	"github.com/obialo/tutornotify/internal/models"
	"github.com/obialo/tutornotify/internal/push"
	"github.com/obialo/tutornotify/internal/store"
	"github.com/obialo/tutornotify/internal/track"
	"go.uber.org/zap"
)

// InApp delivers by writing the recipient's inbox and nudging any live
// client over the push hub. The hub publish is best effort; the inbox
// write is the delivery, and it is what flips the record to delivered.
type InApp struct {
	store   *store.Store
	hub     *push.Hub
	tracker *track.Tracker
	logger  *zap.Logger
}

func NewInApp(st *store.Store, hub *push.Hub, tracker *track.Tracker, logger *zap.Logger) *InApp {
	return &InApp{store: st, hub: hub, tracker: tracker, logger: logger}
}

func (a *InApp) Supports(channel models.Channel) bool {
	return channel == models.ChannelInApp
}

func (a *InApp) Send(ctx context.Context, job models.ChannelJob) error {
	if err := a.store.AddToInbox(ctx, job.RecipientID, job.NotificationID, job.Timestamp); err != nil {
		return fmt.Errorf("inbox write for %s: %w", job.RecipientID, err)
	}
	if _, err := a.tracker.MarkDelivered(ctx, job.RecordID); err != nil {
		a.logger.Warn("failed to mark in-app record delivered",
			zap.String("record_id", job.RecordID), zap.Error(err))
	}
	item, err := a.store.FeedItemFor(ctx, job.RecipientID, job.NotificationID)
	if err != nil {
		// Inbox write landed; the client still sees it on the next poll.
		a.logger.Warn("failed to build push payload",
			zap.String("notification_id", job.NotificationID),
			zap.String("recipient_id", job.RecipientID),
			zap.Error(err))
		return nil
	}
	a.hub.Publish(job.RecipientID, *item)
	return nil
}
