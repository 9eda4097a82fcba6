package track

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obialo/tutornotify/internal/metrics"
	"github.com/obialo/tutornotify/internal/models"
	"github.com/obialo/tutornotify/internal/store"
	"go.uber.org/zap"
)

// ErrTerminalRecord is returned for any transition attempted on a record
// that already reached read or failed.
var ErrTerminalRecord = errors.New("delivery record is in a terminal state")

// Tracker owns the delivery record state machine:
//
//	pending -> delivered -> read
//	pending -> failed
//
// Transitions run under the store's optimistic transaction, so a
// concurrent markDelivered/markFailed race resolves deterministically:
// whichever commits first wins and the other gets ErrTerminalRecord (or
// is absorbed as an idempotent no-op).
type Tracker struct {
	store  *store.Store
	logger *zap.Logger
}

func NewTracker(st *store.Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: st, logger: logger}
}

func (t *Tracker) MarkDelivered(ctx context.Context, recordID string) (*models.DeliveryRecord, error) {
	rec, err := t.store.Transition(ctx, recordID, func(rec *models.DeliveryRecord) error {
		switch rec.Status {
		case models.RecordPending:
			now := time.Now().UTC()
			rec.Status = models.RecordDelivered
			rec.DeliveredAt = &now
			return nil
		case models.RecordDelivered:
			// Duplicate adapter callback; keep the original timestamp.
			return errNoop
		default:
			return fmt.Errorf("%w: %s", ErrTerminalRecord, rec.Status)
		}
	})
	return t.finish(ctx, recordID, rec, err, models.RecordDelivered)
}

func (t *Tracker) MarkFailed(ctx context.Context, recordID, reason string) (*models.DeliveryRecord, error) {
	rec, err := t.store.Transition(ctx, recordID, func(rec *models.DeliveryRecord) error {
		if rec.Status != models.RecordPending {
			if rec.Status == models.RecordFailed {
				return errNoop
			}
			return fmt.Errorf("%w: %s", ErrTerminalRecord, rec.Status)
		}
		rec.Status = models.RecordFailed
		rec.FailureReason = reason
		return nil
	})
	return t.finish(ctx, recordID, rec, err, models.RecordFailed)
}

// MarkRead is driven by the recipient's own client. Re-reading an
// already-read record is a no-op and leaves read_at untouched.
func (t *Tracker) MarkRead(ctx context.Context, recordID string) (*models.DeliveryRecord, error) {
	rec, err := t.store.Transition(ctx, recordID, func(rec *models.DeliveryRecord) error {
		switch rec.Status {
		case models.RecordPending, models.RecordDelivered:
			now := time.Now().UTC()
			rec.Status = models.RecordRead
			rec.ReadAt = &now
			return nil
		case models.RecordRead:
			return errNoop
		default:
			return fmt.Errorf("%w: %s", ErrTerminalRecord, rec.Status)
		}
	})
	return t.finish(ctx, recordID, rec, err, models.RecordRead)
}

// Aggregate counts record states for one notification at call time.
func (t *Tracker) Aggregate(ctx context.Context, notificationID string) (models.DeliveryStats, error) {
	records, err := t.store.ListRecords(ctx, notificationID)
	if err != nil {
		return models.DeliveryStats{}, err
	}
	var stats models.DeliveryStats
	stats.Total = len(records)
	for _, rec := range records {
		switch rec.Status {
		case models.RecordPending:
			stats.Pending++
		case models.RecordDelivered:
			stats.Delivered++
		case models.RecordRead:
			stats.Read++
		case models.RecordFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// errNoop aborts a transition without treating it as a failure.
var errNoop = errors.New("no-op transition")

func (t *Tracker) finish(ctx context.Context, recordID string, rec *models.DeliveryRecord, err error, target models.RecordStatus) (*models.DeliveryRecord, error) {
	if errors.Is(err, errNoop) {
		return t.store.GetRecord(ctx, recordID)
	}
	if err != nil {
		return nil, err
	}
	metrics.Transitions.WithLabelValues(string(rec.Channel), string(target)).Inc()
	t.settleNotification(ctx, rec.NotificationID)
	return rec, nil
}

// settleNotification flips the parent notification to sent once every
// record has left pending. Best effort; a miss is corrected by the next
// transition on any sibling record.
func (t *Tracker) settleNotification(ctx context.Context, notificationID string) {
	stats, err := t.Aggregate(ctx, notificationID)
	if err != nil {
		t.logger.Warn("failed to aggregate for settlement",
			zap.String("notification_id", notificationID), zap.Error(err))
		return
	}
	if stats.Total == 0 || stats.Pending > 0 {
		return
	}
	n, err := t.store.GetNotification(ctx, notificationID)
	if err != nil {
		t.logger.Warn("failed to load notification for settlement",
			zap.String("notification_id", notificationID), zap.Error(err))
		return
	}
	if n.Status != models.StatusSending {
		return
	}
	if err := t.store.UpdateNotificationStatus(ctx, notificationID, models.StatusSent); err != nil {
		t.logger.Warn("failed to mark notification sent",
			zap.String("notification_id", notificationID), zap.Error(err))
	}
}
