package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/obialo/tutornotify/internal/adapters"
	"github.com/obialo/tutornotify/internal/metrics"
	"github.com/obialo/tutornotify/internal/models"
	"github.com/obialo/tutornotify/internal/render"
	"github.com/obialo/tutornotify/internal/resolve"
	"github.com/obialo/tutornotify/internal/store"
	"github.com/obialo/tutornotify/internal/track"
	"go.uber.org/zap"
)

var (
	// ErrScheduleInPast rejects a scheduled_at that is not strictly in
	// the future. Nothing is persisted when this is returned.
	ErrScheduleInPast = errors.New("scheduled_at must be in the future")

	// ErrAlreadyDispatched rejects a repeat dispatch of a sent
	// notification that was not flagged as a resend.
	ErrAlreadyDispatched = errors.New("notification already dispatched")

	// ErrNotDue means a scheduled execution fired before its time.
	ErrNotDue = errors.New("notification is not due yet")

	// ErrTemplateInactive rejects dispatching from a deactivated template.
	ErrTemplateInactive = errors.New("template is inactive")
)

// Publisher is the broker surface the dispatcher fans email and SMS work
// out through.
type Publisher interface {
	PublishEmail(ctx context.Context, message interface{}) error
	PublishSms(ctx context.Context, message interface{}) error
}

// Scheduler defers a dispatch to a future instant.
type Scheduler interface {
	ScheduleDispatch(ctx context.Context, notificationID string, at time.Time) error
}

// Result summarizes one dispatch pass.
type Result struct {
	Recipients int
	Records    int
	Unknown    int
	Unresolved []string
}

// Dispatcher turns a notification plus targeting into delivery records
// and per-channel sends. Failures are isolated per (recipient, channel);
// only schedule validation and directory unavailability abort a whole
// pass, and they do so before any record exists.
type Dispatcher struct {
	store     *store.Store
	resolver  *resolve.Resolver
	tracker   *track.Tracker
	queue     Publisher
	inApp     adapters.Adapter
	scheduler Scheduler
	logger    *zap.Logger
	now       func() time.Time
}

func NewDispatcher(
	st *store.Store,
	resolver *resolve.Resolver,
	tracker *track.Tracker,
	queue Publisher,
	inApp adapters.Adapter,
	scheduler Scheduler,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:     st,
		resolver:  resolver,
		tracker:   tracker,
		queue:     queue,
		inApp:     inApp,
		scheduler: scheduler,
		logger:    logger,
		now:       time.Now,
	}
}

// Create builds a notification from an admin submission, renders it
// once, and either dispatches immediately or parks it as scheduled.
func (d *Dispatcher) Create(ctx context.Context, req models.CreateNotificationRequest, createdBy, correlationID string) (*models.Notification, *Result, error) {
	title, body := req.Title, req.Body
	var unresolved []string

	if req.Template != "" {
		tmpl, err := d.store.GetTemplate(ctx, req.Template)
		if err != nil {
			return nil, nil, err
		}
		if !tmpl.Active {
			return nil, nil, fmt.Errorf("template %s: %w", tmpl.Name, ErrTemplateInactive)
		}
		title, body, unresolved = render.RenderTemplate(*tmpl, req.Values)
	} else if len(req.Values) > 0 {
		var titleMissing, bodyMissing []string
		title, titleMissing = render.Render(title, req.Values)
		body, bodyMissing = render.Render(body, req.Values)
		unresolved = render.MergeUnresolved(titleMissing, bodyMissing)
	}

	kind := req.Kind
	if kind == "" {
		kind = models.KindSystem
	}
	level := req.Level
	if level == "" {
		level = models.LevelInfo
	}
	if !kind.IsValid() {
		return nil, nil, fmt.Errorf("unknown notification kind %q", kind)
	}
	if !level.IsValid() {
		return nil, nil, fmt.Errorf("unknown level %q", level)
	}
	for _, ch := range req.Channels {
		if !ch.IsValid() {
			return nil, nil, fmt.Errorf("unknown channel %q", ch)
		}
	}
	if err := req.Targeting.Validate(); err != nil {
		return nil, nil, err
	}

	n := &models.Notification{
		ID:          uuid.New().String(),
		Title:       title,
		Body:        body,
		Kind:        kind,
		Level:       level,
		ActionURL:   req.ActionURL,
		ActionText:  req.ActionText,
		ImageURL:    req.ImageURL,
		Payload:     req.Payload,
		Targeting:   req.Targeting.Normalize(),
		Channels:    req.Channels,
		ScheduledAt: req.ScheduledAt,
		Status:      models.StatusDraft,
		CreatedBy:   createdBy,
		CreatedAt:   d.now().UTC(),
	}

	if n.ScheduledAt != nil {
		if !n.ScheduledAt.After(d.now()) {
			metrics.DispatchRejected.WithLabelValues("schedule_in_past").Inc()
			return nil, nil, ErrScheduleInPast
		}
		n.Status = models.StatusScheduled
		if err := d.store.SaveNotification(ctx, n); err != nil {
			return nil, nil, err
		}
		if err := d.scheduler.ScheduleDispatch(ctx, n.ID, *n.ScheduledAt); err != nil {
			return nil, nil, fmt.Errorf("failed to schedule dispatch: %w", err)
		}
		return n, &Result{Unresolved: unresolved}, nil
	}

	if err := d.store.SaveNotification(ctx, n); err != nil {
		return nil, nil, err
	}
	res, err := d.run(ctx, n, correlationID, false)
	if err != nil {
		return nil, nil, err
	}
	res.Unresolved = unresolved
	return n, res, nil
}

// Execute runs a dispatch the scheduler deferred. Triggers can arrive
// late, early or twice: a notification that is no longer scheduled is a
// no-op, and a trigger arriving early is rejected so the task queue
// retries it at the right time.
func (d *Dispatcher) Execute(ctx context.Context, notificationID string) (*Result, error) {
	n, err := d.store.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.Status != models.StatusScheduled {
		d.logger.Info("scheduled dispatch fired for non-scheduled notification, skipping",
			zap.String("notification_id", notificationID),
			zap.String("status", string(n.Status)))
		return &Result{}, nil
	}
	if n.ScheduledAt != nil && d.now().Before(*n.ScheduledAt) {
		return nil, fmt.Errorf("%w: due at %s", ErrNotDue, n.ScheduledAt.Format(time.RFC3339))
	}
	return d.run(ctx, n, uuid.New().String(), false)
}

// Resend re-dispatches a sent notification, targeting only records that
// never reached the recipient.
func (d *Dispatcher) Resend(ctx context.Context, notificationID, correlationID string) (*Result, error) {
	n, err := d.store.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	switch n.Status {
	case models.StatusSent, models.StatusSending, models.StatusFailed:
		return d.run(ctx, n, correlationID, true)
	default:
		return nil, fmt.Errorf("cannot resend notification in status %s", n.Status)
	}
}

func (d *Dispatcher) run(ctx context.Context, n *models.Notification, correlationID string, resend bool) (*Result, error) {
	if n.Status == models.StatusSent && !resend {
		metrics.DispatchRejected.WithLabelValues("already_dispatched").Inc()
		return nil, ErrAlreadyDispatched
	}

	// Targeting is evaluated at dispatch time, not creation time. A
	// directory failure aborts here, before any record is touched.
	resolved, err := d.resolver.Resolve(ctx, n.Targeting)
	if err != nil {
		metrics.DispatchRejected.WithLabelValues("directory_unavailable").Inc()
		return nil, err
	}
	if resolved.Unknown > 0 {
		metrics.UnknownRecipients.Add(float64(resolved.Unknown))
	}

	if err := d.store.UpdateNotificationStatus(ctx, n.ID, models.StatusSending); err != nil {
		return nil, err
	}
	n.Status = models.StatusSending

	res := &Result{Recipients: len(resolved.IDs), Unknown: resolved.Unknown}
	for _, recipientID := range resolved.IDs {
		for _, channel := range n.Channels {
			if resend && d.alreadyReached(ctx, n.ID, recipientID, channel) {
				continue
			}
			rec, created, err := d.store.UpsertRecord(ctx, n.ID, recipientID, channel)
			if err != nil {
				// Record-level failures never block sibling work.
				d.logger.Error("failed to upsert delivery record",
					zap.String("notification_id", n.ID),
					zap.String("recipient_id", recipientID),
					zap.String("channel", string(channel)),
					zap.Error(err))
				continue
			}
			if created {
				metrics.RecordsCreated.WithLabelValues(string(channel)).Inc()
			}
			res.Records++
			d.send(ctx, n, rec, correlationID)
		}
	}

	d.logger.Info("dispatch pass complete",
		zap.String("notification_id", n.ID),
		zap.Int("recipients", res.Recipients),
		zap.Int("records", res.Records),
		zap.Int("unknown", res.Unknown),
		zap.Bool("resend", resend))
	return res, nil
}

// send hands one record to its channel. In-app delivers synchronously;
// email and SMS go through the broker and their workers report back.
func (d *Dispatcher) send(ctx context.Context, n *models.Notification, rec *models.DeliveryRecord, correlationID string) {
	job := models.ChannelJob{
		RecordID:       rec.ID,
		NotificationID: n.ID,
		RecipientID:    rec.RecipientID,
		Channel:        rec.Channel,
		Title:          n.Title,
		Body:           n.Body,
		Level:          n.Level,
		CorrelationID:  correlationID,
		Timestamp:      n.CreatedAt,
	}

	var err error
	switch rec.Channel {
	case models.ChannelInApp:
		err = d.inApp.Send(ctx, job)
	case models.ChannelEmail:
		err = d.queue.PublishEmail(ctx, job)
	case models.ChannelSMS:
		err = d.queue.PublishSms(ctx, job)
	default:
		err = fmt.Errorf("unknown channel %s", rec.Channel)
	}

	if err != nil {
		d.logger.Warn("channel send failed",
			zap.String("record_id", rec.ID),
			zap.String("channel", string(rec.Channel)),
			zap.Error(err))
		if _, ferr := d.tracker.MarkFailed(ctx, rec.ID, err.Error()); ferr != nil {
			d.logger.Error("failed to record channel failure",
				zap.String("record_id", rec.ID), zap.Error(ferr))
		}
	}
}

func (d *Dispatcher) alreadyReached(ctx context.Context, notificationID, recipientID string, channel models.Channel) bool {
	id, err := d.store.FindRecordID(ctx, notificationID, recipientID, channel)
	if err != nil {
		return false
	}
	rec, err := d.store.GetRecord(ctx, id)
	if err != nil {
		return false
	}
	return rec.Status == models.RecordDelivered || rec.Status == models.RecordRead
}
