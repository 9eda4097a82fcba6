package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obialo/tutornotify/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AddToInbox records a notification in a recipient's in-app feed,
// ordered by creation time.
func (s *Store) AddToInbox(ctx context.Context, recipientID, notificationID string, createdAt time.Time) error {
	key := fmt.Sprintf(inboxKeyFmt, recipientID)
	return s.rdb.ZAdd(ctx, key, redis.Z{
		Score:  float64(createdAt.UnixMilli()),
		Member: notificationID,
	}).Err()
}

// RemoveFromInbox hides a notification from one recipient's feed. The
// delivery record stays behind for analytics.
func (s *Store) RemoveFromInbox(ctx context.Context, recipientID, notificationID string) error {
	key := fmt.Sprintf(inboxKeyFmt, recipientID)
	return s.rdb.ZRem(ctx, key, notificationID).Err()
}

// Feed returns a recipient's in-app notifications newest first. Only
// entries whose record version is greater than sinceVersion are
// included, which lets polling clients pass their high-water mark as a
// cursor; sinceVersion 0 returns the full feed.
func (s *Store) Feed(ctx context.Context, recipientID string, sinceVersion int64, limit int) ([]models.FeedItem, error) {
	if limit <= 0 {
		limit = 50
	}
	key := fmt.Sprintf(inboxKeyFmt, recipientID)
	ids, err := s.rdb.ZRevRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	items := make([]models.FeedItem, 0, len(ids))
	for _, nid := range ids {
		item, err := s.feedItem(ctx, recipientID, nid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Inbox entry outlived its notification; skip it.
				s.logger.Warn("dangling inbox entry",
					zap.String("recipient_id", recipientID),
					zap.String("notification_id", nid))
				continue
			}
			return nil, err
		}
		if item.Version > sinceVersion {
			items = append(items, *item)
		}
	}
	return items, nil
}

// FeedItemFor materializes the client-facing shape for one notification
// in one recipient's feed. Used by the push hub so poll and push carry
// an identical payload.
func (s *Store) FeedItemFor(ctx context.Context, recipientID, notificationID string) (*models.FeedItem, error) {
	return s.feedItem(ctx, recipientID, notificationID)
}

func (s *Store) feedItem(ctx context.Context, recipientID, notificationID string) (*models.FeedItem, error) {
	n, err := s.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	recID, err := s.FindRecordID(ctx, notificationID, recipientID, models.ChannelInApp)
	if err != nil {
		return nil, err
	}
	rec, err := s.GetRecord(ctx, recID)
	if err != nil {
		return nil, err
	}
	return &models.FeedItem{
		ID:         n.ID,
		Kind:       n.Kind,
		Level:      n.Level,
		Title:      n.Title,
		Message:    n.Body,
		ActionURL:  n.ActionURL,
		ActionText: n.ActionText,
		ImageURL:   n.ImageURL,
		Payload:    n.Payload,
		Version:    rec.Version,
		CreatedAt:  n.CreatedAt,
		ReadAt:     rec.ReadAt,
	}, nil
}
