package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/obialo/tutornotify/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("not found")

const (
	notificationKeyFmt = "notification:%s"
	recordKeyFmt       = "record:%s"
	recordIndexFmt     = "record:index:%s:%s:%s" // notification, recipient, channel
	recordSetFmt       = "notification:records:%s"
	templateKeyFmt     = "template:%s"
	templateSetKey     = "templates"
	inboxKeyFmt        = "inbox:%s"
	versionKey         = "feed:version"
)

// Store persists notifications, delivery records, templates and
// per-recipient inboxes in Redis.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewStore(rdb *redis.Client, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

func (s *Store) SaveNotification(ctx context.Context, n *models.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	key := fmt.Sprintf(notificationKeyFmt, n.ID)
	return s.rdb.Set(ctx, key, raw, 0).Err()
}

func (s *Store) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	key := fmt.Sprintf(notificationKeyFmt, id)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var n models.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification %s: %w", id, err)
	}
	return &n, nil
}

// UpdateNotificationStatus rewrites only the status field of a stored
// notification.
func (s *Store) UpdateNotificationStatus(ctx context.Context, id string, status models.NotificationStatus) error {
	n, err := s.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	n.Status = status
	return s.SaveNotification(ctx, n)
}

// NextVersion hands out the server-assigned, strictly increasing version
// used by clients to merge poll and push feeds.
func (s *Store) NextVersion(ctx context.Context) (int64, error) {
	return s.rdb.Incr(ctx, versionKey).Result()
}
