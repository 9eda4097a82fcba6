package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/obialo/tutornotify/internal/models"
	"github.com/redis/go-redis/v9"
)

// UpsertRecord creates the pending delivery record for one
// (notification, recipient, channel) pair, or resets the existing one
// back to pending for a resend. The index key is claimed with SETNX, so
// concurrent upserts for the same pair race on the claim and exactly one
// creates a record; every loser resets the winner's record instead.
// Returns the record and whether it was newly created.
func (s *Store) UpsertRecord(ctx context.Context, notificationID, recipientID string, channel models.Channel) (*models.DeliveryRecord, bool, error) {
	indexKey := fmt.Sprintf(recordIndexFmt, notificationID, recipientID, channel)
	now := time.Now().UTC()

	version, err := s.NextVersion(ctx)
	if err != nil {
		return nil, false, err
	}
	candidate := &models.DeliveryRecord{
		ID:             uuid.New().String(),
		NotificationID: notificationID,
		RecipientID:    recipientID,
		Channel:        channel,
		Status:         models.RecordPending,
		Version:        version,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// The record is written before the claim so the index never points
	// at a key that does not exist yet.
	if err := s.putRecord(ctx, candidate); err != nil {
		return nil, false, err
	}
	claimed, err := s.rdb.SetNX(ctx, indexKey, candidate.ID, 0).Result()
	if err != nil {
		return nil, false, err
	}
	if claimed {
		if err := s.rdb.SAdd(ctx, fmt.Sprintf(recordSetFmt, notificationID), candidate.ID).Err(); err != nil {
			return nil, false, err
		}
		return candidate, true, nil
	}

	// Lost the claim: the pair already has its record. Discard the
	// candidate and reset the winner under the same WATCH transaction
	// status updates run through.
	if err := s.rdb.Del(ctx, fmt.Sprintf(recordKeyFmt, candidate.ID)).Err(); err != nil {
		return nil, false, err
	}
	existingID, err := s.rdb.Get(ctx, indexKey).Result()
	if err != nil {
		return nil, false, err
	}
	rec, err := s.Transition(ctx, existingID, func(r *models.DeliveryRecord) error {
		r.Status = models.RecordPending
		r.DeliveredAt = nil
		r.ReadAt = nil
		r.FailureReason = ""
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*models.DeliveryRecord, error) {
	raw, err := s.rdb.Get(ctx, fmt.Sprintf(recordKeyFmt, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("delivery record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec models.DeliveryRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}

// FindRecordID resolves the record id for one (notification, recipient,
// channel) pair via the uniqueness index.
func (s *Store) FindRecordID(ctx context.Context, notificationID, recipientID string, channel models.Channel) (string, error) {
	id, err := s.rdb.Get(ctx, fmt.Sprintf(recordIndexFmt, notificationID, recipientID, channel)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("record for %s/%s/%s: %w", notificationID, recipientID, channel, ErrNotFound)
	}
	return id, err
}

func (s *Store) ListRecords(ctx context.Context, notificationID string) ([]models.DeliveryRecord, error) {
	ids, err := s.rdb.SMembers(ctx, fmt.Sprintf(recordSetFmt, notificationID)).Result()
	if err != nil {
		return nil, err
	}
	records := make([]models.DeliveryRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetRecord(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Transition applies mutate to the record under an optimistic WATCH
// transaction, so two concurrent status updates to the same record
// cannot interleave: the loser's EXEC fails and the whole attempt is
// retried against the fresh state, where the state machine then rejects
// it if the record went terminal. The record version is bumped on every
// committed transition.
func (s *Store) Transition(ctx context.Context, recordID string, mutate func(*models.DeliveryRecord) error) (*models.DeliveryRecord, error) {
	key := fmt.Sprintf(recordKeyFmt, recordID)
	var updated *models.DeliveryRecord

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("delivery record %s: %w", recordID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var rec models.DeliveryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record %s: %w", recordID, err)
		}
		if err := mutate(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now().UTC()
		if rec.Version, err = s.NextVersion(ctx); err != nil {
			return err
		}
		out, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		updated = &rec
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	// Every failed attempt means another writer committed in between, so
	// the bound only trips under sustained contention on one record.
	for attempt := 0; attempt < 10; attempt++ {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("transition on record %s kept conflicting", recordID)
}

func (s *Store) putRecord(ctx context.Context, rec *models.DeliveryRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.rdb.Set(ctx, fmt.Sprintf(recordKeyFmt, rec.ID), raw, 0).Err()
}
