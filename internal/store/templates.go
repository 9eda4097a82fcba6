package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/obialo/tutornotify/internal/models"
	"github.com/obialo/tutornotify/internal/render"
	"github.com/redis/go-redis/v9"
)

// SaveTemplate stores a template keyed by name, recording the
// placeholders its patterns actually reference.
func (s *Store) SaveTemplate(ctx context.Context, t *models.Template) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	seen := make(map[string]struct{})
	var placeholders []string
	for _, name := range append(render.Placeholders(t.TitlePattern), render.Placeholders(t.BodyPattern)...) {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		placeholders = append(placeholders, name)
	}
	t.Placeholders = placeholders

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(templateKeyFmt, t.Name), raw, 0)
	pipe.SAdd(ctx, templateSetKey, t.Name)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) GetTemplate(ctx context.Context, name string) (*models.Template, error) {
	raw, err := s.rdb.Get(ctx, fmt.Sprintf(templateKeyFmt, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("template %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var t models.Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", name, err)
	}
	return &t, nil
}

func (s *Store) ListTemplates(ctx context.Context) ([]models.Template, error) {
	names, err := s.rdb.SMembers(ctx, templateSetKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Template, 0, len(names))
	for _, name := range names {
		t, err := s.GetTemplate(ctx, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(templateKeyFmt, name))
	pipe.SRem(ctx, templateSetKey, name)
	_, err := pipe.Exec(ctx)
	return err
}
