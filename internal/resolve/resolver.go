package resolve

import (
	"context"
	"fmt"
	"sort"

	"github.com/obialo/tutornotify/internal/directory"
	"github.com/obialo/tutornotify/internal/models"
	"go.uber.org/zap"
)

// Result is the expanded recipient set for one targeting spec.
// IDs is deduplicated and contains only active users. Unknown counts
// ids that were requested explicitly but do not resolve to an active
// directory user; they are dropped, never fatal.
type Result struct {
	IDs     []string
	Unknown int
}

// Resolver expands a TargetingSpec against the recipient directory.
type Resolver struct {
	dir    directory.Directory
	logger *zap.Logger
}

func NewResolver(dir directory.Directory, logger *zap.Logger) *Resolver {
	return &Resolver{dir: dir, logger: logger}
}

// Resolve evaluates spec against the directory at call time. It performs
// no writes; a directory failure is returned as-is (wrapping
// directory.ErrUnavailable) so the caller can abort before creating any
// delivery records.
func (r *Resolver) Resolve(ctx context.Context, spec models.TargetingSpec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}

	switch spec.Mode {
	case models.TargetAll:
		users, err := r.dir.ListActive(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("resolve all: %w", err)
		}
		return Result{IDs: dedupe(activeIDs(users))}, nil

	case models.TargetRoles:
		// An empty role set resolves to nobody, not to everybody.
		var ids []string
		for _, role := range spec.Roles {
			users, err := r.dir.ListByRole(ctx, role)
			if err != nil {
				return Result{}, fmt.Errorf("resolve role %s: %w", role, err)
			}
			ids = append(ids, activeIDs(users)...)
		}
		return Result{IDs: dedupe(ids)}, nil

	case models.TargetUserIDs:
		requested := dedupe(spec.UserIDs)
		users, err := r.dir.Lookup(ctx, requested)
		if err != nil {
			return Result{}, fmt.Errorf("resolve user ids: %w", err)
		}
		ids := dedupe(activeIDs(users))
		unknown := len(requested) - len(ids)
		if unknown > 0 {
			r.logger.Warn("targeting spec references unknown or inactive users",
				zap.Int("requested", len(requested)),
				zap.Int("dropped", unknown))
		}
		return Result{IDs: ids, Unknown: unknown}, nil
	}

	return Result{}, fmt.Errorf("unknown targeting mode %q", spec.Mode)
}

func activeIDs(users []directory.User) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.Active {
			ids = append(ids, u.ID)
		}
	}
	return ids
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
