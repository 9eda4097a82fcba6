package directory

import (
	"context"
	"errors"
)

// ErrUnavailable means the directory could not be reached at all. A
// dispatch seeing this must abort before creating any delivery records.
var ErrUnavailable = errors.New("recipient directory unavailable")

// User is a recipient identity as the directory reports it.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// Directory is the identity/role lookup collaborator. Implementations
// are read-only from the caller's perspective; role membership may change
// underneath concurrent dispatches and callers must tolerate that.
type Directory interface {
	Lookup(ctx context.Context, ids []string) ([]User, error)
	ListByRole(ctx context.Context, role string) ([]User, error)
	ListActive(ctx context.Context) ([]User, error)
}
