package models

import "fmt"

// TargetingMode selects which variant of a TargetingSpec is active.
type TargetingMode string

const (
	TargetAll     TargetingMode = "all"
	TargetRoles   TargetingMode = "roles"
	TargetUserIDs TargetingMode = "users"
)

// TargetingSpec describes which recipients a notification is addressed to.
// Exactly one variant is active; Normalize clears the fields belonging to
// the inactive variants so a spec can never carry a stale selection.
type TargetingSpec struct {
	Mode    TargetingMode `json:"mode"`
	Roles   []string      `json:"roles,omitempty"`
	UserIDs []string      `json:"user_ids,omitempty"`
}

func (t TargetingSpec) Validate() error {
	switch t.Mode {
	case TargetAll, TargetRoles, TargetUserIDs:
		return nil
	default:
		return fmt.Errorf("unknown targeting mode %q", t.Mode)
	}
}

// Normalize returns a copy with only the active variant's selection kept.
func (t TargetingSpec) Normalize() TargetingSpec {
	out := TargetingSpec{Mode: t.Mode}
	switch t.Mode {
	case TargetRoles:
		out.Roles = t.Roles
	case TargetUserIDs:
		out.UserIDs = t.UserIDs
	}
	return out
}
