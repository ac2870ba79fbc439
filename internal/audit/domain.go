package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action types recorded by the permission engine.
const (
	ActionGrant      = "GRANT"
	ActionRevoke     = "REVOKE"
	ActionRoleUpdate = "ROLE_UPDATE"
)

// Target types recorded by the permission engine.
const (
	TargetUser = "USER"
	TargetRole = "ROLE"
)

// Entry is one immutable, append-only audit record. Entries are never
// updated or deleted by this engine.
type Entry struct {
	ID            uuid.UUID
	ActionType    string
	TargetType    string
	TargetID      string
	PermissionKey *string
	OldValue      string
	NewValue      string
	PerformedBy   int64
	Reason        string
	PerformedAt   time.Time
}

// Filters narrows audit listings. Zero values mean "any".
type Filters struct {
	Action      string
	TargetType  string
	TargetID    string
	PerformedBy int64
	From        time.Time
	To          time.Time
	Page        int
	PageSize    int
}

// PagingInfo carries window-paging metadata.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result bundles one page of entries with paging metadata.
type Result struct {
	Entries []Entry
	Paging  PagingInfo
}
