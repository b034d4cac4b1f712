// Package permission is the PermissionStore: CRUD and status transitions
// for outstanding tool-approval prompts, shared between the main process
// and any number of per-session PermissionBridge subprocesses via the
// embedded store.
package permission

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle of a permission request. Once non-pending, a
// status is terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusTimeout  Status = "timeout"
)

// Decision is the human (or policy) response recorded on approve/deny.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Request is one outstanding approval prompt.
type Request struct {
	ID         string
	SessionID  string
	ToolName   string
	ToolUseID  string // empty if the assistant didn't supply one
	Input      json.RawMessage
	Status     Status
	Decision   Decision
	DecidedAt  *time.Time
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ListFilter narrows List to the given fields; zero values are wildcards.
type ListFilter struct {
	SessionID string
	Status    Status
	ID        string
}
