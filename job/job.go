// Package job is the persistent job queue: JobStore (priority + retry +
// atomic claim) plus the JobWorker polling pool that dispatches claimed
// jobs to typed handlers.
package job

import (
	"encoding/json"
	"time"
)

// Status is the job lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Well-known job types.
const (
	TypeSessionRunner = "session-runner"
	TypeMaintenance   = "maintenance"
)

// Job is a unit of background work.
type Job struct {
	ID          string
	Type        string
	Data        json.RawMessage
	Status      Status
	Priority    int
	Attempts    uint
	MaxAttempts uint
	ScheduledAt *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	Result      json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionRunnerPayload is the data payload for a session-runner job.
type SessionRunnerPayload struct {
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
	UserID    string `json:"userId,omitempty"`
	// Transition marks a continuation job scheduled by a permission-mode
	// or exit-plan transition; its prompt is synthetic and visible=false.
	Transition bool `json:"transition,omitempty"`
}

// MaintenancePayload is the data payload for a maintenance job.
type MaintenancePayload struct {
	Operation string `json:"operation"`
}

const (
	OpCleanupExpiredPermissions = "cleanup-expired-permissions"
	OpCleanupOldJobs            = "cleanup-old-jobs"
)

// SessionRunnerResult is the result payload on successful completion.
type SessionRunnerResult struct {
	Success          bool   `json:"success"`
	SessionID        string `json:"sessionId"`
	MessagesProcessed int   `json:"messagesProcessed"`
	UserID           string `json:"userId,omitempty"`
	Transition       bool   `json:"transition,omitempty"`
}
