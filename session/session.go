// Package session owns the Session entity: one long-lived workspace
// anchored to a project directory, and the claude_status state machine
// that surfaces processing/completed/error to external collaborators.
package session

import (
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/memva/memva-go/event"
)

// Status is the user-facing lifecycle of a session (archival, not run
// state).
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ClaudeStatus is the run state machine. It moves only along
// not_started -> processing -> {completed, error, waiting_for_input};
// waiting_for_input -> processing is allowed. It never reverts to
// not_started.
type ClaudeStatus string

const (
	ClaudeNotStarted      ClaudeStatus = "not_started"
	ClaudeProcessing      ClaudeStatus = "processing"
	ClaudeWaitingForInput ClaudeStatus = "waiting_for_input"
	ClaudeCompleted       ClaudeStatus = "completed"
	ClaudeError           ClaudeStatus = "error"
)

// PermissionMode controls how the assistant CLI treats tool-use requests.
type PermissionMode string

const (
	ModeDefault           PermissionMode = "default"
	ModeAcceptEdits       PermissionMode = "acceptEdits"
	ModeBypassPermissions PermissionMode = "bypassPermissions"
	ModePlan              PermissionMode = "plan"
)

// Settings is the enumerated settings payload, carried both on a Session
// (override) and on the process-wide singleton (default).
type Settings struct {
	MaxTurns          uint           `json:"maxTurns"`
	PermissionMode    PermissionMode `json:"permissionMode"`
	DefaultDirectory  string         `json:"defaultDirectory,omitempty"`
}

// Merge returns a copy of base with any non-zero field from override
// applied on top. Missing fields inherit the process-wide defaults.
func (base Settings) Merge(override *Settings) Settings {
	merged := base
	if override == nil {
		return merged
	}
	if override.MaxTurns != 0 {
		merged.MaxTurns = override.MaxTurns
	}
	if override.PermissionMode != "" {
		merged.PermissionMode = override.PermissionMode
	}
	if override.DefaultDirectory != "" {
		merged.DefaultDirectory = override.DefaultDirectory
	}
	return merged
}

// DefaultSettings is the built-in fallback used when neither a session
// override nor a persisted singleton row is available.
func DefaultSettings() Settings {
	return Settings{MaxTurns: 200, PermissionMode: ModeDefault}
}

// Session is one long-lived workspace.
type Session struct {
	ID           string
	Title        string
	ProjectPath  string
	Status       Status
	ClaudeStatus ClaudeStatus
	ResumeToken  string
	Metadata     json.RawMessage
	Settings     *Settings
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EffectiveSettings merges the session's own override (if any) onto proc.
func (s *Session) EffectiveSettings(proc Settings) Settings {
	return proc.Merge(s.Settings)
}

// ProjectName returns the last path segment of ProjectPath, used to
// populate Event.ProjectName.
func (s *Session) ProjectName() string {
	return filepath.Base(s.ProjectPath)
}

const displayTitleMaxLen = 120

// DisplayTitle derives a human-readable title for the session: the
// user-set Title if any, otherwise the first line of the session's first
// user prompt, otherwise "Untitled". Grounded on the teacher's
// Session.ComputeDisplayTitle priority (claude/session.go), adapted to
// this data model's single Title field (no separate custom-title/
// Claude-generated-summary split).
func (s *Session) DisplayTitle(events []*event.Event) string {
	if s.Title != "" {
		return truncateTitle(s.Title)
	}
	if prompt := event.FirstUserPromptText(events); prompt != "" {
		return truncateTitle(prompt)
	}
	return "Untitled"
}

func truncateTitle(title string) string {
	if i := strings.IndexByte(title, '\n'); i != -1 {
		title = title[:i]
	}
	if len(title) > displayTitleMaxLen {
		title = title[:displayTitleMaxLen] + "…"
	}
	return title
}

// GitInfo is the read-only Git repository metadata for a session's
// project directory.
type GitInfo struct {
	IsRepo    bool
	Branch    string
	RemoteURL string
}

// GitInfo shells out to git to describe the session's project directory.
// Returns nil if the directory is not a Git repository. Grounded on the
// teacher's GetGitInfo (claude/session.go): a missing or failing branch/
// remote lookup is left blank rather than aborting the whole call.
func (s *Session) GitInfo() *GitInfo {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = s.ProjectPath
	if err := cmd.Run(); err != nil {
		return nil
	}

	info := &GitInfo{IsRepo: true}

	cmd = exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = s.ProjectPath
	if output, err := cmd.Output(); err == nil {
		info.Branch = strings.TrimSpace(string(output))
	}

	cmd = exec.Command("git", "remote", "get-url", "origin")
	cmd.Dir = s.ProjectPath
	if output, err := cmd.Output(); err == nil {
		info.RemoteURL = strings.TrimSpace(string(output))
	}

	return info
}
