// Package engine wires the store, session/event/job/permission
// repositories, the SubprocessDriver-backed SessionRunner, and the
// maintenance sweep into the external interface the rest of the system
// (an HTTP layer, a CLI, a test) drives the core through: enqueueRun,
// stopRun, and decidePermission.
package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memva/memva-go/config"
	"github.com/memva/memva-go/event"
	"github.com/memva/memva-go/job"
	"github.com/memva/memva-go/log"
	"github.com/memva/memva-go/maintenance"
	"github.com/memva/memva-go/permission"
	"github.com/memva/memva-go/runner"
	"github.com/memva/memva-go/session"
	"github.com/memva/memva-go/store"
)

// denyCancelDelay is how long DecidePermission waits before cancelling
// the active job after a deny when other permissions are still pending,
// giving the assistant a chance to observe the denial and wind down on
// its own (spec.md §4.8).
const denyCancelDelay = time.Second

// Engine is the process-wide collection of repositories and the job
// worker pool.
type Engine struct {
	Sessions    *session.Store
	Settings    *session.SettingsStore
	Events      *event.Store
	Jobs        *job.Store
	Permissions *permission.Store

	Worker *job.Worker

	db *store.DB
}

// New opens the store at cfg.DatabasePath, constructs every repository,
// registers the session-runner and maintenance handlers on a new
// JobWorker, and returns the assembled Engine. It does not start the
// worker; call Start for that.
func New(cfg *config.Config) (*Engine, error) {
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	e := &Engine{
		Sessions:    session.NewStore(),
		Settings:    session.NewSettingsStore(),
		Events:      event.NewStore(),
		Jobs:        job.NewStore(),
		Permissions: permission.NewStore(time.Duration(cfg.PermissionExpiryHours) * time.Hour),
		db:          db,
	}

	e.Worker = job.NewWorker(job.Config{
		Concurrent: uint(cfg.JobWorkerConcurrency),
		MaxRetries: uint(cfg.JobMaxRetries),
		RetryDelay: time.Duration(cfg.JobRetryDelayMS) * time.Millisecond,
	}, e.Jobs)

	sessionRunner := &runner.Runner{
		Sessions:        e.Sessions,
		Settings:        e.Settings,
		Events:          e.Events,
		Jobs:            e.Jobs,
		CLIPathOverride: cfg.CLIPath,
		BridgePath:      bridgeBinaryPath(),
	}
	if err := e.Worker.Register(job.TypeSessionRunner, sessionRunner.Handle); err != nil {
		return nil, err
	}

	maintenanceHandler := &maintenance.Handler{
		Jobs:        e.Jobs,
		Permissions: e.Permissions,
	}
	if err := e.Worker.Register(job.TypeMaintenance, maintenanceHandler.Handle); err != nil {
		return nil, err
	}

	return e, nil
}

// Start launches the job worker pool and seeds the first maintenance job.
func (e *Engine) Start() {
	e.Worker.Start()
	if err := maintenance.Enqueue(e.Jobs); err != nil {
		// Non-fatal: the cron schedule registered by the caller will
		// enqueue the next sweep regardless.
		log.Error().Err(err).Msg("failed to enqueue startup maintenance sweep")
	}
}

// Stop drains the worker pool, giving in-flight jobs up to grace to
// finish cooperatively, then closes the store.
func (e *Engine) Stop(grace time.Duration) {
	e.Worker.Stop(grace)
	if err := e.db.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close store")
	}
}

// EnqueueRunInput is the payload accepted by EnqueueRun.
type EnqueueRunInput struct {
	SessionID string
	Prompt    string
}

// EnqueueRun creates a session-runner job for sessionID, rejecting the
// request outright if one is already active (the at-most-one-active-run
// invariant).
func (e *Engine) EnqueueRun(in EnqueueRunInput) (*job.Job, error) {
	active, err := e.Jobs.GetActiveForSession(in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("check active run: %w", err)
	}
	if active != nil {
		return nil, store.ErrActiveJobExists
	}

	data, err := json.Marshal(job.SessionRunnerPayload{
		SessionID: in.SessionID,
		Prompt:    in.Prompt,
	})
	if err != nil {
		return nil, err
	}

	return e.Jobs.Create(job.CreateInput{
		Type:     job.TypeSessionRunner,
		Data:     data,
		Priority: 0,
	})
}

// StopRun appends a synthetic user_cancelled event under the session's
// current thread head, marks the session completed, and cancels the
// active job if any. Idempotent: calling it on a session with no active
// run still succeeds.
func (e *Engine) StopRun(sessionID string) error {
	sess, err := e.Sessions.Get(sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	head, err := e.threadHead(sessionID)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	cancelEvent := &event.Event{
		UUID:           uuid.NewString(),
		MemvaSessionID: sessionID,
		EventType:      event.TypeUserCancelled,
		Timestamp:      time.Now().UTC(),
		ParentUUID:     head,
		Cwd:            sess.ProjectPath,
		ProjectName:    sess.ProjectName(),
		Data:           userCancelledPayload(),
		Visible:        true,
	}
	if err := e.Events.Append(cancelEvent); err != nil {
		return fmt.Errorf("append user_cancelled event: %w", err)
	}

	if err := e.Sessions.UpdateClaudeStatus(sessionID, session.ClaudeCompleted); err != nil {
		return fmt.Errorf("set completed: %w", err)
	}

	active, err := e.Jobs.GetActiveForSession(sessionID)
	if err != nil {
		return fmt.Errorf("find active run: %w", err)
	}
	if active == nil {
		return nil
	}
	return e.Jobs.Cancel(active.ID)
}

func userCancelledPayload() json.RawMessage {
	data, _ := json.Marshal(map[string]interface{}{
		"type": "user_cancelled",
	})
	return data
}

// threadHead returns the uuid of the most recently appended event for
// sessionID, or "" if the session has no events yet.
func (e *Engine) threadHead(sessionID string) (string, error) {
	events, err := e.Events.ListForSession(sessionID)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "", nil
	}
	return events[len(events)-1].UUID, nil
}

// DecidePermissionInput is the payload accepted by DecidePermission.
type DecidePermissionInput struct {
	RequestID string
	Decision  permission.Decision
}

// DecidePermission records a human decision on an outstanding
// PermissionRequest. The PermissionBridge subprocess polling that row
// picks up the change on its next tick. On deny, it also performs the
// deny pathway from spec.md §4.8: synthesize a tool_result event for the
// denied tool_use_id, then either cancel the active job right away (no
// other permissions are outstanding) or schedule the cancellation ~1s
// out so the assistant can observe the denial and wind down on its own.
func (e *Engine) DecidePermission(in DecidePermissionInput) (*permission.Request, error) {
	req, err := e.Permissions.Decide(in.RequestID, in.Decision)
	if err != nil {
		return nil, err
	}

	if in.Decision != permission.DecisionDeny {
		return req, nil
	}
	if req.ToolUseID != "" {
		if err := e.synthesizeDeniedToolResult(req); err != nil {
			log.Error().Err(err).Str("requestId", req.ID).Msg("failed to synthesize denied tool_result event")
		}
	}

	pending, err := e.Permissions.List(permission.ListFilter{SessionID: req.SessionID, Status: permission.StatusPending})
	if err != nil {
		log.Error().Err(err).Str("sessionId", req.SessionID).Msg("failed to list pending permissions after deny")
		return req, nil
	}

	if len(pending) == 0 {
		e.cancelActiveRunAfterDeny(req.SessionID)
	} else {
		time.AfterFunc(denyCancelDelay, func() {
			e.cancelActiveRunAfterDeny(req.SessionID)
		})
	}

	return req, nil
}

// synthesizeDeniedToolResult appends the synthetic tool_result event the
// deny pathway requires, parented under the assistant event that emitted
// the matching tool_use (if one is found; it is appended under the
// current thread head otherwise).
func (e *Engine) synthesizeDeniedToolResult(req *permission.Request) error {
	sess, err := e.Sessions.Get(req.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	parent := ""
	if assistantEvent, err := e.Events.FindAssistantEventWithToolUseID(req.SessionID, req.ToolUseID); err != nil {
		return fmt.Errorf("find assistant event: %w", err)
	} else if assistantEvent != nil {
		parent = assistantEvent.UUID
	} else if head, err := e.threadHead(req.SessionID); err == nil {
		parent = head
	}

	denied := &event.Event{
		UUID:           uuid.NewString(),
		MemvaSessionID: req.SessionID,
		EventType:      event.TypeUser,
		Timestamp:      time.Now().UTC(),
		ParentUUID:     parent,
		Cwd:            sess.ProjectPath,
		ProjectName:    sess.ProjectName(),
		Data:           deniedToolResultPayload(req.ToolUseID),
		Visible:        true,
	}
	return e.Events.Append(denied)
}

func deniedToolResultPayload(toolUseID string) json.RawMessage {
	data, _ := json.Marshal(map[string]interface{}{
		"type": "user",
		"message": map[string]interface{}{
			"role": "user",
			"content": []map[string]interface{}{
				{
					"type":        "tool_result",
					"tool_use_id": toolUseID,
					"content":     "User denied request",
					"is_error":    true,
				},
			},
		},
	})
	return data
}

// cancelActiveRunAfterDeny cancels the session's active job, if any. A
// missing active job (the run already finished on its own) is not an
// error.
func (e *Engine) cancelActiveRunAfterDeny(sessionID string) {
	active, err := e.Jobs.GetActiveForSession(sessionID)
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to find active run after deny")
		return
	}
	if active == nil {
		return
	}
	if err := e.Jobs.Cancel(active.ID); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("failed to cancel active run after deny")
	}
}

func bridgeBinaryPath() string {
	return "memva-permission-bridge"
}
