// Package runner implements the session-runner job handler: it spawns
// the assistant subprocess via driver.Driver, threads every stdout
// message into the event log in causal order, and orchestrates the two
// mid-run transitions (permission-mode change, exit-plan continuation).
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memva/memva-go/driver"
	"github.com/memva/memva-go/event"
	"github.com/memva/memva-go/job"
	"github.com/memva/memva-go/log"
	"github.com/memva/memva-go/session"
)

// Runner holds the dependencies the session-runner handler needs.
type Runner struct {
	Sessions  *session.Store
	Settings  *session.SettingsStore
	Events    *event.Store
	Jobs      *job.Store

	CLIPathOverride string
	BridgePath      string // path to the cmd/memva-permission-bridge binary
}

// ErrSessionNotFound is returned when the job's sessionId doesn't exist.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Handle is the job.Handler for job.TypeSessionRunner.
func (r *Runner) Handle(ctx context.Context, j *job.Job) (interface{}, error) {
	var payload job.SessionRunnerPayload
	if err := json.Unmarshal(j.Data, &payload); err != nil {
		return nil, &job.NonRetriable{Err: fmt.Errorf("invalid job payload: %w", err)}
	}

	prompt := strings.TrimSpace(payload.Prompt)
	if prompt == "" {
		return nil, &job.NonRetriable{Err: fmt.Errorf("prompt must not be empty")}
	}

	sess, err := r.Sessions.Get(payload.SessionID)
	if err != nil {
		return nil, &job.NonRetriable{Err: fmt.Errorf("%w: %s", ErrSessionNotFound, payload.SessionID)}
	}

	procSettings, err := r.Settings.Get()
	if err != nil {
		return nil, fmt.Errorf("load process settings: %w", err)
	}
	settings := sess.EffectiveSettings(procSettings.Settings)

	existing, err := r.Events.ListForSession(sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	parentUUID := ""
	if len(existing) > 0 {
		parentUUID = existing[len(existing)-1].UUID
	}

	promptEvent := buildPromptEvent(sess, parentUUID, prompt, !payload.Transition)
	if err := r.Events.Append(promptEvent); err != nil {
		return nil, fmt.Errorf("append prompt event: %w", err)
	}
	threadHead := promptEvent.UUID

	run := &runState{
		runner:       r,
		job:          j,
		session:      sess,
		settings:     settings,
		procSettings: procSettings.Settings,
		launchMode:   string(settings.PermissionMode),
		threadHead:   threadHead,
		resumeToken:  sess.ResumeToken,
	}

	return run.execute(ctx, prompt)
}

// runState carries the mutable bookkeeping for one run.
type runState struct {
	runner       *Runner
	job          *job.Job
	session      *session.Session
	settings     session.Settings
	procSettings session.Settings
	launchMode   string
	threadHead   string
	resumeToken  string

	messagesProcessed int

	mu                sync.Mutex
	cleanTerminal     bool // a result or tool_result event was persisted
	sawAssistantEvent bool
	transitionPending string // "" | "permission" | "exit_plan"
	transitionNewMode string
}

func (rs *runState) execute(ctx context.Context, prompt string) (interface{}, error) {
	if err := rs.runner.Sessions.UpdateClaudeStatus(rs.session.ID, session.ClaudeProcessing); err != nil {
		return nil, fmt.Errorf("set processing: %w", err)
	}

	cliPath, err := driver.ResolveExecutable(rs.runner.CLIPathOverride, rs.session.ProjectPath)
	if err != nil {
		return nil, &job.NonRetriable{Err: fmt.Errorf("resolve assistant executable: %w", err)}
	}

	d, err := driver.New(driver.Options{
		CLIPath:              cliPath,
		Cwd:                  rs.session.ProjectPath,
		Prompt:               prompt,
		Resume:               rs.resumeToken,
		PermissionMode:       rs.launchMode,
		MaxTurns:             int(rs.settings.MaxTurns),
		PermissionBridgePath: rs.runner.BridgePath,
		SessionID:            rs.session.ID,
	})
	if err != nil {
		return nil, err
	}

	if err := d.Launch(ctx); err != nil {
		return nil, err
	}

	pollCtx, stopPoll := context.WithCancel(context.Background())
	defer stopPoll()
	go rs.pollTransitions(pollCtx, d)

	driverErr := rs.drainMessages(d)

	select {
	case classified := <-d.Done():
		if classified != nil && driverErr == nil {
			driverErr = classified
		}
	case <-time.After(2 * time.Second):
		log.Warn().Str("jobId", rs.job.ID).Msg("timed out waiting for driver exit classification")
	}

	return rs.finish(driverErr)
}

// drainMessages reads every stdout message until the channel closes,
// persisting each as an Event and applying the two transitions. It
// returns the first classified terminal error seen in-band (context
// limit), if any; exit-driven classification is layered on afterward by
// the caller via d.Done().
func (rs *runState) drainMessages(d *driver.Driver) error {
	for raw := range d.Messages() {
		ev := rs.buildEvent(raw)
		if err := rs.runner.Events.Append(ev); err != nil {
			log.Error().Err(err).Str("sessionId", rs.session.ID).Msg("failed to append event")
			continue
		}
		rs.threadHead = ev.UUID
		rs.messagesProcessed++

		if sid := event.SessionIDFromMessage(raw); sid != "" && sid != rs.resumeToken {
			rs.resumeToken = sid
			if err := rs.runner.Sessions.UpdateResumeToken(rs.session.ID, sid); err != nil {
				log.Error().Err(err).Msg("failed to update resume token")
			}
		}

		if ev.EventType == event.TypeResult {
			rs.mu.Lock()
			rs.cleanTerminal = true
			rs.mu.Unlock()
		}
		if ev.EventType == event.TypeAssistant {
			rs.mu.Lock()
			rs.sawAssistantEvent = true
			rs.mu.Unlock()

			if rs.applyPendingTransitionIfAny(d) {
				return nil
			}
		}

		if toolUseID, isError, ok := ev.FindToolResult(); ok {
			rs.mu.Lock()
			rs.cleanTerminal = true
			rs.mu.Unlock()

			if !isError {
				if rs.isExitPlanResult(toolUseID) {
					rs.triggerExitPlanTransition(d)
					return nil
				}
			}
		}

		if classified := driver.ClassifyResultMessage(raw); classified != nil {
			d.Cancel()
			return classified
		}
	}
	return nil
}

func (rs *runState) buildEvent(raw json.RawMessage) *event.Event {
	return &event.Event{
		UUID:              uuid.NewString(),
		MemvaSessionID:    rs.session.ID,
		ExternalSessionID: event.SessionIDFromMessage(raw),
		EventType:         event.Type(event.MessageType(raw)),
		Timestamp:         time.Now().UTC(),
		ParentUUID:        rs.threadHead,
		Cwd:               rs.session.ProjectPath,
		ProjectName:       rs.session.ProjectName(),
		Data:              raw,
		Visible:           true,
	}
}

// buildPromptEvent builds the user event that records this run's prompt.
// visible is false for a continuation job's synthetic prompt (the
// permission-mode acknowledgment template or "Continue with your
// plan."), which must not appear in the user-facing transcript
// (spec.md §3, §4.7(a)/(b)); every other prompt, including a session's
// very first, is a real user turn and stays visible.
func buildPromptEvent(sess *session.Session, parentUUID, prompt string, visible bool) *event.Event {
	return &event.Event{
		UUID:           uuid.NewString(),
		MemvaSessionID: sess.ID,
		EventType:      event.TypeUser,
		Timestamp:      time.Now().UTC(),
		ParentUUID:     parentUUID,
		Cwd:            sess.ProjectPath,
		ProjectName:    sess.ProjectName(),
		Data:           userPromptPayload(prompt),
		Visible:        visible,
	}
}

func userPromptPayload(prompt string) json.RawMessage {
	data, _ := json.Marshal(map[string]interface{}{
		"type": "user",
		"message": map[string]interface{}{
			"role": "user",
			"content": []map[string]interface{}{
				{"type": "text", "text": prompt},
			},
		},
	})
	return data
}

// finish translates the run's outcome into the job result/error and the
// session's claude_status, exactly once per run.
func (rs *runState) finish(driverErr error) (interface{}, error) {
	rs.mu.Lock()
	transitionPending := rs.transitionPending
	transitionMode := rs.transitionNewMode
	cleanTerminal := rs.cleanTerminal
	rs.mu.Unlock()

	if transitionPending != "" {
		if err := rs.scheduleContinuation(transitionPending, transitionMode); err != nil {
			return nil, fmt.Errorf("schedule continuation job: %w", err)
		}
		if err := rs.runner.Sessions.UpdateClaudeStatus(rs.session.ID, session.ClaudeProcessing); err != nil {
			log.Error().Err(err).Msg("failed to set processing after transition")
		}
		return job.SessionRunnerResult{
			Success:           true,
			SessionID:         rs.session.ID,
			MessagesProcessed: rs.messagesProcessed,
			Transition:        true,
		}, nil
	}

	if driverErr != nil {
		var de *driver.Error
		if as, ok := driverErr.(*driver.Error); ok {
			de = as
		}
		if err := rs.runner.Sessions.UpdateClaudeStatus(rs.session.ID, session.ClaudeError); err != nil {
			log.Error().Err(err).Msg("failed to set error status")
		}
		if de != nil && !de.Kind.Retriable() {
			return nil, &job.NonRetriable{Err: de}
		}
		return nil, driverErr
	}

	cancelled, err := rs.runner.Jobs.IsCancelled(rs.job.ID)
	if err == nil && cancelled {
		status := session.ClaudeError
		if cleanTerminal {
			status = session.ClaudeCompleted
		}
		if err := rs.runner.Sessions.UpdateClaudeStatus(rs.session.ID, status); err != nil {
			log.Error().Err(err).Msg("failed to set status after cancellation")
		}
		return nil, &job.NonRetriable{Err: fmt.Errorf(cancelledByUserMessage)}
	}

	if err := rs.runner.Sessions.UpdateClaudeStatus(rs.session.ID, session.ClaudeCompleted); err != nil {
		return nil, fmt.Errorf("set completed: %w", err)
	}

	return job.SessionRunnerResult{
		Success:           true,
		SessionID:         rs.session.ID,
		MessagesProcessed: rs.messagesProcessed,
	}, nil
}

func (rs *runState) scheduleContinuation(kind, newMode string) error {
	var prompt string
	switch kind {
	case "permission":
		prompt = permissionTransitionPrompt(newMode)
	case "exit_plan":
		prompt = exitPlanContinuationPrompt
	default:
		return fmt.Errorf("unknown transition kind %q", kind)
	}

	data, err := json.Marshal(job.SessionRunnerPayload{
		SessionID:  rs.session.ID,
		Prompt:     prompt,
		Transition: true,
	})
	if err != nil {
		return err
	}

	_, err = rs.runner.Jobs.Create(job.CreateInput{
		Type:     job.TypeSessionRunner,
		Data:     data,
		Priority: 10,
	})
	return err
}
