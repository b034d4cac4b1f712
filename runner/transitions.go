package runner

import (
	"context"
	"time"

	"github.com/memva/memva-go/driver"
)

const (
	transitionPollInterval = 100 * time.Millisecond

	exitPlanToolName = "exit_plan_mode"
)

// pollTransitions watches for a job cancellation request while the driver
// is running. Two outcomes:
//
//   - the session's permission mode changed since launch: this is a
//     permission-mode transition. It is queued (transitionPending is set)
//     rather than applied immediately; drainMessages applies it once the
//     next assistant message has been persisted, and finish schedules a
//     continuation job.
//   - the mode is unchanged: this is a plain user cancellation. It is
//     still subject to the early-abort queue (no cancellation is applied
//     before the run's first assistant message is persisted), but once
//     that has happened the driver is cancelled directly and the job
//     fails with cancelledByUserMessage.
func (rs *runState) pollTransitions(ctx context.Context, d *driver.Driver) {
	ticker := time.NewTicker(transitionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cancelled, err := rs.runner.Jobs.IsCancelled(rs.job.ID)
		if err != nil || !cancelled {
			continue
		}

		currentMode := rs.currentPermissionMode()

		rs.mu.Lock()
		seenAssistant := rs.sawAssistantEvent
		alreadyPending := rs.transitionPending != ""
		rs.mu.Unlock()

		if currentMode != rs.launchMode {
			if !alreadyPending {
				rs.mu.Lock()
				rs.transitionPending = "permission"
				rs.transitionNewMode = currentMode
				rs.mu.Unlock()
			}
			continue
		}

		if !seenAssistant {
			continue
		}
		d.Cancel()
		return
	}
}

// currentPermissionMode re-reads the session to pick up a mode change
// made while the run is in flight.
func (rs *runState) currentPermissionMode() string {
	sess, err := rs.runner.Sessions.Get(rs.session.ID)
	if err != nil {
		return rs.launchMode
	}
	return string(sess.EffectiveSettings(rs.procSettings).PermissionMode)
}

// applyPendingTransitionIfAny cancels the driver once a queued transition
// (set by pollTransitions) has a fresh assistant message to hand off on.
// Returns true if the run should stop draining.
func (rs *runState) applyPendingTransitionIfAny(d *driver.Driver) bool {
	rs.mu.Lock()
	pending := rs.transitionPending
	rs.mu.Unlock()

	if pending == "" {
		return false
	}
	d.Cancel()
	return true
}

// isExitPlanResult reports whether toolUseID names an exit_plan_mode
// tool_use in this session's assistant events.
func (rs *runState) isExitPlanResult(toolUseID string) bool {
	assistantEvent, err := rs.runner.Events.FindAssistantEventWithToolUseID(rs.session.ID, toolUseID)
	if err != nil || assistantEvent == nil {
		return false
	}
	_, name, ok := assistantEvent.FindToolUse()
	return ok && name == exitPlanToolName
}

// triggerExitPlanTransition queues an exit-plan continuation and cancels
// the driver immediately: unlike the permission-mode transition, the
// triggering tool_result is itself already the signal to stop, there is
// no cancellation request to wait on.
func (rs *runState) triggerExitPlanTransition(d *driver.Driver) {
	rs.mu.Lock()
	if rs.transitionPending == "" {
		rs.transitionPending = "exit_plan"
	}
	rs.mu.Unlock()
	d.Cancel()
}
