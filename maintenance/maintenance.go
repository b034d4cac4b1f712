// Package maintenance implements the recurring "maintenance" job type:
// expiring overdue permission requests and pruning old terminal jobs. A
// cron schedule (not a self-rescheduling job) drives how often the sweep
// is enqueued, so the interval survives even if a given sweep's job
// itself fails.
package maintenance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/memva/memva-go/job"
	"github.com/memva/memva-go/log"
	"github.com/memva/memva-go/permission"
)

// Handler runs one maintenance sweep.
type Handler struct {
	Jobs        *job.Store
	Permissions *permission.Store

	JobMaxAgeDays int
}

// Result is the job result payload, surfaced for observability.
type Result struct {
	ExpiredPermissions int64 `json:"expiredPermissions"`
	PrunedJobs         int64 `json:"prunedJobs"`
}

// Handle is the job.Handler for job.TypeMaintenance.
func (h *Handler) Handle(ctx context.Context, j *job.Job) (interface{}, error) {
	var payload job.MaintenancePayload
	if err := json.Unmarshal(j.Data, &payload); err != nil {
		return nil, &job.NonRetriable{Err: fmt.Errorf("invalid maintenance payload: %w", err)}
	}

	result := Result{}

	runExpire := payload.Operation == "" || payload.Operation == job.OpCleanupExpiredPermissions
	runPrune := payload.Operation == "" || payload.Operation == job.OpCleanupOldJobs

	if runExpire {
		n, err := h.Permissions.ExpireOverdue()
		if err != nil {
			return nil, fmt.Errorf("expire overdue permissions: %w", err)
		}
		result.ExpiredPermissions = n
		log.Info().Int64("count", n).Msg("expired overdue permission requests")
	}

	if runPrune {
		days := h.JobMaxAgeDays
		if days == 0 {
			days = 30
		}
		n, err := h.Jobs.CleanupOlderThan(days)
		if err != nil {
			return nil, fmt.Errorf("cleanup old jobs: %w", err)
		}
		result.PrunedJobs = n
		log.Info().Int64("count", n).Msg("pruned old terminal jobs")
	}

	return result, nil
}

// Enqueue inserts one maintenance job running both operations.
func Enqueue(jobs *job.Store) error {
	data, err := json.Marshal(job.MaintenancePayload{Operation: ""})
	if err != nil {
		return err
	}
	_, err = jobs.Create(job.CreateInput{
		Type:     job.TypeMaintenance,
		Data:     data,
		Priority: -10,
	})
	return err
}

// Schedule registers a cron entry that enqueues a maintenance job every
// intervalMinutes. The returned cron.EntryID lets the caller drop the
// schedule later if needed.
func Schedule(c *cron.Cron, jobs *job.Store, intervalMinutes int) (cron.EntryID, error) {
	if intervalMinutes <= 0 {
		intervalMinutes = 15
	}
	spec := fmt.Sprintf("@every %dm", intervalMinutes)
	return c.AddFunc(spec, func() {
		if err := Enqueue(jobs); err != nil {
			log.Error().Err(err).Msg("failed to enqueue scheduled maintenance sweep")
		}
	})
}
