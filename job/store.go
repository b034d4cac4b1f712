package job

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memva/memva-go/store"
)

// Store is the JobStore repository.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// CreateInput is the payload accepted by Create.
type CreateInput struct {
	Type        string
	Data        json.RawMessage
	Priority    int
	MaxAttempts uint // 0 means "use the default of 3"
	ScheduledAt *time.Time
}

// Create inserts a new pending job.
func (s *Store) Create(in CreateInput) (*Job, error) {
	if in.MaxAttempts == 0 {
		in.MaxAttempts = 3
	}
	now := time.Now().UTC()
	j := &Job{
		ID:          uuid.NewString(),
		Type:        in.Type,
		Data:        in.Data,
		Status:      StatusPending,
		Priority:    in.Priority,
		Attempts:    0,
		MaxAttempts: in.MaxAttempts,
		ScheduledAt: in.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := store.Run(
		`INSERT INTO jobs (id, type, data, status, priority, attempts, max_attempts, scheduled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Type, string(j.Data), string(j.Status), j.Priority, j.Attempts, j.MaxAttempts,
		formatPtr(j.ScheduledAt), format(j.CreatedAt), format(j.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

// Get fetches a job by id.
func (s *Store) Get(id string) (*Job, error) {
	j, err := store.SelectOne(selectColumns+` FROM jobs WHERE id = ?`, []store.QueryParam{id}, scanJobRow)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if j == nil {
		return nil, store.ErrNotFound
	}
	return j, nil
}

// ClaimNextPending atomically selects the pending job with the highest
// priority (ties broken by oldest created_at) among those whose
// scheduled_at is null or due, flips it to running, and bumps attempts.
// Returns (nil, nil) if no job is claimable. Safe under N concurrent
// claimers, in-process or cross-process: the UPDATE ... WHERE id = (SELECT
// ...) form is a single sqlite statement, serialized by sqlite's writer
// lock, so exactly one caller observes each row transition.
func (s *Store) ClaimNextPending() (*Job, error) {
	now := format(time.Now().UTC())

	return store.SelectOne(
		`UPDATE jobs SET status = 'running', started_at = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND (scheduled_at IS NULL OR scheduled_at <= ?)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		 )
		 RETURNING id, type, data, status, priority, attempts, max_attempts, scheduled_at, started_at, completed_at, error, result, created_at, updated_at`,
		[]store.QueryParam{now, now, now},
		scanJobRow,
	)
}

// Complete marks a job completed with an optional result payload.
func (s *Store) Complete(id string, result json.RawMessage) error {
	now := time.Now().UTC()
	_, err := store.Run(
		`UPDATE jobs SET status = 'completed', result = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		nullableJSON(result), format(now), format(now), id,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Fail records an error. If shouldRetry and attempts < max_attempts, the
// job is returned to pending with scheduled_at = now + retryDelay;
// otherwise it becomes failed (terminal).
func (s *Store) Fail(id string, cause string, shouldRetry bool, retryDelay time.Duration) error {
	j, err := s.Get(id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if shouldRetry && j.Attempts < j.MaxAttempts {
		scheduledAt := now.Add(retryDelay)
		_, err := store.Run(
			`UPDATE jobs SET status = 'pending', error = ?, scheduled_at = ?, updated_at = ? WHERE id = ?`,
			cause, format(scheduledAt), format(now), id,
		)
		if err != nil {
			return fmt.Errorf("retry job: %w", err)
		}
		return nil
	}

	_, err = store.Run(
		`UPDATE jobs SET status = 'failed', error = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		cause, format(now), format(now), id,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// Cancel sets a job's status to cancelled. Handlers cooperatively poll
// this to abort.
func (s *Store) Cancel(id string) error {
	now := time.Now().UTC()
	res, err := store.Run(
		`UPDATE jobs SET status = 'cancelled', completed_at = ?, updated_at = ? WHERE id = ? AND status IN ('pending', 'running')`,
		format(now), format(now), id,
	)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

// IsCancelled reports whether the job's current status is cancelled, for
// cooperative polling by a running handler.
func (s *Store) IsCancelled(id string) (bool, error) {
	j, err := s.Get(id)
	if err != nil {
		return false, err
	}
	return j.Status == StatusCancelled, nil
}

// GetActiveForSession returns the unique session-runner job in
// {pending, running} for sessionID, if any. Enforces the at-most-one-
// active-run invariant: EnqueueRun treats a non-nil result as
// store.ErrActiveJobExists, while StopRun and the deny path cancel the
// returned job.
func (s *Store) GetActiveForSession(sessionID string) (*Job, error) {
	jobs, err := store.Select(
		selectColumns+` FROM jobs WHERE type = ? AND status IN ('pending', 'running')`,
		[]store.QueryParam{TypeSessionRunner},
		scanJobPtr,
	)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	for _, j := range jobs {
		var payload SessionRunnerPayload
		if err := json.Unmarshal(j.Data, &payload); err != nil {
			continue
		}
		if payload.SessionID == sessionID {
			return j, nil
		}
	}
	return nil, nil
}

// CleanupOlderThan deletes terminal jobs whose completed_at predates the
// cutoff.
func (s *Store) CleanupOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := store.Run(
		`DELETE FROM jobs WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at IS NOT NULL AND completed_at < ?`,
		format(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	return res.RowsAffected()
}

const selectColumns = `SELECT id, type, data, status, priority, attempts, max_attempts, scheduled_at, started_at, completed_at, error, result, created_at, updated_at`

func scanJobPtr(rows *sql.Rows) (*Job, error) {
	var (
		j                                              Job
		statusStr                                      string
		data, result                                   sql.NullString
		scheduledAt, startedAt, completedAt, errorText  sql.NullString
		createdAt, updatedAt                            string
	)
	if err := rows.Scan(&j.ID, &j.Type, &data, &statusStr, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&scheduledAt, &startedAt, &completedAt, &errorText, &result, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	return finishJobScan(&j, statusStr, data, result, scheduledAt, startedAt, completedAt, errorText, createdAt, updatedAt)
}

func scanJobRow(row *sql.Row) (Job, error) {
	var (
		j                                              Job
		statusStr                                      string
		data, result                                   sql.NullString
		scheduledAt, startedAt, completedAt, errorText  sql.NullString
		createdAt, updatedAt                            string
	)
	if err := row.Scan(&j.ID, &j.Type, &data, &statusStr, &j.Priority, &j.Attempts, &j.MaxAttempts,
		&scheduledAt, &startedAt, &completedAt, &errorText, &result, &createdAt, &updatedAt); err != nil {
		return Job{}, err
	}
	out, err := finishJobScan(&j, statusStr, data, result, scheduledAt, startedAt, completedAt, errorText, createdAt, updatedAt)
	if err != nil {
		return Job{}, err
	}
	return *out, nil
}

func finishJobScan(j *Job, statusStr string, data, result, scheduledAt, startedAt, completedAt, errorText sql.NullString, createdAt, updatedAt string) (*Job, error) {
	j.Status = Status(statusStr)
	if data.Valid {
		j.Data = json.RawMessage(data.String)
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	j.Error = errorText.String

	var err error
	j.ScheduledAt, err = parsePtr(scheduledAt)
	if err != nil {
		return nil, err
	}
	j.StartedAt, err = parsePtr(startedAt)
	if err != nil {
		return nil, err
	}
	j.CompletedAt, err = parsePtr(completedAt)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	j.CreatedAt = t

	t, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, err
	}
	j.UpdatedAt = t

	return j, nil
}

func parsePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func format(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func formatPtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return format(*t)
}

func nullableJSON(data json.RawMessage) interface{} {
	if data == nil {
		return nil
	}
	return string(data)
}
