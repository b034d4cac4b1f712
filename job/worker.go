package job

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/memva/memva-go/log"
)

// Handler processes one claimed job. It returns a result payload on
// success, or an error. Wrapping the error in NonRetriable marks it
// explicitly non-retriable; a plain error is treated as retriable until
// max_attempts is exhausted.
type Handler func(ctx context.Context, j *Job) (result interface{}, err error)

// NonRetriable wraps an error to signal the worker it must not be retried
// even if attempts remain, e.g. ContextLimit or Unauthorized.
type NonRetriable struct{ Err error }

func (e *NonRetriable) Error() string { return e.Err.Error() }
func (e *NonRetriable) Unwrap() error { return e.Err }

// Config is the JobWorker's tunable behavior.
type Config struct {
	Concurrent uint // default 1
	MaxRetries uint // default 3; stored only, jobs created without an explicit MaxAttempts get Store.Create's own default of 3
	RetryDelay time.Duration // default 1s
}

// Worker is a polling pool of cooperative workers that claim pending jobs
// and dispatch them to registered type handlers.
type Worker struct {
	cfg   Config
	store *Store

	mu       sync.RWMutex
	handlers map[string]Handler

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker constructs a Worker with defaults applied.
func NewWorker(cfg Config, store *Store) *Worker {
	if cfg.Concurrent == 0 {
		cfg.Concurrent = 1
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	return &Worker{
		cfg:      cfg,
		store:    store,
		handlers: make(map[string]Handler),
		stopChan: make(chan struct{}),
	}
}

// Register binds a handler to a job type. Double registration for the
// same type is a Conflict.
func (w *Worker) Register(jobType string, h Handler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for type %q", jobType)
	}
	w.handlers[jobType] = h
	return nil
}

// Start launches cfg.Concurrent worker goroutines, each looping:
// claim -> dispatch -> (sleep if nothing claimable).
func (w *Worker) Start() {
	log.Info().Uint("concurrent", w.cfg.Concurrent).Msg("starting job worker pool")
	for i := uint(0); i < w.cfg.Concurrent; i++ {
		w.wg.Add(1)
		go w.loop(int(i))
	}
}

// Stop signals all workers to finish their current job and exit; no new
// claims happen after the signal. Blocks until every worker has returned
// or the grace period elapses.
func (w *Worker) Stop(grace time.Duration) {
	close(w.stopChan)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("job worker pool stopped")
	case <-time.After(grace):
		log.Warn().Dur("grace", grace).Msg("job worker pool did not stop within grace period")
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		default:
		}

		j, err := w.store.ClaimNextPending()
		if err != nil {
			log.Error().Err(err).Int("worker", id).Msg("claim failed")
			w.sleep()
			continue
		}
		if j == nil {
			w.sleep()
			continue
		}

		w.dispatch(j)
	}
}

// sleep waits 100-250ms with jitter between claim attempts on an empty
// queue, honoring a shutdown signal without delay.
func (w *Worker) sleep() {
	delay := 100*time.Millisecond + time.Duration(rand.Intn(150))*time.Millisecond
	select {
	case <-w.stopChan:
	case <-time.After(delay):
	}
}

func (w *Worker) dispatch(j *Job) {
	w.mu.RLock()
	h, ok := w.handlers[j.Type]
	w.mu.RUnlock()

	if !ok {
		log.Error().Str("type", j.Type).Str("jobId", j.ID).Msg("no handler registered for job type")
		_ = w.store.Fail(j.ID, "no handler registered for type "+j.Type, false, 0)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.watchCancellation(ctx, cancel, j.ID)

	result, err := h(ctx, j)
	if err != nil {
		w.handleError(j, err)
		return
	}

	resultJSON, marshalErr := marshalResult(result)
	if marshalErr != nil {
		log.Error().Err(marshalErr).Str("jobId", j.ID).Msg("failed to marshal job result")
	}
	if err := w.store.Complete(j.ID, resultJSON); err != nil {
		log.Error().Err(err).Str("jobId", j.ID).Msg("failed to mark job completed")
	}
}

// watchCancellation polls the job row (handlers are expected to honor
// ctx.Done() at the next safe point) and cancels ctx as soon as the row
// is observed cancelled out from under the handler.
func (w *Worker) watchCancellation(ctx context.Context, cancel context.CancelFunc, jobID string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelled, err := w.store.IsCancelled(jobID)
			if err == nil && cancelled {
				cancel()
				return
			}
		}
	}
}

func (w *Worker) handleError(j *Job, err error) {
	var nonRetriable *NonRetriable
	retriable := true
	if ok := asNonRetriable(err, &nonRetriable); ok {
		retriable = false
		err = nonRetriable.Err
	}

	if err := w.store.Fail(j.ID, err.Error(), retriable, w.cfg.RetryDelay); err != nil {
		log.Error().Err(err).Str("jobId", j.ID).Msg("failed to record job failure")
	}
}

func asNonRetriable(err error, target **NonRetriable) bool {
	for err != nil {
		if nr, ok := err.(*NonRetriable); ok {
			*target = nr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
