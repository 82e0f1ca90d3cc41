package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

const (
	terminalWriteAttempts = 4
	terminalRetryDelay    = 50 * time.Millisecond
)

// Handler executes one job. Long handlers call run.Checkpoint between units
// of work and run.Progress to report how far they are. The returned value
// is stored as the job's JSON result.
type Handler func(ctx context.Context, job *QueueJob, run *Run) (any, error)

// Config sizes the worker pool.
type Config struct {
	Workers             int           `mapstructure:"workers"`
	MaxPendingPerTenant int           `mapstructure:"max_pending_per_tenant"`
	JobTimeout          time.Duration `mapstructure:"job_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
}

// DefaultConfig returns a small pool suitable for a single instance.
func DefaultConfig() Config {
	return Config{
		Workers:             4,
		MaxPendingPerTenant: 10,
		JobTimeout:          10 * time.Minute,
		PollInterval:        time.Second,
	}
}

// Queue is a bounded worker pool over a Store. Submitting only writes to the
// store, so an API process can submit while a separate worker process
// executes; in a single process Submit also wakes an idle worker.
type Queue struct {
	store    Store
	cfg      Config
	log      zerolog.Logger
	handlers map[Operation]Handler
	now      func() time.Time

	wake      chan struct{}
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
}

// NewQueue creates a queue. Handlers must be registered before Start.
func NewQueue(store Store, cfg Config, log zerolog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Queue{
		store:     store,
		cfg:       cfg,
		log:       log,
		handlers:  make(map[Operation]Handler),
		now:       time.Now,
		wake:      make(chan struct{}, cfg.Workers),
		closeChan: make(chan struct{}),
	}
}

// Register sets the handler for op.
func (q *Queue) Register(op Operation, h Handler) {
	q.handlers[op] = h
}

// Submit records a queued job and returns it immediately.
func (q *Queue) Submit(ctx context.Context, tenantID string, op Operation, payload any) (*QueueJob, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	if tenantID == "" {
		return nil, domain.NewValidationError("tenant_id", "", "required")
	}
	if !op.Valid() {
		return nil, domain.NewValidationError("operation", string(op), "not a queueable operation")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	job := &QueueJob{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Operation: op,
		Payload:   raw,
		State:     StateQueued,
		CreatedAt: q.now(),
	}
	if err := q.store.Create(ctx, job, q.cfg.MaxPendingPerTenant); err != nil {
		if errors.Is(err, ErrTooManyPending) {
			return nil, &domain.QuotaExceededError{TenantID: tenantID, Capability: "jobs", Limit: q.cfg.MaxPendingPerTenant}
		}
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}

	q.log.Info().Str("tenant_id", tenantID).Str("job_id", job.ID).Str("operation", string(op)).Msg("job queued")
	return job, nil
}

// Status returns the tenant's job. It never changes job state.
func (q *Queue) Status(ctx context.Context, tenantID, id string) (*QueueJob, error) {
	return q.store.Get(ctx, tenantID, id)
}

// List returns the tenant's jobs.
func (q *Queue) List(ctx context.Context, filter Filter) ([]*QueueJob, error) {
	return q.store.List(ctx, filter)
}

// Cancel fails a queued job at once; a processing job stops at its next
// checkpoint.
func (q *Queue) Cancel(ctx context.Context, tenantID, id string) (*QueueJob, error) {
	job, err := q.store.RequestCancel(ctx, tenantID, id, q.now())
	if err != nil {
		return nil, err
	}
	q.log.Info().Str("tenant_id", tenantID).Str("job_id", id).Str("state", string(job.State)).Msg("job cancel requested")
	return job, nil
}

// Start fails jobs left processing by a previous run, then starts the
// workers. Workers stop when ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	n, err := q.store.FailInterrupted(ctx, "interrupted by restart", q.now())
	if err != nil {
		return fmt.Errorf("failed to recover interrupted jobs: %w", err)
	}
	if n > 0 {
		q.log.Warn().Int("jobs", n).Msg("failed jobs interrupted by restart")
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.log.Info().Int("workers", q.cfg.Workers).Msg("job workers started")
	return nil
}

func (q *Queue) worker(ctx context.Context, n int) {
	defer q.wg.Done()
	log := q.log.With().Int("worker", n).Logger()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		job, err := q.store.ClaimNext(ctx, q.now())
		if err != nil {
			log.Error().Err(err).Msg("failed to claim job")
		}
		if job != nil {
			q.processJob(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// processJob runs the handler and records a terminal state whatever happens,
// including a panic.
func (q *Queue) processJob(ctx context.Context, job *QueueJob) {
	log := q.log.With().Str("job_id", job.ID).Str("tenant_id", job.TenantID).Str("operation", string(job.Operation)).Logger()
	log.Info().Msg("job started")
	start := time.Now()

	result, err := q.execute(ctx, job)

	// Terminal writes use a fresh context so a shutdown does not leave the
	// job stuck in processing.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err == nil {
		var raw []byte
		raw, err = json.Marshal(result)
		if err == nil {
			cErr := q.writeTerminal(writeCtx, func(ctx context.Context) error {
				return q.store.Complete(ctx, job.ID, raw, q.now())
			})
			if cErr == nil {
				log.Info().Dur("duration", time.Since(start)).Msg("job completed")
				return
			}
			log.Error().Err(cErr).Msg("failed to record job completion")
			if errors.Is(cErr, ErrInvalidTransition) {
				return
			}
			// Not wrapped, so the failure is classified as internal.
			err = fmt.Errorf("failed to record completion: %v", cErr)
		} else {
			err = fmt.Errorf("failed to encode result: %w", err)
		}
	}

	kind := domain.KindOf(err)
	if errors.Is(err, ErrJobCancelled) {
		kind = domain.KindCancelled
	}
	fErr := q.writeTerminal(writeCtx, func(ctx context.Context) error {
		return q.store.Fail(ctx, job.ID, err.Error(), kind, q.now())
	})
	if fErr != nil {
		log.Error().Err(fErr).Msg("failed to record job failure")
		return
	}
	log.Warn().Err(err).Str("error_kind", string(kind)).Dur("duration", time.Since(start)).Msg("job failed")
}

// writeTerminal retries a terminal state write with exponential backoff.
// A rejected transition is not retried.
func (q *Queue) writeTerminal(ctx context.Context, write func(context.Context) error) error {
	delay := terminalRetryDelay
	for attempt := 1; ; attempt++ {
		err := write(ctx)
		if err == nil || errors.Is(err, ErrInvalidTransition) || attempt == terminalWriteAttempts {
			return err
		}
		q.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("retrying job state write")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (q *Queue) execute(ctx context.Context, job *QueueJob) (result any, err error) {
	handler, ok := q.handlers[job.Operation]
	if !ok {
		return nil, fmt.Errorf("no handler registered for %s", job.Operation)
	}

	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("job_id", job.ID).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("job handler panicked")
			result, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()

	result, err = handler(ctx, job, &Run{queue: q, job: job})
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		err = &domain.TimeoutError{Operation: string(job.Operation), Budget: q.cfg.JobTimeout}
	}
	return result, err
}

// Stop stops the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is a handler's view of its own job.
type Run struct {
	queue *Queue
	job   *QueueJob
}

// Progress records done out of total units of work.
func (r *Run) Progress(ctx context.Context, done, total int) {
	if err := r.queue.store.UpdateProgress(ctx, r.job.ID, Progress{Done: done, Total: total}); err != nil {
		r.queue.log.Warn().Err(err).Str("job_id", r.job.ID).Msg("failed to update job progress")
	}
}

// Checkpoint returns ErrJobCancelled once the job's owner asked to cancel
// it, or the context error when the job ran out of time. Handlers call it
// between chunks.
func (r *Run) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, err := r.queue.store.Get(ctx, r.job.TenantID, r.job.ID)
	if err != nil {
		return err
	}
	if job.CancelRequested {
		return ErrJobCancelled
	}
	return nil
}
