package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// Operation is the closed set of heavy operations the queue runs.
type Operation string

const (
	// OpBulkExtract parses a large statement and stores its transactions.
	OpBulkExtract Operation = "bulk-extract"
	// OpBulkCategorize recategorizes stored transactions in chunks.
	OpBulkCategorize Operation = "bulk-categorize"
	// OpMultiPeriodAnalytics runs anomaly detection over several periods.
	OpMultiPeriodAnalytics Operation = "multi-period-analytics"
	// OpReconcile reconciles a large ledger against stored transactions.
	OpReconcile Operation = "reconcile"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OpBulkExtract, OpBulkCategorize, OpMultiPeriodAnalytics, OpReconcile:
		return true
	}
	return false
}

// State is a job's position in its lifecycle. Transitions only move
// forward: queued -> processing -> completed | failed, or queued -> failed.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Progress counts units of work done out of the known total.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// QueueJob is the persisted record of one submitted operation.
type QueueJob struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	Operation       Operation        `json:"operation"`
	Payload         json.RawMessage  `json:"payload,omitempty"`
	State           State            `json:"state"`
	Result          json.RawMessage  `json:"result,omitempty"`
	Error           string           `json:"error,omitempty"`
	ErrorKind       domain.ErrorKind `json:"error_kind,omitempty"`
	Progress        Progress         `json:"progress"`
	CancelRequested bool             `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no mutable state with j.
func (j *QueueJob) Clone() *QueueJob {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	c.Result = append(json.RawMessage(nil), j.Result...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

var (
	// ErrJobCancelled is returned by Checkpoint once cancellation was requested.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrInvalidTransition is returned when a state change would move backwards
	// or leave a terminal state.
	ErrInvalidTransition = errors.New("invalid job state transition")
	// ErrQueueClosed is returned by Submit after Stop.
	ErrQueueClosed = errors.New("queue is closed")
	// ErrTooManyPending is returned by Store.Create when the tenant is at its cap.
	ErrTooManyPending = errors.New("too many pending jobs")
)

// Filter narrows List. TenantID is required.
type Filter struct {
	TenantID string
	State    State
	Limit    int
	Offset   int
}

// Store persists jobs. Every state change is a compare-and-set on the
// job's current state so concurrent workers, even in separate processes,
// never claim or finish the same job twice.
type Store interface {
	// Create inserts a queued job unless the tenant already has maxPending
	// queued or processing jobs (maxPending <= 0 means no cap).
	Create(ctx context.Context, job *QueueJob, maxPending int) error
	// Get returns the tenant's job or a NotFoundError.
	Get(ctx context.Context, tenantID, id string) (*QueueJob, error)
	// List returns the tenant's jobs, oldest first.
	List(ctx context.Context, filter Filter) ([]*QueueJob, error)
	// ClaimNext moves the oldest queued job to processing and returns it,
	// or returns nil when nothing is queued.
	ClaimNext(ctx context.Context, now time.Time) (*QueueJob, error)
	// Complete moves a processing job to completed.
	Complete(ctx context.Context, id string, result json.RawMessage, now time.Time) error
	// Fail moves a queued or processing job to failed.
	Fail(ctx context.Context, id, message string, kind domain.ErrorKind, now time.Time) error
	// UpdateProgress records progress of a processing job.
	UpdateProgress(ctx context.Context, id string, p Progress) error
	// RequestCancel fails a queued job immediately and flags a processing
	// one for cooperative cancellation. Terminal jobs are returned unchanged.
	RequestCancel(ctx context.Context, tenantID, id string, now time.Time) (*QueueJob, error)
	// FailInterrupted fails every processing job; used at start-up after a crash.
	FailInterrupted(ctx context.Context, reason string, now time.Time) (int, error)
}
