package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
)

// Store is an in-memory implementation of jobs.Store.
// Each job has its own lock; pending counts are locked per tenant and the
// FIFO of queued ids has a short-lived lock of its own.
// Data is lost on restart - for persistence, use the SQLite store.
type Store struct {
	jobs    sync.Map // id -> *entry
	tenants sync.Map // tenant id -> *tenantState

	qmu    sync.Mutex
	queued []string
}

type entry struct {
	mu  sync.Mutex
	job *jobs.QueueJob
}

type tenantState struct {
	mu      sync.Mutex
	pending int
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) tenant(id string) *tenantState {
	if ts, ok := s.tenants.Load(id); ok {
		return ts.(*tenantState)
	}
	ts, _ := s.tenants.LoadOrStore(id, &tenantState{})
	return ts.(*tenantState)
}

func (s *Store) entry(id string) (*entry, bool) {
	e, ok := s.jobs.Load(id)
	if !ok {
		return nil, false
	}
	return e.(*entry), true
}

// Create implements jobs.Store.
func (s *Store) Create(ctx context.Context, job *jobs.QueueJob, maxPending int) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	ts := s.tenant(job.TenantID)
	ts.mu.Lock()
	if maxPending > 0 && ts.pending >= maxPending {
		ts.mu.Unlock()
		return jobs.ErrTooManyPending
	}
	if _, loaded := s.jobs.LoadOrStore(job.ID, &entry{job: job.Clone()}); loaded {
		ts.mu.Unlock()
		return fmt.Errorf("job %s already exists", job.ID)
	}
	ts.pending++
	ts.mu.Unlock()

	s.qmu.Lock()
	s.queued = append(s.queued, job.ID)
	s.qmu.Unlock()
	return nil
}

// Get implements jobs.Store.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*jobs.QueueJob, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, &domain.NotFoundError{Resource: "job", ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.TenantID != tenantID {
		return nil, &domain.NotFoundError{Resource: "job", ID: id}
	}
	return e.job.Clone(), nil
}

// List implements jobs.Store.
func (s *Store) List(ctx context.Context, filter jobs.Filter) ([]*jobs.QueueJob, error) {
	var result []*jobs.QueueJob
	s.jobs.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.job.TenantID != filter.TenantID {
			return true
		}
		if filter.State != "" && e.job.State != filter.State {
			return true
		}
		result = append(result, e.job.Clone())
		return true
	})

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.QueueJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ClaimNext implements jobs.Store. Ids whose job left the queued state
// (cancelled while waiting) are skipped.
func (s *Store) ClaimNext(ctx context.Context, now time.Time) (*jobs.QueueJob, error) {
	for {
		s.qmu.Lock()
		if len(s.queued) == 0 {
			s.qmu.Unlock()
			return nil, nil
		}
		id := s.queued[0]
		s.queued = s.queued[1:]
		s.qmu.Unlock()

		e, ok := s.entry(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.job.State != jobs.StateQueued {
			e.mu.Unlock()
			continue
		}
		started := now
		e.job.State = jobs.StateProcessing
		e.job.StartedAt = &started
		claimed := e.job.Clone()
		e.mu.Unlock()
		return claimed, nil
	}
}

// finish moves a job into a terminal state if allowed is its current state.
func (s *Store) finish(id string, allowed func(jobs.State) bool, apply func(*jobs.QueueJob)) error {
	e, ok := s.entry(id)
	if !ok {
		return &domain.NotFoundError{Resource: "job", ID: id}
	}
	e.mu.Lock()
	if !allowed(e.job.State) {
		state := e.job.State
		e.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidTransition, id, state)
	}
	apply(e.job)
	tenantID := e.job.TenantID
	e.mu.Unlock()

	ts := s.tenant(tenantID)
	ts.mu.Lock()
	ts.pending--
	ts.mu.Unlock()
	return nil
}

// Complete implements jobs.Store.
func (s *Store) Complete(ctx context.Context, id string, result json.RawMessage, now time.Time) error {
	return s.finish(id,
		func(st jobs.State) bool { return st == jobs.StateProcessing },
		func(j *jobs.QueueJob) {
			done := now
			j.State = jobs.StateCompleted
			j.Result = append(json.RawMessage(nil), result...)
			j.CompletedAt = &done
			if j.Progress.Total > 0 {
				j.Progress.Done = j.Progress.Total
			}
		})
}

// Fail implements jobs.Store.
func (s *Store) Fail(ctx context.Context, id, message string, kind domain.ErrorKind, now time.Time) error {
	return s.finish(id,
		func(st jobs.State) bool { return !st.Terminal() },
		func(j *jobs.QueueJob) {
			done := now
			j.State = jobs.StateFailed
			j.Error = message
			j.ErrorKind = kind
			j.CompletedAt = &done
		})
}

// UpdateProgress implements jobs.Store.
func (s *Store) UpdateProgress(ctx context.Context, id string, p jobs.Progress) error {
	e, ok := s.entry(id)
	if !ok {
		return &domain.NotFoundError{Resource: "job", ID: id}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.State != jobs.StateProcessing {
		return fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidTransition, id, e.job.State)
	}
	e.job.Progress = p
	return nil
}

// RequestCancel implements jobs.Store.
func (s *Store) RequestCancel(ctx context.Context, tenantID, id string, now time.Time) (*jobs.QueueJob, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, &domain.NotFoundError{Resource: "job", ID: id}
	}

	e.mu.Lock()
	if e.job.TenantID != tenantID {
		e.mu.Unlock()
		return nil, &domain.NotFoundError{Resource: "job", ID: id}
	}
	released := false
	switch e.job.State {
	case jobs.StateQueued:
		done := now
		e.job.State = jobs.StateFailed
		e.job.Error = "cancelled before start"
		e.job.ErrorKind = domain.KindCancelled
		e.job.CompletedAt = &done
		released = true
	case jobs.StateProcessing:
		e.job.CancelRequested = true
	}
	out := e.job.Clone()
	e.mu.Unlock()

	if released {
		ts := s.tenant(tenantID)
		ts.mu.Lock()
		ts.pending--
		ts.mu.Unlock()
	}
	return out, nil
}

// FailInterrupted implements jobs.Store.
func (s *Store) FailInterrupted(ctx context.Context, reason string, now time.Time) (int, error) {
	var ids []string
	s.jobs.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.job.State == jobs.StateProcessing {
			ids = append(ids, k.(string))
		}
		e.mu.Unlock()
		return true
	})

	n := 0
	for _, id := range ids {
		if err := s.Fail(ctx, id, reason, domain.KindInternal, now); err == nil {
			n++
		}
	}
	return n, nil
}

var _ jobs.Store = (*Store)(nil)
