// Package tools exposes the pipeline as a closed set of tenant-scoped
// operations, each with a typed parameter struct and a uniform result envelope.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/categorizer"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/gcs"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/logger"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/pipeline"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/quota"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/reconcile"
)

// Ingestor runs a statement through the ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error)
}

// Categorizer assigns and confirms categories.
type Categorizer interface {
	CategorizeBatch(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) error
	Confirm(ctx context.Context, tenantID, transactionID, category string) (*categorizer.ConfirmResult, error)
}

// Detector scores transactions for anomalies.
type Detector interface {
	Detect(tenantID string, txs []*domain.TransactionDraft, now time.Time) []*domain.AnomalyAlert
	DetectAndStore(ctx context.Context, tenantID string, filter domain.TransactionFilter, now time.Time) ([]*domain.AnomalyAlert, error)
}

// Reconciler matches stored transactions against ledger entries.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID string, period domain.Period, entries []domain.LedgerEntry) (*reconcile.Result, error)
}

// JobQueue accepts and reports on background jobs.
type JobQueue interface {
	Submit(ctx context.Context, tenantID string, op jobs.Operation, payload any) (*jobs.QueueJob, error)
	Status(ctx context.Context, tenantID, id string) (*jobs.QueueJob, error)
	Cancel(ctx context.Context, tenantID, id string) (*jobs.QueueJob, error)
}

// QuotaReporter reports capability usage without consuming it.
type QuotaReporter interface {
	Usage(ctx context.Context, tenantID, capability string) ([]quota.Window, error)
}

// Admitter decides whether a tenant may make another request now.
type Admitter interface {
	Allow(tenantID string) (bool, time.Duration)
}

// TransactionStore reads stored transactions and updates their category.
type TransactionStore interface {
	QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error)
	UpdateCategory(ctx context.Context, tenantID, transactionID, category string, confidence float64, status domain.ReviewStatus) error
}

// Deps are the collaborators behind the tools. Objects and Limiter may be nil.
type Deps struct {
	Ingestor     Ingestor
	Categorizer  Categorizer
	Detector     Detector
	Reconciler   Reconciler
	Jobs         JobQueue
	Quota        QuotaReporter
	Limiter      Admitter
	Transactions TransactionStore
	Objects      gcs.ObjectStore
}

// outcome is what a typed handler produces on success.
type outcome struct {
	data       any
	confidence *float64
}

type handler func(ctx context.Context, tenantID string, params json.RawMessage) (outcome, error)

// Dispatcher routes invocations to their handlers.
type Dispatcher struct {
	deps     Deps
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
	handlers map[Operation]handler
}

// New creates a dispatcher. Zero config fields take their defaults.
func New(deps Deps, cfg Config, log zerolog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = def.SyncTimeout
	}
	if cfg.HeavyTextBytes <= 0 {
		cfg.HeavyTextBytes = def.HeavyTextBytes
	}
	if cfg.HeavyLines <= 0 {
		cfg.HeavyLines = def.HeavyLines
	}
	if cfg.HeavyTransactions <= 0 {
		cfg.HeavyTransactions = def.HeavyTransactions
	}
	if cfg.MaxTextBytes <= 0 {
		cfg.MaxTextBytes = def.MaxTextBytes
	}
	if cfg.DetectionWindow <= 0 {
		cfg.DetectionWindow = def.DetectionWindow
	}
	if cfg.AnalyticsParallelism <= 0 {
		cfg.AnalyticsParallelism = def.AnalyticsParallelism
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}

	d := &Dispatcher{deps: deps, cfg: cfg, log: log, now: time.Now}
	d.handlers = map[Operation]handler{
		OpExtract:         typed(d.extract),
		OpCategorize:      typed(d.categorize),
		OpDetectAnomalies: typed(d.detectAnomalies),
		OpReconcile:       typed(d.reconcile),
		OpSubmitHeavyJob:  typed(d.submitHeavyJob),
		OpJobStatus:       typed(d.jobStatus),
		OpConfirmCategory: typed(d.confirmCategory),
		OpCancelJob:       typed(d.cancelJob),
		OpQuotaStatus:     typed(d.quotaStatus),
	}
	return d
}

// typed adapts a handler taking a concrete parameter struct.
func typed[P any](fn func(ctx context.Context, tenantID string, p P) (outcome, error)) handler {
	return func(ctx context.Context, tenantID string, raw json.RawMessage) (outcome, error) {
		var p P
		if err := decodeStrict(raw, &p); err != nil {
			return outcome{}, err
		}
		return fn(ctx, tenantID, p)
	}
}

// decodeStrict rejects unknown fields and trailing data. Empty parameters
// decode to the zero value.
func decodeStrict(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("parameters", "", err.Error())
	}
	if dec.More() {
		return domain.NewValidationError("parameters", "", "unexpected data after parameters")
	}
	return nil
}

// Invoke runs one tool call. It always returns a Result; failures are
// reported in the envelope, never as a Go error.
func (d *Dispatcher) Invoke(ctx context.Context, inv Invocation) *Result {
	log := logger.ForTenant(d.log, inv.TenantID, string(inv.Operation))

	if inv.TenantID == "" {
		return d.failure(log, inv.Operation, domain.NewValidationError("tenant_id", "", "required"))
	}
	h, ok := d.handlers[inv.Operation]
	if !ok {
		return d.failure(log, inv.Operation, domain.NewValidationError("operation", string(inv.Operation), "unknown operation"))
	}

	if d.deps.Limiter != nil {
		if allowed, wait := d.deps.Limiter.Allow(inv.TenantID); !allowed {
			return d.failure(log, inv.Operation, &domain.QuotaExceededError{
				TenantID:   inv.TenantID,
				Capability: "requests",
				ResetAt:    d.now().Add(wait),
			})
		}
	}

	start := d.now()
	out, err := d.runSync(ctx, inv, h)
	if err != nil {
		return d.failure(log, inv.Operation, err)
	}

	log.Debug().Dur("duration", d.now().Sub(start)).Msg("tool call succeeded")
	return &Result{Success: true, Data: out.data, Confidence: out.confidence}
}

type reply struct {
	out outcome
	err error
}

// runSync bounds a handler by the sync timeout. A handler that ignores its
// context is abandoned when the budget runs out.
func (d *Dispatcher) runSync(ctx context.Context, inv Invocation, h handler) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SyncTimeout)
	defer cancel()

	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error().
					Str("operation", string(inv.Operation)).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("tool handler panicked")
				done <- reply{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, err := h(ctx, inv.TenantID, inv.Parameters)
		done <- reply{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() != nil {
			return outcome{}, &domain.TimeoutError{Operation: string(inv.Operation), Budget: d.cfg.SyncTimeout}
		}
		return r.out, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return outcome{}, &domain.TimeoutError{Operation: string(inv.Operation), Budget: d.cfg.SyncTimeout}
		}
		return outcome{}, ctx.Err()
	}
}

func (d *Dispatcher) failure(log zerolog.Logger, op Operation, err error) *Result {
	kind := domain.KindOf(err)
	res := &Result{
		Success:   false,
		ErrorKind: kind,
		Message:   err.Error(),
		Retriable: domain.IsRetriable(err),
	}
	var quotaErr *domain.QuotaExceededError
	if errors.As(err, &quotaErr) && !quotaErr.ResetAt.IsZero() {
		t := quotaErr.ResetAt
		res.ResetAt = &t
	}

	ev := log.Warn()
	if kind == domain.KindInternal {
		ev = log.Error()
	}
	ev.Err(err).Str("error_kind", string(kind)).Msg("tool call failed")
	return res
}

// heavy submits payload to the queue in place of running op inline.
func (d *Dispatcher) heavy(ctx context.Context, tenantID string, op jobs.Operation, payload any, reason string) (outcome, error) {
	if d.deps.Jobs == nil {
		return outcome{}, &domain.CapabilityUnavailableError{Capability: "jobs", Reason: "job queue not configured"}
	}
	job, err := d.deps.Jobs.Submit(ctx, tenantID, op, payload)
	if err != nil {
		return outcome{}, err
	}
	return outcome{data: Queued{JobID: job.ID, State: job.State, Operation: op, Reason: reason}}, nil
}

func floatPtr(f float64) *float64 {
	return &f
}
