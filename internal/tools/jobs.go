package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/pipeline"
)

// JobHandlers returns the queue handler for every heavy operation.
func (d *Dispatcher) JobHandlers() map[jobs.Operation]jobs.Handler {
	return map[jobs.Operation]jobs.Handler{
		jobs.OpBulkExtract:          d.runBulkExtract,
		jobs.OpBulkCategorize:       d.runBulkCategorize,
		jobs.OpMultiPeriodAnalytics: d.runAnalytics,
		jobs.OpReconcile:            d.runReconcile,
	}
}

// Registrar is satisfied by *jobs.Queue.
type Registrar interface {
	Register(op jobs.Operation, h jobs.Handler)
}

// RegisterJobs registers JobHandlers on q.
func (d *Dispatcher) RegisterJobs(q Registrar) {
	for op, h := range d.JobHandlers() {
		q.Register(op, h)
	}
}

// BulkExtractItem reports one source of a bulk extraction.
type BulkExtractItem struct {
	Source     string                  `json:"source"`
	Chunks     int                     `json:"chunks"`
	Accepted   int                     `json:"accepted"`
	Rejected   int                     `json:"rejected"`
	Skipped    int                     `json:"skipped"`
	Saved      int                     `json:"saved"`
	Method     domain.ExtractionMethod `json:"method,omitempty"`
	Confidence float64                 `json:"confidence"`
	ErrorKind  domain.ErrorKind        `json:"error_kind,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// BulkExtractResult totals a bulk extraction. A failed source does not
// fail the job; it is reported in its item.
type BulkExtractResult struct {
	Items    []BulkExtractItem `json:"items"`
	Accepted int               `json:"accepted"`
	Saved    int               `json:"saved"`
	Failed   int               `json:"failed"`
}

type extractSource struct {
	label string
	text  string
	uri   string
}

func (d *Dispatcher) runBulkExtract(ctx context.Context, job *jobs.QueueJob, run *jobs.Run) (any, error) {
	var p BulkExtractPayload
	if err := decodeStrict(job.Payload, &p); err != nil {
		return nil, err
	}
	if err := validateBulkExtract(p); err != nil {
		return nil, err
	}

	var sources []extractSource
	for i, t := range p.Texts {
		sources = append(sources, extractSource{label: fmt.Sprintf("texts[%d]", i), text: t})
	}
	for _, u := range p.URIs {
		sources = append(sources, extractSource{label: u, uri: u})
	}

	res := &BulkExtractResult{Items: make([]BulkExtractItem, 0, len(sources))}
	for i, src := range sources {
		if err := run.Checkpoint(ctx); err != nil {
			return nil, err
		}

		item, err := d.extractSource(ctx, job.TenantID, src, p.DryRun, run)
		if err != nil {
			if errors.Is(err, jobs.ErrJobCancelled) || ctx.Err() != nil {
				return nil, err
			}
			item.ErrorKind = domain.KindOf(err)
			item.Error = err.Error()
			res.Failed++
			d.log.Warn().Err(err).Str("job_id", job.ID).Str("source", src.label).Msg("bulk extract source failed")
		}
		res.Items = append(res.Items, item)
		res.Accepted += item.Accepted
		res.Saved += item.Saved
		run.Progress(ctx, i+1, len(sources))
	}
	return res, nil
}

// extractSource ingests one text or object. Text is ingested in line chunks
// so a cancellation takes effect between chunks.
func (d *Dispatcher) extractSource(ctx context.Context, tenantID string, src extractSource, dryRun bool, run *jobs.Run) (BulkExtractItem, error) {
	item := BulkExtractItem{Source: src.label}
	text := src.text

	if src.uri != "" {
		if d.deps.Objects == nil {
			return item, &domain.CapabilityUnavailableError{Capability: "object-storage", Reason: "not configured"}
		}
		obj, err := d.deps.Objects.Fetch(ctx, src.uri)
		if err != nil {
			return item, err
		}
		if obj.IsImage() {
			res, err := d.deps.Ingestor.Ingest(ctx, pipeline.IngestRequest{TenantID: tenantID, Image: obj.Data, MIMEType: obj.ContentType, DryRun: dryRun})
			if err != nil {
				return item, err
			}
			item.Chunks = 1
			addIngest(&item, res)
			item.Confidence = res.Confidence
			return item, nil
		}
		text = string(obj.Data)
	}

	chunks := lineChunks(text, d.cfg.HeavyLines)
	var confSum float64
	for i, chunk := range chunks {
		if i > 0 {
			if err := run.Checkpoint(ctx); err != nil {
				return item, err
			}
		}
		res, err := d.deps.Ingestor.Ingest(ctx, pipeline.IngestRequest{TenantID: tenantID, Text: chunk, DryRun: dryRun})
		if err != nil {
			return item, fmt.Errorf("chunk %d: %w", i, err)
		}
		item.Chunks++
		addIngest(&item, res)
		confSum += res.Confidence
	}
	if item.Chunks > 0 {
		item.Confidence = confSum / float64(item.Chunks)
	}
	return item, nil
}

func addIngest(item *BulkExtractItem, res *pipeline.IngestResult) {
	item.Accepted += len(res.Accepted)
	item.Rejected += len(res.Rejected)
	item.Skipped += len(res.Skipped)
	item.Saved += res.Saved
	switch {
	case item.Method == "":
		item.Method = res.Method
	case item.Method != res.Method:
		item.Method = domain.MethodHybrid
	}
}

// lineChunks splits text into pieces of at most n lines. Statement messages
// never span lines, so no message is cut.
func lineChunks(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if n <= 0 || len(lines) <= n {
		return []string{text}
	}
	var out []string
	for start := 0; start < len(lines); start += n {
		end := min(start+n, len(lines))
		out = append(out, strings.Join(lines[start:end], "\n"))
	}
	return out
}

func (d *Dispatcher) runBulkCategorize(ctx context.Context, job *jobs.QueueJob, run *jobs.Run) (any, error) {
	var p CategorizeParams
	if err := decodeStrict(job.Payload, &p); err != nil {
		return nil, err
	}
	if len(p.Items) > 0 {
		return nil, domain.NewValidationError("payload.items", "", "bulk-categorize works on stored transactions")
	}
	txs, err := d.deps.Transactions.QueryTransactions(ctx, job.TenantID, selection(p))
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return d.categorizeStored(ctx, job.TenantID, txs, run)
}

func (d *Dispatcher) runReconcile(ctx context.Context, job *jobs.QueueJob, run *jobs.Run) (any, error) {
	var p ReconcileParams
	if err := decodeStrict(job.Payload, &p); err != nil {
		return nil, err
	}
	run.Progress(ctx, 0, 1)
	res, err := d.deps.Reconciler.Reconcile(ctx, job.TenantID, p.Period, p.Entries)
	if err != nil {
		return nil, err
	}
	run.Progress(ctx, 1, 1)
	return res, nil
}
