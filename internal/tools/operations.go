package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/pipeline"
)

func (d *Dispatcher) extract(ctx context.Context, tenantID string, p ExtractParams) (outcome, error) {
	sources := 0
	for _, set := range []bool{p.Text != "", len(p.Image) > 0, p.URI != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return outcome{}, domain.NewValidationError("parameters", "", "exactly one of text, image or uri is required")
	}

	switch {
	case p.URI != "":
		if !strings.HasPrefix(p.URI, "gs://") {
			return outcome{}, domain.NewValidationError("uri", p.URI, "must be a gs:// URI")
		}
		// Object size is unknown until fetched, so stored statements always go through the queue.
		return d.heavy(ctx, tenantID, jobs.OpBulkExtract, BulkExtractPayload{URIs: []string{p.URI}, DryRun: p.DryRun}, "stored statement")

	case p.Text != "":
		if len(p.Text) > d.cfg.MaxTextBytes {
			return outcome{}, domain.NewValidationError("text", "", fmt.Sprintf("larger than %d bytes", d.cfg.MaxTextBytes))
		}
		if reason := d.heavyText(p.Text); reason != "" {
			return d.heavy(ctx, tenantID, jobs.OpBulkExtract, BulkExtractPayload{Texts: []string{p.Text}, DryRun: p.DryRun}, reason)
		}
	}

	res, err := d.deps.Ingestor.Ingest(ctx, pipeline.IngestRequest{
		TenantID: tenantID,
		Text:     p.Text,
		Image:    p.Image,
		MIMEType: p.MIMEType,
		DryRun:   p.DryRun,
	})
	if err != nil {
		return outcome{}, err
	}
	return outcome{data: res, confidence: floatPtr(res.Confidence)}, nil
}

// heavyText returns why text must be queued, or "" when it can run inline.
func (d *Dispatcher) heavyText(text string) string {
	if len(text) > d.cfg.HeavyTextBytes {
		return fmt.Sprintf("text larger than %d bytes", d.cfg.HeavyTextBytes)
	}
	if lines := strings.Count(text, "\n") + 1; lines > d.cfg.HeavyLines {
		return fmt.Sprintf("more than %d lines", d.cfg.HeavyLines)
	}
	return ""
}

// Assignment is one categorization in a categorize result.
type Assignment struct {
	TransactionID string  `json:"transaction_id"`
	Category      string  `json:"category"`
	Confidence    float64 `json:"confidence"`
}

// CategorizeResult reports assignments and, for stored transactions, how
// many were updated or left alone because a human already reviewed them.
type CategorizeResult struct {
	Assignments []Assignment `json:"assignments"`
	Updated     int          `json:"updated"`
	Reviewed    int          `json:"skipped_reviewed"`
}

func (d *Dispatcher) categorize(ctx context.Context, tenantID string, p CategorizeParams) (outcome, error) {
	if len(p.Items) > 0 {
		if len(p.TransactionIDs) > 0 || !p.From.IsZero() || !p.To.IsZero() {
			return outcome{}, domain.NewValidationError("parameters", "", "items cannot be combined with a stored selection")
		}
		return d.categorizeItems(ctx, tenantID, p.Items)
	}
	if len(p.TransactionIDs) == 0 && p.From.IsZero() && p.To.IsZero() {
		return outcome{}, domain.NewValidationError("parameters", "", "one of items, transaction_ids or from/to is required")
	}

	txs, err := d.deps.Transactions.QueryTransactions(ctx, tenantID, selection(p))
	if err != nil {
		return outcome{}, fmt.Errorf("failed to load transactions: %w", err)
	}
	if len(txs) > d.cfg.HeavyTransactions {
		return d.heavy(ctx, tenantID, jobs.OpBulkCategorize, p, fmt.Sprintf("more than %d transactions", d.cfg.HeavyTransactions))
	}

	res, err := d.categorizeStored(ctx, tenantID, txs, nil)
	if err != nil {
		return outcome{}, err
	}
	return outcome{data: res, confidence: meanConfidence(res.Assignments)}, nil
}

func (d *Dispatcher) categorizeItems(ctx context.Context, tenantID string, items []CategorizeItem) (outcome, error) {
	drafts := make([]*domain.TransactionDraft, len(items))
	for i, it := range items {
		if it.Counterparty == "" && it.Account == "" {
			return outcome{}, domain.NewValidationError(fmt.Sprintf("items[%d].counterparty", i), "", "counterparty or account is required")
		}
		if it.Direction != "" && !it.Direction.Valid() {
			return outcome{}, domain.NewValidationError(fmt.Sprintf("items[%d].direction", i), string(it.Direction), "unknown direction")
		}
		drafts[i] = &domain.TransactionDraft{
			ID:           it.ID,
			TenantID:     tenantID,
			Counterparty: strings.ToUpper(strings.TrimSpace(it.Counterparty)),
			Account:      it.Account,
			Direction:    it.Direction,
		}
	}
	if err := d.deps.Categorizer.CategorizeBatch(ctx, tenantID, drafts); err != nil {
		return outcome{}, err
	}

	res := CategorizeResult{Assignments: make([]Assignment, len(drafts))}
	for i, dr := range drafts {
		res.Assignments[i] = Assignment{TransactionID: dr.ID, Category: dr.Category, Confidence: dr.CategoryConfidence}
	}
	return outcome{data: res, confidence: meanConfidence(res.Assignments)}, nil
}

// categorizeStored categorizes txs in chunks and writes back the ones still
// pending review. run is nil for synchronous calls.
func (d *Dispatcher) categorizeStored(ctx context.Context, tenantID string, txs []*domain.TransactionDraft, run *jobs.Run) (*CategorizeResult, error) {
	res := &CategorizeResult{Assignments: []Assignment{}}
	var pending []*domain.TransactionDraft
	for _, tx := range txs {
		if tx.ReviewStatus == domain.ReviewConfirmed || tx.ReviewStatus == domain.ReviewCorrected {
			res.Reviewed++
			continue
		}
		pending = append(pending, tx)
	}

	done := 0
	err := pipeline.ForEachChunk(ctx, pending, d.cfg.ChunkSize, 0, func(ctx context.Context, _ int, chunk []*domain.TransactionDraft) error {
		if run != nil {
			if err := run.Checkpoint(ctx); err != nil {
				return err
			}
		}
		if err := d.deps.Categorizer.CategorizeBatch(ctx, tenantID, chunk); err != nil {
			return err
		}
		for _, tx := range chunk {
			if err := d.deps.Transactions.UpdateCategory(ctx, tenantID, tx.ID, tx.Category, tx.CategoryConfidence, domain.ReviewPending); err != nil {
				return fmt.Errorf("failed to update %s: %w", tx.ID, err)
			}
			res.Updated++
			res.Assignments = append(res.Assignments, Assignment{TransactionID: tx.ID, Category: tx.Category, Confidence: tx.CategoryConfidence})
		}
		done += len(chunk)
		if run != nil {
			run.Progress(ctx, done, len(pending))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func selection(p CategorizeParams) domain.TransactionFilter {
	return domain.TransactionFilter{IDs: p.TransactionIDs, From: p.From, To: p.To}
}

func meanConfidence(as []Assignment) *float64 {
	if len(as) == 0 {
		return nil
	}
	var sum float64
	for _, a := range as {
		sum += a.Confidence
	}
	return floatPtr(sum / float64(len(as)))
}

// DetectResult lists alerts highest risk first.
type DetectResult struct {
	Window domain.Period          `json:"window"`
	Alerts []*domain.AnomalyAlert `json:"alerts"`
	Count  int                    `json:"count"`
	Stored bool                   `json:"stored"`
}

func (d *Dispatcher) detectAnomalies(ctx context.Context, tenantID string, p DetectParams) (outcome, error) {
	now := d.now()
	window := domain.Period{Start: p.From, End: p.To}
	if window.End.IsZero() {
		window.End = now
	}
	if window.Start.IsZero() {
		window.Start = window.End.Add(-d.cfg.DetectionWindow)
	}
	if !window.End.After(window.Start) {
		return outcome{}, domain.NewValidationError("to", window.End.String(), "must be after from")
	}
	filter := domain.TransactionFilter{From: window.Start, To: window.End}

	var alerts []*domain.AnomalyAlert
	if p.DryRun {
		txs, err := d.deps.Transactions.QueryTransactions(ctx, tenantID, filter)
		if err != nil {
			return outcome{}, fmt.Errorf("failed to load transactions: %w", err)
		}
		alerts = d.deps.Detector.Detect(tenantID, txs, now)
	} else {
		var err error
		if alerts, err = d.deps.Detector.DetectAndStore(ctx, tenantID, filter, now); err != nil {
			return outcome{}, err
		}
	}
	if alerts == nil {
		alerts = []*domain.AnomalyAlert{}
	}
	return outcome{data: DetectResult{Window: window, Alerts: alerts, Count: len(alerts), Stored: !p.DryRun}}, nil
}

func (d *Dispatcher) reconcile(ctx context.Context, tenantID string, p ReconcileParams) (outcome, error) {
	if len(p.Entries) > d.cfg.HeavyTransactions {
		return d.heavy(ctx, tenantID, jobs.OpReconcile, p, fmt.Sprintf("more than %d ledger entries", d.cfg.HeavyTransactions))
	}
	res, err := d.deps.Reconciler.Reconcile(ctx, tenantID, p.Period, p.Entries)
	if err != nil {
		return outcome{}, err
	}
	return outcome{data: res}, nil
}

func (d *Dispatcher) submitHeavyJob(ctx context.Context, tenantID string, p SubmitHeavyJobParams) (outcome, error) {
	payload, err := d.decodePayload(p.Operation, p.Payload)
	if err != nil {
		return outcome{}, err
	}
	return d.heavy(ctx, tenantID, p.Operation, payload, "")
}

// decodePayload checks raw against op's payload schema.
func (d *Dispatcher) decodePayload(op jobs.Operation, raw []byte) (any, error) {
	var err error
	switch op {
	case jobs.OpBulkExtract:
		var p BulkExtractPayload
		if err = decodeStrict(raw, &p); err == nil {
			err = validateBulkExtract(p)
		}
		return p, err
	case jobs.OpBulkCategorize:
		var p CategorizeParams
		if err = decodeStrict(raw, &p); err == nil && len(p.Items) > 0 {
			err = domain.NewValidationError("payload.items", "", "bulk-categorize works on stored transactions")
		}
		return p, err
	case jobs.OpMultiPeriodAnalytics:
		var p AnalyticsPayload
		if err = decodeStrict(raw, &p); err == nil {
			err = validatePeriods(p.Periods)
		}
		return p, err
	case jobs.OpReconcile:
		var p ReconcileParams
		if err = decodeStrict(raw, &p); err == nil && !p.Period.End.After(p.Period.Start) {
			err = domain.NewValidationError("payload.period", "", "end must be after start")
		}
		return p, err
	default:
		return nil, domain.NewValidationError("operation", string(op), "not a queueable operation")
	}
}

func validateBulkExtract(p BulkExtractPayload) error {
	if len(p.Texts) == 0 && len(p.URIs) == 0 {
		return domain.NewValidationError("payload", "", "texts or uris is required")
	}
	for i, u := range p.URIs {
		if !strings.HasPrefix(u, "gs://") {
			return domain.NewValidationError(fmt.Sprintf("payload.uris[%d]", i), u, "must be a gs:// URI")
		}
	}
	return nil
}

func validatePeriods(periods []domain.Period) error {
	if len(periods) == 0 {
		return domain.NewValidationError("payload.periods", "", "at least one period is required")
	}
	for i, p := range periods {
		if !p.End.After(p.Start) {
			return domain.NewValidationError(fmt.Sprintf("payload.periods[%d]", i), "", "end must be after start")
		}
	}
	return nil
}

func (d *Dispatcher) jobStatus(ctx context.Context, tenantID string, p JobParams) (outcome, error) {
	if p.JobID == "" {
		return outcome{}, domain.NewValidationError("job_id", "", "required")
	}
	job, err := d.deps.Jobs.Status(ctx, tenantID, p.JobID)
	if err != nil {
		return outcome{}, err
	}
	return outcome{data: job}, nil
}

func (d *Dispatcher) cancelJob(ctx context.Context, tenantID string, p JobParams) (outcome, error) {
	if p.JobID == "" {
		return outcome{}, domain.NewValidationError("job_id", "", "required")
	}
	// A job that already finished is returned as it is.
	job, err := d.deps.Jobs.Cancel(ctx, tenantID, p.JobID)
	if err != nil {
		return outcome{}, err
	}
	return outcome{data: job}, nil
}

func (d *Dispatcher) confirmCategory(ctx context.Context, tenantID string, p ConfirmCategoryParams) (outcome, error) {
	res, err := d.deps.Categorizer.Confirm(ctx, tenantID, p.TransactionID, p.Category)
	if err != nil {
		return outcome{}, err
	}
	return outcome{data: res}, nil
}

func (d *Dispatcher) quotaStatus(ctx context.Context, tenantID string, p QuotaStatusParams) (outcome, error) {
	caps := p.Capabilities
	if len(caps) == 0 {
		caps = []string{domain.CapabilityAI, domain.CapabilityOCR}
	}
	out := make(map[string]any, len(caps))
	for _, c := range caps {
		windows, err := d.deps.Quota.Usage(ctx, tenantID, c)
		if err != nil {
			return outcome{}, err
		}
		if windows == nil {
			out[c] = "unmetered"
			continue
		}
		out[c] = windows
	}
	return outcome{data: out}, nil
}
