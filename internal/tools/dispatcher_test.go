package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/anomaly"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/categorizer"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/infra/inmemory"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
	jobstore "github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs/inmemory"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/logger"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/parser"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/pipeline"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/quota"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/reconcile"
)

var eat = time.FixedZone("EAT", 3*60*60)

const (
	lineReceived = "QAB1CD2EF3 Confirmed. You have received Ksh1,500.00 from JOHN DOE 0712345678 on 15/1/25 at 10:30 AM New M-PESA balance is Ksh2,000.00."
	lineSent     = "QBC2DE3FG4 Confirmed. Ksh200.00 sent to JANE WANJIKU 0722000111 on 16/1/25 at 2:15 PM. New M-PESA balance is Ksh1,300.00. Transaction cost, Ksh7.00."
	linePaybill  = "QCD3EF4GH5 Confirmed. Ksh1,000.00 sent to KPLC PREPAID for account 54321 on 17/1/25 at 9:00 AM New M-PESA balance is Ksh300.00."
	lineRepeat   = "QZZ9YY8XX7 Confirmed. Ksh200.00 sent to JANE WANJIKU 0722000111 on 16/1/25 at 2:15 PM. New M-PESA balance is Ksh1,100.00. Transaction cost, Ksh7.00."
)

var january = domain.Period{
	Start: time.Date(2025, 1, 1, 0, 0, 0, 0, eat),
	End:   time.Date(2025, 2, 1, 0, 0, 0, 0, eat),
}

type harness struct {
	d     *Dispatcher
	store *inmemory.Store
	queue *jobs.Queue
}

type fakeLimiter struct {
	allow bool
	wait  time.Duration
}

func (f *fakeLimiter) Allow(string) (bool, time.Duration) { return f.allow, f.wait }

func newHarness(t *testing.T, cfg Config, mutate func(*Deps)) *harness {
	t.Helper()
	log := logger.Nop()
	store := inmemory.NewStore()

	cat := categorizer.New(categorizer.NewMemoryPatternStore(), store, categorizer.DefaultConfig(), log)
	ext := pipeline.NewExtractor(parser.New(eat), nil, nil, nil, pipeline.ExtractorConfig{}, log)
	ing := pipeline.NewIngestor(ext, pipeline.NewNormalizer(pipeline.NormalizerConfig{}), cat, store, pipeline.ChunkOptions{Size: 50}, log)

	acfg := anomaly.DefaultConfig()
	acfg.Location = eat
	det, err := anomaly.New(acfg, store, store, log)
	require.NoError(t, err)

	queue := jobs.NewQueue(jobstore.NewStore(), jobs.Config{
		Workers:             2,
		MaxPendingPerTenant: 5,
		JobTimeout:          10 * time.Second,
		PollInterval:        10 * time.Millisecond,
	}, log)

	quotas := quota.NewManager(quota.NewMemoryStore(), quota.Policy{
		Defaults: map[string][]quota.Limit{domain.CapabilityAI: {{Period: time.Hour, Max: 10}}},
	}, log)

	deps := Deps{
		Ingestor:     ing,
		Categorizer:  cat,
		Detector:     det,
		Reconciler:   reconcile.NewReconciler(store, reconcile.DefaultConfig(), log),
		Jobs:         queue,
		Quota:        quotas,
		Transactions: store,
	}
	if mutate != nil {
		mutate(&deps)
	}

	d := New(deps, cfg, log)
	d.RegisterJobs(queue)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, queue.Start(ctx))
	t.Cleanup(func() {
		_ = queue.Stop(context.Background())
		cancel()
	})
	return &harness{d: d, store: store, queue: queue}
}

func (h *harness) invoke(t *testing.T, op Operation, tenantID string, params any) *Result {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return h.d.Invoke(context.Background(), Invocation{Operation: op, TenantID: tenantID, Parameters: raw})
}

func (h *harness) waitJob(t *testing.T, tenantID, id string) *jobs.QueueJob {
	t.Helper()
	var job *jobs.QueueJob
	require.Eventually(t, func() bool {
		j, err := h.queue.Status(context.Background(), tenantID, id)
		if err != nil {
			return false
		}
		job = j
		return j.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func requireSuccess(t *testing.T, res *Result) {
	t.Helper()
	require.True(t, res.Success, "%s: %s", res.ErrorKind, res.Message)
}

func TestInvoke_Validation(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	tests := []struct {
		name   string
		inv    Invocation
		wantIn string
	}{
		{name: "missing tenant", inv: Invocation{Operation: OpExtract}, wantIn: "tenant_id"},
		{name: "unknown operation", inv: Invocation{Operation: "transfer-funds", TenantID: "t"}, wantIn: "operation"},
		{name: "unknown parameter", inv: Invocation{Operation: OpExtract, TenantID: "t", Parameters: json.RawMessage(`{"txt":"x"}`)}, wantIn: "unknown field"},
		{name: "malformed parameters", inv: Invocation{Operation: OpExtract, TenantID: "t", Parameters: json.RawMessage(`{"text":`)}, wantIn: "parameters"},
		{name: "no extract source", inv: Invocation{Operation: OpExtract, TenantID: "t"}, wantIn: "exactly one"},
		{name: "two extract sources", inv: Invocation{Operation: OpExtract, TenantID: "t", Parameters: json.RawMessage(`{"text":"a","uri":"gs://b/o"}`)}, wantIn: "exactly one"},
		{name: "non gs uri", inv: Invocation{Operation: OpExtract, TenantID: "t", Parameters: json.RawMessage(`{"uri":"https://x/y"}`)}, wantIn: "gs://"},
		{name: "job status without id", inv: Invocation{Operation: OpJobStatus, TenantID: "t"}, wantIn: "job_id"},
		{name: "categorize without selection", inv: Invocation{Operation: OpCategorize, TenantID: "t"}, wantIn: "required"},
		{name: "heavy job unknown operation", inv: Invocation{Operation: OpSubmitHeavyJob, TenantID: "t", Parameters: json.RawMessage(`{"operation":"mine-bitcoin"}`)}, wantIn: "queueable"},
		{name: "analytics without periods", inv: Invocation{Operation: OpSubmitHeavyJob, TenantID: "t", Parameters: json.RawMessage(`{"operation":"multi-period-analytics","payload":{}}`)}, wantIn: "period"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.d.Invoke(context.Background(), tt.inv)
			assert.False(t, res.Success)
			assert.Equal(t, domain.KindValidation, res.ErrorKind)
			assert.False(t, res.Retriable)
			assert.Contains(t, res.Message, tt.wantIn)
		})
	}
}

func TestInvoke_ExtractInline(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	res := h.invoke(t, OpExtract, "shop-1", ExtractParams{Text: lineReceived + "\n" + linePaybill + "\nhello there"})
	requireSuccess(t, res)
	require.NotNil(t, res.Confidence)
	assert.InDelta(t, 1.0, *res.Confidence, 0.01)

	ingest, ok := res.Data.(*pipeline.IngestResult)
	require.True(t, ok, "got %T", res.Data)
	assert.Len(t, ingest.Accepted, 2)
	assert.Len(t, ingest.Skipped, 1, "unparseable lines are reported")
	assert.Equal(t, 2, ingest.Saved)

	stored, err := h.store.QueryTransactions(context.Background(), "shop-1", domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	other, err := h.store.QueryTransactions(context.Background(), "shop-2", domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestInvoke_ExtractHeavyGoesThroughQueue(t *testing.T) {
	h := newHarness(t, Config{HeavyLines: 2}, nil)

	res := h.invoke(t, OpExtract, "shop-1", ExtractParams{Text: strings.Join([]string{lineReceived, lineSent, linePaybill}, "\n")})
	requireSuccess(t, res)
	queued, ok := res.Data.(Queued)
	require.True(t, ok, "got %T", res.Data)
	assert.Equal(t, jobs.StateQueued, queued.State)
	assert.Equal(t, jobs.OpBulkExtract, queued.Operation)
	assert.Contains(t, queued.Reason, "lines")

	job := h.waitJob(t, "shop-1", queued.JobID)
	require.Equal(t, jobs.StateCompleted, job.State, job.Error)
	assert.Equal(t, jobs.Progress{Done: 1, Total: 1}, job.Progress)

	var out BulkExtractResult
	require.NoError(t, json.Unmarshal(job.Result, &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, 2, out.Items[0].Chunks, "three lines in chunks of two")
	assert.Equal(t, 3, out.Saved)

	status := h.invoke(t, OpJobStatus, "shop-1", JobParams{JobID: queued.JobID})
	requireSuccess(t, status)

	leaked := h.invoke(t, OpJobStatus, "shop-2", JobParams{JobID: queued.JobID})
	assert.False(t, leaked.Success)
	assert.Equal(t, domain.KindNotFound, leaked.ErrorKind)
}

func TestInvoke_URIWithoutObjectStoreFailsItem(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	res := h.invoke(t, OpExtract, "shop-1", ExtractParams{URI: "gs://statements/march.txt"})
	requireSuccess(t, res)
	queued := res.Data.(Queued)

	job := h.waitJob(t, "shop-1", queued.JobID)
	require.Equal(t, jobs.StateCompleted, job.State)

	var out BulkExtractResult
	require.NoError(t, json.Unmarshal(job.Result, &out))
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, domain.KindCapabilityUnavailable, out.Items[0].ErrorKind)
}

func TestInvoke_RateLimited(t *testing.T) {
	limiter := &fakeLimiter{allow: false, wait: 2 * time.Second}
	h := newHarness(t, Config{}, func(d *Deps) { d.Limiter = limiter })

	before := time.Now()
	res := h.invoke(t, OpQuotaStatus, "shop-1", nil)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindQuotaExceeded, res.ErrorKind)
	assert.True(t, res.Retriable)
	require.NotNil(t, res.ResetAt)
	assert.True(t, res.ResetAt.After(before.Add(time.Second)))

	limiter.allow = true
	requireSuccess(t, h.invoke(t, OpQuotaStatus, "shop-1", nil))
}

type stuckIngestor struct {
	release chan struct{}
}

func (s *stuckIngestor) Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error) {
	<-s.release
	return &pipeline.IngestResult{}, nil
}

type panickingIngestor struct{}

func (panickingIngestor) Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error) {
	panic("boom")
}

type failingIngestor struct{ err error }

func (f failingIngestor) Ingest(ctx context.Context, req pipeline.IngestRequest) (*pipeline.IngestResult, error) {
	return nil, f.err
}

func TestInvoke_Failures(t *testing.T) {
	stuck := &stuckIngestor{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })

	tests := []struct {
		name          string
		ingestor      Ingestor
		wantKind      domain.ErrorKind
		wantRetriable bool
		wantIn        string
	}{
		{name: "handler ignores its deadline", ingestor: stuck, wantKind: domain.KindTimeout, wantRetriable: true, wantIn: "budget"},
		{name: "handler panics", ingestor: panickingIngestor{}, wantKind: domain.KindInternal, wantRetriable: true, wantIn: "boom"},
		{name: "storage unreachable", ingestor: failingIngestor{err: errors.New("connection refused")}, wantKind: domain.KindInternal, wantRetriable: true, wantIn: "connection refused"},
		{name: "deadline error from collaborator", ingestor: failingIngestor{err: &domain.TimeoutError{Operation: "ai", Budget: time.Second}}, wantKind: domain.KindTimeout, wantRetriable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{SyncTimeout: 50 * time.Millisecond}, func(d *Deps) { d.Ingestor = tt.ingestor })
			res := h.invoke(t, OpExtract, "shop-1", ExtractParams{Text: lineReceived})
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantKind, res.ErrorKind)
			assert.Equal(t, tt.wantRetriable, res.Retriable)
			assert.NotEmpty(t, res.Message)
			assert.Contains(t, res.Message, tt.wantIn)
		})
	}
}

func TestInvoke_CategorizeAndConfirm(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	requireSuccess(t, h.invoke(t, OpExtract, "shop-1", ExtractParams{Text: lineSent + "\n" + linePaybill}))

	stored, err := h.store.QueryTransactions(context.Background(), "shop-1", domain.TransactionFilter{Counterparty: "KPLC PREPAID"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	kplc := stored[0]
	assert.Equal(t, "utilities", kplc.Category)

	stored, err = h.store.QueryTransactions(context.Background(), "shop-1", domain.TransactionFilter{Counterparty: "JANE WANJIKU"})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	jane := stored[0]

	res := h.invoke(t, OpConfirmCategory, "shop-1", ConfirmCategoryParams{TransactionID: jane.ID, Category: "Salaries"})
	requireSuccess(t, res)
	confirmed := res.Data.(*categorizer.ConfirmResult)
	assert.Equal(t, "salaries", confirmed.Category)

	items := h.invoke(t, OpCategorize, "shop-1", CategorizeParams{Items: []CategorizeItem{
		{ID: "a", Counterparty: "Jane Wanjiku", Direction: domain.DirectionSent},
		{ID: "b", Counterparty: "KPLC PREPAID", Direction: domain.DirectionPaybill},
	}})
	requireSuccess(t, items)
	got := items.Data.(CategorizeResult)
	require.Len(t, got.Assignments, 2)
	assert.Equal(t, "salaries", got.Assignments[0].Category, "confirmation teaches the categorizer")
	assert.Equal(t, "utilities", got.Assignments[1].Category)
	require.NotNil(t, items.Confidence)

	rerun := h.invoke(t, OpCategorize, "shop-1", CategorizeParams{From: january.Start, To: january.End})
	requireSuccess(t, rerun)
	out := rerun.Data.(*CategorizeResult)
	assert.Equal(t, 1, out.Reviewed, "confirmed transactions are left alone")
	assert.Equal(t, 1, out.Updated)

	missing := h.invoke(t, OpConfirmCategory, "shop-2", ConfirmCategoryParams{TransactionID: jane.ID, Category: "salaries"})
	assert.Equal(t, domain.KindNotFound, missing.ErrorKind, "other tenants cannot confirm")
}

func TestInvoke_DetectAnomalies(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	requireSuccess(t, h.invoke(t, OpExtract, "shop-1", ExtractParams{Text: lineSent + "\n" + lineRepeat + "\n" + lineReceived}))

	dry := h.invoke(t, OpDetectAnomalies, "shop-1", DetectParams{From: january.Start, To: january.End, DryRun: true})
	requireSuccess(t, dry)
	dryOut := dry.Data.(DetectResult)
	assert.False(t, dryOut.Stored)
	require.NotZero(t, dryOut.Count)

	open, err := h.store.ListAlerts(context.Background(), "shop-1", true)
	require.NoError(t, err)
	assert.Empty(t, open, "dry run stores nothing")

	res := h.invoke(t, OpDetectAnomalies, "shop-1", DetectParams{From: january.Start, To: january.End})
	requireSuccess(t, res)
	out := res.Data.(DetectResult)
	assert.True(t, out.Stored)

	var kinds []domain.AlertKind
	for _, a := range out.Alerts {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, domain.AlertDuplicate)

	open, err = h.store.ListAlerts(context.Background(), "shop-1", true)
	require.NoError(t, err)
	assert.Len(t, open, out.Count)

	bad := h.invoke(t, OpDetectAnomalies, "shop-1", DetectParams{From: january.End, To: january.Start})
	assert.Equal(t, domain.KindValidation, bad.ErrorKind)
}

func TestInvoke_Reconcile(t *testing.T) {
	h := newHarness(t, Config{HeavyTransactions: 3}, nil)
	requireSuccess(t, h.invoke(t, OpExtract, "shop-1", ExtractParams{Text: lineReceived + "\n" + lineSent + "\n" + linePaybill}))

	entries := []domain.LedgerEntry{
		{ID: "L1", Date: time.Date(2025, 1, 15, 0, 0, 0, 0, eat), Amount: decimal.NewFromInt(1500), Counterparty: "John Doe"},
		{ID: "L2", Date: time.Date(2025, 1, 20, 0, 0, 0, 0, eat), Amount: decimal.NewFromInt(999), Counterparty: "Unknown"},
	}
	res := h.invoke(t, OpReconcile, "shop-1", ReconcileParams{Period: january, Entries: entries})
	requireSuccess(t, res)
	out := res.Data.(*reconcile.Result)
	assert.Equal(t, 1, out.Summary.Matched)
	assert.Len(t, out.UnmatchedEntries, 1)
	assert.Len(t, out.UnmatchedTransactions, 2)

	many := append(entries,
		domain.LedgerEntry{ID: "L3", Date: january.Start, Amount: decimal.NewFromInt(1)},
		domain.LedgerEntry{ID: "L4", Date: january.Start, Amount: decimal.NewFromInt(2)},
	)
	queuedRes := h.invoke(t, OpReconcile, "shop-1", ReconcileParams{Period: january, Entries: many})
	requireSuccess(t, queuedRes)
	queued := queuedRes.Data.(Queued)
	assert.Equal(t, jobs.OpReconcile, queued.Operation)

	job := h.waitJob(t, "shop-1", queued.JobID)
	require.Equal(t, jobs.StateCompleted, job.State, job.Error)
	var async reconcile.Result
	require.NoError(t, json.Unmarshal(job.Result, &async))
	assert.Equal(t, 1, async.Summary.Matched)
	assert.Len(t, async.UnmatchedEntries, 3)
}

func TestInvoke_MultiPeriodAnalytics(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	requireSuccess(t, h.invoke(t, OpExtract, "shop-1", ExtractParams{Text: lineReceived + "\n" + lineSent + "\n" + linePaybill}))

	firstHalf := domain.Period{Start: january.Start, End: time.Date(2025, 1, 16, 12, 0, 0, 0, eat)}
	secondHalf := domain.Period{Start: firstHalf.End, End: january.End}
	payload, err := json.Marshal(AnalyticsPayload{Periods: []domain.Period{firstHalf, secondHalf}})
	require.NoError(t, err)

	res := h.invoke(t, OpSubmitHeavyJob, "shop-1", SubmitHeavyJobParams{Operation: jobs.OpMultiPeriodAnalytics, Payload: payload})
	requireSuccess(t, res)
	queued := res.Data.(Queued)

	job := h.waitJob(t, "shop-1", queued.JobID)
	require.Equal(t, jobs.StateCompleted, job.State, job.Error)
	assert.Equal(t, jobs.Progress{Done: 2, Total: 2}, job.Progress)

	var out AnalyticsResult
	require.NoError(t, json.Unmarshal(job.Result, &out))
	require.Len(t, out.Periods, 2)
	assert.Equal(t, 3, out.Transactions)

	first := out.Periods[0]
	assert.Equal(t, 1, first.Transactions)
	assert.True(t, decimal.NewFromInt(1500).Equal(first.Inflow), first.Inflow.String())

	second := out.Periods[1]
	assert.Equal(t, 2, second.Transactions)
	assert.True(t, decimal.NewFromInt(1200).Equal(second.Outflow), second.Outflow.String())
	assert.True(t, decimal.NewFromInt(7).Equal(second.Fees), second.Fees.String())
	assert.True(t, decimal.NewFromInt(1000).Equal(second.ByCategory["utilities"]))
}

func TestInvoke_CancelJob(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	missing := h.invoke(t, OpCancelJob, "shop-1", JobParams{JobID: "nope"})
	assert.Equal(t, domain.KindNotFound, missing.ErrorKind)

	res := h.invoke(t, OpExtract, "shop-1", ExtractParams{Text: lineReceived, DryRun: true})
	requireSuccess(t, res)

	payload, err := json.Marshal(BulkExtractPayload{Texts: []string{lineSent}})
	require.NoError(t, err)
	submitted := h.invoke(t, OpSubmitHeavyJob, "shop-1", SubmitHeavyJobParams{Operation: jobs.OpBulkExtract, Payload: payload})
	requireSuccess(t, submitted)
	id := submitted.Data.(Queued).JobID
	h.waitJob(t, "shop-1", id)

	cancelled := h.invoke(t, OpCancelJob, "shop-1", JobParams{JobID: id})
	requireSuccess(t, cancelled)
	assert.Equal(t, jobs.StateCompleted, cancelled.Data.(*jobs.QueueJob).State, "finished jobs are returned unchanged")
}

func TestInvoke_QuotaStatus(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	res := h.invoke(t, OpQuotaStatus, "shop-1", QuotaStatusParams{})
	requireSuccess(t, res)
	data := res.Data.(map[string]any)

	windows, ok := data[domain.CapabilityAI].([]quota.Window)
	require.True(t, ok, "got %T", data[domain.CapabilityAI])
	require.Len(t, windows, 1)
	assert.Equal(t, 10, windows[0].Limit)
	assert.Equal(t, 0, windows[0].Used)
	assert.Equal(t, "unmetered", data[domain.CapabilityOCR])
}

func TestLineChunks(t *testing.T) {
	tests := []struct {
		name string
		text string
		n    int
		want []string
	}{
		{name: "fits", text: "a\nb", n: 2, want: []string{"a\nb"}},
		{name: "splits", text: "a\nb\nc", n: 2, want: []string{"a\nb", "c"}},
		{name: "one per chunk", text: "a\nb\nc", n: 1, want: []string{"a", "b", "c"}},
		{name: "no limit", text: "a\nb\nc", n: 0, want: []string{"a\nb\nc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lineChunks(tt.text, tt.n))
		})
	}
}
