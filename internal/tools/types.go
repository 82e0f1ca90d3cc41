package tools

import (
	"encoding/json"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
)

// Operation names one tool.
type Operation string

const (
	OpExtract         Operation = "extract"
	OpCategorize      Operation = "categorize"
	OpDetectAnomalies Operation = "detect-anomalies"
	OpReconcile       Operation = "reconcile"
	OpSubmitHeavyJob  Operation = "submit-heavy-job"
	OpJobStatus       Operation = "job-status"
	OpConfirmCategory Operation = "confirm-category"
	OpCancelJob       Operation = "cancel-job"
	OpQuotaStatus     Operation = "quota-status"
)

// Operations lists every tool in a stable order.
var Operations = []Operation{
	OpExtract,
	OpCategorize,
	OpDetectAnomalies,
	OpReconcile,
	OpSubmitHeavyJob,
	OpJobStatus,
	OpConfirmCategory,
	OpCancelJob,
	OpQuotaStatus,
}

// Invocation is one tool call. The tenant is always explicit.
type Invocation struct {
	Operation  Operation       `json:"operation"`
	TenantID   string          `json:"tenant_id"`
	Parameters json.RawMessage `json:"parameters"`
}

// Result is the envelope every invocation returns. Successful calls carry
// Data; failed ones carry ErrorKind, Message and Retriable.
type Result struct {
	Success    bool     `json:"success"`
	Data       any      `json:"data,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`

	ErrorKind domain.ErrorKind `json:"error_kind,omitempty"`
	Message   string           `json:"message,omitempty"`
	Retriable bool             `json:"retriable,omitempty"`
	ResetAt   *time.Time       `json:"reset_at,omitempty"`
}

// Config bounds synchronous calls and decides what counts as heavy.
type Config struct {
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`
	// Inputs above any of these go through the job queue.
	HeavyTextBytes    int `mapstructure:"heavy_text_bytes"`
	HeavyLines        int `mapstructure:"heavy_lines"`
	HeavyTransactions int `mapstructure:"heavy_transactions"`
	// MaxTextBytes rejects a statement outright.
	MaxTextBytes int `mapstructure:"max_text_bytes"`
	// DetectionWindow is the default look-back for detect-anomalies.
	DetectionWindow time.Duration `mapstructure:"detection_window"`
	// AnalyticsParallelism bounds per-period work in analytics jobs.
	AnalyticsParallelism int `mapstructure:"analytics_parallelism"`
	// ChunkSize is the unit of work between job checkpoints.
	ChunkSize int `mapstructure:"chunk_size"`
}

// DefaultConfig returns the limits used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		SyncTimeout:          25 * time.Second,
		HeavyTextBytes:       64 << 10,
		HeavyLines:           500,
		HeavyTransactions:    2000,
		MaxTextBytes:         4 << 20,
		DetectionWindow:      30 * 24 * time.Hour,
		AnalyticsParallelism: 4,
		ChunkSize:            200,
	}
}

// ExtractParams selects exactly one source: inline text, an inline image
// (base64 in JSON) or a gs:// object.
type ExtractParams struct {
	Text     string `json:"text,omitempty"`
	Image    []byte `json:"image,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	URI      string `json:"uri,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

// CategorizeItem is an unsaved transaction to categorize.
type CategorizeItem struct {
	ID           string           `json:"id"`
	Counterparty string           `json:"counterparty"`
	Account      string           `json:"account,omitempty"`
	Direction    domain.Direction `json:"direction,omitempty"`
}

// CategorizeParams either categorizes Items without storing anything, or
// re-categorizes the tenant's stored transactions selected by IDs or by
// the From/To range. Confirmed and corrected transactions are left alone.
type CategorizeParams struct {
	Items          []CategorizeItem `json:"items,omitempty"`
	TransactionIDs []string         `json:"transaction_ids,omitempty"`
	From           time.Time        `json:"from,omitempty"`
	To             time.Time        `json:"to,omitempty"`
}

// DetectParams selects the window to scan. A zero From means the
// configured look-back from To (or now).
type DetectParams struct {
	From   time.Time `json:"from,omitempty"`
	To     time.Time `json:"to,omitempty"`
	DryRun bool      `json:"dry_run,omitempty"`
}

// ReconcileParams are the ledger entries to match against the period's transactions.
type ReconcileParams struct {
	Period  domain.Period        `json:"period"`
	Entries []domain.LedgerEntry `json:"entries"`
}

// SubmitHeavyJobParams queues Payload for Operation. The payload is checked
// against the operation's schema before it is queued.
type SubmitHeavyJobParams struct {
	Operation jobs.Operation  `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
}

// JobParams identifies one of the tenant's jobs.
type JobParams struct {
	JobID string `json:"job_id"`
}

// ConfirmCategoryParams records a human decision about a transaction's category.
type ConfirmCategoryParams struct {
	TransactionID string `json:"transaction_id"`
	Category      string `json:"category"`
}

// QuotaStatusParams names the capabilities to report; empty means all metered ones.
type QuotaStatusParams struct {
	Capabilities []string `json:"capabilities,omitempty"`
}

// BulkExtractPayload is the bulk-extract job input.
type BulkExtractPayload struct {
	Texts  []string `json:"texts,omitempty"`
	URIs   []string `json:"uris,omitempty"`
	DryRun bool     `json:"dry_run,omitempty"`
}

// AnalyticsPayload is the multi-period-analytics job input.
type AnalyticsPayload struct {
	Periods []domain.Period `json:"periods"`
}

// Queued is returned in place of a result when a call was routed to the queue.
type Queued struct {
	JobID     string         `json:"job_id"`
	State     jobs.State     `json:"state"`
	Operation jobs.Operation `json:"operation"`
	Reason    string         `json:"reason,omitempty"`
}
