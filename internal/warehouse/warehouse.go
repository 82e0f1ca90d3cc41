// Package warehouse copies transactions and alerts from the primary store
// into an analytics warehouse, either as they are written (Mirror) or as a
// batch backfill over a date range (Sync).
package warehouse

import (
	"context"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// BatchSize is the number of records written to the warehouse per call.
const BatchSize = 100

// Primary is the system of record.
type Primary interface {
	SaveTransactions(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) (int, error)
	QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error)
	UpdateCategory(ctx context.Context, tenantID, transactionID, category string, confidence float64, status domain.ReviewStatus) error
	SaveAlerts(ctx context.Context, tenantID string, alerts []*domain.AnomalyAlert) error
	ResolveAlerts(ctx context.Context, tenantID string, transactionIDs []string, at time.Time) (int, error)
	ReplaceAlerts(ctx context.Context, tenantID string, transactionIDs []string, alerts []*domain.AnomalyAlert, at time.Time) (int, error)
	ListAlerts(ctx context.Context, tenantID string, openOnly bool) ([]*domain.AnomalyAlert, error)
}

// Destination receives copies. Saves must be idempotent: transactions by
// fingerprint and alerts by ID.
type Destination interface {
	SaveTransactions(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) (int, error)
	UpdateCategory(ctx context.Context, tenantID, transactionID, category string, confidence float64, status domain.ReviewStatus) error
	SaveAlerts(ctx context.Context, tenantID string, alerts []*domain.AnomalyAlert) error
	ResolveAlerts(ctx context.Context, tenantID string, transactionIDs []string, at time.Time) (int, error)
}

// batches calls fn for consecutive slices of at most BatchSize items.
func batches[T any](items []T, fn func(start int, batch []T)) {
	for i := 0; i < len(items); i += BatchSize {
		fn(i, items[i:min(i+BatchSize, len(items))])
	}
}
