package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// TransactionQuerier reads a tenant's stored transactions.
type TransactionQuerier interface {
	QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error)
}

// Reconciler loads a tenant's transactions for a period and matches them
// against caller-supplied ledger entries.
type Reconciler struct {
	txs TransactionQuerier
	cfg Config
	log zerolog.Logger
}

func NewReconciler(txs TransactionQuerier, cfg Config, log zerolog.Logger) *Reconciler {
	return &Reconciler{txs: txs, cfg: cfg, log: log}
}

// Reconcile matches the transactions stored in period against entries.
// Entries are used as given, including any dated outside the period.
func (r *Reconciler) Reconcile(ctx context.Context, tenantID string, period domain.Period, entries []domain.LedgerEntry) (*Result, error) {
	if !period.End.After(period.Start) {
		return nil, domain.NewValidationError("period", fmt.Sprintf("%s..%s", period.Start, period.End), "end must be after start")
	}
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("entries[%d].id", i), "", "required")
		}
		if seen[e.ID] {
			return nil, domain.NewValidationError(fmt.Sprintf("entries[%d].id", i), e.ID, "duplicate entry id")
		}
		seen[e.ID] = true
	}

	txs, err := r.txs.QueryTransactions(ctx, tenantID, domain.TransactionFilter{From: period.Start, To: period.End})
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	res := Match(txs, entries, r.cfg)
	r.log.Info().
		Str("tenant_id", tenantID).
		Int("transactions", res.Summary.Transactions).
		Int("entries", res.Summary.Entries).
		Int("matched", res.Summary.Matched).
		Msg("reconciliation complete")
	return &res, nil
}
