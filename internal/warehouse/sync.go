package warehouse

import (
	"context"
	"fmt"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/logger"
)

// Source is the part of the primary store a backfill reads.
type Source interface {
	QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error)
	ListAlerts(ctx context.Context, tenantID string, openOnly bool) ([]*domain.AnomalyAlert, error)
}

// Report counts what a Sync read and wrote.
type Report struct {
	Transactions      int  `json:"transactions"`
	TransactionsSaved int  `json:"transactions_saved"`
	Alerts            int  `json:"alerts"`
	AlertsWritten     int  `json:"alerts_written"`
	FailedBatches     int  `json:"failed_batches"`
	DryRun            bool `json:"dry_run"`
}

// Sync copies the tenant's transactions in window, and the alerts created
// in it, from src to dst. A failed batch is logged and skipped so one bad
// batch does not block the rest; the report counts it.
func Sync(ctx context.Context, src Source, dst Destination, tenantID string, window domain.Period, dryRun bool) (*Report, error) {
	log := logger.FromContext(ctx).With().Str("tenant_id", tenantID).Logger()
	if !window.End.After(window.Start) {
		return nil, domain.NewValidationError("window", "", "end must be after start")
	}

	log.Info().
		Time("start", window.Start).
		Time("end", window.End).
		Bool("dry_run", dryRun).
		Msg("starting warehouse sync")

	txs, err := src.QueryTransactions(ctx, tenantID, domain.TransactionFilter{From: window.Start, To: window.End})
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	all, err := src.ListAlerts(ctx, tenantID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	var alerts []*domain.AnomalyAlert
	for _, a := range all {
		if window.Contains(a.CreatedAt) {
			alerts = append(alerts, a)
		}
	}

	rep := &Report{Transactions: len(txs), Alerts: len(alerts), DryRun: dryRun}
	if dryRun {
		log.Info().Int("transactions", rep.Transactions).Int("alerts", rep.Alerts).Msg("[DRY RUN] would sync to warehouse")
		return rep, nil
	}

	batches(txs, func(start int, batch []*domain.TransactionDraft) {
		if ctx.Err() != nil {
			return
		}
		n, err := dst.SaveTransactions(ctx, tenantID, batch)
		if err != nil {
			log.Warn().Err(err).Int("batch_start", start).Int("batch_size", len(batch)).Msg("failed to sync transaction batch")
			rep.FailedBatches++
			return
		}
		rep.TransactionsSaved += n
	})
	batches(alerts, func(start int, batch []*domain.AnomalyAlert) {
		if ctx.Err() != nil {
			return
		}
		if err := dst.SaveAlerts(ctx, tenantID, batch); err != nil {
			log.Warn().Err(err).Int("batch_start", start).Int("batch_size", len(batch)).Msg("failed to sync alert batch")
			rep.FailedBatches++
			return
		}
		rep.AlertsWritten += len(batch)
	})
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	log.Info().
		Int("transactions", rep.Transactions).
		Int("transactions_saved", rep.TransactionsSaved).
		Int("alerts", rep.AlertsWritten).
		Int("failed_batches", rep.FailedBatches).
		Msg("warehouse sync complete")
	return rep, nil
}
