package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// Mirror writes to the primary store and then copies the write to the
// warehouse. Reads go to the primary only. A failed warehouse write is
// logged and never fails the caller; Sync repairs the gap later.
type Mirror struct {
	primary   Primary
	warehouse Destination
	log       zerolog.Logger
}

// NewMirror wraps primary.
func NewMirror(primary Primary, warehouse Destination, log zerolog.Logger) *Mirror {
	return &Mirror{primary: primary, warehouse: warehouse, log: log.With().Str("component", "warehouse-mirror").Logger()}
}

// SaveTransactions saves drafts to the primary store and mirrors all of
// them; the warehouse skips fingerprints it already holds.
func (m *Mirror) SaveTransactions(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) (int, error) {
	saved, err := m.primary.SaveTransactions(ctx, tenantID, drafts)
	if err != nil {
		return saved, err
	}
	if saved == 0 {
		return 0, nil
	}
	batches(drafts, func(start int, batch []*domain.TransactionDraft) {
		if _, err := m.warehouse.SaveTransactions(ctx, tenantID, batch); err != nil {
			m.log.Warn().Err(err).Str("tenant_id", tenantID).Int("batch_start", start).Int("batch_size", len(batch)).Msg("failed to mirror transactions")
		}
	})
	return saved, nil
}

// QueryTransactions reads from the primary store.
func (m *Mirror) QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error) {
	return m.primary.QueryTransactions(ctx, tenantID, f)
}

// UpdateCategory updates the primary store and then the warehouse. A row the
// warehouse has not received yet is not an error.
func (m *Mirror) UpdateCategory(ctx context.Context, tenantID, transactionID, category string, confidence float64, status domain.ReviewStatus) error {
	if err := m.primary.UpdateCategory(ctx, tenantID, transactionID, category, confidence, status); err != nil {
		return err
	}
	err := m.warehouse.UpdateCategory(ctx, tenantID, transactionID, category, confidence, status)
	var notFound *domain.NotFoundError
	if err != nil && !errors.As(err, &notFound) {
		m.log.Warn().Err(err).Str("tenant_id", tenantID).Str("transaction_id", transactionID).Msg("failed to mirror category update")
	}
	return nil
}

// SaveAlerts saves alerts to the primary store and mirrors them.
func (m *Mirror) SaveAlerts(ctx context.Context, tenantID string, alerts []*domain.AnomalyAlert) error {
	if err := m.primary.SaveAlerts(ctx, tenantID, alerts); err != nil {
		return err
	}
	m.mirrorAlerts(ctx, tenantID, alerts)
	return nil
}

func (m *Mirror) mirrorAlerts(ctx context.Context, tenantID string, alerts []*domain.AnomalyAlert) {
	batches(alerts, func(start int, batch []*domain.AnomalyAlert) {
		if err := m.warehouse.SaveAlerts(ctx, tenantID, batch); err != nil {
			m.log.Warn().Err(err).Str("tenant_id", tenantID).Int("batch_start", start).Int("batch_size", len(batch)).Msg("failed to mirror alerts")
		}
	})
}

// ResolveAlerts resolves in the primary store and mirrors the resolution.
func (m *Mirror) ResolveAlerts(ctx context.Context, tenantID string, transactionIDs []string, at time.Time) (int, error) {
	n, err := m.primary.ResolveAlerts(ctx, tenantID, transactionIDs, at)
	if err != nil || n == 0 {
		return n, err
	}
	if _, err := m.warehouse.ResolveAlerts(ctx, tenantID, transactionIDs, at); err != nil {
		m.log.Warn().Err(err).Str("tenant_id", tenantID).Int("transactions", len(transactionIDs)).Msg("failed to mirror alert resolution")
	}
	return n, nil
}

// ReplaceAlerts replaces in the primary store, then mirrors the resolution
// and the new alerts.
func (m *Mirror) ReplaceAlerts(ctx context.Context, tenantID string, transactionIDs []string, alerts []*domain.AnomalyAlert, at time.Time) (int, error) {
	n, err := m.primary.ReplaceAlerts(ctx, tenantID, transactionIDs, alerts, at)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if _, err := m.warehouse.ResolveAlerts(ctx, tenantID, transactionIDs, at); err != nil {
			m.log.Warn().Err(err).Str("tenant_id", tenantID).Int("transactions", len(transactionIDs)).Msg("failed to mirror alert resolution")
		}
	}
	m.mirrorAlerts(ctx, tenantID, alerts)
	return n, nil
}

// ListAlerts reads from the primary store.
func (m *Mirror) ListAlerts(ctx context.Context, tenantID string, openOnly bool) ([]*domain.AnomalyAlert, error) {
	return m.primary.ListAlerts(ctx, tenantID, openOnly)
}

var _ Primary = (*Mirror)(nil)
