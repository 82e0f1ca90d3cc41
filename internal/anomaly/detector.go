// Package anomaly scores stored transactions for suspicious patterns and
// produces ranked alerts. Detection never modifies transactions.
package anomaly

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// TransactionQuerier reads a tenant's stored transactions.
type TransactionQuerier interface {
	QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error)
}

// AlertStore persists alerts. ReplaceAlerts resolves every open alert that
// references one of transactionIDs at the given time and stores alerts in
// their place, all or nothing. It returns the number of alerts resolved.
type AlertStore interface {
	ReplaceAlerts(ctx context.Context, tenantID string, transactionIDs []string, alerts []*domain.AnomalyAlert, at time.Time) (int, error)
}

// Detector evaluates the closed rule set over a set of transactions.
type Detector struct {
	cfg        Config
	loc        *time.Location
	signatures []compiledSignature
	txs        TransactionQuerier
	alerts     AlertStore
	log        zerolog.Logger
}

// New creates a detector. txs and alerts may be nil when only Detect is used.
func New(cfg Config, txs TransactionQuerier, alerts AlertStore, log zerolog.Logger) (*Detector, error) {
	sigs, err := compileSignatures(cfg.Signatures)
	if err != nil {
		return nil, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Detector{cfg: cfg, loc: loc, signatures: sigs, txs: txs, alerts: alerts, log: log}, nil
}

// Detect runs every rule over txs and returns one alert per flagged
// transaction, highest risk first. Transactions of other tenants are ignored.
func (d *Detector) Detect(tenantID string, txs []*domain.TransactionDraft, now time.Time) []*domain.AnomalyAlert {
	own := make([]*domain.TransactionDraft, 0, len(txs))
	byID := make(map[string]*domain.TransactionDraft, len(txs))
	for _, tx := range txs {
		if tx.TenantID != tenantID {
			continue
		}
		own = append(own, tx)
		byID[tx.ID] = tx
	}
	sort.SliceStable(own, func(i, j int) bool { return own[i].Timestamp.Before(own[j].Timestamp) })

	f := make(findings)
	d.outliers(own, f)
	d.duplicates(own, f)
	d.velocity(own, f)
	d.offHours(own, f)
	d.fraudPatterns(own, f)

	alerts := make([]*domain.AnomalyAlert, 0, len(f))
	for txID, byKind := range f {
		hits, related := d.hits(byKind)
		score := 0.0
		for _, h := range hits {
			score += h.Contribution
		}
		kind := dominant(hits)
		alerts = append(alerts, &domain.AnomalyAlert{
			ID:             uuid.New().String(),
			TenantID:       tenantID,
			TransactionID:  txID,
			TransactionIDs: append([]string{txID}, related...),
			Kind:           kind,
			RiskScore:      clampScore(score),
			Hits:           hits,
			Recommendation: recommendations[kind],
			CreatedAt:      now,
		})
	}

	sort.Slice(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.RiskScore != b.RiskScore {
			return a.RiskScore > b.RiskScore
		}
		ta, tb := byID[a.TransactionID].Timestamp, byID[b.TransactionID].Timestamp
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a.TransactionID < b.TransactionID
	})
	return alerts
}

func clampScore(s float64) int {
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return int(s)
}

// DetectAndStore loads the tenant's transactions matching filter, detects
// anomalies and replaces the earlier open alerts for those transactions with
// the new ones. A failed write leaves the earlier alerts open.
func (d *Detector) DetectAndStore(ctx context.Context, tenantID string, filter domain.TransactionFilter, now time.Time) ([]*domain.AnomalyAlert, error) {
	if d.txs == nil || d.alerts == nil {
		return nil, fmt.Errorf("detect and store: stores not configured")
	}
	txs, err := d.txs.QueryTransactions(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	alerts := d.Detect(tenantID, txs, now)

	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	resolved, err := d.alerts.ReplaceAlerts(ctx, tenantID, ids, alerts, now)
	if err != nil {
		return nil, fmt.Errorf("failed to replace alerts: %w", err)
	}

	d.log.Info().
		Str("tenant_id", tenantID).
		Int("transactions", len(txs)).
		Int("alerts", len(alerts)).
		Int("resolved", resolved).
		Msg("anomaly detection complete")
	return alerts, nil
}
