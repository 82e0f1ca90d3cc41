package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// AlertRow mirrors the alerts table.
type AlertRow struct {
	AlertID        string                 `bigquery:"alert_id"`        // REQUIRED
	TenantID       string                 `bigquery:"tenant_id"`       // REQUIRED
	TransactionID  string                 `bigquery:"transaction_id"`  // REQUIRED
	TransactionIDs []string               `bigquery:"transaction_ids"` // REPEATED
	Kind           string                 `bigquery:"kind"`            // REQUIRED
	RiskScore      int64                  `bigquery:"risk_score"`      // REQUIRED
	Hits           bigquery.NullString    `bigquery:"hits"`            // NULLABLE JSON text
	Recommendation string                 `bigquery:"recommendation"`  // REQUIRED
	CreatedTS      time.Time              `bigquery:"created_ts"`      // REQUIRED
	ResolvedTS     bigquery.NullTimestamp `bigquery:"resolved_ts"`     // NULLABLE
}

func toAlertRow(tenantID string, a *domain.AnomalyAlert) (*AlertRow, error) {
	hits, err := json.Marshal(a.Hits)
	if err != nil {
		return nil, fmt.Errorf("encoding hits: %w", err)
	}
	row := &AlertRow{
		AlertID:        a.ID,
		TenantID:       tenantID,
		TransactionID:  a.TransactionID,
		TransactionIDs: a.TransactionIDs,
		Kind:           string(a.Kind),
		RiskScore:      int64(a.RiskScore),
		Hits:           bigquery.NullString{StringVal: string(hits), Valid: true},
		Recommendation: a.Recommendation,
		CreatedTS:      a.CreatedAt,
	}
	if a.ResolvedAt != nil {
		row.ResolvedTS = bigquery.NullTimestamp{Timestamp: *a.ResolvedAt, Valid: true}
	}
	return row, nil
}

func (r *AlertRow) toAlert() (*domain.AnomalyAlert, error) {
	a := &domain.AnomalyAlert{
		ID:             r.AlertID,
		TenantID:       r.TenantID,
		TransactionID:  r.TransactionID,
		TransactionIDs: r.TransactionIDs,
		Kind:           domain.AlertKind(r.Kind),
		RiskScore:      int(r.RiskScore),
		Recommendation: r.Recommendation,
		CreatedAt:      r.CreatedTS,
	}
	if r.Hits.Valid {
		if err := json.Unmarshal([]byte(r.Hits.StringVal), &a.Hits); err != nil {
			return nil, fmt.Errorf("decoding hits: %w", err)
		}
	}
	if r.ResolvedTS.Valid {
		t := r.ResolvedTS.Timestamp
		a.ResolvedAt = &t
	}
	return a, nil
}

// SaveAlerts inserts alerts keyed by alert id.
func (s *Store) SaveAlerts(ctx context.Context, tenantID string, alerts []*domain.AnomalyAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	savers := make([]*bigquery.StructSaver, 0, len(alerts))
	for _, a := range alerts {
		row, err := toAlertRow(tenantID, a)
		if err != nil {
			return fmt.Errorf("SaveAlerts: %w", err)
		}
		savers = append(savers, &bigquery.StructSaver{Struct: row, InsertID: a.ID})
	}

	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(alertsTable).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("SaveAlerts: inserting rows: %w", err)
	}
	return nil
}

// ResolveAlerts marks open alerts for the given transactions resolved.
func (s *Store) ResolveAlerts(ctx context.Context, tenantID string, transactionIDs []string, at time.Time) (int, error) {
	if len(transactionIDs) == 0 {
		return 0, nil
	}
	n, err := s.runDML(ctx, `
		UPDATE `+s.tableRef(alertsTable)+`
		SET resolved_ts = @resolved_ts
		WHERE tenant_id = @tenant_id
		  AND resolved_ts IS NULL
		  AND transaction_id IN UNNEST(@ids)
	`, []bigquery.QueryParameter{
		{Name: "resolved_ts", Value: at},
		{Name: "tenant_id", Value: tenantID},
		{Name: "ids", Value: transactionIDs},
	})
	if err != nil {
		return 0, fmt.Errorf("ResolveAlerts: %w", err)
	}
	return int(n), nil
}

// ListAlerts returns alerts highest risk first.
func (s *Store) ListAlerts(ctx context.Context, tenantID string, openOnly bool) ([]*domain.AnomalyAlert, error) {
	sql := `
		SELECT alert_id, tenant_id, transaction_id, transaction_ids, kind, risk_score,
		       hits, recommendation, created_ts, resolved_ts
		FROM ` + s.tableRef(alertsTable) + `
		WHERE tenant_id = @tenant_id`
	if openOnly {
		sql += ` AND resolved_ts IS NULL`
	}
	sql += ` ORDER BY risk_score DESC, created_ts DESC`

	q := s.client.Query(sql)
	q.Parameters = []bigquery.QueryParameter{{Name: "tenant_id", Value: tenantID}}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAlerts: query read: %w", err)
	}

	var out []*domain.AnomalyAlert
	for {
		var r AlertRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListAlerts: iter next: %w", err)
		}
		a, err := r.toAlert()
		if err != nil {
			return nil, fmt.Errorf("ListAlerts: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
