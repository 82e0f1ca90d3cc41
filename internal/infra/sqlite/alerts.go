package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// SaveAlerts inserts alerts. Alert rows are never updated except to resolve them.
func (d *DB) SaveAlerts(ctx context.Context, tenantID string, alerts []*domain.AnomalyAlert) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SaveAlerts: begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertAlerts(ctx, tx, tenantID, alerts); err != nil {
		return fmt.Errorf("SaveAlerts: %w", err)
	}
	return tx.Commit()
}

// ResolveAlerts marks open alerts for the given transactions resolved.
func (d *DB) ResolveAlerts(ctx context.Context, tenantID string, transactionIDs []string, at time.Time) (int, error) {
	n, err := resolveAlerts(ctx, d.db, tenantID, transactionIDs, at)
	if err != nil {
		return 0, fmt.Errorf("ResolveAlerts: %w", err)
	}
	return n, nil
}

// ReplaceAlerts resolves the open alerts for transactionIDs and inserts
// alerts in one transaction.
func (d *DB) ReplaceAlerts(ctx context.Context, tenantID string, transactionIDs []string, alerts []*domain.AnomalyAlert, at time.Time) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ReplaceAlerts: begin: %w", err)
	}
	defer tx.Rollback()

	n, err := resolveAlerts(ctx, tx, tenantID, transactionIDs, at)
	if err != nil {
		return 0, fmt.Errorf("ReplaceAlerts: %w", err)
	}
	if err := insertAlerts(ctx, tx, tenantID, alerts); err != nil {
		return 0, fmt.Errorf("ReplaceAlerts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ReplaceAlerts: commit: %w", err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAlerts(ctx context.Context, ex execer, tenantID string, alerts []*domain.AnomalyAlert) error {
	for _, a := range alerts {
		ids, err := json.Marshal(a.TransactionIDs)
		if err != nil {
			return fmt.Errorf("encoding transaction ids: %w", err)
		}
		hits, err := json.Marshal(a.Hits)
		if err != nil {
			return fmt.Errorf("encoding hits: %w", err)
		}
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO alerts (id, tenant_id, transaction_id, transaction_ids, kind, risk_score, hits, recommendation, created_at, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, tenantID, a.TransactionID, string(ids), string(a.Kind), a.RiskScore, string(hits),
			a.Recommendation, toNanos(a.CreatedAt), nullNanos(a.ResolvedAt),
		); err != nil {
			return fmt.Errorf("insert %s: %w", a.ID, err)
		}
	}
	return nil
}

func resolveAlerts(ctx context.Context, ex execer, tenantID string, transactionIDs []string, at time.Time) (int, error) {
	if len(transactionIDs) == 0 {
		return 0, nil
	}
	args := []any{toNanos(at), tenantID}
	for _, id := range transactionIDs {
		args = append(args, id)
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE alerts SET resolved_at = ? WHERE tenant_id = ? AND resolved_at IS NULL AND transaction_id IN (`+placeholders(len(transactionIDs))+`)`,
		args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// ListAlerts returns alerts highest risk first.
func (d *DB) ListAlerts(ctx context.Context, tenantID string, openOnly bool) ([]*domain.AnomalyAlert, error) {
	query := `SELECT id, tenant_id, transaction_id, transaction_ids, kind, risk_score, hits, recommendation, created_at, resolved_at
		FROM alerts WHERE tenant_id = ?`
	if openOnly {
		query += ` AND resolved_at IS NULL`
	}
	query += ` ORDER BY risk_score DESC, created_at DESC, id`

	rows, err := d.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ListAlerts: query: %w", err)
	}
	defer rows.Close()

	var out []*domain.AnomalyAlert
	for rows.Next() {
		var (
			a          domain.AnomalyAlert
			ids, hits  string
			kind       string
			created    int64
			resolvedAt sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &a.TransactionID, &ids, &kind, &a.RiskScore, &hits, &a.Recommendation, &created, &resolvedAt); err != nil {
			return nil, fmt.Errorf("ListAlerts: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &a.TransactionIDs); err != nil {
			return nil, fmt.Errorf("ListAlerts: decoding transaction ids: %w", err)
		}
		if err := json.Unmarshal([]byte(hits), &a.Hits); err != nil {
			return nil, fmt.Errorf("ListAlerts: decoding hits: %w", err)
		}
		a.Kind = domain.AlertKind(kind)
		a.CreatedAt = fromNanos(created)
		a.ResolvedAt = timePtr(resolvedAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}
