package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

const transactionColumns = `tenant_id, id, fingerprint, reference, ts, amount, currency, direction,
	counterparty, counterparty_phone, account, balance, fee, raw_text, line_number, confidence,
	method, category, category_confidence, review_status, created_at`

// SaveTransactions inserts drafts, skipping any whose fingerprint the tenant
// already has, and returns how many rows were inserted.
func (d *DB) SaveTransactions(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) (int, error) {
	if len(drafts) == 0 {
		return 0, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("SaveTransactions: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("SaveTransactions: prepare: %w", err)
	}
	defer stmt.Close()

	now := d.now()
	saved := 0
	for _, dr := range drafts {
		fp := dr.Fingerprint
		if fp == "" {
			c := dr.Clone()
			c.TenantID = tenantID
			fp = c.ComputeFingerprint()
		}
		status := dr.ReviewStatus
		if status == "" {
			status = domain.ReviewPending
		}
		created := dr.CreatedAt
		if created.IsZero() {
			created = now
		}
		currency := dr.Currency
		if currency == "" {
			currency = domain.DefaultCurrency
		}

		res, err := stmt.ExecContext(ctx,
			tenantID, dr.ID, fp, dr.Reference, toNanos(dr.Timestamp), dr.Amount.String(), currency,
			string(dr.Direction), dr.Counterparty, nullString(dr.CounterpartyPhone), dr.Account,
			nullDecimal(dr.Balance), nullDecimal(dr.Fee), dr.RawText, dr.LineNumber, dr.Confidence,
			string(dr.Method), dr.Category, dr.CategoryConfidence, string(status), toNanos(created),
		)
		if err != nil {
			return 0, fmt.Errorf("SaveTransactions: insert %s: %w", dr.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("SaveTransactions: rows affected: %w", err)
		}
		saved += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("SaveTransactions: commit: %w", err)
	}
	return saved, nil
}

// QueryTransactions returns the tenant's transactions matching f in
// timestamp order.
func (d *DB) QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error) {
	var (
		where = []string{"tenant_id = ?"}
		args  = []any{tenantID}
	)
	if !f.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, toNanos(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, toNanos(f.To))
	}
	if f.Counterparty != "" {
		where = append(where, "counterparty = ? COLLATE NOCASE")
		args = append(args, f.Counterparty)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ts, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: query: %w", err)
	}
	defer rows.Close()

	var out []*domain.TransactionDraft
	for rows.Next() {
		dr, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("QueryTransactions: scan: %w", err)
		}
		out = append(out, dr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("QueryTransactions: rows: %w", err)
	}
	return out, nil
}

// UpdateCategory sets the category fields of one stored transaction.
func (d *DB) UpdateCategory(ctx context.Context, tenantID, transactionID, category string, confidence float64, status domain.ReviewStatus) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE transactions SET category = ?, category_confidence = ?, review_status = ? WHERE tenant_id = ? AND id = ?`,
		category, confidence, string(status), tenantID, transactionID)
	if err != nil {
		return fmt.Errorf("UpdateCategory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateCategory: rows affected: %w", err)
	}
	if n == 0 {
		return &domain.NotFoundError{Resource: "transaction", ID: transactionID}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.TransactionDraft, error) {
	var (
		dr                  domain.TransactionDraft
		ts, created         int64
		amount              string
		direction, method   string
		status              string
		phone, balance, fee sql.NullString
	)
	if err := s.Scan(
		&dr.TenantID, &dr.ID, &dr.Fingerprint, &dr.Reference, &ts, &amount, &dr.Currency, &direction,
		&dr.Counterparty, &phone, &dr.Account, &balance, &fee, &dr.RawText, &dr.LineNumber, &dr.Confidence,
		&method, &dr.Category, &dr.CategoryConfidence, &status, &created,
	); err != nil {
		return nil, err
	}

	var err error
	if dr.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("amount %q: %w", amount, err)
	}
	if dr.Balance, err = decimalPtr(balance); err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	if dr.Fee, err = decimalPtr(fee); err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}
	if phone.Valid {
		p := phone.String
		dr.CounterpartyPhone = &p
	}
	dr.Timestamp = fromNanos(ts)
	dr.CreatedAt = fromNanos(created)
	dr.Direction = domain.Direction(direction)
	dr.Method = domain.ExtractionMethod(method)
	dr.ReviewStatus = domain.ReviewStatus(status)
	return &dr, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullDecimal(v *decimal.Decimal) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func decimalPtr(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	v, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
