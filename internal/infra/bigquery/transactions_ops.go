package bigquery

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

const transactionSelect = `
	SELECT
		tenant_id, transaction_id, fingerprint, transaction_date, transaction_ts,
		amount, currency, direction, counterparty, counterparty_phone, account, reference,
		balance_after, fee, raw_text, line_number, confidence, method,
		category, category_confidence, review_status, created_ts, updated_ts
	FROM `

// SaveTransactions inserts the drafts whose fingerprint the tenant does not
// already have. Each row's fingerprint is also its streaming insert id, so a
// retried Put inside BigQuery's dedupe window is not duplicated either.
func (s *Store) SaveTransactions(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) (int, error) {
	if len(drafts) == 0 {
		return 0, nil
	}

	fingerprints := make([]string, 0, len(drafts))
	for _, d := range drafts {
		if d.Fingerprint == "" {
			return 0, fmt.Errorf("SaveTransactions: draft %s has no fingerprint", d.ID)
		}
		fingerprints = append(fingerprints, d.Fingerprint)
	}
	existing, err := s.existingFingerprints(ctx, tenantID, fingerprints)
	if err != nil {
		return 0, err
	}

	var savers []*bigquery.StructSaver
	for _, d := range drafts {
		if existing[d.Fingerprint] {
			continue
		}
		existing[d.Fingerprint] = true
		savers = append(savers, &bigquery.StructSaver{
			Struct:   toTransactionRow(tenantID, d),
			InsertID: d.Fingerprint,
		})
	}
	if len(savers) == 0 {
		return 0, nil
	}

	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return 0, fmt.Errorf("SaveTransactions: inserting rows: %w", err)
	}
	return len(savers), nil
}

func (s *Store) existingFingerprints(ctx context.Context, tenantID string, fingerprints []string) (map[string]bool, error) {
	q := s.client.Query(`
		SELECT fingerprint FROM ` + s.tableRef(transactionsTable) + `
		WHERE tenant_id = @tenant_id AND fingerprint IN UNNEST(@fingerprints)
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "tenant_id", Value: tenantID},
		{Name: "fingerprints", Value: fingerprints},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("existingFingerprints: query read: %w", err)
	}

	out := make(map[string]bool)
	for {
		var row struct {
			Fingerprint string `bigquery:"fingerprint"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("existingFingerprints: iter next: %w", err)
		}
		out[row.Fingerprint] = true
	}
	return out, nil
}

// QueryTransactions returns the tenant's transactions matching f in
// timestamp order.
func (s *Store) QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error) {
	where := []string{"tenant_id = @tenant_id"}
	params := []bigquery.QueryParameter{{Name: "tenant_id", Value: tenantID}}

	if !f.From.IsZero() {
		// The date bound prunes partitions; the timestamp bound is exact.
		where = append(where, "transaction_date >= @from_date", "transaction_ts >= @from_ts")
		params = append(params,
			bigquery.QueryParameter{Name: "from_date", Value: f.From.AddDate(0, 0, -1).Format(dateFormat)},
			bigquery.QueryParameter{Name: "from_ts", Value: f.From},
		)
	}
	if !f.To.IsZero() {
		where = append(where, "transaction_date <= @to_date", "transaction_ts < @to_ts")
		params = append(params,
			bigquery.QueryParameter{Name: "to_date", Value: f.To.AddDate(0, 0, 1).Format(dateFormat)},
			bigquery.QueryParameter{Name: "to_ts", Value: f.To},
		)
	}
	if f.Counterparty != "" {
		where = append(where, "UPPER(counterparty) = UPPER(@counterparty)")
		params = append(params, bigquery.QueryParameter{Name: "counterparty", Value: f.Counterparty})
	}
	if f.Category != "" {
		where = append(where, "category = @category")
		params = append(params, bigquery.QueryParameter{Name: "category", Value: f.Category})
	}
	if len(f.IDs) > 0 {
		where = append(where, "transaction_id IN UNNEST(@ids)")
		params = append(params, bigquery.QueryParameter{Name: "ids", Value: f.IDs})
	}

	sql := transactionSelect + s.tableRef(transactionsTable) + `
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY transaction_ts, transaction_id`
	if f.Limit > 0 {
		sql += ` LIMIT @limit`
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: f.Limit})
	}

	q := s.client.Query(sql)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: query read: %w", err)
	}

	var out []*domain.TransactionDraft
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactions: iter next: %w", err)
		}
		out = append(out, r.toDraft())
	}
	return out, nil
}

// UpdateCategory sets the category fields of one transaction. Rows still in
// the streaming buffer cannot be updated by DML; BigQuery returns an error
// for those and the caller may retry later.
func (s *Store) UpdateCategory(ctx context.Context, tenantID, transactionID, category string, confidence float64, status domain.ReviewStatus) error {
	n, err := s.runDML(ctx, `
		UPDATE `+s.tableRef(transactionsTable)+`
		SET category = @category,
		    category_confidence = @confidence,
		    review_status = @status,
		    updated_ts = CURRENT_TIMESTAMP()
		WHERE tenant_id = @tenant_id AND transaction_id = @transaction_id
	`, []bigquery.QueryParameter{
		{Name: "category", Value: category},
		{Name: "confidence", Value: confidence},
		{Name: "status", Value: string(status)},
		{Name: "tenant_id", Value: tenantID},
		{Name: "transaction_id", Value: transactionID},
	})
	if err != nil {
		return fmt.Errorf("UpdateCategory: %w", err)
	}
	if n == 0 {
		return &domain.NotFoundError{Resource: "transaction", ID: transactionID}
	}
	return nil
}
