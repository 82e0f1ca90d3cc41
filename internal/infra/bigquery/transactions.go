package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// TransactionRow mirrors the transactions table (migrations/bigquery).
type TransactionRow struct {
	TenantID      string `bigquery:"tenant_id"`      // REQUIRED
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	Fingerprint   string `bigquery:"fingerprint"`    // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED, partition column
	TransactionTS   time.Time  `bigquery:"transaction_ts"`   // REQUIRED

	Amount   *big.Rat `bigquery:"amount"`   // REQUIRED NUMERIC
	Currency string   `bigquery:"currency"` // REQUIRED

	Direction         string              `bigquery:"direction"`          // REQUIRED
	Counterparty      bigquery.NullString `bigquery:"counterparty"`       // NULLABLE
	CounterpartyPhone bigquery.NullString `bigquery:"counterparty_phone"` // NULLABLE
	Account           bigquery.NullString `bigquery:"account"`            // NULLABLE
	Reference         bigquery.NullString `bigquery:"reference"`          // NULLABLE

	BalanceAfter *big.Rat `bigquery:"balance_after"` // NULLABLE NUMERIC
	Fee          *big.Rat `bigquery:"fee"`           // NULLABLE NUMERIC

	RawText    string             `bigquery:"raw_text"`    // REQUIRED
	LineNumber bigquery.NullInt64 `bigquery:"line_number"` // NULLABLE
	Confidence float64            `bigquery:"confidence"`  // REQUIRED
	Method     string             `bigquery:"method"`      // REQUIRED

	Category           bigquery.NullString  `bigquery:"category"`            // NULLABLE
	CategoryConfidence bigquery.NullFloat64 `bigquery:"category_confidence"` // NULLABLE
	ReviewStatus       string               `bigquery:"review_status"`       // REQUIRED

	CreatedTS time.Time              `bigquery:"created_ts"` // REQUIRED
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts"` // NULLABLE
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func ratOf(d *decimal.Decimal) *big.Rat {
	if d == nil {
		return nil
	}
	return d.Rat()
}

func decimalOf(r *big.Rat) *decimal.Decimal {
	if r == nil {
		return nil
	}
	d := decimal.NewFromBigRat(r, 9)
	return &d
}

// toTransactionRow converts a draft for insertion. Dates are partitioned in
// the statement's own zone so a transaction at 01:00 EAT lands on its local day.
func toTransactionRow(tenantID string, d *domain.TransactionDraft) *TransactionRow {
	row := &TransactionRow{
		TenantID:        tenantID,
		TransactionID:   d.ID,
		Fingerprint:     d.Fingerprint,
		TransactionDate: civil.DateOf(d.Timestamp),
		TransactionTS:   d.Timestamp,
		Amount:          d.Amount.Rat(),
		Currency:        d.Currency,
		Direction:       string(d.Direction),
		Counterparty:    nullString(d.Counterparty),
		Account:         nullString(d.Account),
		Reference:       nullString(d.Reference),
		BalanceAfter:    ratOf(d.Balance),
		Fee:             ratOf(d.Fee),
		RawText:         d.RawText,
		Confidence:      d.Confidence,
		Method:          string(d.Method),
		Category:        nullString(d.Category),
		ReviewStatus:    string(d.ReviewStatus),
		CreatedTS:       d.CreatedAt,
	}
	if d.CounterpartyPhone != nil {
		row.CounterpartyPhone = nullString(*d.CounterpartyPhone)
	}
	if d.LineNumber > 0 {
		row.LineNumber = bigquery.NullInt64{Int64: int64(d.LineNumber), Valid: true}
	}
	if d.Category != "" {
		row.CategoryConfidence = bigquery.NullFloat64{Float64: d.CategoryConfidence, Valid: true}
	}
	if row.Currency == "" {
		row.Currency = domain.DefaultCurrency
	}
	if row.ReviewStatus == "" {
		row.ReviewStatus = string(domain.ReviewPending)
	}
	return row
}

func (r *TransactionRow) toDraft() *domain.TransactionDraft {
	d := &domain.TransactionDraft{
		ID:           r.TransactionID,
		TenantID:     r.TenantID,
		Fingerprint:  r.Fingerprint,
		Timestamp:    r.TransactionTS,
		Currency:     r.Currency,
		Direction:    domain.Direction(r.Direction),
		Counterparty: r.Counterparty.StringVal,
		Account:      r.Account.StringVal,
		Reference:    r.Reference.StringVal,
		Balance:      decimalOf(r.BalanceAfter),
		Fee:          decimalOf(r.Fee),
		RawText:      r.RawText,
		LineNumber:   int(r.LineNumber.Int64),
		Confidence:   r.Confidence,
		Method:       domain.ExtractionMethod(r.Method),
		Category:     r.Category.StringVal,
		ReviewStatus: domain.ReviewStatus(r.ReviewStatus),
		CreatedAt:    r.CreatedTS,
	}
	if r.Amount != nil {
		d.Amount = decimal.NewFromBigRat(r.Amount, 9)
	}
	if r.CounterpartyPhone.Valid {
		p := r.CounterpartyPhone.StringVal
		d.CounterpartyPhone = &p
	}
	if r.CategoryConfidence.Valid {
		d.CategoryConfidence = r.CategoryConfidence.Float64
	}
	return d
}
