package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is a record from the business's own books, supplied by the
// caller for reconciliation. The sign of Amount is ignored when matching.
type LedgerEntry struct {
	ID           string          `json:"id"`
	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty"`
	Description  string          `json:"description,omitempty"`
}

// Period is a half-open time range [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Days returns the period length in whole days, rounded up.
func (p Period) Days() int {
	d := p.End.Sub(p.Start)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
