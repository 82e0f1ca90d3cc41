package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the closed set of money movements a statement line can describe.
type Direction string

const (
	DirectionReceived   Direction = "received"
	DirectionSent       Direction = "sent"
	DirectionPaybill    Direction = "paybill"
	DirectionTill       Direction = "till"
	DirectionWithdrawal Direction = "withdrawal"
	DirectionDeposit    Direction = "deposit"
	DirectionAirtime    Direction = "airtime"
)

var directions = map[Direction]bool{
	DirectionReceived:   true,
	DirectionSent:       true,
	DirectionPaybill:    true,
	DirectionTill:       true,
	DirectionWithdrawal: true,
	DirectionDeposit:    true,
	DirectionAirtime:    true,
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return directions[d]
}

// Inflow reports whether the direction adds money to the account.
func (d Direction) Inflow() bool {
	return d == DirectionReceived || d == DirectionDeposit
}

// ExtractionMethod records which extraction path produced a draft.
type ExtractionMethod string

const (
	MethodAI        ExtractionMethod = "ai"
	MethodRuleBased ExtractionMethod = "rule-based"
	MethodHybrid    ExtractionMethod = "hybrid"
)

// ReviewStatus tracks human confirmation of a draft's category.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewConfirmed ReviewStatus = "confirmed"
	ReviewCorrected ReviewStatus = "corrected"
)

// DefaultCurrency is used when a statement line carries no explicit currency.
const DefaultCurrency = "KES"

// Uncategorized is assigned when no category clears the confidence threshold.
const Uncategorized = "uncategorized"

// TransactionDraft is a transaction produced by extraction. It is cleaned by
// the normalizer, categorized, and then persisted; after persistence only
// Category, CategoryConfidence and ReviewStatus change.
type TransactionDraft struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	Reference         string           `json:"reference,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
	Amount            decimal.Decimal  `json:"amount"`
	AmountText        string           `json:"-"`
	Currency          string           `json:"currency"`
	Direction         Direction        `json:"direction"`
	Counterparty      string           `json:"counterparty"`
	CounterpartyPhone *string          `json:"counterparty_phone"`
	Account           string           `json:"account,omitempty"`
	Balance           *decimal.Decimal `json:"balance,omitempty"`
	Fee               *decimal.Decimal `json:"fee,omitempty"`
	RawText           string           `json:"raw_text"`
	LineNumber        int              `json:"line_number,omitempty"`
	Confidence        float64          `json:"confidence"`
	Method            ExtractionMethod `json:"method"`

	Category           string       `json:"category,omitempty"`
	CategoryConfidence float64      `json:"category_confidence,omitempty"`
	ReviewStatus       ReviewStatus `json:"review_status,omitempty"`

	Fingerprint string    `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy of the draft.
func (d *TransactionDraft) Clone() *TransactionDraft {
	c := *d
	if d.CounterpartyPhone != nil {
		p := *d.CounterpartyPhone
		c.CounterpartyPhone = &p
	}
	if d.Balance != nil {
		b := *d.Balance
		c.Balance = &b
	}
	if d.Fee != nil {
		f := *d.Fee
		c.Fee = &f
	}
	return &c
}

// DescriptiveText is the text the categorizer and fraud signatures inspect.
func (d *TransactionDraft) DescriptiveText() string {
	parts := []string{d.Counterparty}
	if d.Account != "" {
		parts = append(parts, d.Account)
	}
	return strings.Join(parts, " ")
}

// ComputeFingerprint derives the idempotency key used by storage. Two drafts
// describing the same statement event for the same tenant share a fingerprint.
// A statement reference identifies the event together with its amount; without
// one the key is the extracted content, so it must be computed before the
// timestamp is defaulted or clamped.
func (d *TransactionDraft) ComputeFingerprint() string {
	parts := []string{d.TenantID, d.Amount.StringFixed(2)}
	if ref := strings.ToUpper(strings.TrimSpace(d.Reference)); ref != "" {
		parts = append(parts, "ref", ref)
	} else {
		var ts string
		if !d.Timestamp.IsZero() {
			ts = d.Timestamp.UTC().Format(time.RFC3339)
		}
		parts = append(parts, "text", ts, strings.ToUpper(d.Counterparty), strings.TrimSpace(d.RawText))
	}

	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TransactionFilter narrows a storage query. Zero values mean "no filter".
type TransactionFilter struct {
	From         time.Time
	To           time.Time
	IDs          []string
	Counterparty string
	Category     string
	Limit        int
}

// Matches reports whether d satisfies the filter. Stores that cannot push a
// filter down to their engine use this to post-filter.
func (f TransactionFilter) Matches(d *TransactionDraft) bool {
	if !f.From.IsZero() && d.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !d.Timestamp.Before(f.To) {
		return false
	}
	if f.Counterparty != "" && !strings.EqualFold(f.Counterparty, d.Counterparty) {
		return false
	}
	if f.Category != "" && f.Category != d.Category {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == d.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
