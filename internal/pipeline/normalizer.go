package pipeline

import (
	"strings"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/parser"
)

// NormalizerConfig controls field cleanup.
type NormalizerConfig struct {
	// MaxAge and FutureSkew bound timestamps relative to the batch reference time.
	MaxAge     time.Duration
	FutureSkew time.Duration
	// CountryCode and SubscriberDigits define the canonical phone format,
	// e.g. "254" and 9 for +254712345678.
	CountryCode      string
	SubscriberDigits int
}

// Rejection pairs a draft with the field that failed validation.
type Rejection struct {
	Draft *domain.TransactionDraft `json:"draft"`
	Err   *domain.ValidationError  `json:"-"`
	Field string                   `json:"field"`
	Error string                   `json:"error"`
}

// NormalizeResult reports both halves of a batch.
type NormalizeResult struct {
	Accepted []*domain.TransactionDraft `json:"accepted"`
	Rejected []Rejection                `json:"rejected"`
}

// Normalizer cleans drafts and rejects structurally invalid ones. A bad
// draft never fails the batch.
type Normalizer struct {
	cfg NormalizerConfig
}

// NewNormalizer creates a normalizer with defaults for unset fields.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * 365 * 24 * time.Hour
	}
	if cfg.FutureSkew <= 0 {
		cfg.FutureSkew = 24 * time.Hour
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "254"
	}
	if cfg.SubscriberDigits <= 0 {
		cfg.SubscriberDigits = 9
	}
	return &Normalizer{cfg: cfg}
}

// Normalize cleans every draft for tenantID. ref is the batch reference
// time; drafts without a timestamp take it.
func (n *Normalizer) Normalize(tenantID string, drafts []*domain.TransactionDraft, ref time.Time) NormalizeResult {
	var res NormalizeResult
	seen := make(map[string]bool, len(drafts))

	for _, d := range drafts {
		if verr := n.normalizeOne(tenantID, d, ref); verr != nil {
			res.Rejected = append(res.Rejected, newRejection(d, verr))
			continue
		}

		key := dedupeKey(d)
		if seen[key] {
			res.Rejected = append(res.Rejected, newRejection(d,
				domain.NewValidationError("duplicate", d.Reference, "exact repeat of an earlier draft in this batch")))
			continue
		}
		seen[key] = true

		res.Accepted = append(res.Accepted, d)
	}
	return res
}

func newRejection(d *domain.TransactionDraft, err *domain.ValidationError) Rejection {
	return Rejection{Draft: d, Err: err, Field: err.Field, Error: err.Error()}
}

func (n *Normalizer) normalizeOne(tenantID string, d *domain.TransactionDraft, ref time.Time) *domain.ValidationError {
	switch {
	case d.TenantID == "":
		d.TenantID = tenantID
	case d.TenantID != tenantID:
		return domain.NewValidationError("tenant_id", d.TenantID, "draft belongs to another tenant")
	}

	if d.AmountText != "" {
		amt, err := parser.ParseAmount(d.AmountText)
		if err != nil {
			return domain.NewValidationError("amount", d.AmountText, "not a number")
		}
		d.Amount = amt
	} else if d.Method == domain.MethodAI && d.Amount.IsZero() {
		return domain.NewValidationError("amount", "", "missing")
	}
	if d.Amount.IsNegative() {
		return domain.NewValidationError("amount", d.Amount.String(), "must not be negative")
	}

	if !d.Direction.Valid() {
		return domain.NewValidationError("direction", string(d.Direction), "unknown direction")
	}

	d.Counterparty = cleanCounterparty(d.Counterparty)
	if d.CounterpartyPhone != nil {
		if phone, ok := NormalizePhone(*d.CounterpartyPhone, n.cfg.CountryCode, n.cfg.SubscriberDigits); ok {
			d.CounterpartyPhone = &phone
		} else {
			d.CounterpartyPhone = nil
		}
	}

	d.RawText = strings.TrimSpace(d.RawText)
	d.Fingerprint = d.ComputeFingerprint()
	d.Timestamp = n.clampTimestamp(d.Timestamp, ref)

	if d.Currency == "" {
		d.Currency = domain.DefaultCurrency
	}
	if d.ReviewStatus == "" {
		d.ReviewStatus = domain.ReviewPending
	}
	return nil
}

func (n *Normalizer) clampTimestamp(ts, ref time.Time) time.Time {
	if ts.IsZero() {
		return ref
	}
	earliest, latest := ref.Add(-n.cfg.MaxAge), ref.Add(n.cfg.FutureSkew)
	switch {
	case ts.Before(earliest):
		return earliest
	case ts.After(latest):
		return latest
	default:
		return ts
	}
}

func dedupeKey(d *domain.TransactionDraft) string {
	return strings.Join([]string{
		d.Amount.StringFixed(2),
		d.Timestamp.Format("2006-01-02"),
		d.Counterparty,
		d.RawText,
	}, "\x00")
}

func cleanCounterparty(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, ".,;:-* ")
	return strings.ToUpper(s)
}

// NormalizePhone converts local and international spellings of a mobile
// number to +<country code><subscriber digits>. Masked numbers such as
// 0712***678 and anything else that is not a full number report false.
func NormalizePhone(raw, countryCode string, subscriberDigits int) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", false
		}
	}
	digits := b.String()

	switch {
	case len(digits) == len(countryCode)+subscriberDigits && strings.HasPrefix(digits, countryCode):
		return "+" + digits, true
	case len(digits) == subscriberDigits+1 && digits[0] == '0':
		return "+" + countryCode + digits[1:], true
	case len(digits) == subscriberDigits && digits[0] != '0':
		return "+" + countryCode + digits, true
	default:
		return "", false
	}
}
