package anomaly

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// kindOrder ranks rules for stable hit ordering and for breaking ties when
// choosing the dominant rule.
var kindOrder = []domain.AlertKind{
	domain.AlertFraudPattern,
	domain.AlertAmountOutlier,
	domain.AlertDuplicate,
	domain.AlertVelocity,
	domain.AlertOffHours,
}

func kindRank(k domain.AlertKind) int {
	for i, o := range kindOrder {
		if o == k {
			return i
		}
	}
	return len(kindOrder)
}

type finding struct {
	kind    domain.AlertKind
	detail  string
	related map[string]bool
}

// findings collects rule hits per transaction, one per rule kind.
type findings map[string]map[domain.AlertKind]*finding

func (f findings) add(txID string, kind domain.AlertKind, detail string, related ...string) {
	byKind, ok := f[txID]
	if !ok {
		byKind = make(map[domain.AlertKind]*finding)
		f[txID] = byKind
	}
	h, ok := byKind[kind]
	if !ok {
		h = &finding{kind: kind, detail: detail, related: make(map[string]bool)}
		byKind[kind] = h
	}
	for _, id := range related {
		if id != txID {
			h.related[id] = true
		}
	}
}

func amountOf(d *domain.TransactionDraft) float64 {
	return math.Abs(d.Amount.InexactFloat64())
}

// outliers flags amounts above mean + k*deviation of the other transactions
// in the set, and any amount above the absolute ceiling.
func (d *Detector) outliers(txs []*domain.TransactionDraft, f findings) {
	n := len(txs)
	var sum, sumSq float64
	for _, tx := range txs {
		a := amountOf(tx)
		sum += a
		sumSq += a * a
	}

	for _, tx := range txs {
		x := amountOf(tx)
		if d.cfg.AbsoluteCeiling > 0 && x > d.cfg.AbsoluteCeiling {
			f.add(tx.ID, domain.AlertAmountOutlier, fmt.Sprintf("amount %.2f above ceiling %.2f", x, d.cfg.AbsoluteCeiling))
			continue
		}
		others := n - 1
		if others < d.cfg.MinHistory || others == 0 {
			continue
		}
		mean := (sum - x) / float64(others)
		variance := (sumSq-x*x)/float64(others) - mean*mean
		stddev := math.Sqrt(math.Max(variance, 0))
		dev := math.Max(stddev, mean*d.cfg.MinRelativeDeviation)
		threshold := mean + d.cfg.OutlierK*dev
		if x > threshold {
			f.add(tx.ID, domain.AlertAmountOutlier, fmt.Sprintf("amount %.2f above threshold %.2f (mean %.2f)", x, threshold, mean))
		}
	}
}

// duplicates flags pairs with equal amount and counterparty whose
// timestamps are within the duplicate window. txs must be time ordered.
func (d *Detector) duplicates(txs []*domain.TransactionDraft, f findings) {
	for i, a := range txs {
		for j := i + 1; j < len(txs); j++ {
			b := txs[j]
			if b.Timestamp.Sub(a.Timestamp) > d.cfg.DuplicateWindow {
				break
			}
			if !a.Amount.Abs().Equal(b.Amount.Abs()) || !strings.EqualFold(a.Counterparty, b.Counterparty) {
				continue
			}
			gap := b.Timestamp.Sub(a.Timestamp)
			f.add(a.ID, domain.AlertDuplicate, fmt.Sprintf("same amount and counterparty %s apart", gap), b.ID)
			f.add(b.ID, domain.AlertDuplicate, fmt.Sprintf("same amount and counterparty %s apart", gap), a.ID)
		}
	}
}

// velocity flags every transaction in a run of more than VelocityMax
// transactions with one counterparty inside VelocityWindow. txs must be
// time ordered.
func (d *Detector) velocity(txs []*domain.TransactionDraft, f findings) {
	groups := make(map[string][]*domain.TransactionDraft)
	for _, tx := range txs {
		key := strings.ToUpper(strings.TrimSpace(tx.Counterparty))
		if key == "" {
			continue
		}
		groups[key] = append(groups[key], tx)
	}

	for key, group := range groups {
		if len(group) <= d.cfg.VelocityMax {
			continue
		}
		start := 0
		for end := range group {
			for group[end].Timestamp.Sub(group[start].Timestamp) > d.cfg.VelocityWindow {
				start++
			}
			count := end - start + 1
			if count <= d.cfg.VelocityMax {
				continue
			}
			window := group[start : end+1]
			ids := make([]string, len(window))
			for i, tx := range window {
				ids[i] = tx.ID
			}
			detail := fmt.Sprintf("%d transactions with %s within %s", count, key, d.cfg.VelocityWindow)
			for _, tx := range window {
				f.add(tx.ID, domain.AlertVelocity, detail, ids...)
			}
		}
	}
}

func (d *Detector) offHours(txs []*domain.TransactionDraft, f findings) {
	start, end := d.cfg.BusinessStartHour, d.cfg.BusinessEndHour
	if start == end {
		return
	}
	for _, tx := range txs {
		local := tx.Timestamp.In(d.loc)
		h := local.Hour()
		var off bool
		if start < end {
			off = h < start || h >= end
		} else {
			off = h < start && h >= end
		}
		if off {
			f.add(tx.ID, domain.AlertOffHours, fmt.Sprintf("at %s, business hours %02d:00-%02d:00", local.Format("15:04"), start, end))
		}
	}
}

func (d *Detector) fraudPatterns(txs []*domain.TransactionDraft, f findings) {
	for _, tx := range txs {
		text := strings.Join([]string{tx.Counterparty, tx.Account, tx.Reference, tx.RawText}, " ")
		var names []string
		for _, s := range d.signatures {
			if s.re.MatchString(text) {
				names = append(names, s.name)
			}
		}
		if len(names) > 0 {
			f.add(tx.ID, domain.AlertFraudPattern, "matches "+strings.Join(names, ", "))
		}
	}
}

// hits returns a transaction's findings in rank order with their weights.
func (d *Detector) hits(byKind map[domain.AlertKind]*finding) ([]domain.RuleHit, []string) {
	kinds := make([]domain.AlertKind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kindRank(kinds[i]) < kindRank(kinds[j]) })

	related := make(map[string]bool)
	out := make([]domain.RuleHit, 0, len(kinds))
	for _, k := range kinds {
		h := byKind[k]
		out = append(out, domain.RuleHit{Kind: k, Contribution: float64(d.cfg.Weights.of(k)), Detail: h.detail})
		for id := range h.related {
			related[id] = true
		}
	}
	ids := make([]string, 0, len(related))
	for id := range related {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return out, ids
}

// dominant is the hit with the largest contribution; ties go to the
// higher-ranked rule since hits are already in rank order.
func dominant(hits []domain.RuleHit) domain.AlertKind {
	best := hits[0]
	for _, h := range hits[1:] {
		if h.Contribution > best.Contribution {
			best = h
		}
	}
	return best.Kind
}
