// Package reconcile matches stored transactions against a business's own
// ledger entries. Match is a pure function of its inputs.
package reconcile

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// Config weights the parts of a pair's score. Amount must agree exactly and
// the calendar dates must be at most DateTolerance whole days apart for a
// pair to be a candidate. A transaction's date is its day in Location; a
// ledger entry's date is the day it carries.
type Config struct {
	DateTolerance      time.Duration  `mapstructure:"date_tolerance"`
	AmountWeight       float64        `mapstructure:"amount_weight"`
	DateWeight         float64        `mapstructure:"date_weight"`
	CounterpartyWeight float64        `mapstructure:"counterparty_weight"`
	Location           *time.Location `mapstructure:"-"`
}

// DefaultConfig allows one day of date drift.
func DefaultConfig() Config {
	return Config{
		DateTolerance:      24 * time.Hour,
		AmountWeight:       0.5,
		DateWeight:         0.25,
		CounterpartyWeight: 0.25,
		Location:           time.FixedZone("EAT", 3*60*60),
	}
}

// Pair is one matched transaction and ledger entry.
type Pair struct {
	TransactionID          string          `json:"transaction_id"`
	EntryID                string          `json:"entry_id"`
	Amount                 decimal.Decimal `json:"amount"`
	Score                  float64         `json:"score"`
	DateDelta              time.Duration   `json:"date_delta"`
	CounterpartySimilarity float64         `json:"counterparty_similarity"`
}

// Summary totals a reconciliation.
type Summary struct {
	Transactions       int             `json:"transactions"`
	Entries            int             `json:"entries"`
	Matched            int             `json:"matched"`
	MatchedAmount      decimal.Decimal `json:"matched_amount"`
	UnmatchedTxAmount  decimal.Decimal `json:"unmatched_transaction_amount"`
	UnmatchedLedgerAmt decimal.Decimal `json:"unmatched_entry_amount"`
}

// Result lists every input exactly once: either in a pair or as unmatched.
type Result struct {
	Matched               []Pair                     `json:"matched"`
	UnmatchedTransactions []*domain.TransactionDraft `json:"unmatched_transactions"`
	UnmatchedEntries      []domain.LedgerEntry       `json:"unmatched_entries"`
	Summary               Summary                    `json:"summary"`
}

type candidate struct {
	tx, entry int
	score     float64
	delta     time.Duration
	sim       float64
}

// Match pairs transactions with ledger entries greedily in descending score
// order. Ties go to the smaller date delta, then to input order.
func Match(txs []*domain.TransactionDraft, entries []domain.LedgerEntry, cfg Config) Result {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	tolerance := int(cfg.DateTolerance / (24 * time.Hour))

	var cands []candidate
	for i, tx := range txs {
		amount := tx.Amount.Abs()
		txDay := civil.DateOf(tx.Timestamp.In(loc))
		for j, e := range entries {
			if !amount.Equal(e.Amount.Abs()) {
				continue
			}
			days := absDays(txDay.DaysSince(civil.DateOf(e.Date)))
			if days > tolerance {
				continue
			}
			dateScore := 1.0
			if tolerance > 0 {
				dateScore = 1 - float64(days)/float64(tolerance)
			}
			delta := absDuration(tx.Timestamp.Sub(e.Date))
			sim := Similarity(tx.Counterparty, e.Counterparty)
			cands = append(cands, candidate{
				tx:    i,
				entry: j,
				score: cfg.AmountWeight + cfg.DateWeight*dateScore + cfg.CounterpartyWeight*sim,
				delta: delta,
				sim:   sim,
			})
		}
	}

	sort.SliceStable(cands, func(a, b int) bool {
		ca, cb := cands[a], cands[b]
		if ca.score != cb.score {
			return ca.score > cb.score
		}
		if ca.delta != cb.delta {
			return ca.delta < cb.delta
		}
		if ca.tx != cb.tx {
			return ca.tx < cb.tx
		}
		return ca.entry < cb.entry
	})

	usedTx := make([]bool, len(txs))
	usedEntry := make([]bool, len(entries))
	res := Result{Matched: []Pair{}, UnmatchedTransactions: []*domain.TransactionDraft{}, UnmatchedEntries: []domain.LedgerEntry{}}
	for _, c := range cands {
		if usedTx[c.tx] || usedEntry[c.entry] {
			continue
		}
		usedTx[c.tx], usedEntry[c.entry] = true, true
		tx := txs[c.tx]
		res.Matched = append(res.Matched, Pair{
			TransactionID:          tx.ID,
			EntryID:                entries[c.entry].ID,
			Amount:                 tx.Amount.Abs(),
			Score:                  c.score,
			DateDelta:              c.delta,
			CounterpartySimilarity: c.sim,
		})
		res.Summary.MatchedAmount = res.Summary.MatchedAmount.Add(tx.Amount.Abs())
	}

	for i, tx := range txs {
		if !usedTx[i] {
			res.UnmatchedTransactions = append(res.UnmatchedTransactions, tx)
			res.Summary.UnmatchedTxAmount = res.Summary.UnmatchedTxAmount.Add(tx.Amount.Abs())
		}
	}
	for j, e := range entries {
		if !usedEntry[j] {
			res.UnmatchedEntries = append(res.UnmatchedEntries, e)
			res.Summary.UnmatchedLedgerAmt = res.Summary.UnmatchedLedgerAmt.Add(e.Amount.Abs())
		}
	}

	res.Summary.Transactions = len(txs)
	res.Summary.Entries = len(entries)
	res.Summary.Matched = len(res.Matched)
	return res
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func absDays(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Similarity scores two counterparty names in [0, 1] as the better of token
// overlap and normalized edit distance. An empty name scores 0.
func Similarity(a, b string) float64 {
	ta, tb := nameTokens(a), nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(ta))
	for _, t := range ta {
		setA[t] = true
	}
	union := len(setA)
	inter := 0
	seenB := make(map[string]bool, len(tb))
	for _, t := range tb {
		if seenB[t] {
			continue
		}
		seenB[t] = true
		if setA[t] {
			inter++
		} else {
			union++
		}
	}
	jaccard := float64(inter) / float64(union)

	na, nb := strings.Join(ta, " "), strings.Join(tb, " ")
	maxLen := max(len([]rune(na)), len([]rune(nb)))
	edit := 1 - float64(levenshtein.ComputeDistance(na, nb))/float64(maxLen)

	return max(jaccard, edit)
}

func nameTokens(s string) []string {
	return strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
