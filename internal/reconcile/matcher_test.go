package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

var day = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func tx(id string, amount string, at time.Time, counterparty string) *domain.TransactionDraft {
	return &domain.TransactionDraft{
		ID:           id,
		TenantID:     "t1",
		Amount:       decimal.RequireFromString(amount),
		Timestamp:    at,
		Counterparty: counterparty,
	}
}

func entry(id string, amount string, at time.Time, counterparty string) domain.LedgerEntry {
	return domain.LedgerEntry{ID: id, Amount: decimal.RequireFromString(amount), Date: at, Counterparty: counterparty}
}

func pairs(res Result) map[string]string {
	out := make(map[string]string)
	for _, p := range res.Matched {
		out[p.TransactionID] = p.EntryID
	}
	return out
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name        string
		txs         []*domain.TransactionDraft
		entries     []domain.LedgerEntry
		want        map[string]string
		unmatchedTx int
		unmatchedE  int
	}{
		{
			name:    "exact amount, same day, similar name",
			txs:     []*domain.TransactionDraft{tx("t1", "1500.00", day, "JOHN DOE")},
			entries: []domain.LedgerEntry{entry("e1", "1500", day.Add(2*time.Hour), "John Doe")},
			want:    map[string]string{"t1": "e1"},
		},
		{
			name:    "sign is ignored",
			txs:     []*domain.TransactionDraft{tx("t1", "-200", day, "KPLC")},
			entries: []domain.LedgerEntry{entry("e1", "200", day, "KPLC")},
			want:    map[string]string{"t1": "e1"},
		},
		{
			name:        "amount mismatch never matches",
			txs:         []*domain.TransactionDraft{tx("t1", "1500", day, "JOHN DOE")},
			entries:     []domain.LedgerEntry{entry("e1", "1500.01", day, "JOHN DOE")},
			want:        map[string]string{},
			unmatchedTx: 1,
			unmatchedE:  1,
		},
		{
			name:        "date outside tolerance never matches",
			txs:         []*domain.TransactionDraft{tx("t1", "1500", day, "JOHN DOE")},
			entries:     []domain.LedgerEntry{entry("e1", "1500", day.Add(49*time.Hour), "JOHN DOE")},
			want:        map[string]string{},
			unmatchedTx: 1,
			unmatchedE:  1,
		},
		{
			name: "counterparty decides between equal amounts",
			txs: []*domain.TransactionDraft{
				tx("t1", "500", day, "MARY WANJIRU"),
				tx("t2", "500", day, "PETER OTIENO"),
			},
			entries: []domain.LedgerEntry{
				entry("e1", "500", day, "Peter Otieno"),
				entry("e2", "500", day, "Mary Wanjiru"),
			},
			want: map[string]string{"t1": "e2", "t2": "e1"},
		},
		{
			name: "each side is consumed once",
			txs: []*domain.TransactionDraft{
				tx("t1", "500", day, "JOHN DOE"),
				tx("t2", "500", day.Add(time.Hour), "JOHN DOE"),
			},
			entries:     []domain.LedgerEntry{entry("e1", "500", day, "JOHN DOE")},
			want:        map[string]string{"t1": "e1"},
			unmatchedTx: 1,
		},
		{
			name: "equal scores go to input order",
			txs: []*domain.TransactionDraft{
				tx("t1", "500", day, ""),
				tx("t2", "500", day, ""),
			},
			entries: []domain.LedgerEntry{
				entry("e1", "500", day, ""),
				entry("e2", "500", day, ""),
			},
			want: map[string]string{"t1": "e1", "t2": "e2"},
		},
		{
			name:       "empty transactions leave every entry unmatched",
			entries:    []domain.LedgerEntry{entry("e1", "1", day, "A"), entry("e2", "2", day, "B")},
			want:       map[string]string{},
			unmatchedE: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Match(tt.txs, tt.entries, DefaultConfig())
			assert.Equal(t, tt.want, pairs(res))
			assert.Len(t, res.UnmatchedTransactions, tt.unmatchedTx)
			assert.Len(t, res.UnmatchedEntries, tt.unmatchedE)
			// Nothing is dropped.
			assert.Equal(t, len(tt.txs), res.Summary.Matched+len(res.UnmatchedTransactions))
			assert.Equal(t, len(tt.entries), res.Summary.Matched+len(res.UnmatchedEntries))
		})
	}
}

func TestMatch_ScoreAndSummary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DateTolerance = 48 * time.Hour
	res := Match(
		[]*domain.TransactionDraft{tx("t1", "1000", day, "ACME"), tx("t2", "250", day, "X")},
		[]domain.LedgerEntry{entry("e1", "1000", day.Add(24*time.Hour), "ACME"), entry("e2", "75", day, "Y")},
		cfg,
	)
	require.Len(t, res.Matched, 1)
	p := res.Matched[0]
	assert.InDelta(t, 0.5+0.25*0.5+0.25, p.Score, 1e-9)
	assert.Equal(t, 24*time.Hour, p.DateDelta)
	assert.Equal(t, 1.0, p.CounterpartySimilarity)

	assert.True(t, res.Summary.MatchedAmount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, res.Summary.UnmatchedTxAmount.Equal(decimal.NewFromInt(250)))
	assert.True(t, res.Summary.UnmatchedLedgerAmt.Equal(decimal.NewFromInt(75)))
}

func TestMatch_DateToleranceIsCalendarDays(t *testing.T) {
	eat := time.FixedZone("EAT", 3*60*60)
	// 02:00 on the 15th in Nairobi is still the 14th in UTC.
	early := time.Date(2025, 1, 15, 2, 0, 0, 0, eat)
	late := time.Date(2025, 1, 15, 23, 30, 0, 0, eat)

	tests := []struct {
		name      string
		at        time.Time
		entryDate time.Time
		tolerance time.Duration
		matched   bool
	}{
		{name: "next ledger day within one day", at: early, entryDate: time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC), tolerance: 24 * time.Hour, matched: true},
		{name: "same ledger day with zero tolerance", at: late, entryDate: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), matched: true},
		{name: "previous ledger day with zero tolerance", at: early, entryDate: time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)},
		{name: "two ledger days with one day tolerance", at: late, entryDate: time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC), tolerance: 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Location = eat
			cfg.DateTolerance = tt.tolerance
			res := Match(
				[]*domain.TransactionDraft{tx("t1", "300", tt.at, "KPLC")},
				[]domain.LedgerEntry{entry("e1", "300", tt.entryDate, "KPLC")},
				cfg,
			)
			assert.Equal(t, tt.matched, len(res.Matched) == 1)
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical after normalization", a: "John  Doe.", b: "JOHN DOE", want: 1},
		{name: "empty side", a: "", b: "JOHN", want: 0},
		{name: "reordered tokens", a: "DOE JOHN", b: "JOHN DOE", want: 1},
		{name: "disjoint", a: "ABC", b: "XYZ", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
		})
	}

	partial := Similarity("NAIVAS SUPERMARKET", "NAIVAS")
	assert.Greater(t, partial, 0.0)
	assert.Less(t, partial, 1.0)
}

type fakeTxs struct {
	txs []*domain.TransactionDraft
}

func (f *fakeTxs) QueryTransactions(ctx context.Context, tenantID string, filter domain.TransactionFilter) ([]*domain.TransactionDraft, error) {
	var out []*domain.TransactionDraft
	for _, tx := range f.txs {
		if tx.TenantID == tenantID && filter.Matches(tx) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func TestReconciler(t *testing.T) {
	store := &fakeTxs{txs: []*domain.TransactionDraft{
		tx("in", "100", day, "A"),
		tx("out-of-period", "100", day.AddDate(0, 1, 0), "A"),
	}}
	r := NewReconciler(store, DefaultConfig(), zerolog.Nop())
	period := domain.Period{Start: day.AddDate(0, 0, -9), End: day.AddDate(0, 0, 21)}

	res, err := r.Reconcile(context.Background(), "t1", period, []domain.LedgerEntry{entry("e1", "100", day, "A")})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"in": "e1"}, pairs(*res))
	assert.Equal(t, 1, res.Summary.Transactions)

	_, err = r.Reconcile(context.Background(), "t1", domain.Period{Start: day, End: day}, nil)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = r.Reconcile(context.Background(), "t1", period, []domain.LedgerEntry{entry("", "1", day, "")})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = r.Reconcile(context.Background(), "t1", period, []domain.LedgerEntry{entry("x", "1", day, ""), entry("x", "2", day, "")})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}
