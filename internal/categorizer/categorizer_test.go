package categorizer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// MockTransactionStore is a mock implementation of TransactionStore for testing.
type MockTransactionStore struct {
	mu      sync.Mutex
	txs     map[string]*domain.TransactionDraft
	updates int
}

func newMockTransactionStore(drafts ...*domain.TransactionDraft) *MockTransactionStore {
	m := &MockTransactionStore{txs: make(map[string]*domain.TransactionDraft)}
	for _, d := range drafts {
		m.txs[d.TenantID+"/"+d.ID] = d
	}
	return m
}

func (m *MockTransactionStore) QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TransactionDraft
	for _, d := range m.txs {
		if d.TenantID == tenantID && f.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (m *MockTransactionStore) UpdateCategory(ctx context.Context, tenantID, transactionID, category string, confidence float64, status domain.ReviewStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.txs[tenantID+"/"+transactionID]
	if !ok {
		return &domain.NotFoundError{Resource: "transaction", ID: transactionID}
	}
	d.Category = category
	d.CategoryConfidence = confidence
	d.ReviewStatus = status
	m.updates++
	return nil
}

func draft(id string, dir domain.Direction, counterparty string) *domain.TransactionDraft {
	return &domain.TransactionDraft{
		ID:           id,
		TenantID:     "t1",
		Amount:       decimal.NewFromInt(500),
		Direction:    dir,
		Counterparty: counterparty,
		Timestamp:    time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "unigrams and bigrams", in: "Naivas Supermarket", want: []string{"naivas", "supermarket", "naivas supermarket"}},
		{name: "drops stopwords and short words", in: "KPLC PREPAID LTD", want: []string{"kplc", "prepaid", "kplc prepaid"}},
		{name: "drops numbers", in: "PAYBILL 888880 ACC 12345", want: []string{"paybill", "acc", "paybill acc"}},
		{name: "dedupes", in: "rent rent", want: []string{"rent", "rent rent"}},
		{name: "empty", in: "  ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokens(tt.in))
		})
	}
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "stock_purchases", NormalizeCategory("Stock Purchases"))
	assert.Equal(t, "stock_purchases", NormalizeCategory("stock_purchases"))
	assert.Equal(t, "", NormalizeCategory("  "))
}

func TestCategorize_Heuristics(t *testing.T) {
	tests := []struct {
		name       string
		draft      *domain.TransactionDraft
		wantCat    string
		wantSource string
	}{
		{name: "utility paybill", draft: draft("1", domain.DirectionPaybill, "KPLC PREPAID"), wantCat: "utilities", wantSource: SourceHeuristic},
		{name: "received is sales", draft: draft("2", domain.DirectionReceived, "JOHN DOE"), wantCat: "sales", wantSource: SourceHeuristic},
		{name: "airtime", draft: draft("3", domain.DirectionAirtime, ""), wantCat: "airtime_data", wantSource: SourceHeuristic},
		{name: "weak transfer below threshold", draft: draft("4", domain.DirectionSent, "JANE WANJIKU"), wantCat: domain.Uncategorized, wantSource: SourceDefault},
		{name: "nothing matches", draft: draft("5", domain.DirectionPaybill, "ACME"), wantCat: domain.Uncategorized, wantSource: SourceDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(NewMemoryPatternStore(), nil, DefaultConfig(), zerolog.Nop())
			a, err := c.Categorize(context.Background(), "t1", tt.draft)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCat, a.Category)
			assert.Equal(t, tt.wantSource, a.Source)
			assert.GreaterOrEqual(t, a.Confidence, 0.0)
			assert.LessOrEqual(t, a.Confidence, 1.0)
		})
	}
}

func TestCategorize_HeuristicWinSeedsPattern(t *testing.T) {
	store := NewMemoryPatternStore()
	c := New(store, nil, DefaultConfig(), zerolog.Nop())
	ctx := context.Background()

	first, err := c.Categorize(ctx, "t1", draft("1", domain.DirectionPaybill, "KPLC PREPAID"))
	require.NoError(t, err)
	assert.Equal(t, SourceHeuristic, first.Source)

	patterns, err := store.ListPatterns(ctx, "t1", []string{"kplc"})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "utilities", patterns[0].Category)
	assert.Equal(t, 0.5, patterns[0].Weight)
	assert.Equal(t, 1, patterns[0].HitCount)

	second, err := c.Categorize(ctx, "t1", draft("2", domain.DirectionPaybill, "KPLC PREPAID"))
	require.NoError(t, err)
	assert.Equal(t, "utilities", second.Category)
	assert.Equal(t, SourceMixed, second.Source)
	assert.Greater(t, second.Confidence, first.Confidence)

	patterns, err = store.ListPatterns(ctx, "t1", []string{"kplc"})
	require.NoError(t, err)
	assert.Equal(t, 2, patterns[0].HitCount)

	other, err := store.ListPatterns(ctx, "t2", []string{"kplc"})
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestCategorize_TieBreaks(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MinConfidence = 0
	cfg.Heuristics = []Heuristic{}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("longest token wins", func(t *testing.T) {
		store := NewMemoryPatternStore()
		_, err := store.ReinforcePattern(ctx, "t1", "acme", "stock_purchases", 1, base)
		require.NoError(t, err)
		_, err = store.ReinforcePattern(ctx, "t1", "acme hardware", "equipment", 1, base)
		require.NoError(t, err)

		a, err := New(store, nil, cfg, zerolog.Nop()).Categorize(ctx, "t1", draft("1", domain.DirectionPaybill, "ACME HARDWARE"))
		require.NoError(t, err)
		assert.Equal(t, "equipment", a.Category)
		assert.Equal(t, "acme hardware", a.Token)
	})

	t.Run("most recent reinforcement wins", func(t *testing.T) {
		store := NewMemoryPatternStore()
		_, err := store.ReinforcePattern(ctx, "t1", "acme", "stock_purchases", 1, base)
		require.NoError(t, err)
		_, err = store.ReinforcePattern(ctx, "t1", "acme", "equipment", 1, base.Add(time.Hour))
		require.NoError(t, err)

		a, err := New(store, nil, cfg, zerolog.Nop()).Categorize(ctx, "t1", draft("1", domain.DirectionPaybill, "ACME"))
		require.NoError(t, err)
		assert.Equal(t, "equipment", a.Category)
		assert.Equal(t, SourceLearned, a.Source)
	})
}

func TestConfirm_CorrectionChangesFutureOutcome(t *testing.T) {
	ctx := context.Background()
	tx := draft("tx-1", domain.DirectionSent, "JANE WANJIKU")
	tx.Category = domain.Uncategorized
	txs := newMockTransactionStore(tx)
	store := NewMemoryPatternStore()
	c := New(store, txs, DefaultConfig(), zerolog.Nop())

	before, err := c.Categorize(ctx, "t1", draft("x", domain.DirectionSent, "JANE WANJIKU"))
	require.NoError(t, err)
	assert.Equal(t, domain.Uncategorized, before.Category)

	res, err := c.Confirm(ctx, "t1", "tx-1", "Rent")
	require.NoError(t, err)
	assert.Equal(t, "rent", res.Category)
	assert.Equal(t, domain.ReviewCorrected, res.Status)
	require.Len(t, res.Reinforced, 3)
	for _, p := range res.Reinforced {
		assert.Equal(t, 2.0, p.Weight)
	}

	stored, err := txs.QueryTransactions(ctx, "t1", domain.TransactionFilter{IDs: []string{"tx-1"}})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "rent", stored[0].Category)
	assert.Equal(t, domain.ReviewCorrected, stored[0].ReviewStatus)

	after, err := c.Categorize(ctx, "t1", draft("y", domain.DirectionSent, "JANE WANJIKU"))
	require.NoError(t, err)
	assert.Equal(t, "rent", after.Category)
	assert.Equal(t, SourceLearned, after.Source)

	// A second confirmation of the same category is not a correction.
	res, err = c.Confirm(ctx, "t1", "tx-1", "rent")
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewConfirmed, res.Status)
	assert.Equal(t, 3.0, res.Reinforced[0].Weight)

	// Learning is tenant scoped.
	other, err := c.Categorize(ctx, "t2", draft("z", domain.DirectionSent, "JANE WANJIKU"))
	require.NoError(t, err)
	assert.Equal(t, domain.Uncategorized, other.Category)
}

func TestConfirm_Errors(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryPatternStore(), newMockTransactionStore(), DefaultConfig(), zerolog.Nop())

	_, err := c.Confirm(ctx, "t1", "missing", "rent")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	_, err = c.Confirm(ctx, "t1", "tx-1", " ")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = c.Confirm(ctx, "t1", "", "rent")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCategorizeBatch(t *testing.T) {
	c := New(NewMemoryPatternStore(), nil, DefaultConfig(), zerolog.Nop())
	drafts := []*domain.TransactionDraft{
		draft("1", domain.DirectionPaybill, "NAIROBI WATER"),
		draft("2", domain.DirectionAirtime, ""),
	}
	require.NoError(t, c.CategorizeBatch(context.Background(), "t1", drafts))
	assert.Equal(t, "utilities", drafts[0].Category)
	assert.Equal(t, "airtime_data", drafts[1].Category)
	assert.Greater(t, drafts[1].CategoryConfidence, 0.0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.CategorizeBatch(ctx, "t1", drafts), context.Canceled)
}

func TestMemoryPatternStore_ConcurrentReinforce(t *testing.T) {
	store := NewMemoryPatternStore()
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ReinforcePattern(ctx, "t1", "naivas", "stock_purchases", 1, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	patterns, err := store.ListPatterns(ctx, "t1", []string{"naivas"})
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 50.0, patterns[0].Weight)
	assert.Equal(t, 50, patterns[0].HitCount)
}
