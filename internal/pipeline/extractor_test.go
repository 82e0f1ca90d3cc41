package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/logger"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/parser"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/quota"
)

const statement = "received Ksh500.00 from JOHN DOE on 15/1/25\n" +
	"QBC2DE3FG4 Confirmed. Ksh200.00 sent to JANE WANJIKU 0722000111 on 16/1/25 at 2:15 PM.\n" +
	"Dear customer, M-PESA will be unavailable tonight"

func newTestExtractor(ai AICapability, ocr OCRCapability, q QuotaChecker) *Extractor {
	return NewExtractor(parser.New(eat), ai, ocr, q, ExtractorConfig{AITimeout: 50 * time.Millisecond, OCRTimeout: 50 * time.Millisecond}, logger.Nop())
}

func TestExtract_RuleBasedOnly(t *testing.T) {
	e := newTestExtractor(nil, nil, nil)

	res, err := e.Extract(context.Background(), "tenant-1", statement)
	require.NoError(t, err)

	require.Len(t, res.Drafts, 2)
	assert.Equal(t, domain.MethodRuleBased, res.Method)
	assert.False(t, res.AI.Attempted)
	assert.Equal(t, domain.KindCapabilityUnavailable, res.AI.FallbackKind)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 3, res.Skipped[0].Line)

	for _, d := range res.Drafts {
		assert.Equal(t, "tenant-1", d.TenantID)
		assert.NotEmpty(t, d.ID)
	}
	assert.InDelta(t, (0.75+1.0)/2, res.Confidence, 1e-9)
}

func TestExtract_FallsBackWhenAIFails(t *testing.T) {
	tests := []struct {
		name     string
		extract  func(ctx context.Context, text string) ([]*domain.TransactionDraft, error)
		wantKind domain.ErrorKind
	}{
		{
			name: "error",
			extract: func(ctx context.Context, text string) ([]*domain.TransactionDraft, error) {
				return nil, errors.New("model overloaded")
			},
			wantKind: domain.KindCapabilityUnavailable,
		},
		{
			name: "timeout",
			extract: func(ctx context.Context, text string) ([]*domain.TransactionDraft, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			wantKind: domain.KindTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExtractor(&MockAI{ExtractFunc: tt.extract}, nil, nil)

			res, err := e.Extract(context.Background(), "tenant-1", statement)
			require.NoError(t, err)

			assert.Len(t, res.Drafts, 2, "rule-based drafts must survive an AI failure")
			assert.True(t, res.AI.Attempted)
			assert.False(t, res.AI.Used)
			assert.Equal(t, tt.wantKind, res.AI.FallbackKind)
			assert.NotEmpty(t, res.AI.FallbackReason)
			assert.Equal(t, domain.MethodRuleBased, res.Method)
		})
	}
}

func TestExtract_QuotaExhaustedSkipsAI(t *testing.T) {
	reset := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)
	ai := &MockAI{ExtractFunc: func(context.Context, string) ([]*domain.TransactionDraft, error) {
		t.Fatal("ai must not be called when quota is exhausted")
		return nil, nil
	}}
	q := &MockQuota{CheckAndIncrementFunc: func(ctx context.Context, tenantID, capability string) (quota.Decision, error) {
		assert.Equal(t, domain.CapabilityAI, capability)
		return quota.Decision{TenantID: tenantID, Capability: capability, Allowed: false, Limit: 5, ResetAt: reset}, nil
	}}

	res, err := newTestExtractor(ai, nil, q).Extract(context.Background(), "tenant-1", statement)
	require.NoError(t, err)

	assert.Len(t, res.Drafts, 2)
	assert.Equal(t, domain.KindQuotaExceeded, res.AI.FallbackKind)
	require.NotNil(t, res.AI.QuotaResetAt)
	assert.True(t, reset.Equal(*res.AI.QuotaResetAt))
	assert.Equal(t, 0, ai.Calls())
}

func TestExtract_MergesAIAndRuleDrafts(t *testing.T) {
	ai := &MockAI{ExtractFunc: func(ctx context.Context, text string) ([]*domain.TransactionDraft, error) {
		return []*domain.TransactionDraft{
			{
				// Same event as line 1 but the model lost the counterparty.
				Amount:     decimal.RequireFromString("500"),
				AmountText: "500",
				Timestamp:  time.Date(2025, 1, 15, 9, 0, 0, 0, eat),
				Direction:  domain.DirectionReceived,
				Confidence: 0.9,
				Method:     domain.MethodAI,
			},
			{
				// Only the model saw this one.
				Amount:       decimal.RequireFromString("75"),
				AmountText:   "75",
				Direction:    domain.DirectionAirtime,
				Counterparty: "",
				Confidence:   1,
				Method:       domain.MethodAI,
			},
		}, nil
	}}

	res, err := newTestExtractor(ai, nil, nil).Extract(context.Background(), "tenant-1", statement)
	require.NoError(t, err)
	require.Len(t, res.Drafts, 3)

	merged := res.Drafts[0]
	assert.Equal(t, domain.MethodHybrid, merged.Method)
	assert.Equal(t, "JOHN DOE", merged.Counterparty, "empty AI counterparty inherits the rule-based one")
	assert.Equal(t, 0.9, merged.Confidence, "AI draft wins")
	assert.Equal(t, 1, merged.LineNumber)

	assert.Equal(t, domain.MethodRuleBased, res.Drafts[1].Method)
	assert.Equal(t, "JANE WANJIKU", res.Drafts[1].Counterparty)

	assert.Equal(t, domain.MethodAI, res.Drafts[2].Method)
	assert.True(t, decimal.RequireFromString("75").Equal(res.Drafts[2].Amount))

	assert.True(t, res.AI.Used)
	assert.Equal(t, domain.MethodHybrid, res.Method)
}

func TestExtract_DifferentDayIsNotMerged(t *testing.T) {
	ai := &MockAI{ExtractFunc: func(ctx context.Context, text string) ([]*domain.TransactionDraft, error) {
		return []*domain.TransactionDraft{{
			Amount:       decimal.RequireFromString("500"),
			Timestamp:    time.Date(2025, 1, 20, 9, 0, 0, 0, eat),
			Direction:    domain.DirectionReceived,
			Counterparty: "JOHN DOE",
			Confidence:   1,
			Method:       domain.MethodAI,
		}}, nil
	}}

	res, err := newTestExtractor(ai, nil, nil).Extract(context.Background(), "tenant-1", "received Ksh500.00 from JOHN DOE on 15/1/25")
	require.NoError(t, err)

	require.Len(t, res.Drafts, 2)
	assert.Equal(t, domain.MethodRuleBased, res.Drafts[0].Method)
	assert.Equal(t, domain.MethodAI, res.Drafts[1].Method)
}

func TestExtract_Idempotent(t *testing.T) {
	e := newTestExtractor(nil, nil, nil)

	first, err := e.Extract(context.Background(), "tenant-1", statement)
	require.NoError(t, err)
	second, err := e.Extract(context.Background(), "tenant-1", statement)
	require.NoError(t, err)

	require.Equal(t, len(first.Drafts), len(second.Drafts))
	for i := range first.Drafts {
		a, b := first.Drafts[i], second.Drafts[i]
		assert.NotEqual(t, a.ID, b.ID)
		assert.True(t, a.Amount.Equal(b.Amount))
		assert.Equal(t, a.Direction, b.Direction)
		assert.Equal(t, a.Counterparty, b.Counterparty)
		assert.True(t, a.Timestamp.Equal(b.Timestamp))
	}
}

func TestExtract_Validation(t *testing.T) {
	e := newTestExtractor(nil, nil, nil)

	_, err := e.Extract(context.Background(), "", statement)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = e.Extract(context.Background(), "tenant-1", "   ")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestExtractImage(t *testing.T) {
	okOCR := &MockOCR{ImageToTextFunc: func(ctx context.Context, image []byte, mimeType string) (string, error) {
		return "received Ksh500.00 from JOHN DOE on 15/1/25", nil
	}}
	allow := &MockQuota{CheckAndIncrementFunc: func(ctx context.Context, tenantID, capability string) (quota.Decision, error) {
		return quota.Decision{Allowed: true}, nil
	}}
	deny := &MockQuota{CheckAndIncrementFunc: func(ctx context.Context, tenantID, capability string) (quota.Decision, error) {
		return quota.Decision{TenantID: tenantID, Capability: capability, Allowed: false, ResetAt: time.Now().Add(time.Hour)}, nil
	}}

	t.Run("success", func(t *testing.T) {
		res, err := newTestExtractor(nil, okOCR, allow).ExtractImage(context.Background(), "tenant-1", []byte("img"), "image/png")
		require.NoError(t, err)
		require.Len(t, res.Drafts, 1)
		assert.Equal(t, "JOHN DOE", res.Drafts[0].Counterparty)
	})

	t.Run("not configured", func(t *testing.T) {
		_, err := newTestExtractor(nil, nil, allow).ExtractImage(context.Background(), "tenant-1", []byte("img"), "image/png")
		assert.Equal(t, domain.KindCapabilityUnavailable, domain.KindOf(err))
	})

	t.Run("quota exhausted", func(t *testing.T) {
		_, err := newTestExtractor(nil, okOCR, deny).ExtractImage(context.Background(), "tenant-1", []byte("img"), "image/png")
		assert.Equal(t, domain.KindQuotaExceeded, domain.KindOf(err))
	})

	t.Run("ocr failure", func(t *testing.T) {
		broken := &MockOCR{ImageToTextFunc: func(context.Context, []byte, string) (string, error) {
			return "", errors.New("vision model down")
		}}
		_, err := newTestExtractor(nil, broken, nil).ExtractImage(context.Background(), "tenant-1", []byte("img"), "image/png")
		assert.Equal(t, domain.KindCapabilityUnavailable, domain.KindOf(err))
	})
}
