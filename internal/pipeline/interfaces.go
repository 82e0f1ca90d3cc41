package pipeline

import (
	"context"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/quota"
)

// AICapability extracts candidate drafts from statement text. Implementations
// live in internal/ai.
type AICapability interface {
	Extract(ctx context.Context, text string) ([]*domain.TransactionDraft, error)
}

// OCRCapability converts an image of statement messages to text.
type OCRCapability interface {
	ImageToText(ctx context.Context, image []byte, mimeType string) (string, error)
}

// QuotaChecker is satisfied by *quota.Manager.
type QuotaChecker interface {
	CheckAndIncrement(ctx context.Context, tenantID, capability string) (quota.Decision, error)
}

// Categorizer assigns categories to drafts in place.
type Categorizer interface {
	CategorizeBatch(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) error
}

// TransactionSaver persists drafts idempotently and reports how many were new.
type TransactionSaver interface {
	SaveTransactions(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) (int, error)
}
