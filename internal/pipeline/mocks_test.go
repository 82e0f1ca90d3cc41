package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/quota"
)

var eat = time.FixedZone("EAT", 3*60*60)

// MockAI is a mock implementation of AICapability for testing.
type MockAI struct {
	ExtractFunc func(ctx context.Context, text string) ([]*domain.TransactionDraft, error)
	calls       int
	mu          sync.Mutex
}

func (m *MockAI) Extract(ctx context.Context, text string) ([]*domain.TransactionDraft, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.ExtractFunc(ctx, text)
}

func (m *MockAI) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockOCR is a mock implementation of OCRCapability for testing.
type MockOCR struct {
	ImageToTextFunc func(ctx context.Context, image []byte, mimeType string) (string, error)
}

func (m *MockOCR) ImageToText(ctx context.Context, image []byte, mimeType string) (string, error) {
	return m.ImageToTextFunc(ctx, image, mimeType)
}

// MockQuota is a mock implementation of QuotaChecker for testing.
type MockQuota struct {
	CheckAndIncrementFunc func(ctx context.Context, tenantID, capability string) (quota.Decision, error)
}

func (m *MockQuota) CheckAndIncrement(ctx context.Context, tenantID, capability string) (quota.Decision, error) {
	return m.CheckAndIncrementFunc(ctx, tenantID, capability)
}

// MockCategorizer is a mock implementation of Categorizer for testing.
type MockCategorizer struct {
	CategorizeBatchFunc func(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) error
}

func (m *MockCategorizer) CategorizeBatch(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) error {
	return m.CategorizeBatchFunc(ctx, tenantID, drafts)
}

// MockSaver records saves and ignores repeated fingerprints.
type MockSaver struct {
	SaveErr error
	mu      sync.Mutex
	seen    map[string]bool
	chunks  int
}

func (m *MockSaver) SaveTransactions(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) (int, error) {
	if m.SaveErr != nil {
		return 0, m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	m.chunks++
	n := 0
	for _, d := range drafts {
		if !m.seen[d.Fingerprint] {
			m.seen[d.Fingerprint] = true
			n++
		}
	}
	return n, nil
}
