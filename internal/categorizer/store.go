package categorizer

import (
	"context"
	"sync"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// PatternStore holds the learned, tenant-scoped keyword table. Updates must
// be atomic per pattern; concurrent reinforcement never loses an increment.
type PatternStore interface {
	// ListPatterns returns the tenant's patterns whose keyword is in keywords.
	ListPatterns(ctx context.Context, tenantID string, keywords []string) ([]domain.CategoryPattern, error)
	// SeedPattern creates a pattern with weight if none exists for (keyword, category).
	SeedPattern(ctx context.Context, tenantID, keyword, category string, weight float64, at time.Time) error
	// RecordHit increments the hit count of an existing pattern.
	RecordHit(ctx context.Context, tenantID, keyword, category string) error
	// ReinforcePattern adds increment to the weight, creating the pattern if needed.
	ReinforcePattern(ctx context.Context, tenantID, keyword, category string, increment float64, at time.Time) (domain.CategoryPattern, error)
}

// MemoryPatternStore keeps patterns in process with one lock per tenant.
type MemoryPatternStore struct {
	tenants sync.Map // tenant -> *tenantPatterns
}

type tenantPatterns struct {
	mu       sync.Mutex
	patterns map[string]map[string]*domain.CategoryPattern // keyword -> category -> pattern
}

// NewMemoryPatternStore creates an empty pattern store.
func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{}
}

func (s *MemoryPatternStore) tenant(tenantID string) *tenantPatterns {
	if tp, ok := s.tenants.Load(tenantID); ok {
		return tp.(*tenantPatterns)
	}
	tp, _ := s.tenants.LoadOrStore(tenantID, &tenantPatterns{patterns: make(map[string]map[string]*domain.CategoryPattern)})
	return tp.(*tenantPatterns)
}

func (s *MemoryPatternStore) ListPatterns(ctx context.Context, tenantID string, keywords []string) ([]domain.CategoryPattern, error) {
	tp := s.tenant(tenantID)
	tp.mu.Lock()
	defer tp.mu.Unlock()

	var out []domain.CategoryPattern
	for _, k := range keywords {
		for _, p := range tp.patterns[k] {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *MemoryPatternStore) SeedPattern(ctx context.Context, tenantID, keyword, category string, weight float64, at time.Time) error {
	tp := s.tenant(tenantID)
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.get(keyword, category) != nil {
		return nil
	}
	tp.put(&domain.CategoryPattern{
		TenantID:         tenantID,
		Keyword:          keyword,
		Category:         category,
		Weight:           weight,
		HitCount:         1,
		LastReinforcedAt: at,
		CreatedAt:        at,
	})
	return nil
}

func (s *MemoryPatternStore) RecordHit(ctx context.Context, tenantID, keyword, category string) error {
	tp := s.tenant(tenantID)
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if p := tp.get(keyword, category); p != nil {
		p.HitCount++
	}
	return nil
}

func (s *MemoryPatternStore) ReinforcePattern(ctx context.Context, tenantID, keyword, category string, increment float64, at time.Time) (domain.CategoryPattern, error) {
	tp := s.tenant(tenantID)
	tp.mu.Lock()
	defer tp.mu.Unlock()

	p := tp.get(keyword, category)
	if p == nil {
		p = &domain.CategoryPattern{TenantID: tenantID, Keyword: keyword, Category: category, CreatedAt: at}
		tp.put(p)
	}
	p.Weight += increment
	p.HitCount++
	p.LastReinforcedAt = at
	return *p, nil
}

func (tp *tenantPatterns) get(keyword, category string) *domain.CategoryPattern {
	return tp.patterns[keyword][category]
}

func (tp *tenantPatterns) put(p *domain.CategoryPattern) {
	byCat, ok := tp.patterns[p.Keyword]
	if !ok {
		byCat = make(map[string]*domain.CategoryPattern)
		tp.patterns[p.Keyword] = byCat
	}
	byCat[p.Category] = p
}

var _ PatternStore = (*MemoryPatternStore)(nil)
