// Package inmemory is a process-local store for transactions and alerts.
// Data is lost on restart; use the SQLite store for persistence.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// Store keeps each tenant's records behind that tenant's own lock.
type Store struct {
	tenants sync.Map // tenant id -> *tenantData
	now     func() time.Time
}

type tenantData struct {
	mu            sync.RWMutex
	txs           []*domain.TransactionDraft
	byID          map[string]*domain.TransactionDraft
	byFingerprint map[string]bool
	alerts        []*domain.AnomalyAlert
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) tenant(id string) *tenantData {
	if td, ok := s.tenants.Load(id); ok {
		return td.(*tenantData)
	}
	td, _ := s.tenants.LoadOrStore(id, &tenantData{
		byID:          make(map[string]*domain.TransactionDraft),
		byFingerprint: make(map[string]bool),
	})
	return td.(*tenantData)
}

// SaveTransactions stores drafts whose fingerprint is new for the tenant and
// returns how many were stored.
func (s *Store) SaveTransactions(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) (int, error) {
	td := s.tenant(tenantID)
	td.mu.Lock()
	defer td.mu.Unlock()

	now := s.now()
	saved := 0
	for _, d := range drafts {
		c := d.Clone()
		c.TenantID = tenantID
		if c.Fingerprint == "" {
			c.Fingerprint = c.ComputeFingerprint()
		}
		if td.byFingerprint[c.Fingerprint] {
			continue
		}
		if _, exists := td.byID[c.ID]; exists {
			continue
		}
		if c.ReviewStatus == "" {
			c.ReviewStatus = domain.ReviewPending
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		td.byFingerprint[c.Fingerprint] = true
		td.byID[c.ID] = c
		td.txs = append(td.txs, c)
		saved++
	}
	return saved, nil
}

// QueryTransactions returns matching transactions in timestamp order.
func (s *Store) QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error) {
	td := s.tenant(tenantID)
	td.mu.RLock()
	defer td.mu.RUnlock()

	var out []*domain.TransactionDraft
	for _, d := range td.txs {
		if f.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// UpdateCategory sets the category fields of one stored transaction.
func (s *Store) UpdateCategory(ctx context.Context, tenantID, transactionID, category string, confidence float64, status domain.ReviewStatus) error {
	td := s.tenant(tenantID)
	td.mu.Lock()
	defer td.mu.Unlock()

	d, ok := td.byID[transactionID]
	if !ok {
		return &domain.NotFoundError{Resource: "transaction", ID: transactionID}
	}
	d.Category = category
	d.CategoryConfidence = confidence
	d.ReviewStatus = status
	return nil
}

// SaveAlerts appends alerts.
func (s *Store) SaveAlerts(ctx context.Context, tenantID string, alerts []*domain.AnomalyAlert) error {
	td := s.tenant(tenantID)
	td.mu.Lock()
	defer td.mu.Unlock()

	td.addAlerts(tenantID, alerts)
	return nil
}

// ResolveAlerts marks open alerts for the given transactions resolved.
func (s *Store) ResolveAlerts(ctx context.Context, tenantID string, transactionIDs []string, at time.Time) (int, error) {
	td := s.tenant(tenantID)
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.resolveAlerts(transactionIDs, at), nil
}

// ReplaceAlerts resolves and saves under one lock hold.
func (s *Store) ReplaceAlerts(ctx context.Context, tenantID string, transactionIDs []string, alerts []*domain.AnomalyAlert, at time.Time) (int, error) {
	td := s.tenant(tenantID)
	td.mu.Lock()
	defer td.mu.Unlock()

	n := td.resolveAlerts(transactionIDs, at)
	td.addAlerts(tenantID, alerts)
	return n, nil
}

func (td *tenantData) resolveAlerts(transactionIDs []string, at time.Time) int {
	ids := make(map[string]bool, len(transactionIDs))
	for _, id := range transactionIDs {
		ids[id] = true
	}
	n := 0
	for _, a := range td.alerts {
		if a.ResolvedAt == nil && ids[a.TransactionID] {
			resolved := at
			a.ResolvedAt = &resolved
			n++
		}
	}
	return n
}

func (td *tenantData) addAlerts(tenantID string, alerts []*domain.AnomalyAlert) {
	for _, a := range alerts {
		c := *a
		c.TenantID = tenantID
		td.alerts = append(td.alerts, &c)
	}
}

// ListAlerts returns alerts highest risk first.
func (s *Store) ListAlerts(ctx context.Context, tenantID string, openOnly bool) ([]*domain.AnomalyAlert, error) {
	td := s.tenant(tenantID)
	td.mu.RLock()
	defer td.mu.RUnlock()

	var out []*domain.AnomalyAlert
	for _, a := range td.alerts {
		if openOnly && a.ResolvedAt != nil {
			continue
		}
		c := *a
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
