package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in process. Each (tenant, capability) pair has
// its own mutex; there is no lock shared across keys.
type MemoryStore struct {
	entries sync.Map // string -> *memoryEntry
}

type memoryEntry struct {
	mu      sync.Mutex
	windows map[time.Duration]*Window
}

// NewMemoryStore creates an empty in-process quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) entry(tenantID, capability string) *memoryEntry {
	key := tenantID + "\x00" + capability
	if e, ok := s.entries.Load(key); ok {
		return e.(*memoryEntry)
	}
	e, _ := s.entries.LoadOrStore(key, &memoryEntry{windows: make(map[time.Duration]*Window)})
	return e.(*memoryEntry)
}

// CheckAndIncrement implements Store.
func (s *MemoryStore) CheckAndIncrement(ctx context.Context, tenantID, capability string, limits []Limit, now time.Time) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	e := s.entry(tenantID, capability)
	e.mu.Lock()
	defer e.mu.Unlock()

	current := make([]*Window, len(limits))
	for i, l := range limits {
		current[i] = e.windows[l.Period]
	}

	d := decide(tenantID, capability, limits, current, now)
	for i := range d.Windows {
		w := d.Windows[i]
		e.windows[w.Period] = &w
	}
	return d, nil
}

// Windows implements Store.
func (s *MemoryStore) Windows(ctx context.Context, tenantID, capability string, limits []Limit, now time.Time) ([]Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := s.entry(tenantID, capability)
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Window, 0, len(limits))
	for _, l := range limits {
		w := Window{TenantID: tenantID, Capability: capability, Period: l.Period, Limit: l.Max, Start: now, End: now.Add(l.Period)}
		if cur := e.windows[l.Period]; cur != nil && !cur.Expired(now) {
			w.Start, w.End, w.Used = cur.Start, cur.End, cur.Used
		}
		out = append(out, w)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
