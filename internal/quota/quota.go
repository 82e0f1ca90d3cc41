// Package quota enforces per-tenant, per-capability usage windows.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// Limit caps usage to Max calls per Period.
type Limit struct {
	Period time.Duration `mapstructure:"period" json:"period"`
	Max    int           `mapstructure:"max" json:"max"`
}

// Policy maps capability names to their limits. Tenant entries replace the
// defaults for that capability.
type Policy struct {
	Defaults map[string][]Limit            `mapstructure:"defaults"`
	Tenants  map[string]map[string][]Limit `mapstructure:"tenants"`
}

// LimitsFor returns the limits that apply to tenantID's use of capability.
// No limits means the capability is unmetered.
func (p Policy) LimitsFor(tenantID, capability string) []Limit {
	if overrides, ok := p.Tenants[tenantID]; ok {
		if limits, ok := overrides[capability]; ok {
			return limits
		}
	}
	return p.Defaults[capability]
}

// Window is the active usage window for one granularity.
type Window struct {
	TenantID   string        `json:"tenant_id"`
	Capability string        `json:"capability"`
	Period     time.Duration `json:"period"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Limit      int           `json:"limit"`
	Used       int           `json:"used"`
}

// Expired reports whether the window no longer applies at now.
func (w Window) Expired(now time.Time) bool {
	return !now.Before(w.End)
}

// Decision is the outcome of a check-and-increment.
type Decision struct {
	TenantID   string
	Capability string
	Allowed    bool
	Windows    []Window
	// Limit and ResetAt describe the exhausted window when Allowed is false.
	Limit   int
	ResetAt time.Time
}

// Err returns the denial as a QuotaExceededError, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &domain.QuotaExceededError{
		TenantID:   d.TenantID,
		Capability: d.Capability,
		Limit:      d.Limit,
		ResetAt:    d.ResetAt,
	}
}

// Store holds quota windows. CheckAndIncrement must be atomic across all of
// the given limits: either every window is incremented or none is.
type Store interface {
	CheckAndIncrement(ctx context.Context, tenantID, capability string, limits []Limit, now time.Time) (Decision, error)
	Windows(ctx context.Context, tenantID, capability string, limits []Limit, now time.Time) ([]Window, error)
}

// Manager applies a Policy on top of a Store.
type Manager struct {
	store  Store
	policy Policy
	now    func() time.Time
	log    zerolog.Logger
}

// NewManager creates a quota manager.
func NewManager(store Store, policy Policy, log zerolog.Logger) *Manager {
	return &Manager{store: store, policy: policy, now: time.Now, log: log}
}

// CheckAndIncrement consumes one unit of capability for tenantID if every
// configured window has room. A denial is reported in the Decision, not as
// an error; errors mean the store itself failed.
func (m *Manager) CheckAndIncrement(ctx context.Context, tenantID, capability string) (Decision, error) {
	limits := m.policy.LimitsFor(tenantID, capability)
	if len(limits) == 0 {
		return Decision{TenantID: tenantID, Capability: capability, Allowed: true}, nil
	}

	d, err := m.store.CheckAndIncrement(ctx, tenantID, capability, limits, m.now())
	if err != nil {
		return Decision{}, fmt.Errorf("quota check for %s/%s: %w", tenantID, capability, err)
	}
	if !d.Allowed {
		m.log.Debug().
			Str("tenant_id", tenantID).
			Str("capability", capability).
			Time("reset_at", d.ResetAt).
			Msg("quota denied")
	}
	return d, nil
}

// Usage reports the current windows without consuming anything.
func (m *Manager) Usage(ctx context.Context, tenantID, capability string) ([]Window, error) {
	limits := m.policy.LimitsFor(tenantID, capability)
	if len(limits) == 0 {
		return nil, nil
	}
	windows, err := m.store.Windows(ctx, tenantID, capability, limits, m.now())
	if err != nil {
		return nil, fmt.Errorf("quota usage for %s/%s: %w", tenantID, capability, err)
	}
	return windows, nil
}

// decide applies limits to the current windows. Expired or missing windows
// are replaced by fresh ones starting at now. The returned windows are
// already incremented when the decision allows the call.
func decide(tenantID, capability string, limits []Limit, current []*Window, now time.Time) Decision {
	d := Decision{TenantID: tenantID, Capability: capability, Allowed: true}
	windows := make([]Window, len(limits))

	for i, l := range limits {
		w := Window{
			TenantID:   tenantID,
			Capability: capability,
			Period:     l.Period,
			Start:      now,
			End:        now.Add(l.Period),
			Limit:      l.Max,
		}
		if cur := current[i]; cur != nil && !cur.Expired(now) {
			w.Start, w.End, w.Used = cur.Start, cur.End, cur.Used
		}
		if w.Used >= l.Max {
			d.Allowed = false
			if w.End.After(d.ResetAt) {
				d.ResetAt = w.End
				d.Limit = l.Max
			}
		}
		windows[i] = w
	}

	if d.Allowed {
		for i := range windows {
			windows[i].Used++
		}
	}
	d.Windows = windows
	return d
}
