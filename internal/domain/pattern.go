package domain

import "time"

// CategoryPattern is one learned keyword → category association for a tenant.
type CategoryPattern struct {
	TenantID         string    `json:"tenant_id"`
	Keyword          string    `json:"keyword"`
	Category         string    `json:"category"`
	Weight           float64   `json:"weight"`
	HitCount         int       `json:"hit_count"`
	LastReinforcedAt time.Time `json:"last_reinforced_at"`
	CreatedAt        time.Time `json:"created_at"`
}
