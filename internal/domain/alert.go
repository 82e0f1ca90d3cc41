package domain

import "time"

// AlertKind is the closed set of anomaly rules.
type AlertKind string

const (
	AlertAmountOutlier AlertKind = "amount-outlier"
	AlertDuplicate     AlertKind = "duplicate"
	AlertVelocity      AlertKind = "velocity"
	AlertOffHours      AlertKind = "off-hours"
	AlertFraudPattern  AlertKind = "known-fraud-pattern"
)

// RuleHit is one rule's contribution to an alert.
type RuleHit struct {
	Kind         AlertKind `json:"kind"`
	Contribution float64   `json:"contribution"`
	Detail       string    `json:"detail"`
}

// AnomalyAlert flags one transaction (and any related ones) as suspicious.
// Alerts are never rewritten; a newer alert for the same transaction marks
// the older one resolved.
type AnomalyAlert struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	TransactionID  string     `json:"transaction_id"`
	TransactionIDs []string   `json:"transaction_ids"`
	Kind           AlertKind  `json:"kind"`
	RiskScore      int        `json:"risk_score"`
	Hits           []RuleHit  `json:"hits"`
	Recommendation string     `json:"recommendation"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}
