package anomaly

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// Weights is the risk score each rule contributes when it fires.
type Weights struct {
	AmountOutlier int `mapstructure:"amount_outlier"`
	Duplicate     int `mapstructure:"duplicate"`
	Velocity      int `mapstructure:"velocity"`
	OffHours      int `mapstructure:"off_hours"`
	FraudPattern  int `mapstructure:"fraud_pattern"`
}

func (w Weights) of(kind domain.AlertKind) int {
	switch kind {
	case domain.AlertAmountOutlier:
		return w.AmountOutlier
	case domain.AlertDuplicate:
		return w.Duplicate
	case domain.AlertVelocity:
		return w.Velocity
	case domain.AlertOffHours:
		return w.OffHours
	case domain.AlertFraudPattern:
		return w.FraudPattern
	}
	return 0
}

// Signature is a named expression matched against a transaction's
// counterparty, account, reference and raw text.
type Signature struct {
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
}

// Config holds every detection threshold. None of the defaults have been
// validated against real data.
type Config struct {
	// OutlierK is the number of standard deviations above the mean at which
	// an amount becomes an outlier.
	OutlierK float64 `mapstructure:"outlier_k"`
	// MinHistory is the number of other transactions needed before outlier
	// statistics are trusted.
	MinHistory int `mapstructure:"min_history"`
	// MinRelativeDeviation floors the deviation at mean*MinRelativeDeviation
	// so a perfectly regular history does not flag tiny changes.
	MinRelativeDeviation float64 `mapstructure:"min_relative_deviation"`
	// AbsoluteCeiling flags any amount above it. Zero disables the check.
	AbsoluteCeiling float64 `mapstructure:"absolute_ceiling"`

	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
	VelocityWindow  time.Duration `mapstructure:"velocity_window"`
	VelocityMax     int           `mapstructure:"velocity_max"`

	// Business hours are [BusinessStartHour, BusinessEndHour) in Location.
	BusinessStartHour int            `mapstructure:"business_start_hour"`
	BusinessEndHour   int            `mapstructure:"business_end_hour"`
	Location          *time.Location `mapstructure:"-"`

	Weights    Weights     `mapstructure:"weights"`
	Signatures []Signature `mapstructure:"signatures"`
}

// DefaultSignatures are common mobile-money scam shapes.
var DefaultSignatures = []Signature{
	{Name: "reversal-request", Pattern: `(?i)\brevers(e|al)\b`},
	{Name: "wrong-number", Pattern: `(?i)\bwrong\s+(number|transaction|person)\b`},
	{Name: "prize-scam", Pattern: `(?i)\b(prize|winner|lottery|promotion|bonus\s+award)\b`},
	{Name: "fake-customer-care", Pattern: `(?i)\b(customer\s+care|care\s+desk|support\s+agent)\b`},
	{Name: "pin-request", Pattern: `(?i)\b(pin|otp)\s+(reset|verify|verification)\b`},
}

// DefaultConfig returns the standard thresholds in East Africa Time.
func DefaultConfig() Config {
	return Config{
		OutlierK:             3.0,
		MinHistory:           5,
		MinRelativeDeviation: 0.1,
		DuplicateWindow:      5 * time.Minute,
		VelocityWindow:       time.Hour,
		VelocityMax:          5,
		BusinessStartHour:    6,
		BusinessEndHour:      22,
		Location:             time.FixedZone("EAT", 3*60*60),
		Weights: Weights{
			AmountOutlier: 45,
			Duplicate:     35,
			Velocity:      30,
			OffHours:      15,
			FraudPattern:  60,
		},
		Signatures: DefaultSignatures,
	}
}

var recommendations = map[domain.AlertKind]string{
	domain.AlertAmountOutlier: "Amount is far above this business's usual transactions. Confirm the payment with the counterparty before relying on it.",
	domain.AlertDuplicate:     "Two matching transactions were recorded minutes apart. Check whether this is a double entry before booking both.",
	domain.AlertVelocity:      "Unusually many transactions with the same counterparty in a short time. Review them together for splitting or account misuse.",
	domain.AlertOffHours:      "Transaction happened outside normal business hours. Confirm it was authorised.",
	domain.AlertFraudPattern:  "Matches a known mobile-money scam pattern. Do not reverse or resend funds until the counterparty is verified.",
}

type compiledSignature struct {
	name string
	re   *regexp.Regexp
}

func compileSignatures(sigs []Signature) ([]compiledSignature, error) {
	out := make([]compiledSignature, 0, len(sigs))
	for _, s := range sigs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile signature %q: %w", s.Name, err)
		}
		out = append(out, compiledSignature{name: s.Name, re: re})
	}
	return out, nil
}
