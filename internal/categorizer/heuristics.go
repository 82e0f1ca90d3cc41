package categorizer

import "github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"

// Heuristic is a fixed rule that never changes at runtime. A rule with a
// Keyword matches descriptive text; a rule with only a Direction matches
// every transaction of that direction.
type Heuristic struct {
	Keyword   string           `mapstructure:"keyword"`
	Direction domain.Direction `mapstructure:"direction"`
	Category  string           `mapstructure:"category"`
	Weight    float64          `mapstructure:"weight"`
}

// DefaultHeuristics covers common Kenyan small-business counterparties.
var DefaultHeuristics = []Heuristic{
	{Keyword: "kplc", Category: "utilities", Weight: 1.5},
	{Keyword: "kenya power", Category: "utilities", Weight: 1.5},
	{Keyword: "nairobi water", Category: "utilities", Weight: 1.5},
	{Keyword: "zuku", Category: "utilities", Weight: 1.2},
	{Keyword: "rent", Category: "rent", Weight: 1.2},
	{Keyword: "landlord", Category: "rent", Weight: 1.2},
	{Keyword: "naivas", Category: "stock_purchases", Weight: 1.0},
	{Keyword: "quickmart", Category: "stock_purchases", Weight: 1.0},
	{Keyword: "carrefour", Category: "stock_purchases", Weight: 1.0},
	{Keyword: "wholesale", Category: "stock_purchases", Weight: 1.2},
	{Keyword: "distributors", Category: "stock_purchases", Weight: 1.2},
	{Keyword: "uber", Category: "transport", Weight: 1.2},
	{Keyword: "bolt", Category: "transport", Weight: 1.2},
	{Keyword: "fuel", Category: "transport", Weight: 1.0},
	{Keyword: "salary", Category: "salaries", Weight: 1.5},
	{Keyword: "wages", Category: "salaries", Weight: 1.5},
	{Keyword: "fuliza", Category: "loan_repayment", Weight: 1.5},
	{Keyword: "m-shwari", Category: "loan_repayment", Weight: 1.2},
	{Keyword: "loan", Category: "loan_repayment", Weight: 1.2},
	{Keyword: "kra", Category: "taxes", Weight: 1.5},
	{Keyword: "ecitizen", Category: "government_fees", Weight: 1.2},
	{Direction: domain.DirectionReceived, Category: "sales", Weight: 0.8},
	{Direction: domain.DirectionAirtime, Category: "airtime_data", Weight: 3.0},
	{Direction: domain.DirectionWithdrawal, Category: "cash_withdrawal", Weight: 1.0},
	{Direction: domain.DirectionDeposit, Category: "cash_deposit", Weight: 1.0},
	{Direction: domain.DirectionSent, Category: "transfers", Weight: 0.5},
}

func (h Heuristic) matches(d *domain.TransactionDraft, text string) bool {
	if h.Direction != "" && h.Direction != d.Direction {
		return false
	}
	if h.Keyword != "" {
		return containsPhrase(text, h.Keyword)
	}
	return h.Direction != ""
}
