package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/parser"
)

// candidate is one transaction as returned by a model.
type candidate struct {
	Date         string     `json:"date"`
	Time         string     `json:"time"`
	Amount       flexString `json:"amount"`
	Direction    string     `json:"direction"`
	Counterparty string     `json:"counterparty"`
	Phone        *string    `json:"phone"`
	Reference    string     `json:"reference"`
	Account      string     `json:"account"`
	RawText      string     `json:"raw_text"`
	Confidence   *float64   `json:"confidence"`
}

// flexString accepts a JSON string, number or null. Models are not
// consistent about quoting amounts.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	*f = flexString(s)
	return nil
}

var directionAliases = map[string]domain.Direction{
	"received":   domain.DirectionReceived,
	"receive":    domain.DirectionReceived,
	"in":         domain.DirectionReceived,
	"sent":       domain.DirectionSent,
	"send":       domain.DirectionSent,
	"paybill":    domain.DirectionPaybill,
	"till":       domain.DirectionTill,
	"buy_goods":  domain.DirectionTill,
	"withdrawal": domain.DirectionWithdrawal,
	"withdraw":   domain.DirectionWithdrawal,
	"deposit":    domain.DirectionDeposit,
	"airtime":    domain.DirectionAirtime,
}

// parseCandidates decodes model output that is either a bare JSON array or
// an object with a "transactions" array.
func parseCandidates(raw string) ([]candidate, error) {
	clean := cleanModelJSON(raw)
	if clean == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	var list []candidate
	if strings.HasPrefix(clean, "[") {
		if err := json.Unmarshal([]byte(clean), &list); err != nil {
			return nil, fmt.Errorf("unmarshal JSON array: %w", err)
		}
		return list, nil
	}

	var wrapped struct {
		Transactions []candidate `json:"transactions"`
	}
	if err := json.Unmarshal([]byte(clean), &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal JSON object: %w", err)
	}
	return wrapped.Transactions, nil
}

// toDrafts converts model candidates into drafts. Fields the model got wrong
// are passed through as text so the validator can reject the draft with the
// offending field rather than the whole response being discarded.
func toDrafts(cands []candidate, loc *time.Location) []*domain.TransactionDraft {
	drafts := make([]*domain.TransactionDraft, 0, len(cands))
	for _, c := range cands {
		d := &domain.TransactionDraft{
			AmountText:   string(c.Amount),
			Currency:     domain.DefaultCurrency,
			Direction:    normalizeDirection(c.Direction),
			Counterparty: strings.TrimSpace(c.Counterparty),
			Reference:    strings.ToUpper(strings.TrimSpace(c.Reference)),
			Account:      strings.TrimSpace(c.Account),
			RawText:      strings.TrimSpace(c.RawText),
			Confidence:   1.0,
			Method:       domain.MethodAI,
		}
		if amt, err := parser.ParseAmount(string(c.Amount)); err == nil {
			d.Amount = amt
		}
		if c.Phone != nil && strings.TrimSpace(*c.Phone) != "" {
			p := strings.TrimSpace(*c.Phone)
			d.CounterpartyPhone = &p
		}
		if c.Confidence != nil {
			d.Confidence = max(0, min(*c.Confidence, 1))
		}
		d.Timestamp = parseTimestamp(c.Date, c.Time, loc)
		drafts = append(drafts, d)
	}
	return drafts
}

func normalizeDirection(s string) domain.Direction {
	key := strings.ToLower(strings.TrimSpace(s))
	if d, ok := directionAliases[key]; ok {
		return d
	}
	return domain.Direction(key)
}

func parseTimestamp(date, clock string, loc *time.Location) time.Time {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}
	}
	if clock = strings.TrimSpace(clock); clock != "" {
		if ts, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc); err == nil {
			return ts
		}
	}
	ts, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// cleanModelJSON strips Markdown fences and surrounding prose from model output.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	open, closing := "[", "]"
	if objStart, arrStart := strings.Index(s, "{"), strings.Index(s, "["); objStart != -1 && (arrStart == -1 || objStart < arrStart) {
		open, closing = "{", "}"
	}
	if start := strings.Index(s, open); start != -1 {
		if end := strings.LastIndex(s, closing); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
