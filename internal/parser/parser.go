// Package parser turns mobile-money statement messages into transaction
// drafts using a fixed grammar of known message shapes.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// FieldIncrement is the confidence each recognised field contributes.
const FieldIncrement = 0.25

// Skip reasons recorded for lines that produce no draft.
const (
	ReasonNoShape       = "no known statement shape"
	ReasonInvalidAmount = "unparseable amount"
)

const (
	amountExpr = `(?:Kshs?|KES)\.?\s?(?P<amount>\d[\d,]*(?:\.\d{1,2})?)`
	phoneExpr  = `(?P<phone>\+?\d[\d*]{8,12})`
	termExpr   = `(?:\.?\s+on\s+\d|\.?\s+New\s|\.?\s*$|\.\s)`
	agentExpr  = `(?:(?P<account>\d+)\s*-\s*)?`
)

// shape is one recognised message form.
type shape struct {
	name      string
	direction domain.Direction
	pattern   *regexp.Regexp
}

// Order matters: paybill lines also contain "sent to", so they are tried first.
var shapes = []shape{
	{
		name:      "paybill",
		direction: domain.DirectionPaybill,
		pattern: regexp.MustCompile(`(?i)` + amountExpr + `\s+(?:sent|paid)\s+to\s+(?P<party>.+?)\.?\s+for\s+account\s+(?P<account>\S+?)` + termExpr),
	},
	{
		name:      "sent",
		direction: domain.DirectionSent,
		pattern:   regexp.MustCompile(`(?i)` + amountExpr + `\s+sent\s+to\s+(?P<party>.+?)(?:\s+` + phoneExpr + `)?` + termExpr),
	},
	{
		name:      "till",
		direction: domain.DirectionTill,
		pattern:   regexp.MustCompile(`(?i)` + amountExpr + `\s+paid\s+to\s+(?P<party>.+?)(?:\s+` + phoneExpr + `)?` + termExpr),
	},
	{
		name:      "received",
		direction: domain.DirectionReceived,
		pattern:   regexp.MustCompile(`(?i)received\s+` + amountExpr + `\s+from\s+(?P<party>.+?)(?:\s+` + phoneExpr + `)?` + termExpr),
	},
	{
		name:      "withdrawal",
		direction: domain.DirectionWithdrawal,
		pattern:   regexp.MustCompile(`(?i)withdraw\s+` + amountExpr + `\s+from\s+` + agentExpr + `(?P<party>.+?)` + termExpr),
	},
	{
		name:      "deposit",
		direction: domain.DirectionDeposit,
		pattern:   regexp.MustCompile(`(?i)give\s+` + amountExpr + `\s+cash\s+to\s+` + agentExpr + `(?P<party>.+?)` + termExpr),
	},
	{
		name:      "airtime",
		direction: domain.DirectionAirtime,
		pattern:   regexp.MustCompile(`(?i)bought\s+` + amountExpr + `\s+of\s+airtime(?:\s+for\s+` + phoneExpr + `)?`),
	},
	{
		name:      "airtime-purchase",
		direction: domain.DirectionAirtime,
		pattern:   regexp.MustCompile(`(?i)airtime\s+(?:purchase\s+)?(?:of\s+)?` + amountExpr + `(?:\s+for\s+` + phoneExpr + `)?`),
	},
}

var (
	referencePattern = regexp.MustCompile(`^\s*([A-Z0-9]{10})\s+[Cc]onfirmed`)
	boundaryPattern  = regexp.MustCompile(`[A-Z0-9]{10}\s+[Cc]onfirmed`)
	datePattern      = regexp.MustCompile(`(?i)(\d{1,2})/(\d{1,2})/(\d{2,4})(?:\s+at\s+(\d{1,2}):(\d{2})\s*(AM|PM)?)?`)
	balancePattern   = regexp.MustCompile(`(?i)balance\s+is\s+(?:Kshs?|KES)\.?\s?(\d[\d,]*(?:\.\d{1,2})?)`)
	feePattern       = regexp.MustCompile(`(?i)transaction\s+cost,?\s+(?:Kshs?|KES)\.?\s?(\d[\d,]*(?:\.\d{1,2})?)`)
)

// SkippedLine records a line that produced no draft and why.
type SkippedLine struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Result is the outcome of parsing a block of statement text.
type Result struct {
	Drafts  []*domain.TransactionDraft
	Skipped []SkippedLine
}

// Parser is stateless and safe for concurrent use.
type Parser struct {
	loc *time.Location
}

// New creates a parser that interprets statement dates in loc.
// A nil location means UTC.
func New(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{loc: loc}
}

// Parse splits text into messages and parses each one. Blank lines are
// ignored; every other line either yields a draft or a SkippedLine.
func (p *Parser) Parse(text string) Result {
	var res Result
	for i, line := range strings.Split(text, "\n") {
		for _, msg := range splitMessages(line) {
			d, reason := p.parseMessage(msg)
			if d == nil {
				res.Skipped = append(res.Skipped, SkippedLine{Line: i + 1, Text: msg, Reason: reason})
				continue
			}
			d.LineNumber = i + 1
			res.Drafts = append(res.Drafts, d)
		}
	}
	return res
}

// ParseLine parses a single message.
func (p *Parser) ParseLine(msg string) (*domain.TransactionDraft, error) {
	d, reason := p.parseMessage(strings.TrimSpace(msg))
	if d == nil {
		return nil, fmt.Errorf("parse %q: %s", msg, reason)
	}
	return d, nil
}

// splitMessages breaks one physical line into messages at reference
// boundaries, so several pasted messages on one line parse separately.
func splitMessages(line string) []string {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" {
		return nil
	}

	var msgs []string
	start := 0
	for _, loc := range boundaryPattern.FindAllStringIndex(line, -1) {
		if loc[0] == 0 {
			continue
		}
		if m := strings.TrimSpace(line[start:loc[0]]); m != "" {
			msgs = append(msgs, m)
		}
		start = loc[0]
	}
	if m := strings.TrimSpace(line[start:]); m != "" {
		msgs = append(msgs, m)
	}
	return msgs
}

func (p *Parser) parseMessage(msg string) (*domain.TransactionDraft, string) {
	for _, s := range shapes {
		m := s.pattern.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		fields := namedGroups(s.pattern, m)

		amountText := fields["amount"]
		amount, err := ParseAmount(amountText)
		if err != nil {
			return nil, ReasonInvalidAmount
		}

		d := &domain.TransactionDraft{
			Amount:       amount,
			AmountText:   amountText,
			Currency:     domain.DefaultCurrency,
			Direction:    s.direction,
			Counterparty: cleanParty(fields["party"]),
			Account:      fields["account"],
			RawText:      msg,
			Method:       domain.MethodRuleBased,
		}
		if phone := fields["phone"]; phone != "" {
			d.CounterpartyPhone = &phone
		}
		if ref := referencePattern.FindStringSubmatch(msg); ref != nil {
			d.Reference = ref[1]
		}
		if ts, ok := p.parseDate(msg); ok {
			d.Timestamp = ts
		}
		if b := balancePattern.FindStringSubmatch(msg); b != nil {
			if v, err := ParseAmount(b[1]); err == nil {
				d.Balance = &v
			}
		}
		if f := feePattern.FindStringSubmatch(msg); f != nil {
			if v, err := ParseAmount(f[1]); err == nil {
				d.Fee = &v
			}
		}
		d.Confidence = Confidence(d)
		return d, ""
	}
	return nil, ReasonNoShape
}

// Confidence scores a draft by the expected fields it carries.
func Confidence(d *domain.TransactionDraft) float64 {
	score := 0.0
	if !d.Timestamp.IsZero() {
		score += FieldIncrement
	}
	if d.AmountText != "" || !d.Amount.IsZero() {
		score += FieldIncrement
	}
	if d.Counterparty != "" {
		score += FieldIncrement
	}
	if d.Reference != "" {
		score += FieldIncrement
	}
	return min(score, 1.0)
}

// ParseAmount parses an amount with optional thousands separators.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if clean == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	return decimal.NewFromString(clean)
}

func (p *Parser) parseDate(msg string) (time.Time, bool) {
	m := datePattern.FindStringSubmatch(msg)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if year < 100 {
		year += 2000
	}

	hour, minute := 0, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
		switch strings.ToUpper(m[6]) {
		case "PM":
			if hour < 12 {
				hour += 12
			}
		case "AM":
			if hour == 12 {
				hour = 0
			}
		}
	}
	if month < 1 || month > 12 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	ts := time.Date(year, time.Month(month), day, hour, minute, 0, 0, p.loc)
	// time.Date normalises 31/2 into March; treat that as no date.
	if ts.Day() != day {
		return time.Time{}, false
	}
	return ts, true
}

func namedGroups(re *regexp.Regexp, match []string) map[string]string {
	out := make(map[string]string, len(match))
	for i, name := range re.SubexpNames() {
		if name == "" || match[i] == "" {
			continue
		}
		out[name] = match[i]
	}
	return out
}

func cleanParty(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".,;:- ")
}
