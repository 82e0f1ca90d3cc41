package parser

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

var eat = time.FixedZone("EAT", 3*60*60)

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "amount: want %s, got %s", want, got)
}

func TestParseLine_Fixtures(t *testing.T) {
	tests := []struct {
		name         string
		line         string
		amount       string
		direction    domain.Direction
		counterparty string
		reference    string
		account      string
		phone        string
		timestamp    time.Time
		confidence   float64
	}{
		{
			name:         "minimal received",
			line:         "received Ksh500.00 from JOHN DOE on 15/1/25",
			amount:       "500.00",
			direction:    domain.DirectionReceived,
			counterparty: "JOHN DOE",
			timestamp:    time.Date(2025, 1, 15, 0, 0, 0, 0, eat),
			confidence:   0.75,
		},
		{
			name:         "full received with phone",
			line:         "QAB1CD2EF3 Confirmed. You have received Ksh1,500.00 from JOHN DOE 0712345678 on 15/1/25 at 10:30 AM New M-PESA balance is Ksh2,000.00.",
			amount:       "1500.00",
			direction:    domain.DirectionReceived,
			counterparty: "JOHN DOE",
			reference:    "QAB1CD2EF3",
			phone:        "0712345678",
			timestamp:    time.Date(2025, 1, 15, 10, 30, 0, 0, eat),
			confidence:   1.0,
		},
		{
			name:         "sent",
			line:         "QBC2DE3FG4 Confirmed. Ksh200.00 sent to JANE WANJIKU 0722000111 on 16/1/25 at 2:15 PM. New M-PESA balance is Ksh1,300.00. Transaction cost, Ksh7.00.",
			amount:       "200.00",
			direction:    domain.DirectionSent,
			counterparty: "JANE WANJIKU",
			reference:    "QBC2DE3FG4",
			phone:        "0722000111",
			timestamp:    time.Date(2025, 1, 16, 14, 15, 0, 0, eat),
			confidence:   1.0,
		},
		{
			name:         "paybill",
			line:         "QCD3EF4GH5 Confirmed. Ksh1,000.00 sent to KPLC PREPAID for account 54321 on 17/1/25 at 9:00 AM New M-PESA balance is Ksh300.00.",
			amount:       "1000.00",
			direction:    domain.DirectionPaybill,
			counterparty: "KPLC PREPAID",
			reference:    "QCD3EF4GH5",
			account:      "54321",
			timestamp:    time.Date(2025, 1, 17, 9, 0, 0, 0, eat),
			confidence:   1.0,
		},
		{
			name:         "till",
			line:         "QDE4FG5HI6 Confirmed. Ksh350.00 paid to NAIVAS SUPERMARKET. on 18/1/25 at 6:45 PM.New M-PESA balance is Ksh50.00.",
			amount:       "350.00",
			direction:    domain.DirectionTill,
			counterparty: "NAIVAS SUPERMARKET",
			reference:    "QDE4FG5HI6",
			timestamp:    time.Date(2025, 1, 18, 18, 45, 0, 0, eat),
			confidence:   1.0,
		},
		{
			name:         "withdrawal",
			line:         "QEF5GH6IJ7 Confirmed.on 19/1/25 at 1:00 PMWithdraw Ksh2,000.00 from 123456 - MAMA MBOGA AGENCIES New M-PESA balance is Ksh500.00.",
			amount:       "2000.00",
			direction:    domain.DirectionWithdrawal,
			counterparty: "MAMA MBOGA AGENCIES",
			reference:    "QEF5GH6IJ7",
			account:      "123456",
			timestamp:    time.Date(2025, 1, 19, 13, 0, 0, 0, eat),
			confidence:   1.0,
		},
		{
			name:         "deposit",
			line:         "QGH7IJ8KL9 Confirmed. On 21/1/25 at 10:00 AM Give Ksh3,000.00 cash to 654321 - CITY AGENT New M-PESA balance is Ksh3,400.00.",
			amount:       "3000.00",
			direction:    domain.DirectionDeposit,
			counterparty: "CITY AGENT",
			reference:    "QGH7IJ8KL9",
			account:      "654321",
			timestamp:    time.Date(2025, 1, 21, 10, 0, 0, 0, eat),
			confidence:   1.0,
		},
		{
			name:       "airtime has no counterparty",
			line:       "QFG6HI7JK8 confirmed.You bought Ksh100.00 of airtime on 20/1/25 at 8:05 AM.New M-PESA balance is Ksh400.00.",
			amount:     "100.00",
			direction:  domain.DirectionAirtime,
			reference:  "QFG6HI7JK8",
			timestamp:  time.Date(2025, 1, 20, 8, 5, 0, 0, eat),
			confidence: 0.75,
		},
	}

	p := New(eat)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := p.ParseLine(tt.line)
			require.NoError(t, err)

			assertAmount(t, tt.amount, d.Amount)
			assert.Equal(t, tt.direction, d.Direction)
			assert.Equal(t, tt.counterparty, d.Counterparty)
			assert.Equal(t, tt.reference, d.Reference)
			assert.Equal(t, tt.account, d.Account)
			assert.True(t, tt.timestamp.Equal(d.Timestamp), "timestamp: want %s, got %s", tt.timestamp, d.Timestamp)
			assert.InDelta(t, tt.confidence, d.Confidence, 1e-9)
			assert.Equal(t, domain.MethodRuleBased, d.Method)
			assert.Equal(t, domain.DefaultCurrency, d.Currency)
			if tt.phone == "" {
				assert.Nil(t, d.CounterpartyPhone)
			} else {
				require.NotNil(t, d.CounterpartyPhone)
				assert.Equal(t, tt.phone, *d.CounterpartyPhone)
			}
		})
	}
}

func TestParseLine_BalanceAndFee(t *testing.T) {
	d, err := New(eat).ParseLine("QBC2DE3FG4 Confirmed. Ksh200.00 sent to JANE WANJIKU 0722000111 on 16/1/25 at 2:15 PM. New M-PESA balance is Ksh1,300.00. Transaction cost, Ksh7.00.")
	require.NoError(t, err)

	require.NotNil(t, d.Balance)
	require.NotNil(t, d.Fee)
	assertAmount(t, "1300.00", *d.Balance)
	assertAmount(t, "7.00", *d.Fee)
}

func TestParseLine_InvalidDateIsDropped(t *testing.T) {
	d, err := New(eat).ParseLine("received Ksh500.00 from JOHN DOE on 31/2/25")
	require.NoError(t, err)

	assert.True(t, d.Timestamp.IsZero())
	assert.InDelta(t, 0.5, d.Confidence, 1e-9)
}

func TestParseLine_NoShape(t *testing.T) {
	_, err := New(eat).ParseLine("Your Fuliza limit is now Ksh 5000")
	assert.Error(t, err)
}

func TestParse_RecordsSkippedLines(t *testing.T) {
	text := "received Ksh500.00 from JOHN DOE on 15/1/25\n\n   \nHello from Safaricom\nKsh200.00 sent to JANE on 16/1/25"

	res := New(eat).Parse(text)

	require.Len(t, res.Drafts, 2)
	assert.Equal(t, 1, res.Drafts[0].LineNumber)
	assert.Equal(t, 5, res.Drafts[1].LineNumber)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, SkippedLine{Line: 4, Text: "Hello from Safaricom", Reason: ReasonNoShape}, res.Skipped[0])
}

func TestParse_SplitsMessagesOnOneLine(t *testing.T) {
	text := "QAB1CD2EF3 Confirmed. You have received Ksh500.00 from JOHN DOE on 15/1/25 at 10:30 AM. QBC2DE3FG4 Confirmed. Ksh200.00 sent to JANE WANJIKU on 16/1/25 at 2:15 PM."

	res := New(eat).Parse(text)

	require.Len(t, res.Drafts, 2)
	assert.Equal(t, "QAB1CD2EF3", res.Drafts[0].Reference)
	assert.Equal(t, domain.DirectionReceived, res.Drafts[0].Direction)
	assert.Equal(t, "QBC2DE3FG4", res.Drafts[1].Reference)
	assert.Equal(t, domain.DirectionSent, res.Drafts[1].Direction)
	assert.Empty(t, res.Skipped)
}

func TestParse_Idempotent(t *testing.T) {
	text := "received Ksh500.00 from JOHN DOE on 15/1/25\nQBC2DE3FG4 Confirmed. Ksh200.00 sent to JANE WANJIKU 0722000111 on 16/1/25 at 2:15 PM."
	p := New(eat)

	first := p.Parse(text)
	second := p.Parse(text)

	assert.Equal(t, first, second)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"1,500.00", "1500", false},
		{"500", "500", false},
		{" 12.5 ", "12.5", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assertAmount(t, tt.want, got)
		})
	}
}
