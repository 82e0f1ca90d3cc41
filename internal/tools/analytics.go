package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/jobs"
)

const topAlertsPerPeriod = 5

// PeriodSummary is the analytics for one period.
type PeriodSummary struct {
	Period       domain.Period              `json:"period"`
	Transactions int                        `json:"transactions"`
	Inflow       decimal.Decimal            `json:"inflow"`
	Outflow      decimal.Decimal            `json:"outflow"`
	Net          decimal.Decimal            `json:"net"`
	Fees         decimal.Decimal            `json:"fees"`
	ByCategory   map[string]decimal.Decimal `json:"by_category"`
	ByDirection  map[domain.Direction]int   `json:"by_direction"`
	AlertCount   int                        `json:"alert_count"`
	AlertsByKind map[domain.AlertKind]int   `json:"alerts_by_kind"`
	TopAlerts    []*domain.AnomalyAlert     `json:"top_alerts"`
}

// AnalyticsResult holds one summary per requested period, in request order.
type AnalyticsResult struct {
	Periods      []PeriodSummary `json:"periods"`
	Transactions int             `json:"transactions"`
	Net          decimal.Decimal `json:"net"`
	AlertCount   int             `json:"alert_count"`
}

func (d *Dispatcher) runAnalytics(ctx context.Context, job *jobs.QueueJob, run *jobs.Run) (any, error) {
	var p AnalyticsPayload
	if err := decodeStrict(job.Payload, &p); err != nil {
		return nil, err
	}
	if err := validatePeriods(p.Periods); err != nil {
		return nil, err
	}

	summaries := make([]PeriodSummary, len(p.Periods))
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.AnalyticsParallelism)
	for i, period := range p.Periods {
		g.Go(func() error {
			if err := run.Checkpoint(gctx); err != nil {
				return err
			}
			s, err := d.summarizePeriod(gctx, job.TenantID, period)
			if err != nil {
				return fmt.Errorf("period %d: %w", i, err)
			}
			summaries[i] = s

			mu.Lock()
			done++
			run.Progress(gctx, done, len(p.Periods))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &AnalyticsResult{Periods: summaries, Net: decimal.Zero}
	for _, s := range summaries {
		res.Transactions += s.Transactions
		res.Net = res.Net.Add(s.Net)
		res.AlertCount += s.AlertCount
	}
	return res, nil
}

// summarizePeriod totals one period and scores it for anomalies without
// storing alerts; detection windows overlap across periods.
func (d *Dispatcher) summarizePeriod(ctx context.Context, tenantID string, period domain.Period) (PeriodSummary, error) {
	txs, err := d.deps.Transactions.QueryTransactions(ctx, tenantID, domain.TransactionFilter{From: period.Start, To: period.End})
	if err != nil {
		return PeriodSummary{}, fmt.Errorf("failed to load transactions: %w", err)
	}

	s := PeriodSummary{
		Period:       period,
		Transactions: len(txs),
		Inflow:       decimal.Zero,
		Outflow:      decimal.Zero,
		Fees:         decimal.Zero,
		ByCategory:   make(map[string]decimal.Decimal),
		ByDirection:  make(map[domain.Direction]int),
		AlertsByKind: make(map[domain.AlertKind]int),
	}
	for _, tx := range txs {
		amount := tx.Amount.Abs()
		if tx.Direction.Inflow() {
			s.Inflow = s.Inflow.Add(amount)
		} else {
			s.Outflow = s.Outflow.Add(amount)
		}
		if tx.Fee != nil {
			s.Fees = s.Fees.Add(*tx.Fee)
		}
		cat := tx.Category
		if cat == "" {
			cat = domain.Uncategorized
		}
		s.ByCategory[cat] = s.ByCategory[cat].Add(amount)
		s.ByDirection[tx.Direction]++
	}
	s.Net = s.Inflow.Sub(s.Outflow).Sub(s.Fees)

	alerts := d.deps.Detector.Detect(tenantID, txs, d.now())
	s.AlertCount = len(alerts)
	for _, a := range alerts {
		s.AlertsByKind[a.Kind]++
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].RiskScore > alerts[j].RiskScore })
	s.TopAlerts = alerts[:min(len(alerts), topAlertsPerPeriod)]
	if s.TopAlerts == nil {
		s.TopAlerts = []*domain.AnomalyAlert{}
	}
	return s, nil
}
