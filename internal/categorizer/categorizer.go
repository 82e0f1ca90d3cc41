// Package categorizer assigns business categories to transactions from a
// tenant's learned keyword patterns plus a fixed table of heuristics.
package categorizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// Assignment sources.
const (
	SourceLearned   = "learned"
	SourceHeuristic = "heuristic"
	SourceMixed     = "mixed"
	SourceDefault   = "default"
)

const scoreEpsilon = 1e-9

// Config tunes scoring and learning.
type Config struct {
	// MinConfidence is the threshold below which "uncategorized" is assigned.
	MinConfidence float64 `mapstructure:"min_confidence"`
	// Prior is added to the denominator so a single weak match is not
	// treated as certain.
	Prior               float64     `mapstructure:"prior"`
	ReinforceIncrement  float64     `mapstructure:"reinforce_increment"`
	CorrectionIncrement float64     `mapstructure:"correction_increment"`
	SeedWeight          float64     `mapstructure:"seed_weight"`
	Heuristics          []Heuristic `mapstructure:"heuristics"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MinConfidence:       0.4,
		Prior:               1.0,
		ReinforceIncrement:  1.0,
		CorrectionIncrement: 2.0,
		SeedWeight:          0.5,
		Heuristics:          DefaultHeuristics,
	}
}

// Assignment is the category chosen for one transaction.
type Assignment struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Token      string  `json:"token,omitempty"`
	Source     string  `json:"source"`
}

// TransactionStore is the part of transaction storage that confirmation needs.
type TransactionStore interface {
	QueryTransactions(ctx context.Context, tenantID string, f domain.TransactionFilter) ([]*domain.TransactionDraft, error)
	UpdateCategory(ctx context.Context, tenantID, transactionID, category string, confidence float64, status domain.ReviewStatus) error
}

// Categorizer is safe for concurrent use; all mutable state is in the stores.
type Categorizer struct {
	patterns PatternStore
	txs      TransactionStore
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
}

// New creates a categorizer. txs may be nil if Confirm is never called.
func New(patterns PatternStore, txs TransactionStore, cfg Config, log zerolog.Logger) *Categorizer {
	if cfg.Heuristics == nil {
		cfg.Heuristics = DefaultHeuristics
	}
	return &Categorizer{patterns: patterns, txs: txs, cfg: cfg, now: time.Now, log: log}
}

type categoryScore struct {
	category      string
	score         float64
	longest       string
	lastReinforce time.Time
	learned       []string
	heuristicKeys []string
	heuristic     bool
}

func (c *categoryScore) noteToken(tok string) {
	if len(tok) > len(c.longest) {
		c.longest = tok
	}
}

// Categorize scores d against learned patterns and heuristics. Learned
// patterns that contributed to the winning category get a hit recorded; a
// win by heuristics alone seeds a learned pattern for the matched keyword.
func (c *Categorizer) Categorize(ctx context.Context, tenantID string, d *domain.TransactionDraft) (Assignment, error) {
	text := d.DescriptiveText()
	tokens := Tokens(text)

	learned, err := c.patterns.ListPatterns(ctx, tenantID, tokens)
	if err != nil {
		return Assignment{}, fmt.Errorf("list patterns: %w", err)
	}

	scores := make(map[string]*categoryScore)
	get := func(cat string) *categoryScore {
		s, ok := scores[cat]
		if !ok {
			s = &categoryScore{category: cat}
			scores[cat] = s
		}
		return s
	}

	for _, p := range learned {
		s := get(p.Category)
		s.score += p.Weight
		s.noteToken(p.Keyword)
		s.learned = append(s.learned, p.Keyword)
		if p.LastReinforcedAt.After(s.lastReinforce) {
			s.lastReinforce = p.LastReinforcedAt
		}
	}
	for _, h := range c.cfg.Heuristics {
		if !h.matches(d, text) {
			continue
		}
		s := get(h.Category)
		s.score += h.Weight
		s.heuristic = true
		if h.Keyword != "" {
			kw := strings.Join(words(h.Keyword), " ")
			s.noteToken(kw)
			s.heuristicKeys = append(s.heuristicKeys, kw)
		}
	}

	best, total := pickBest(scores)
	if best == nil {
		return Assignment{Category: domain.Uncategorized, Source: SourceDefault}, nil
	}

	confidence := best.score / (total + c.cfg.Prior)
	if confidence < c.cfg.MinConfidence {
		return Assignment{Category: domain.Uncategorized, Confidence: confidence, Source: SourceDefault}, nil
	}

	a := Assignment{Category: best.category, Confidence: confidence, Token: best.longest}
	switch {
	case len(best.learned) > 0 && best.heuristic:
		a.Source = SourceMixed
	case len(best.learned) > 0:
		a.Source = SourceLearned
	default:
		a.Source = SourceHeuristic
	}

	c.recordOutcome(ctx, tenantID, best, tokens)
	return a, nil
}

// pickBest orders by score, then longest matching token, then most recent
// reinforcement, then name so the result is deterministic.
func pickBest(scores map[string]*categoryScore) (*categoryScore, float64) {
	if len(scores) == 0 {
		return nil, 0
	}
	list := make([]*categoryScore, 0, len(scores))
	total := 0.0
	for _, s := range scores {
		list = append(list, s)
		total += s.score
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if math.Abs(a.score-b.score) > scoreEpsilon {
			return a.score > b.score
		}
		if len(a.longest) != len(b.longest) {
			return len(a.longest) > len(b.longest)
		}
		if !a.lastReinforce.Equal(b.lastReinforce) {
			return a.lastReinforce.After(b.lastReinforce)
		}
		return a.category < b.category
	})
	if list[0].score <= 0 {
		return nil, total
	}
	return list[0], total
}

func (c *Categorizer) recordOutcome(ctx context.Context, tenantID string, best *categoryScore, tokens []string) {
	for _, kw := range best.learned {
		if err := c.patterns.RecordHit(ctx, tenantID, kw, best.category); err != nil {
			c.log.Warn().Err(err).Str("tenant_id", tenantID).Str("keyword", kw).Msg("record pattern hit")
		}
	}
	if len(best.learned) > 0 {
		return
	}
	// Only keywords that tokenization can produce are worth seeding; others
	// would never be looked up again.
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}
	now := c.now()
	for _, kw := range best.heuristicKeys {
		if !tokenSet[kw] {
			continue
		}
		if err := c.patterns.SeedPattern(ctx, tenantID, kw, best.category, c.cfg.SeedWeight, now); err != nil {
			c.log.Warn().Err(err).Str("tenant_id", tenantID).Str("keyword", kw).Msg("seed pattern")
		}
	}
}

// CategorizeBatch categorizes drafts in place.
func (c *Categorizer) CategorizeBatch(ctx context.Context, tenantID string, drafts []*domain.TransactionDraft) error {
	for _, d := range drafts {
		if err := ctx.Err(); err != nil {
			return err
		}
		a, err := c.Categorize(ctx, tenantID, d)
		if err != nil {
			return fmt.Errorf("categorize %s: %w", d.ID, err)
		}
		d.Category = a.Category
		d.CategoryConfidence = a.Confidence
	}
	return nil
}

// ConfirmResult reports what a confirmation changed.
type ConfirmResult struct {
	TransactionID string                   `json:"transaction_id"`
	Category      string                   `json:"category"`
	Status        domain.ReviewStatus      `json:"status"`
	Reinforced    []domain.CategoryPattern `json:"reinforced"`
}

// Confirm records that transactionID belongs to category and reinforces the
// patterns for its descriptive text. A correction (a category different from
// the current one) reinforces by the larger correction increment.
func (c *Categorizer) Confirm(ctx context.Context, tenantID, transactionID, category string) (*ConfirmResult, error) {
	category = NormalizeCategory(category)
	if category == "" {
		return nil, domain.NewValidationError("category", "", "required")
	}
	if transactionID == "" {
		return nil, domain.NewValidationError("transaction_id", "", "required")
	}
	if c.txs == nil {
		return nil, fmt.Errorf("confirm: no transaction store configured")
	}

	found, err := c.txs.QueryTransactions(ctx, tenantID, domain.TransactionFilter{IDs: []string{transactionID}, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("confirm: load transaction: %w", err)
	}
	if len(found) == 0 {
		return nil, &domain.NotFoundError{Resource: "transaction", ID: transactionID}
	}
	d := found[0]

	status, increment := domain.ReviewConfirmed, c.cfg.ReinforceIncrement
	if d.Category != category {
		status, increment = domain.ReviewCorrected, c.cfg.CorrectionIncrement
	}

	res := &ConfirmResult{TransactionID: transactionID, Category: category, Status: status}
	now := c.now()
	for _, tok := range Tokens(d.DescriptiveText()) {
		p, err := c.patterns.ReinforcePattern(ctx, tenantID, tok, category, increment, now)
		if err != nil {
			return nil, fmt.Errorf("confirm: reinforce %q: %w", tok, err)
		}
		res.Reinforced = append(res.Reinforced, p)
	}

	if err := c.txs.UpdateCategory(ctx, tenantID, transactionID, category, 1.0, status); err != nil {
		return nil, fmt.Errorf("confirm: update transaction: %w", err)
	}

	c.log.Info().
		Str("tenant_id", tenantID).
		Str("transaction_id", transactionID).
		Str("category", category).
		Str("status", string(status)).
		Int("patterns", len(res.Reinforced)).
		Msg("category confirmed")
	return res, nil
}

// NormalizeCategory lower-cases a category name and joins its words with
// underscores, so "Stock Purchases" and "stock_purchases" are the same.
func NormalizeCategory(name string) string {
	return strings.Join(words(name), "_")
}
