package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/parser"
)

// ExtractorConfig bounds calls to optional capabilities.
type ExtractorConfig struct {
	AITimeout  time.Duration
	OCRTimeout time.Duration
}

// AIStatus explains whether the AI path contributed and, if not, why.
type AIStatus struct {
	Attempted      bool             `json:"attempted"`
	Used           bool             `json:"used"`
	FallbackReason string           `json:"fallback_reason,omitempty"`
	FallbackKind   domain.ErrorKind `json:"fallback_kind,omitempty"`
	QuotaResetAt   *time.Time       `json:"quota_reset_at,omitempty"`
}

// Extraction is the output of one extraction call.
type Extraction struct {
	Drafts     []*domain.TransactionDraft `json:"drafts"`
	Skipped    []parser.SkippedLine       `json:"skipped"`
	Method     domain.ExtractionMethod    `json:"method"`
	AI         AIStatus                   `json:"ai"`
	Confidence float64                    `json:"confidence"`
}

// Extractor runs the optional AI capability alongside the rule-based parser
// and merges their drafts. It never fails because the AI is unavailable.
type Extractor struct {
	rules *parser.Parser
	ai    AICapability
	ocr   OCRCapability
	quota QuotaChecker
	cfg   ExtractorConfig
	log   zerolog.Logger
}

// NewExtractor creates an extractor. ai, ocr and quota may be nil.
func NewExtractor(rules *parser.Parser, ai AICapability, ocr OCRCapability, quota QuotaChecker, cfg ExtractorConfig, log zerolog.Logger) *Extractor {
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = 15 * time.Second
	}
	if cfg.OCRTimeout <= 0 {
		cfg.OCRTimeout = 20 * time.Second
	}
	return &Extractor{rules: rules, ai: ai, ocr: ocr, quota: quota, cfg: cfg, log: log}
}

// Extract turns statement text into drafts for tenantID.
func (e *Extractor) Extract(ctx context.Context, tenantID, text string) (*Extraction, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, domain.NewValidationError("tenant_id", "", "required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewValidationError("text", "", "empty statement text")
	}

	rule := e.rules.Parse(text)
	aiDrafts, status := e.tryAI(ctx, tenantID, text)

	drafts := mergeDrafts(aiDrafts, rule.Drafts)
	for _, d := range drafts {
		d.ID = uuid.NewString()
		d.TenantID = tenantID
	}

	res := &Extraction{
		Drafts:     drafts,
		Skipped:    rule.Skipped,
		Method:     overallMethod(drafts, status.Used),
		AI:         status,
		Confidence: meanConfidence(drafts),
	}

	e.log.Debug().
		Str("tenant_id", tenantID).
		Int("drafts", len(res.Drafts)).
		Int("skipped", len(res.Skipped)).
		Str("method", string(res.Method)).
		Bool("ai_used", status.Used).
		Msg("extraction finished")
	return res, nil
}

// ExtractImage runs OCR on image and extracts from the resulting text. There
// is no fallback for images, so OCR problems are returned to the caller.
func (e *Extractor) ExtractImage(ctx context.Context, tenantID string, image []byte, mimeType string) (*Extraction, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, domain.NewValidationError("tenant_id", "", "required")
	}
	if e.ocr == nil {
		return nil, &domain.CapabilityUnavailableError{Capability: domain.CapabilityOCR, Reason: "not configured"}
	}
	if e.quota != nil {
		d, err := e.quota.CheckAndIncrement(ctx, tenantID, domain.CapabilityOCR)
		if err != nil {
			return nil, &domain.CapabilityUnavailableError{Capability: domain.CapabilityOCR, Reason: "quota check failed", Err: err}
		}
		if err := d.Err(); err != nil {
			return nil, err
		}
	}

	ocrCtx, cancel := context.WithTimeout(ctx, e.cfg.OCRTimeout)
	defer cancel()

	text, err := e.ocr.ImageToText(ocrCtx, image, mimeType)
	if err != nil {
		if errors.Is(ocrCtx.Err(), context.DeadlineExceeded) {
			return nil, &domain.TimeoutError{Operation: "ocr", Budget: e.cfg.OCRTimeout}
		}
		if domain.KindOf(err) == domain.KindValidation {
			return nil, err
		}
		return nil, &domain.CapabilityUnavailableError{Capability: domain.CapabilityOCR, Reason: "call failed", Err: err}
	}
	return e.Extract(ctx, tenantID, text)
}

func (e *Extractor) tryAI(ctx context.Context, tenantID, text string) ([]*domain.TransactionDraft, AIStatus) {
	var status AIStatus
	if e.ai == nil {
		status.FallbackReason = "ai capability not configured"
		status.FallbackKind = domain.KindCapabilityUnavailable
		return nil, status
	}

	log := e.log.With().Str("tenant_id", tenantID).Str("capability", domain.CapabilityAI).Logger()

	if e.quota != nil {
		d, err := e.quota.CheckAndIncrement(ctx, tenantID, domain.CapabilityAI)
		if err != nil {
			log.Warn().Err(err).Msg("quota check failed, using rule-based extraction")
			status.FallbackReason = "quota check failed"
			status.FallbackKind = domain.KindCapabilityUnavailable
			return nil, status
		}
		if !d.Allowed {
			reset := d.ResetAt
			status.FallbackReason = fmt.Sprintf("ai quota exhausted until %s", reset.UTC().Format(time.RFC3339))
			status.FallbackKind = domain.KindQuotaExceeded
			status.QuotaResetAt = &reset
			return nil, status
		}
	}

	status.Attempted = true
	aiCtx, cancel := context.WithTimeout(ctx, e.cfg.AITimeout)
	defer cancel()

	drafts, err := e.ai.Extract(aiCtx, text)
	if err != nil {
		if errors.Is(aiCtx.Err(), context.DeadlineExceeded) {
			status.FallbackReason = fmt.Sprintf("ai timed out after %s", e.cfg.AITimeout)
			status.FallbackKind = domain.KindTimeout
		} else {
			status.FallbackReason = "ai call failed: " + err.Error()
			status.FallbackKind = domain.KindCapabilityUnavailable
		}
		log.Warn().Err(err).Msg("ai extraction failed, using rule-based extraction")
		return nil, status
	}

	status.Used = true
	return drafts, status
}

// mergeDrafts pairs each AI draft with at most one rule-based draft that
// describes the same event. The AI draft wins and takes over any fields it
// left empty. Unpaired drafts from either side are kept.
func mergeDrafts(aiDrafts, ruleDrafts []*domain.TransactionDraft) []*domain.TransactionDraft {
	used := make([]bool, len(ruleDrafts))
	out := make([]*domain.TransactionDraft, 0, len(aiDrafts)+len(ruleDrafts))

	for _, a := range aiDrafts {
		for j, r := range ruleDrafts {
			if used[j] || !sameEvent(a, r) {
				continue
			}
			used[j] = true
			inheritEmpty(a, r)
			a.Method = domain.MethodHybrid
			break
		}
		out = append(out, a)
	}
	for j, r := range ruleDrafts {
		if !used[j] {
			out = append(out, r)
		}
	}

	// Statement order first; AI-only drafts have no line and go last.
	sort.SliceStable(out, func(i, j int) bool {
		return lineKey(out[i]) < lineKey(out[j])
	})
	return out
}

func lineKey(d *domain.TransactionDraft) int {
	if d.LineNumber == 0 {
		return int(^uint(0) >> 1)
	}
	return d.LineNumber
}

// sameEvent: equal amount, same calendar day and overlapping counterparty.
// A side with no date or no counterparty does not contradict the other.
func sameEvent(a, r *domain.TransactionDraft) bool {
	if !a.Amount.Equal(r.Amount) {
		return false
	}
	if !a.Timestamp.IsZero() && !r.Timestamp.IsZero() {
		ay, am, ad := a.Timestamp.In(r.Timestamp.Location()).Date()
		ry, rm, rd := r.Timestamp.Date()
		if ay != ry || am != rm || ad != rd {
			return false
		}
	}
	return counterpartiesOverlap(a.Counterparty, r.Counterparty)
}

func counterpartiesOverlap(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToUpper(a)) {
		tokens[t] = true
	}
	for _, t := range strings.Fields(strings.ToUpper(b)) {
		if tokens[t] {
			return true
		}
	}
	return false
}

func inheritEmpty(a, r *domain.TransactionDraft) {
	if a.Counterparty == "" {
		a.Counterparty = r.Counterparty
	}
	if a.CounterpartyPhone == nil && r.CounterpartyPhone != nil {
		p := *r.CounterpartyPhone
		a.CounterpartyPhone = &p
	}
	if a.Reference == "" {
		a.Reference = r.Reference
	}
	if a.Account == "" {
		a.Account = r.Account
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = r.Timestamp
	}
	if a.Balance == nil {
		a.Balance = r.Balance
	}
	if a.Fee == nil {
		a.Fee = r.Fee
	}
	if a.RawText == "" {
		a.RawText = r.RawText
	}
	a.LineNumber = r.LineNumber
}

func overallMethod(drafts []*domain.TransactionDraft, aiUsed bool) domain.ExtractionMethod {
	if !aiUsed {
		return domain.MethodRuleBased
	}
	for _, d := range drafts {
		if d.Method != domain.MethodAI {
			return domain.MethodHybrid
		}
	}
	return domain.MethodAI
}

func meanConfidence(drafts []*domain.TransactionDraft) float64 {
	if len(drafts) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range drafts {
		sum += d.Confidence
	}
	return sum / float64(len(drafts))
}
