package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/parser"
)

// IngestRequest is one statement to ingest. Exactly one of Text or Image is set.
type IngestRequest struct {
	TenantID string
	Text     string
	Image    []byte
	MIMEType string
	DryRun   bool
}

// IngestResult is everything a caller needs to see about an ingestion,
// including what was rejected or skipped and why.
type IngestResult struct {
	Accepted   []*domain.TransactionDraft `json:"accepted"`
	Rejected   []Rejection                `json:"rejected"`
	Skipped    []parser.SkippedLine       `json:"skipped"`
	Method     domain.ExtractionMethod    `json:"method"`
	AI         AIStatus                   `json:"ai"`
	Confidence float64                    `json:"confidence"`
	Saved      int                        `json:"saved"`
}

// Ingestor runs statements through extract, normalize, categorize and save.
type Ingestor struct {
	pipeline *Pipeline
	now      func() time.Time
	log      zerolog.Logger
}

// NewIngestor wires the standard ingestion pipeline. categorizer may be nil.
func NewIngestor(extractor *Extractor, normalizer *Normalizer, categorizer Categorizer, store TransactionSaver, chunks ChunkOptions, log zerolog.Logger) *Ingestor {
	steps := []PipelineStep{
		&ExtractStep{Extractor: extractor},
		&NormalizeStep{Normalizer: normalizer},
	}
	if categorizer != nil {
		steps = append(steps, &CategorizeStep{Categorizer: categorizer, Chunks: chunks})
	}
	steps = append(steps, &SaveStep{Store: store, Chunks: chunks})

	return &Ingestor{pipeline: NewPipeline(steps...), now: time.Now, log: log}
}

// Ingest processes one statement.
func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	state := &IngestState{
		TenantID:  req.TenantID,
		Text:      req.Text,
		Image:     req.Image,
		MIMEType:  req.MIMEType,
		Reference: i.now(),
		DryRun:    req.DryRun,
	}
	if err := i.pipeline.Execute(ctx, state); err != nil {
		return nil, err
	}

	res := &IngestResult{
		Accepted:   state.Normalized.Accepted,
		Rejected:   state.Normalized.Rejected,
		Skipped:    state.Extraction.Skipped,
		Method:     state.Extraction.Method,
		AI:         state.Extraction.AI,
		Confidence: state.Extraction.Confidence,
		Saved:      state.Saved,
	}

	i.log.Info().
		Str("tenant_id", req.TenantID).
		Int("accepted", len(res.Accepted)).
		Int("rejected", len(res.Rejected)).
		Int("skipped", len(res.Skipped)).
		Int("saved", res.Saved).
		Str("method", string(res.Method)).
		Msg("statement ingested")
	return res, nil
}
