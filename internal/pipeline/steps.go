package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *IngestState) error
}

// IngestState holds the shared state across all pipeline steps.
type IngestState struct {
	TenantID  string
	Text      string
	Image     []byte
	MIMEType  string
	Reference time.Time
	DryRun    bool

	Extraction *Extraction
	Normalized NormalizeResult
	Saved      int
}

// ChunkOptions sizes the batches later steps work in.
type ChunkOptions struct {
	Size  int
	Pause time.Duration
}

// ExtractStep runs the extractor on the text or image in the state.
type ExtractStep struct {
	Extractor *Extractor
}

func (s *ExtractStep) Execute(ctx context.Context, state *IngestState) error {
	var (
		ext *Extraction
		err error
	)
	if len(state.Image) > 0 {
		ext, err = s.Extractor.ExtractImage(ctx, state.TenantID, state.Image, state.MIMEType)
	} else {
		ext, err = s.Extractor.Extract(ctx, state.TenantID, state.Text)
	}
	if err != nil {
		return err
	}
	state.Extraction = ext
	return nil
}

// NormalizeStep cleans and validates the extracted drafts.
type NormalizeStep struct {
	Normalizer *Normalizer
}

func (s *NormalizeStep) Execute(ctx context.Context, state *IngestState) error {
	state.Normalized = s.Normalizer.Normalize(state.TenantID, state.Extraction.Drafts, state.Reference)
	return nil
}

// CategorizeStep assigns categories to accepted drafts chunk by chunk.
type CategorizeStep struct {
	Categorizer Categorizer
	Chunks      ChunkOptions
}

func (s *CategorizeStep) Execute(ctx context.Context, state *IngestState) error {
	return ForEachChunk(ctx, state.Normalized.Accepted, s.Chunks.Size, s.Chunks.Pause,
		func(ctx context.Context, i int, chunk []*domain.TransactionDraft) error {
			if err := s.Categorizer.CategorizeBatch(ctx, state.TenantID, chunk); err != nil {
				return fmt.Errorf("categorize chunk %d: %w", i, err)
			}
			return nil
		})
}

// SaveStep persists accepted drafts chunk by chunk. Storage keys on the
// draft fingerprint, so a retried save does not duplicate rows.
type SaveStep struct {
	Store  TransactionSaver
	Chunks ChunkOptions
	Now    func() time.Time
}

func (s *SaveStep) Execute(ctx context.Context, state *IngestState) error {
	if state.DryRun {
		return nil
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return ForEachChunk(ctx, state.Normalized.Accepted, s.Chunks.Size, s.Chunks.Pause,
		func(ctx context.Context, i int, chunk []*domain.TransactionDraft) error {
			created := now().UTC()
			for _, d := range chunk {
				if d.CreatedAt.IsZero() {
					d.CreatedAt = created
				}
			}
			n, err := s.Store.SaveTransactions(ctx, state.TenantID, chunk)
			if err != nil {
				return fmt.Errorf("save chunk %d: %w", i, err)
			}
			state.Saved += n
			return nil
		})
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *IngestState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
