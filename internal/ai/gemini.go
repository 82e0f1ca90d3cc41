package ai

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the subset of *genai.Models the Gemini capability uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements both the extraction and the OCR capability on Gemini.
type Gemini struct {
	models contentGenerator
	model  string
	loc    *time.Location
}

// NewGemini creates a Gemini capability. An empty apiKey falls back to the
// GOOGLE_API_KEY / Vertex environment configuration understood by genai.
func NewGemini(ctx context.Context, apiKey, model string, loc *time.Location) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}
	return newGemini(client.Models, model, loc), nil
}

func newGemini(models contentGenerator, model string, loc *time.Location) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Gemini{models: models, model: model, loc: loc}
}

// Extract asks the model for the transactions in text.
func (g *Gemini) Extract(ctx context.Context, text string) ([]*domain.TransactionDraft, error) {
	raw, err := g.generate(ctx, []*genai.Part{{Text: extractionPrompt + text}})
	if err != nil {
		return nil, fmt.Errorf("gemini extract: %w", err)
	}

	cands, err := parseCandidates(raw)
	if err != nil {
		return nil, fmt.Errorf("gemini extract: %w", err)
	}
	return toDrafts(cands, g.loc), nil
}

// ImageToText transcribes a statement screenshot.
func (g *Gemini) ImageToText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", domain.NewValidationError("image", "", "empty image")
	}
	raw, err := g.generate(ctx, []*genai.Part{
		{Text: ocrPrompt},
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
	})
	if err != nil {
		return "", fmt.Errorf("gemini ocr: %w", err)
	}
	return raw, nil
}

func (g *Gemini) generate(ctx context.Context, parts []*genai.Part) (string, error) {
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}
