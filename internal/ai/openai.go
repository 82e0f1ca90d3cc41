package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI implements the extraction and OCR capabilities on the OpenAI chat API.
type OpenAI struct {
	client chatCompleter
	model  string
	loc    *time.Location
}

// NewOpenAI creates an OpenAI capability. baseURL may point at any
// OpenAI-compatible endpoint; empty means the public API.
func NewOpenAI(apiKey, baseURL, model string, loc *time.Location) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return newOpenAI(openai.NewClientWithConfig(cfg), model, loc)
}

func newOpenAI(client chatCompleter, model string, loc *time.Location) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if loc == nil {
		loc = time.UTC
	}
	return &OpenAI{client: client, model: model, loc: loc}
}

// Extract asks the model for the transactions in text.
func (o *OpenAI) Extract(ctx context.Context, text string) ([]*domain.TransactionDraft, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: extractionPrompt + text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai extract: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai extract: no choices in response")
	}

	cands, err := parseCandidates(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("openai extract: %w", err)
	}
	return toDrafts(cands, o.loc), nil
}

// ImageToText transcribes a statement screenshot with a vision model.
func (o *OpenAI) ImageToText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", domain.NewValidationError("image", "", "empty image")
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: ocrPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai ocr: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai ocr: empty response from model")
	}
	return resp.Choices[0].Message.Content, nil
}
