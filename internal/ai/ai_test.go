package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/Jason-Gitau/finji-mcp-agent-sub001/internal/domain"
)

var eat = time.FixedZone("EAT", 3*60*60)

type mockGenerator struct {
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.GenerateContentFunc(ctx, model, contents, config)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}}},
		},
	}
}

type mockChat struct {
	CreateChatCompletionFunc func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

func (m *mockChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return m.CreateChatCompletionFunc(ctx, req)
}

func chatResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
	}
}

const modelOutput = "```json\n" + `{"transactions": [
  {"date": "2025-01-15", "time": "10:30", "amount": "500.00", "direction": "Received",
   "counterparty": "JOHN DOE", "phone": "0712345678", "reference": "qab1cd2ef3",
   "raw_text": "received Ksh500.00 from JOHN DOE on 15/1/25"},
  {"date": "2025-01-16", "amount": 1200, "direction": "buy_goods", "counterparty": "",
   "phone": null, "confidence": 0.6}
]}` + "\n```"

func TestGemini_Extract(t *testing.T) {
	var gotModel string
	g := newGemini(&mockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotModel = model
			require.Len(t, contents, 1)
			assert.Contains(t, contents[0].Parts[0].Text, "STATEMENT BODY")
			return textResponse(modelOutput), nil
		},
	}, "", eat)

	drafts, err := g.Extract(context.Background(), "STATEMENT BODY")
	require.NoError(t, err)
	assert.Equal(t, DefaultGeminiModel, gotModel)

	require.Len(t, drafts, 2)
	first := drafts[0]
	assert.True(t, decimal.RequireFromString("500").Equal(first.Amount))
	assert.Equal(t, domain.DirectionReceived, first.Direction)
	assert.Equal(t, "JOHN DOE", first.Counterparty)
	assert.Equal(t, "QAB1CD2EF3", first.Reference)
	assert.Equal(t, domain.MethodAI, first.Method)
	assert.Equal(t, 1.0, first.Confidence)
	assert.True(t, time.Date(2025, 1, 15, 10, 30, 0, 0, eat).Equal(first.Timestamp))
	require.NotNil(t, first.CounterpartyPhone)

	second := drafts[1]
	assert.Equal(t, "1200", second.AmountText)
	assert.Equal(t, domain.DirectionTill, second.Direction)
	assert.Equal(t, 0.6, second.Confidence)
	assert.Nil(t, second.CounterpartyPhone)
	assert.True(t, time.Date(2025, 1, 16, 0, 0, 0, 0, eat).Equal(second.Timestamp))
}

func TestGemini_ExtractErrors(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		err  error
	}{
		{"transport error", nil, errors.New("503 unavailable")},
		{"empty response", textResponse(""), nil},
		{"not json", textResponse("I could not find transactions."), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGemini(&mockGenerator{
				GenerateContentFunc: func(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
					return tt.resp, tt.err
				},
			}, "gemini-test", eat)

			_, err := g.Extract(context.Background(), "text")
			assert.Error(t, err)
		})
	}
}

func TestGemini_ImageToText(t *testing.T) {
	g := newGemini(&mockGenerator{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			require.Len(t, contents[0].Parts, 2)
			assert.Equal(t, "image/png", contents[0].Parts[1].InlineData.MIMEType)
			return textResponse("received Ksh500.00 from JOHN DOE on 15/1/25"), nil
		},
	}, "", eat)

	text, err := g.ImageToText(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.NoError(t, err)
	assert.Contains(t, text, "JOHN DOE")

	_, err = g.ImageToText(context.Background(), nil, "image/png")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestOpenAI_Extract(t *testing.T) {
	o := newOpenAI(&mockChat{
		CreateChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			assert.Equal(t, "gpt-test", req.Model)
			require.NotNil(t, req.ResponseFormat)
			assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
			return chatResponse(modelOutput), nil
		},
	}, "gpt-test", eat)

	drafts, err := o.Extract(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, "JOHN DOE", drafts[0].Counterparty)
}

func TestOpenAI_ExtractNoChoices(t *testing.T) {
	o := newOpenAI(&mockChat{
		CreateChatCompletionFunc: func(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, nil
		},
	}, "", eat)

	_, err := o.Extract(context.Background(), "text")
	assert.Error(t, err)
}

func TestOpenAI_ImageToText(t *testing.T) {
	o := newOpenAI(&mockChat{
		CreateChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			parts := req.Messages[0].MultiContent
			require.Len(t, parts, 2)
			assert.Contains(t, parts[1].ImageURL.URL, "data:image/jpeg;base64,")
			return chatResponse("line one\nline two"), nil
		},
	}, "", eat)

	text, err := o.ImageToText(context.Background(), []byte{0xff, 0xd8}, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", text)
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare array", `[{"a":1}]`, `[{"a":1}]`},
		{"fenced array", "```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"object with prose", `Here you go: {"transactions": []} thanks`, `{"transactions": []}`},
		{"array inside object keeps object", `{"transactions": [1]}`, `{"transactions": [1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.in))
		})
	}
}

func TestParseCandidates_BareArray(t *testing.T) {
	cands, err := parseCandidates(`[{"amount": "10", "direction": "sent"}]`)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, flexString("10"), cands[0].Amount)
}
