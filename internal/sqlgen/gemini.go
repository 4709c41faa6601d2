package sqlgen

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"dbquery/internal/logging"
)

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-2.0-flash"

// responseSchema constrains Gemini to the same JSON shape the prompt asks for
var responseSchema = &genai.Schema{
	Type:     genai.TypeObject,
	Required: []string{"explanation", "sql_query"},
	Properties: map[string]*genai.Schema{
		"explanation": {Type: genai.TypeString},
		"sql_query":   {Type: genai.TypeString},
	},
}

// GeminiGenerator generates SQL with the Gemini API
type GeminiGenerator struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiGenerator creates a generator. baseURL overrides the API endpoint when set.
func NewGeminiGenerator(ctx context.Context, apiKey, model, baseURL string, logger *zap.Logger) (*GeminiGenerator, error) {
	logger = logging.OrNop(logger)
	if apiKey == "" {
		logger.Error("Gemini generator initialization failed: missing API key")
		return nil, fmt.Errorf("gemini API key not set")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiGenerator{client: client, model: model, logger: logger}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Generation, error) {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema,
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(buildPrompt(req)), config)
	if err != nil {
		g.logger.Error("Gemini API call failed for SQL generation", zap.Error(err), zap.String("prompt", logging.Truncate(req.Prompt, 80)))
		return nil, fmt.Errorf("gemini API error: %w", err)
	}

	text := result.Text()
	if text == "" {
		return nil, fmt.Errorf("no text response from Gemini")
	}

	resp, err := parseResponse(text)
	if err != nil {
		g.logger.Error("Failed to parse Gemini response",
			zap.Error(err),
			zap.String("response_preview", logging.Truncate(text, 200)))
		return nil, err
	}

	g.logger.Info("Generated SQL with Gemini", zap.String("prompt", logging.Truncate(req.Prompt, 80)))

	return &Generation{SQL: resp.SQLQuery, Rationale: resp.Explanation, Source: SourceGemini}, nil
}
