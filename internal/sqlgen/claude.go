package sqlgen

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"dbquery/internal/logging"
)

// ClaudeGenerator generates SQL with the Anthropic Messages API
type ClaudeGenerator struct {
	client *anthropic.Client
	model  anthropic.Model
	logger *zap.Logger
}

// NewClaudeGenerator creates a generator. An empty model selects Claude Haiku 4.5.
// Extra request options (base URL, HTTP client) are passed to the SDK client.
func NewClaudeGenerator(apiKey, model string, logger *zap.Logger, opts ...option.RequestOption) (*ClaudeGenerator, error) {
	logger = logging.OrNop(logger)
	if apiKey == "" {
		logger.Error("Claude generator initialization failed: missing API key")
		return nil, fmt.Errorf("anthropic API key not set")
	}

	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)

	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeHaiku4_5_20251001
	}

	return &ClaudeGenerator{client: &client, model: m, logger: logger}, nil
}

func (g *ClaudeGenerator) Generate(ctx context.Context, req Request) (*Generation, error) {
	params := anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: 2000,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))),
		},
	}

	message, err := g.client.Messages.New(ctx, params)
	if err != nil {
		g.logger.Error("Claude API call failed for SQL generation", zap.Error(err), zap.String("prompt", logging.Truncate(req.Prompt, 80)))
		return nil, fmt.Errorf("claude API error: %w", err)
	}

	responseText := ""
	for _, block := range message.Content {
		if textBlock, ok := block.AsAny().(anthropic.TextBlock); ok {
			responseText += textBlock.Text
		}
	}
	if responseText == "" {
		g.logger.Error("No text content in Claude response for SQL generation")
		return nil, fmt.Errorf("no text response from Claude")
	}

	resp, err := parseResponse(responseText)
	if err != nil {
		g.logger.Error("Failed to parse Claude response",
			zap.Error(err),
			zap.String("response_preview", logging.Truncate(responseText, 200)))
		return nil, err
	}

	g.logger.Info("Generated SQL with Claude",
		zap.String("prompt", logging.Truncate(req.Prompt, 80)),
		zap.Bool("correction", req.PreviousError != ""))

	return &Generation{SQL: resp.SQLQuery, Rationale: resp.Explanation, Source: SourceClaude}, nil
}
