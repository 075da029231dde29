// Package anthropic implements the compaction generate port with the
// Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
)

// DefaultModel is used when no model is configured. Haiku-class models
// are sufficient for dense factual summaries and keep compaction cheap.
const DefaultModel = "claude-3-5-haiku-latest"

// Config configures the summarizer.
type Config struct {
	// Model selects the Claude model. Defaults to DefaultModel.
	Model string

	// MaxTokens caps the summary length. Defaults to 1024.
	MaxTokens int64

	// System is an optional system prompt prepended to every call.
	System string
}

// Summarizer calls Claude to condense conversation windows.
type Summarizer struct {
	client *sdk.Client
	cfg    Config
}

// New creates a Summarizer over an existing Anthropic client.
func New(client *sdk.Client, cfg Config) *Summarizer {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	return &Summarizer{client: client, cfg: cfg}
}

// Generate sends the prompt and returns the concatenated text blocks
// of the response.
func (s *Summarizer) Generate(ctx context.Context, prompt string) (string, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(s.cfg.Model),
		MaxTokens: s.cfg.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if s.cfg.System != "" {
		params.System = []sdk.TextBlockParam{{Text: s.cfg.System}}
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
