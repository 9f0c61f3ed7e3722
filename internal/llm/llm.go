// Package llm suggests the insight fields of a record using an
// OpenAI-compatible chat API.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/examlog/internal/llm/prompts"
	"github.com/pavelanni/examlog/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	prompts *prompts.Set
	variant prompts.PromptVariant
}

// New creates a new LLM client using the built-in prompt templates.
func New(baseURL, apiKey, modelName string, variant prompts.PromptVariant) (*Client, error) {
	set, err := prompts.Default()
	if err != nil {
		return nil, err
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		prompts: set,
		variant: variant,
	}, nil
}

// SuggestInsights asks the model for key takeaways and improvement areas.
func (c *Client) SuggestInsights(ctx context.Context, form model.FormData) (model.Insights, error) {
	systemPrompt, err := c.prompts.BuildInsightPrompt(c.variant, form)
	if err != nil {
		return model.Insights{}, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.4,
	})
	if err != nil {
		return model.Insights{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.Insights{}, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return parseInsights(raw)
}

func parseInsights(raw string) (model.Insights, error) {
	var ins model.Insights
	if err := json.Unmarshal([]byte(raw), &ins); err != nil {
		return model.Insights{}, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	ins.KeyTakeaways = strings.TrimSpace(ins.KeyTakeaways)
	ins.ImprovementAreas = strings.TrimSpace(ins.ImprovementAreas)
	if ins.KeyTakeaways == "" && ins.ImprovementAreas == "" {
		return model.Insights{}, fmt.Errorf("LLM response has no insights (raw: %s)", raw)
	}
	return ins, nil
}
