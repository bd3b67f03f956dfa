package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/pavelanni/satprep/internal/llm/prompts"
	"github.com/pavelanni/satprep/internal/model"
)

// OpenAIClient generates tests through an OpenAI-compatible chat completion API.
type OpenAIClient struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAI creates a client for an OpenAI-compatible endpoint.
func NewOpenAI(cfg Config) *OpenAIClient {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		api:     openai.NewClientWithConfig(config),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// Ping checks that the endpoint is reachable and the key is accepted.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// GeneratePracticeTest asks the model for a complete test of the given type and
// validates the answer before returning it.
func (c *OpenAIClient) GeneratePracticeTest(ctx context.Context, t model.PracticeTestType) (*GeneratedTest, error) {
	systemPrompt, err := prompts.BuildSystemPrompt(t)
	if err != nil {
		return nil, err
	}
	userPrompt, err := prompts.BuildUserPrompt(t)
	if err != nil {
		return nil, err
	}
	schema, err := jsonschema.GenerateSchemaForType(GeneratedTest{})
	if err != nil {
		return nil, fmt.Errorf("build response schema: %w", err)
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "practice_test",
				Schema: schema,
			},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "provider", ProviderOpenAI, "bytes", len(raw), "elapsed", time.Since(start))
	return decodeGenerated(raw)
}

// decodeGenerated parses and validates raw model output.
func decodeGenerated(raw string) (*GeneratedTest, error) {
	if raw == "" {
		return nil, ErrEmptyResponse
	}
	var g GeneratedTest
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w", err)
	}
	if err := Validate(&g); err != nil {
		return nil, err
	}
	return &g, nil
}
