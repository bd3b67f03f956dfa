package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/pavelanni/satprep/internal/llm/prompts"
	"github.com/pavelanni/satprep/internal/model"
)

// GeminiClient generates tests with the Google Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini creates a Gemini client. The API key is required.
func NewGemini(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	m := cfg.Model
	if m == "" {
		m = DefaultGeminiModel
	}
	return &GeminiClient{client: client, model: m, timeout: cfg.Timeout}, nil
}

// GeneratePracticeTest requests JSON output constrained by practiceTestSchema.
func (c *GeminiClient) GeneratePracticeTest(ctx context.Context, t model.PracticeTestType) (*GeneratedTest, error) {
	systemPrompt, err := prompts.BuildSystemPrompt(t)
	if err != nil {
		return nil, err
	}
	userPrompt, err := prompts.BuildUserPrompt(t)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    practiceTestSchema(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	raw := resp.Text()
	slog.Debug("LLM response", "provider", ProviderGemini, "bytes", len(raw), "elapsed", time.Since(start))
	return decodeGenerated(raw)
}

func int64Ptr(n int64) *int64 { return &n }

// practiceTestSchema mirrors GeneratedTest in Gemini's schema dialect.
func practiceTestSchema() *genai.Schema {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	question := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"questionText": str("The main text of the question."),
			"passageText":  str("The passage associated with the question, if any. Crucial for Reading and Writing sections."),
			"options": {
				Type:        genai.TypeArray,
				Items:       str("An answer choice."),
				MinItems:    int64Ptr(4),
				MaxItems:    int64Ptr(4),
				Description: "An array of exactly 4 answer choices for multiple-choice questions.",
			},
			"correctAnswer": str("The correct answer. For multiple-choice, one of the options. For grid-in, the numerical answer as a string."),
			"explanation":   str("A brief explanation of why the correct answer is correct."),
			"domain":        str("The specific SAT domain or skill this question tests."),
			"questionType": {
				Type: genai.TypeString,
				Enum: []string{string(model.QuestionMultipleChoice), string(model.QuestionGridIn)},
			},
		},
		Required:         []string{"questionText", "correctAnswer", "explanation", "questionType"},
		PropertyOrdering: []string{"questionText", "passageText", "options", "correctAnswer", "explanation", "domain", "questionType"},
	}
	module := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":     str("A descriptive title for this module."),
			"duration":  {Type: genai.TypeInteger, Description: "Estimated time in minutes for this module."},
			"questions": {Type: genai.TypeArray, Items: question, MinItems: int64Ptr(1), MaxItems: int64Ptr(30)},
		},
		Required:         []string{"title", "duration", "questions"},
		PropertyOrdering: []string{"title", "duration", "questions"},
	}
	section := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"type":     {Type: genai.TypeString, Enum: []string{string(model.SectionMath), string(model.SectionVerbal)}},
			"duration": {Type: genai.TypeInteger, Description: "The total time in minutes allocated for this section."},
			"modules":  {Type: genai.TypeArray, Items: module, MinItems: int64Ptr(1), MaxItems: int64Ptr(5)},
		},
		Required:         []string{"type", "duration", "modules"},
		PropertyOrdering: []string{"type", "duration", "modules"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":    str("A descriptive title for the practice test."),
			"sections": {Type: genai.TypeArray, Items: section, MinItems: int64Ptr(1)},
		},
		Required:         []string{"title", "sections"},
		PropertyOrdering: []string{"title", "sections"},
	}
}
