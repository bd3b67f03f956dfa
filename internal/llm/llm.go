package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/satprep/internal/model"
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// DefaultGeminiModel is used when no model is configured for the gemini provider.
const DefaultGeminiModel = "gemini-2.0-flash"

// ErrEmptyResponse is returned when the model answers without any content.
var ErrEmptyResponse = errors.New("LLM returned an empty response")

// Generator produces the content of a practice test. Implementations must return
// output that already passed Validate.
type Generator interface {
	GeneratePracticeTest(ctx context.Context, t model.PracticeTestType) (*GeneratedTest, error)
}

// GeneratedQuestion is one question as produced by the model.
type GeneratedQuestion struct {
	QuestionText  string             `json:"questionText" validate:"required" description:"The main text of the question."`
	PassageText   string             `json:"passageText,omitempty" description:"The passage associated with the question, if any. Crucial for Reading and Writing sections."`
	Options       []string           `json:"options,omitempty" validate:"omitempty,len=4,dive,required" description:"An array of exactly 4 answer choices for multiple-choice questions. Required if questionType is 'multiple_choice'."`
	CorrectAnswer string             `json:"correctAnswer" validate:"required" description:"The correct answer. For multiple-choice, one of the strings from 'options'. For grid-in, the numerical answer as a string."`
	Explanation   string             `json:"explanation" validate:"required" description:"A brief explanation of why the correct answer is correct and why other options might be incorrect."`
	Domain        string             `json:"domain,omitempty" description:"The specific SAT domain or skill this question tests."`
	QuestionType  model.QuestionType `json:"questionType" validate:"required,oneof=multiple_choice grid_in" enum:"multiple_choice,grid_in" description:"The type of the question."`
}

// GeneratedModule groups generated questions.
type GeneratedModule struct {
	Title     string              `json:"title" validate:"required" description:"A descriptive title for this module."`
	Duration  int                 `json:"duration" validate:"gt=0" description:"Estimated time in minutes for this module."`
	Questions []GeneratedQuestion `json:"questions" validate:"min=1,max=30,dive" description:"The questions of this module."`
}

// GeneratedSection is one timed section of a generated test.
type GeneratedSection struct {
	Type     model.SectionType `json:"type" validate:"required,oneof=math verbal" enum:"math,verbal" description:"The type of this section."`
	Duration int               `json:"duration" validate:"gt=0" description:"The total time in minutes allocated for this section."`
	Modules  []GeneratedModule `json:"modules" validate:"min=1,max=5,dive" description:"The modules of this section."`
}

// GeneratedTest is the full object returned by a Generator.
type GeneratedTest struct {
	Title    string             `json:"title" description:"A descriptive title for the practice test."`
	Sections []GeneratedSection `json:"sections" validate:"min=1,dive" description:"The sections of the practice test."`
}

// QuestionCount returns the number of generated questions across all modules.
func (g *GeneratedTest) QuestionCount() int {
	n := 0
	for _, s := range g.Sections {
		for _, m := range s.Modules {
			n += len(m.Questions)
		}
	}
	return n
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// New builds the Generator for cfg.Provider. An empty provider means openai.
func New(ctx context.Context, cfg Config) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		return NewOpenAI(cfg), nil
	case ProviderGemini:
		return NewGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// withTimeout bounds a generation call when a timeout is configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
