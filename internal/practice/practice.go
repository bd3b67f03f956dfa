// Package practice orchestrates generation and persistence of practice tests.
package practice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/satprep/internal/apperr"
	"github.com/pavelanni/satprep/internal/llm"
	"github.com/pavelanni/satprep/internal/model"
)

// Store is the persistence the service needs.
type Store interface {
	CreatePracticeTestTree(ctx context.Context, tree *model.PracticeTestTree) error
	ListPracticeTestsByUser(ctx context.Context, userID string) ([]model.PracticeTest, error)
	GetPracticeTest(ctx context.Context, id string) (*model.PracticeTest, error)
	GetPracticeTestTree(ctx context.Context, id string) (*model.PracticeTestTree, error)
}

// Service creates and reads practice tests.
type Service struct {
	store Store
	gen   llm.Generator
}

func New(store Store, gen llm.Generator) *Service {
	return &Service{store: store, gen: gen}
}

// Create generates a test of type t for callerID and stores it atomically. An empty
// callerID creates a shared test without owner. Every call creates a new test.
func (s *Service) Create(ctx context.Context, t model.PracticeTestType, callerID string) (*model.PracticeTest, error) {
	if !t.Valid() {
		return nil, apperr.BadRequest(fmt.Sprintf("invalid practice test type %q", t)).WithMessageID("ErrInvalidTestType")
	}

	start := time.Now()
	slog.Info("generating practice test", "type", t, "user", callerID)
	gen, err := s.gen.GeneratePracticeTest(ctx, t)
	if err != nil {
		slog.Error("practice test generation failed", "type", t, "user", callerID, "error", err)
		return nil, apperr.Internal("failed to generate practice test", err)
	}
	if err := llm.ValidateFor(gen, t); err != nil {
		slog.Error("generated practice test rejected", "type", t, "error", err)
		return nil, apperr.Internal("failed to generate practice test", err)
	}

	tree := buildTree(gen, t, callerID)
	if err := s.store.CreatePracticeTestTree(ctx, tree); err != nil {
		slog.Error("failed to store practice test", "type", t, "user", callerID, "error", err)
		return nil, apperr.Internal("failed to create practice test", err)
	}

	slog.Info("created practice test",
		"id", tree.ID,
		"type", t,
		"user", callerID,
		"sections", len(tree.Sections),
		"questions", tree.QuestionCount(),
		"elapsed", time.Since(start),
	)
	pt := tree.PracticeTest
	return &pt, nil
}

// buildTree converts generator output into storable rows. Options are dropped for
// grid-in questions and empty optional strings become NULL.
func buildTree(g *llm.GeneratedTest, t model.PracticeTestType, callerID string) *model.PracticeTestTree {
	title := strings.TrimSpace(g.Title)
	if title == "" {
		title = string(t) + " Practice Test"
	}
	tree := &model.PracticeTestTree{
		PracticeTest: model.PracticeTest{
			Title: title,
			Type:  t,
		},
	}
	if callerID != "" {
		tree.UserID = &callerID
	}

	for _, gs := range g.Sections {
		sec := model.SectionTree{Section: model.Section{Type: gs.Type, Duration: gs.Duration}}
		for _, gm := range gs.Modules {
			mod := model.ModuleTree{Module: model.Module{Title: gm.Title, Duration: gm.Duration}}
			for _, gq := range gm.Questions {
				q := model.Question{
					QuestionText:  gq.QuestionText,
					PassageText:   optional(gq.PassageText),
					CorrectAnswer: gq.CorrectAnswer,
					Explanation:   optional(gq.Explanation),
					Domain:        optional(gq.Domain),
					QuestionType:  gq.QuestionType,
				}
				if gq.QuestionType == model.QuestionMultipleChoice {
					q.Options = gq.Options
				}
				mod.Questions = append(mod.Questions, q)
			}
			sec.Modules = append(sec.Modules, mod)
		}
		tree.Sections = append(tree.Sections, sec)
	}
	return tree
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// List returns the tests owned by callerID.
func (s *Service) List(ctx context.Context, callerID string) ([]model.PracticeTest, error) {
	tests, err := s.store.ListPracticeTestsByUser(ctx, callerID)
	if err != nil {
		return nil, apperr.Internal("failed to list practice tests", err)
	}
	return tests, nil
}

// Get returns a test by id for any authenticated caller, or nil when it does not exist.
func (s *Service) Get(ctx context.Context, id string) (*model.PracticeTest, error) {
	t, err := s.store.GetPracticeTest(ctx, id)
	if err != nil {
		return nil, apperr.Internal("failed to get practice test", err)
	}
	return t, nil
}

// GetTree returns a test with all of its questions, or nil when it does not exist.
func (s *Service) GetTree(ctx context.Context, id string) (*model.PracticeTestTree, error) {
	tree, err := s.store.GetPracticeTestTree(ctx, id)
	if err != nil {
		return nil, apperr.Internal("failed to get practice test", err)
	}
	return tree, nil
}
