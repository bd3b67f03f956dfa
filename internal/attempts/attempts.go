// Package attempts tracks users' runs through practice tests.
package attempts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/pavelanni/satprep/internal/apperr"
	"github.com/pavelanni/satprep/internal/model"
	"github.com/pavelanni/satprep/internal/store"
)

// Store is the persistence the tracker needs.
type Store interface {
	CreateTestAttempt(ctx context.Context, userID, practiceTestID string) (*model.TestAttempt, error)
	ListTestAttemptsByUser(ctx context.Context, userID string) ([]model.TestAttempt, error)
	GetTestAttempt(ctx context.Context, id string) (*model.TestAttempt, error)
	UpdateTestAttempt(ctx context.Context, id string, status model.AttemptStatus, results []model.ModuleAttempt) (*model.TestAttempt, error)
	GetPracticeTestTree(ctx context.Context, id string) (*model.PracticeTestTree, error)
}

type Tracker struct {
	store Store
}

func New(store Store) *Tracker {
	return &Tracker{store: store}
}

// Create starts a pending attempt. The test id is not looked up first; a missing
// test is reported by the foreign key.
func (t *Tracker) Create(ctx context.Context, practiceTestID, callerID string) (*model.TestAttempt, error) {
	if practiceTestID == "" {
		return nil, apperr.BadRequest("practiceTestId is required")
	}
	a, err := t.store.CreateTestAttempt(ctx, callerID, practiceTestID)
	if errors.Is(err, store.ErrForeignKey) {
		return nil, apperr.BadRequest("practice test not found").WithMessageID("ErrPracticeTestNotFound")
	}
	if err != nil {
		slog.Error("failed to create test attempt", "test", practiceTestID, "user", callerID, "error", err)
		return nil, apperr.Internal("failed to create test attempt", err)
	}
	slog.Info("created test attempt", "id", a.ID, "test", practiceTestID, "user", callerID)
	return a, nil
}

// List returns every attempt owned by callerID.
func (t *Tracker) List(ctx context.Context, callerID string) ([]model.TestAttempt, error) {
	list, err := t.store.ListTestAttemptsByUser(ctx, callerID)
	if err != nil {
		return nil, apperr.Internal("failed to list test attempts", err)
	}
	return list, nil
}

// Update records progress on an attempt. Answers are checked against the test's
// questions; correctness and module scores are computed here, never trusted from input.
// Completed attempts are frozen.
func (t *Tracker) Update(ctx context.Context, id, callerID string, status model.AttemptStatus, results []model.ModuleAttempt) (*model.TestAttempt, error) {
	if !status.Valid() {
		return nil, apperr.BadRequest(fmt.Sprintf("invalid status %q", status))
	}
	a, err := t.store.GetTestAttempt(ctx, id)
	if err != nil {
		return nil, apperr.Internal("failed to load test attempt", err)
	}
	if a == nil {
		return nil, apperr.NotFound("test attempt not found")
	}
	if a.UserID != callerID {
		return nil, apperr.Forbidden("test attempt belongs to another user")
	}
	if a.Status == model.AttemptCompleted {
		return nil, apperr.Conflict("test attempt is already completed").WithMessageID("ErrAttemptCompleted")
	}

	tree, err := t.store.GetPracticeTestTree(ctx, a.PracticeTestID)
	if err != nil {
		return nil, apperr.Internal("failed to load practice test", err)
	}
	if tree == nil {
		return nil, apperr.NotFound("practice test not found")
	}
	scored, err := Score(tree, results)
	if err != nil {
		return nil, apperr.BadRequest(err.Error())
	}

	updated, err := t.store.UpdateTestAttempt(ctx, id, status, scored)
	if err != nil {
		return nil, apperr.Internal("failed to update test attempt", err)
	}
	if updated == nil {
		return nil, apperr.NotFound("test attempt not found")
	}
	slog.Info("updated test attempt", "id", id, "status", status, "modules", len(scored))
	return updated, nil
}

// Score validates results against the test tree and fills in IsCorrect for every
// answered question and Score for every module: correct answers over module questions.
func Score(tree *model.PracticeTestTree, results []model.ModuleAttempt) ([]model.ModuleAttempt, error) {
	index := tree.ModuleQuestions()
	out := make([]model.ModuleAttempt, 0, len(results))
	seen := make(map[string]bool, len(results))

	for _, r := range results {
		questions, ok := index[r.ModuleID]
		if !ok {
			return nil, fmt.Errorf("module %q is not part of this practice test", r.ModuleID)
		}
		if seen[r.ModuleID] {
			return nil, fmt.Errorf("module %q appears more than once", r.ModuleID)
		}
		seen[r.ModuleID] = true

		answered := make(map[string]bool, len(r.Answers))
		correct := 0
		answers := make([]model.AnswerAttempt, 0, len(r.Answers))
		for _, ans := range r.Answers {
			q, ok := questions[ans.QuestionID]
			if !ok {
				return nil, fmt.Errorf("question %q is not part of module %q", ans.QuestionID, r.ModuleID)
			}
			if answered[ans.QuestionID] {
				return nil, fmt.Errorf("question %q answered more than once", ans.QuestionID)
			}
			answered[ans.QuestionID] = true

			ans.IsCorrect = nil
			if ans.UserAnswer != nil {
				hit := IsCorrect(q, *ans.UserAnswer)
				ans.IsCorrect = &hit
				if hit {
					correct++
				}
			}
			answers = append(answers, ans)
		}
		r.Answers = answers
		if len(questions) > 0 {
			score := math.Round(float64(correct)/float64(len(questions))*10000) / 10000
			r.Score = &score
		}
		out = append(out, r)
	}
	return out, nil
}

// IsCorrect compares a user answer with the question's key. Grid-in answers compare
// numerically so "0.5", ".5" and "1/2" are equivalent.
func IsCorrect(q model.Question, answer string) bool {
	answer = strings.TrimSpace(answer)
	if q.QuestionType == model.QuestionGridIn {
		want, err1 := parseNumber(q.CorrectAnswer)
		got, err2 := parseNumber(answer)
		if err1 == nil && err2 == nil {
			return math.Abs(want-got) < 1e-9
		}
	}
	return answer == strings.TrimSpace(q.CorrectAnswer)
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return 0, err
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err != nil {
			return 0, err
		}
		if d == 0 {
			return 0, errors.New("division by zero")
		}
		return n / d, nil
	}
	return strconv.ParseFloat(s, 64)
}
