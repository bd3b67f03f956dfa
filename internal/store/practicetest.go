package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/satprep/internal/model"
)

const practiceTestColumns = `id, title, type, user_id, is_public, created_at, updated_at`

func scanPracticeTest(row interface{ Scan(...any) error }) (*model.PracticeTest, error) {
	var t model.PracticeTest
	var updatedAt sql.NullTime
	err := row.Scan(&t.ID, &t.Title, &t.Type, &t.UserID, &t.IsPublic, &t.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		t.UpdatedAt = &updatedAt.Time
	}
	return &t, nil
}

// CreatePracticeTestTree persists a practice test with all of its sections, modules and
// questions in one transaction. Sibling rows are inserted concurrently; the first failure
// cancels the remaining inserts and the whole tree is rolled back. Missing ids, positions
// and timestamps are filled in on the tree.
func (s *Store) CreatePracticeTestTree(ctx context.Context, tree *model.PracticeTestTree) error {
	prepareTree(tree)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		t := tree.PracticeTest
		if _, err := s.exec(ctx, tx,
			`INSERT INTO web_practice_test (`+practiceTestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.Type, t.UserID, t.IsPublic, t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert practice test: %w", err)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := range tree.Sections {
			sec := &tree.Sections[i]
			g.Go(func() error {
				return s.insertSection(gctx, tx, sec)
			})
		}
		return g.Wait()
	})
}

func (s *Store) insertSection(ctx context.Context, tx *sql.Tx, sec *model.SectionTree) error {
	if _, err := s.exec(ctx, tx,
		`INSERT INTO web_section (id, practice_test_id, position, type, duration) VALUES (?, ?, ?, ?, ?)`,
		sec.ID, sec.PracticeTestID, sec.Position, sec.Type, sec.Duration,
	); err != nil {
		return fmt.Errorf("insert section %d: %w", sec.Position, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range sec.Modules {
		mod := &sec.Modules[i]
		g.Go(func() error {
			return s.insertModule(gctx, tx, mod)
		})
	}
	return g.Wait()
}

func (s *Store) insertModule(ctx context.Context, tx *sql.Tx, mod *model.ModuleTree) error {
	if _, err := s.exec(ctx, tx,
		`INSERT INTO web_module (id, section_id, position, title, duration) VALUES (?, ?, ?, ?, ?)`,
		mod.ID, mod.SectionID, mod.Position, mod.Title, mod.Duration,
	); err != nil {
		return fmt.Errorf("insert module %q: %w", mod.Title, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range mod.Questions {
		q := &mod.Questions[i]
		g.Go(func() error {
			return s.insertQuestion(gctx, tx, q)
		})
	}
	return g.Wait()
}

func (s *Store) insertQuestion(ctx context.Context, tx *sql.Tx, q *model.Question) error {
	var options any
	if q.Options != nil {
		b, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		options = string(b)
	}
	if _, err := s.exec(ctx, tx,
		`INSERT INTO web_question (id, module_id, position, question_text, passage_text, options, correct_answer, explanation, domain, type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.ModuleID, q.Position, q.QuestionText, q.PassageText, options, q.CorrectAnswer, q.Explanation, q.Domain, q.QuestionType,
	); err != nil {
		return fmt.Errorf("insert question %d: %w", q.Position, err)
	}
	return nil
}

// prepareTree assigns ids, parent links, positions and timestamps before the concurrent
// inserts start, so goroutines only read shared state.
func prepareTree(tree *model.PracticeTestTree) {
	if tree.ID == "" {
		tree.ID = uuid.NewString()
	}
	if tree.CreatedAt.IsZero() {
		tree.CreatedAt = time.Now().UTC()
	}
	for i := range tree.Sections {
		sec := &tree.Sections[i]
		if sec.ID == "" {
			sec.ID = uuid.NewString()
		}
		sec.PracticeTestID = tree.ID
		sec.Position = i
		for j := range sec.Modules {
			mod := &sec.Modules[j]
			if mod.ID == "" {
				mod.ID = uuid.NewString()
			}
			mod.SectionID = sec.ID
			mod.Position = j
			for k := range mod.Questions {
				q := &mod.Questions[k]
				if q.ID == "" {
					q.ID = uuid.NewString()
				}
				q.ModuleID = mod.ID
				q.Position = k
			}
		}
	}
}

// ListPracticeTestsByUser returns all tests owned by the user in storage order.
func (s *Store) ListPracticeTestsByUser(ctx context.Context, userID string) ([]model.PracticeTest, error) {
	return s.listPracticeTests(ctx, `SELECT `+practiceTestColumns+` FROM web_practice_test WHERE user_id = ?`, userID)
}

// ListPublicPracticeTests returns shared tests: ownerless or flagged public.
func (s *Store) ListPublicPracticeTests(ctx context.Context) ([]model.PracticeTest, error) {
	return s.listPracticeTests(ctx,
		`SELECT `+practiceTestColumns+` FROM web_practice_test WHERE user_id IS NULL OR is_public = ?`, true)
}

func (s *Store) listPracticeTests(ctx context.Context, query string, args ...any) ([]model.PracticeTest, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tests := []model.PracticeTest{}
	for rows.Next() {
		t, err := scanPracticeTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, *t)
	}
	return tests, rows.Err()
}

// GetPracticeTest returns a test by id regardless of owner, or nil if not found.
func (s *Store) GetPracticeTest(ctx context.Context, id string) (*model.PracticeTest, error) {
	t, err := scanPracticeTest(s.queryRow(ctx, s.db,
		`SELECT `+practiceTestColumns+` FROM web_practice_test WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// DeletePracticeTest removes a test; its sections, modules, questions and attempts cascade.
func (s *Store) DeletePracticeTest(ctx context.Context, id string) error {
	_, err := s.exec(ctx, s.db, `DELETE FROM web_practice_test WHERE id = ?`, id)
	return err
}

// ListSections returns the sections of a test ordered by position.
func (s *Store) ListSections(ctx context.Context, practiceTestID string) ([]model.Section, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT id, practice_test_id, position, type, duration FROM web_section
		 WHERE practice_test_id = ? ORDER BY position`, practiceTestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sections []model.Section
	for rows.Next() {
		var sec model.Section
		if err := rows.Scan(&sec.ID, &sec.PracticeTestID, &sec.Position, &sec.Type, &sec.Duration); err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// ListModules returns the modules of every section of a test, ordered by section then position.
func (s *Store) ListModules(ctx context.Context, practiceTestID string) ([]model.Module, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT m.id, m.section_id, m.position, m.title, m.duration
		 FROM web_module m JOIN web_section s ON s.id = m.section_id
		 WHERE s.practice_test_id = ? ORDER BY s.position, m.position`, practiceTestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var modules []model.Module
	for rows.Next() {
		var m model.Module
		if err := rows.Scan(&m.ID, &m.SectionID, &m.Position, &m.Title, &m.Duration); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// ListQuestions returns every question of a test, ordered by section, module and position.
func (s *Store) ListQuestions(ctx context.Context, practiceTestID string) ([]model.Question, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT q.id, q.module_id, q.position, q.question_text, q.passage_text, q.options,
		        q.correct_answer, q.explanation, q.domain, q.type
		 FROM web_question q
		 JOIN web_module m ON m.id = q.module_id
		 JOIN web_section s ON s.id = m.section_id
		 WHERE s.practice_test_id = ? ORDER BY s.position, m.position, q.position`, practiceTestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var options sql.NullString
		if err := rows.Scan(&q.ID, &q.ModuleID, &q.Position, &q.QuestionText, &q.PassageText, &options,
			&q.CorrectAnswer, &q.Explanation, &q.Domain, &q.QuestionType); err != nil {
			return nil, err
		}
		if options.Valid && options.String != "" {
			if err := json.Unmarshal([]byte(options.String), &q.Options); err != nil {
				return nil, fmt.Errorf("decode options of question %s: %w", q.ID, err)
			}
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetPracticeTestTree loads a test with its full subtree, or nil if the test does not exist.
func (s *Store) GetPracticeTestTree(ctx context.Context, id string) (*model.PracticeTestTree, error) {
	t, err := s.GetPracticeTest(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	sections, err := s.ListSections(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	modules, err := s.ListModules(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	questions, err := s.ListQuestions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	byModule := make(map[string][]model.Question)
	for _, q := range questions {
		byModule[q.ModuleID] = append(byModule[q.ModuleID], q)
	}
	bySection := make(map[string][]model.ModuleTree)
	for _, m := range modules {
		bySection[m.SectionID] = append(bySection[m.SectionID], model.ModuleTree{Module: m, Questions: byModule[m.ID]})
	}
	tree := &model.PracticeTestTree{PracticeTest: *t}
	for _, sec := range sections {
		tree.Sections = append(tree.Sections, model.SectionTree{Section: sec, Modules: bySection[sec.ID]})
	}
	return tree, nil
}
