package practice

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pavelanni/satprep/internal/apperr"
	"github.com/pavelanni/satprep/internal/llm"
	"github.com/pavelanni/satprep/internal/model"
	"github.com/pavelanni/satprep/internal/store"
)

// fakeGenerator returns canned output shaped like the requested type.
type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
	out   func(model.PracticeTestType) *llm.GeneratedTest
}

func (f *fakeGenerator) GeneratePracticeTest(_ context.Context, t model.PracticeTestType) (*llm.GeneratedTest, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out(t), nil
	}
	return sampleGenerated(t), nil
}

func mathSection(duration int) llm.GeneratedSection {
	return llm.GeneratedSection{
		Type: model.SectionMath, Duration: duration,
		Modules: []llm.GeneratedModule{{
			Title: "Algebra", Duration: duration,
			Questions: []llm.GeneratedQuestion{
				{QuestionText: "2+2?", Options: []string{"1", "2", "3", "4"}, CorrectAnswer: "4", Explanation: "Sum.", Domain: "Heart of Algebra", QuestionType: model.QuestionMultipleChoice},
				{QuestionText: "5*5?", CorrectAnswer: "25", Explanation: "Product.", QuestionType: model.QuestionGridIn},
			},
		}},
	}
}

func verbalSection(duration int) llm.GeneratedSection {
	return llm.GeneratedSection{
		Type: model.SectionVerbal, Duration: duration,
		Modules: []llm.GeneratedModule{{
			Title: "Passage 1", Duration: duration,
			Questions: []llm.GeneratedQuestion{
				{QuestionText: "Main idea?", PassageText: "A short passage.", Options: []string{"A", "B", "C", "D"}, CorrectAnswer: "B", Explanation: "Because.", QuestionType: model.QuestionMultipleChoice},
			},
		}},
	}
}

func sampleGenerated(t model.PracticeTestType) *llm.GeneratedTest {
	switch t {
	case model.PracticeTestMath:
		return &llm.GeneratedTest{Title: "Math Challenge", Sections: []llm.GeneratedSection{mathSection(25), mathSection(55)}}
	case model.PracticeTestVerbal:
		return &llm.GeneratedTest{Title: "Verbal Drill", Sections: []llm.GeneratedSection{verbalSection(65), verbalSection(35)}}
	default:
		return &llm.GeneratedTest{Title: "Full SAT", Sections: []llm.GeneratedSection{
			verbalSection(65), verbalSection(35), mathSection(25), mathSection(55),
		}}
	}
}

func newTestService(t *testing.T, gen llm.Generator) (*Service, *store.Store) {
	t.Helper()
	s, err := store.New(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, gen), s
}

func createUser(t *testing.T, s *store.Store, email string) string {
	t.Helper()
	u := &model.User{Name: email, Email: email}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u.ID
}

func TestCreateMath(t *testing.T) {
	svc, st := newTestService(t, &fakeGenerator{})
	ctx := context.Background()
	uid := createUser(t, st, "m@example.com")

	pt, err := svc.Create(ctx, model.PracticeTestMath, uid)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if pt.Title != "Math Challenge" || pt.Type != model.PracticeTestMath {
		t.Errorf("unexpected practice test: %+v", pt)
	}
	if pt.UserID == nil || *pt.UserID != uid {
		t.Errorf("expected owner %s, got %v", uid, pt.UserID)
	}
	if pt.IsPublic {
		t.Error("new tests should not be public")
	}

	tree, err := svc.GetTree(ctx, pt.ID)
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if len(tree.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(tree.Sections))
	}
	for i, want := range []int{25, 55} {
		sec := tree.Sections[i]
		if sec.Type != model.SectionMath {
			t.Errorf("section %d type = %s, want math", i, sec.Type)
		}
		if sec.Duration != want {
			t.Errorf("section %d duration = %d, want %d", i, sec.Duration, want)
		}
		if len(sec.Modules) == 0 || len(sec.Modules[0].Questions) == 0 {
			t.Errorf("section %d is not fully populated", i)
		}
	}

	for _, sec := range tree.Sections {
		for _, mod := range sec.Modules {
			for _, q := range mod.Questions {
				switch q.QuestionType {
				case model.QuestionMultipleChoice:
					if len(q.Options) != 4 {
						t.Errorf("question %s has %d options", q.ID, len(q.Options))
					}
				case model.QuestionGridIn:
					if q.Options != nil {
						t.Errorf("grid-in question %s has options", q.ID)
					}
				}
			}
		}
	}
}

func TestCreateAllTypes(t *testing.T) {
	tests := []struct {
		typ      model.PracticeTestType
		sections []model.SectionType
	}{
		{model.PracticeTestMath, []model.SectionType{model.SectionMath, model.SectionMath}},
		{model.PracticeTestVerbal, []model.SectionType{model.SectionVerbal, model.SectionVerbal}},
		{model.PracticeTestFull, []model.SectionType{model.SectionVerbal, model.SectionVerbal, model.SectionMath, model.SectionMath}},
	}
	svc, st := newTestService(t, &fakeGenerator{})
	uid := createUser(t, st, "all@example.com")

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			pt, err := svc.Create(context.Background(), tt.typ, uid)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			tree, err := svc.GetTree(context.Background(), pt.ID)
			if err != nil {
				t.Fatalf("GetTree: %v", err)
			}
			if len(tree.Sections) != len(tt.sections) {
				t.Fatalf("expected %d sections, got %d", len(tt.sections), len(tree.Sections))
			}
			for i, want := range tt.sections {
				if tree.Sections[i].Type != want {
					t.Errorf("section %d = %s, want %s", i, tree.Sections[i].Type, want)
				}
			}
		})
	}
}

func TestCreateRejectsInvalidTypeBeforeGenerating(t *testing.T) {
	gen := &fakeGenerator{}
	svc, _ := newTestService(t, gen)

	_, err := svc.Create(context.Background(), "history", "user-1")
	if apperr.KindOf(err) != apperr.KindBadRequest {
		t.Fatalf("expected BAD_REQUEST, got %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator should not be called, got %d calls", gen.calls)
	}
}

func TestCreateGenerationFailure(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"generator error", &fakeGenerator{err: errors.New("model unavailable")}},
		{"non-conforming output", &fakeGenerator{out: func(model.PracticeTestType) *llm.GeneratedTest {
			g := sampleGenerated(model.PracticeTestMath)
			g.Sections[0].Modules[0].Questions[0].Options = []string{"1", "2", "3"}
			return g
		}}},
		{"wrong section layout", &fakeGenerator{out: func(model.PracticeTestType) *llm.GeneratedTest {
			return &llm.GeneratedTest{Title: "Verbal only", Sections: []llm.GeneratedSection{verbalSection(65)}}
		}}},
		{"full layout for math", &fakeGenerator{out: func(model.PracticeTestType) *llm.GeneratedTest {
			return sampleGenerated(model.PracticeTestFull)
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newTestService(t, tt.gen)
			uid := createUser(t, st, "g@example.com")

			_, err := svc.Create(context.Background(), model.PracticeTestMath, uid)
			if apperr.KindOf(err) != apperr.KindInternal {
				t.Fatalf("expected INTERNAL_SERVER_ERROR, got %v", err)
			}
			list, _ := svc.List(context.Background(), uid)
			if len(list) != 0 {
				t.Errorf("expected no stored tests, got %d", len(list))
			}
		})
	}
}

func TestCreateIsAtomic(t *testing.T) {
	svc, st := newTestService(t, &fakeGenerator{})
	ctx := context.Background()

	// The owner does not exist, so the first insert violates its foreign key.
	_, err := svc.Create(ctx, model.PracticeTestFull, "missing-user")
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("expected INTERNAL_SERVER_ERROR, got %v", err)
	}
	list, err := st.ListPracticeTestsByUser(ctx, "missing-user")
	if err != nil {
		t.Fatalf("ListPracticeTestsByUser: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no rows after failed create, got %d", len(list))
	}
}

func TestCreateIsNotIdempotent(t *testing.T) {
	svc, st := newTestService(t, &fakeGenerator{})
	ctx := context.Background()
	uid := createUser(t, st, "twice@example.com")

	a, err := svc.Create(ctx, model.PracticeTestVerbal, uid)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	b, err := svc.Create(ctx, model.PracticeTestVerbal, uid)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == b.ID {
		t.Error("expected two distinct tests")
	}
	list, _ := svc.List(ctx, uid)
	if len(list) != 2 {
		t.Errorf("expected 2 tests, got %d", len(list))
	}
}

func TestListOwnership(t *testing.T) {
	svc, st := newTestService(t, &fakeGenerator{})
	ctx := context.Background()
	alice := createUser(t, st, "alice@example.com")
	bob := createUser(t, st, "bob@example.com")

	if _, err := svc.Create(ctx, model.PracticeTestMath, alice); err != nil {
		t.Fatalf("Create: %v", err)
	}
	bobs, err := svc.Create(ctx, model.PracticeTestMath, bob)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := svc.List(ctx, alice)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, pt := range list {
		if pt.ID == bobs.ID {
			t.Error("alice's list contains bob's test")
		}
	}

	// Reads by id are not filtered by owner.
	got, err := svc.Get(ctx, bobs.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ID != bobs.ID {
		t.Errorf("expected to read bob's test by id, got %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{})
	got, err := svc.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
	tree, err := svc.GetTree(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if tree != nil {
		t.Errorf("expected nil tree, got %+v", tree)
	}
}

func TestBuildTree(t *testing.T) {
	g := sampleGenerated(model.PracticeTestFull)
	g.Title = "  "
	g.Sections[2].Modules[0].Questions[1].Options = []string{"stray"}

	tree := buildTree(g, model.PracticeTestFull, "")
	if tree.Title != "full Practice Test" {
		t.Errorf("expected fallback title, got %q", tree.Title)
	}
	if tree.UserID != nil {
		t.Error("empty caller should produce an ownerless test")
	}
	q := tree.Sections[2].Modules[0].Questions[1]
	if q.Options != nil {
		t.Errorf("grid-in options should be dropped, got %v", q.Options)
	}
	if q.Domain != nil {
		t.Errorf("empty domain should be nil, got %v", *q.Domain)
	}
	if p := tree.Sections[0].Modules[0].Questions[0].PassageText; p == nil || *p != "A short passage." {
		t.Errorf("expected passage text to carry over, got %v", p)
	}
}
