package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/satprep/internal/apperr"
	"github.com/pavelanni/satprep/internal/attempts"
	"github.com/pavelanni/satprep/internal/auth"
	appI18n "github.com/pavelanni/satprep/internal/i18n"
	"github.com/pavelanni/satprep/internal/llm"
	"github.com/pavelanni/satprep/internal/model"
	"github.com/pavelanni/satprep/internal/notify"
	"github.com/pavelanni/satprep/internal/practice"
	"github.com/pavelanni/satprep/internal/store"
)

type stubGenerator struct {
	err error
}

func (g *stubGenerator) GeneratePracticeTest(_ context.Context, t model.PracticeTestType) (*llm.GeneratedTest, error) {
	if g.err != nil {
		return nil, g.err
	}
	module := llm.GeneratedModule{
		Title: "Algebra", Duration: 25,
		Questions: []llm.GeneratedQuestion{
			{QuestionText: "2+2?", Options: []string{"1", "2", "3", "4"}, CorrectAnswer: "4", Explanation: "Sum.", QuestionType: model.QuestionMultipleChoice},
			{QuestionText: "5*5?", CorrectAnswer: "25", Explanation: "Product.", QuestionType: model.QuestionGridIn},
		},
	}
	return &llm.GeneratedTest{
		Title: "Math Practice",
		Sections: []llm.GeneratedSection{
			{Type: model.SectionMath, Duration: 25, Modules: []llm.GeneratedModule{module}},
			{Type: model.SectionMath, Duration: 55, Modules: []llm.GeneratedModule{module}},
		},
	}, nil
}

type testServer struct {
	t   *testing.T
	h   http.Handler
	gen *stubGenerator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	st, err := store.New(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	authSvc, err := auth.New(st, notify.LogMailer{}, auth.Config{
		Secret:  []byte("handler-test-secret-0123456789"),
		BaseURL: "http://localhost:8080",
	})
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	gen := &stubGenerator{}
	h := New(practice.New(st, gen), attempts.New(st), authSvc)
	return &testServer{t: t, h: h.Router(), gen: gen}
}

type call struct {
	method string
	path   string
	body   any
	token  string
	header map[string]string
}

func (s *testServer) do(c call) *httptest.ResponseRecorder {
	s.t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		if raw, ok := c.body.(string); ok {
			body.WriteString(raw)
		} else if err := json.NewEncoder(&body).Encode(c.body); err != nil {
			s.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, status, rec.Body.String())
	}
}

func (s *testServer) signUp(email string) string {
	s.t.Helper()
	rec := s.do(call{method: http.MethodPost, path: "/api/auth/sign-up/email", body: map[string]string{
		"name": "Student", "email": email, "password": "password123",
	}})
	wantStatus(s.t, rec, http.StatusOK)
	resp := decode[sessionResponse](s.t, rec)
	if resp.Token == "" || resp.User == nil {
		s.t.Fatalf("unexpected sign-up response %s", rec.Body.String())
	}
	return resp.Token
}

func TestEmptyProcedure(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(call{method: http.MethodGet, path: "/api/empty.procedure"})
	wantStatus(t, rec, http.StatusOK)
	if got := decode[string](t, rec); got != "Hello World" {
		t.Errorf("body = %q", got)
	}
}

func TestProceduresRequireSession(t *testing.T) {
	s := newTestServer(t)
	paths := []call{
		{method: http.MethodPost, path: "/api/practiceTest.create", body: map[string]string{"type": "math"}},
		{method: http.MethodGet, path: "/api/practiceTest.get"},
		{method: http.MethodGet, path: "/api/practiceTest.getById?id=x"},
		{method: http.MethodGet, path: "/api/practiceTest.getTree?id=x"},
		{method: http.MethodPost, path: "/api/testAttempts.create", body: map[string]string{"practiceTestId": "x"}},
		{method: http.MethodGet, path: "/api/testAttempts.get"},
		{method: http.MethodPost, path: "/api/testAttempts.update", body: map[string]string{"id": "x"}},
	}
	for _, c := range paths {
		t.Run(c.path, func(t *testing.T) {
			c.token = "not-a-session"
			rec := s.do(c)
			wantStatus(t, rec, http.StatusUnauthorized)
			body := decode[errorBody](t, rec)
			if body.Error.Kind != apperr.KindUnauthorized || body.Error.Message != "You must be signed in to do that." {
				t.Errorf("unexpected error body %+v", body)
			}
		})
	}
}

func TestPracticeTestProcedures(t *testing.T) {
	s := newTestServer(t)
	token := s.signUp("student@example.com")
	other := s.signUp("other@example.com")

	rec := s.do(call{method: http.MethodPost, path: "/api/practiceTest.create", body: map[string]string{"type": "math"}, token: token})
	wantStatus(t, rec, http.StatusOK)
	pt := decode[model.PracticeTest](t, rec)
	if pt.ID == "" || pt.Type != model.PracticeTestMath || pt.Title != "Math Practice" || pt.IsPublic {
		t.Fatalf("unexpected practice test %+v", pt)
	}

	rec = s.do(call{method: http.MethodGet, path: "/api/practiceTest.get", token: token})
	wantStatus(t, rec, http.StatusOK)
	if list := decode[[]model.PracticeTest](t, rec); len(list) != 1 || list[0].ID != pt.ID {
		t.Errorf("owner list = %+v", list)
	}

	rec = s.do(call{method: http.MethodGet, path: "/api/practiceTest.get", token: other})
	wantStatus(t, rec, http.StatusOK)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("other user list = %s, want []", rec.Body.String())
	}

	// getById has no ownership filter.
	rec = s.do(call{method: http.MethodGet, path: "/api/practiceTest.getById?id=" + pt.ID, token: other})
	wantStatus(t, rec, http.StatusOK)
	if got := decode[model.PracticeTest](t, rec); got.ID != pt.ID {
		t.Errorf("getById = %+v", got)
	}

	rec = s.do(call{method: http.MethodGet, path: "/api/practiceTest.getById?id=missing", token: token})
	wantStatus(t, rec, http.StatusOK)
	if strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("missing test body = %s, want null", rec.Body.String())
	}

	rec = s.do(call{method: http.MethodGet, path: "/api/practiceTest.getById", token: token})
	wantStatus(t, rec, http.StatusBadRequest)

	rec = s.do(call{method: http.MethodGet, path: "/api/practiceTest.getTree?id=" + pt.ID, token: token})
	wantStatus(t, rec, http.StatusOK)
	tree := decode[model.PracticeTestTree](t, rec)
	if len(tree.Sections) != 2 || tree.Sections[0].Duration != 25 || tree.Sections[1].Duration != 55 {
		t.Errorf("unexpected tree sections %+v", tree.Sections)
	}
	if tree.QuestionCount() != 4 {
		t.Errorf("question count = %d, want 4", tree.QuestionCount())
	}
}

func TestCreatePracticeTestErrors(t *testing.T) {
	s := newTestServer(t)
	token := s.signUp("student@example.com")

	tests := []struct {
		name    string
		body    any
		genErr  error
		lang    string
		status  int
		message string
	}{
		{"invalid type", map[string]string{"type": "history"}, nil, "", http.StatusBadRequest, "Unknown practice test type. Choose math, verbal or full."},
		{"invalid type ru", map[string]string{"type": "history"}, nil, "ru", http.StatusBadRequest, "Неизвестный тип теста. Выберите math, verbal или full."},
		{"bad json", "{", nil, "", http.StatusBadRequest, "The request body could not be read."},
		{"generation failure", map[string]string{"type": "math"}, errors.New("model offline"), "", http.StatusInternalServerError, "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.gen.err = tt.genErr
			defer func() { s.gen.err = nil }()
			rec := s.do(call{
				method: http.MethodPost, path: "/api/practiceTest.create", body: tt.body, token: token,
				header: map[string]string{"Accept-Language": tt.lang},
			})
			wantStatus(t, rec, tt.status)
			if got := decode[errorBody](t, rec).Error.Message; got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
			if strings.Contains(rec.Body.String(), "model offline") {
				t.Error("internal error details must not leak")
			}
		})
	}
}

func TestTestAttemptProcedures(t *testing.T) {
	s := newTestServer(t)
	token := s.signUp("student@example.com")
	other := s.signUp("other@example.com")

	rec := s.do(call{method: http.MethodPost, path: "/api/practiceTest.create", body: map[string]string{"type": "math"}, token: token})
	wantStatus(t, rec, http.StatusOK)
	pt := decode[model.PracticeTest](t, rec)
	rec = s.do(call{method: http.MethodGet, path: "/api/practiceTest.getTree?id=" + pt.ID, token: token})
	tree := decode[model.PracticeTestTree](t, rec)

	rec = s.do(call{method: http.MethodPost, path: "/api/testAttempts.create", body: map[string]string{"practiceTestId": "missing"}, token: token})
	wantStatus(t, rec, http.StatusBadRequest)

	rec = s.do(call{method: http.MethodPost, path: "/api/testAttempts.create", body: map[string]string{"practiceTestId": pt.ID}, token: token})
	wantStatus(t, rec, http.StatusOK)
	attempt := decode[model.TestAttempt](t, rec)
	if attempt.Status != model.AttemptPending || len(attempt.Results) != 0 {
		t.Fatalf("unexpected attempt %+v", attempt)
	}

	rec = s.do(call{method: http.MethodGet, path: "/api/testAttempts.get", token: token})
	wantStatus(t, rec, http.StatusOK)
	if list := decode[[]model.TestAttempt](t, rec); len(list) != 1 || list[0].ID != attempt.ID {
		t.Errorf("attempt list = %+v", list)
	}

	mod := tree.Sections[0].Modules[0]
	four, wrong := "4", "24"
	update := updateTestAttemptRequest{
		ID:     attempt.ID,
		Status: model.AttemptCompleted,
		Results: []model.ModuleAttempt{{
			ModuleID:    mod.ID,
			StartedAt:   "2026-01-01T10:00:00Z",
			CompletedAt: "2026-01-01T10:25:00Z",
			Answers: []model.AnswerAttempt{
				{QuestionID: mod.Questions[0].ID, UserAnswer: &four},
				{QuestionID: mod.Questions[1].ID, UserAnswer: &wrong},
			},
		}},
	}

	rec = s.do(call{method: http.MethodPost, path: "/api/testAttempts.update", body: update, token: other})
	wantStatus(t, rec, http.StatusForbidden)

	rec = s.do(call{method: http.MethodPost, path: "/api/testAttempts.update", body: update, token: token})
	wantStatus(t, rec, http.StatusOK)
	updated := decode[model.TestAttempt](t, rec)
	if updated.Status != model.AttemptCompleted || len(updated.Results) != 1 {
		t.Fatalf("unexpected update %+v", updated)
	}
	if score := updated.Results[0].Score; score == nil || *score != 0.5 {
		t.Errorf("module score = %v, want 0.5", score)
	}

	rec = s.do(call{method: http.MethodPost, path: "/api/testAttempts.update", body: update, token: token})
	wantStatus(t, rec, http.StatusConflict)
}

func TestUntrustedOrigin(t *testing.T) {
	s := newTestServer(t)
	body := map[string]string{"email": "a@example.com", "password": "password123"}

	rec := s.do(call{method: http.MethodPost, path: "/api/auth/sign-in/email", body: body,
		header: map[string]string{"Origin": "https://evil.example.com"}})
	wantStatus(t, rec, http.StatusForbidden)
	if got := decode[errorBody](t, rec).Error.Message; got != "Request origin is not allowed." {
		t.Errorf("message = %q", got)
	}

	rec = s.do(call{method: http.MethodPost, path: "/api/auth/sign-in/email", body: body,
		header: map[string]string{"Origin": "http://localhost:8080"}})
	wantStatus(t, rec, http.StatusUnauthorized)

	rec = s.do(call{method: http.MethodGet, path: "/api/empty.procedure",
		header: map[string]string{"Origin": "https://evil.example.com"}})
	wantStatus(t, rec, http.StatusOK)
}

func TestSessionCookies(t *testing.T) {
	s := newTestServer(t)
	s.signUp("cookie@example.com")

	rec := s.do(call{method: http.MethodPost, path: "/api/auth/sign-in/email", body: map[string]string{
		"email": "cookie@example.com", "password": "password123",
	}})
	wantStatus(t, rec, http.StatusOK)

	var cookies []string
	for _, c := range rec.Result().Cookies() {
		cookies = append(cookies, c.Name+"="+c.Value)
	}
	if len(cookies) != 2 {
		t.Fatalf("cookies = %v, want session token and data", cookies)
	}
	jar := map[string]string{"Cookie": strings.Join(cookies, "; ")}

	rec = s.do(call{method: http.MethodGet, path: "/api/auth/get-session", header: jar})
	wantStatus(t, rec, http.StatusOK)
	sess := decode[*model.SessionWithUser](t, rec)
	if sess == nil || sess.User.Email != "cookie@example.com" {
		t.Fatalf("get-session = %s", rec.Body.String())
	}

	rec = s.do(call{method: http.MethodGet, path: "/api/practiceTest.get", header: jar})
	wantStatus(t, rec, http.StatusOK)

	rec = s.do(call{method: http.MethodPost, path: "/api/auth/sign-out", header: jar})
	wantStatus(t, rec, http.StatusOK)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			t.Errorf("cookie %s not cleared", c.Name)
		}
	}

	rec = s.do(call{method: http.MethodGet, path: "/api/auth/get-session", token: sess.Session.Token})
	wantStatus(t, rec, http.StatusOK)
	if strings.TrimSpace(rec.Body.String()) != "null" {
		t.Errorf("session after sign-out = %s", rec.Body.String())
	}
}

func TestAuthErrors(t *testing.T) {
	s := newTestServer(t)
	s.signUp("taken@example.com")

	tests := []struct {
		name    string
		path    string
		body    any
		status  int
		message string
	}{
		{"duplicate email", "/api/auth/sign-up/email", map[string]string{"name": "A", "email": "taken@example.com", "password": "password123"}, http.StatusConflict, "An account with this email already exists."},
		{"short password", "/api/auth/sign-up/email", map[string]string{"name": "A", "email": "new@example.com", "password": "short"}, http.StatusBadRequest, "Passwords must be between 8 and 128 characters."},
		{"wrong password", "/api/auth/sign-in/email", map[string]string{"email": "taken@example.com", "password": "nope-nope"}, http.StatusUnauthorized, "Invalid email, username or password."},
		{"unknown username", "/api/auth/sign-in/username", map[string]string{"username": "ghost", "password": "password123"}, http.StatusUnauthorized, "Invalid email, username or password."},
		{"bad reset token", "/api/auth/reset-password", map[string]string{"token": "nope", "newPassword": "password123"}, http.StatusBadRequest, "This link is invalid or has expired."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(call{method: http.MethodPost, path: tt.path, body: tt.body})
			wantStatus(t, rec, tt.status)
			if got := decode[errorBody](t, rec).Error.Message; got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestForgetPasswordAlwaysSucceeds(t *testing.T) {
	s := newTestServer(t)
	s.signUp("known@example.com")
	for _, email := range []string{"known@example.com", "unknown@example.com"} {
		rec := s.do(call{method: http.MethodPost, path: "/api/auth/forget-password", body: map[string]string{"email": email}})
		wantStatus(t, rec, http.StatusOK)
		if !decode[statusResponse](t, rec).Status {
			t.Errorf("%s: status false", email)
		}
	}
}

func TestVerifyEmailRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(call{method: http.MethodGet, path: "/api/auth/verify-email?token=nope"})
	wantStatus(t, rec, http.StatusBadRequest)
}

func TestGitHubDisabled(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(call{method: http.MethodGet, path: "/api/auth/sign-in/social/github"})
	wantStatus(t, rec, http.StatusNotFound)
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"/dashboard", true},
		{"/", true},
		{"", false},
		{"//evil.example.com", false},
		{"/\\evil.example.com", false},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		if got := isLocalPath(tt.in); got != tt.want {
			t.Errorf("isLocalPath(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
