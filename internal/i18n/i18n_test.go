package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "SAT Prep" {
		t.Errorf("T(AppTitle) = %q, want 'SAT Prep'", got)
	}
	if got := T(ctx, "ErrPracticeTestNotFound"); got != "Practice test not found." {
		t.Errorf("T(ErrPracticeTestNotFound) = %q", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := T(ctx, "ErrNotFound"); got != "Не найдено." {
		t.Errorf("T(ErrNotFound) = %q, want 'Не найдено.'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionCount", 1); got != "1 question" {
		t.Errorf("Tp(QuestionCount, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionCount", 42); got != "42 questions" {
		t.Errorf("Tp(QuestionCount, 42) = %q", got)
	}

	ru := WithLocalizer(context.Background(), NewLocalizer("ru"))
	if got := Tp(ru, "QuestionCount", 5); got != "5 вопросов" {
		t.Errorf("Tp(QuestionCount, 5) ru = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ErrPasswordLength", map[string]any{"Min": 8, "Max": 128})
	if got != "Passwords must be between 8 and 128 characters." {
		t.Errorf("Td(ErrPasswordLength) = %q", got)
	}
}

func TestMissingTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NoSuchMessage"); got != "NoSuchMessage" {
		t.Errorf("missing message should fall back to its id, got %q", got)
	}
}

func TestMatch(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name  string
		prefs []string
		want  string
	}{
		{"none", nil, "en"},
		{"cookie wins", []string{"ru", "en-US,en;q=0.9"}, "ru"},
		{"accept language", []string{"", "ru-RU,ru;q=0.9,en;q=0.8"}, "ru"},
		{"unsupported", []string{"", "fr-FR"}, "en"},
		{"garbage", []string{"!!", ""}, "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.prefs...).String(); got != tt.want {
				t.Errorf("Match(%v) = %s, want %s", tt.prefs, got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	var got string
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "ErrNotFound")
	}))

	tests := []struct {
		name   string
		cookie string
		accept string
		want   string
		lang   string
	}{
		{"default", "", "", "Not found.", "en"},
		{"header", "", "ru", "Не найдено.", "ru"},
		{"cookie", "theme=dark; i18n:locale=ru", "en", "Не найдено.", "ru"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.Header.Set("Cookie", tt.cookie)
			}
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
			if cl := rec.Header().Get("Content-Language"); cl != tt.lang {
				t.Errorf("Content-Language = %q, want %q", cl, tt.lang)
			}
		})
	}
}
