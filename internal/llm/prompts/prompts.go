package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"sync"
	"text/template"

	"github.com/pavelanni/satprep/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	loadOnce  sync.Once
	loadErr   error
	templates *template.Template
)

// Data is passed to every prompt template.
type Data struct {
	Type model.PracticeTestType
}

// load parses the embedded templates once.
func load() error {
	loadOnce.Do(func() {
		templates, loadErr = template.ParseFS(templateFS, "templates/*.tmpl")
		if loadErr != nil {
			loadErr = fmt.Errorf("parse prompt templates: %w", loadErr)
		}
	})
	return loadErr
}

// BuildSystemPrompt returns the generation instructions for a test type: the shared
// rules, the type-specific section layout, and the closing structural constraints.
func BuildSystemPrompt(t model.PracticeTestType) (string, error) {
	return execute("system", t)
}

// BuildUserPrompt returns the single user turn sent alongside the system prompt.
func BuildUserPrompt(t model.PracticeTestType) (string, error) {
	return execute("user", t)
}

func execute(name string, t model.PracticeTestType) (string, error) {
	if !t.Valid() {
		return "", errors.New("invalid practice test type: " + string(t))
	}
	if err := load(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, Data{Type: t}); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}
