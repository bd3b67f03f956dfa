package llm

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pavelanni/satprep/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidOutput wraps every structural problem found in generated content.
var ErrInvalidOutput = errors.New("generated test does not match the schema")

// Validate checks generated content against the schema bounds and the per-question
// rules. Non-conforming output is rejected as a whole; nothing is repaired.
func Validate(g *GeneratedTest) error {
	if g == nil {
		return fmt.Errorf("%w: empty result", ErrInvalidOutput)
	}
	if err := validate.Struct(g); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	for si, sec := range g.Sections {
		for mi, mod := range sec.Modules {
			for qi, q := range mod.Questions {
				if err := validateQuestion(sec.Type, q); err != nil {
					return fmt.Errorf("%w: section %d module %d question %d: %v", ErrInvalidOutput, si, mi, qi, err)
				}
			}
		}
	}
	return nil
}

// sectionLayouts lists the section types each practice test type must contain, in order.
var sectionLayouts = map[model.PracticeTestType][]model.SectionType{
	model.PracticeTestMath:   {model.SectionMath, model.SectionMath},
	model.PracticeTestVerbal: {model.SectionVerbal, model.SectionVerbal},
	model.PracticeTestFull:   {model.SectionVerbal, model.SectionVerbal, model.SectionMath, model.SectionMath},
}

// ValidateFor runs Validate and then checks that the sections match the layout of
// test type t.
func ValidateFor(g *GeneratedTest, t model.PracticeTestType) error {
	if err := Validate(g); err != nil {
		return err
	}
	want, ok := sectionLayouts[t]
	if !ok {
		return fmt.Errorf("%w: unknown practice test type %q", ErrInvalidOutput, t)
	}
	got := make([]model.SectionType, len(g.Sections))
	for i, sec := range g.Sections {
		got[i] = sec.Type
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("%w: %s test needs sections %v, got %v", ErrInvalidOutput, t, want, got)
	}
	return nil
}

func validateQuestion(section model.SectionType, q GeneratedQuestion) error {
	switch q.QuestionType {
	case model.QuestionMultipleChoice:
		if len(q.Options) != 4 {
			return fmt.Errorf("multiple choice needs 4 options, got %d", len(q.Options))
		}
		if !slices.Contains(q.Options, q.CorrectAnswer) {
			return fmt.Errorf("correct answer %q is not one of the options", q.CorrectAnswer)
		}
	case model.QuestionGridIn:
		if section != model.SectionMath {
			return errors.New("grid-in questions are only allowed in math sections")
		}
		if len(q.Options) != 0 {
			return errors.New("grid-in questions must not have options")
		}
		if !isNumericAnswer(q.CorrectAnswer) {
			return fmt.Errorf("grid-in answer %q is not numeric", q.CorrectAnswer)
		}
	}
	return nil
}

// isNumericAnswer accepts decimals and simple fractions such as "7/2".
func isNumericAnswer(s string) bool {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		_, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		return err1 == nil && err2 == nil && d != 0
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
