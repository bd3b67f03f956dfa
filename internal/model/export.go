package model

// PracticeTestTree is a practice test with its full section/module/question subtree.
type PracticeTestTree struct {
	PracticeTest
	Sections []SectionTree `json:"sections"`
}

// SectionTree is a section with its modules.
type SectionTree struct {
	Section
	Modules []ModuleTree `json:"modules"`
}

// ModuleTree is a module with its questions.
type ModuleTree struct {
	Module
	Questions []Question `json:"questions"`
}

// QuestionCount returns the total number of questions in the tree.
func (t *PracticeTestTree) QuestionCount() int {
	n := 0
	for _, s := range t.Sections {
		for _, m := range s.Modules {
			n += len(m.Questions)
		}
	}
	return n
}

// ModuleQuestions indexes question ids by module id.
func (t *PracticeTestTree) ModuleQuestions() map[string]map[string]Question {
	out := make(map[string]map[string]Question)
	for _, s := range t.Sections {
		for _, m := range s.Modules {
			qs := make(map[string]Question, len(m.Questions))
			for _, q := range m.Questions {
				qs[q.ID] = q
			}
			out[m.ID] = qs
		}
	}
	return out
}

// TestExport is the top-level JSON document written by the export command.
type TestExport struct {
	ExportedAt string           `json:"exported_at"`
	Test       PracticeTestTree `json:"test"`
}
