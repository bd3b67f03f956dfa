package handler

import (
	"net/http"

	"github.com/pavelanni/satprep/internal/apperr"
	"github.com/pavelanni/satprep/internal/model"
)

type createPracticeTestRequest struct {
	Type model.PracticeTestType `json:"type"`
}

type createTestAttemptRequest struct {
	PracticeTestID string `json:"practiceTestId"`
}

type updateTestAttemptRequest struct {
	ID      string                `json:"id"`
	Status  model.AttemptStatus   `json:"status"`
	Results []model.ModuleAttempt `json:"results"`
}

func (h *Handler) handleCreatePracticeTest(w http.ResponseWriter, r *http.Request) {
	var req createPracticeTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pt, err := h.practice.Create(r.Context(), req.Type, callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pt)
}

func (h *Handler) handleListPracticeTests(w http.ResponseWriter, r *http.Request) {
	list, err := h.practice.List(r.Context(), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.PracticeTest{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetPracticeTest answers null for unknown ids.
func (h *Handler) handleGetPracticeTest(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, r, apperr.BadRequest("id is required"))
		return
	}
	pt, err := h.practice.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pt)
}

func (h *Handler) handleGetPracticeTestTree(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, r, apperr.BadRequest("id is required"))
		return
	}
	tree, err := h.practice.GetTree(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (h *Handler) handleCreateTestAttempt(w http.ResponseWriter, r *http.Request) {
	var req createTestAttemptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.attempts.Create(r.Context(), req.PracticeTestID, callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) handleListTestAttempts(w http.ResponseWriter, r *http.Request) {
	list, err := h.attempts.List(r.Context(), callerID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.TestAttempt{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleUpdateTestAttempt(w http.ResponseWriter, r *http.Request) {
	var req updateTestAttemptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.attempts.Update(r.Context(), req.ID, callerID(r), req.Status, req.Results)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
