package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"scenesmith/internal/core"
)

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	names, err := s.workflows.List()
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"workflows": names})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	wf, err := s.workflows.Load(name)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}

func (s *Server) handleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var wf core.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondError(w, http.StatusBadRequest, "invalid workflow body: "+err.Error())
		return
	}
	if problems := core.ValidateSteps(wf.Steps); len(problems) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": problems})
		return
	}
	wf.Name = name
	if err := s.workflows.Save(name, &wf); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"saved": name})
}

// handleValidateWorkflow checks a step list without persisting it.
func (s *Server) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf core.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondError(w, http.StatusBadRequest, "invalid workflow body: "+err.Error())
		return
	}
	problems := core.ValidateSteps(wf.Steps)
	respondJSON(w, http.StatusOK, map[string]any{
		"valid":  len(problems) == 0,
		"errors": problems,
	})
}
