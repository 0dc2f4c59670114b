package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"scenesmith/internal/core"
	"scenesmith/internal/registry"
)

type submitRunRequest struct {
	Collection string              `json:"collection"`
	Parts      []int               `json:"parts,omitempty"`
	Workflow   string              `json:"workflow,omitempty"`
	Steps      []core.WorkflowStep `json:"steps,omitempty"`
}

// handleSubmitRun plans and submits jobs for a collection. Steps come
// either inline or by workflow name; inline wins when both are present.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Collection == "" {
		respondError(w, http.StatusBadRequest, "collection is required")
		return
	}

	steps, settings, ok := s.resolveSteps(w, req.Workflow, req.Steps)
	if !ok {
		return
	}

	keys, err := s.orch.SubmitCollection(r.Context(), req.Collection, req.Parts, steps, settings)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	submitted := make([]string, 0, len(keys))
	for _, k := range keys {
		submitted = append(submitted, k.String())
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"submitted": submitted})
}

// resolveSteps returns inline steps when given, otherwise loads the named
// workflow (default when unnamed) along with its settings block. Errors are
// written to w.
func (s *Server) resolveSteps(w http.ResponseWriter, name string, inline []core.WorkflowStep) ([]core.WorkflowStep, map[string]any, bool) {
	steps := inline
	var settings map[string]any
	if len(steps) == 0 {
		if name == "" {
			name = "default"
		}
		resolved, err := s.workflows.Find(name)
		if err != nil {
			respondDomainError(w, err)
			return nil, nil, false
		}
		wf, err := s.workflows.Load(resolved)
		if err != nil {
			respondDomainError(w, err)
			return nil, nil, false
		}
		steps = wf.Steps
		settings = wf.Settings
	}
	if problems := core.ValidateSteps(steps); len(problems) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": problems})
		return nil, nil, false
	}
	return steps, settings, true
}

// handleStartTask resubmits a single part. The body may carry inline steps
// or a workflow name; an empty body uses the default workflow.
func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	key, ok := s.taskKey(w, r)
	if !ok {
		return
	}
	var req struct {
		Workflow string              `json:"workflow,omitempty"`
		Steps    []core.WorkflowStep `json:"steps,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	steps, settings, ok := s.resolveSteps(w, req.Workflow, req.Steps)
	if !ok {
		return
	}
	keys, err := s.orch.SubmitCollection(r.Context(), key.Collection, []int{key.Part}, steps, settings)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if len(keys) == 0 {
		respondError(w, http.StatusNotFound, "no scenes found for "+key.String())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "submitted", "task": key.String()})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := registry.ListFilter{
		Collection: r.URL.Query().Get("collection"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = core.TaskStatus(status)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tasks": s.orch.ListStatuses(filter),
	})
}

func (s *Server) taskKey(w http.ResponseWriter, r *http.Request) (core.JobKey, bool) {
	raw := chi.URLParam(r, "taskKey")
	key, err := core.ParseJobKey(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid task key: "+raw)
		return core.JobKey{}, false
	}
	return key, true
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	key, ok := s.taskKey(w, r)
	if !ok {
		return
	}
	snap, found := s.orch.Status(key)
	if !found {
		respondError(w, http.StatusNotFound, "task not found: "+key.String())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	key, ok := s.taskKey(w, r)
	if !ok {
		return
	}
	if err := s.orch.Pause(key); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "pausing", "task": key.String()})
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	key, ok := s.taskKey(w, r)
	if !ok {
		return
	}
	if err := s.orch.Resume(key); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resumed", "task": key.String()})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	key, ok := s.taskKey(w, r)
	if !ok {
		return
	}
	if err := s.orch.Stop(key); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopping", "task": key.String()})
}

func (s *Server) handlePauseAll(w http.ResponseWriter, _ *http.Request) {
	s.orch.PauseAll()
	respondJSON(w, http.StatusOK, map[string]string{"status": "pausing"})
}

func (s *Server) handleResumeAll(w http.ResponseWriter, _ *http.Request) {
	s.orch.ResumeAll()
	respondJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "operator request"
	}
	s.orch.StopAll(reason)
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.orch.Progress())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "run history is not enabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit: "+raw)
			return
		}
		limit = n
	}
	entries, err := s.history.History(r.Context(), r.URL.Query().Get("collection"), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"history": entries})
}
