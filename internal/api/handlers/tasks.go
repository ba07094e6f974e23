package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentoven/runtime/internal/api/middleware"
)

type submitTaskRequest struct {
	Input string `json:"input"`
}

// SubmitAgentTask starts a reasoning-loop run for an agentic agent and
// returns a task id for polling, mirroring BakeRecipe/GetRecipeRun's
// submit-then-poll shape for long-running work.
func (h *Handlers) SubmitAgentTask(w http.ResponseWriter, r *http.Request) {
	kitchen := middleware.GetKitchen(r.Context())
	agentName := chi.URLParam(r, "agentName")

	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input == "" {
		respondError(w, http.StatusBadRequest, "input is required")
		return
	}
	if h.Runtime == nil {
		respondError(w, http.StatusServiceUnavailable, "agent runtime is not configured")
		return
	}

	task, err := h.Runtime.SubmitTask(r.Context(), kitchen, agentName, req.Input)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

// GetAgentTask polls a submitted task's status and, once completed, its
// result.
func (h *Handlers) GetAgentTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if h.Runtime == nil {
		respondError(w, http.StatusServiceUnavailable, "agent runtime is not configured")
		return
	}
	task, ok := h.Runtime.GetTask(taskID)
	if !ok {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	respondJSON(w, http.StatusOK, task)
}
