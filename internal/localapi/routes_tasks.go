package localapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/trishantpahwa/open-blueberry/internal/engine"
	"github.com/trishantpahwa/open-blueberry/internal/protocol"
)

func (s *Server) registerTaskRoutes() {
	s.mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	s.mux.HandleFunc("/api/v1/tasks/", s.handleTaskActions)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitTask(w, r)
	case http.MethodGet:
		respondOK(w, map[string]any{"tasks": s.deps.Engine.List()})
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Goal           string `json:"goal"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		respondError(w, http.StatusBadRequest, "INVALID_TASK", "goal is required")
		return
	}
	handle, err := s.deps.Engine.Submit(context.Background(), engine.SubmitRequest{
		Goal:           goal,
		ConversationID: strings.TrimSpace(req.ConversationID),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "TASK_SUBMIT_FAILED", err.Error())
		return
	}
	s.hub.Publish(protocol.OpTaskSubmitted, handle.ID, map[string]any{"goal": goal})
	go s.forwardTaskEvents(handle.ID)
	respondOK(w, map[string]any{"task_id": handle.ID})
}

// forwardTaskEvents pumps the engine's per-task event stream onto the
// websocket hub until the task reaches a terminal state.
func (s *Server) forwardTaskEvents(taskID string) {
	events, ok := s.deps.Engine.Events(taskID)
	if !ok {
		return
	}
	for evt := range events {
		switch evt.Type {
		case engine.EventStep:
			payload := map[string]any{"status": string(evt.Status)}
			if evt.Step != nil {
				payload["step_index"] = evt.Step.Index
				payload["kind"] = string(evt.Step.Kind)
				if evt.Step.ToolName != "" {
					payload["tool"] = evt.Step.ToolName
				}
			}
			s.hub.Publish(protocol.OpTaskStep, taskID, payload)
		case engine.EventTerminal:
			s.hub.Publish(protocol.OpTaskTerminal, taskID, map[string]any{
				"status":       string(evt.Status),
				"reason":       evt.Reason,
				"final_answer": evt.FinalAnswer,
			})
		}
	}
}

func (s *Server) handleTaskActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	parts := strings.Split(path, "/")
	if parts[0] == "" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}
	taskID := parts[0]
	action := strings.Join(parts[1:], "/")
	switch {
	case r.Method == http.MethodGet && action == "":
		s.handleGetTask(w, taskID)
	case r.Method == http.MethodPost && action == "cancel":
		s.handleCancelTask(w, taskID)
	default:
		respondError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, taskID string) {
	snapshot, ok := s.deps.Engine.Status(taskID)
	if !ok {
		respondError(w, http.StatusNotFound, "TASK_NOT_FOUND", "task not found")
		return
	}
	respondOK(w, snapshot)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, taskID string) {
	if _, ok := s.deps.Engine.Status(taskID); !ok {
		respondError(w, http.StatusNotFound, "TASK_NOT_FOUND", "task not found")
		return
	}
	cancelled := s.deps.Engine.Cancel(taskID)
	if !cancelled {
		respondError(w, http.StatusConflict, "TASK_ALREADY_TERMINAL", "task is already in a terminal state")
		return
	}
	respondOK(w, map[string]any{"task_id": taskID, "cancelled": true})
}
