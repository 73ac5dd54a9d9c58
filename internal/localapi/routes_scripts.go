package localapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/trishantpahwa/open-blueberry/internal/sandbox"
)

func (s *Server) registerScriptRoutes() {
	s.mux.HandleFunc("/api/v1/scripts", s.handleRunScript)
}

// handleRunScript is the direct script path: write the submitted source to a
// timestamped file inside the sandbox, then execute it. Both results are
// returned so callers see the write and the run separately.
func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if s.deps.Scripts == nil {
		respondError(w, http.StatusInternalServerError, "SCRIPTS_UNAVAILABLE", "script runner is not configured")
		return
	}
	var req struct {
		Content     string `json:"content"`
		Interpreter string `json:"interpreter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, "INVALID_SCRIPT", "content is required")
		return
	}

	name := sandbox.TimestampedScriptName(req.Interpreter)
	writeResult := s.deps.Scripts.WriteFile(name, req.Content)
	if !writeResult.OK() {
		respondError(w, http.StatusInternalServerError, "SCRIPT_WRITE_FAILED", writeResult.Failure)
		return
	}
	runResult, err := s.deps.Scripts.RunScript(r.Context(), name, req.Interpreter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "SCRIPT_RUN_FAILED", err.Error())
		return
	}
	respondOK(w, map[string]any{
		"path":  name,
		"write": writeResult,
		"run":   runResult,
	})
}
