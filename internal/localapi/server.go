package localapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/trishantpahwa/open-blueberry/internal/convstore"
	"github.com/trishantpahwa/open-blueberry/internal/doctor"
	"github.com/trishantpahwa/open-blueberry/internal/engine"
	"github.com/trishantpahwa/open-blueberry/internal/reasoning"
	"github.com/trishantpahwa/open-blueberry/internal/sandbox"
)

type TaskEngine interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (engine.Handle, error)
	Status(id string) (engine.Snapshot, bool)
	List() []engine.Snapshot
	Cancel(id string) bool
	Events(id string) (<-chan engine.Event, bool)
}

type ConversationStore interface {
	Append(conversationID, role, content string) error
	Read(conversationID string) ([]convstore.Entry, error)
	Clear(conversationID string) error
}

type ScriptRunner interface {
	WriteFile(path, content string) sandbox.Result
	RunScript(ctx context.Context, path, interpreter string) (sandbox.Result, error)
}

type Deps struct {
	Engine        TaskEngine
	Conversations ConversationStore
	Chat          reasoning.Client
	Scripts       ScriptRunner
	Doctor        func(ctx context.Context) doctor.Report
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
	hub  *WSHub
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux(), hub: NewWSHub()}
	s.registerTaskRoutes()
	s.registerChatRoutes()
	s.registerScriptRoutes()
	s.registerSystemRoutes()
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/ws", s.hub.HandleWS)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
