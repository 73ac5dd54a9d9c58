package localapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/trishantpahwa/open-blueberry/internal/protocol"
	"github.com/trishantpahwa/open-blueberry/internal/reasoning"
)

func (s *Server) registerChatRoutes() {
	s.mux.HandleFunc("/api/v1/chat", s.handleChat)
	s.mux.HandleFunc("/api/v1/chat/clear", s.handleChatClear)
}

// handleChat runs a single conversational completion with no tool access:
// history in, one reply out, both sides appended to the conversation.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if s.deps.Chat == nil || s.deps.Conversations == nil {
		respondError(w, http.StatusInternalServerError, "CHAT_UNAVAILABLE", "chat backend is not configured")
		return
	}
	var req struct {
		ConversationID string `json:"conversation_id"`
		Message        string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	message := strings.TrimSpace(req.Message)
	if conversationID == "" || message == "" {
		respondError(w, http.StatusBadRequest, "INVALID_CHAT", "conversation_id and message are required")
		return
	}

	entries, err := s.deps.Conversations.Read(conversationID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "CONVERSATION_LOAD_FAILED", err.Error())
		return
	}
	history := make([]reasoning.Message, 0, len(entries))
	for _, entry := range entries {
		history = append(history, reasoning.Message{Role: entry.Role, Content: entry.Content})
	}

	outcome, err := s.deps.Chat.Complete(r.Context(), reasoning.Request{Goal: message, History: history})
	if err != nil {
		if errors.Is(err, reasoning.ErrBackendUnavailable) {
			respondError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "CHAT_FAILED", err.Error())
		return
	}
	reply := chatReplyText(outcome)

	if err := s.deps.Conversations.Append(conversationID, "user", message); err != nil {
		respondError(w, http.StatusInternalServerError, "CONVERSATION_APPEND_FAILED", err.Error())
		return
	}
	if err := s.deps.Conversations.Append(conversationID, "assistant", reply); err != nil {
		respondError(w, http.StatusInternalServerError, "CONVERSATION_APPEND_FAILED", err.Error())
		return
	}

	s.hub.Publish(protocol.OpChatReply, "", map[string]any{"conversation_id": conversationID})
	respondOK(w, map[string]any{"conversation_id": conversationID, "reply": reply})
}

// chatReplyText prefers the structured answer when the model volunteers one
// and otherwise returns the reply verbatim.
func chatReplyText(outcome reasoning.Outcome) string {
	if outcome.Kind == reasoning.OutcomeFinalAnswer {
		return outcome.FinalAnswer
	}
	return strings.TrimSpace(outcome.Raw)
}

func (s *Server) handleChatClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if s.deps.Conversations == nil {
		respondError(w, http.StatusInternalServerError, "CHAT_UNAVAILABLE", "conversation store is not configured")
		return
	}
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_CHAT", "conversation_id is required")
		return
	}
	if err := s.deps.Conversations.Clear(conversationID); err != nil {
		respondError(w, http.StatusInternalServerError, "CONVERSATION_CLEAR_FAILED", err.Error())
		return
	}
	respondOK(w, map[string]any{"conversation_id": conversationID, "cleared": true})
}
