package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"localchat/internal/ollama"
	"localchat/internal/storage"
	"localchat/internal/title"
)

type sendMessageRequest struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// prepareMessage runs the shared front half of the buffered and streaming
// chat paths: validate input, check the session and model, persist the user
// message, auto-title, and assemble the conversation history. On failure the
// error response has already been written.
func (s *Server) prepareMessage(w http.ResponseWriter, r *http.Request) (session *storage.Session, userMsg *storage.Message, history []storage.Message, opts ollama.Options, ok bool) {
	sessionID := mux.Vars(r)["sessionId"]

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errf(http.StatusBadRequest, CodeInvalidRequest, "invalid request body"))
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, errf(http.StatusBadRequest, CodeInvalidRequest, "message content is required"))
		return
	}
	if req.Role == "" {
		req.Role = storage.RoleUser
	}
	if req.Role != storage.RoleUser && req.Role != storage.RoleSystem {
		writeError(w, errf(http.StatusBadRequest, CodeValidationError, "role must be %q or %q", storage.RoleUser, storage.RoleSystem))
		return
	}

	session, ok2 := s.requireSession(w, r, sessionID)
	if !ok2 {
		return
	}

	if !s.backend.IsModelAvailable(r.Context(), session.Model) {
		e := errf(http.StatusBadRequest, CodeModelNotAvailable,
			"model %q is not available. Pull it with: ollama pull %s", session.Model, session.Model)
		writeError(w, e)
		return
	}

	userMsg, err := s.store.AddMessage(r.Context(), storage.Message{
		SessionID: sessionID,
		Role:      req.Role,
		Content:   req.Content,
	})
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to save message"))
		return
	}

	history, err = s.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to load history"))
		return
	}

	if req.Role == storage.RoleUser && firstUserMessage(history) {
		s.autoTitle(r, session, req.Content)
	}

	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to load settings"))
		return
	}
	opts = ollama.Options{
		Temperature: &settings.Temperature,
		MaxTokens:   &settings.MaxTokens,
	}
	return session, userMsg, history, opts, true
}

func firstUserMessage(history []storage.Message) bool {
	n := 0
	for _, m := range history {
		if m.Role == storage.RoleUser {
			n++
		}
	}
	return n == 1
}

// autoTitle replaces the default session title with one derived from the
// first user message. Failures only cost the nicer title, so they are
// logged and swallowed.
func (s *Server) autoTitle(r *http.Request, session *storage.Session, content string) {
	generated := title.WithModel(r.Context(), content, session.Model, s.backend)
	if generated == "" || generated == session.Title {
		return
	}
	if _, err := s.store.UpdateSession(r.Context(), session.ID, storage.SessionUpdate{Title: &generated}); err != nil {
		log.Warn("failed to store generated title", "session", session.ID, "error", err)
	}
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	session, userMsg, history, opts, ok := s.prepareMessage(w, r)
	if !ok {
		return
	}

	reply, err := s.backend.Chat(r.Context(), session.Model, history, opts)
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeGenerationFailed, "AI generation failed: %v", err))
		return
	}

	aiMsg, err := s.store.AddMessage(r.Context(), storage.Message{
		SessionID: session.ID,
		Role:      storage.RoleAssistant,
		Content:   reply,
		Tokens:    s.backend.EstimateTokens(reply),
	})
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to save response"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userMessage": userMsg,
		"aiMessage":   aiMsg,
		"sessionId":   session.ID,
	})
}

func (s *Server) handleStreamMessage(w http.ResponseWriter, r *http.Request) {
	session, _, history, opts, ok := s.prepareMessage(w, r)
	if !ok {
		return
	}

	chunks, err := s.backend.ChatStream(r.Context(), session.Model, history, opts)
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeGenerationFailed, "AI generation failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	var full strings.Builder
	failed := false

	for chunk := range chunks {
		if chunk.Err != nil {
			// Headers are already on the wire, so the error travels in-band.
			fmt.Fprintf(w, "Error: %v", chunk.Err)
			if canFlush {
				flusher.Flush()
			}
			failed = true
			break
		}
		if chunk.Content == "" {
			continue
		}
		if _, err := w.Write([]byte(chunk.Content)); err != nil {
			log.Debug("client went away mid-stream", "session", session.ID, "error", err)
			failed = true
			break
		}
		if canFlush {
			flusher.Flush()
		}
		full.WriteString(chunk.Content)
	}

	if failed || full.Len() == 0 {
		return
	}
	reply := full.String()
	if _, err := s.store.AddMessage(r.Context(), storage.Message{
		SessionID: session.ID,
		Role:      storage.RoleAssistant,
		Content:   reply,
		Tokens:    s.backend.EstimateTokens(reply),
	}); err != nil {
		log.Error("failed to save streamed response", "session", session.ID, "error", err)
	}
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if _, ok := s.requireSession(w, r, sessionID); !ok {
		return
	}

	limit := parseQueryInt(r, "limit", 50)
	offset := parseQueryInt(r, "offset", 0)
	if limit < 1 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	messages, err := s.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to load history"))
		return
	}

	total := len(messages)
	page := []storage.Message{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = messages[offset:end]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"messages":  page,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
	})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	session, ok := s.requireSession(w, r, sessionID)
	if !ok {
		return
	}

	messages, err := s.store.ListMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to load history"))
		return
	}
	if len(messages) == 0 {
		writeError(w, errf(http.StatusBadRequest, CodeNoMessages, "session has no messages to regenerate"))
		return
	}

	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == storage.RoleAssistant {
			last = i
			break
		}
	}
	if last == -1 {
		writeError(w, errf(http.StatusBadRequest, CodeNoAIMessage, "no AI message to regenerate"))
		return
	}

	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to load settings"))
		return
	}
	opts := ollama.Options{
		Temperature: &settings.Temperature,
		MaxTokens:   &settings.MaxTokens,
	}

	reply, err := s.backend.Chat(r.Context(), session.Model, messages[:last], opts)
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeGenerationFailed, "AI generation failed: %v", err))
		return
	}

	aiMsg, err := s.store.AddMessage(r.Context(), storage.Message{
		SessionID: sessionID,
		Role:      storage.RoleAssistant,
		Content:   reply,
		Tokens:    s.backend.EstimateTokens(reply),
	})
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to save response"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   aiMsg,
		"sessionId": sessionID,
	})
}

func parseQueryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
