package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"localchat/internal/storage"
	"localchat/internal/title"
)

type createSessionRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

type updateSessionRequest struct {
	Title *string `json:"title"`
	Model *string `json:"model"`
}

type updateTitleRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to list sessions"))
		return
	}
	// Most recently active first.
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		// An empty or absent body is fine; both fields default.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	name := strings.TrimSpace(req.Title)
	if name == "" {
		name = "New Chat " + time.Now().Format("1/2/2006")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		settings, err := s.store.GetSettings(r.Context())
		if err != nil {
			writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to load settings"))
			return
		}
		model = settings.DefaultModel
	}

	session, err := s.store.CreateSession(r.Context(), name, model)
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to create session"))
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r, mux.Vars(r)["id"])
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errf(http.StatusBadRequest, CodeInvalidRequest, "invalid request body"))
		return
	}
	if req.Title == nil && req.Model == nil {
		writeError(w, errf(http.StatusBadRequest, CodeValidationError, "nothing to update"))
		return
	}
	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		if trimmed == "" {
			writeError(w, errf(http.StatusBadRequest, CodeValidationError, "title cannot be empty"))
			return
		}
		req.Title = &trimmed
	}

	session, err := s.store.UpdateSession(r.Context(), id, storage.SessionUpdate{
		Title: req.Title,
		Model: req.Model,
	})
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to update session"))
		return
	}
	if session == nil {
		writeError(w, errf(http.StatusNotFound, CodeSessionNotFound, "session not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	deleted, err := s.store.DeleteSession(r.Context(), id)
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to delete session"))
		return
	}
	if !deleted {
		writeError(w, errf(http.StatusNotFound, CodeSessionNotFound, "session not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (s *Server) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req updateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errf(http.StatusBadRequest, CodeInvalidRequest, "invalid request body"))
		return
	}
	if ok, reason := title.Validate(req.Title); !ok {
		writeError(w, errf(http.StatusBadRequest, CodeValidationError, "%s", reason))
		return
	}
	normalized := title.Normalize(req.Title)

	session, err := s.store.UpdateSession(r.Context(), id, storage.SessionUpdate{Title: &normalized})
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to update title"))
		return
	}
	if session == nil {
		writeError(w, errf(http.StatusNotFound, CodeSessionNotFound, "session not found: %s", id))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.requireSession(w, r, id); !ok {
		return
	}
	messages, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to list messages"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"messages":  messages,
		"total":     len(messages),
	})
}

// requireSession loads a session and writes a 404 when it does not exist.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request, id string) (*storage.Session, bool) {
	session, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to load session"))
		return nil, false
	}
	if session == nil {
		writeError(w, errf(http.StatusNotFound, CodeSessionNotFound, "session not found: %s", id))
		return nil, false
	}
	return session, true
}
