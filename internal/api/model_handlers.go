package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.backend.ListModels(r.Context())
	if err != nil {
		writeError(w, errf(http.StatusServiceUnavailable, CodeServiceUnavailable,
			"Ollama service is not available: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  models,
		"total":   len(models),
		"service": s.backend.Info(),
	})
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	if !s.backend.CheckHealth(r.Context()) {
		writeError(w, errf(http.StatusServiceUnavailable, CodeServiceUnavailable,
			"Ollama service is not responding"))
		return
	}

	modelCount := 0
	if models, err := s.backend.ListModels(r.Context()); err == nil {
		modelCount = len(models)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "healthy",
		"service":    s.backend.Info(),
		"modelCount": modelCount,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleModelAvailability(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	writeJSON(w, http.StatusOK, map[string]any{
		"model":     name,
		"available": s.backend.IsModelAvailable(r.Context(), name),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	models, err := s.backend.ListModels(r.Context())
	if err != nil {
		writeError(w, errf(http.StatusServiceUnavailable, CodeServiceUnavailable,
			"Ollama service is not available: %v", err))
		return
	}
	for _, m := range models {
		if m.ID == name || m.Name == name {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	writeError(w, errf(http.StatusNotFound, CodeModelNotFound, "model not found: %s", name))
}
