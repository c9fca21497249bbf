package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"localchat/internal/apikey"
	"localchat/internal/storage"
)

type updateSettingsRequest struct {
	DefaultModel   *string  `json:"defaultModel"`
	Temperature    *float64 `json:"temperature"`
	MaxTokens      *int     `json:"maxTokens"`
	OllamaEndpoint *string  `json:"ollamaEndpoint"`
	Theme          *string  `json:"theme"`
}

func (req *updateSettingsRequest) validate() *apiError {
	if req.DefaultModel == nil && req.Temperature == nil && req.MaxTokens == nil &&
		req.OllamaEndpoint == nil && req.Theme == nil {
		return errf(http.StatusBadRequest, CodeValidationError, "nothing to update")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 1) {
		return errf(http.StatusBadRequest, CodeValidationError, "temperature must be between 0 and 1")
	}
	if req.MaxTokens != nil && (*req.MaxTokens < 1 || *req.MaxTokens > 8192) {
		return errf(http.StatusBadRequest, CodeValidationError, "maxTokens must be between 1 and 8192")
	}
	if req.Theme != nil && *req.Theme != "light" && *req.Theme != "dark" && *req.Theme != "auto" {
		return errf(http.StatusBadRequest, CodeValidationError, "theme must be one of: light, dark, auto")
	}
	if req.OllamaEndpoint != nil && strings.TrimSpace(*req.OllamaEndpoint) == "" {
		return errf(http.StatusBadRequest, CodeValidationError, "ollamaEndpoint cannot be empty")
	}
	if req.DefaultModel != nil && strings.TrimSpace(*req.DefaultModel) == "" {
		return errf(http.StatusBadRequest, CodeValidationError, "defaultModel cannot be empty")
	}
	return nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to load settings"))
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errf(http.StatusBadRequest, CodeInvalidRequest, "invalid request body"))
		return
	}
	if e := req.validate(); e != nil {
		writeError(w, e)
		return
	}

	settings, err := s.store.UpdateSettings(r.Context(), storage.SettingsUpdate{
		DefaultModel:   req.DefaultModel,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		OllamaEndpoint: req.OllamaEndpoint,
		Theme:          req.Theme,
	})
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to update settings"))
		return
	}

	// Later chat requests must talk to the new endpoint.
	if req.OllamaEndpoint != nil {
		s.backend.SetEndpoint(*req.OllamaEndpoint)
	}

	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleGenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	key := apikey.Generate()
	createdAt := time.Now().UTC().Format(time.RFC3339)

	settings, err := s.store.UpdateSettings(r.Context(), storage.SettingsUpdate{
		APIKey:          &key,
		APIKeyCreatedAt: &createdAt,
	})
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to save API key"))
		return
	}

	masked := *settings
	masked.APIKey = apikey.Mask(masked.APIKey)

	// The only response that ever carries the full key. The client must
	// store it; afterwards the server only shows the masked form.
	writeJSON(w, http.StatusOK, map[string]any{
		"apiKey":       key,
		"maskedApiKey": apikey.Mask(key),
		"createdAt":    createdAt,
		"settings":     masked,
	})
}

func (s *Server) handleRefreshAPIKey(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to load settings"))
		return
	}
	if settings.APIKey == "" {
		writeError(w, errf(http.StatusBadRequest, CodeNoAPIKey, "no API key to refresh. Generate one first."))
		return
	}
	s.handleGenerateAPIKey(w, r)
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to load settings"))
		return
	}
	if settings.APIKey == "" {
		writeError(w, errf(http.StatusBadRequest, CodeNoAPIKey, "no API key to revoke"))
		return
	}

	empty := ""
	if _, err := s.store.UpdateSettings(r.Context(), storage.SettingsUpdate{
		APIKey:          &empty,
		APIKeyCreatedAt: &empty,
	}); err != nil {
		writeError(w, errf(http.StatusInternalServerError, CodeInternalError, "failed to revoke API key"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
}
