package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"localchat/internal/config"
	"localchat/internal/ollama"
	"localchat/internal/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Backend is the slice of the Ollama client the HTTP layer needs. Tests
// swap in fakes; production wires *ollama.Client.
type Backend interface {
	CheckHealth(ctx context.Context) bool
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	IsModelAvailable(ctx context.Context, name string) bool
	Chat(ctx context.Context, model string, messages []storage.Message, opts ollama.Options) (string, error)
	ChatStream(ctx context.Context, model string, messages []storage.Message, opts ollama.Options) (<-chan ollama.StreamChunk, error)
	EstimateTokens(text string) int
	Info() ollama.ServiceInfo
	SetEndpoint(url string)
}

// Server holds the HTTP surface: the session/chat API, the OpenAI-compatible
// API, and the health endpoint. All collaborators are injected.
type Server struct {
	cfg        *config.Config
	store      storage.Storage
	backend    Backend
	httpServer *http.Server
}

func NewServer(cfg *config.Config, store storage.Storage, backend Backend) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		backend: backend,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses have no bounded duration
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Routes builds the full handler stack. CORS and logging wrap the router
// from the outside so they also cover preflight requests and unknown routes,
// which gorilla middleware would otherwise skip. Exposed so tests can drive
// the stack through httptest without opening a socket.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleUpdateSession).Methods("PUT")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/title", s.handleUpdateTitle).Methods("PATCH")
	api.HandleFunc("/sessions/{id}/messages", s.handleSessionMessages).Methods("GET")

	api.HandleFunc("/chat/{sessionId}/messages", s.handleSendMessage).Methods("POST")
	api.HandleFunc("/chat/{sessionId}/stream", s.handleStreamMessage).Methods("POST")
	api.HandleFunc("/chat/{sessionId}/history", s.handleChatHistory).Methods("GET")
	api.HandleFunc("/chat/{sessionId}/regenerate", s.handleRegenerate).Methods("POST")

	// Fixed paths must register before the {name} wildcard.
	api.HandleFunc("/models/status", s.handleModelStatus).Methods("GET")
	api.HandleFunc("/models", s.handleListModels).Methods("GET")
	api.HandleFunc("/models/{name}/availability", s.handleModelAvailability).Methods("GET")
	api.HandleFunc("/models/{name}", s.handleGetModel).Methods("GET")

	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handleUpdateSettings).Methods("PATCH")
	api.HandleFunc("/settings/api-key/generate", s.handleGenerateAPIKey).Methods("POST")
	api.HandleFunc("/settings/api-key/refresh", s.handleRefreshAPIKey).Methods("POST")
	api.HandleFunc("/settings/api-key", s.handleRevokeAPIKey).Methods("DELETE")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.apiKeyAuthMiddleware)
	v1.HandleFunc("/chat/completions", s.handleChatCompletions).Methods("POST")
	v1.HandleFunc("/models", s.handleOpenAIListModels).Methods("GET")
	v1.HandleFunc("/models/{id}", s.handleOpenAIGetModel).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, errf(http.StatusNotFound, CodeNotFound, "route not found: %s %s", r.Method, r.URL.Path))
	})

	return s.loggingMiddleware(s.corsMiddleware(r))
}

func (s *Server) Start() error {
	log.Info("starting server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop shuts the listener down gracefully, waiting for in-flight requests
// up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	log.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"services": map[string]bool{
			"storage": s.store.IsHealthy(r.Context()),
			"ollama":  s.backend.CheckHealth(r.Context()),
		},
	}
	writeRawJSON(w, resp)
}
