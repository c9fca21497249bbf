package api

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"localchat/internal/apikey"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush passes through so streaming handlers keep working behind the
// recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// apiKeyAuthMiddleware enforces the configured API key on the OpenAI surface,
// but only when the request carries an Authorization header. Local tools
// without auth support keep working; anything that does send credentials
// must send the right ones.
func (s *Server) apiKeyAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := apikey.ExtractBearer(header)
		if token == "" {
			writeOpenAIError(w, http.StatusUnauthorized, "authentication_error",
				"Invalid authorization header. Expected: Bearer <api-key>", "", "missing_api_key")
			return
		}
		if !apikey.IsValidFormat(token) {
			writeOpenAIError(w, http.StatusUnauthorized, "authentication_error",
				"Invalid API key format", "", "invalid_api_key")
			return
		}

		settings, err := s.store.GetSettings(r.Context())
		if err != nil {
			writeOpenAIError(w, http.StatusInternalServerError, "server_error",
				"Failed to verify API key", "", "")
			return
		}
		if settings.APIKey == "" {
			writeOpenAIError(w, http.StatusUnauthorized, "authentication_error",
				"No API key configured. Generate one in settings first.", "", "no_api_key_configured")
			return
		}
		if token != settings.APIKey {
			writeOpenAIError(w, http.StatusUnauthorized, "authentication_error",
				"Invalid API key", "", "invalid_api_key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
