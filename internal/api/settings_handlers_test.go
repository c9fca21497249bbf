package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"localchat/internal/apikey"
	"localchat/internal/storage"
)

func TestGetSettings(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, "GET", "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings storage.Settings
	decodeData(t, rec, &settings)
	require.Equal(t, "llama3.2", settings.DefaultModel)
	require.InDelta(t, 0.7, settings.Temperature, 1e-9)
	require.Equal(t, 2048, settings.MaxTokens)
	require.Equal(t, "auto", settings.Theme)
}

func TestUpdateSettings(t *testing.T) {
	s, _, backend := newTestServer(t)

	rec := do(t, s, "PATCH", "/api/settings", map[string]any{
		"temperature":    0.3,
		"theme":          "dark",
		"ollamaEndpoint": "http://10.0.0.5:11434",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var settings storage.Settings
	decodeData(t, rec, &settings)
	require.InDelta(t, 0.3, settings.Temperature, 1e-9)
	require.Equal(t, "dark", settings.Theme)
	require.Equal(t, "http://10.0.0.5:11434", settings.OllamaEndpoint)

	// Untouched fields keep their values.
	require.Equal(t, "llama3.2", settings.DefaultModel)

	// The backend is repointed at the new endpoint.
	require.Equal(t, "http://10.0.0.5:11434", backend.endpoint)
}

func TestUpdateSettingsThemes(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Every documented theme value is accepted, including "auto".
	for _, theme := range []string{"light", "dark", "auto"} {
		rec := do(t, s, "PATCH", "/api/settings", map[string]any{"theme": theme})
		require.Equal(t, http.StatusOK, rec.Code, "theme %q", theme)

		var settings storage.Settings
		decodeData(t, rec, &settings)
		require.Equal(t, theme, settings.Theme)
	}
}

func TestUpdateSettingsRejected(t *testing.T) {
	s, store, _ := newTestServer(t)

	cases := []map[string]any{
		{},
		{"temperature": 1.5},
		{"temperature": -0.1},
		{"maxTokens": 0},
		{"maxTokens": 9000},
		{"theme": "neon"},
		{"ollamaEndpoint": "  "},
		{"defaultModel": ""},
	}
	for _, body := range cases {
		rec := do(t, s, "PATCH", "/api/settings", body)
		requireAPIError(t, rec, http.StatusBadRequest, CodeValidationError)
	}

	// None of the rejected updates touched the store.
	settings, err := store.GetSettings(context.Background())
	require.NoError(t, err)
	require.Equal(t, testDefaults(), *settings)
}

func TestGenerateAPIKey(t *testing.T) {
	s, store, _ := newTestServer(t)

	rec := do(t, s, "POST", "/api/settings/api-key/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		APIKey       string           `json:"apiKey"`
		MaskedAPIKey string           `json:"maskedApiKey"`
		CreatedAt    string           `json:"createdAt"`
		Settings     storage.Settings `json:"settings"`
	}
	decodeData(t, rec, &data)
	require.True(t, apikey.IsValidFormat(data.APIKey))
	require.Equal(t, apikey.Mask(data.APIKey), data.MaskedAPIKey)
	require.NotEmpty(t, data.CreatedAt)

	// The settings block in the response never carries the full key.
	require.Equal(t, data.MaskedAPIKey, data.Settings.APIKey)

	settings, err := store.GetSettings(context.Background())
	require.NoError(t, err)
	require.Equal(t, data.APIKey, settings.APIKey)
	require.Equal(t, data.CreatedAt, settings.APIKeyCreatedAt)
}

func TestRefreshAPIKey(t *testing.T) {
	s, _, _ := newTestServer(t)

	// Refresh without a key is an error.
	rec := do(t, s, "POST", "/api/settings/api-key/refresh", nil)
	requireAPIError(t, rec, http.StatusBadRequest, CodeNoAPIKey)

	rec = do(t, s, "POST", "/api/settings/api-key/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var first struct {
		APIKey string `json:"apiKey"`
	}
	decodeData(t, rec, &first)

	rec = do(t, s, "POST", "/api/settings/api-key/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var second struct {
		APIKey string `json:"apiKey"`
	}
	decodeData(t, rec, &second)

	require.True(t, apikey.IsValidFormat(second.APIKey))
	require.NotEqual(t, first.APIKey, second.APIKey)
}

func TestRevokeAPIKey(t *testing.T) {
	s, store, _ := newTestServer(t)

	rec := do(t, s, "DELETE", "/api/settings/api-key", nil)
	requireAPIError(t, rec, http.StatusBadRequest, CodeNoAPIKey)

	rec = do(t, s, "POST", "/api/settings/api-key/generate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "DELETE", "/api/settings/api-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	settings, err := store.GetSettings(context.Background())
	require.NoError(t, err)
	require.Empty(t, settings.APIKey)
	require.Empty(t, settings.APIKeyCreatedAt)

	rec = do(t, s, "DELETE", "/api/settings/api-key", nil)
	requireAPIError(t, rec, http.StatusBadRequest, CodeNoAPIKey)
}
