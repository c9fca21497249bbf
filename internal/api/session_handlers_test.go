package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"localchat/internal/storage"
)

func TestCreateSessionDefaults(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, "POST", "/api/sessions", map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code)

	var session storage.Session
	decodeData(t, rec, &session)
	require.NotEmpty(t, session.ID)
	require.True(t, strings.HasPrefix(session.Title, "New Chat "))
	require.Equal(t, "llama3.2", session.Model)
	require.Zero(t, session.MessageCount)
}

func TestCreateSessionExplicit(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, "POST", "/api/sessions", map[string]any{
		"title": "Poetry drafts",
		"model": "qwen2.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var session storage.Session
	decodeData(t, rec, &session)
	require.Equal(t, "Poetry drafts", session.Title)
	require.Equal(t, "qwen2.5", session.Model)
}

func TestListSessionsSortedByActivity(t *testing.T) {
	s, store, _ := newTestServer(t)
	ctx := context.Background()

	older := createTestSession(t, store, "llama3.2")
	newer := createTestSession(t, store, "llama3.2")

	// Touch the older one so it becomes the most recently active.
	time.Sleep(5 * time.Millisecond)
	title := "touched"
	_, err := store.UpdateSession(ctx, older.ID, storage.SessionUpdate{Title: &title})
	require.NoError(t, err)

	rec := do(t, s, "GET", "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Sessions []storage.Session `json:"sessions"`
		Total    int               `json:"total"`
	}
	decodeData(t, rec, &data)
	require.Equal(t, 2, data.Total)
	require.Equal(t, older.ID, data.Sessions[0].ID)
	require.Equal(t, newer.ID, data.Sessions[1].ID)
}

func TestGetSessionNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, "GET", "/api/sessions/missing", nil)
	requireAPIError(t, rec, http.StatusNotFound, CodeSessionNotFound)
}

func TestUpdateSession(t *testing.T) {
	s, store, _ := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")

	rec := do(t, s, "PUT", "/api/sessions/"+session.ID, map[string]any{
		"title": "Renamed",
		"model": "qwen2.5",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated storage.Session
	decodeData(t, rec, &updated)
	require.Equal(t, "Renamed", updated.Title)
	require.Equal(t, "qwen2.5", updated.Model)
}

func TestUpdateSessionValidation(t *testing.T) {
	s, store, _ := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")

	rec := do(t, s, "PUT", "/api/sessions/"+session.ID, map[string]any{})
	requireAPIError(t, rec, http.StatusBadRequest, CodeValidationError)

	rec = do(t, s, "PUT", "/api/sessions/"+session.ID, map[string]any{"title": "   "})
	requireAPIError(t, rec, http.StatusBadRequest, CodeValidationError)
}

func TestPatchTitle(t *testing.T) {
	s, store, _ := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")

	rec := do(t, s, "PATCH", "/api/sessions/"+session.ID+"/title", map[string]any{
		"title": "  spaced   out title  ",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated storage.Session
	decodeData(t, rec, &updated)
	require.Equal(t, "spaced out title", updated.Title)
}

func TestPatchTitleRejected(t *testing.T) {
	s, store, _ := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")

	rec := do(t, s, "PATCH", "/api/sessions/"+session.ID+"/title", map[string]any{"title": ""})
	requireAPIError(t, rec, http.StatusBadRequest, CodeValidationError)

	rec = do(t, s, "PATCH", "/api/sessions/"+session.ID+"/title", map[string]any{
		"title": strings.Repeat("长", 101),
	})
	requireAPIError(t, rec, http.StatusBadRequest, CodeValidationError)

	// A rejected title leaves the stored one untouched.
	stored, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, session.Title, stored.Title)
}

func TestDeleteSession(t *testing.T) {
	s, store, _ := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")

	rec := do(t, s, "DELETE", "/api/sessions/"+session.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		ID      string `json:"id"`
		Deleted bool   `json:"deleted"`
	}
	decodeData(t, rec, &data)
	require.Equal(t, session.ID, data.ID)
	require.True(t, data.Deleted)

	rec = do(t, s, "DELETE", "/api/sessions/"+session.ID, nil)
	requireAPIError(t, rec, http.StatusNotFound, CodeSessionNotFound)
}

func TestSessionMessages(t *testing.T) {
	s, store, _ := newTestServer(t)
	ctx := context.Background()
	session := createTestSession(t, store, "llama3.2")

	for _, content := range []string{"hi", "hello"} {
		_, err := store.AddMessage(ctx, storage.Message{
			SessionID: session.ID,
			Role:      storage.RoleUser,
			Content:   content,
		})
		require.NoError(t, err)
	}

	rec := do(t, s, "GET", "/api/sessions/"+session.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		SessionID string            `json:"sessionId"`
		Messages  []storage.Message `json:"messages"`
		Total     int               `json:"total"`
	}
	decodeData(t, rec, &data)
	require.Equal(t, session.ID, data.SessionID)
	require.Equal(t, 2, data.Total)
	require.Equal(t, "hi", data.Messages[0].Content)
}
