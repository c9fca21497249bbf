package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"localchat/internal/ollama"
	"localchat/internal/storage"
)

func TestSendMessage(t *testing.T) {
	s, store, backend := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")
	backend.reply = "Hello there"

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/messages", map[string]any{
		"content": "Hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		UserMessage storage.Message `json:"userMessage"`
		AIMessage   storage.Message `json:"aiMessage"`
		SessionID   string          `json:"sessionId"`
	}
	decodeData(t, rec, &data)
	require.Equal(t, session.ID, data.SessionID)
	require.Equal(t, storage.RoleUser, data.UserMessage.Role)
	require.Equal(t, "Hi", data.UserMessage.Content)
	require.Equal(t, storage.RoleAssistant, data.AIMessage.Role)
	require.Equal(t, "Hello there", data.AIMessage.Content)
	require.Positive(t, data.AIMessage.Tokens)

	stored, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.MessageCount)
}

func TestSendMessageForwardsSettings(t *testing.T) {
	s, store, backend := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")

	temp := 0.2
	maxTokens := 512
	_, err := store.UpdateSettings(context.Background(), storage.SettingsUpdate{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	require.NoError(t, err)

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/messages", map[string]any{
		"content": "Hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, "llama3.2", backend.lastModel)
	require.NotNil(t, backend.lastOpts.Temperature)
	require.InDelta(t, 0.2, *backend.lastOpts.Temperature, 1e-9)
	require.NotNil(t, backend.lastOpts.MaxTokens)
	require.Equal(t, 512, *backend.lastOpts.MaxTokens)
}

func TestSendMessageValidation(t *testing.T) {
	s, store, _ := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/messages", map[string]any{"content": "   "})
	requireAPIError(t, rec, http.StatusBadRequest, CodeInvalidRequest)

	rec = do(t, s, "POST", "/api/chat/"+session.ID+"/messages", map[string]any{
		"content": "hi",
		"role":    "assistant",
	})
	requireAPIError(t, rec, http.StatusBadRequest, CodeValidationError)

	rec = do(t, s, "POST", "/api/chat/missing/messages", map[string]any{"content": "hi"})
	requireAPIError(t, rec, http.StatusNotFound, CodeSessionNotFound)
}

func TestSendMessageModelUnavailable(t *testing.T) {
	s, store, backend := newTestServer(t)
	session := createTestSession(t, store, "missing-model")

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/messages", map[string]any{"content": "hi"})
	requireAPIError(t, rec, http.StatusBadRequest, CodeModelNotAvailable)
	require.Zero(t, backend.chatCalls)

	// The availability check runs before anything is persisted.
	messages, err := store.ListMessages(context.Background(), session.ID)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestSendMessageBackendFailure(t *testing.T) {
	s, store, backend := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")
	backend.chatErr = errBackendDown

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/messages", map[string]any{"content": "hi"})
	requireAPIError(t, rec, http.StatusInternalServerError, CodeGenerationFailed)

	// The user message survives the failed generation.
	messages, err := store.ListMessages(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, storage.RoleUser, messages[0].Role)
}

func TestSendMessageAutoTitle(t *testing.T) {
	s, store, backend := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")
	backend.reply = "Autumn poetry"

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/messages", map[string]any{
		"content": "帮我写一首关于秋天的诗",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := store.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, "Autumn poetry", stored.Title)

	// Title generation plus the completion itself.
	require.Equal(t, 2, backend.chatCalls)

	// The second user message must not retitle the session.
	rec = do(t, s, "POST", "/api/chat/"+session.ID+"/messages", map[string]any{"content": "再来一首"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 3, backend.chatCalls)
}

func TestStreamMessage(t *testing.T) {
	s, store, backend := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")
	backend.streamChunks = []ollama.StreamChunk{
		{Content: "Hel"},
		{Content: "lo"},
	}

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/stream", map[string]any{
		"content": "Say hello",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Equal(t, "Hello", rec.Body.String())

	// The accumulated text is persisted as the assistant turn.
	messages, err := store.ListMessages(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, storage.RoleAssistant, messages[1].Role)
	require.Equal(t, "Hello", messages[1].Content)
}

func TestStreamMessageMidStreamError(t *testing.T) {
	s, store, backend := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")
	backend.streamChunks = []ollama.StreamChunk{
		{Content: "partial"},
		{Err: errBackendDown},
	}

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/stream", map[string]any{
		"content": "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Error:")

	// Partial output is not persisted.
	messages, err := store.ListMessages(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, storage.RoleUser, messages[0].Role)
}

func TestStreamMessageSetupFailure(t *testing.T) {
	s, store, backend := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")
	backend.streamErr = errBackendDown

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/stream", map[string]any{
		"content": "hi",
	})
	requireAPIError(t, rec, http.StatusInternalServerError, CodeGenerationFailed)
}

func TestChatHistoryPagination(t *testing.T) {
	s, store, _ := newTestServer(t)
	ctx := context.Background()
	session := createTestSession(t, store, "llama3.2")

	for i := 0; i < 5; i++ {
		_, err := store.AddMessage(ctx, storage.Message{
			SessionID: session.ID,
			Role:      storage.RoleUser,
			Content:   fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	rec := do(t, s, "GET", "/api/chat/"+session.ID+"/history?limit=2&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Messages []storage.Message `json:"messages"`
		Total    int               `json:"total"`
		Limit    int               `json:"limit"`
		Offset   int               `json:"offset"`
	}
	decodeData(t, rec, &data)
	require.Equal(t, 5, data.Total)
	require.Equal(t, 2, data.Limit)
	require.Equal(t, 1, data.Offset)
	require.Len(t, data.Messages, 2)
	require.Equal(t, "message 1", data.Messages[0].Content)
	require.Equal(t, "message 2", data.Messages[1].Content)

	// Offset past the end yields an empty page, not an error.
	rec = do(t, s, "GET", "/api/chat/"+session.ID+"/history?offset=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &data)
	require.Empty(t, data.Messages)
	require.Equal(t, 5, data.Total)
}

func TestRegenerate(t *testing.T) {
	s, store, backend := newTestServer(t)
	ctx := context.Background()
	session := createTestSession(t, store, "llama3.2")

	for _, m := range []storage.Message{
		{SessionID: session.ID, Role: storage.RoleUser, Content: "question"},
		{SessionID: session.ID, Role: storage.RoleAssistant, Content: "first answer"},
		{SessionID: session.ID, Role: storage.RoleUser, Content: "followup"},
	} {
		_, err := store.AddMessage(ctx, m)
		require.NoError(t, err)
	}
	backend.reply = "second answer"

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/regenerate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var data struct {
		Message   storage.Message `json:"message"`
		SessionID string          `json:"sessionId"`
	}
	decodeData(t, rec, &data)
	require.Equal(t, storage.RoleAssistant, data.Message.Role)
	require.Equal(t, "second answer", data.Message.Content)

	// The context sent to the model stops before the regenerated answer.
	require.Len(t, backend.lastMessages, 1)
	require.Equal(t, "question", backend.lastMessages[0].Content)

	messages, err := store.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 4)
}

func TestRegenerateNoMessages(t *testing.T) {
	s, store, backend := newTestServer(t)
	session := createTestSession(t, store, "llama3.2")

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/regenerate", nil)
	requireAPIError(t, rec, http.StatusBadRequest, CodeNoMessages)
	require.Zero(t, backend.chatCalls)
}

func TestRegenerateNoAIMessage(t *testing.T) {
	s, store, backend := newTestServer(t)
	ctx := context.Background()
	session := createTestSession(t, store, "llama3.2")

	_, err := store.AddMessage(ctx, storage.Message{
		SessionID: session.ID,
		Role:      storage.RoleUser,
		Content:   "unanswered",
	})
	require.NoError(t, err)

	rec := do(t, s, "POST", "/api/chat/"+session.ID+"/regenerate", nil)
	requireAPIError(t, rec, http.StatusBadRequest, CodeNoAIMessage)

	// Rejected before any model call.
	require.Zero(t, backend.chatCalls)
}
