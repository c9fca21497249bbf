package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"localchat/internal/ollama"
	"localchat/internal/storage"
)

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature"`
	TopP        *float64        `json:"top_p"`
	MaxTokens   *int            `json:"max_tokens"`
	Stream      bool            `json:"stream"`
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type openAIStreamChoice struct {
	Index        int         `json:"index"`
	Delta        openAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type openAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
}

type openAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type openAIModelList struct {
	Object string        `json:"object"`
	Data   []openAIModel `json:"data"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openAIChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error",
			"Invalid request body", "", "")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error",
			"you must provide a model parameter", "model", "missing_required_parameter")
		return
	}
	if len(req.Messages) == 0 {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error",
			"messages must be a non-empty array", "messages", "missing_required_parameter")
		return
	}
	for i, m := range req.Messages {
		if !storage.ValidRole(m.Role) {
			writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error",
				fmt.Sprintf("invalid role %q", m.Role), fmt.Sprintf("messages[%d].role", i), "")
			return
		}
	}

	if !s.backend.IsModelAvailable(r.Context(), req.Model) {
		writeOpenAIError(w, http.StatusNotFound, "invalid_request_error",
			fmt.Sprintf("The model %q does not exist or is not available", req.Model),
			"model", "model_not_found")
		return
	}

	history := make([]storage.Message, len(req.Messages))
	for i, m := range req.Messages {
		history[i] = storage.Message{Role: m.Role, Content: m.Content}
	}
	opts := ollama.Options{
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	if req.Stream {
		s.streamCompletion(w, r, req, history, opts, id, created)
		return
	}

	reply, err := s.backend.Chat(r.Context(), req.Model, history, opts)
	if err != nil {
		writeOpenAIError(w, http.StatusInternalServerError, "server_error",
			fmt.Sprintf("Completion failed: %v", err), "", "")
		return
	}

	var prompt strings.Builder
	for i, m := range req.Messages {
		if i > 0 {
			prompt.WriteByte(' ')
		}
		prompt.WriteString(m.Content)
	}
	usage := openAIUsage{
		PromptTokens:     s.backend.EstimateTokens(prompt.String()),
		CompletionTokens: s.backend.EstimateTokens(reply),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeRawJSON(w, openAIChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   req.Model,
		Choices: []openAIChoice{{
			Message:      openAIMessage{Role: storage.RoleAssistant, Content: reply},
			FinishReason: "stop",
		}},
		Usage: usage,
	})
}

func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, req openAIChatRequest, history []storage.Message, opts ollama.Options, id string, created int64) {
	chunks, err := s.backend.ChatStream(r.Context(), req.Model, history, opts)
	if err != nil {
		writeOpenAIError(w, http.StatusInternalServerError, "server_error",
			fmt.Sprintf("Completion failed: %v", err), "", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}
	emit := func(chunk openAIStreamChunk) {
		data, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flush()
	}

	first := true
	for chunk := range chunks {
		if chunk.Err != nil {
			errData, _ := json.Marshal(openAIErrorEnvelope{Error: openAIErrorBody{
				Message: chunk.Err.Error(),
				Type:    "server_error",
			}})
			fmt.Fprintf(w, "data: %s\n\n", errData)
			flush()
			return
		}
		if chunk.Content == "" {
			continue
		}
		delta := openAIDelta{Content: chunk.Content}
		if first {
			delta.Role = storage.RoleAssistant
			first = false
		}
		emit(openAIStreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []openAIStreamChoice{{Delta: delta}},
		})
	}

	stop := "stop"
	emit(openAIStreamChunk{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   req.Model,
		Choices: []openAIStreamChoice{{Delta: openAIDelta{}, FinishReason: &stop}},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flush()
}

func toOpenAIModel(m ollama.ModelInfo) openAIModel {
	return openAIModel{
		ID:      m.ID,
		Object:  "model",
		Created: m.Modified.Unix(),
		OwnedBy: "ollama",
	}
}

func (s *Server) handleOpenAIListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.backend.ListModels(r.Context())
	if err != nil {
		writeOpenAIError(w, http.StatusServiceUnavailable, "server_error",
			fmt.Sprintf("Model backend unavailable: %v", err), "", "service_unavailable")
		return
	}
	list := openAIModelList{Object: "list", Data: make([]openAIModel, 0, len(models))}
	for _, m := range models {
		list.Data = append(list.Data, toOpenAIModel(m))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	writeRawJSON(w, list)
}

func (s *Server) handleOpenAIGetModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	models, err := s.backend.ListModels(r.Context())
	if err != nil {
		writeOpenAIError(w, http.StatusServiceUnavailable, "server_error",
			fmt.Sprintf("Model backend unavailable: %v", err), "", "service_unavailable")
		return
	}
	for _, m := range models {
		if m.ID == id || m.Name == id {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			writeRawJSON(w, toOpenAIModel(m))
			return
		}
	}
	writeOpenAIError(w, http.StatusNotFound, "invalid_request_error",
		fmt.Sprintf("The model %q does not exist", id), "model", "model_not_found")
}
