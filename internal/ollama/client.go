// Package ollama is the HTTP client for the local Ollama runtime. It converts
// between the internal message format and Ollama's chat wire format and
// exposes buffered and streaming completion calls.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"localchat/internal/storage"
)

// Sentinel errors for classifying backend failures at the HTTP boundary.
var (
	ErrNotRunning     = errors.New("cannot connect to Ollama service")
	ErrModelNotFound  = errors.New("model not found")
	ErrInvalidRequest = errors.New("invalid request to Ollama API")
	ErrEmptyResponse  = errors.New("empty response from Ollama")
)

// Options carries per-call generation parameters. Pointer fields that are nil
// are omitted from the payload entirely; Ollama's own defaults differ from
// zero values, so sending zeros would change behavior.
type Options struct {
	Temperature   *float64
	TopP          *float64
	TopK          *int
	RepeatPenalty *float64
	Seed          *int
	MaxTokens     *int
}

// ModelInfo describes one model reported by the runtime.
type ModelInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	Available bool      `json:"available"`
}

// ServiceInfo identifies the backend for status payloads.
type ServiceInfo struct {
	BaseURL string `json:"baseUrl"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// StreamChunk is one event from a streaming completion. Err is set on the
// final chunk when the stream failed mid-flight.
type StreamChunk struct {
	Content string
	Err     error
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	Seed          *int     `json:"seed,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatResponse struct {
	Message *chatMessage `json:"message,omitempty"`
	Done    bool         `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

// Client talks to one Ollama instance. The endpoint can be swapped at
// runtime; the change applies to subsequent calls, not in-flight ones.
type Client struct {
	mu      sync.RWMutex
	baseURL string

	httpClient   *http.Client // buffered calls, bounded timeout
	streamClient *http.Client // streaming calls, lifetime bounded by ctx
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
	}
}

// Endpoint returns the current base URL.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetEndpoint replaces the base URL for all subsequent calls.
func (c *Client) SetEndpoint(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if baseURL != c.baseURL {
		c.baseURL = baseURL
		log.Info("Updated Ollama endpoint", "url", baseURL)
	}
}

// Info describes the backend service for status payloads. Ollama does not
// report a version over this API.
func (c *Client) Info() ServiceInfo {
	return ServiceInfo{BaseURL: c.Endpoint(), Name: "Ollama", Version: "unknown"}
}

// CheckHealth probes the runtime. It never returns an error; any failure
// reads as unhealthy.
func (c *Client) CheckHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint()+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("Ollama health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// ListModels fetches the runtime's model list. A fetch failure is an error,
// distinct from an empty list.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint()+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("failed to fetch models: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, ModelInfo{
			ID:        m.Name,
			Name:      m.Name,
			Size:      m.Size,
			Modified:  m.ModifiedAt,
			Available: true,
		})
	}
	return models, nil
}

// IsModelAvailable reports whether the named model is present. An unreachable
// backend reads as unavailable, not as an error.
func (c *Client) IsModelAvailable(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		log.Warn("Model availability check failed", "model", name, "error", err)
		return false
	}
	for _, m := range models {
		if m.ID == name {
			return true
		}
	}
	return false
}

func toChatMessages(messages []storage.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (o Options) wire() *chatOptions {
	return &chatOptions{
		Temperature:   o.Temperature,
		TopP:          o.TopP,
		TopK:          o.TopK,
		RepeatPenalty: o.RepeatPenalty,
		Seed:          o.Seed,
		NumPredict:    o.MaxTokens,
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: please ensure it's running", ErrNotRunning)
	}
	return fmt.Errorf("ollama request failed: %w", err)
}

func classifyStatus(model string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: model %q, please ensure it's downloaded", ErrModelNotFound, model)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, bytes.TrimSpace(body))
	default:
		return fmt.Errorf("ollama API error %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
}

// Chat issues a single non-streaming completion and returns the full text.
func (c *Client) Chat(ctx context.Context, model string, messages []storage.Message, opts Options) (string, error) {
	reqBody := chatRequest{
		Model:    model,
		Messages: toChatMessages(messages),
		Stream:   false,
		Options:  opts.wire(),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint()+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(model, resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if out.Message == nil || out.Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return out.Message.Content, nil
}

// ChatStream issues a streaming completion. Setup failures (unreachable
// backend, unknown model) are returned synchronously; after that every event
// arrives on the returned channel, which is closed when the backend reports
// done, the transport ends, or ctx is canceled. The stream is forward-only
// and consumed exactly once.
func (c *Client) ChatStream(ctx context.Context, model string, messages []storage.Message, opts Options) (<-chan StreamChunk, error) {
	reqBody := chatRequest{
		Model:    model,
		Messages: toChatMessages(messages),
		Stream:   true,
		Options:  opts.wire(),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint()+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, classifyStatus(model, resp)
	}

	chunks := make(chan StreamChunk)
	go c.readStream(ctx, resp.Body, chunks)
	return chunks, nil
}

// readStream parses the newline-delimited JSON stream. Each line optionally
// carries a content fragment and a done flag; malformed lines are skipped
// with a warning.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, chunks chan<- StreamChunk) {
	defer body.Close()
	defer close(chunks)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event chatResponse
		if err := json.Unmarshal(line, &event); err != nil {
			log.Warn("Skipping malformed stream line", "line", string(line))
			continue
		}

		if event.Message != nil && event.Message.Content != "" {
			select {
			case chunks <- StreamChunk{Content: event.Message.Content}:
			case <-ctx.Done():
				return
			}
		}
		if event.Done {
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case chunks <- StreamChunk{Err: fmt.Errorf("stream read failed: %w", err)}:
		case <-ctx.Done():
		}
	}
}

// EstimateTokens approximates the token count of text at four characters per
// token. It is a heuristic, not a tokenizer; downstream accounting built on
// it is approximate and must not be used where exact counts matter.
func (c *Client) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
