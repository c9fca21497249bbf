package storage

import "time"

// Message roles accepted by the chat pipeline.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ValidRole reports whether role is one of the recognized message roles.
func ValidRole(role string) bool {
	return role == RoleSystem || role == RoleUser || role == RoleAssistant
}

// Session is a chat conversation. MessageCount mirrors the number of stored
// messages and is maintained by AddMessage.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// Message is one turn in a session. Messages are append-only and never edited
// in place.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens,omitempty"`
}

// Settings is the single process-wide configuration record. APIKey, when set,
// grants access to the OpenAI-compatible surface.
type Settings struct {
	DefaultModel    string  `json:"defaultModel"`
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"maxTokens"`
	OllamaEndpoint  string  `json:"ollamaEndpoint"`
	Theme           string  `json:"theme"`
	APIKey          string  `json:"apiKey,omitempty"`
	APIKeyCreatedAt string  `json:"apiKeyCreatedAt,omitempty"`
}

// SessionUpdate is a partial session mutation. Nil fields are left untouched.
type SessionUpdate struct {
	Title        *string
	Model        *string
	MessageCount *int
}

// SettingsUpdate is a partial settings mutation. Nil fields are left
// untouched; a pointer to the empty string clears the field (used to revoke
// the API key).
type SettingsUpdate struct {
	DefaultModel    *string
	Temperature     *float64
	MaxTokens       *int
	OllamaEndpoint  *string
	Theme           *string
	APIKey          *string
	APIKeyCreatedAt *string
}
