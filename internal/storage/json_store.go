package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	sessionsFileName = "sessions.json"
	settingsFileName = "settings.json"
	messagesDirName  = "messages"
	lockFileName     = ".lock"
)

// JSONStore implements Storage with whole-document JSON files. Every mutation
// reads the collection, rewrites it in memory and writes it back, so each
// collection is guarded by its own mutex. A file lock on the data directory
// keeps a second process from sharing the same files.
type JSONStore struct {
	dataDir      string
	sessionsFile string
	settingsFile string
	messagesDir  string
	defaults     Settings

	dirLock *flock.Flock

	sessionsMu sync.Mutex
	settingsMu sync.Mutex

	msgMu    sync.Mutex
	msgLocks map[string]*sync.Mutex
}

// NewJSONStore opens (or creates) the data directory and takes an exclusive
// advisory lock on it. defaults seeds the settings document on first read.
func NewJSONStore(dataDir string, defaults Settings) (*JSONStore, error) {
	s := &JSONStore{
		dataDir:      dataDir,
		sessionsFile: filepath.Join(dataDir, sessionsFileName),
		settingsFile: filepath.Join(dataDir, settingsFileName),
		messagesDir:  filepath.Join(dataDir, messagesDirName),
		defaults:     defaults,
		msgLocks:     make(map[string]*sync.Mutex),
	}

	if err := s.ensureDirectories(); err != nil {
		return nil, err
	}

	s.dirLock = flock.New(filepath.Join(dataDir, lockFileName))
	locked, err := s.dirLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data directory %s is in use by another process", dataDir)
	}

	log.Info("Storage initialized", "dir", dataDir)
	return s, nil
}

func (s *JSONStore) ensureDirectories() error {
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(s.messagesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create messages directory: %w", err)
	}
	return nil
}

// Close releases the data directory lock.
func (s *JSONStore) Close() error {
	if s.dirLock != nil {
		return s.dirLock.Unlock()
	}
	return nil
}

func readJSONFile[T any](path string, fallback T) (T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fallback, nil
		}
		return fallback, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return fallback, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return out, nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *JSONStore) readSessions() ([]*Session, error) {
	return readJSONFile(s.sessionsFile, []*Session{})
}

// CreateSession assigns an id and timestamps and persists the new session.
func (s *JSONStore) CreateSession(ctx context.Context, title, model string) (*Session, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	sessions, err := s.readSessions()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		ID:           uuid.NewString(),
		Title:        title,
		Model:        model,
		CreatedAt:    now,
		UpdatedAt:    now,
		MessageCount: 0,
	}
	sessions = append(sessions, session)

	if err := writeJSONFile(s.sessionsFile, sessions); err != nil {
		return nil, err
	}

	log.Info("Created session", "id", session.ID, "model", model)
	return session, nil
}

// GetSession returns (nil, nil) when the id is unknown.
func (s *JSONStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	sessions, err := s.readSessions()
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		if session.ID == id {
			return session, nil
		}
	}
	return nil, nil
}

// ListSessions returns all sessions in storage order; callers sort.
func (s *JSONStore) ListSessions(ctx context.Context) ([]*Session, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return s.readSessions()
}

// UpdateSession merges the provided fields, bumps updatedAt and persists.
// Returns (nil, nil) when the id is unknown.
func (s *JSONStore) UpdateSession(ctx context.Context, id string, update SessionUpdate) (*Session, error) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	return s.updateSessionLocked(id, update)
}

func (s *JSONStore) updateSessionLocked(id string, update SessionUpdate) (*Session, error) {
	sessions, err := s.readSessions()
	if err != nil {
		return nil, err
	}

	var target *Session
	for _, session := range sessions {
		if session.ID == id {
			target = session
			break
		}
	}
	if target == nil {
		return nil, nil
	}

	if update.Title != nil {
		target.Title = *update.Title
	}
	if update.Model != nil {
		target.Model = *update.Model
	}
	if update.MessageCount != nil {
		target.MessageCount = *update.MessageCount
	}
	target.UpdatedAt = time.Now()

	if err := writeJSONFile(s.sessionsFile, sessions); err != nil {
		return nil, err
	}
	return target, nil
}

// DeleteSession removes the session and its message collection. Returns false
// when the id is unknown.
func (s *JSONStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	s.sessionsMu.Lock()
	sessions, err := s.readSessions()
	if err != nil {
		s.sessionsMu.Unlock()
		return false, err
	}

	idx := -1
	for i, session := range sessions {
		if session.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.sessionsMu.Unlock()
		return false, nil
	}

	sessions = append(sessions[:idx], sessions[idx+1:]...)
	if err := writeJSONFile(s.sessionsFile, sessions); err != nil {
		s.sessionsMu.Unlock()
		return false, err
	}
	s.sessionsMu.Unlock()

	if _, err := s.DeleteMessages(ctx, id); err != nil {
		return false, err
	}

	log.Info("Deleted session", "id", id)
	return true, nil
}

// messageLock returns the mutex scoping one session's message document.
func (s *JSONStore) messageLock(sessionID string) *sync.Mutex {
	s.msgMu.Lock()
	defer s.msgMu.Unlock()
	mu, ok := s.msgLocks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.msgLocks[sessionID] = mu
	}
	return mu
}

func (s *JSONStore) messagesFile(sessionID string) string {
	return filepath.Join(s.messagesDir, sessionID+".json")
}

// AddMessage assigns an id and timestamp, appends the message to its
// session's document, then updates the parent session's messageCount and
// updatedAt as a follow-up write.
func (s *JSONStore) AddMessage(ctx context.Context, msg Message) (*Message, error) {
	mu := s.messageLock(msg.SessionID)
	mu.Lock()

	messages, err := readJSONFile(s.messagesFile(msg.SessionID), []Message{})
	if err != nil {
		mu.Unlock()
		return nil, err
	}

	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now()
	messages = append(messages, msg)

	if err := writeJSONFile(s.messagesFile(msg.SessionID), messages); err != nil {
		mu.Unlock()
		return nil, err
	}
	count := len(messages)
	mu.Unlock()

	s.sessionsMu.Lock()
	_, err = s.updateSessionLocked(msg.SessionID, SessionUpdate{MessageCount: &count})
	s.sessionsMu.Unlock()
	if err != nil {
		return nil, err
	}

	return &msg, nil
}

// ListMessages returns the session's messages in insertion order. An unknown
// session yields an empty slice, not an error.
func (s *JSONStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	mu := s.messageLock(sessionID)
	mu.Lock()
	defer mu.Unlock()
	return readJSONFile(s.messagesFile(sessionID), []Message{})
}

// DeleteMessages removes the session's message document. Removing an absent
// document still reports success.
func (s *JSONStore) DeleteMessages(ctx context.Context, sessionID string) (bool, error) {
	mu := s.messageLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(s.messagesFile(sessionID)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to delete messages for %s: %w", sessionID, err)
	}
	return true, nil
}

// GetSettings reads the settings document, creating it with defaults on first
// call.
func (s *JSONStore) GetSettings(ctx context.Context) (*Settings, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	return s.getSettingsLocked()
}

func (s *JSONStore) getSettingsLocked() (*Settings, error) {
	if _, err := os.Stat(s.settingsFile); os.IsNotExist(err) {
		settings := s.defaults
		if err := writeJSONFile(s.settingsFile, &settings); err != nil {
			return nil, err
		}
		return &settings, nil
	}
	return readJSONFile(s.settingsFile, &Settings{})
}

// UpdateSettings merges the provided fields and persists. A pointer to the
// empty string clears the field.
func (s *JSONStore) UpdateSettings(ctx context.Context, update SettingsUpdate) (*Settings, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	settings, err := s.getSettingsLocked()
	if err != nil {
		return nil, err
	}

	if update.DefaultModel != nil {
		settings.DefaultModel = *update.DefaultModel
	}
	if update.Temperature != nil {
		settings.Temperature = *update.Temperature
	}
	if update.MaxTokens != nil {
		settings.MaxTokens = *update.MaxTokens
	}
	if update.OllamaEndpoint != nil {
		settings.OllamaEndpoint = *update.OllamaEndpoint
	}
	if update.Theme != nil {
		settings.Theme = *update.Theme
	}
	if update.APIKey != nil {
		settings.APIKey = *update.APIKey
	}
	if update.APIKeyCreatedAt != nil {
		settings.APIKeyCreatedAt = *update.APIKeyCreatedAt
	}

	if err := writeJSONFile(s.settingsFile, settings); err != nil {
		return nil, err
	}

	log.Info("Updated settings")
	return settings, nil
}

// IsHealthy verifies the data directory is writable and both core reads
// succeed.
func (s *JSONStore) IsHealthy(ctx context.Context) bool {
	if err := s.ensureDirectories(); err != nil {
		log.Error("Storage health check failed", "error", err)
		return false
	}

	probe := filepath.Join(s.dataDir, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		log.Error("Storage health check failed", "error", err)
		return false
	}
	os.Remove(probe)

	if _, err := s.ListSessions(ctx); err != nil {
		log.Error("Storage health check failed", "error", err)
		return false
	}
	if _, err := s.GetSettings(ctx); err != nil {
		log.Error("Storage health check failed", "error", err)
		return false
	}
	return true
}
