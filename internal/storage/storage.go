// Package storage persists sessions, messages and settings as JSON documents
// on disk. One document holds all sessions, one holds settings, and each
// session's messages live in their own document.
package storage

import "context"

// Storage defines the persistence operations used by the HTTP handlers.
//
// Lookup methods distinguish "absent" from failure: GetSession and
// UpdateSession return (nil, nil) for an unknown id, ListMessages returns an
// empty slice for an unknown session, and DeleteSession reports absence
// through its boolean.
type Storage interface {
	// Sessions
	CreateSession(ctx context.Context, title, model string) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	UpdateSession(ctx context.Context, id string, update SessionUpdate) (*Session, error)
	DeleteSession(ctx context.Context, id string) (bool, error)

	// Messages
	AddMessage(ctx context.Context, msg Message) (*Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	DeleteMessages(ctx context.Context, sessionID string) (bool, error)

	// Settings
	GetSettings(ctx context.Context) (*Settings, error)
	UpdateSettings(ctx context.Context, update SettingsUpdate) (*Settings, error)

	// Maintenance
	IsHealthy(ctx context.Context) bool
	Close() error
}
