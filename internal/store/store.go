// ABOUTME: Domain types and tier interfaces for convo-console persistence
// ABOUTME: Defines Message, Conversation, ProjectData and the permanent/session tier contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested key or conversation does not exist
var ErrNotFound = errors.New("not found")

// Role identifies who produced a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// DefaultTitle is the placeholder title of a conversation that has not yet
// received its first user message.
const DefaultTitle = "Nova Conversa"

// Message is a single captured turn. Immutable once created.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an application-owned conversation log. Messages are
// append-only during a session.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Report    string    `json:"report,omitempty"`
}

// Clone returns a copy whose message slice does not alias c's.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// ProjectData is the typed view of an imported project record. The stored
// records themselves are free-form.
type ProjectData struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	Progress    float64  `json:"progress"`
	StartDate   string   `json:"startDate"`
	EndDate     string   `json:"endDate"`
	Team        []string `json:"team"`
	Description string   `json:"description"`
}

// Permanent tier keys
const (
	ConversationsKey = "conversations"
	ProjectDataKey   = "projectData"
)

// Session tier keys
const (
	ActiveConversationKey = "activeConversationId"
	snapshotKeyPrefix     = "conversation_"
)

// WidgetSessionKeys are owned by the embedded messenger widget. They are
// cleared on every conversation switch and never read.
var WidgetSessionKeys = []string{
	"df-messenger-messages",
	"df-messenger-sessionID",
	"df-messenger-welcomeIntentTriggered",
	"df-messenger-lastResponseInstant",
}

// SnapshotKey returns the session tier key holding the snapshot of a conversation
func SnapshotKey(conversationID string) string {
	return snapshotKeyPrefix + conversationID
}

// PermanentTier is durable blob storage shared by every tab session
type PermanentTier interface {
	// Get returns ErrNotFound when the key is absent
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// SessionTier is blob storage scoped to one tab session. Records vanish when
// the session goes idle.
type SessionTier interface {
	// Get returns ErrNotFound when the key is absent
	Get(ctx context.Context, sessionID, key string) ([]byte, error)
	Put(ctx context.Context, sessionID, key string, value []byte) error
	Delete(ctx context.Context, sessionID, key string) error
	Keys(ctx context.Context, sessionID string) ([]string, error)
	Close() error
}
