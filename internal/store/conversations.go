// ABOUTME: Two-tier conversation store reconciling session snapshots with permanent history
// ABOUTME: Load merges both tiers; mutations are committed against the current permanent list

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Loaded is the result of reading both tiers for a tab session
type Loaded struct {
	Conversations []*Conversation
	ActiveID      string
}

// ConversationStore persists the conversation list across a session tier
// (the active conversation of one tab) and a permanent tier (every
// conversation ever created). The permanent list is shared by every tab
// session served by this process; Commit serializes changes to it.
type ConversationStore struct {
	permanent PermanentTier
	session   SessionTier
	logger    *slog.Logger

	// Guards the read-modify-write of the permanent list
	mu sync.Mutex
}

// NewConversationStore creates a store over the given tiers
func NewConversationStore(permanent PermanentTier, session SessionTier, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{
		permanent: permanent,
		session:   session,
		logger:    logger.With("component", "conversation_store"),
	}
}

// LoadAll reads both tiers and reconciles them. It never fails: unreadable or
// malformed data in either tier is logged and treated as absent.
func (s *ConversationStore) LoadAll(ctx context.Context, sessionID string) *Loaded {
	permanent := s.loadPermanent(ctx)

	activeID := ""
	raw, err := s.session.Get(ctx, sessionID, ActiveConversationKey)
	switch {
	case err == nil:
		activeID = string(raw)
	case !errors.Is(err, ErrNotFound):
		s.logger.Warn("reading active conversation id failed", "session_id", sessionID, "error", err)
	}

	var snapshot *Conversation
	if activeID != "" {
		snapshot = s.loadSnapshot(ctx, sessionID, activeID)
	}

	conversations := Reconcile(permanent, snapshot)
	resolved := ResolveActive(conversations, activeID)

	s.logger.Debug("conversations loaded",
		"session_id", sessionID,
		"count", len(conversations),
		"active_id", resolved,
		"from_snapshot", snapshot != nil)

	return &Loaded{Conversations: conversations, ActiveID: resolved}
}

// loadPermanent decodes the permanent conversation list, treating read
// failures as an empty list.
func (s *ConversationStore) loadPermanent(ctx context.Context) []*Conversation {
	list, err := s.readPermanent(ctx)
	if err != nil {
		s.logger.Warn("reading permanent conversations failed", "error", err)
		return nil
	}
	return list
}

// readPermanent decodes the permanent conversation list. A missing or
// malformed list is empty; only a failing tier read is an error.
func (s *ConversationStore) readPermanent(ctx context.Context) ([]*Conversation, error) {
	raw, err := s.permanent.Get(ctx, ConversationsKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var list []*Conversation
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.Warn("permanent conversations are malformed, treating as empty", "error", err)
		return nil, nil
	}

	// Drop null entries a hand-edited blob might contain
	out := list[:0]
	for _, c := range list {
		if c != nil {
			c.Messages = knownRoles(c.Messages)
			out = append(out, c)
		}
	}
	return out, nil
}

// knownRoles drops messages whose role is neither user nor assistant
func knownRoles(msgs []Message) []Message {
	out := msgs[:0]
	for _, m := range msgs {
		if m.Role.Valid() {
			out = append(out, m)
		}
	}
	return out
}

// loadSnapshot decodes the session snapshot for id
func (s *ConversationStore) loadSnapshot(ctx context.Context, sessionID, id string) *Conversation {
	raw, err := s.session.Get(ctx, sessionID, SnapshotKey(id))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("reading session snapshot failed", "session_id", sessionID, "conversation_id", id, "error", err)
		}
		return nil
	}

	var c Conversation
	if err := json.Unmarshal(raw, &c); err != nil {
		s.logger.Warn("session snapshot is malformed, ignoring", "session_id", sessionID, "conversation_id", id, "error", err)
		return nil
	}
	if c.ID == "" {
		return nil
	}
	c.Messages = knownRoles(c.Messages)
	return &c
}

// Commit applies one change to the permanent list as it is now, not as the
// caller last saw it, so concurrent tab sessions never overwrite each other's
// conversations. The merged list is written through with activeID (or, when
// activeID no longer resolves, the first remaining conversation) as the
// session's active snapshot.
//
// Commit returns the merged view whenever the permanent list could be read,
// even if a write then failed; callers adopt it and surface the error.
func (s *ConversationStore) Commit(ctx context.Context, sessionID string, m Mutation, activeID string) (*Loaded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readPermanent(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading permanent conversations: %w", err)
	}

	if m.Create && m.Upsert != nil {
		if id := FreeID(current, m.Upsert.ID); id != m.Upsert.ID {
			s.logger.Debug("conversation id taken by another session", "id", m.Upsert.ID, "reassigned", id)
			if activeID == m.Upsert.ID {
				activeID = id
			}
			m.Upsert = m.Upsert.Clone()
			m.Upsert.ID = id
		}
	}

	merged := Apply(current, m)
	if activeID != "" {
		activeID = ResolveActive(merged, activeID)
	}
	loaded := &Loaded{Conversations: merged, ActiveID: activeID}

	if m.DeleteID != "" {
		err = s.OnDelete(ctx, sessionID, m.DeleteID, merged, activeID)
	} else {
		err = s.WriteThrough(ctx, sessionID, merged, activeID)
	}
	return loaded, err
}

// WriteThrough serializes the full list to the permanent tier and, when
// activeID names a conversation in the list, records it as the session's
// active snapshot.
func (s *ConversationStore) WriteThrough(ctx context.Context, sessionID string, conversations []*Conversation, activeID string) error {
	if conversations == nil {
		conversations = []*Conversation{}
	}
	data, err := json.Marshal(conversations)
	if err != nil {
		return fmt.Errorf("encoding conversations: %w", err)
	}
	if err := s.permanent.Put(ctx, ConversationsKey, data); err != nil {
		return fmt.Errorf("writing permanent conversations: %w", err)
	}

	if activeID == "" {
		return nil
	}
	idx := Find(conversations, activeID)
	if idx < 0 {
		return nil
	}

	snapshot, err := json.Marshal(conversations[idx])
	if err != nil {
		return fmt.Errorf("encoding session snapshot: %w", err)
	}
	if err := s.session.Put(ctx, sessionID, SnapshotKey(activeID), snapshot); err != nil {
		return fmt.Errorf("writing session snapshot: %w", err)
	}
	if err := s.session.Put(ctx, sessionID, ActiveConversationKey, []byte(activeID)); err != nil {
		return fmt.Errorf("writing active conversation id: %w", err)
	}
	return nil
}

// OnDelete removes the deleted conversation's session snapshot, clears the
// active pointer when nothing remains active, and writes the remaining list
// through with newActiveID as the active snapshot.
func (s *ConversationStore) OnDelete(ctx context.Context, sessionID, deletedID string, remaining []*Conversation, newActiveID string) error {
	if err := s.session.Delete(ctx, sessionID, SnapshotKey(deletedID)); err != nil {
		return fmt.Errorf("removing session snapshot: %w", err)
	}
	if newActiveID == "" {
		if err := s.session.Delete(ctx, sessionID, ActiveConversationKey); err != nil {
			return fmt.Errorf("clearing active conversation id: %w", err)
		}
	}
	return s.WriteThrough(ctx, sessionID, remaining, newActiveID)
}

// PruneSnapshots removes every session snapshot except keepID's
func (s *ConversationStore) PruneSnapshots(ctx context.Context, sessionID, keepID string) error {
	keys, err := s.session.Keys(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("listing session keys: %w", err)
	}
	keep := SnapshotKey(keepID)
	for _, k := range keys {
		if !strings.HasPrefix(k, snapshotKeyPrefix) || k == keep {
			continue
		}
		if err := s.session.Delete(ctx, sessionID, k); err != nil {
			return fmt.Errorf("removing stale snapshot %q: %w", k, err)
		}
	}
	return nil
}

// ClearWidgetKeys removes the messenger widget's own session state. Keys are
// removed independently; a failure on one is logged and the rest still go.
// The returned error joins every failure.
func (s *ConversationStore) ClearWidgetKeys(ctx context.Context, sessionID string) error {
	var errs []error
	for _, k := range WidgetSessionKeys {
		if err := s.session.Delete(ctx, sessionID, k); err != nil {
			s.logger.Warn("removing widget session key failed", "session_id", sessionID, "key", k, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
