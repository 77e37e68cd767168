// ABOUTME: Pure merge of the permanent conversation list with a session snapshot
// ABOUTME: Also applies one session's change to the shared permanent list

package store

import (
	"slices"
	"strconv"
)

// Field precedence when a session snapshot and a permanent entry share an id:
//
//	field      winner
//	---------  ---------
//	title      session
//	messages   session
//	report     session
//	updatedAt  session
//	createdAt  permanent
//
// A snapshot whose id is absent from the permanent list is prepended.

// Reconcile merges snapshot into permanent and returns a new list. Neither
// input is modified. A nil snapshot or one without an id returns a copy of
// permanent.
func Reconcile(permanent []*Conversation, snapshot *Conversation) []*Conversation {
	out := make([]*Conversation, 0, len(permanent)+1)
	for _, c := range permanent {
		out = append(out, c.Clone())
	}
	if snapshot == nil || snapshot.ID == "" {
		return out
	}

	for i, c := range out {
		if c.ID == snapshot.ID {
			merged := snapshot.Clone()
			merged.CreatedAt = c.CreatedAt
			out[i] = merged
			return out
		}
	}
	return append([]*Conversation{snapshot.Clone()}, out...)
}

// Mutation is one change a tab session makes to the permanent list. Upsert
// replaces the conversation with the same id, or inserts it when absent.
// DeleteID removes a conversation. A zero Mutation changes nothing.
type Mutation struct {
	Upsert   *Conversation
	DeleteID string
	// Create marks Upsert as a new conversation whose id must not collide
	// with one another session already created.
	Create bool
}

// Apply returns list with m applied. Neither input is modified. An upserted
// conversation keeps the createdAt of the entry it replaces; an inserted one
// goes before the first conversation not created after it, keeping the list
// newest-created-first.
func Apply(list []*Conversation, m Mutation) []*Conversation {
	out := make([]*Conversation, 0, len(list)+1)
	for _, c := range list {
		if m.DeleteID != "" && c.ID == m.DeleteID {
			continue
		}
		out = append(out, c.Clone())
	}
	if m.Upsert == nil || m.Upsert.ID == "" || m.Upsert.ID == m.DeleteID {
		return out
	}

	up := m.Upsert.Clone()
	if i := Find(out, up.ID); i >= 0 {
		up.CreatedAt = out[i].CreatedAt
		out[i] = up
		return out
	}
	pos := len(out)
	for i, c := range out {
		if !c.CreatedAt.After(up.CreatedAt) {
			pos = i
			break
		}
	}
	return slices.Insert(out, pos, up)
}

// FreeID returns id when no conversation in list uses it. A taken
// millisecond id is bumped until it is free; other ids are returned as is.
func FreeID(list []*Conversation, id string) string {
	ms, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return id
	}
	for Find(list, strconv.FormatInt(ms, 10)) >= 0 {
		ms++
	}
	return strconv.FormatInt(ms, 10)
}

// ResolveActive picks the active conversation after reconciliation: the
// session's id when it resolves, else the first conversation, else none.
func ResolveActive(conversations []*Conversation, sessionActiveID string) string {
	if sessionActiveID != "" && Find(conversations, sessionActiveID) >= 0 {
		return sessionActiveID
	}
	if len(conversations) > 0 {
		return conversations[0].ID
	}
	return ""
}

// Find returns the index of the conversation with id, or -1
func Find(conversations []*Conversation, id string) int {
	for i, c := range conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}
