// Package store persists conversations across two storage tiers.
//
// # Tiers
//
// The permanent tier holds every conversation ever created plus imported
// project data. It is shared by all tab sessions of a deployment:
//
//   - SQLiteStore: single-table key/value blob store (default)
//   - BoltStore: bbolt bucket, for hosts without SQLite
//   - MemoryStore: in-process map for tests and ephemeral runs
//
// The session tier is scoped to one browser tab session and expires when the
// session goes idle. It holds the active conversation id, a snapshot of the
// active conversation, and the messenger widget's own keys:
//
//   - MemorySessionStore: per-session maps with an idle sweeper (default)
//   - RedisSessionStore: namespaced Redis keys with a sliding TTL
//
// # Keys
//
//	permanent: conversations, projectData
//	session:   activeConversationId, conversation_<id>,
//	           df-messenger-messages, df-messenger-sessionID,
//	           df-messenger-welcomeIntentTriggered, df-messenger-lastResponseInstant
//
// # Reconciliation
//
// ConversationStore.LoadAll merges the active session snapshot over the
// permanent list with Reconcile. The session copy wins for content fields,
// the permanent copy wins for createdAt. Loading never fails; malformed data
// is logged and treated as absent. Writes return wrapped errors.
package store
