// Package dedupe provides the fingerprint ledger used by turn capture to make
// recording idempotent across the structured-event and DOM-observation channels.
//
// A fingerprint is (conversation id, role, normalized text). A ledger lives for
// one activation of the extractor and is reset whenever the active conversation
// changes, so a turn deduplicated under one conversation is captured again after
// switching to another.
package dedupe
