// ABOUTME: Per-activation fingerprint ledger for captured conversation turns.
// ABOUTME: Prevents the same turn being recorded twice when both capture channels fire.

package dedupe

import (
	"container/list"
	"strings"
	"sync"
)

// DefaultMaxSize bounds a ledger when no explicit size is configured.
const DefaultMaxSize = 10_000

// Fingerprint identifies a turn within one activation of the extractor.
type Fingerprint struct {
	ConversationID string
	Role           string
	Text           string
}

// NewFingerprint builds a fingerprint with the text normalized.
func NewFingerprint(conversationID, role, text string) Fingerprint {
	return Fingerprint{
		ConversationID: conversationID,
		Role:           role,
		Text:           Normalize(text),
	}
}

// Normalize trims the text and collapses internal whitespace runs to a single
// space, so the same bubble captured from an event payload and from rendered
// markup fingerprints identically.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Ledger is a bounded, insertion-ordered set of fingerprints. It is safe for
// concurrent use. When full, the oldest fingerprint is evicted.
type Ledger struct {
	mu      sync.Mutex
	seen    map[Fingerprint]*list.Element
	order   *list.List // oldest at front
	maxSize int
}

// New creates an empty ledger holding at most maxSize fingerprints.
func New(maxSize int) *Ledger {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Ledger{
		seen:    make(map[Fingerprint]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// CheckAndMark atomically checks whether fp was recorded and records it if not.
// Returns true if fp is a duplicate, false if it is new and now recorded.
func (l *Ledger) CheckAndMark(fp Fingerprint) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[fp]; ok {
		return true
	}

	if len(l.seen) >= l.maxSize {
		l.evictOldest()
	}
	l.seen[fp] = l.order.PushBack(fp)
	return false
}

// evictOldest removes the oldest fingerprint. Must be called with mu held.
func (l *Ledger) evictOldest() {
	front := l.order.Front()
	if front == nil {
		return
	}
	fp, _ := front.Value.(Fingerprint)
	l.order.Remove(front)
	delete(l.seen, fp)
}

// Reset discards every recorded fingerprint. Called whenever the active
// conversation changes.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = make(map[Fingerprint]*list.Element)
	l.order.Init()
}

// Len returns the number of recorded fingerprints.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
