// ABOUTME: Turn extractor feeding structured and structural signals into one Sink
// ABOUTME: Attributes turns to the activated conversation and drops ledger duplicates

package capture

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/2389/convo-console/internal/dedupe"
	"github.com/2389/convo-console/internal/store"
)

// Extractor converts signals into messages for the activated conversation.
// Process never panics and never returns an error: a bad signal is logged and
// dropped without affecting the ledger or later signals.
type Extractor struct {
	mu         sync.Mutex
	activeID   string
	ledger     *dedupe.Ledger
	classifier Classifier
	sink       Sink
	logger     *slog.Logger
	now        func() time.Time
}

// Options configures an Extractor. Zero values select defaults.
type Options struct {
	Classifier Classifier
	LedgerSize int
	Logger     *slog.Logger
}

// NewExtractor creates an extractor emitting into sink
func NewExtractor(sink Sink, opts Options) *Extractor {
	classifier := opts.Classifier
	if classifier == nil {
		classifier = HeuristicClassifier{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		ledger:     dedupe.New(opts.LedgerSize),
		classifier: classifier,
		sink:       sink,
		logger:     logger.With("component", "capture"),
		now:        time.Now,
	}
}

// Activate attributes subsequent turns to conversationID and starts a fresh
// ledger, so turns seen under a previous conversation are captured again.
func (e *Extractor) Activate(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeID = conversationID
	e.ledger.Reset()
	e.logger.Debug("extractor activated", "conversation_id", conversationID)
}

// ActiveID returns the conversation turns are currently attributed to
func (e *Extractor) ActiveID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeID
}

type candidate struct {
	role store.Role
	text string
}

// Process handles one signal. Sink calls happen after the extractor's own
// lock is released.
func (e *Extractor) Process(sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("signal processing panicked", "kind", sig.Kind, "name", sig.Name, "panic", r)
		}
	}()

	switch sig.Kind {
	case KindMounted:
		e.sink.WidgetSignal(sig.ConversationID, WidgetMounted)
		return
	case KindEvent, KindNode:
	default:
		e.logger.Debug("ignoring unknown signal kind", "kind", sig.Kind)
		return
	}

	activeID := e.ActiveID()
	if activeID == "" {
		e.logger.Debug("dropping signal with no active conversation", "kind", sig.Kind, "name", sig.Name)
		return
	}
	if sig.ConversationID != "" && sig.ConversationID != activeID {
		e.logger.Debug("dropping signal from stale widget instance",
			"signal_conversation_id", sig.ConversationID,
			"active_id", activeID)
		return
	}

	if sig.Kind == KindEvent {
		switch sig.Name {
		case EventLoaded:
			e.sink.WidgetSignal(activeID, WidgetLoaded)
			return
		case EventOpened:
			e.sink.WidgetSignal(activeID, WidgetOpened)
			return
		}
	}

	candidates, err := e.candidates(sig)
	if err != nil {
		e.logger.Warn("signal extraction failed", "kind", sig.Kind, "name", sig.Name, "error", err)
		return
	}

	for _, msg := range e.record(activeID, candidates) {
		e.sink.EmitTurn(activeID, msg)
	}
}

// candidates extracts zero or more (role, text) pairs from a signal
func (e *Extractor) candidates(sig Signal) ([]candidate, error) {
	if sig.Kind == KindEvent {
		role, text, ok := structuredTurn(sig.Name, sig.Detail)
		if !ok {
			return nil, nil
		}
		return []candidate{{role: role, text: text}}, nil
	}

	nodes, err := parseFragment(sig.HTML)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		text := strings.TrimSpace(textContent(n))
		if text == "" {
			continue
		}
		v := e.classifier.Classify(n)
		if !v.IsTurn() {
			continue
		}
		if v.Reason == ReasonNoMarginLeft {
			e.logger.Debug("node classified by default rule", "role", v.Role, "text", truncate(text, 80))
		}
		out = append(out, candidate{role: v.Role, text: text})
	}
	return out, nil
}

// record checks candidates against the ledger and builds messages for the new ones.
// The ledger is re-checked under the lock in case the conversation changed
// between reading the active id and recording.
func (e *Extractor) record(activeID string, candidates []candidate) []store.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeID != activeID {
		return nil
	}

	var out []store.Message
	for _, c := range candidates {
		content := strings.TrimSpace(c.text)
		if content == "" {
			continue
		}
		fp := dedupe.NewFingerprint(activeID, string(c.role), content)
		if e.ledger.CheckAndMark(fp) {
			e.logger.Debug("duplicate turn dropped", "conversation_id", activeID, "role", c.role, "ledger_size", e.ledger.Len())
			continue
		}
		now := e.now()
		out = append(out, store.Message{
			ID:        NewMessageID(c.role, now),
			Role:      c.role,
			Content:   content,
			Timestamp: now,
		})
	}
	return out
}

// NewMessageID returns "<role>-<unix millis>-<random>"
func NewMessageID(role store.Role, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", role, now.UnixMilli(), uuid.NewString()[:8])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
