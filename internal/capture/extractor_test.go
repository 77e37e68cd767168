// ABOUTME: Tests for the turn extractor across both capture channels
// ABOUTME: Covers idempotent capture, ledger isolation, stale instances, and fault isolation

package capture

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/2389/convo-console/internal/store"
)

type emitted struct {
	conversationID string
	msg            store.Message
}

type widgetCall struct {
	conversationID string
	event          WidgetEvent
}

// recordingSink captures everything the extractor emits
type recordingSink struct {
	mu      sync.Mutex
	turns   []emitted
	widgets []widgetCall
}

func (s *recordingSink) EmitTurn(conversationID string, msg store.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, emitted{conversationID, msg})
}

func (s *recordingSink) WidgetSignal(conversationID string, event WidgetEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.widgets = append(s.widgets, widgetCall{conversationID, event})
}

func (s *recordingSink) Turns() []emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emitted(nil), s.turns...)
}

func newTestExtractor(opts Options) (*Extractor, *recordingSink) {
	sink := &recordingSink{}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewExtractor(sink, opts), sink
}

func userEvent(text string) Signal {
	detail, _ := json.Marshal(map[string]string{"text": text})
	return Signal{Kind: KindEvent, Name: EventUserSent, Detail: detail}
}

func agentEvent(text string) Signal {
	detail, _ := json.Marshal(map[string]string{"response": text})
	return Signal{Kind: KindEvent, Name: EventAgentResponse, Detail: detail}
}

func userNode(text string) Signal {
	return Signal{Kind: KindNode, HTML: `<div class="message" data-message-type="user">` + html.EscapeString(text) + `</div>`}
}

func TestExtractor_IdempotentAcrossChannels(t *testing.T) {
	e, sink := newTestExtractor(Options{})
	e.Activate("C1")

	e.Process(userEvent("Qual o status do projeto X?"))
	e.Process(userNode("Qual o status do projeto X?"))
	e.Process(userEvent("  Qual o status   do projeto X? "))
	e.Process(userNode("Qual o status do projeto X?"))

	turns := sink.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "C1", turns[0].conversationID)
	assert.Equal(t, store.RoleUser, turns[0].msg.Role)
	assert.Equal(t, "Qual o status do projeto X?", turns[0].msg.Content)
}

func TestExtractor_SameTextDifferentRoles(t *testing.T) {
	e, sink := newTestExtractor(Options{})
	e.Activate("C1")

	e.Process(userEvent("ok"))
	e.Process(agentEvent("ok"))

	assert.Len(t, sink.Turns(), 2)
}

func TestExtractor_LedgerIsolationOnSwitch(t *testing.T) {
	e, sink := newTestExtractor(Options{})

	e.Activate("C1")
	e.Process(userEvent("oi"))
	e.Process(userEvent("oi"))
	e.Activate("C2")
	e.Process(userEvent("oi"))
	e.Activate("C1")
	e.Process(userEvent("oi"))

	turns := sink.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "C1", turns[0].conversationID)
	assert.Equal(t, "C2", turns[1].conversationID)
	assert.Equal(t, "C1", turns[2].conversationID, "re-activation starts a fresh ledger")
}

func TestExtractor_DropsWithoutActiveConversation(t *testing.T) {
	e, sink := newTestExtractor(Options{})

	e.Process(userEvent("oi"))

	assert.Empty(t, sink.Turns())
}

func TestExtractor_DropsStaleWidgetInstance(t *testing.T) {
	e, sink := newTestExtractor(Options{})
	e.Activate("C2")

	sig := userEvent("late reply")
	sig.ConversationID = "C1"
	e.Process(sig)

	sig.ConversationID = "C2"
	e.Process(sig)

	turns := sink.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "C2", turns[0].conversationID)
}

func TestExtractor_WidgetSignals(t *testing.T) {
	e, sink := newTestExtractor(Options{})
	e.Activate("C1")

	e.Process(Signal{Kind: KindMounted, ConversationID: "C1"})
	e.Process(Signal{Kind: KindEvent, Name: EventLoaded})
	e.Process(Signal{Kind: KindEvent, Name: EventOpened})

	assert.Equal(t, []widgetCall{
		{"C1", WidgetMounted},
		{"C1", WidgetLoaded},
		{"C1", WidgetOpened},
	}, sink.widgets)
	assert.Empty(t, sink.Turns())
}

func TestExtractor_MessageShape(t *testing.T) {
	e, sink := newTestExtractor(Options{})
	e.Activate("C1")

	e.Process(agentEvent("  Projeto X está 65% concluído\n"))

	turns := sink.Turns()
	require.Len(t, turns, 1)
	msg := turns[0].msg
	assert.Equal(t, "Projeto X está 65% concluído", msg.Content)
	assert.True(t, strings.HasPrefix(msg.ID, "assistant-"), "id %q", msg.ID)
	assert.Len(t, strings.Split(msg.ID, "-"), 3)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestExtractor_NodeFragmentWithSeveralBubbles(t *testing.T) {
	e, sink := newTestExtractor(Options{})
	e.Activate("C1")

	e.Process(Signal{Kind: KindNode, HTML: `<div class="message" style="margin-left:auto">pergunta</div>` +
		`<div class="message">resposta</div><div class="message">   </div>text`})

	turns := sink.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, store.RoleUser, turns[0].msg.Role)
	assert.Equal(t, store.RoleAssistant, turns[1].msg.Role)
}

type panickyClassifier struct{}

func (panickyClassifier) Classify(*html.Node) Verdict { panic("boom") }

func TestExtractor_RecoversFromFaultySignal(t *testing.T) {
	e, sink := newTestExtractor(Options{Classifier: panickyClassifier{}})
	e.Activate("C1")

	assert.NotPanics(t, func() { e.Process(userNode("crash")) })
	e.Process(userEvent("still works"))

	turns := sink.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "still works", turns[0].msg.Content)
}

func TestExtractor_ConcurrentDuplicatesEmitOnce(t *testing.T) {
	e, sink := newTestExtractor(Options{})
	e.Activate("C1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); e.Process(userEvent("same")) }()
		go func() { defer wg.Done(); e.Process(userNode("same")) }()
	}
	wg.Wait()

	assert.Len(t, sink.Turns(), 1)
}
