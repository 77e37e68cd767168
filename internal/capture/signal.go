// ABOUTME: Wire types for raw widget signals forwarded by the browser shim
// ABOUTME: Defines the Sink port turn extraction emits into

// Package capture turns raw signals from the embedded messenger widget into
// typed conversation turns. Two adapters feed one port: structured custom
// events decoded with gjson, and DOM nodes added to the widget, parsed as
// HTML fragments and classified by markup heuristics. Every candidate turn is
// fingerprinted against a dedupe ledger so the two channels never record the
// same turn twice.
package capture

import (
	"encoding/json"

	"github.com/2389/convo-console/internal/store"
)

// SignalKind identifies which shim channel produced a signal
type SignalKind string

const (
	// KindEvent is a widget custom event with a JSON detail payload
	KindEvent SignalKind = "event"
	// KindNode is an element added under the widget, as outer HTML
	KindNode SignalKind = "node"
	// KindMounted reports that a widget instance is present in the page
	KindMounted SignalKind = "mounted"
)

// Widget custom event names
const (
	EventUserSent      = "df-user-sent"
	EventAgentResponse = "df-agent-response"
	EventLoaded        = "df-messenger-loaded"
	EventOpened        = "df-messenger-opened"
)

// Signal is one raw observation from the browser.
type Signal struct {
	Kind   SignalKind      `json:"kind"`
	Name   string          `json:"name,omitempty"`
	Detail json.RawMessage `json:"detail,omitempty"`
	HTML   string          `json:"html,omitempty"`
	// ConversationID is the instance key of the widget that produced the
	// signal, when the shim knows it.
	ConversationID string `json:"conversationId,omitempty"`
}

// WidgetEvent is a non-turn lifecycle notification from the widget
type WidgetEvent string

const (
	WidgetMounted WidgetEvent = "mounted"
	WidgetLoaded  WidgetEvent = "loaded"
	WidgetOpened  WidgetEvent = "opened"
)

// Sink receives extraction results. Implementations own persistence; the
// extractor never touches storage.
type Sink interface {
	EmitTurn(conversationID string, msg store.Message)
	WidgetSignal(conversationID string, event WidgetEvent)
}
