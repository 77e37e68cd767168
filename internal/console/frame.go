// ABOUTME: Outbound frames pushed to a tab session's browser shim
// ABOUTME: State snapshots for rendering and widget-reset directives

package console

import "github.com/2389/convo-console/internal/store"

// Frame types
const (
	FrameState       = "state"
	FrameWidgetReset = "widget-reset"
)

// State is a rendering snapshot of one tab session
type State struct {
	Conversations []*store.Conversation `json:"conversations"`
	ActiveID      string                `json:"activeId"`
	Lifecycle     string                `json:"lifecycle"`
	WidgetEpoch   uint64                `json:"widgetEpoch"`
}

// Frame is one message to the browser. A widget-reset frame tells the shim
// to remove the listed widget keys from its own session storage and clear
// the widget's visible history.
type Frame struct {
	Type        string   `json:"type"`
	State       *State   `json:"state,omitempty"`
	WidgetEpoch uint64   `json:"widgetEpoch,omitempty"`
	WidgetKeys  []string `json:"widgetKeys,omitempty"`
}
