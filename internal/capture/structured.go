// ABOUTME: Structured adapter extracting turn text from widget event payloads
// ABOUTME: Tries alternative gjson paths in order; the first truthy scalar wins

package capture

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/2389/convo-console/internal/store"
)

// Payload paths per event, in priority order
var (
	userTextPaths  = []string{"text", "query", "input.text", "message.text"}
	agentTextPaths = []string{"response", "text", "message.text.text.0", "fulfillmentText"}
)

// structuredTurn returns the role and text carried by a widget event, or ok
// false if the event is not a turn or carries no text.
func structuredTurn(name string, detail json.RawMessage) (role store.Role, text string, ok bool) {
	var paths []string
	switch name {
	case EventUserSent:
		role, paths = store.RoleUser, userTextPaths
	case EventAgentResponse:
		role, paths = store.RoleAssistant, agentTextPaths
	default:
		return "", "", false
	}
	if len(detail) == 0 || !gjson.ValidBytes(detail) {
		return "", "", false
	}

	text = firstText(detail, paths)
	if text == "" {
		return "", "", false
	}
	return role, text, true
}

// firstText returns the first path whose value is a truthy scalar.
// Objects, arrays, false, zero and null are skipped.
func firstText(detail []byte, paths []string) string {
	results := gjson.GetManyBytes(detail, paths...)
	for _, r := range results {
		switch r.Type {
		case gjson.String:
			if r.Str != "" {
				return r.Str
			}
		case gjson.Number:
			if r.Num != 0 {
				return r.Raw
			}
		case gjson.True:
			return "true"
		}
	}
	return ""
}
