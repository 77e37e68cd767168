// ABOUTME: Tests for payload path extraction from widget custom events
// ABOUTME: Covers path priority, nested array paths, and non-string scalars

package capture

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/convo-console/internal/store"
)

func TestStructuredTurn(t *testing.T) {
	tests := []struct {
		name     string
		event    string
		detail   string
		wantRole store.Role
		wantText string
		wantOK   bool
	}{
		{"user text", EventUserSent, `{"text":"oi"}`, store.RoleUser, "oi", true},
		{"user query", EventUserSent, `{"query":"status?"}`, store.RoleUser, "status?", true},
		{"user input.text", EventUserSent, `{"input":{"text":"nested"}}`, store.RoleUser, "nested", true},
		{"user message.text", EventUserSent, `{"message":{"text":"deep"}}`, store.RoleUser, "deep", true},
		{"user first path wins", EventUserSent, `{"query":"second","text":"first"}`, store.RoleUser, "first", true},
		{"user empty falls through", EventUserSent, `{"text":"","query":"q"}`, store.RoleUser, "q", true},
		{"user nothing", EventUserSent, `{"other":"x"}`, "", "", false},
		{"agent response", EventAgentResponse, `{"response":"Projeto X está 65% concluído"}`, store.RoleAssistant, "Projeto X está 65% concluído", true},
		{"agent text array", EventAgentResponse, `{"message":{"text":{"text":["a","b"]}}}`, store.RoleAssistant, "a", true},
		{"agent fulfillment", EventAgentResponse, `{"fulfillmentText":"ok"}`, store.RoleAssistant, "ok", true},
		{"agent object skipped", EventAgentResponse, `{"response":{"x":1},"fulfillmentText":"ok"}`, store.RoleAssistant, "ok", true},
		{"number stringified", EventUserSent, `{"text":42}`, store.RoleUser, "42", true},
		{"zero is empty", EventUserSent, `{"text":0}`, "", "", false},
		{"false is empty", EventUserSent, `{"text":false}`, "", "", false},
		{"invalid json", EventUserSent, `{"text":`, "", "", false},
		{"no detail", EventUserSent, ``, "", "", false},
		{"not a turn event", EventLoaded, `{"text":"hi"}`, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, text, ok := structuredTurn(tt.event, json.RawMessage(tt.detail))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantRole, role)
			assert.Equal(t, tt.wantText, text)
		})
	}
}
