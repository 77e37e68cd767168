// ABOUTME: Tests for the markup heuristics that classify widget chat bubbles
// ABOUTME: Covers user/bot markers, the no-margin default, and style parsing

package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/convo-console/internal/store"
)

func classifyFragment(t *testing.T, fragment string) Verdict {
	t.Helper()
	nodes, err := parseFragment(fragment)
	require.NoError(t, err)
	require.NotEmpty(t, nodes)
	return HeuristicClassifier{}.Classify(nodes[0])
}

func TestHeuristicClassifier(t *testing.T) {
	tests := []struct {
		name       string
		fragment   string
		wantRole   store.Role
		wantReason string
	}{
		{"user class descendant", `<div class="message"><span class="user-message">oi</span></div>`, store.RoleUser, ReasonUserClass},
		{"user attribute", `<div class="message" data-message-type="user">oi</div>`, store.RoleUser, ReasonUserAttr},
		{"right aligned", `<div class="message" style="margin-left: auto">oi</div>`, store.RoleUser, ReasonMarginAuto},
		{"right aligned via shorthand", `<div class="message" style="margin: 0 0 0 auto">oi</div>`, store.RoleUser, ReasonMarginAuto},
		{"bot class descendant", `<div class="message" style="margin-left: 4px"><p class="bot-message">olá</p></div>`, store.RoleAssistant, ReasonBotClass},
		{"bot attribute", `<div class="message" data-message-type="bot" style="margin-left: 4px">olá</div>`, store.RoleAssistant, ReasonBotAttr},
		{"no margin defaults to assistant", `<div class="message">olá</div>`, store.RoleAssistant, ReasonNoMarginLeft},
		{"user marker beats bot marker", `<div class="message"><i class="bot-message"></i><b class="user-message">x</b></div>`, store.RoleUser, ReasonUserClass},
		{"other margin is not a turn", `<div class="message" style="margin-left: 10px">x</div>`, "", ""},
		{"missing message class", `<div class="bubble" data-message-type="user">x</div>`, "", ""},
		{"class on self is not descendant", `<div class="message user-message" style="margin-left: 2px">x</div>`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := classifyFragment(t, tt.fragment)
			assert.Equal(t, tt.wantRole, v.Role)
			assert.Equal(t, tt.wantReason, v.Reason)
			assert.Equal(t, tt.wantReason != "", v.IsTurn())
		})
	}
}

func TestInlineMarginLeft(t *testing.T) {
	tests := []struct {
		style     string
		wantValue string
		wantFound bool
	}{
		{"", "", false},
		{"color: red", "", false},
		{"margin-left:auto", "auto", true},
		{"MARGIN-LEFT: AUTO !important", "auto", true},
		{"margin: 4px", "4px", true},
		{"margin: 0 auto", "auto", true},
		{"margin: 1px 2px 3px", "2px", true},
		{"margin-left: auto; margin: 0", "0", true},
		{"margin: 0; margin-left: auto", "auto", true},
		{"margin-left: ;", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.style, func(t *testing.T) {
			value, found := inlineMarginLeft(tt.style)
			assert.Equal(t, tt.wantValue, value)
			assert.Equal(t, tt.wantFound, found)
		})
	}
}

func TestTextContent(t *testing.T) {
	nodes, err := parseFragment(`<div class="message"> <b>Qual</b> o status <i>do projeto X?</i> </div>`)
	require.NoError(t, err)
	assert.Equal(t, " Qual o status do projeto X? ", textContent(nodes[0]))
}
