// ABOUTME: Structural adapter classifying added widget DOM nodes as chat bubbles
// ABOUTME: Parses outer-HTML fragments with x/net/html behind a fallible Classifier

package capture

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/2389/convo-console/internal/store"
)

// Classification reasons
const (
	ReasonUserClass      = "user-message-class"
	ReasonUserAttr       = "data-message-type-user"
	ReasonMarginAuto     = "margin-left-auto"
	ReasonBotClass       = "bot-message-class"
	ReasonBotAttr        = "data-message-type-bot"
	ReasonNoMarginLeft   = "no-margin-left"
	messageClass         = "message"
	userMessageClass     = "user-message"
	botMessageClass      = "bot-message"
	messageTypeAttribute = "data-message-type"
)

// Verdict is a classifier decision. Reason names the marker that decided the
// role and is empty when the node is not a turn.
type Verdict struct {
	Role   store.Role
	Reason string
}

// IsTurn reports whether the node was classified as a chat bubble
func (v Verdict) IsTurn() bool {
	return v.Reason != ""
}

// Classifier infers the role of an element added under the widget. It is
// best effort: widget markup changes can cause misclassification.
type Classifier interface {
	Classify(n *html.Node) Verdict
}

// HeuristicClassifier matches the messenger's bubble markup. Only elements
// with the "message" class are turns. User markers win; otherwise a bot
// marker or the absence of an inline margin-left makes it an assistant turn.
type HeuristicClassifier struct{}

func (HeuristicClassifier) Classify(n *html.Node) Verdict {
	if n == nil || n.Type != html.ElementNode || !hasClass(n, messageClass) {
		return Verdict{}
	}

	msgType := attr(n, messageTypeAttribute)
	marginLeft, hasMarginLeft := inlineMarginLeft(attr(n, "style"))

	switch {
	case hasDescendantClass(n, userMessageClass):
		return Verdict{Role: store.RoleUser, Reason: ReasonUserClass}
	case msgType == "user":
		return Verdict{Role: store.RoleUser, Reason: ReasonUserAttr}
	case hasMarginLeft && marginLeft == "auto":
		return Verdict{Role: store.RoleUser, Reason: ReasonMarginAuto}
	case hasDescendantClass(n, botMessageClass):
		return Verdict{Role: store.RoleAssistant, Reason: ReasonBotClass}
	case msgType == "bot":
		return Verdict{Role: store.RoleAssistant, Reason: ReasonBotAttr}
	case !hasMarginLeft:
		return Verdict{Role: store.RoleAssistant, Reason: ReasonNoMarginLeft}
	}
	return Verdict{}
}

// parseFragment parses outer HTML as it would appear inside a div
func parseFragment(fragment string) ([]*html.Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing node fragment: %w", err)
	}
	return nodes, nil
}

// textContent concatenates every text node under n
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// hasDescendantClass matches like querySelector: descendants only, not n itself
func hasDescendantClass(n *html.Node, class string) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (hasClass(c, class) || hasDescendantClass(c, class)) {
			return true
		}
	}
	return false
}

// inlineMarginLeft returns the computed inline margin-left of a style
// attribute, honoring the margin shorthand. Later declarations win.
func inlineMarginLeft(style string) (string, bool) {
	value, found := "", false
	for _, decl := range strings.Split(style, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		val = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(val), "!important")))
		if val == "" {
			continue
		}
		switch prop {
		case "margin-left":
			value, found = val, true
		case "margin":
			parts := strings.Fields(val)
			switch len(parts) {
			case 1:
				value = parts[0]
			case 2, 3:
				value = parts[1]
			case 4:
				value = parts[3]
			default:
				continue
			}
			found = true
		}
	}
	return value, found
}
