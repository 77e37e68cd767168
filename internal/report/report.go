// ABOUTME: Client for the report generation collaborator plus report rendering helpers
// ABOUTME: Failures are returned to the caller; conversations are never modified here

// Package report talks to the external report generator and turns its
// markdown output into page HTML and download file names.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/convo-console/internal/store"
)

var (
	// ErrNotConfigured is returned when no generator endpoint is set
	ErrNotConfigured = errors.New("report generator not configured")
	// ErrEmptyReport is returned when the generator answers without a report
	ErrEmptyReport = errors.New("report generator returned no report")
)

// maxResponseBytes bounds the generator response body
const maxResponseBytes = 4 << 20

// StatusError is a non-2xx answer from the generator
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("report generator returned %d", e.StatusCode)
	}
	return fmt.Sprintf("report generator returned %d: %s", e.StatusCode, e.Body)
}

type generateRequest struct {
	ConversationID string          `json:"conversationId"`
	Messages       []store.Message `json:"messages"`
}

type generateResponse struct {
	Report string `json:"report"`
}

// Client posts conversations to the generator endpoint
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client for endpoint. A zero timeout leaves requests
// bounded only by the caller's context.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Generate requests a report for the given conversation messages
func (c *Client) Generate(ctx context.Context, conversationID string, messages []store.Message) (string, error) {
	if c == nil || c.endpoint == "" {
		return "", ErrNotConfigured
	}
	if messages == nil {
		messages = []store.Message{}
	}

	body, err := json.Marshal(generateRequest{ConversationID: conversationID, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("encoding report request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling report generator: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading report response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(truncate(string(raw), 200))}
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding report response: %w", err)
	}
	if strings.TrimSpace(out.Report) == "" {
		return "", ErrEmptyReport
	}
	return out.Report, nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts report markdown to HTML for display. Raw HTML in the
// report is not passed through.
func RenderHTML(report string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(report), &buf); err != nil {
		return "", fmt.Errorf("rendering report: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// DownloadName returns the file name for a downloaded report:
// relatorio-<slug>-<unix millis>.md, where every character of the title
// outside ASCII [A-Za-z0-9] becomes a dash and the result is lowercased.
// Slugging happens first so non-ASCII letters that lowercase into ASCII
// (the Kelvin sign, dotted capital I) still become dashes.
func DownloadName(title string, now time.Time) string {
	var sb strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r + ('a' - 'A'))
		default:
			sb.WriteByte('-')
		}
	}
	return fmt.Sprintf("relatorio-%s-%d.md", sb.String(), now.UnixMilli())
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
