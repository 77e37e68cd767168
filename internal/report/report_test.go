// ABOUTME: Tests for the report generator client and rendering helpers
// ABOUTME: Uses httptest servers to exercise success and every failure path

package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/convo-console/internal/store"
)

func TestClient_Generate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"report":"# Relatório\n\nTudo certo."}`))
	}))
	defer srv.Close()

	messages := []store.Message{{ID: "user-1-a", Role: store.RoleUser, Content: "status?"}}
	report, err := NewClient(srv.URL, 0).Generate(context.Background(), "C1", messages)

	require.NoError(t, err)
	assert.Equal(t, "# Relatório\n\nTudo certo.", report)
	assert.Equal(t, "C1", got.ConversationID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "status?", got.Messages[0].Content)
}

func TestClient_GenerateSendsEmptyArrayForNoMessages(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"report":"ok"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 0).Generate(context.Background(), "C1", nil)

	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw["messages"]))
}

func TestClient_GenerateFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		check   func(t *testing.T, err error)
	}{
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   "upstream exploded",
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
				assert.Contains(t, se.Error(), "upstream exploded")
			},
		},
		{
			name:   "multibyte error body is cut on a rune boundary",
			status: http.StatusBadGateway,
			body:   strings.Repeat("é", 300),
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.True(t, utf8.ValidString(se.Body))
				assert.Equal(t, strings.Repeat("é", 200), se.Body)
			},
		},
		{name: "empty report", status: http.StatusOK, body: `{"report":"  "}`, wantErr: ErrEmptyReport},
		{name: "missing report", status: http.StatusOK, body: `{}`, wantErr: ErrEmptyReport},
		{
			name:   "invalid json",
			status: http.StatusOK,
			body:   `<html>`,
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "decoding report response")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			report, err := NewClient(srv.URL, 0).Generate(context.Background(), "C1", nil)

			require.Error(t, err)
			assert.Empty(t, report)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestClient_GenerateTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Generate(context.Background(), "C1", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "calling report generator")
}

func TestClient_GenerateHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, 0).Generate(ctx, "C1", nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_NotConfigured(t *testing.T) {
	_, err := NewClient("", 0).Generate(context.Background(), "C1", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)

	var nilClient *Client
	_, err = nilClient.Generate(context.Background(), "C1", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("# Relatório\n\n| a | b |\n|---|---|\n| 1 | 2 |\n\n<script>alert(1)</script>")

	require.NoError(t, err)
	out := string(html)
	assert.Contains(t, out, "<h1>Relatório</h1>")
	assert.Contains(t, out, "<table>")
	assert.NotContains(t, out, "<script>")
}

func TestDownloadName(t *testing.T) {
	now := time.UnixMilli(1717171717171)

	tests := []struct {
		title string
		want  string
	}{
		{"Status Projeto X", "relatorio-status-projeto-x-1717171717171.md"},
		{"Qual o status?", "relatorio-qual-o-status--1717171717171.md"},
		{"Ação 2024", "relatorio-a--o-2024-1717171717171.md"},
		{"", "relatorio--1717171717171.md"},
		{"\u212Aelvin", "relatorio--elvin-1717171717171.md"},
		{"\u0130stanbul", "relatorio--stanbul-1717171717171.md"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, DownloadName(tt.title, now))
		})
	}
	assert.True(t, strings.HasSuffix(DownloadName("x", now), ".md"))
}
