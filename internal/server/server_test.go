// ABOUTME: Tests for server wiring, the HTTP lifecycle and session cookies
// ABOUTME: Runs a real listener on a free port with in-memory and sqlite tiers

package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/convo-console/internal/auth"
	"github.com/2389/convo-console/internal/config"
	"github.com/2389/convo-console/internal/console"
)

// testConfig creates a minimal config for testing with an available port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available HTTP port: %v", err)
	}
	httpAddr := ln.Addr().String()
	ln.Close()

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: httpAddr},
		Database: config.DatabaseConfig{Backend: config.BackendMemory},
		Session:  config.SessionConfig{Backend: config.BackendMemory},
		Widget:   config.WidgetConfig{ProjectID: "proj", AgentID: "agent"},
		Auth:     config.AuthConfig{SessionSecret: "0123456789abcdef0123"},
	}
	cfg.ApplyDefaults()
	cfg.Capture.PollInterval = 5 * time.Millisecond
	cfg.Capture.ArmTimeout = 20 * time.Millisecond
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startServer runs s until the test ends and waits for it to accept requests
func startServer(t *testing.T, s *Server, addr string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not start")
}

func TestServerNew(t *testing.T) {
	cfg := testConfig(t)

	s, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Shutdown(context.Background())

	if s.config != cfg {
		t.Error("server config mismatch")
	}
	if s.hub == nil || s.permanent == nil || s.session == nil {
		t.Error("components should not be nil")
	}
	if s.Handler() == nil {
		t.Error("handler should not be nil")
	}
}

func TestServerNew_UnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Backend = "postgres"
	if _, err := New(context.Background(), cfg, testLogger()); err == nil {
		t.Error("expected error for unknown database backend")
	}

	cfg = testConfig(t)
	cfg.Session.Backend = "memcached"
	if _, err := New(context.Background(), cfg, testLogger()); err == nil {
		t.Error("expected error for unknown session backend")
	}
}

func TestServerNew_SQLitePersistsAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Backend = config.BackendSQLite
	cfg.Database.Path = filepath.Join(t.TempDir(), "console.db")
	ctx := context.Background()

	s, err := New(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	c, err := s.hub.Get(ctx, "tab-1")
	if err != nil {
		t.Fatalf("hub.Get() failed: %v", err)
	}
	conv, err := c.Create(ctx)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}

	s, err = New(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("New() after restart failed: %v", err)
	}
	defer s.Shutdown(ctx)
	// A new tab session sees the permanent history and defaults to its first entry
	c, err = s.hub.Get(ctx, "tab-2")
	if err != nil {
		t.Fatalf("hub.Get() failed: %v", err)
	}
	st := c.State()
	if len(st.Conversations) != 1 || st.Conversations[0].ID != conv.ID {
		t.Errorf("expected restored conversation %s, got %+v", conv.ID, st.Conversations)
	}
	if st.ActiveID != conv.ID {
		t.Errorf("expected a new session to default to %s, got %q", conv.ID, st.ActiveID)
	}
}

func TestServerRun_HealthAndSessionCookie(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startServer(t, s, cfg.Server.HTTPAddr)
	base := "http://" + cfg.Server.HTTPAddr

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "OK") {
		t.Errorf("unexpected health response %d %q", resp.StatusCode, body)
	}
	if len(resp.Cookies()) != 0 {
		t.Error("health endpoint should not start a session")
	}

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}

	resp, err = client.Post(base+"/api/conversations", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/conversations failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var sessionCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected a session cookie")
	}
	if !sessionCookie.Expires.IsZero() || sessionCookie.MaxAge != 0 {
		t.Error("session cookie must not persist beyond the browser session")
	}

	// Same cookie, same session
	resp, err = client.Get(base + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state failed: %v", err)
	}
	var st console.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	resp.Body.Close()
	if len(st.Conversations) != 1 || st.ActiveID == "" {
		t.Errorf("expected the created conversation to be active, got %+v", st)
	}

	// No cookie, new session: shared history, first conversation active
	resp, err = http.Get(base + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state failed: %v", err)
	}
	st = console.State{}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	resp.Body.Close()
	if len(st.Conversations) != 1 || st.ActiveID != st.Conversations[0].ID {
		t.Errorf("expected shared history with the first conversation active, got %+v", st)
	}
}

func TestServerRun_TabsOfOneBrowserAreIndependent(t *testing.T) {
	cfg := testConfig(t)
	s, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	startServer(t, s, cfg.Server.HTTPAddr)
	base := "http://" + cfg.Server.HTTPAddr

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}
	const tabA = "3f2b8c1e-6a4d-4f7e-9b1a-2c3d4e5f6a7b"
	const tabB = "9e8d7c6b-5a49-4382-a170-f1e2d3c4b5a6"

	call := func(method, path, tab string) console.State {
		t.Helper()
		req, err := http.NewRequest(method, base+path, nil)
		if err != nil {
			t.Fatalf("building request: %v", err)
		}
		req.Header.Set(auth.TabHeader, tab)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %v", method, path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			t.Fatalf("%s %s: status %d", method, path, resp.StatusCode)
		}
		if method == http.MethodPost && path == "/api/conversations" {
			var conv struct {
				ID string `json:"id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
				t.Fatalf("decoding conversation: %v", err)
			}
			return console.State{ActiveID: conv.ID}
		}
		var st console.State
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			t.Fatalf("decoding state: %v", err)
		}
		return st
	}

	first := call(http.MethodPost, "/api/conversations", tabA).ActiveID
	second := call(http.MethodPost, "/api/conversations", tabA).ActiveID
	if first == second {
		t.Fatalf("expected distinct conversations, got %s twice", first)
	}

	// Tab B shares the cookie but selects on its own
	call(http.MethodPost, "/api/conversations/"+first+"/select", tabB)

	if got := call(http.MethodGet, "/api/state", tabA).ActiveID; got != second {
		t.Errorf("tab A active = %q, want %q", got, second)
	}
	if got := call(http.MethodGet, "/api/state", tabB).ActiveID; got != first {
		t.Errorf("tab B active = %q, want %q", got, first)
	}
	if n := len(jar.Cookies(mustParseURL(t, base))); n != 1 {
		t.Errorf("expected one browser session cookie, got %d", n)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %q: %v", raw, err)
	}
	return u
}

func TestResolveTailscaleStateDir(t *testing.T) {
	got, err := resolveTailscaleStateDir("/var/lib/console")
	if err != nil || got != "/var/lib/console" {
		t.Errorf("configured dir: got %q, %v", got, err)
	}

	t.Setenv("HOME", "/home/tester")
	got, err = resolveTailscaleStateDir("")
	if err != nil {
		t.Fatalf("default dir: %v", err)
	}
	want := filepath.Join("/home/tester", ".local", "share", "convo-console", "tailscale")
	if got != want {
		t.Errorf("default dir: got %q, want %q", got, want)
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	if _, err := resolveTailscaleAuthKey(""); err == nil {
		t.Error("expected error without an auth key")
	}

	t.Setenv("TS_AUTHKEY", "tskey-env")
	if got, _ := resolveTailscaleAuthKey(""); got != "tskey-env" {
		t.Errorf("expected env key, got %q", got)
	}
	if got, _ := resolveTailscaleAuthKey("tskey-cfg"); got != "tskey-cfg" {
		t.Errorf("expected configured key, got %q", got)
	}
}
