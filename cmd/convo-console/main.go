// ABOUTME: Entry point for the convo-console server
// ABOUTME: Serves the conversation console and offers setup, health, export and import commands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/convo-console/internal/config"
	"github.com/2389/convo-console/internal/projects"
	"github.com/2389/convo-console/internal/server"
	"github.com/2389/convo-console/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                           _
  ___ ___  _ ____   _____         ___ ___  _ __  ___  ___ | | ___
 / __/ _ \| '_ \ \ / / _ \ _____ / __/ _ \| '_ \/ __|/ _ \| |/ _ \
| (_| (_) | | | \ V / (_) |_____| (_| (_) | | | \__ \ (_) | |  __/
 \___\___/|_| |_|\_/ \___/       \___\___/|_| |_|___/\___/|_|\___|
`

// getDataPath returns the path to the convo-console data directory.
// Priority: XDG_DATA_HOME/convo-console > ~/.local/share/convo-console
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "convo-console")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: convo-console <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the console server")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  health                 Check server health")
		fmt.Println("  export                 Print every stored conversation as JSON")
		fmt.Println("  import-projects FILE   Replace the project list from a JSON array file")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "export":
		err = runExport(ctx)
	case "import-projects":
		err = runImportProjects(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s", cfg.Database.Backend)
	if cfg.Database.Path != "" {
		gray.Printf(" (%s)", cfg.Database.Path)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Sessions:  %s\n", cfg.Session.Backend)
	green.Print("    ▶ ")
	fmt.Printf("Widget:    %s / %s\n", cfg.Widget.ProjectID, cfg.Widget.AgentID)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Report.Endpoint == "" {
		yellow.Println("    ! Reports disabled (report.endpoint not set)")
	}

	fmt.Println()

	logger.Info("starting convo-console",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Backend,
		"sessions", cfg.Session.Backend,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runExport prints the permanent conversation history. It reads through
// the same reconciliation as a fresh tab session, so corrupt data degrades
// to an empty list instead of failing.
func runExport(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"})

	permanent, err := server.OpenPermanentTier(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening permanent tier: %w", err)
	}
	defer permanent.Close()
	session := store.NewMemorySessionStore(0)
	defer session.Close()

	loaded := store.NewConversationStore(permanent, session, logger).LoadAll(ctx, "export")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(loaded.Conversations)
}

func runImportProjects(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: convo-console import-projects FILE")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading project file: %w", err)
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	permanent, err := server.OpenPermanentTier(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening permanent tier: %w", err)
	}
	defer permanent.Close()

	list, err := projects.NewStore(permanent, setupLogger(cfg.Logging)).Import(ctx, raw)
	if err != nil {
		return err
	}
	sum := projects.Summarize(projects.Decode(list))
	color.New(color.FgGreen).Printf("  ✓ Imported %d projects ", len(list))
	fmt.Printf("(%d active, %d completed, %d%% average progress)\n", sum.Active, sum.Completed, sum.AverageProgress)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("convo-console configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "console.db")

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)

	fmt.Println("\n--- Storage Configuration ---")
	backend := prompt(reader, "Permanent storage (sqlite/bolt/memory)", config.BackendSQLite)
	var dbPath string
	if backend != config.BackendMemory {
		dbPath = prompt(reader, "Database path", defaultDbPath)
	}
	sessionBackend := prompt(reader, "Session storage (memory/redis)", config.BackendMemory)
	var redisAddr string
	if sessionBackend == config.BackendRedis {
		redisAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	fmt.Println("\n--- Widget Configuration ---")
	projectID := prompt(reader, "Dialogflow project id", "")
	agentID := prompt(reader, "Dialogflow agent id", "")
	languageCode := prompt(reader, "Language code", config.DefaultLanguageCode)

	fmt.Println("\n--- Reports ---")
	reportEndpoint := prompt(reader, "Report service URL (leave empty to disable)", "")

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := isYes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "convo-console")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		tsEphemeral = isYes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = isYes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating session secret: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# convo-console configuration\n")
	cfg.WriteString("# Generated by convo-console init\n\n")

	fmt.Fprintf(&cfg, "server:\n  http_addr: %q\n\n", httpAddr)

	fmt.Fprintf(&cfg, "database:\n  backend: %q\n", backend)
	if dbPath != "" {
		fmt.Fprintf(&cfg, "  path: %q\n", dbPath)
	}
	cfg.WriteString("\n")

	fmt.Fprintf(&cfg, "session:\n  backend: %q\n  idle_ttl: \"12h\"\n", sessionBackend)
	if redisAddr != "" {
		fmt.Fprintf(&cfg, "  redis:\n    addr: %q\n", redisAddr)
	}
	cfg.WriteString("\n")

	fmt.Fprintf(&cfg, "widget:\n  project_id: %q\n  agent_id: %q\n  language_code: %q\n\n", projectID, agentID, languageCode)

	cfg.WriteString("capture:\n  poll_interval: \"200ms\"\n  arm_timeout: \"5s\"\n  idle_timeout: \"30m\"\n\n")

	fmt.Fprintf(&cfg, "report:\n  endpoint: %q\n\n", reportEndpoint)

	fmt.Fprintf(&cfg, "auth:\n  session_secret: %q\n\n", base64.StdEncoding.EncodeToString(secretBytes))

	fmt.Fprintf(&cfg, "tailscale:\n  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n  funnel: %t\n", tsEphemeral, tsFunnel)
	}
	cfg.WriteString("\n")

	fmt.Fprintf(&cfg, "logging:\n  level: %q\n  format: %q\n", logLevel, logFormat)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the session signing secret
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	if projectID == "" || agentID == "" {
		color.New(color.FgYellow).Println("Set widget.project_id and widget.agent_id before starting the server.")
	}
	fmt.Println("\nTo start the server:")
	fmt.Printf("  convo-console serve\n")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
