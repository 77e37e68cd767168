// ABOUTME: Server wires configuration, storage tiers, consoles and the HTTP surface
// ABOUTME: Serves over plain TCP or a Tailscale tsnet node and shuts down gracefully

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/convo-console/internal/auth"
	"github.com/2389/convo-console/internal/capture"
	"github.com/2389/convo-console/internal/config"
	"github.com/2389/convo-console/internal/console"
	"github.com/2389/convo-console/internal/lifecycle"
	"github.com/2389/convo-console/internal/projects"
	"github.com/2389/convo-console/internal/report"
	"github.com/2389/convo-console/internal/store"
	"github.com/2389/convo-console/internal/web"
)

// Server is the convo-console process: storage tiers, the console hub and
// the HTTP listener.
type Server struct {
	config      *config.Config
	permanent   store.PermanentTier
	session     store.SessionTier
	hub         *console.Hub
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// OpenPermanentTier opens the configured permanent tier
func OpenPermanentTier(cfg config.DatabaseConfig) (store.PermanentTier, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return store.NewSQLiteStore(cfg.Path)
	case config.BackendBolt:
		return store.NewBoltStore(cfg.Path)
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
	}
}

// openSessionTier opens the configured session tier
func openSessionTier(ctx context.Context, cfg config.SessionConfig) (store.SessionTier, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemorySessionStore(cfg.IdleTTL), nil
	case config.BackendRedis:
		return store.NewRedisSessionStore(ctx, store.RedisSessionOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			IdleTTL:  cfg.IdleTTL,
		})
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// New creates a Server from a validated configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	permanent, err := OpenPermanentTier(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening permanent tier: %w", err)
	}
	session, err := openSessionTier(ctx, cfg.Session)
	if err != nil {
		_ = permanent.Close()
		return nil, fmt.Errorf("opening session tier: %w", err)
	}

	conversations := store.NewConversationStore(permanent, session, logger.With("component", "store"))
	hub := console.NewHub(conversations, console.HubOptions{
		TitleMaxLen: cfg.Capture.TitleMaxLen,
		Capture:     capture.Options{LedgerSize: cfg.Capture.LedgerSize},
		Lifecycle: lifecycle.Options{
			PollInterval: cfg.Capture.PollInterval,
			ArmTimeout:   cfg.Capture.ArmTimeout,
		},
		IdleTimeout: cfg.Capture.IdleTimeout,
		Logger:      logger,
	})

	s := &Server{
		config:    cfg,
		permanent: permanent,
		session:   session,
		hub:       hub,
		logger:    logger.With("component", "server"),
	}

	webHandler, err := web.New(web.Config{
		Hub:      hub,
		Projects: projects.NewStore(permanent, logger),
		Reports:  report.NewClient(cfg.Report.Endpoint, cfg.Report.Timeout),
		Widget:   cfg.Widget,
		Logger:   logger,
	})
	if err != nil {
		s.closeComponents()
		return nil, err
	}
	if cfg.Report.Endpoint == "" {
		s.logger.Warn("report.endpoint is not set; report generation is disabled")
	}

	consoleMux := http.NewServeMux()
	webHandler.RegisterRoutes(consoleMux)
	tokens := auth.NewSessionTokens([]byte(cfg.Auth.SessionSecret))

	mux := http.NewServeMux()
	// Health endpoints - no session required
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /static/", consoleMux)
	mux.Handle("/", auth.SessionMiddleware(tokens, cfg.Auth.TokenTTL, logger)(consoleMux))

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (s *Server) setupTCPListener() (net.Listener, error) {
	s.logger.Info("starting convo-console", "http_addr", s.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}
	return s.setupTCPListener()
}

// Run serves until the context is canceled or the server fails.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "convo-console", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and listens on it.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	s.logTailscaleStatus(tsCfg.Hostname, status)

	switch {
	case tsCfg.Funnel:
		return s.createTailscaleFunnelListener()
	case tsCfg.HTTPS:
		s.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := s.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		return s.createTailscaleTLSListener(ln)
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// logTailscaleStatus logs info about the tailscale node status.
func (s *Server) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	s.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleFunnelListener exposes the console publicly over HTTPS.
func (s *Server) createTailscaleFunnelListener() (net.Listener, error) {
	s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
	ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
	}
	return ln, nil
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (s *Server) createTailscaleTLSListener(ln net.Listener) (net.Listener, error) {
	lc, err := s.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents tears down consoles before the tiers they write to.
func (s *Server) closeComponents() []error {
	var errs []error
	if s.hub != nil {
		s.hub.Close()
	}
	if s.session != nil {
		errs = appendCloseError(errs, "session tier close", s.session.Close())
	}
	if s.permanent != nil {
		errs = appendCloseError(errs, "permanent tier close", s.permanent.Close())
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down convo-console")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = append(errs, s.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK (%d sessions)", s.hub.Len())
}
