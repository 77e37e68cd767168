// ABOUTME: Registry of per-tab-session consoles with idle cleanup
// ABOUTME: Lazily loads a Console on first use and tears down abandoned ones

package console

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/convo-console/internal/capture"
	"github.com/2389/convo-console/internal/lifecycle"
	"github.com/2389/convo-console/internal/store"
)

// Defaults for hub housekeeping
const (
	DefaultIdleTimeout     = 30 * time.Minute
	defaultCleanupInterval = time.Minute
)

// HubOptions configures every Console the hub creates
type HubOptions struct {
	TitleMaxLen     int
	Capture         capture.Options
	Lifecycle       lifecycle.Options
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

type hubEntry struct {
	console  *Console
	lastUsed time.Time
}

// Hub owns one Console per tab session
type Hub struct {
	store       *store.ConversationStore
	broadcaster *Broadcaster
	opts        HubOptions
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	consoles map[string]*hubEntry
	closed   bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub and starts its cleanup loop
func NewHub(conversations *store.ConversationStore, opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		store:       conversations,
		broadcaster: NewBroadcaster(opts.Logger),
		opts:        opts,
		logger:      opts.Logger.With("component", "hub"),
		now:         time.Now,
		consoles:    make(map[string]*hubEntry),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go h.cleanupLoop(ctx)
	return h
}

// Get returns the Console for sessionID, loading it on first use
func (h *Hub) Get(ctx context.Context, sessionID string) (*Console, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := h.consoles[sessionID]; ok {
		e.lastUsed = h.now()
		h.mu.Unlock()
		return e.console, nil
	}
	h.mu.Unlock()

	// Load outside the hub lock; another request may race us here
	c := New(ctx, Options{
		SessionID:   sessionID,
		Store:       h.store,
		TitleMaxLen: h.opts.TitleMaxLen,
		Capture:     h.opts.Capture,
		Lifecycle:   h.opts.Lifecycle,
		Publish:     func(f Frame) { h.broadcaster.Publish(sessionID, f) },
		Logger:      h.opts.Logger,
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		c.Teardown()
		return nil, ErrClosed
	}
	if e, ok := h.consoles[sessionID]; ok {
		c.Teardown()
		e.lastUsed = h.now()
		return e.console, nil
	}
	h.consoles[sessionID] = &hubEntry{console: c, lastUsed: h.now()}
	h.logger.Debug("console loaded", "session_id", sessionID)
	return c, nil
}

// Subscribe streams frames for sessionID until ctx is cancelled
func (h *Hub) Subscribe(ctx context.Context, sessionID string) <-chan Frame {
	ch, _ := h.broadcaster.Subscribe(ctx, sessionID)
	return ch
}

// Len returns the number of loaded consoles
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.consoles)
}

func (h *Hub) cleanupLoop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupStale()
		}
	}
}

// cleanupStale tears down consoles idle past the timeout with no live
// subscribers. Their session tier records stay until the tier expires them.
func (h *Hub) cleanupStale() {
	now := h.now()
	var stale []*Console

	h.mu.Lock()
	for sessionID, e := range h.consoles {
		if now.Sub(e.lastUsed) <= h.opts.IdleTimeout || h.broadcaster.Subscribers(sessionID) > 0 {
			continue
		}
		stale = append(stale, e.console)
		delete(h.consoles, sessionID)
		h.logger.Debug("console evicted", "session_id", sessionID)
	}
	h.mu.Unlock()

	for _, c := range stale {
		c.Teardown()
	}
}

// Close stops the cleanup loop, tears down every console and closes all
// subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	consoles := h.consoles
	h.consoles = make(map[string]*hubEntry)
	h.mu.Unlock()

	h.cancel()
	<-h.done
	for _, e := range consoles {
		e.console.Teardown()
	}
	h.broadcaster.Close()
}
