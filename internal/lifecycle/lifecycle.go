// ABOUTME: Session lifecycle state machine for the embedded messenger widget
// ABOUTME: Clears widget-owned state on every activation and arms once the widget is present

// Package lifecycle keeps the external messenger widget in step with the
// active conversation. The widget keeps its own session state that this
// system treats as write-only: it is cleared, never read, whenever the active
// conversation changes.
//
// States move Idle -> Armed -> Active. Activate resets to Idle and starts an
// arming goroutine that polls for the widget and falls back to a timeout so
// the controller cannot wedge in Idle.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle state of the active conversation's widget
type State int

const (
	Idle State = iota
	Armed
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Default timings
const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultArmTimeout   = 5 * time.Second
	clearKeysTimeout    = 5 * time.Second
)

// Presence reports whether a widget instance keyed by conversationID is present
type Presence interface {
	WidgetPresent(conversationID string) bool
}

// WidgetKeys clears the widget's own session state
type WidgetKeys interface {
	ClearWidgetKeys(ctx context.Context) error
}

// Activator is told which conversation captured turns belong to. The turn
// extractor implements it and resets its dedupe ledger on every call.
type Activator interface {
	Activate(conversationID string)
}

// Options tunes the arming loop. Zero values select the defaults.
type Options struct {
	PollInterval time.Duration
	ArmTimeout   time.Duration
	Logger       *slog.Logger
}

// Controller runs the lifecycle for one tab session. It is safe for
// concurrent use. Collaborators are called without the controller's lock held.
type Controller struct {
	presence  Presence
	keys      WidgetKeys
	activator Activator

	pollInterval time.Duration
	armTimeout   time.Duration
	logger       *slog.Logger

	mu             sync.Mutex
	state          State
	conversationID string
	generation     uint64
	started        bool
	cancel         context.CancelFunc

	wg sync.WaitGroup
}

// New creates a controller in the Idle state with no conversation
func New(presence Presence, keys WidgetKeys, activator Activator, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ArmTimeout <= 0 {
		opts.ArmTimeout = DefaultArmTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		presence:     presence,
		keys:         keys,
		activator:    activator,
		pollInterval: opts.PollInterval,
		armTimeout:   opts.ArmTimeout,
		logger:       opts.Logger.With("component", "lifecycle"),
	}
}

// Activate switches the widget to conversationID: the extractor is
// re-pointed with a fresh ledger, the state returns to Idle, any arming in
// flight is abandoned and a new arming loop starts. Widget keys are cleared
// before returning; a clearing failure is logged and returned but does not
// stop the activation.
func (c *Controller) Activate(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation
	c.state = Idle
	c.started = false
	c.conversationID = conversationID

	armCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.activator.Activate(conversationID)
	c.wg.Add(1)
	c.mu.Unlock()

	go c.arm(armCtx, gen, conversationID)

	c.logger.Debug("conversation activated", "conversation_id", conversationID, "generation", gen)

	if err := c.keys.ClearWidgetKeys(ctx); err != nil {
		c.logger.Warn("clearing widget keys on activation failed", "conversation_id", conversationID, "error", err)
		return err
	}
	return nil
}

// arm polls widget presence until the widget appears or the timeout elapses
func (c *Controller) arm(ctx context.Context, gen uint64, conversationID string) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(c.armTimeout)
	defer timeout.Stop()

	if c.presence.WidgetPresent(conversationID) {
		c.markArmed(gen, "detected")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.presence.WidgetPresent(conversationID) {
				c.markArmed(gen, "detected")
				return
			}
		case <-timeout.C:
			c.markArmed(gen, "timeout")
			return
		}
	}
}

// markArmed moves Idle to Armed if gen is still current, then clears the
// widget keys once more so the fresh instance starts clean.
func (c *Controller) markArmed(gen uint64, reason string) {
	c.mu.Lock()
	if gen != c.generation || c.state != Idle {
		c.mu.Unlock()
		return
	}
	c.state = Armed
	conversationID := c.conversationID
	c.mu.Unlock()

	c.logger.Debug("widget armed", "conversation_id", conversationID, "reason", reason)

	ctx, cancel := context.WithTimeout(context.Background(), clearKeysTimeout)
	defer cancel()
	if err := c.keys.ClearWidgetKeys(ctx); err != nil {
		c.logger.Warn("clearing widget keys on arming failed", "conversation_id", conversationID, "error", err)
	}
}

// WidgetEvent records a widget "loaded" or "opened" signal. It reports true
// when this call started the conversation, at most once per activation.
func (c *Controller) WidgetEvent() bool {
	return c.activate("widget event")
}

// TurnObserved records a captured turn. A turn arriving while still Idle
// arms immediately. It reports true when this call started the conversation.
func (c *Controller) TurnObserved() bool {
	return c.activate("turn observed")
}

func (c *Controller) activate(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conversationID == "" {
		return false
	}
	if c.state == Idle {
		// Abandon the arming loop; the widget is evidently live.
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		c.generation++
	}
	c.state = Active
	if c.started {
		return false
	}
	c.started = true
	c.logger.Debug("conversation started", "conversation_id", c.conversationID, "reason", reason)
	return true
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConversationID returns the conversation the widget is keyed to
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// Teardown stops any arming loop and waits for it to exit. The controller
// returns to Idle with no conversation and the extractor is detached.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.generation++
	c.state = Idle
	c.started = false
	c.conversationID = ""
	c.activator.Activate("")
	c.mu.Unlock()

	c.wg.Wait()
}
