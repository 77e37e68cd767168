// ABOUTME: Conversation controller owning one tab session's conversation list
// ABOUTME: Serializes UI operations and captured turns; commits every mutation to both tiers

package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/convo-console/internal/capture"
	"github.com/2389/convo-console/internal/lifecycle"
	"github.com/2389/convo-console/internal/store"
)

// DefaultTitleMaxLen bounds a title derived from the first user message
const DefaultTitleMaxLen = 50

var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrClosed              = errors.New("console closed")
)

// Options configures a Console
type Options struct {
	SessionID   string
	Store       *store.ConversationStore
	TitleMaxLen int
	Capture     capture.Options
	Lifecycle   lifecycle.Options
	// Publish receives frames after each change. It must not call back into
	// the Console.
	Publish func(Frame)
	Logger  *slog.Logger
}

// Console is the authoritative in-memory conversation list of one tab
// session. Every handler runs under one mutex, so UI operations, captured
// turns and lifecycle transitions never interleave. Lock order is console,
// then lifecycle, then extractor.
type Console struct {
	sessionID   string
	store       *store.ConversationStore
	titleMaxLen int
	publish     func(Frame)
	logger      *slog.Logger
	now         func() time.Time

	extractor *capture.Extractor
	life      *lifecycle.Controller

	// Read by the arming goroutine without the console lock
	mounted     atomic.Value
	widgetEpoch atomic.Uint64

	mu            sync.Mutex
	conversations []*store.Conversation
	activeID      string
	closed        bool
	// Set while a signal is being ingested so sink callbacks can persist
	ingestCtx context.Context
	ingestErr error
}

// New loads the session's conversations and activates the widget for the
// resolved active conversation.
func New(ctx context.Context, opts Options) *Console {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "console", "session_id", opts.SessionID)
	if opts.TitleMaxLen <= 0 {
		opts.TitleMaxLen = DefaultTitleMaxLen
	}
	if opts.Publish == nil {
		opts.Publish = func(Frame) {}
	}
	if opts.Capture.Logger == nil {
		opts.Capture.Logger = logger
	}
	if opts.Lifecycle.Logger == nil {
		opts.Lifecycle.Logger = logger
	}

	c := &Console{
		sessionID:   opts.SessionID,
		store:       opts.Store,
		titleMaxLen: opts.TitleMaxLen,
		publish:     opts.Publish,
		logger:      logger,
		now:         time.Now,
	}
	c.mounted.Store("")
	c.extractor = capture.NewExtractor(sink{c}, opts.Capture)
	c.life = lifecycle.New(c, widgetKeys{c}, c.extractor, opts.Lifecycle)

	loaded := c.store.LoadAll(ctx, c.sessionID)
	c.conversations = loaded.Conversations
	c.activeID = loaded.ActiveID
	if c.activeID != "" {
		c.activateLocked(ctx, c.activeID)
	}
	return c
}

// State returns a rendering snapshot
func (c *Console) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Console) stateLocked() State {
	list := make([]*store.Conversation, len(c.conversations))
	for i, conv := range c.conversations {
		list[i] = conv.Clone()
	}
	return State{
		Conversations: list,
		ActiveID:      c.activeID,
		Lifecycle:     c.life.State().String(),
		WidgetEpoch:   c.widgetEpoch.Load(),
	}
}

// Conversation returns a copy of the conversation with id
func (c *Console) Conversation(id string) (*store.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationLocked(id)
}

func (c *Console) conversationLocked(id string) (*store.Conversation, bool) {
	idx := store.Find(c.conversations, id)
	if idx < 0 {
		return nil, false
	}
	return c.conversations[idx].Clone(), true
}

// ActiveID returns the active conversation id, or "" when none
func (c *Console) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// Create starts a new conversation, makes it active and prunes stale
// session snapshots.
func (c *Console) Create(ctx context.Context) (*store.Conversation, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	now := c.now()
	conv := &store.Conversation{
		ID:        store.FreeID(c.conversations, strconv.FormatInt(now.UnixMilli(), 10)),
		Title:     store.DefaultTitle,
		Messages:  []store.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	prev := c.activeID
	c.conversations = store.Apply(c.conversations, store.Mutation{Upsert: conv})
	c.activeID = conv.ID

	loaded, err := c.store.Commit(ctx, c.sessionID, store.Mutation{Upsert: conv, Create: true}, conv.ID)
	c.adoptLocked(ctx, loaded, prev)
	if err == nil {
		err = c.store.PruneSnapshots(ctx, c.sessionID, c.activeID)
	}
	created, _ := c.conversationLocked(c.activeID)
	st := c.stateLocked()
	c.mu.Unlock()

	c.logger.Info("conversation created", "conversation_id", created.ID)
	c.publishState(st)
	if err != nil {
		return created, fmt.Errorf("persisting new conversation: %w", err)
	}
	return created, nil
}

// Select makes id the active conversation. Selecting the already active
// conversation only persists; the widget is not re-created.
func (c *Console) Select(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if store.Find(c.conversations, id) < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}

	prev := c.activeID
	c.activeID = id
	loaded, err := c.store.Commit(ctx, c.sessionID, store.Mutation{}, id)
	c.adoptLocked(ctx, loaded, prev)
	st := c.stateLocked()
	c.mu.Unlock()

	c.logger.Debug("conversation selected", "conversation_id", id, "active_id", st.ActiveID, "switched", st.ActiveID != prev)
	c.publishState(st)
	if err != nil {
		return fmt.Errorf("persisting selection: %w", err)
	}
	return nil
}

// Delete removes a conversation. Deleting the active conversation activates
// the first remaining one, or leaves none active when the list is empty.
func (c *Console) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	idx := store.Find(c.conversations, id)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}

	prev := c.activeID
	c.conversations = store.Apply(c.conversations, store.Mutation{DeleteID: id})
	if prev == id {
		c.activeID = store.ResolveActive(c.conversations, "")
	}

	// The store resolves a deleted active id to the first conversation that
	// remains once other sessions' changes are merged in
	loaded, err := c.store.Commit(ctx, c.sessionID, store.Mutation{DeleteID: id}, prev)
	c.adoptLocked(ctx, loaded, prev)
	st := c.stateLocked()
	c.mu.Unlock()

	c.logger.Info("conversation deleted", "conversation_id", id, "active_id", st.ActiveID)
	c.publishState(st)
	if err != nil {
		return fmt.Errorf("persisting deletion: %w", err)
	}
	return nil
}

// SetReport attaches a generated report to a conversation
func (c *Console) SetReport(ctx context.Context, id, report string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	err := c.updateLocked(ctx, id, func(conv *store.Conversation) {
		conv.Report = report
	})
	st := c.stateLocked()
	c.mu.Unlock()

	if errors.Is(err, ErrUnknownConversation) {
		return err
	}
	c.publishState(st)
	return err
}

// Ingest processes one raw widget signal. A storage failure while recording
// a captured turn is returned; the turn stays in memory.
func (c *Console) Ingest(ctx context.Context, sig capture.Signal) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	before := c.changeMarker()
	c.ingestCtx, c.ingestErr = ctx, nil
	c.extractor.Process(sig)
	err := c.ingestErr
	c.ingestCtx, c.ingestErr = nil, nil
	changed := c.changeMarker() != before
	st := c.stateLocked()
	c.mu.Unlock()

	if changed {
		c.publishState(st)
	}
	return err
}

// changeMarker is a cheap fingerprint of the active conversation used to
// skip publishing when a signal changed nothing.
func (c *Console) changeMarker() string {
	idx := store.Find(c.conversations, c.activeID)
	if idx < 0 {
		return c.life.State().String()
	}
	conv := c.conversations[idx]
	return fmt.Sprintf("%s|%d|%d|%s", c.life.State(), len(conv.Messages), conv.UpdatedAt.UnixNano(), conv.Title)
}

// WidgetPresent reports whether the browser has mounted a widget instance
// keyed by conversationID.
func (c *Console) WidgetPresent(conversationID string) bool {
	mounted, _ := c.mounted.Load().(string)
	return mounted != "" && mounted == conversationID
}

// Teardown stops the lifecycle and rejects further operations
func (c *Console) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.life.Teardown()
	c.logger.Debug("console torn down")
}

// activateLocked re-keys the widget to id. Widget key failures are logged by
// the lifecycle and do not fail the operation.
func (c *Console) activateLocked(ctx context.Context, id string) {
	if err := c.life.Activate(ctx, id); err != nil {
		c.logger.Warn("widget activation incomplete", "conversation_id", id, "error", err)
	}
}

// appendLocked adds a captured turn to the conversation it was attributed to
func (c *Console) appendLocked(ctx context.Context, conversationID string, msg store.Message) error {
	return c.updateLocked(ctx, conversationID, func(conv *store.Conversation) {
		if conv.Title == store.DefaultTitle && msg.Role == store.RoleUser && len(conv.Messages) == 0 {
			conv.Title = truncateRunes(msg.Content, c.titleMaxLen)
		}
		conv.Messages = append(conv.Messages, msg)
	})
}

// markStartedLocked refreshes the active conversation while it still has
// its placeholder title.
func (c *Console) markStartedLocked(ctx context.Context) error {
	idx := store.Find(c.conversations, c.activeID)
	if idx < 0 || c.conversations[idx].Title != store.DefaultTitle {
		return nil
	}
	return c.updateLocked(ctx, c.activeID, func(*store.Conversation) {})
}

// updateLocked applies mutate to a copy of conversation id, swaps the copy
// into a new list, bumps updatedAt and writes the list through.
func (c *Console) updateLocked(ctx context.Context, id string, mutate func(*store.Conversation)) error {
	idx := store.Find(c.conversations, id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}

	conv := c.conversations[idx].Clone()
	mutate(conv)
	conv.UpdatedAt = c.nextUpdatedAt(conv.UpdatedAt)

	prev := c.activeID
	c.conversations = store.Apply(c.conversations, store.Mutation{Upsert: conv})

	loaded, err := c.store.Commit(ctx, c.sessionID, store.Mutation{Upsert: conv}, c.activeID)
	c.adoptLocked(ctx, loaded, prev)
	if err != nil {
		return fmt.Errorf("persisting conversation %s: %w", id, err)
	}
	return nil
}

// adoptLocked replaces the in-memory list with the merged view the store
// committed, which carries other sessions' changes too. The widget is
// re-keyed when the active conversation differs from prev, or torn down when
// none is left. A nil view keeps the local list.
func (c *Console) adoptLocked(ctx context.Context, loaded *store.Loaded, prev string) {
	if loaded != nil {
		c.conversations = loaded.Conversations
		c.activeID = loaded.ActiveID
	}
	if c.activeID == prev {
		return
	}
	if c.activeID == "" {
		c.life.Teardown()
		return
	}
	c.activateLocked(ctx, c.activeID)
}

// nextUpdatedAt returns now, or just after prev when the clock has not
// advanced past it.
func (c *Console) nextUpdatedAt(prev time.Time) time.Time {
	now := c.now()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

func (c *Console) publishState(st State) {
	c.publish(Frame{Type: FrameState, State: &st})
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// sink receives extractor output. The extractor only runs inside Ingest, so
// the console lock is already held.
type sink struct{ c *Console }

func (s sink) EmitTurn(conversationID string, msg store.Message) {
	c := s.c
	ctx := c.ingestCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.appendLocked(ctx, conversationID, msg); err != nil {
		if errors.Is(err, ErrUnknownConversation) {
			c.logger.Warn("dropping turn for unknown conversation", "conversation_id", conversationID)
			return
		}
		c.logger.Error("recording captured turn failed", "conversation_id", conversationID, "error", err)
		c.ingestErr = errors.Join(c.ingestErr, err)
	}
	c.logger.Debug("turn captured", "conversation_id", conversationID, "role", msg.Role, "message_id", msg.ID)

	if conversationID == c.activeID && c.life.TurnObserved() {
		c.startedLocked(ctx)
	}
}

func (s sink) WidgetSignal(conversationID string, event capture.WidgetEvent) {
	c := s.c
	switch event {
	case capture.WidgetMounted:
		c.mounted.Store(conversationID)
	case capture.WidgetLoaded, capture.WidgetOpened:
		if conversationID != c.activeID {
			return
		}
		if c.life.WidgetEvent() {
			ctx := c.ingestCtx
			if ctx == nil {
				ctx = context.Background()
			}
			c.startedLocked(ctx)
		}
	}
}

func (c *Console) startedLocked(ctx context.Context) {
	if err := c.markStartedLocked(ctx); err != nil {
		c.logger.Error("recording conversation start failed", "conversation_id", c.activeID, "error", err)
		c.ingestErr = errors.Join(c.ingestErr, err)
	}
}

// widgetKeys clears the widget's session keys server-side and tells the
// browser to drop its copies. It runs on the arming goroutine too, so it
// must not take the console lock.
type widgetKeys struct{ c *Console }

func (w widgetKeys) ClearWidgetKeys(ctx context.Context) error {
	c := w.c
	err := c.store.ClearWidgetKeys(ctx, c.sessionID)
	epoch := c.widgetEpoch.Add(1)
	c.publish(Frame{
		Type:        FrameWidgetReset,
		WidgetEpoch: epoch,
		WidgetKeys:  store.WidgetSessionKeys,
	})
	return err
}
