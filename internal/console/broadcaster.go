// ABOUTME: In-memory fan-out of console frames to a tab session's connections
// ABOUTME: Slow subscribers lose their oldest queued frame rather than the newest

package console

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the frame buffer for each subscriber
const subscriberBufferSize = 32

// Broadcaster delivers frames to every subscriber of a session. A state
// frame supersedes older ones, so a full subscriber drops its oldest frame
// to make room.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Frame // sessionID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Frame),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for frames of sessionID. The subscription ends, and
// the channel closes, when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) (<-chan Frame, string) {
	subID := uuid.NewString()
	ch := make(chan Frame, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[sessionID]; !ok {
		b.subscribers[sessionID] = make(map[string]chan Frame)
	}
	b.subscribers[sessionID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "session_id", sessionID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(sessionID, subID)
	}()

	return ch, subID
}

// Publish sends a frame to every subscriber of sessionID without blocking
func (b *Broadcaster) Publish(sessionID string, frame Frame) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[sessionID] {
		select {
		case ch <- frame:
			continue
		default:
		}
		// Full: discard the oldest frame and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- frame:
		default:
			b.logger.Debug("dropped frame for slow subscriber", "session_id", sessionID, "sub_id", subID, "type", frame.Type)
		}
	}
}

// Subscribers returns the number of live subscriptions for sessionID
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[sessionID])
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broadcaster) Unsubscribe(sessionID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[sessionID]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, sessionID)
	}

	b.logger.Debug("subscriber removed", "session_id", sessionID, "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for sessionID, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, sessionID)
	}
}
