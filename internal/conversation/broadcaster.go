// ABOUTME: In-memory fan-out broadcaster for engine events
// ABOUTME: Pushes chat activity to UI subscribers without polling

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zapflow/zapflow/internal/store"
)

// Event types published by the engine.
const (
	EventMessage       = "message"
	EventChatCreated   = "chat_created"
	EventStatusChanged = "status_changed"
	EventComposing     = "composing"
)

// Event is a single engine notification. Exactly one of Message/Chat is set
// for message and chat_created events; Status and Composing accompany their
// respective types.
type Event struct {
	Type      string         `json:"type"`
	ChatID    string         `json:"chatId"`
	Message   *store.Message `json:"message,omitempty"`
	Chat      *store.Chat    `json:"chat,omitempty"`
	Status    string         `json:"status,omitempty"`
	Composing bool           `json:"composing,omitempty"`
}

// subscriberBufferSize is the per-subscriber channel buffer.
const subscriberBufferSize = 64

// Broadcaster fans engine events out to all subscribers. The console is a
// single shared inbox, so there is one topic; every subscriber sees every
// event. Sends never block: events are dropped for slow subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for the default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its event channel plus a
// subscription id. The subscription is cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers the event to every subscriber, dropping it for any whose
// buffer is full.
func (b *Broadcaster) Publish(event *Event) {
	b.mu.RLock()
	targets := make([]chan *Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"type", event.Type, "chat_id", event.ChatID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)
	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
