package realtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"picked/cmd/internal/messaging"
)

const defaultSubscriptionQueue = 64

// Hub is the in-process fan-out channel. Every inserted message published to it reaches
// each current subscriber of its conversation at most once, in publish order per subscriber.
// Delivery is best-effort; the message store stays the source of truth.
type Hub struct {
	log       *slog.Logger
	metrics   *Metrics
	queueSize int

	nextID atomic.Uint64

	mu            sync.Mutex
	conversations map[string]*Conversation
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithQueueSize sets the per-subscription buffer.
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithHubMetrics records subscription and drop counts.
func WithHubMetrics(m *Metrics) HubOption { return func(h *Hub) { h.metrics = m } }

func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:           log,
		queueSize:     defaultSubscriptionQueue,
		conversations: make(map[string]*Conversation),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Subscribe registers onInsert for conversationID. The returned function stops delivery
// and is safe to call more than once.
func (h *Hub) Subscribe(conversationID string, onInsert func(messaging.Message)) (unsubscribe func()) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || onInsert == nil {
		return func() {}
	}

	s := newSubscription(h.nextID.Add(1), onInsert, h.queueSize)

	h.mu.Lock()
	c, ok := h.conversations[conversationID]
	if !ok {
		c = newConversation(h.log, conversationID)
		h.conversations[conversationID] = c
	}
	c.join(s)
	h.mu.Unlock()

	go s.run(h.log, conversationID)
	h.metrics.subscribed()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if h.conversations[conversationID] == c && c.leave(s.id) == 0 {
				delete(h.conversations, conversationID)
			}
			h.mu.Unlock()
			h.metrics.unsubscribed()
		})
	}
}

// Publish delivers m to local subscribers. It implements messaging.Publisher.
func (h *Hub) Publish(_ context.Context, m messaging.Message) error {
	h.Deliver(m)
	return nil
}

// Deliver fans m out to the local subscribers of its conversation and returns how many accepted it.
func (h *Hub) Deliver(m messaging.Message) int {
	h.mu.Lock()
	c := h.conversations[m.ConversationID]
	h.mu.Unlock()
	if c == nil {
		return 0
	}

	delivered, dropped := c.Broadcast(m)
	if dropped > 0 {
		h.log.Warn("realtime.fanout.drop", "conversation_id", m.ConversationID, "dropped", dropped)
		h.metrics.dropped(dropped)
	}
	h.metrics.delivered(delivered)
	return delivered
}

// Subscribers returns the number of local subscriptions for conversationID.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.Lock()
	c := h.conversations[conversationID]
	h.mu.Unlock()
	if c == nil {
		return 0
	}
	return c.Len()
}
