package realtime

import (
	"log/slog"
	"sync"

	"picked/cmd/internal/messaging"
)

// subscription is one onInsert callback with its own bounded queue and delivery goroutine,
// so a slow callback never stalls the conversation.
type subscription struct {
	id     uint64
	fn     func(messaging.Message)
	queue  chan messaging.Message
	done   chan struct{}
	closed sync.Once
}

func newSubscription(id uint64, fn func(messaging.Message), size int) *subscription {
	return &subscription{
		id:    id,
		fn:    fn,
		queue: make(chan messaging.Message, size),
		done:  make(chan struct{}),
	}
}

func (s *subscription) run(log *slog.Logger, conversationID string) {
	for {
		select {
		case <-s.done:
			return
		case m := <-s.queue:
			s.deliver(log, conversationID, m)
		}
	}
}

func (s *subscription) deliver(log *slog.Logger, conversationID string, m messaging.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("realtime.subscriber.panic", "conversation_id", conversationID, "subscription", s.id, "panic", r)
		}
	}()
	s.fn(m)
}

// stop is idempotent. The queue is never closed so concurrent broadcasts cannot panic.
func (s *subscription) stop() {
	s.closed.Do(func() { close(s.done) })
}

// Conversation is the set of subscriptions for one conversation id.
//
// Broadcast never blocks: a full subscriber queue drops the event.
type Conversation struct {
	log *slog.Logger
	ID  string

	mu   sync.RWMutex
	subs map[uint64]*subscription
}

func newConversation(log *slog.Logger, id string) *Conversation {
	return &Conversation{log: log, ID: id, subs: make(map[uint64]*subscription)}
}

func (c *Conversation) join(s *subscription) {
	c.mu.Lock()
	c.subs[s.id] = s
	c.mu.Unlock()
}

// leave removes the subscription, then stops it, and reports how many remain.
func (c *Conversation) leave(id uint64) int {
	c.mu.Lock()
	s := c.subs[id]
	delete(c.subs, id)
	n := len(c.subs)
	c.mu.Unlock()

	if s != nil {
		s.stop()
	}
	return n
}

// Broadcast queues m on every live subscription and returns how many accepted it.
func (c *Conversation) Broadcast(m messaging.Message) (delivered, dropped int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.subs {
		select {
		case <-s.done:
			continue
		default:
		}

		select {
		case s.queue <- m:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// Len returns the number of current subscriptions.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}
