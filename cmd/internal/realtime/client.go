package realtime

import (
	"sync"
	"sync/atomic"

	v1 "picked/shared/contracts/realtime/v1"
)

// Client is one authenticated websocket connection. Only the connection writer
// drains its queue. The queue itself is never closed because hub callbacks can
// still reach a client after it has gone away; Offer checks Done instead.
type Client struct {
	SessionID string
	UserID    string

	queue   chan v1.Envelope
	dropped atomic.Uint64

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewClient(userID, sessionID string, queueSize int) *Client {
	if queueSize < 1 {
		queueSize = wsDefaultSendQueueSize
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		queue:     make(chan v1.Envelope, queueSize),
		stopped:   make(chan struct{}),
	}
}

// Queue is the outbound envelope stream.
func (c *Client) Queue() <-chan v1.Envelope { return c.queue }

func (c *Client) Done() <-chan struct{} { return c.stopped }

func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// Offer enqueues env unless the client is closed or its queue is full.
func (c *Client) Offer(env v1.Envelope) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}
	select {
	case c.queue <- env:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

// Dropped counts envelopes refused because the queue was full.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }
