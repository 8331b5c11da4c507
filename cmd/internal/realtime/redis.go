package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"picked/cmd/internal/messaging"
	v1 "picked/shared/contracts/realtime/v1"

	"github.com/redis/go-redis/v9"
)

// RedisChannelPrefix namespaces per-conversation pub/sub channels.
const RedisChannelPrefix = "picked:conv:"

// RedisBridge carries inserts between instances. Publish sends to Redis only; Run feeds
// every received message (including this instance's own) into the local Hub, so each
// subscriber sees a message once.
type RedisBridge struct {
	log     *slog.Logger
	rdb     redis.UniversalClient
	hub     *Hub
	metrics *Metrics

	publishTimeout time.Duration
}

func NewRedisBridge(log *slog.Logger, rdb redis.UniversalClient, hub *Hub, m *Metrics) *RedisBridge {
	if log == nil {
		log = slog.Default()
	}
	return &RedisBridge{log: log, rdb: rdb, hub: hub, metrics: m, publishTimeout: 2 * time.Second}
}

// NewRedisClient dials addr and verifies it with PING.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func channelFor(conversationID string) string {
	return RedisChannelPrefix + conversationID
}

// Publish implements messaging.Publisher.
func (b *RedisBridge) Publish(ctx context.Context, m messaging.Message) error {
	data, err := json.Marshal(WireMessage(m))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, channelFor(m.ConversationID), data).Err(); err != nil {
		b.metrics.bridgeError("publish")
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to every conversation channel and forwards messages to the Hub until ctx ends.
func (b *RedisBridge) Run(ctx context.Context) error {
	ps := b.rdb.PSubscribe(ctx, RedisChannelPrefix+"*")
	defer func() { _ = ps.Close() }()

	// Wait for the subscription confirmation so publishes after Run starts are not missed.
	if _, err := ps.Receive(ctx); err != nil {
		b.metrics.bridgeError("subscribe")
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	b.log.Info("realtime.bridge.subscribed", "pattern", RedisChannelPrefix+"*")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("redis subscription closed")
			}
			b.handle(msg)
		}
	}
}

func (b *RedisBridge) handle(msg *redis.Message) {
	var w v1.Message
	if err := json.Unmarshal([]byte(msg.Payload), &w); err != nil {
		b.metrics.bridgeError("decode")
		b.log.Warn("realtime.bridge.decode.fail", "channel", msg.Channel, "err", err)
		return
	}
	m := FromWire(w)
	if m.ConversationID == "" || strings.TrimPrefix(msg.Channel, RedisChannelPrefix) != m.ConversationID {
		b.metrics.bridgeError("decode")
		b.log.Warn("realtime.bridge.mismatch", "channel", msg.Channel, "conversation_id", m.ConversationID)
		return
	}
	b.hub.Deliver(m)
}
