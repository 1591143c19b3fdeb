package liveview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/geeko/internal/clock"
)

// Redis is the subset of the client used for pushes and throttling.
type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
}

func channel(prefix, sessionID string) string {
	return fmt.Sprintf("%s:session:%s", prefix, sessionID)
}

// RedisSink publishes notifications to the session's channel, so every instance can
// forward them to its own connected clients.
type RedisSink struct {
	redis  Redis
	prefix string
}

func NewRedisSink(r Redis, prefix string) *RedisSink {
	return &RedisSink{redis: r, prefix: prefix}
}

func (*RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", n.Event, err)
	}

	return s.redis.Publish(ctx, channel(s.prefix, n.SessionID), b).Err()
}

// RedisThrottle shares the throttle window of a session across instances.
type RedisThrottle struct {
	redis    Redis
	prefix   string
	interval time.Duration
	clock    clock.Clock
}

func NewRedisThrottle(r Redis, prefix string, interval time.Duration, c clock.Clock) *RedisThrottle {
	if interval <= 0 {
		interval = defaultPublishInterval
	}
	if c == nil {
		c = clock.Real()
	}
	return &RedisThrottle{redis: r, prefix: prefix, interval: interval, clock: c}
}

// Allow lets the first push of the window through. The key expires after the interval,
// opening the next window.
func (t *RedisThrottle) Allow(ctx context.Context, sessionID string) (bool, error) {
	ok, err := t.redis.SetNX(ctx, channel(t.prefix, sessionID)+":throttle", t.clock.Now().UnixMilli(), t.interval).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	return ok, nil
}

// Relay forwards notifications published by any instance to a local sink.
type Relay struct {
	redis  Redis
	prefix string
	sink   Sink
}

func NewRelay(r Redis, prefix string, sink Sink) *Relay {
	return &Relay{redis: r, prefix: prefix, sink: sink}
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.redis.PSubscribe(ctx, channel(r.prefix, "*"))
	defer sub.Close()

	// Receive returns once the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.forward(ctx, msg)
		}
	}
}

func (r *Relay) forward(ctx context.Context, msg *redis.Message) {
	var n Notification
	if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
		slog.ErrorContext(ctx, "relay: malformed notification",
			"channel", msg.Channel,
			"error", err,
		)
		return
	}

	if n.SessionID == "" {
		n.SessionID = strings.TrimPrefix(msg.Channel, channel(r.prefix, ""))
	}

	if err := r.sink.Deliver(ctx, n); err != nil {
		slog.ErrorContext(ctx, "relay: deliver failed",
			"session_id", n.SessionID,
			"error", err,
		)
	}
}
