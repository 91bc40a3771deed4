package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clinic-inbox/internal/logger"

	"github.com/redis/go-redis/v9"
)

const outboundBuffer = 1024

// RedisBridge mirrors a Bus across processes over a Redis pub/sub channel.
type RedisBridge struct {
	bus     *Bus
	rdb     *redis.Client
	channel string
	log     *logger.Logger
}

func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewRedisBridge(bus *Bus, rdb *redis.Client, channel string, log *logger.Logger) *RedisBridge {
	if channel == "" {
		channel = "inbox-events"
	}
	return &RedisBridge{
		bus:     bus,
		rdb:     rdb,
		channel: channel,
		log:     log.With("component", "redis_bridge"),
	}
}

// Start subscribes to the channel and begins forwarding in both directions.
// It returns once the Redis subscription is confirmed; forwarding stops when
// ctx is cancelled.
func (r *RedisBridge) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Event, outboundBuffer)
	r.bus.Forward(func(e Event) {
		select {
		case out <- e:
		default:
			r.log.Warn("redis outbound queue full, dropping event", "table", e.Table, "id", e.ID)
		}
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-out:
				pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				if err := r.publish(pubCtx, e); err != nil {
					r.log.Warn("redis publish failed", "table", e.Table, "id", e.ID, "error", err)
				}
				cancel()
			}
		}
	}()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
					r.log.Warn("bad redis event payload", "error", err)
					continue
				}
				if e.Origin == r.bus.Origin() {
					continue
				}
				r.bus.Deliver(e)
			}
		}
	}()
	return nil
}

func (r *RedisBridge) publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}
