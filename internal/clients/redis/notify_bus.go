package redis

import (
	"context"
	"encoding/json"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/coursetrail/coursetrail-backend/internal/logger"
	"github.com/coursetrail/coursetrail-backend/internal/sse"
	"github.com/coursetrail/coursetrail-backend/internal/utils"
)

// NotifyBus relays notification messages between instances over redis
// pub/sub so a milestone detected on one instance reaches SSE clients
// connected to another.
type NotifyBus interface {
	Publish(ctx context.Context, msg sse.Message) error
	StartForwarder(ctx context.Context, onMsg func(m sse.Message))
	Close() error
}

type notifyBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewNotifyBus(log *logger.Logger, rdb *goredis.Client) NotifyBus {
	ch := strings.TrimSpace(utils.GetEnv("REDIS_NOTIFY_CHANNEL", "notifications", log))
	return &notifyBus{
		log:     log.With("service", "RedisNotifyBus"),
		rdb:     rdb,
		channel: ch,
	}
}

func (b *notifyBus) Publish(ctx context.Context, msg sse.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *notifyBus) StartForwarder(ctx context.Context, onMsg func(m sse.Message)) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg sse.Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("dropping malformed notify message", "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()
}

func (b *notifyBus) Close() error {
	return b.rdb.Close()
}
