package notify

import (
	"context"
	"encoding/json"
	"strings"

	redislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
)

const channelPrefix = "planner:changes:"

const originKey = "origin"

// RedisPublisher forwards change signals to other planner instances over redis pub/sub.
type RedisPublisher struct {
	client *redislib.Client
	origin string
	logger *zap.Logger
}

// NewRedisPublisher tags every outgoing change with origin so the sender can skip its own echo.
func NewRedisPublisher(client *redislib.Client, origin string, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, origin: origin, logger: logger}
}

func Channel(scope string) string {
	return channelPrefix + scope
}

func (p *RedisPublisher) Publish(ctx context.Context, change domain.Change) {
	change = stamp(change)
	meta := make(map[string]string, len(change.Metadata)+1)
	for k, v := range change.Metadata {
		meta[k] = v
	}
	meta[originKey] = p.origin
	change.Metadata = meta

	payload, err := json.Marshal(change)
	if err != nil {
		p.logger.Warn("encode change", zap.String("change_id", change.ID), zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, Channel(change.Scope), payload).Err(); err != nil {
		p.logger.Warn("publish change",
			zap.String("scope", change.Scope),
			zap.String("change_id", change.ID),
			zap.Error(err),
		)
	}
}

// Relay copies changes published by other instances onto the local bus.
type Relay struct {
	client *redislib.Client
	bus    Publisher
	origin string
	logger *zap.Logger
}

func NewRelay(client *redislib.Client, bus Publisher, origin string, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{client: client, bus: bus, origin: origin, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return domain.WrapError(domain.ErrCodeTransient, "subscribe change channel", err)
	}
	r.logger.Info("change relay started", zap.String("origin", r.origin))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *Relay) handle(ctx context.Context, msg *redislib.Message) {
	change, ok := r.decode(msg)
	if !ok || change.Metadata[originKey] == r.origin {
		return
	}
	r.bus.Publish(ctx, change)
}

func (r *Relay) decode(msg *redislib.Message) (domain.Change, bool) {
	var change domain.Change
	if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
		r.logger.Warn("drop malformed change", zap.String("channel", msg.Channel), zap.Error(err))
		return domain.Change{}, false
	}
	if change.Scope == "" {
		change.Scope = strings.TrimPrefix(msg.Channel, channelPrefix)
	}
	return change, true
}
