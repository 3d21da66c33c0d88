package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStream publishes to a Redis stream and consumes it through a consumer
// group, so each service group sees every message and acks independently.
type RedisStream struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	logger   *slog.Logger

	Block    time.Duration
	Count    int64
	MinIdle  time.Duration // pending messages idle longer than this are reclaimed
	MaxLen   int64
	claimGap time.Duration
}

func NewRedisStream(client *redis.Client, stream, group, consumer string) *RedisStream {
	return &RedisStream{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		logger:   slog.Default(),
		Block:    5 * time.Second,
		Count:    16,
		MinIdle:  time.Minute,
		MaxLen:   100000,
		claimGap: 30 * time.Second,
	}
}

func (r *RedisStream) SetLogger(l *slog.Logger) { r.logger = l }

func (r *RedisStream) Publish(ctx context.Context, m Message) error {
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"id":      m.ID,
			"key":     m.Key,
			"type":    m.Type,
			"payload": string(m.Payload),
		},
	}
	if r.MaxLen > 0 {
		args.MaxLen = r.MaxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return nil
}

// EnsureGroup creates the consumer group (and stream) if missing.
func (r *RedisStream) EnsureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s/%s: %w", r.stream, r.group, err)
	}
	return nil
}

func (r *RedisStream) Subscribe(ctx context.Context, h Handler) error {
	if r.group == "" || r.consumer == "" {
		return errors.New("redis stream: group and consumer are required to subscribe")
	}
	if err := r.EnsureGroup(ctx); err != nil {
		return err
	}

	// "0" replays this consumer's own pending entries first, then ">" reads new ones.
	cursor := "0"
	lastClaim := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if time.Since(lastClaim) >= r.claimGap {
			lastClaim = time.Now()
			if err := r.reclaim(ctx, h); err != nil {
				r.logger.WarnContext(ctx, "stream reclaim failed", "stream", r.stream, "err", err)
			}
		}

		res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.stream, cursor},
			Count:    r.Count,
			Block:    r.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.ErrorContext(ctx, "stream read failed", "stream", r.stream, "err", err)
			time.Sleep(time.Second)
			continue
		}

		delivered := 0
		for _, s := range res {
			for _, xm := range s.Messages {
				delivered++
				r.handle(ctx, h, xm)
			}
		}
		if cursor == "0" && delivered == 0 {
			cursor = ">"
		}
	}
}

func (r *RedisStream) reclaim(ctx context.Context, h Handler) error {
	msgs, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   r.stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  r.MinIdle,
		Start:    "0-0",
		Count:    r.Count,
	}).Result()
	if err != nil {
		return err
	}
	for _, xm := range msgs {
		r.handle(ctx, h, xm)
	}
	return nil
}

func (r *RedisStream) handle(ctx context.Context, h Handler, xm redis.XMessage) {
	m := decodeXMessage(xm)
	if err := h(ctx, m); err != nil {
		r.logger.WarnContext(ctx, "stream message not acked", "stream", r.stream, "msg_id", m.ID, "entry", xm.ID, "err", err)
		return
	}
	if err := r.client.XAck(ctx, r.stream, r.group, xm.ID).Err(); err != nil {
		r.logger.ErrorContext(ctx, "stream ack failed", "stream", r.stream, "entry", xm.ID, "err", err)
	}
}

func decodeXMessage(xm redis.XMessage) Message {
	str := func(k string) string {
		if v, ok := xm.Values[k].(string); ok {
			return v
		}
		return ""
	}
	return Message{
		ID:      str("id"),
		Key:     str("key"),
		Type:    str("type"),
		Payload: []byte(str("payload")),
	}
}
