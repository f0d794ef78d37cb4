package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/redis/go-redis/v9"
)

const (
	StatusStream            = "orders:status"
	CompletionRequestStream = "orders:completion-requests"
	DLQStream               = "orders:dlq"
)

// StreamProducer publishes order events to Redis streams.
type StreamProducer struct {
	client *redis.Client
}

func NewStreamProducer(client *redis.Client) *StreamProducer {
	return &StreamProducer{client: client}
}

// StatusChanged publishes an order status change. It satisfies order.Notifier.
func (p *StreamProducer) StatusChanged(ctx context.Context, orderID string, t order.Transition) error {
	args := &redis.XAddArgs{
		Stream: StatusStream,
		Values: map[string]any{
			"order_id":  orderID,
			"from":      string(t.From),
			"to":        string(t.To),
			"note":      t.Note,
			"timestamp": t.At.Unix(),
		},
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish status change: %w", err)
	}
	return nil
}

// RequestCompletion queues a completion request for the worker.
func (p *StreamProducer) RequestCompletion(ctx context.Context, orderID string) error {
	args := &redis.XAddArgs{
		Stream: CompletionRequestStream,
		Values: map[string]any{
			"order_id":  orderID,
			"timestamp": time.Now().Unix(),
		},
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish completion request: %w", err)
	}
	return nil
}

func (p *StreamProducer) PublishToDLQ(ctx context.Context, orderID string, reason string, original map[string]any) error {
	values := map[string]any{
		"order_id":  orderID,
		"reason":    reason,
		"timestamp": time.Now().Unix(),
	}
	for k, v := range original {
		if _, taken := values[k]; !taken {
			values["original_"+k] = v
		}
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{Stream: DLQStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("publish to DLQ: %w", err)
	}
	return nil
}

type StreamConsumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client *redis.Client,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

func (c *StreamConsumer) Stream() string { return c.stream }

func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read from stream: %w", err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

// ClaimPending takes over entries of the group that were delivered but not
// acknowledged for at least minIdle, including this consumer's own.
func (c *StreamConsumer) ClaimPending(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	var claimed []redis.XMessage
	start := "0-0"
	for {
		messages, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  minIdle,
			Start:    start,
			Count:    c.batchSize,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("claim pending messages: %w", err)
		}
		claimed = append(claimed, messages...)
		if next == "" || next == "0-0" {
			return claimed, nil
		}
		start = next
	}
}

func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, messageID).Err(); err != nil {
		return fmt.Errorf("ack message: %w", err)
	}
	return nil
}

// OrderID extracts the order_id field of a stream message.
func OrderID(msg redis.XMessage) (string, bool) {
	id, ok := msg.Values["order_id"].(string)
	return id, ok && id != ""
}
