package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const streamBodyField = "body"

type StreamsConfig struct {
	Addr              string
	Password          string
	DB                int
	Stream            string
	DLQStream         string
	Group             string
	Consumer          string
	VisibilityTimeout time.Duration
	MaxDeliveries     int
}

// StreamsQueue implements Queue on a Redis Streams consumer group. Pending
// entries idle longer than the visibility timeout are claimed again, and
// entries delivered MaxDeliveries times are moved to the DLQ stream.
type StreamsQueue struct {
	client        *redis.Client
	stream        string
	dlqStream     string
	group         string
	consumer      string
	visibility    time.Duration
	maxDeliveries int
	logger        *log.Logger
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig, logger *log.Logger) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "invoice_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "invoice_jobs_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "invoice_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := &StreamsQueue{
		client:        client,
		stream:        cfg.Stream,
		dlqStream:     cfg.DLQStream,
		group:         cfg.Group,
		consumer:      cfg.Consumer,
		visibility:    cfg.VisibilityTimeout,
		maxDeliveries: cfg.MaxDeliveries,
		logger:        logger,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Send(ctx context.Context, body []byte) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			streamBodyField: string(body),
			"sent_at":       time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("send to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	if q.maxDeliveries > 0 {
		if err := q.moveExhausted(ctx); err != nil {
			return nil, err
		}
	}

	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.visibility,
		Start:    "0-0",
		Count:    int64(maxMessages),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}

	messages := make([]Message, 0, maxMessages)
	for _, item := range claimed {
		messages = append(messages, toMessage(item))
	}
	if len(messages) >= maxMessages {
		return messages, nil
	}

	block := wait
	if len(messages) > 0 || wait <= 0 {
		block = -1
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(maxMessages - len(messages)),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return messages, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	for _, stream := range streams {
		for _, item := range stream.Messages {
			messages = append(messages, toMessage(item))
		}
	}
	return messages, nil
}

func (q *StreamsQueue) Delete(ctx context.Context, receiptToken string) error {
	return q.ackAndDelete(ctx, receiptToken)
}

// moveExhausted routes pending entries that already hit the delivery cap to
// the DLQ stream before they can be claimed again.
func (q *StreamsQueue) moveExhausted(ctx context.Context) error {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Idle:   q.visibility,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("xpending: %w", err)
	}

	for _, entry := range pending {
		if entry.RetryCount < int64(q.maxDeliveries) {
			continue
		}
		items, err := q.client.XRangeN(ctx, q.stream, entry.ID, entry.ID, 1).Result()
		if err != nil {
			return fmt.Errorf("xrange %s: %w", entry.ID, err)
		}
		for _, item := range items {
			if err := q.sendToDLQ(ctx, item, entry.RetryCount); err != nil {
				return err
			}
		}
		if err := q.ackAndDelete(ctx, entry.ID); err != nil {
			return err
		}
		if q.logger != nil {
			q.logger.Printf("stream queue moved message to DLQ stream_id=%s deliveries=%d", entry.ID, entry.RetryCount)
		}
	}
	return nil
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, item redis.XMessage, deliveries int64) error {
	values := map[string]any{
		"stream_id":  item.ID,
		"body":       string(messageBody(item)),
		"deliveries": deliveries,
		"moved_at":   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func toMessage(item redis.XMessage) Message {
	return Message{
		ID:           item.ID,
		Body:         messageBody(item),
		ReceiptToken: item.ID,
	}
}

// messageBody returns the body field, or nil when it is absent so the
// consumer treats the entry as malformed.
func messageBody(item redis.XMessage) []byte {
	value, ok := item.Values[streamBodyField]
	if !ok {
		return nil
	}
	switch casted := value.(type) {
	case string:
		return []byte(casted)
	case []byte:
		return casted
	default:
		return []byte(fmt.Sprintf("%v", casted))
	}
}
