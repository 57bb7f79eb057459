package worker

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iago/invoice-pipeline/internal/domain"
	"github.com/iago/invoice-pipeline/internal/queue"
	"github.com/iago/invoice-pipeline/internal/retry"
)

// JobProcessor handles one decoded invoice job.
type JobProcessor interface {
	Process(ctx context.Context, job domain.InvoiceJob) error
}

type ConsumerConfig struct {
	BatchSize int
	// WaitTime is the long-poll window of a single receive.
	WaitTime time.Duration
	// IdleDelay separates two receive cycles, on top of WaitTime.
	IdleDelay time.Duration
	// Concurrency above 1 processes messages of one batch in parallel.
	Concurrency int
}

// Consumer pulls invoice jobs from a queue and acknowledges the ones that
// were processed. Everything else is left for redelivery.
type Consumer struct {
	receiver  queue.Receiver
	processor JobProcessor
	config    ConsumerConfig
	logger    *log.Logger
	sleep     retry.SleepFunc
}

func NewConsumer(
	receiver queue.Receiver,
	processor JobProcessor,
	cfg ConsumerConfig,
	logger *log.Logger,
) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.WaitTime < 0 {
		cfg.WaitTime = 0
	}
	if cfg.IdleDelay < 0 {
		cfg.IdleDelay = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Consumer{
		receiver:  receiver,
		processor: processor,
		config:    cfg,
		logger:    logger,
		sleep:     retry.Sleep,
	}
}

func (c *Consumer) WithSleep(sleep retry.SleepFunc) *Consumer {
	if sleep != nil {
		c.sleep = sleep
	}
	return c
}

// Start runs receive cycles until ctx is done.
func (c *Consumer) Start(ctx context.Context) {
	if c.logger != nil {
		c.logger.Printf("invoice consumer started batch_size=%d wait=%s concurrency=%d",
			c.config.BatchSize, c.config.WaitTime, c.config.Concurrency)
	}
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := c.PollOnce(ctx); err != nil && ctx.Err() == nil && c.logger != nil {
			c.logger.Printf("invoice consumer receive error: %v", err)
		}

		if err := c.sleep(ctx, c.config.IdleDelay); err != nil {
			return
		}
	}
}

// PollOnce runs a single receive and processes the batch. It returns the
// number of messages received.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	messages, err := c.receiver.Receive(ctx, c.config.BatchSize, c.config.WaitTime)
	if err != nil {
		return 0, err
	}

	if c.config.Concurrency <= 1 || len(messages) <= 1 {
		for _, message := range messages {
			if ctx.Err() != nil {
				break
			}
			c.handleMessage(ctx, message)
		}
		return len(messages), nil
	}

	var group errgroup.Group
	group.SetLimit(c.config.Concurrency)
	for _, message := range messages {
		message := message
		group.Go(func() error {
			c.handleMessage(ctx, message)
			return nil
		})
	}
	_ = group.Wait()
	return len(messages), nil
}

func (c *Consumer) handleMessage(ctx context.Context, message queue.Message) {
	job, err := domain.DecodeInvoiceJob(message.Body)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("malformed invoice job left for redelivery message_id=%s err=%v", message.ID, err)
		}
		return
	}

	if err := c.processor.Process(ctx, job); err != nil {
		if ctx.Err() != nil {
			return
		}
		if c.logger != nil {
			c.logger.Printf("invoice job failed, left for redelivery invoice_id=%d message_id=%s err=%v",
				job.InvoiceID, message.ID, err)
		}
		return
	}

	if err := c.receiver.Delete(ctx, message.ReceiptToken); err != nil && c.logger != nil {
		c.logger.Printf("invoice job ack failed invoice_id=%d message_id=%s err=%v", job.InvoiceID, message.ID, err)
	}
}
