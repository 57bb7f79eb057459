package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type LocalConfig struct {
	VisibilityTimeout time.Duration
	// MaxReceives moves a message to the DLQ instead of delivering it again
	// once it was received this many times. Zero disables the DLQ.
	MaxReceives int
}

type localEntry struct {
	id        string
	body      []byte
	receives  int
	visibleAt time.Time
	receipt   string
}

// LocalQueue is an in-process queue with visibility timeouts, used when no
// external queue is configured.
type LocalQueue struct {
	config LocalConfig
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []*localEntry
	dlq     []Message
	notify  chan struct{}
}

func NewLocalQueue(cfg LocalConfig, logger *log.Logger) *LocalQueue {
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 30 * time.Second
	}
	if cfg.MaxReceives < 0 {
		cfg.MaxReceives = 0
	}
	return &LocalQueue{
		config:  cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make([]*localEntry, 0),
		dlq:     make([]Message, 0),
		notify:  make(chan struct{}, 1),
	}
}

func (q *LocalQueue) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	q.entries = append(q.entries, &localEntry{
		id:   uuid.NewString(),
		body: append([]byte(nil), body...),
	})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *LocalQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := q.now().Add(wait)

	for {
		messages, nextVisible := q.take(maxMessages)
		if len(messages) > 0 {
			return messages, nil
		}

		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			return []Message{}, nil
		}
		if !nextVisible.IsZero() {
			if untilVisible := nextVisible.Sub(q.now()); untilVisible < remaining {
				remaining = untilVisible
			}
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// take hands out visible entries and reports when the next hidden one
// reappears.
func (q *LocalQueue) take(maxMessages int) ([]Message, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	messages := make([]Message, 0, maxMessages)
	kept := q.entries[:0]
	var nextVisible time.Time

	for _, entry := range q.entries {
		if len(messages) >= maxMessages || entry.visibleAt.After(now) {
			if entry.visibleAt.After(now) && (nextVisible.IsZero() || entry.visibleAt.Before(nextVisible)) {
				nextVisible = entry.visibleAt
			}
			kept = append(kept, entry)
			continue
		}

		if q.config.MaxReceives > 0 && entry.receives >= q.config.MaxReceives {
			q.dlq = append(q.dlq, Message{ID: entry.id, Body: entry.body})
			if q.logger != nil {
				q.logger.Printf("local queue moved message to DLQ message_id=%s receives=%d", entry.id, entry.receives)
			}
			continue
		}

		entry.receives++
		entry.receipt = uuid.NewString()
		entry.visibleAt = now.Add(q.config.VisibilityTimeout)
		kept = append(kept, entry)
		messages = append(messages, Message{
			ID:           entry.id,
			Body:         append([]byte(nil), entry.body...),
			ReceiptToken: entry.receipt,
		})
	}

	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
	return messages, nextVisible
}

func (q *LocalQueue) Delete(ctx context.Context, receiptToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for index, entry := range q.entries {
		if entry.receipt != "" && entry.receipt == receiptToken {
			q.entries = append(q.entries[:index], q.entries[index+1:]...)
			return nil
		}
	}
	return ErrUnknownReceipt
}

// Len counts queued messages, visible or in flight.
func (q *LocalQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *LocalQueue) DLQSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlq)
}

func (q *LocalQueue) DLQ() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.dlq...)
}
