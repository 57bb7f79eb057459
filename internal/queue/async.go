package queue

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: enqueue buffer is full")
	ErrPublisherClosed   = errors.New("async publisher is closed")
)

type AsyncConfig struct {
	Buffer      int
	Workers     int
	SendTimeout time.Duration
}

// AsyncPublisher hands bodies to a bounded buffer and sends them in the
// background. Send never waits on the backend; send failures are logged.
type AsyncPublisher struct {
	base   Sender
	config AsyncConfig
	logger *log.Logger

	mu        sync.RWMutex
	closed    bool
	in        chan []byte
	stop      chan struct{}
	done      chan struct{}
	workers   sync.WaitGroup
	closeOnce sync.Once
}

func NewAsyncPublisher(parent context.Context, base Sender, cfg AsyncConfig, logger *log.Logger) *AsyncPublisher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	publisher := &AsyncPublisher{
		base:   base,
		config: cfg,
		logger: logger,
		in:     make(chan []byte, cfg.Buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		publisher.workers.Add(1)
		go publisher.run()
	}
	go func() {
		select {
		case <-parent.Done():
			publisher.Close()
		case <-publisher.done:
		}
	}()
	return publisher
}

func (p *AsyncPublisher) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.in <- append([]byte(nil), body...):
		return nil
	default:
		return ErrQueueBackpressure
	}
}

// Close stops accepting bodies and waits until the buffered ones were sent.
func (p *AsyncPublisher) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.stop)
		p.workers.Wait()
		close(p.done)
	})
}

func (p *AsyncPublisher) run() {
	defer p.workers.Done()

	for {
		select {
		case body := <-p.in:
			p.publish(body)
		case <-p.stop:
			for {
				select {
				case body := <-p.in:
					p.publish(body)
				default:
					return
				}
			}
		}
	}
}

func (p *AsyncPublisher) publish(body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.SendTimeout)
	defer cancel()

	if err := p.base.Send(ctx, body); err != nil && p.logger != nil {
		p.logger.Printf("async enqueue failed bytes=%d err=%v", len(body), err)
	}
}
