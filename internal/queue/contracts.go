package queue

import (
	"context"
	"errors"
	"time"
)

var ErrUnknownReceipt = errors.New("unknown or expired receipt token")

// Message is one delivery of a queued body. ReceiptToken identifies this
// delivery and is what Delete expects.
type Message struct {
	ID           string
	Body         []byte
	ReceiptToken string
}

// Sender publishes message bodies.
type Sender interface {
	Send(ctx context.Context, body []byte) error
}

// Receiver pulls messages with long-poll semantics: Receive blocks up to wait
// for at most maxMessages deliveries. Undeleted messages become visible again
// after the backend's visibility timeout.
type Receiver interface {
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, receiptToken string) error
}

type Queue interface {
	Sender
	Receiver
}
