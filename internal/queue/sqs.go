package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// sqsMaxWait is the longest long-poll SQS accepts.
const sqsMaxWait = 20 * time.Second

// SQSAPI is the subset of *sqs.Client used by SQSQueue.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements Queue on an Amazon SQS queue. Redelivery and
// dead-lettering follow the queue's own visibility timeout and redrive policy.
type SQSQueue struct {
	api      SQSAPI
	queueURL string
}

func NewSQSQueue(api SQSAPI, queueURL string) (*SQSQueue, error) {
	if api == nil {
		return nil, errors.New("sqs client is required")
	}
	if queueURL == "" {
		return nil, errors.New("sqs queue url is required")
	}
	return &SQSQueue{api: api, queueURL: queueURL}, nil
}

func (q *SQSQueue) Send(ctx context.Context, body []byte) error {
	_, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send sqs message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	if maxMessages > 10 {
		maxMessages = 10
	}
	if wait > sqsMaxWait {
		wait = sqsMaxWait
	}
	if wait < 0 {
		wait = 0
	}

	output, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("receive sqs messages: %w", err)
	}

	messages := make([]Message, 0, len(output.Messages))
	for _, item := range output.Messages {
		messages = append(messages, Message{
			ID:           aws.ToString(item.MessageId),
			Body:         []byte(aws.ToString(item.Body)),
			ReceiptToken: aws.ToString(item.ReceiptHandle),
		})
	}
	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptToken string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptToken),
	})
	if err != nil {
		return fmt.Errorf("delete sqs message: %w", err)
	}
	return nil
}
