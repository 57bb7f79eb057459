package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iago/invoice-pipeline/internal/domain"
	"github.com/iago/invoice-pipeline/internal/queue"
	"github.com/iago/invoice-pipeline/internal/repository"
)

var (
	ErrInvalidInvoice = errors.New("invalid invoice")
	ErrEnqueueFailed  = errors.New("enqueue invoice job failed")
)

// EnqueueMode selects whether invoice creation waits for the queue.
type EnqueueMode string

const (
	// EnqueueModeSync sends inline and fails the creation when the queue does.
	EnqueueModeSync EnqueueMode = "sync"
	// EnqueueModeAsync hands the job off and only logs queue failures.
	EnqueueModeAsync EnqueueMode = "async"
)

func ParseEnqueueMode(value string) EnqueueMode {
	if strings.EqualFold(strings.TrimSpace(value), string(EnqueueModeAsync)) {
		return EnqueueModeAsync
	}
	return EnqueueModeSync
}

type CreateInvoiceInput struct {
	Vendor      string
	TotalAmount decimal.Decimal
	InvoiceDate time.Time
	S3Bucket    string
	DocumentKey string
}

type InvoicesService struct {
	repo   repository.InvoicesRepository
	sender queue.Sender
	mode   EnqueueMode
	logger *log.Logger
}

func NewInvoicesService(
	repo repository.InvoicesRepository,
	sender queue.Sender,
	mode EnqueueMode,
	logger *log.Logger,
) *InvoicesService {
	if mode != EnqueueModeAsync {
		mode = EnqueueModeSync
	}
	return &InvoicesService{repo: repo, sender: sender, mode: mode, logger: logger}
}

// CreateInvoice stores a PENDING invoice and enqueues its analysis job.
func (s *InvoicesService) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*domain.Invoice, error) {
	bucket := strings.TrimSpace(input.S3Bucket)
	key := strings.TrimSpace(input.DocumentKey)
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: s3Bucket and documentKey are required", ErrInvalidInvoice)
	}
	if input.TotalAmount.IsNegative() {
		return nil, fmt.Errorf("%w: totalAmount must not be negative", ErrInvalidInvoice)
	}

	invoiceDate := input.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = time.Now().UTC()
	}

	invoice := &domain.Invoice{
		Vendor:           strings.TrimSpace(input.Vendor),
		TotalAmount:      input.TotalAmount,
		InvoiceDate:      invoiceDate,
		DocumentBucket:   bucket,
		DocumentKey:      key,
		LineItems:        []domain.LineItem{},
		ProcessingStatus: domain.ProcessingStatusPending,
	}
	if err := s.repo.CreateInvoice(ctx, invoice); err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	body, err := domain.EncodeInvoiceJob(domain.InvoiceJob{
		InvoiceID:   invoice.ID,
		S3Bucket:    bucket,
		DocumentKey: key,
	})
	if err != nil {
		return nil, err
	}

	if err := s.sender.Send(ctx, body); err != nil {
		if s.mode == EnqueueModeAsync {
			if s.logger != nil {
				s.logger.Printf("invoice job not enqueued invoice_id=%d err=%v", invoice.ID, err)
			}
			return invoice, nil
		}

		invoice.ProcessingStatus = domain.ProcessingStatusFailed
		invoice.FailureReason = err.Error()
		if saveErr := s.repo.SaveInvoice(ctx, invoice); saveErr != nil && s.logger != nil {
			s.logger.Printf("mark invoice failed error invoice_id=%d err=%v", invoice.ID, saveErr)
		}
		return nil, fmt.Errorf("%w: invoice_id=%d: %w", ErrEnqueueFailed, invoice.ID, err)
	}

	if s.logger != nil {
		s.logger.Printf("invoice created invoice_id=%d document=s3://%s/%s mode=%s", invoice.ID, bucket, key, s.mode)
	}
	return invoice, nil
}

func (s *InvoicesService) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

func (s *InvoicesService) ListInvoices(
	ctx context.Context,
	filter domain.InvoiceListFilter,
) ([]domain.Invoice, int, error) {
	return s.repo.ListInvoices(ctx, filter)
}
