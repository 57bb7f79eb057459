package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iago/invoice-pipeline/internal/domain"
	"github.com/iago/invoice-pipeline/internal/expense"
	"github.com/iago/invoice-pipeline/internal/repository"
	"github.com/iago/invoice-pipeline/internal/retry"
)

// Analyzer runs document analysis for one invoice job.
type Analyzer interface {
	Run(ctx context.Context, job domain.InvoiceJob) (*domain.AnalysisResult, error)
}

type ProcessorConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// Processor turns one invoice job into a COMPLETED or FAILED invoice.
type Processor struct {
	analyzer Analyzer
	repo     repository.InvoicesRepository
	config   ProcessorConfig
	logger   *log.Logger
	sleep    retry.SleepFunc
}

func NewProcessor(
	analyzer Analyzer,
	repo repository.InvoicesRepository,
	cfg ProcessorConfig,
	logger *log.Logger,
) *Processor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	return &Processor{
		analyzer: analyzer,
		repo:     repo,
		config:   cfg,
		logger:   logger,
		sleep:    retry.Sleep,
	}
}

// WithSleep replaces the delay used between attempts.
func (p *Processor) WithSleep(sleep retry.SleepFunc) *Processor {
	if sleep != nil {
		p.sleep = sleep
	}
	return p
}

// Process runs analysis, parsing and persistence for the job, retrying with
// exponential backoff. A missing invoice is logged and dropped. The error
// returned after the last attempt means the message must not be acknowledged.
func (p *Processor) Process(ctx context.Context, job domain.InvoiceJob) error {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		err := p.processAttempt(ctx, job)
		if err == nil {
			if p.logger != nil {
				p.logger.Printf("invoice job processed invoice_id=%d attempt=%d", job.InvoiceID, attempt)
			}
			return nil
		}
		if errors.Is(err, errInvoiceMissing) {
			if p.logger != nil {
				p.logger.Printf("invoice job dropped, invoice not found invoice_id=%d", job.InvoiceID)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		if attempt == p.config.MaxAttempts {
			break
		}

		delay := retry.Exponential(p.config.BackoffBase, attempt)
		if p.logger != nil {
			p.logger.Printf("invoice job attempt failed invoice_id=%d attempt=%d retry_in=%s err=%v",
				job.InvoiceID, attempt, delay, err)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	p.markFailed(ctx, job, lastErr)
	return fmt.Errorf("process invoice %d after %d attempts: %w", job.InvoiceID, p.config.MaxAttempts, lastErr)
}

var errInvoiceMissing = errors.New("invoice missing")

func (p *Processor) processAttempt(ctx context.Context, job domain.InvoiceJob) error {
	result, err := p.analyzer.Run(ctx, job)
	if err != nil {
		return err
	}
	parsed := expense.ParseExpense(result)

	invoice, err := p.repo.GetInvoice(ctx, job.InvoiceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errInvoiceMissing
		}
		return fmt.Errorf("load invoice %d: %w", job.InvoiceID, err)
	}
	if !invoice.ProcessingStatus.CanTransition(domain.ProcessingStatusCompleted) {
		return fmt.Errorf("%w: invoice %d %s -> %s", domain.ErrInvalidTransition,
			invoice.ID, invoice.ProcessingStatus, domain.ProcessingStatusCompleted)
	}

	invoice.ApplyParsed(parsed, result)
	invoice.ProcessingStatus = domain.ProcessingStatusCompleted
	invoice.FailureReason = ""
	if err := p.repo.SaveInvoice(ctx, invoice); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errInvoiceMissing
		}
		return fmt.Errorf("save invoice %d: %w", job.InvoiceID, err)
	}
	return nil
}

// markFailed is best effort: lookup or save failures are only logged.
func (p *Processor) markFailed(ctx context.Context, job domain.InvoiceJob, cause error) {
	invoice, err := p.repo.GetInvoice(ctx, job.InvoiceID)
	if err != nil {
		if p.logger != nil {
			p.logger.Printf("mark invoice failed skipped invoice_id=%d err=%v", job.InvoiceID, err)
		}
		return
	}
	if !invoice.ProcessingStatus.CanTransition(domain.ProcessingStatusFailed) {
		if p.logger != nil {
			p.logger.Printf("invoice keeps status=%s after failed redelivery invoice_id=%d",
				invoice.ProcessingStatus, job.InvoiceID)
		}
		return
	}

	invoice.ProcessingStatus = domain.ProcessingStatusFailed
	if cause != nil {
		invoice.FailureReason = cause.Error()
	}
	if err := p.repo.SaveInvoice(ctx, invoice); err != nil && p.logger != nil {
		p.logger.Printf("mark invoice failed error invoice_id=%d err=%v", job.InvoiceID, err)
	}
}
