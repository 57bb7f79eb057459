package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/iago/invoice-pipeline/internal/domain"
	"github.com/iago/invoice-pipeline/internal/retry"
)

var (
	ErrAnalysisFailed  = errors.New("analysis job failed")
	ErrAnalysisTimeout = errors.New("analysis job did not finish in time")
)

// FailedError reports a job that reached a terminal failure state.
type FailedError struct {
	JobID         string
	InvoiceID     int64
	StatusMessage string
}

func (e *FailedError) Error() string {
	message := fmt.Sprintf("analysis job failed job_id=%s invoice_id=%d", e.JobID, e.InvoiceID)
	if e.StatusMessage != "" {
		message += " status_message=" + e.StatusMessage
	}
	return message
}

func (e *FailedError) Is(target error) bool {
	return target == ErrAnalysisFailed
}

type OrchestratorConfig struct {
	PollInterval time.Duration
	// MaxWait bounds the whole poll loop. Zero disables the bound.
	MaxWait time.Duration
	// Limiter, when set, gates every Start and Poll call.
	Limiter *rate.Limiter
}

// Orchestrator drives one analysis job from submission to a terminal status.
type Orchestrator struct {
	client  Client
	config  OrchestratorConfig
	logger  *log.Logger
	sleep   retry.SleepFunc
	nowFunc func() time.Time
}

func NewOrchestrator(client Client, cfg OrchestratorConfig, logger *log.Logger) *Orchestrator {
	if cfg.PollInterval < 0 {
		cfg.PollInterval = 0
	}
	return &Orchestrator{
		client:  client,
		config:  cfg,
		logger:  logger,
		sleep:   retry.Sleep,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// WithSleep replaces the delay used between polls.
func (o *Orchestrator) WithSleep(sleep retry.SleepFunc) *Orchestrator {
	if sleep != nil {
		o.sleep = sleep
	}
	return o
}

// Run starts analysis of the job's document and blocks until the backend
// reports a terminal status, the wait bound is exceeded or ctx is done.
func (o *Orchestrator) Run(ctx context.Context, job domain.InvoiceJob) (*domain.AnalysisResult, error) {
	document := job.Locator()

	if err := o.throttle(ctx); err != nil {
		return nil, err
	}
	jobID, err := o.client.Start(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("start analysis %s: %w", document, err)
	}

	handle := domain.AnalysisJobHandle{JobID: jobID, Status: domain.AnalysisStatusInProgress}
	if o.logger != nil {
		o.logger.Printf("analysis started invoice_id=%d job_id=%s document=%s", job.InvoiceID, jobID, document)
	}

	startedAt := o.nowFunc()
	for handle.Status == domain.AnalysisStatusInProgress {
		if err := o.sleep(ctx, o.config.PollInterval); err != nil {
			return nil, err
		}
		if err := o.throttle(ctx); err != nil {
			return nil, err
		}

		result, err := o.client.Poll(ctx, handle.JobID)
		if err != nil {
			return nil, fmt.Errorf("poll analysis job %s: %w", handle.JobID, err)
		}
		if result == nil {
			result = &domain.AnalysisResult{Status: domain.AnalysisStatusInProgress}
		}
		if result.Status == "" {
			result.Status = domain.AnalysisStatusInProgress
		}
		handle.Status = result.Status

		switch result.Status {
		case domain.AnalysisStatusSucceeded:
			if result.JobID == "" {
				result.JobID = handle.JobID
			}
			if o.logger != nil {
				o.logger.Printf("analysis succeeded invoice_id=%d job_id=%s", job.InvoiceID, handle.JobID)
			}
			return result, nil
		case domain.AnalysisStatusInProgress:
			waited := o.nowFunc().Sub(startedAt)
			if o.config.MaxWait > 0 && waited >= o.config.MaxWait {
				return nil, fmt.Errorf("%w: job_id=%s invoice_id=%d waited=%s",
					ErrAnalysisTimeout, handle.JobID, job.InvoiceID, waited)
			}
		default:
			return nil, &FailedError{
				JobID:         handle.JobID,
				InvoiceID:     job.InvoiceID,
				StatusMessage: result.StatusMessage,
			}
		}
	}

	return nil, fmt.Errorf("analysis job %s left poll loop with status %s", handle.JobID, handle.Status)
}

func (o *Orchestrator) throttle(ctx context.Context) error {
	if o.config.Limiter == nil {
		return nil
	}
	if err := o.config.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait analysis rate limit: %w", err)
	}
	return nil
}
