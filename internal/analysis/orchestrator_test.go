package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/iago/invoice-pipeline/internal/domain"
)

type scriptedClient struct {
	mu        sync.Mutex
	jobID     string
	startErr  error
	responses []*domain.AnalysisResult
	pollErr   error
	started   []domain.DocumentLocator
	polls     int
}

func (c *scriptedClient) Start(_ context.Context, document domain.DocumentLocator) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, document)
	if c.startErr != nil {
		return "", c.startErr
	}
	return c.jobID, nil
}

func (c *scriptedClient) Poll(_ context.Context, jobID string) (*domain.AnalysisResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.pollErr != nil {
		return nil, c.pollErr
	}
	if len(c.responses) == 0 {
		return &domain.AnalysisResult{JobID: jobID, Status: domain.AnalysisStatusInProgress}, nil
	}
	next := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return next, nil
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestOrchestrator(client Client, cfg OrchestratorConfig) (*Orchestrator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 2, 21, 12, 0, 0, 0, time.UTC)}
	orchestrator := NewOrchestrator(client, cfg, nil).WithSleep(clock.sleep)
	orchestrator.nowFunc = func() time.Time { return clock.now }
	return orchestrator, clock
}

var testJob = domain.InvoiceJob{InvoiceID: 7, S3Bucket: "invoices", DocumentKey: "acme.pdf"}

func TestOrchestratorPollsUntilSucceeded(t *testing.T) {
	client := &scriptedClient{
		jobID: "job-123",
		responses: []*domain.AnalysisResult{
			{Status: domain.AnalysisStatusInProgress},
			{Status: domain.AnalysisStatusInProgress},
			{Status: domain.AnalysisStatusSucceeded, ExpenseDocuments: []domain.ExpenseDocument{{}}},
		},
	}
	orchestrator, clock := newTestOrchestrator(client, OrchestratorConfig{PollInterval: 5 * time.Second})

	result, err := orchestrator.Run(context.Background(), testJob)

	require.NoError(t, err)
	assert.Equal(t, "job-123", result.JobID)
	assert.Len(t, result.ExpenseDocuments, 1)
	assert.Equal(t, 3, client.polls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clock.sleeps)
	require.Len(t, client.started, 1)
	assert.Equal(t, domain.DocumentLocator{Bucket: "invoices", Key: "acme.pdf"}, client.started[0])
}

func TestOrchestratorReportsFailedJob(t *testing.T) {
	client := &scriptedClient{
		jobID: "job-9",
		responses: []*domain.AnalysisResult{
			{Status: domain.AnalysisStatusFailed, StatusMessage: "UNSUPPORTED_DOCUMENT_FORMAT"},
		},
	}
	orchestrator, _ := newTestOrchestrator(client, OrchestratorConfig{PollInterval: time.Second})

	_, err := orchestrator.Run(context.Background(), testJob)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnalysisFailed))
	var failed *FailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "job-9", failed.JobID)
	assert.Equal(t, int64(7), failed.InvoiceID)
	assert.Contains(t, err.Error(), "UNSUPPORTED_DOCUMENT_FORMAT")
}

func TestOrchestratorWrapsStartAndPollErrors(t *testing.T) {
	boom := errors.New("throttled")

	orchestrator, _ := newTestOrchestrator(&scriptedClient{startErr: boom}, OrchestratorConfig{})
	_, err := orchestrator.Run(context.Background(), testJob)
	require.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrAnalysisFailed))

	orchestrator, _ = newTestOrchestrator(&scriptedClient{jobID: "j", pollErr: boom}, OrchestratorConfig{})
	_, err = orchestrator.Run(context.Background(), testJob)
	require.ErrorIs(t, err, boom)
}

func TestOrchestratorStopsAfterMaxWait(t *testing.T) {
	client := &scriptedClient{jobID: "stuck"}
	orchestrator, _ := newTestOrchestrator(client, OrchestratorConfig{
		PollInterval: 5 * time.Second,
		MaxWait:      12 * time.Second,
	})

	_, err := orchestrator.Run(context.Background(), testJob)

	require.ErrorIs(t, err, ErrAnalysisTimeout)
	assert.Equal(t, 3, client.polls)
}

func TestOrchestratorHonorsCancellation(t *testing.T) {
	client := &scriptedClient{jobID: "job"}
	orchestrator := NewOrchestrator(client, OrchestratorConfig{PollInterval: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := orchestrator.Run(ctx, testJob)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, client.polls)
}

func TestOrchestratorWaitsOnLimiter(t *testing.T) {
	client := &scriptedClient{jobID: "job"}
	orchestrator, _ := newTestOrchestrator(client, OrchestratorConfig{
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := orchestrator.Run(ctx, testJob)

	require.Error(t, err)
	assert.Len(t, client.started, 1)
	assert.Equal(t, 0, client.polls)
}

func TestOrchestratorKeepsPollingOnEmptyStatus(t *testing.T) {
	client := &scriptedClient{
		jobID: "job-123",
		responses: []*domain.AnalysisResult{
			{},
			{Status: domain.AnalysisStatusSucceeded},
		},
	}
	orchestrator, _ := newTestOrchestrator(client, OrchestratorConfig{PollInterval: time.Second})

	result, err := orchestrator.Run(context.Background(), testJob)

	require.NoError(t, err)
	assert.Equal(t, domain.AnalysisStatusSucceeded, result.Status)
	assert.Equal(t, 2, client.polls)
}
