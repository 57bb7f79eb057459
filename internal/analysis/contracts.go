package analysis

import (
	"context"

	"github.com/iago/invoice-pipeline/internal/domain"
)

// Client talks to an asynchronous document-analysis backend.
type Client interface {
	// Start submits the document and returns the backend job id.
	Start(ctx context.Context, document domain.DocumentLocator) (string, error)
	// Poll fetches the job status. Once the status is SUCCEEDED the same
	// value carries the extracted documents.
	Poll(ctx context.Context, jobID string) (*domain.AnalysisResult, error)
}
