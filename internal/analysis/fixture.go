package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iago/invoice-pipeline/internal/domain"
)

// FixtureClient serves recorded analysis payloads from <dir>/<documentKey>.json.
// Jobs complete on the first poll. A fixture without jobStatus counts as
// SUCCEEDED.
type FixtureClient struct {
	dir string
}

func NewFixtureClient(dir string) *FixtureClient {
	return &FixtureClient{dir: dir}
}

func (c *FixtureClient) Start(ctx context.Context, document domain.DocumentLocator) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := c.fixturePath(document.Key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("stat fixture for %s: %w", document, err)
	}
	return document.Key, nil
}

func (c *FixtureClient) Poll(ctx context.Context, jobID string) (*domain.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := c.fixturePath(jobID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	if result.Status == "" {
		result.Status = domain.AnalysisStatusSucceeded
	}
	result.JobID = jobID
	return &result, nil
}

func (c *FixtureClient) fixturePath(key string) (string, error) {
	root := filepath.Clean(c.dir)
	path := filepath.Join(root, filepath.FromSlash(key)+".json")
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("fixture key escapes fixtures directory")
	}
	return path, nil
}
