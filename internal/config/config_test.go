package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ANALYSIS_BACKEND", "ANALYSIS_POLL_INTERVAL_MS", "ANALYSIS_MAX_WAIT_MS",
		"CONSUMER_WAIT_SECONDS", "JOB_MAX_ATTEMPTS", "ENQUEUE_MODE", "WORKER_ENABLED",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "fixtures", cfg.AnalysisBackend)
	assert.Equal(t, 5*time.Second, cfg.AnalysisPollInterval)
	assert.Equal(t, 15*time.Minute, cfg.AnalysisMaxWait)
	assert.Equal(t, 20*time.Second, cfg.ConsumerWaitTime)
	assert.Equal(t, 3, cfg.JobMaxAttempts)
	assert.Equal(t, "sync", cfg.EnqueueMode)
	assert.True(t, cfg.WorkerEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ANALYSIS_BACKEND", "Textract")
	t.Setenv("ANALYSIS_POLL_INTERVAL_MS", "250")
	t.Setenv("CONSUMER_WAIT_SECONDS", "3")
	t.Setenv("JOB_MAX_ATTEMPTS", "oops")
	t.Setenv("JOB_BACKOFF_BASE_MS", "-5")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("ANALYSIS_RPS", "2.5")

	cfg := Load()

	assert.Equal(t, "textract", cfg.AnalysisBackend)
	assert.Equal(t, 250*time.Millisecond, cfg.AnalysisPollInterval)
	assert.Equal(t, 3*time.Second, cfg.ConsumerWaitTime)
	assert.Equal(t, 3, cfg.JobMaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.JobBackoffBase)
	assert.False(t, cfg.WorkerEnabled)
	assert.InDelta(t, 2.5, cfg.AnalysisRPS, 0.0001)
}

func TestLoadDotEnvKeepsProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_TEST_A=from-file\nDOTENV_TEST_B=\"quoted value\"\n"), 0o600))

	t.Setenv("DOTENV_TEST_A", "from-process")
	t.Setenv("DOTENV_TEST_B", "")
	require.NoError(t, os.Unsetenv("DOTENV_TEST_B"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), path))

	assert.Equal(t, "from-process", os.Getenv("DOTENV_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("DOTENV_TEST_B"))
}
