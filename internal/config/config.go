package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port string

	DatabaseURL string
	BoltPath    string

	AWSRegion   string
	SQSQueueURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	QueueVisibilityTimeout time.Duration
	QueueMaxReceives       int

	AnalysisBackend      string
	TextractAPI          string
	AnalysisFixturesDir  string
	AnalysisPollInterval time.Duration
	AnalysisMaxWait      time.Duration
	AnalysisRPS          float64
	AnalysisBurst        int

	ConsumerBatchSize   int
	ConsumerWaitTime    time.Duration
	ConsumerIdleDelay   time.Duration
	ConsumerConcurrency int

	JobMaxAttempts int
	JobBackoffBase time.Duration

	EnqueueMode   string
	EnqueueBuffer int

	RateLimitRPS   float64
	RateLimitBurst int

	WorkerEnabled bool
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		BoltPath:    getEnv("BOLT_PATH", ""),

		AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
		SQSQueueURL: getEnv("SQS_QUEUE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisStream:   getEnv("REDIS_STREAM", "invoice_jobs"),
		RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "invoice_jobs_dlq"),
		RedisGroup:    getEnv("REDIS_GROUP", "invoice_workers"),
		RedisConsumer: getEnv("REDIS_CONSUMER", "api-1"),

		QueueVisibilityTimeout: getEnvDuration("QUEUE_VISIBILITY_TIMEOUT_MS", time.Millisecond, 5*time.Minute),
		QueueMaxReceives:       getEnvInt("QUEUE_MAX_RECEIVES", 5),

		AnalysisBackend:      strings.ToLower(getEnv("ANALYSIS_BACKEND", "fixtures")),
		TextractAPI:          strings.ToLower(getEnv("TEXTRACT_API", "expense")),
		AnalysisFixturesDir:  getEnv("ANALYSIS_FIXTURES_DIR", "fixtures"),
		AnalysisPollInterval: getEnvDuration("ANALYSIS_POLL_INTERVAL_MS", time.Millisecond, 5*time.Second),
		AnalysisMaxWait:      getEnvDuration("ANALYSIS_MAX_WAIT_MS", time.Millisecond, 15*time.Minute),
		AnalysisRPS:          getEnvFloat("ANALYSIS_RPS", 0),
		AnalysisBurst:        getEnvInt("ANALYSIS_BURST", 1),

		ConsumerBatchSize:   getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerWaitTime:    getEnvDuration("CONSUMER_WAIT_SECONDS", time.Second, 20*time.Second),
		ConsumerIdleDelay:   getEnvDuration("CONSUMER_IDLE_MS", time.Millisecond, 5*time.Second),
		ConsumerConcurrency: getEnvInt("CONSUMER_CONCURRENCY", 1),

		JobMaxAttempts: getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobBackoffBase: getEnvDuration("JOB_BACKOFF_BASE_MS", time.Millisecond, 5*time.Second),

		EnqueueMode:   strings.ToLower(getEnv("ENQUEUE_MODE", "sync")),
		EnqueueBuffer: getEnvInt("ENQUEUE_BUFFER", 256),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration reads an integer count of unit. Negative values fall back.
func getEnvDuration(key string, unit, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return time.Duration(parsed) * unit
}
