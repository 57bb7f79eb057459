package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"golang.org/x/time/rate"

	"github.com/iago/invoice-pipeline/internal/analysis"
	"github.com/iago/invoice-pipeline/internal/config"
	httpserver "github.com/iago/invoice-pipeline/internal/http"
	"github.com/iago/invoice-pipeline/internal/http/handlers"
	"github.com/iago/invoice-pipeline/internal/queue"
	"github.com/iago/invoice-pipeline/internal/repository"
	"github.com/iago/invoice-pipeline/internal/service"
	"github.com/iago/invoice-pipeline/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[invoice-pipeline] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, awsErr := loadAWSConfig(ctx, cfg)

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	jobQueue, queueCloser := setupQueue(ctx, cfg, awsCfg, awsErr, logger)
	defer queueCloser()

	mode := service.ParseEnqueueMode(cfg.EnqueueMode)
	var sender queue.Sender = jobQueue
	if mode == service.EnqueueModeAsync {
		publisher := queue.NewAsyncPublisher(ctx, jobQueue, queue.AsyncConfig{Buffer: cfg.EnqueueBuffer}, logger)
		defer publisher.Close()
		sender = publisher
		logger.Printf("async enqueue enabled buffer=%d", cfg.EnqueueBuffer)
	}

	invoicesService := service.NewInvoicesService(repo, sender, mode, logger)
	api := handlers.NewAPI(invoicesService)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		orchestrator := analysis.NewOrchestrator(
			setupAnalysisClient(cfg, awsCfg, awsErr, logger),
			analysis.OrchestratorConfig{
				PollInterval: cfg.AnalysisPollInterval,
				MaxWait:      cfg.AnalysisMaxWait,
				Limiter:      analysisLimiter(cfg),
			},
			logger,
		)
		processor := worker.NewProcessor(orchestrator, repo, worker.ProcessorConfig{
			MaxAttempts: cfg.JobMaxAttempts,
			BackoffBase: cfg.JobBackoffBase,
		}, logger)
		consumer := worker.NewConsumer(jobQueue, processor, worker.ConsumerConfig{
			BatchSize:   cfg.ConsumerBatchSize,
			WaitTime:    cfg.ConsumerWaitTime,
			IdleDelay:   cfg.ConsumerIdleDelay,
			Concurrency: cfg.ConsumerConcurrency,
		}, logger)
		go consumer.Start(ctx)
		logger.Printf("worker enabled and started concurrency=%d", cfg.ConsumerConcurrency)
	} else {
		logger.Printf("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func loadAWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	if cfg.SQSQueueURL == "" && cfg.AnalysisBackend != "textract" {
		return aws.Config{}, errors.New("aws not required")
	}
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.InvoicesRepository, func()) {
	if cfg.DatabaseURL != "" {
		pgRepo, err := repository.NewPostgresInvoicesRepository(ctx, cfg.DatabaseURL)
		if err == nil {
			err = pgRepo.EnsureSchema(ctx)
			if err != nil {
				pgRepo.Close()
			}
		}
		if err == nil {
			logger.Printf("postgres repository initialized")
			return pgRepo, pgRepo.Close
		}
		logger.Printf("failed to initialize postgres repository, trying fallbacks: %v", err)
	}

	if cfg.BoltPath != "" {
		boltRepo, err := repository.NewBoltInvoicesRepository(cfg.BoltPath)
		if err == nil {
			logger.Printf("bolt repository initialized path=%s", cfg.BoltPath)
			return boltRepo, func() {
				_ = boltRepo.Close()
			}
		}
		logger.Printf("failed to open bolt repository, fallback to memory: %v", err)
	}

	logger.Printf("no durable store configured, using in-memory repository")
	return repository.NewMemoryInvoicesRepository(), func() {}
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	awsCfg aws.Config,
	awsErr error,
	logger *log.Logger,
) (queue.Queue, func()) {
	if cfg.SQSQueueURL != "" {
		if awsErr == nil {
			sqsQueue, err := queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL)
			if err == nil {
				logger.Printf("sqs queue initialized url=%s", cfg.SQSQueueURL)
				return sqsQueue, func() {}
			}
			awsErr = err
		}
		logger.Printf("failed to initialize sqs queue, trying fallbacks: %v", awsErr)
	}

	if cfg.RedisAddr != "" {
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:              cfg.RedisAddr,
			Password:          cfg.RedisPassword,
			DB:                cfg.RedisDB,
			Stream:            cfg.RedisStream,
			DLQStream:         cfg.RedisDLQ,
			Group:             cfg.RedisGroup,
			Consumer:          cfg.RedisConsumer,
			VisibilityTimeout: cfg.QueueVisibilityTimeout,
			MaxDeliveries:     cfg.QueueMaxReceives,
		}, logger)
		if err == nil {
			logger.Printf("redis streams queue initialized stream=%s", cfg.RedisStream)
			return streams, func() {
				_ = streams.Close()
			}
		}
		logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
	}

	logger.Printf("no broker configured, using local queue")
	return queue.NewLocalQueue(queue.LocalConfig{
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		MaxReceives:       cfg.QueueMaxReceives,
	}, logger), func() {}
}

func setupAnalysisClient(cfg config.Config, awsCfg aws.Config, awsErr error, logger *log.Logger) analysis.Client {
	if cfg.AnalysisBackend == "textract" {
		if awsErr == nil {
			logger.Printf("textract analysis client initialized api=%s", cfg.TextractAPI)
			return analysis.NewTextractClient(textract.NewFromConfig(awsCfg), analysis.TextractMode(cfg.TextractAPI))
		}
		logger.Printf("failed to load aws config, fallback to fixtures: %v", awsErr)
	}
	logger.Printf("fixture analysis client dir=%s", cfg.AnalysisFixturesDir)
	return analysis.NewFixtureClient(cfg.AnalysisFixturesDir)
}

func analysisLimiter(cfg config.Config) *rate.Limiter {
	if cfg.AnalysisRPS <= 0 {
		return nil
	}
	burst := cfg.AnalysisBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.AnalysisRPS), burst)
}
