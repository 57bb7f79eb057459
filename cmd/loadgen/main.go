package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iago/invoice-pipeline/internal/analysis"
	"github.com/iago/invoice-pipeline/internal/domain"
	httpserver "github.com/iago/invoice-pipeline/internal/http"
	"github.com/iago/invoice-pipeline/internal/http/handlers"
	"github.com/iago/invoice-pipeline/internal/queue"
	"github.com/iago/invoice-pipeline/internal/repository"
	"github.com/iago/invoice-pipeline/internal/service"
	"github.com/iago/invoice-pipeline/internal/worker"
)

const fixtureKey = "loadgen/invoice.pdf"

const fixturePayload = `{"expenseDocuments":[{"summaryFields":[
	{"type":"VENDOR_NAME","value":"Loadgen Supplies"},
	{"type":"TOTAL","value":"$1,234.56"},
	{"type":"INVOICE_RECEIPT_DATE","value":"2024-02-29"}
],"lineItemGroups":[{"lineItems":[{"fields":[
	{"type":"ITEM","value":"Paper"},
	{"type":"QUANTITY","value":"10"},
	{"type":"PRICE","value":"123.456"}
]}]}]}]}`

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type drainResult struct {
	Expected  int     `json:"expected"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Pending   int     `json:"pending"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	Drain          drainResult      `json:"drain"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	repo   repository.InvoicesRepository
	cancel context.CancelFunc
}

func main() {
	createTotal := flag.Int("create-total", 300, "total invoice create requests")
	createConcurrency := flag.Int("create-concurrency", 24, "concurrency for invoice create requests")
	listTotal := flag.Int("list-total", 120, "total invoice list requests")
	listConcurrency := flag.Int("list-concurrency", 16, "concurrency for invoice list requests")
	getTotal := flag.Int("get-total", 200, "total invoice get requests")
	getConcurrency := flag.Int("get-concurrency", 16, "concurrency for invoice get requests")
	workers := flag.Int("worker-concurrency", 4, "messages processed in parallel per batch")
	drainTimeout := flag.Duration("drain-timeout", 30*time.Second, "max time to wait for the worker to settle every invoice")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment(*workers)
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.cancel()
	defer env.server.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	var idCounter int64

	createScenario := runScenario("invoices_create", *createTotal, *createConcurrency, func(index int) error {
		requestID := atomic.AddInt64(&idCounter, 1)
		payload := map[string]any{
			"vendor":      fmt.Sprintf("vendor-%d", index%20),
			"totalAmount": "0",
			"s3Bucket":    "loadgen",
			"documentKey": fixtureKey,
		}
		headers := map[string]string{
			"Idempotency-Key": fmt.Sprintf("invoice-%d-%d", requestID, time.Now().UnixNano()),
		}
		return postJSON(client, env.server.URL+"/v1/invoices", payload, headers, http.StatusAccepted)
	})

	drainStart := time.Now()
	drain := waitForDrain(env.repo, createScenario.Success, *drainTimeout)
	drain.ElapsedMS = round2(float64(time.Since(drainStart).Microseconds()) / 1000.0)

	listScenario := runScenario("invoices_list", *listTotal, *listConcurrency, func(index int) error {
		url := fmt.Sprintf("%s/v1/invoices?status=COMPLETED&page=%d&page_size=20", env.server.URL, (index%6)+1)
		return getJSON(client, url, http.StatusOK)
	})

	getScenario := runScenario("invoices_get", *getTotal, *getConcurrency, func(index int) error {
		id := (index % maxInt(createScenario.Success, 1)) + 1
		return getJSON(client, fmt.Sprintf("%s/v1/invoices/%d", env.server.URL, id), http.StatusOK)
	})

	slo := map[string]bool{
		"create_p95_le_500ms":      createScenario.P95MS <= 500,
		"get_p95_le_200ms":         getScenario.P95MS <= 200,
		"all_invoices_processed":   drain.Completed == drain.Expected,
		"no_invoice_marked_failed": drain.Failed == 0,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        []scenarioResult{createScenario, listScenario, getScenario},
		Drain:          drain,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment(workerConcurrency int) (*benchmarkEnv, error) {
	fixturesDir, err := os.MkdirTemp("", "invoice-loadgen-")
	if err != nil {
		return nil, fmt.Errorf("create fixtures dir: %w", err)
	}
	fixturePath := filepath.Join(fixturesDir, filepath.FromSlash(fixtureKey)+".json")
	if err := os.MkdirAll(filepath.Dir(fixturePath), 0o755); err != nil {
		return nil, fmt.Errorf("create fixture subdir: %w", err)
	}
	if err := os.WriteFile(fixturePath, []byte(fixturePayload), 0o600); err != nil {
		return nil, fmt.Errorf("write fixture: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	repo := repository.NewMemoryInvoicesRepository()
	localQueue := queue.NewLocalQueue(queue.LocalConfig{VisibilityTimeout: time.Minute, MaxReceives: 3}, logger)

	invoicesService := service.NewInvoicesService(repo, localQueue, service.EnqueueModeSync, logger)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            handlers.NewAPI(invoicesService),
		Logger:         logger,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	orchestrator := analysis.NewOrchestrator(analysis.NewFixtureClient(fixturesDir), analysis.OrchestratorConfig{}, logger)
	processor := worker.NewProcessor(orchestrator, repo, worker.ProcessorConfig{BackoffBase: 10 * time.Millisecond}, logger)
	consumer := worker.NewConsumer(localQueue, processor, worker.ConsumerConfig{
		BatchSize:   10,
		WaitTime:    50 * time.Millisecond,
		Concurrency: workerConcurrency,
	}, logger)
	go consumer.Start(ctx)

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server: server,
		repo:   repo,
		cancel: func() {
			cancel()
			_ = os.RemoveAll(fixturesDir)
		},
	}, nil
}

func waitForDrain(repo repository.InvoicesRepository, expected int, timeout time.Duration) drainResult {
	deadline := time.Now().Add(timeout)
	result := drainResult{Expected: expected}
	for {
		result.Completed = countStatus(repo, domain.ProcessingStatusCompleted)
		result.Failed = countStatus(repo, domain.ProcessingStatusFailed)
		result.Pending = countStatus(repo, domain.ProcessingStatusPending)
		if result.Pending == 0 || time.Now().After(deadline) {
			return result
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func countStatus(repo repository.InvoicesRepository, status domain.ProcessingStatus) int {
	_, total, err := repo.ListInvoices(context.Background(), domain.InvoiceListFilter{Status: status, Page: 1, PageSize: 1})
	if err != nil {
		return 0
	}
	return total
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func postJSON(
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
	expectedStatus int,
) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	return doExpect(client, request, expectedStatus)
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	return doExpect(client, request, expectedStatus)
}

func doExpect(client *http.Client, request *http.Request, expectedStatus int) error {
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
