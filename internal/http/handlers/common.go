package handlers

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/iago/invoice-pipeline/internal/http/middleware"
	"github.com/iago/invoice-pipeline/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

const maxPageSize = 100

type API struct {
	invoicesService *service.InvoicesService
	idempotency     *idempotencyStore
}

func NewAPI(invoicesService *service.InvoicesService) *API {
	return &API{
		invoicesService: invoicesService,
		idempotency:     newIdempotencyStore(24 * time.Hour),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// parseOptionalDate accepts a calendar date or an RFC3339 timestamp.
func parseOptionalDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse("2006-01-02", value); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errInvalidPayload
	}
	return parsed.UTC(), nil
}

type idempotencyEntry struct {
	PayloadHash uint64
	InvoiceID   int64
	CreatedAt   time.Time
}

// idempotencyStore remembers which invoice an Idempotency-Key produced.
// Entries older than ttl are ignored and pruned on write.
type idempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]idempotencyEntry
}

func newIdempotencyStore(ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{
		ttl:     ttl,
		entries: make(map[string]idempotencyEntry),
	}
}

func (s *idempotencyStore) Get(key string) (idempotencyEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if ok && time.Since(entry.CreatedAt) > s.ttl {
		return idempotencyEntry{}, false
	}
	return entry, ok
}

func (s *idempotencyStore) Put(key string, payloadHash uint64, invoiceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for existing, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.ttl {
			delete(s.entries, existing)
		}
	}
	s.entries[key] = idempotencyEntry{
		PayloadHash: payloadHash,
		InvoiceID:   invoiceID,
		CreatedAt:   now,
	}
}

func hashPayload(value any) uint64 {
	payload, _ := json.Marshal(value)
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return hasher.Sum64()
}
