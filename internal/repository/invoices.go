package repository

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/iago/invoice-pipeline/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

const defaultPageSize = 20

// InvoicesRepository abstracts invoice persistence and query operations.
type InvoicesRepository interface {
	// CreateInvoice assigns the id and timestamps of a new invoice.
	CreateInvoice(ctx context.Context, invoice *domain.Invoice) error
	// SaveInvoice overwrites a stored invoice, line items included.
	SaveInvoice(ctx context.Context, invoice *domain.Invoice) error
	GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, filter domain.InvoiceListFilter) ([]domain.Invoice, int, error)
}

// MemoryInvoicesRepository stores invoices in memory for local development.
type MemoryInvoicesRepository struct {
	mu       sync.RWMutex
	nextID   int64
	invoices map[int64]*domain.Invoice
}

func NewMemoryInvoicesRepository() *MemoryInvoicesRepository {
	return &MemoryInvoicesRepository{
		invoices: make(map[int64]*domain.Invoice),
	}
}

func (r *MemoryInvoicesRepository) CreateInvoice(_ context.Context, invoice *domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	invoice.ID = r.nextID
	stampCreated(invoice)
	r.invoices[invoice.ID] = cloneInvoice(invoice)
	return nil
}

func (r *MemoryInvoicesRepository) SaveInvoice(_ context.Context, invoice *domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.invoices[invoice.ID]; !ok {
		return ErrNotFound
	}
	invoice.UpdatedAt = time.Now().UTC()
	r.invoices[invoice.ID] = cloneInvoice(invoice)
	return nil
}

func (r *MemoryInvoicesRepository) GetInvoice(_ context.Context, id int64) (*domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	invoice, ok := r.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneInvoice(invoice), nil
}

func (r *MemoryInvoicesRepository) ListInvoices(
	_ context.Context,
	filter domain.InvoiceListFilter,
) ([]domain.Invoice, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]domain.Invoice, 0, len(r.invoices))
	for _, invoice := range r.invoices {
		if filter.Status != "" && invoice.ProcessingStatus != filter.Status {
			continue
		}
		items = append(items, *cloneInvoice(invoice))
	}

	page, total := paginate(items, filter)
	return page, total, nil
}

// paginate orders newest first and cuts the requested page.
func paginate(items []domain.Invoice, filter domain.InvoiceListFilter) ([]domain.Invoice, int) {
	filter = normalizeFilter(filter)

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	start := pageOffset(filter)
	if start < 0 || start >= total {
		return []domain.Invoice{}, total
	}
	end := start + filter.PageSize
	if end > total || end < start {
		end = total
	}
	return items[start:end], total
}

func normalizeFilter(filter domain.InvoiceListFilter) domain.InvoiceListFilter {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPageSize
	}
	return filter
}

// pageOffset returns the row offset of a normalized filter, or -1 when it
// does not fit in an int.
func pageOffset(filter domain.InvoiceListFilter) int {
	if filter.Page-1 > math.MaxInt/filter.PageSize {
		return -1
	}
	return (filter.Page - 1) * filter.PageSize
}

func stampCreated(invoice *domain.Invoice) {
	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now
	if invoice.ProcessingStatus == "" {
		invoice.ProcessingStatus = domain.ProcessingStatusPending
	}
}

// cloneInvoice copies everything a caller may mutate. The raw analysis
// payload is shared; nothing writes to it after it is stored.
func cloneInvoice(invoice *domain.Invoice) *domain.Invoice {
	if invoice == nil {
		return nil
	}
	clone := *invoice
	clone.LineItems = append(make([]domain.LineItem, 0, len(invoice.LineItems)), invoice.LineItems...)
	if invoice.ParsedData != nil {
		parsed := *invoice.ParsedData
		parsed.LineItems = append([]domain.LineItem(nil), invoice.ParsedData.LineItems...)
		if invoice.ParsedData.BillTo != nil {
			billTo := *invoice.ParsedData.BillTo
			parsed.BillTo = &billTo
		}
		clone.ParsedData = &parsed
	}
	return &clone
}
