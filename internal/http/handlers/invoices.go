package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iago/invoice-pipeline/internal/domain"
	"github.com/iago/invoice-pipeline/internal/repository"
	"github.com/iago/invoice-pipeline/internal/service"
)

type createInvoiceRequest struct {
	Vendor      string          `json:"vendor"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	InvoiceDate string          `json:"invoiceDate,omitempty"`
	S3Bucket    string          `json:"s3Bucket"`
	DocumentKey string          `json:"documentKey"`
}

func (api *API) Invoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.createInvoice(w, r)
	case http.MethodGet:
		api.listInvoices(w, r)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (api *API) createInvoice(w http.ResponseWriter, r *http.Request) {
	var request createInvoiceRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	invoiceDate, err := parseOptionalDate(request.InvoiceDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invoiceDate must be YYYY-MM-DD or RFC3339")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		if entry, exists := api.idempotency.Get(idempotencyKey); exists {
			if entry.PayloadHash != payloadHash {
				writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
				return
			}
			invoice, err := api.invoicesService.GetInvoice(r.Context(), entry.InvoiceID)
			if err != nil {
				writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load invoice")
				return
			}
			writeAccepted(w, invoice)
			return
		}
	}

	invoice, err := api.invoicesService.CreateInvoice(r.Context(), service.CreateInvoiceInput{
		Vendor:      request.Vendor,
		TotalAmount: request.TotalAmount,
		InvoiceDate: invoiceDate,
		S3Bucket:    request.S3Bucket,
		DocumentKey: request.DocumentKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInvoice):
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, service.ErrEnqueueFailed):
			writeError(w, r, http.StatusBadGateway, "enqueue_failed", "invoice stored but analysis job could not be enqueued")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to create invoice")
		}
		return
	}

	if idempotencyKey != "" {
		api.idempotency.Put(idempotencyKey, payloadHash, invoice.ID)
	}
	writeAccepted(w, invoice)
}

func writeAccepted(w http.ResponseWriter, invoice *domain.Invoice) {
	w.Header().Set("Location", "/v1/invoices/"+strconv.FormatInt(invoice.ID, 10))
	writeJSON(w, http.StatusAccepted, invoice)
}

func (api *API) listInvoices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = 20
	}
	if page > math.MaxInt/maxPageSize {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "page is out of range")
		return
	}

	status := domain.ProcessingStatus(strings.ToUpper(strings.TrimSpace(query.Get("status"))))
	if status != "" && !status.Valid() {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "status must be PENDING, COMPLETED or FAILED")
		return
	}

	items, total, err := api.invoicesService.ListInvoices(r.Context(), domain.InvoiceListFilter{
		Status:   status,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list invoices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"page":      page,
		"page_size": pageSize,
		"total":     total,
		"has_next":  page*pageSize < total,
	})
}

func (api *API) InvoiceByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	rawID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/invoices/"))
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invoice id must be a positive integer")
		return
	}

	invoice, err := api.invoicesService.GetInvoice(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "invoice not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load invoice")
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}
