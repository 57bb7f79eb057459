package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidTransition = errors.New("invalid processing status transition")

type ProcessingStatus string

const (
	ProcessingStatusPending   ProcessingStatus = "PENDING"
	ProcessingStatusCompleted ProcessingStatus = "COMPLETED"
	ProcessingStatusFailed    ProcessingStatus = "FAILED"
)

// CanTransition reports whether the worker may move an invoice from s to next.
// Nothing ever returns to PENDING and a completed invoice is never downgraded.
func (s ProcessingStatus) CanTransition(next ProcessingStatus) bool {
	switch s {
	case ProcessingStatusPending, "":
		return next == ProcessingStatusCompleted || next == ProcessingStatusFailed
	case ProcessingStatusFailed:
		return next == ProcessingStatusCompleted || next == ProcessingStatusFailed
	case ProcessingStatusCompleted:
		return next == ProcessingStatusCompleted
	default:
		return false
	}
}

func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingStatusPending, ProcessingStatusCompleted, ProcessingStatusFailed:
		return true
	default:
		return false
	}
}

// Invoice is the persisted record the pipeline fills in once analysis completes.
type Invoice struct {
	ID               int64            `json:"id"`
	Vendor           string           `json:"vendor"`
	TotalAmount      decimal.Decimal  `json:"totalAmount"`
	InvoiceDate      time.Time        `json:"invoiceDate"`
	DocumentBucket   string           `json:"s3Bucket"`
	DocumentKey      string           `json:"documentKey"`
	LineItems        []LineItem       `json:"lineItems"`
	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	FailureReason    string           `json:"failureReason,omitempty"`
	ParsedData       *ParsedExpense   `json:"parsedData,omitempty"`
	RawAnalysisData  *AnalysisResult  `json:"rawAnalysisData,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ApplyParsed merges a parsed expense into the invoice. Header fields are only
// overwritten by non-default parsed values; line items are replaced wholesale.
func (inv *Invoice) ApplyParsed(parsed ParsedExpense, raw *AnalysisResult) {
	if parsed.Vendor != "" {
		inv.Vendor = parsed.Vendor
	}
	if !parsed.TotalAmount.IsZero() {
		inv.TotalAmount = parsed.TotalAmount
	}
	if parsed.InvoiceDateDetected {
		inv.InvoiceDate = parsed.InvoiceDate
	}
	inv.LineItems = append([]LineItem(nil), parsed.LineItems...)

	stored := parsed
	inv.ParsedData = &stored
	inv.RawAnalysisData = raw
}

// LineItem is one itemized charge of a parsed invoice.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Unit        string          `json:"unit"`
	Price       decimal.Decimal `json:"price"`
}

type BillToAddress struct {
	Name         string `json:"name,omitempty"`
	AddressBlock string `json:"addressBlock,omitempty"`
	Street       string `json:"street,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	ZipCode      string `json:"zipCode,omitempty"`
}

// ParsedExpense is the typed view of an analysis payload. It is always fully
// populated; missing data leaves the zero/default value in place.
type ParsedExpense struct {
	Vendor      string          `json:"vendor"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	InvoiceDate time.Time       `json:"invoiceDate"`
	// InvoiceDateDetected is false when InvoiceDate is the parse-time default.
	InvoiceDateDetected bool           `json:"invoiceDateDetected"`
	LineItems           []LineItem     `json:"lineItems"`
	BillTo              *BillToAddress `json:"billTo,omitempty"`
}

type InvoiceListFilter struct {
	Status   ProcessingStatus
	Page     int
	PageSize int
}
